package features

import (
	"math"
	"testing"

	"eth-basis-lab/internal/domain"
)

func f64(record domain.Record, key string, t *testing.T) float64 {
	t.Helper()
	v, ok := record[key].(float64)
	if !ok {
		t.Fatalf("%s: expected float64, got %T (%v)", key, record[key], record[key])
	}
	return v
}

func TestBuildDatasetRows_BasisBandViolation(t *testing.T) {
	rows := []domain.Record{
		{
			domain.KeyMinuteUTC:     "2024-01-01T00:00:00Z",
			domain.KeyCoinbaseClose: 2000.0,
			domain.KeyUniswap5Price: 2004.0,
			domain.KeyGasBaseFeeWei: 20_000_000_000.0,
		},
	}

	out := BuildDatasetRows(rows, DefaultOptions())
	if len(out) != 1 {
		t.Fatalf("Expected 1 row, got %d", len(out))
	}
	row := out[0]

	// basis = (2004-2000)/2000 * 1e4 = 20 bps
	if got := f64(row, "basis_5_bps", t); math.Abs(got-20.0) > 1e-9 {
		t.Errorf("basis_5_bps: got %f, want 20.0", got)
	}
	// band = 5 + 20 gwei * 0.02 = 5.4 bps
	if got := f64(row, "implied_band_5_bps", t); math.Abs(got-5.4) > 1e-9 {
		t.Errorf("implied_band_5_bps: got %f, want 5.4", got)
	}
	if row["violation_5"] != true {
		t.Error("violation_5: expected true")
	}
	// magnitude = 20 - 5.4 = 14.6 bps
	if got := f64(row, "violation_5_mag_bps", t); math.Abs(got-14.6) > 1e-9 {
		t.Errorf("violation_5_mag_bps: got %f, want 14.6", got)
	}

	// No 30 bps price: basis nil, band still computed from fee tier + gas.
	if row["basis_30_bps"] != nil {
		t.Errorf("basis_30_bps: got %v, want nil", row["basis_30_bps"])
	}
	if got := f64(row, "implied_band_30_bps", t); math.Abs(got-30.4) > 1e-9 {
		t.Errorf("implied_band_30_bps: got %f, want 30.4", got)
	}
	if row["violation_30"] != false {
		t.Error("violation_30: expected false for nil basis")
	}
}

func TestBuildDatasetRows_WedgeColumns(t *testing.T) {
	rows := []domain.Record{
		{
			domain.KeyMinuteUTC:      "2024-01-01T00:00:00Z",
			domain.KeyCoinbaseClose:  2000.0,
			domain.KeyUniswap5Price:  2004.0,
			domain.KeyUniswap30Price: 1990.0,
		},
	}

	out := BuildDatasetRows(rows, DefaultOptions())
	row := out[0]

	if got := f64(row, "wedge_5_price_diff", t); math.Abs(got-4.0) > 1e-9 {
		t.Errorf("wedge_5_price_diff: got %f, want 4.0", got)
	}
	if got := f64(row, "wedge_30_price_diff", t); math.Abs(got-(-10.0)) > 1e-9 {
		t.Errorf("wedge_30_price_diff: got %f, want -10.0", got)
	}

	// wedge bps = 1e4 * (ln dex - ln cex), distinct from the arithmetic basis.
	want5 := 10_000.0 * (math.Log(2004.0) - math.Log(2000.0))
	if got := f64(row, "wedge_5_bps", t); math.Abs(got-want5) > 1e-9 {
		t.Errorf("wedge_5_bps: got %f, want %f", got, want5)
	}
	want30 := 10_000.0 * (math.Log(1990.0) - math.Log(2000.0))
	if got := f64(row, "wedge_30_bps", t); math.Abs(got-want30) > 1e-9 {
		t.Errorf("wedge_30_bps: got %f, want %f", got, want30)
	}
	basis5 := f64(row, "basis_5_bps", t)
	if math.Abs(f64(row, "wedge_5_bps", t)-basis5) < 1e-12 {
		t.Error("wedge_5_bps should differ from the arithmetic basis")
	}
}

func TestBuildDatasetRows_WedgeNilWhenLegMissing(t *testing.T) {
	rows := []domain.Record{
		{
			domain.KeyMinuteUTC:     "2024-01-01T00:00:00Z",
			domain.KeyUniswap5Price: 2004.0,
		},
	}

	row := BuildDatasetRows(rows, DefaultOptions())[0]

	for _, key := range []string{"wedge_5_price_diff", "wedge_5_bps", "wedge_30_price_diff", "wedge_30_bps"} {
		if row[key] != nil {
			t.Errorf("%s: got %v, want nil without a CEX price", key, row[key])
		}
	}
}

func TestBuildDatasetRows_LogReturnsAndGas(t *testing.T) {
	rows := []domain.Record{
		{
			domain.KeyMinuteUTC:     "2024-01-01T00:00:00Z",
			domain.KeyCoinbaseClose: 2000.0,
			domain.KeyGasBaseFeeWei: 25_000_000_000.0,
		},
		{
			domain.KeyMinuteUTC:     "2024-01-01T00:01:00Z",
			domain.KeyCoinbaseClose: 2020.0,
		},
	}

	out := BuildDatasetRows(rows, DefaultOptions())

	if out[0]["coinbase_log_return"] != nil {
		t.Errorf("First row log return: got %v, want nil", out[0]["coinbase_log_return"])
	}
	if got := f64(out[0], "coinbase_log_price", t); math.Abs(got-math.Log(2000.0)) > 1e-12 {
		t.Errorf("coinbase_log_price: got %f", got)
	}
	if got := f64(out[1], "coinbase_log_return", t); math.Abs(got-math.Log(2020.0/2000.0)) > 1e-12 {
		t.Errorf("coinbase_log_return: got %f", got)
	}

	// gas_base_fee_gwei = 25e9 / 1e9 = 25
	if got := f64(out[0], "gas_base_fee_gwei", t); math.Abs(got-25.0) > 1e-9 {
		t.Errorf("gas_base_fee_gwei: got %f", got)
	}
	// gas_usd = 200000 * 25e9/1e18 * 2000 = 10
	if got := f64(out[0], "gas_usd", t); math.Abs(got-10.0) > 1e-9 {
		t.Errorf("gas_usd: got %f", got)
	}
	// Second row has no gas data.
	if out[1]["gas_usd"] != nil {
		t.Errorf("gas_usd: got %v, want nil", out[1]["gas_usd"])
	}
	if out[1]["implied_band_5_bps"] != 5.0 {
		t.Errorf("implied_band_5_bps without gas: got %v, want 5.0", out[1]["implied_band_5_bps"])
	}
}

func TestBuildDatasetRows_RealizedVolNilUntilWindowFull(t *testing.T) {
	opts := DefaultOptions()
	opts.RealizedVolWindow = 3

	rows := make([]domain.Record, 6)
	prices := []float64{2000, 2002, 1999, 2003, 2001, 2004}
	for i := range rows {
		rows[i] = domain.Record{
			domain.KeyMinuteUTC:     "2024-01-01T00:00:00Z",
			domain.KeyCoinbaseClose: prices[i],
		}
	}

	out := BuildDatasetRows(rows, opts)

	for i := 0; i < 3; i++ {
		if out[i]["realized_vol_annualized"] != nil {
			t.Errorf("Row %d: realized vol should be nil before the window fills", i)
		}
	}
	for i := 3; i < 6; i++ {
		v, ok := out[i]["realized_vol_annualized"].(float64)
		if !ok {
			t.Fatalf("Row %d: realized vol missing", i)
		}
		if v <= 0 {
			t.Errorf("Row %d: realized vol should be positive, got %f", i, v)
		}
	}
}

func TestBuildDatasetRows_RealizedVolScaling(t *testing.T) {
	opts := DefaultOptions()
	opts.RealizedVolWindow = 2
	opts.AnnualizationMinutes = 4

	// Alternating returns +r, -r: population stddev of the window is r.
	rows := []domain.Record{
		{domain.KeyMinuteUTC: "2024-01-01T00:00:00Z", domain.KeyCoinbaseClose: 100.0},
		{domain.KeyMinuteUTC: "2024-01-01T00:01:00Z", domain.KeyCoinbaseClose: 110.0},
		{domain.KeyMinuteUTC: "2024-01-01T00:02:00Z", domain.KeyCoinbaseClose: 100.0},
	}

	out := BuildDatasetRows(rows, opts)

	r := math.Log(110.0 / 100.0)
	want := r * math.Sqrt(4)
	got, ok := out[2]["realized_vol_annualized"].(float64)
	if !ok {
		t.Fatal("realized vol missing")
	}
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("realized_vol_annualized: got %g, want %g", got, want)
	}
}

func TestBuildDatasetRows_DoesNotMutateInput(t *testing.T) {
	rows := []domain.Record{
		{domain.KeyMinuteUTC: "2024-01-01T00:00:00Z", domain.KeyCoinbaseClose: 2000.0},
	}

	BuildDatasetRows(rows, DefaultOptions())

	if len(rows[0]) != 2 {
		t.Errorf("Input record mutated: %v", rows[0])
	}
}
