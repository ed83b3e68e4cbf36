// Package export persists processed datasets as CSV with a JSON
// metadata sidecar. Output is deterministic for a given input and
// configuration so re-runs produce byte-identical artifacts.
package export

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"eth-basis-lab/internal/domain"
)

// Result holds the paths and metadata from one export run.
type Result struct {
	CSVPath      string
	MetadataPath string
	Metadata     Metadata
}

// Metadata is the JSON sidecar describing one exported dataset.
type Metadata struct {
	DatasetName string         `json:"dataset_name"`
	Window      Window         `json:"window"`
	RowCount    int            `json:"row_count"`
	ColumnCount int            `json:"column_count"`
	Columns     []string       `json:"columns"`
	NullCounts  map[string]int `json:"null_counts"`
	ConfigHash  string         `json:"config_hash"`
	Config      map[string]any `json:"config"`
	CSVFile     string         `json:"csv_file"`
	CSVSHA256   string         `json:"csv_sha256"`
}

// Window is the dataset's UTC time window.
type Window struct {
	StartTimeUTC string `json:"start_time_utc"`
	EndTimeUTC   string `json:"end_time_utc"`
}

// ConfigHash hashes a configuration map over its canonical JSON form
// (sorted keys, no insignificant whitespace).
func ConfigHash(config map[string]any) (string, error) {
	// encoding/json emits map keys in sorted order, which is exactly
	// the canonical form needed for a stable hash.
	canonical, err := json.Marshal(config)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	digest := sha256.Sum256(canonical)
	return hex.EncodeToString(digest[:]), nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	digest := sha256.New()
	if _, err := io.Copy(digest, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}

func safeSlug(value string) string {
	replacer := strings.NewReplacer(":", "", "-", "", " ", "_", "+", "")
	return replacer.Replace(value)
}

// columnSet returns the sorted union of keys across all records.
func columnSet(records []domain.Record) []string {
	seen := make(map[string]struct{})
	for _, row := range records {
		for key := range row {
			seen[key] = struct{}{}
		}
	}
	columns := make([]string, 0, len(seen))
	for key := range seen {
		columns = append(columns, key)
	}
	sort.Strings(columns)
	return columns
}

func nullCounts(records []domain.Record, columns []string) map[string]int {
	counts := make(map[string]int, len(columns))
	for _, column := range columns {
		counts[column] = 0
	}
	for _, row := range records {
		for _, column := range columns {
			if value, ok := row[column]; !ok || value == nil {
				counts[column]++
			}
		}
	}
	return counts
}

func formatCell(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		if strings.ContainsAny(v, ",\"\n") {
			return `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
		}
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Records writes the dataset CSV and its metadata sidecar under
// outputDir, naming both by dataset name, window, and config hash.
func Records(
	records []domain.Record,
	outputDir string,
	datasetName string,
	startTimeUTC, endTimeUTC time.Time,
	config map[string]any,
) (*Result, error) {
	if config == nil {
		config = map[string]any{}
	}
	configHash, err := ConfigHash(config)
	if err != nil {
		return nil, err
	}

	startISO := domain.FormatUTC(startTimeUTC)
	endISO := domain.FormatUTC(endTimeUTC)
	prefix := fmt.Sprintf("%s_%s_%s_%s",
		datasetName, safeSlug(startISO), safeSlug(endISO), configHash[:12])

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	csvPath := filepath.Join(outputDir, prefix+".csv")
	metadataPath := filepath.Join(outputDir, prefix+".metadata.json")

	columns := columnSet(records)

	var sb strings.Builder
	sb.WriteString(strings.Join(columns, ","))
	sb.WriteByte('\n')
	for _, row := range records {
		for i, column := range columns {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(formatCell(row[column]))
		}
		sb.WriteByte('\n')
	}
	if err := os.WriteFile(csvPath, []byte(sb.String()), 0o644); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}

	csvHash, err := fileSHA256(csvPath)
	if err != nil {
		return nil, fmt.Errorf("hash csv: %w", err)
	}

	metadata := Metadata{
		DatasetName: datasetName,
		Window:      Window{StartTimeUTC: startISO, EndTimeUTC: endISO},
		RowCount:    len(records),
		ColumnCount: len(columns),
		Columns:     columns,
		NullCounts:  nullCounts(records, columns),
		ConfigHash:  configHash,
		Config:      config,
		CSVFile:     csvPath,
		CSVSHA256:   csvHash,
	}

	payload, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	if err := os.WriteFile(metadataPath, payload, 0o644); err != nil {
		return nil, fmt.Errorf("write metadata: %w", err)
	}

	return &Result{
		CSVPath:      csvPath,
		MetadataPath: metadataPath,
		Metadata:     metadata,
	}, nil
}
