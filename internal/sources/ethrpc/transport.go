package ethrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport issues a single JSON-RPC call. Implementations exist for
// HTTP POST endpoints and websocket endpoints.
type Transport interface {
	Call(ctx context.Context, method string, params []any) (json.RawMessage, error)
	Close() error
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// HTTPTransport POSTs JSON-RPC requests to a single endpoint.
type HTTPTransport struct {
	endpoint   string
	httpClient *http.Client

	mu     sync.Mutex
	nextID int64
}

var _ Transport = (*HTTPTransport)(nil)

// NewHTTPTransport creates an HTTP JSON-RPC transport.
func NewHTTPTransport(endpoint string, httpClient *http.Client) *HTTPTransport {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPTransport{endpoint: endpoint, httpClient: httpClient, nextID: 1}
}

// Call implements Transport.
func (t *HTTPTransport) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.mu.Unlock()

	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rpc status %d: %s", resp.StatusCode, string(payload))
	}

	var parsed rpcResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("decode rpc response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", parsed.Error.Code, parsed.Error.Message)
	}
	return parsed.Result, nil
}

// Close implements Transport.
func (t *HTTPTransport) Close() error { return nil }

// WSTransport issues JSON-RPC calls over a single websocket
// connection, dialed lazily on first use. Calls are serialized; the
// connection is re-dialed after a read or write failure.
type WSTransport struct {
	endpoint string
	dialer   *websocket.Dialer

	mu     sync.Mutex
	conn   *websocket.Conn
	nextID int64
}

var _ Transport = (*WSTransport)(nil)

// NewWSTransport creates a websocket JSON-RPC transport.
func NewWSTransport(endpoint string) *WSTransport {
	return &WSTransport{
		endpoint: endpoint,
		dialer:   &websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		nextID:   1,
	}
}

func (t *WSTransport) ensureConn(ctx context.Context) (*websocket.Conn, error) {
	if t.conn != nil {
		return t.conn, nil
	}
	conn, _, err := t.dialer.DialContext(ctx, t.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial websocket %s: %w", t.endpoint, err)
	}
	t.conn = conn
	return conn, nil
}

func (t *WSTransport) dropConn() {
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
}

// Call implements Transport.
func (t *WSTransport) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	conn, err := t.ensureConn(ctx)
	if err != nil {
		return nil, err
	}

	id := t.nextID
	t.nextID++

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
		conn.SetReadDeadline(deadline)
	} else {
		conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	}

	if err := conn.WriteJSON(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		t.dropConn()
		return nil, fmt.Errorf("write rpc request: %w", err)
	}

	// Responses arrive in request order on a serialized connection,
	// but subscription notifications without a matching id may be
	// interleaved and are skipped.
	for {
		var parsed rpcResponse
		if err := conn.ReadJSON(&parsed); err != nil {
			t.dropConn()
			return nil, fmt.Errorf("read rpc response: %w", err)
		}
		if parsed.ID != id {
			continue
		}
		if parsed.Error != nil {
			return nil, fmt.Errorf("rpc error %d: %s", parsed.Error.Code, parsed.Error.Message)
		}
		return parsed.Result, nil
	}
}

// Close implements Transport.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

// NewTransport selects a transport from the endpoint scheme.
func NewTransport(endpoint string, httpClient *http.Client) Transport {
	if strings.HasPrefix(endpoint, "ws://") || strings.HasPrefix(endpoint, "wss://") {
		return NewWSTransport(endpoint)
	}
	return NewHTTPTransport(endpoint, httpClient)
}
