package command

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// UDSClient is a JSON-RPC client over Unix Domain Socket.
type UDSClient struct {
	socketPath string
	timeout    time.Duration
}

// NewUDSClient creates a new UDS client.
func NewUDSClient(socketPath string, timeout time.Duration) *UDSClient {
	if timeout == 0 {
		timeout = 10 * time.Second // Default timeout
	}
	return &UDSClient{
		socketPath: socketPath,
		timeout:    timeout,
	}
}

// RawResponse is a response whose result is still undecoded.
type RawResponse struct {
	ID     string
	Result json.RawMessage
	Error  *ErrorInfo
}

// Decode unmarshals the result into v, or returns the remote error.
func (r *RawResponse) Decode(v interface{}) error {
	if r.Error != nil {
		return r.Error
	}
	if v == nil || len(r.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Result, v); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}
	return nil
}

type rawJSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorInfo      `json:"error,omitempty"`
}

// Call sends a command and waits for response.
func (c *UDSClient) Call(ctx context.Context, method string, params interface{}) (*RawResponse, error) {
	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to socket %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	conn.SetDeadline(deadline)

	var paramsJSON json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		paramsJSON = data
	}

	reqID := fmt.Sprintf("req-%d", time.Now().UnixNano())
	req := JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  paramsJSON,
		ID:      reqID,
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		return nil, fmt.Errorf("connection closed without response")
	}

	var jsonrpcResp rawJSONRPCResponse
	if err := json.Unmarshal(scanner.Bytes(), &jsonrpcResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	respID := fmt.Sprintf("%v", jsonrpcResp.ID)
	if respID != reqID {
		return nil, fmt.Errorf("response ID mismatch: expected %v, got %v", reqID, respID)
	}

	return &RawResponse{
		ID:     respID,
		Result: jsonrpcResp.Result,
		Error:  jsonrpcResp.Error,
	}, nil
}

func (c *UDSClient) call(ctx context.Context, method string, params, result interface{}) error {
	resp, err := c.Call(ctx, method, params)
	if err != nil {
		return err
	}
	return resp.Decode(result)
}

// Ping checks that the daemon is alive.
func (c *UDSClient) Ping(ctx context.Context) error {
	return c.call(ctx, MethodPing, nil, nil)
}

// SwitchStatus is a convenience method for switch_status.
func (c *UDSClient) SwitchStatus(ctx context.Context) (*StatusResult, error) {
	var result StatusResult
	if err := c.call(ctx, MethodSwitchStatus, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SessionList is a convenience method for session_list.
func (c *UDSClient) SessionList(ctx context.Context) (*SessionListResult, error) {
	var result SessionListResult
	if err := c.call(ctx, MethodSessionList, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SessionKick is a convenience method for session_kick.
func (c *UDSClient) SessionKick(ctx context.Context, mac string) error {
	return c.call(ctx, MethodSessionKick, KickParams{MAC: mac}, nil)
}

// ConfigReload is a convenience method for config_reload.
func (c *UDSClient) ConfigReload(ctx context.Context) error {
	return c.call(ctx, MethodConfigReload, nil, nil)
}

// Shutdown asks the daemon to stop gracefully.
func (c *UDSClient) Shutdown(ctx context.Context) error {
	return c.call(ctx, MethodDaemonShutdown, nil, nil)
}
