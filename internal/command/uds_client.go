package command

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"firestige.xyz/meshnode/internal/core"
)

// UDSClient is a JSON-RPC client over Unix Domain Socket.
type UDSClient struct {
	socketPath string
	timeout    time.Duration
}

// NewUDSClient creates a new UDS client.
func NewUDSClient(socketPath string, timeout time.Duration) *UDSClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &UDSClient{
		socketPath: socketPath,
		timeout:    timeout,
	}
}

// Call sends a command and waits for response.
func (c *UDSClient) Call(ctx context.Context, method string, params interface{}) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: socket %s: %v", core.ErrDaemonNotRunning, c.socketPath, err)
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

	encoder := json.NewEncoder(conn)
	if err := encoder.Encode(req); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		return nil, fmt.Errorf("connection closed without response")
	}

	var jsonrpcResp JSONRPCResponse
	if err := json.Unmarshal(scanner.Bytes(), &jsonrpcResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	respIDStr := fmt.Sprintf("%v", jsonrpcResp.ID)
	if respIDStr != reqID {
		return nil, fmt.Errorf("response ID mismatch: expected %v, got %v", reqID, respIDStr)
	}

	resp := &Response{
		ID:     respIDStr,
		Result: jsonrpcResp.Result,
		Error:  jsonrpcResp.Error,
	}

	return resp, nil
}

// WorkloadAdd is a convenience method for the workload_add command.
func (c *UDSClient) WorkloadAdd(ctx context.Context, params WorkloadParams) (*Response, error) {
	return c.Call(ctx, "workload_add", params)
}

// WorkloadDel is a convenience method for the workload_del command.
func (c *UDSClient) WorkloadDel(ctx context.Context, ifindex uint32) (*Response, error) {
	return c.Call(ctx, "workload_del", WorkloadDelParams{Ifindex: ifindex})
}

// AgentSet is a convenience method for the agent_set command.
func (c *UDSClient) AgentSet(ctx context.Context, params AgentParams) (*Response, error) {
	return c.Call(ctx, "agent_set", params)
}

// AgentClear is a convenience method for the agent_clear command.
func (c *UDSClient) AgentClear(ctx context.Context, params AgentParams) (*Response, error) {
	return c.Call(ctx, "agent_clear", params)
}

// HostAdd is a convenience method for the host_add command.
func (c *UDSClient) HostAdd(ctx context.Context, addr string) (*Response, error) {
	return c.Call(ctx, "host_add", HostParams{Addr: addr})
}

// Classify is a convenience method for the classify command.
func (c *UDSClient) Classify(ctx context.Context, params ClassifyParams) (*Response, error) {
	return c.Call(ctx, "classify", params)
}

// Status is a convenience method for the daemon_status command.
func (c *UDSClient) Status(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "daemon_status", nil)
}

// Shutdown is a convenience method for the daemon_shutdown command.
func (c *UDSClient) Shutdown(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "daemon_shutdown", nil)
}

// Ping checks whether the daemon is reachable.
func (c *UDSClient) Ping(ctx context.Context) error {
	_, err := c.Status(ctx)
	return err
}
