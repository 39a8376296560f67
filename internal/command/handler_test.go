package command

import (
	"context"
	"encoding/json"
	"net/netip"
	"testing"

	"firestige.xyz/meshnode/internal/core"
	"firestige.xyz/meshnode/internal/engine"
	"firestige.xyz/meshnode/internal/identity"
)

func newTestHandler() (*CommandHandler, *identity.Registry) {
	reg := identity.NewRegistry(nil)
	eng := engine.New(engine.Options{EnableIPv4: true, EnableIPv6: true, DNSCapture: true}, reg)
	return NewCommandHandler(reg, eng, nil, "test-node"), reg
}

func TestCommandHandler_HandleWorkloadAdd(t *testing.T) {
	handler, reg := newTestHandler()

	params, _ := json.Marshal(WorkloadParams{Ifindex: 7, MAC: "aa:bb:cc:dd:ee:01"})
	cmd := Command{Method: "workload_add", Params: params, ID: "req-1"}

	resp := handler.Handle(context.Background(), cmd)

	if resp.ID != "req-1" {
		t.Errorf("response ID = %s, want req-1", resp.ID)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error.Message)
	}

	id := reg.Resolve(7)
	if id.Kind != core.IdentityWorkload {
		t.Errorf("resolved kind = %v, want workload", id.Kind)
	}
}

func TestCommandHandler_WorkloadAddInvalidMAC(t *testing.T) {
	handler, _ := newTestHandler()

	params, _ := json.Marshal(WorkloadParams{Ifindex: 7, MAC: "not-a-mac"})
	resp := handler.Handle(context.Background(), Command{Method: "workload_add", Params: params, ID: "req-2"})

	if resp.Error == nil {
		t.Fatal("expected error for invalid mac")
	}
	if resp.Error.Code != ErrCodeInvalidParams {
		t.Errorf("error code = %d, want %d", resp.Error.Code, ErrCodeInvalidParams)
	}
}

func TestCommandHandler_WorkloadAddDuplicate(t *testing.T) {
	handler, _ := newTestHandler()

	params, _ := json.Marshal(WorkloadParams{Ifindex: 7, MAC: "aa:bb:cc:dd:ee:01"})
	if resp := handler.Handle(context.Background(), Command{Method: "workload_add", Params: params, ID: "a"}); resp.Error != nil {
		t.Fatalf("first add failed: %v", resp.Error.Message)
	}

	resp := handler.Handle(context.Background(), Command{Method: "workload_add", Params: params, ID: "b"})
	if resp.Error == nil {
		t.Fatal("expected error for duplicate registration")
	}
	if resp.Error.Code != ErrCodeInvalidRequest {
		t.Errorf("error code = %d, want %d", resp.Error.Code, ErrCodeInvalidRequest)
	}
}

func TestCommandHandler_HandleWorkloadDel(t *testing.T) {
	handler, reg := newTestHandler()

	if err := reg.RegisterWorkload(9, [6]byte{1, 2, 3, 4, 5, 6}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	params, _ := json.Marshal(WorkloadDelParams{Ifindex: 9})
	resp := handler.Handle(context.Background(), Command{Method: "workload_del", Params: params, ID: "req-3"})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error.Message)
	}

	if reg.Resolve(9).Kind != core.IdentityUnknown {
		t.Error("workload still resolvable after delete")
	}

	// Deleting again must report not registered
	resp = handler.Handle(context.Background(), Command{Method: "workload_del", Params: params, ID: "req-4"})
	if resp.Error == nil {
		t.Fatal("expected error for unknown ifindex")
	}
}

func TestCommandHandler_HandleAgentSetAndClear(t *testing.T) {
	handler, reg := newTestHandler()

	params, _ := json.Marshal(AgentParams{Ifindex: 3, MAC: "02:00:00:00:00:01", CaptureDNS: true})
	resp := handler.Handle(context.Background(), Command{Method: "agent_set", Params: params, ID: "req-5"})
	if resp.Error != nil {
		t.Fatalf("agent_set failed: %v", resp.Error.Message)
	}

	agent := reg.NodeAgent()
	if agent.Kind != core.IdentityTunnelAgent || !agent.CaptureDNS {
		t.Errorf("unexpected node agent: %+v", agent)
	}

	resp = handler.Handle(context.Background(), Command{Method: "agent_clear", Params: params, ID: "req-6"})
	if resp.Error != nil {
		t.Fatalf("agent_clear failed: %v", resp.Error.Message)
	}
	if reg.NodeAgent().Kind != core.IdentityUnknown {
		t.Error("agent still present after clear")
	}
}

func TestCommandHandler_HandleHostAdd(t *testing.T) {
	handler, reg := newTestHandler()

	params, _ := json.Marshal(HostParams{Addr: "10.0.0.1"})
	resp := handler.Handle(context.Background(), Command{Method: "host_add", Params: params, ID: "req-7"})
	if resp.Error != nil {
		t.Fatalf("host_add failed: %v", resp.Error.Message)
	}

	addr := core.AddrToWords(netip.MustParseAddr("10.0.0.1"))
	if !reg.ResolveHost(addr) {
		t.Error("host not resolvable after add")
	}

	// Bad address
	params, _ = json.Marshal(HostParams{Addr: "300.1.1.1"})
	resp = handler.Handle(context.Background(), Command{Method: "host_add", Params: params, ID: "req-8"})
	if resp.Error == nil || resp.Error.Code != ErrCodeInvalidParams {
		t.Errorf("expected invalid params error, got %+v", resp.Error)
	}
}

func TestCommandHandler_HandleClassify(t *testing.T) {
	handler, reg := newTestHandler()

	if err := reg.RegisterWorkload(11, [6]byte{0xaa, 0xbb, 0xcc, 0, 0, 1}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	params, _ := json.Marshal(ClassifyParams{
		Direction:  "egress",
		SrcIfindex: 11,
		SrcAddr:    "10.0.0.5",
		DstAddr:    "10.0.1.9",
		Protocol:   "tcp",
		SrcPort:    43210,
		DstPort:    8080,
	})
	resp := handler.Handle(context.Background(), Command{Method: "classify", Params: params, ID: "req-9"})
	if resp.Error != nil {
		t.Fatalf("classify failed: %v", resp.Error.Message)
	}

	result, ok := resp.Result.(ClassifyResult)
	if !ok {
		t.Fatalf("result is %T, want ClassifyResult", resp.Result)
	}
	if result.Verdict != core.VerdictRedirectOutbound.String() {
		t.Errorf("verdict = %s, want redirect-outbound", result.Verdict)
	}
	if result.Port != core.OutboundPort {
		t.Errorf("port = %d, want %d", result.Port, core.OutboundPort)
	}
}

func TestCommandHandler_ClassifyFamilyMismatch(t *testing.T) {
	handler, _ := newTestHandler()

	params, _ := json.Marshal(ClassifyParams{
		Direction: "egress",
		SrcAddr:   "10.0.0.5",
		DstAddr:   "2001:db8::1",
		Protocol:  "tcp",
	})
	resp := handler.Handle(context.Background(), Command{Method: "classify", Params: params, ID: "req-10"})
	if resp.Error == nil || resp.Error.Code != ErrCodeInvalidParams {
		t.Errorf("expected invalid params error, got %+v", resp.Error)
	}
}

func TestCommandHandler_HandleDaemonStatus(t *testing.T) {
	handler, reg := newTestHandler()

	if err := reg.RegisterWorkload(5, [6]byte{1, 2, 3, 4, 5, 6}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	resp := handler.Handle(context.Background(), Command{Method: "daemon_status", Params: json.RawMessage{}, ID: "req-11"})
	if resp.Error != nil {
		t.Fatalf("daemon_status failed: %v", resp.Error.Message)
	}

	status, ok := resp.Result.(StatusResult)
	if !ok {
		t.Fatalf("result is %T, want StatusResult", resp.Result)
	}
	if status.Hostname != "test-node" {
		t.Errorf("hostname = %s, want test-node", status.Hostname)
	}
	if status.Workloads != 1 {
		t.Errorf("workloads = %d, want 1", status.Workloads)
	}
}

func TestCommandHandler_HandleDaemonShutdown(t *testing.T) {
	handler, _ := newTestHandler()

	called := false
	handler.SetShutdownFunc(func() { called = true })

	resp := handler.Handle(context.Background(), Command{Method: "daemon_shutdown", Params: json.RawMessage{}, ID: "req-12"})
	if resp.Error != nil {
		t.Fatalf("daemon_shutdown failed: %v", resp.Error.Message)
	}
	if !called {
		t.Error("shutdown function was not called")
	}
}

func TestCommandHandler_HandleUnknownMethod(t *testing.T) {
	handler, _ := newTestHandler()

	resp := handler.Handle(context.Background(), Command{Method: "unknown.method", Params: json.RawMessage{}, ID: "req-13"})
	if resp.Error == nil {
		t.Fatal("expected error for unknown method")
	}
	if resp.Error.Code != ErrCodeMethodNotFound {
		t.Errorf("error code = %d, want %d", resp.Error.Code, ErrCodeMethodNotFound)
	}
}

func TestCommandHandler_InvalidParams(t *testing.T) {
	handler, _ := newTestHandler()

	cmd := Command{
		Method: "workload_add",
		Params: json.RawMessage(`{invalid json}`),
		ID:     "req-14",
	}
	resp := handler.Handle(context.Background(), cmd)
	if resp.Error == nil {
		t.Fatal("expected error for invalid params")
	}
	if resp.Error.Code != ErrCodeInvalidParams {
		t.Errorf("error code = %d, want %d", resp.Error.Code, ErrCodeInvalidParams)
	}
}
