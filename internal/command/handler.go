// Package command implements the local control channel: the CLI and the CNI
// plugin drive the identity tables and the kernel attachment through it.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strings"
	"time"

	"firestige.xyz/meshnode/internal/core"
	"firestige.xyz/meshnode/internal/engine"
	"firestige.xyz/meshnode/internal/identity"
	"firestige.xyz/meshnode/internal/metrics"
)

// Dataplane is the kernel attachment surface the handler drives alongside
// the user-space tables. nil when the dataplane is disabled.
type Dataplane interface {
	AttachWorkload(ifindex uint32) error
	DetachWorkload(ifindex uint32) error
	AttachAgent(ifindex, peerIfindex uint32, netns string) error
	DetachAgent(ifindex, peerIfindex uint32, netns string) error
}

// CommandHandler handles control channel commands.
type CommandHandler struct {
	registry  *identity.Registry
	engine    *engine.Engine
	dataplane Dataplane

	hostname     string
	startTime    time.Time
	shutdownFunc func()
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(reg *identity.Registry, eng *engine.Engine, dp Dataplane, hostname string) *CommandHandler {
	return &CommandHandler{
		registry:  reg,
		engine:    eng,
		dataplane: dp,
		hostname:  hostname,
		startTime: time.Now(),
	}
}

// SetShutdownFunc sets the callback invoked by the daemon_shutdown command.
func (h *CommandHandler) SetShutdownFunc(fn func()) {
	h.shutdownFunc = fn
}

// Command represents a control channel command.
type Command struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	ID     string          `json:"id"`
}

// Response represents a command response.
type Response struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo represents an error in the response.
type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Handle processes a command and returns a response.
func (h *CommandHandler) Handle(ctx context.Context, cmd Command) Response {
	slog.Info("handling command", "method", cmd.Method, "id", cmd.ID)

	switch cmd.Method {
	case "workload_add":
		return h.handleWorkloadAdd(cmd)
	case "workload_del":
		return h.handleWorkloadDel(cmd)
	case "agent_set":
		return h.handleAgentSet(cmd)
	case "agent_clear":
		return h.handleAgentClear(cmd)
	case "host_add":
		return h.handleHostAdd(cmd)
	case "classify":
		return h.handleClassify(cmd)
	case "daemon_status":
		return h.handleDaemonStatus(cmd)
	case "daemon_shutdown":
		return h.handleDaemonShutdown(cmd)
	default:
		return errResponse(cmd.ID, ErrCodeMethodNotFound, fmt.Sprintf("method %q not found", cmd.Method))
	}
}

func errResponse(id string, code int, msg string) Response {
	return Response{ID: id, Error: &ErrorInfo{Code: code, Message: msg}}
}

// mutationError maps table errors onto command error codes.
func mutationError(id string, err error) Response {
	code := ErrCodeInternalError
	if errors.Is(err, core.ErrAlreadyRegistered) || errors.Is(err, core.ErrNotRegistered) ||
		errors.Is(err, core.ErrCapacityExceeded) {
		code = ErrCodeInvalidRequest
	}
	return errResponse(id, code, err.Error())
}

// WorkloadParams carries a workload registration.
type WorkloadParams struct {
	Ifindex uint32 `json:"ifindex"`
	MAC     string `json:"mac"`
}

func parseMAC(s string) ([6]byte, error) {
	var mac [6]byte
	hw, err := net.ParseMAC(s)
	if err != nil {
		return mac, err
	}
	if len(hw) != 6 {
		return mac, fmt.Errorf("invalid mac addr(%s), only EUI-48/MAC-48 is supported", s)
	}
	copy(mac[:], hw)
	return mac, nil
}

func (h *CommandHandler) handleWorkloadAdd(cmd Command) Response {
	var params WorkloadParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return errResponse(cmd.ID, ErrCodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
	}
	if params.Ifindex == 0 {
		return errResponse(cmd.ID, ErrCodeInvalidParams, "ifindex is required")
	}
	mac, err := parseMAC(params.MAC)
	if err != nil {
		return errResponse(cmd.ID, ErrCodeInvalidParams, err.Error())
	}

	if err := h.registry.RegisterWorkload(params.Ifindex, mac); err != nil {
		metrics.RegistrationsTotal.WithLabelValues(metrics.TableApp, "add", "error").Inc()
		return mutationError(cmd.ID, err)
	}

	if h.dataplane != nil {
		if err := h.dataplane.AttachWorkload(params.Ifindex); err != nil {
			// Keep tables and kernel state consistent: roll back.
			if uerr := h.registry.UnregisterWorkload(params.Ifindex); uerr != nil {
				slog.Error("rollback failed", "ifindex", params.Ifindex, "error", uerr)
			}
			metrics.DataplaneErrorsTotal.WithLabelValues("attach_workload").Inc()
			return errResponse(cmd.ID, ErrCodeInternalError, err.Error())
		}
	}

	metrics.RegistrationsTotal.WithLabelValues(metrics.TableApp, "add", "ok").Inc()
	h.updateTableSizes()
	return Response{ID: cmd.ID, Result: "ok"}
}

// WorkloadDelParams identifies a workload to remove.
type WorkloadDelParams struct {
	Ifindex uint32 `json:"ifindex"`
}

func (h *CommandHandler) handleWorkloadDel(cmd Command) Response {
	var params WorkloadDelParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return errResponse(cmd.ID, ErrCodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
	}

	if err := h.registry.UnregisterWorkload(params.Ifindex); err != nil {
		metrics.RegistrationsTotal.WithLabelValues(metrics.TableApp, "del", "error").Inc()
		return mutationError(cmd.ID, err)
	}
	if h.dataplane != nil {
		if err := h.dataplane.DetachWorkload(params.Ifindex); err != nil {
			// The interface may be gone already when the pod was deleted.
			slog.Warn("workload detach failed", "ifindex", params.Ifindex, "error", err)
			metrics.DataplaneErrorsTotal.WithLabelValues("detach_workload").Inc()
		}
	}

	metrics.RegistrationsTotal.WithLabelValues(metrics.TableApp, "del", "ok").Inc()
	h.updateTableSizes()
	return Response{ID: cmd.ID, Result: "ok"}
}

// AgentParams carries a tunnel agent registration.
type AgentParams struct {
	Ifindex     uint32 `json:"ifindex"`
	PeerIfindex uint32 `json:"peer_ifindex"`
	MAC         string `json:"mac"`
	CaptureDNS  bool   `json:"capture_dns"`
	Netns       string `json:"netns"`
}

func (h *CommandHandler) handleAgentSet(cmd Command) Response {
	var params AgentParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return errResponse(cmd.ID, ErrCodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
	}
	if params.Ifindex == 0 {
		return errResponse(cmd.ID, ErrCodeInvalidParams, "ifindex is required")
	}
	mac, err := parseMAC(params.MAC)
	if err != nil {
		return errResponse(cmd.ID, ErrCodeInvalidParams, err.Error())
	}

	if err := h.registry.RegisterTunnelAgent(params.Ifindex, mac, params.CaptureDNS); err != nil {
		metrics.RegistrationsTotal.WithLabelValues(metrics.TableAgent, "add", "error").Inc()
		return mutationError(cmd.ID, err)
	}

	if h.dataplane != nil {
		if err := h.dataplane.AttachAgent(params.Ifindex, params.PeerIfindex, params.Netns); err != nil {
			if uerr := h.registry.UnregisterTunnelAgent(params.Ifindex); uerr != nil {
				slog.Error("rollback failed", "ifindex", params.Ifindex, "error", uerr)
			}
			metrics.DataplaneErrorsTotal.WithLabelValues("attach_agent").Inc()
			return errResponse(cmd.ID, ErrCodeInternalError, err.Error())
		}
	}

	metrics.RegistrationsTotal.WithLabelValues(metrics.TableAgent, "add", "ok").Inc()
	h.updateTableSizes()
	return Response{ID: cmd.ID, Result: "ok"}
}

func (h *CommandHandler) handleAgentClear(cmd Command) Response {
	var params AgentParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return errResponse(cmd.ID, ErrCodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
	}

	if err := h.registry.UnregisterTunnelAgent(params.Ifindex); err != nil {
		metrics.RegistrationsTotal.WithLabelValues(metrics.TableAgent, "del", "error").Inc()
		return mutationError(cmd.ID, err)
	}
	if h.dataplane != nil {
		if err := h.dataplane.DetachAgent(params.Ifindex, params.PeerIfindex, params.Netns); err != nil {
			slog.Warn("agent detach failed", "ifindex", params.Ifindex, "error", err)
			metrics.DataplaneErrorsTotal.WithLabelValues("detach_agent").Inc()
		}
	}

	metrics.RegistrationsTotal.WithLabelValues(metrics.TableAgent, "del", "ok").Inc()
	h.updateTableSizes()
	return Response{ID: cmd.ID, Result: "ok"}
}

// HostParams carries a host-network address registration.
type HostParams struct {
	Addr string `json:"addr"`
}

func (h *CommandHandler) handleHostAdd(cmd Command) Response {
	var params HostParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return errResponse(cmd.ID, ErrCodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
	}
	addr, err := netip.ParseAddr(params.Addr)
	if err != nil {
		return errResponse(cmd.ID, ErrCodeInvalidParams, fmt.Sprintf("invalid addr: %v", err))
	}

	if err := h.registry.RegisterHost(core.AddrToWords(addr)); err != nil {
		metrics.RegistrationsTotal.WithLabelValues(metrics.TableHost, "add", "error").Inc()
		return mutationError(cmd.ID, err)
	}

	metrics.RegistrationsTotal.WithLabelValues(metrics.TableHost, "add", "ok").Inc()
	h.updateTableSizes()
	return Response{ID: cmd.ID, Result: "ok"}
}

// ClassifyParams describes a synthetic packet for the classify command, used
// to inspect what the engine would decide for a given flow.
type ClassifyParams struct {
	Direction  string `json:"direction"` // ingress | egress
	SrcIfindex uint32 `json:"src_ifindex"`
	DstIfindex uint32 `json:"dst_ifindex"`
	SrcAddr    string `json:"src_addr"`
	DstAddr    string `json:"dst_addr"`
	Protocol   string `json:"protocol"` // tcp | udp | icmp
	SrcPort    uint16 `json:"src_port"`
	DstPort    uint16 `json:"dst_port"`
	Mark       uint32 `json:"mark"`
	Callback   uint32 `json:"callback"`
}

// ClassifyResult is the verdict in wire form.
type ClassifyResult struct {
	Verdict    string `json:"verdict"`
	Port       uint16 `json:"port,omitempty"`
	Mark       uint32 `json:"mark,omitempty"`
	CaptureDNS bool   `json:"capture_dns,omitempty"`
}

func (h *CommandHandler) handleClassify(cmd Command) Response {
	var params ClassifyParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return errResponse(cmd.ID, ErrCodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
	}

	desc, err := descriptorFromParams(params)
	if err != nil {
		return errResponse(cmd.ID, ErrCodeInvalidParams, err.Error())
	}

	dir := core.Ingress
	if strings.EqualFold(params.Direction, "egress") {
		dir = core.Egress
	}

	v := h.engine.ClassifyEvent(engine.Event{
		Direction:   dir,
		SrcIfindex:  params.SrcIfindex,
		DstIfindex:  params.DstIfindex,
		CallbackTag: params.Callback,
		PacketMark:  params.Mark,
	}, desc)

	metrics.VerdictsTotal.WithLabelValues("cli", v.Type.String()).Inc()

	return Response{ID: cmd.ID, Result: ClassifyResult{
		Verdict:    v.Type.String(),
		Port:       v.Port,
		Mark:       v.Mark,
		CaptureDNS: v.CaptureDNS,
	}}
}

func descriptorFromParams(params ClassifyParams) (core.PacketDescriptor, error) {
	src, err := netip.ParseAddr(params.SrcAddr)
	if err != nil {
		return core.PacketDescriptor{}, fmt.Errorf("invalid src_addr: %w", err)
	}
	dst, err := netip.ParseAddr(params.DstAddr)
	if err != nil {
		return core.PacketDescriptor{}, fmt.Errorf("invalid dst_addr: %w", err)
	}
	if src.Is4() != dst.Is4() {
		return core.PacketDescriptor{}, fmt.Errorf("src and dst address family mismatch")
	}

	desc := core.PacketDescriptor{
		SrcAddr: core.AddrToWords(src),
		DstAddr: core.AddrToWords(dst),
		SrcIP:   src,
		DstIP:   dst,
		SrcPort: params.SrcPort,
		DstPort: params.DstPort,
	}
	if src.Is4() {
		desc.EtherType = core.EtherTypeIPv4
	} else {
		desc.EtherType = core.EtherTypeIPv6
	}

	switch strings.ToLower(params.Protocol) {
	case "tcp":
		desc.Transport = core.TransportTCP
	case "udp":
		desc.Transport = core.TransportUDP
		desc.IsDNS = desc.DstPort == core.DNSPort
	case "icmp":
		desc.Transport = core.TransportICMP
		desc.SrcPort, desc.DstPort = 0, 0
	default:
		desc.Transport = core.TransportOther
		desc.SrcPort, desc.DstPort = 0, 0
	}
	return desc, nil
}

// StatusResult is the daemon_status payload.
type StatusResult struct {
	Hostname      string `json:"hostname"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Workloads     int    `json:"workloads"`
	Agents        int    `json:"agents"`
	Hosts         int    `json:"hosts"`
	AgentCapture  bool   `json:"agent_capture_dns"`
}

func (h *CommandHandler) handleDaemonStatus(cmd Command) Response {
	apps, agents, hosts := h.registry.Sizes()
	return Response{ID: cmd.ID, Result: StatusResult{
		Hostname:      h.hostname,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Workloads:     apps,
		Agents:        agents,
		Hosts:         hosts,
		AgentCapture:  h.registry.NodeAgent().CaptureDNS,
	}}
}

func (h *CommandHandler) handleDaemonShutdown(cmd Command) Response {
	if h.shutdownFunc != nil {
		h.shutdownFunc()
	}
	return Response{ID: cmd.ID, Result: "shutting down"}
}

func (h *CommandHandler) updateTableSizes() {
	apps, agents, hosts := h.registry.Sizes()
	metrics.TableSize.WithLabelValues(metrics.TableApp).Set(float64(apps))
	metrics.TableSize.WithLabelValues(metrics.TableAgent).Set(float64(agents))
	metrics.TableSize.WithLabelValues(metrics.TableHost).Set(float64(hosts))
}
