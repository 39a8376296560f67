// Package dispatch translates verdicts into concrete data-path actions.
//
// The engine is shared by every attachment point; whatever differs between
// hook sites lives here. The kernel side consuming these actions is a
// collaborator behind the Dispatcher interface.
package dispatch

import (
	"firestige.xyz/meshnode/internal/core"
	"firestige.xyz/meshnode/internal/metrics"
)

// Hook identifies an attachment point.
type Hook uint8

const (
	// HookWorkloadIngress sees traffic entering a workload's veth from the
	// host side.
	HookWorkloadIngress Hook = iota
	// HookWorkloadEgress sees traffic leaving a workload.
	HookWorkloadEgress
	// HookAgentHostIngress sits on the agent veth's host side.
	HookAgentHostIngress
	// HookAgentIngress sits on the agent interface inside its namespace.
	HookAgentIngress
	// HookSocket is the socket-level hook; actions apply to the socket,
	// not an skb.
	HookSocket
)

func (h Hook) String() string {
	switch h {
	case HookWorkloadIngress:
		return "workload-ingress"
	case HookWorkloadEgress:
		return "workload-egress"
	case HookAgentHostIngress:
		return "agent-host-ingress"
	case HookAgentIngress:
		return "agent-ingress"
	case HookSocket:
		return "socket"
	default:
		return "unknown"
	}
}

// ActionKind is the concrete effect to apply.
type ActionKind uint8

const (
	// ActionPass leaves the packet untouched.
	ActionPass ActionKind = iota
	// ActionRewrite rewrites the destination port and applies the mark.
	ActionRewrite
	// ActionShortCircuit stops mesh processing and tags the packet so
	// chained hooks skip it.
	ActionShortCircuit
	// ActionDrop discards the packet.
	ActionDrop
)

// Action is the fully resolved instruction for one packet at one hook.
type Action struct {
	Kind        ActionKind
	DstPort     uint16 // rewrite target, 0 = keep
	Mark        uint32 // 0 = none
	CallbackTag uint32 // sentinel stamped for downstream hooks, 0 = none
	CaptureDNS  bool
}

// Dispatcher applies actions. Implemented by the kernel attachment
// collaborator; the core only guarantees well-formed actions.
type Dispatcher interface {
	Dispatch(hook Hook, act Action) error
}

// Planner maps verdicts to actions.
type Planner struct{}

// Plan resolves a verdict for a hook point.
func (Planner) Plan(hook Hook, v core.Verdict) Action {
	metrics.VerdictsTotal.WithLabelValues(hook.String(), v.Type.String()).Inc()

	switch v.Type {
	case core.VerdictRedirectInbound:
		act := Action{
			Kind:        ActionRewrite,
			DstPort:     v.Port,
			Mark:        v.Mark,
			CallbackTag: core.InboundCB,
			CaptureDNS:  v.CaptureDNS,
		}
		if hook == HookAgentIngress {
			// The agent receives redirected flows via tproxy.
			act.Mark = core.TProxyMark
		}
		return act
	case core.VerdictRedirectOutbound:
		return Action{
			Kind:        ActionRewrite,
			DstPort:     v.Port,
			Mark:        v.Mark,
			CallbackTag: core.OutboundCB,
		}
	case core.VerdictBypass:
		return Action{Kind: ActionShortCircuit, CallbackTag: core.BypassCB}
	case core.VerdictDrop:
		return Action{Kind: ActionDrop}
	default:
		return Action{Kind: ActionPass}
	}
}
