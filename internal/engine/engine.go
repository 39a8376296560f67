// Package engine implements the redirection decision engine: one pure
// function from packet metadata and identities to a verdict. All hook points
// share it; per-hook behavior lives in the dispatch package.
package engine

import (
	"firestige.xyz/meshnode/internal/core"
	"firestige.xyz/meshnode/internal/core/decoder"
	"firestige.xyz/meshnode/internal/metrics"
)

// Options are fixed at construction, matching the proxy deployment.
type Options struct {
	EnableIPv4 bool
	EnableIPv6 bool
	DNSCapture bool
}

// Input carries everything one classification call may look at. Identities
// and the host lookup are resolved by the caller (or ClassifyEvent); the
// engine itself touches no shared state.
type Input struct {
	Direction core.Direction
	Desc      core.PacketDescriptor

	SrcIdentity core.Identity
	DstIdentity core.Identity
	// Agent is the node's tunnel agent entry; its capture flag gates DNS
	// interception. Zero when no agent is registered.
	Agent core.Identity

	// HostDst is true when the destination address is host-network.
	HostDst bool

	// CallbackTag is the sentinel a previous hook stamped on the packet,
	// 0 if none.
	CallbackTag uint32
	// PacketMark is the current packet/socket mark, 0 if none.
	PacketMark uint32
	// PolicyRejected marks a packet an earlier policy stage refused. The
	// engine never derives a drop on its own.
	PolicyRejected bool
}

// Resolver is the identity lookup surface the event facade needs.
type Resolver interface {
	Resolve(ifindex uint32) core.Identity
	ResolveHost(addr core.AddrWords) bool
	NodeAgent() core.Identity
}

// Engine classifies packets. Safe for concurrent use; it holds only
// immutable options and the read-side of the identity tables.
type Engine struct {
	opts     Options
	resolver Resolver
}

func New(opts Options, resolver Resolver) *Engine {
	return &Engine{opts: opts, resolver: resolver}
}

// Classify returns exactly one verdict for any input. First match wins:
//
//  1. re-entrant bypass sentinel
//  2. explicit prior-stage rejection
//  3. unparsed or disabled address family
//  4. DNS capture (wins over direction rules: mesh DNS must never be skipped)
//  5. host-network destination
//  6. workload egress -> outbound redirect
//  7. workload ingress -> inbound redirect
//  8. agent traffic and everything unknown -> pass
func (e *Engine) Classify(in Input) core.Verdict {
	if in.CallbackTag == core.BypassCB {
		return core.Verdict{Type: core.VerdictBypass}
	}

	if in.PolicyRejected {
		return core.Verdict{Type: core.VerdictDrop}
	}

	switch in.Desc.EtherType {
	case core.EtherTypeIPv4:
		if !e.opts.EnableIPv4 {
			return core.Verdict{Type: core.VerdictPass}
		}
	case core.EtherTypeIPv6:
		if !e.opts.EnableIPv6 {
			return core.Verdict{Type: core.VerdictPass}
		}
	default:
		// Not mesh traffic, or the parser failed open.
		return core.Verdict{Type: core.VerdictPass}
	}

	if in.Desc.IsDNS && e.opts.DNSCapture && captureEnabled(in) {
		return core.Verdict{
			Type:       core.VerdictRedirectInbound,
			Port:       core.PlaintextInboundPort,
			Mark:       core.InboundMark,
			CaptureDNS: true,
		}
	}

	if in.HostDst {
		return core.Verdict{Type: core.VerdictBypass}
	}

	if in.Direction == core.Egress && in.SrcIdentity.Kind == core.IdentityWorkload {
		return core.Verdict{
			Type: core.VerdictRedirectOutbound,
			Port: core.OutboundPort,
			Mark: core.OutboundMark,
		}
	}

	if in.Direction == core.Ingress && in.DstIdentity.Kind == core.IdentityWorkload {
		port := core.InboundPort
		if in.PacketMark == core.InboundMark {
			// Already marked by a peer proxy: deliver plaintext,
			// skip re-encryption.
			port = core.PlaintextInboundPort
		}
		return core.Verdict{
			Type: core.VerdictRedirectInbound,
			Port: port,
			Mark: core.InboundMark,
		}
	}

	// Agent-originated traffic is not re-redirected; unknown peers get the
	// conservative default. Both are a plain pass.
	return core.Verdict{Type: core.VerdictPass}
}

// captureEnabled reports whether the agent serving this packet has the DNS
// capture flag set. The node agent entry is authoritative; an agent identity
// on either side of the packet counts as well.
func captureEnabled(in Input) bool {
	if in.Agent.Kind == core.IdentityTunnelAgent && in.Agent.CaptureDNS {
		return true
	}
	if in.SrcIdentity.Kind == core.IdentityTunnelAgent && in.SrcIdentity.CaptureDNS {
		return true
	}
	return in.DstIdentity.Kind == core.IdentityTunnelAgent && in.DstIdentity.CaptureDNS
}

// Event is one packet or socket event as delivered by a kernel hook.
type Event struct {
	Direction core.Direction
	// SrcIfindex/DstIfindex identify the interfaces the event is seen on;
	// 0 when the hook point does not know that side.
	SrcIfindex uint32
	DstIfindex uint32

	CallbackTag    uint32
	PacketMark     uint32
	PolicyRejected bool
}

// ClassifyEvent resolves identities for an event and classifies the packet.
// This is the entry point the hook adapters call once per event.
func (e *Engine) ClassifyEvent(ev Event, desc core.PacketDescriptor) core.Verdict {
	in := Input{
		Direction:      ev.Direction,
		Desc:           desc,
		Agent:          e.resolver.NodeAgent(),
		CallbackTag:    ev.CallbackTag,
		PacketMark:     ev.PacketMark,
		PolicyRejected: ev.PolicyRejected,
	}
	if ev.SrcIfindex != 0 {
		in.SrcIdentity = e.resolver.Resolve(ev.SrcIfindex)
	}
	if ev.DstIfindex != 0 {
		in.DstIdentity = e.resolver.Resolve(ev.DstIfindex)
	}
	if desc.EtherType != core.EtherTypeOther {
		in.HostDst = e.resolver.ResolveHost(desc.DstAddr)
	}
	return e.Classify(in)
}

// ClassifyFrame parses a raw L2 frame and classifies it. Parse degradations
// are counted and fall through to Pass.
func (e *Engine) ClassifyFrame(ev Event, raw []byte) core.Verdict {
	desc := decoder.Parse(raw)
	if desc.EtherType == core.EtherTypeOther {
		metrics.ParseFallbacksTotal.Inc()
	}
	return e.ClassifyEvent(ev, desc)
}
