// Package core defines core types with zero external dependencies.
package core

import "net/netip"

// EtherType is the L3 family of a parsed packet. Anything the parser could
// not fully understand is EtherTypeOther, which downstream logic passes
// through untouched.
type EtherType uint8

const (
	EtherTypeOther EtherType = iota
	EtherTypeIPv4
	EtherTypeIPv6
)

// Transport is the L4 protocol of a parsed packet.
type Transport uint8

const (
	TransportOther Transport = iota
	TransportTCP
	TransportUDP
	TransportICMP
)

// Direction of a packet relative to the workload's network namespace.
type Direction uint8

const (
	Ingress Direction = iota
	Egress
)

func (d Direction) String() string {
	if d == Egress {
		return "egress"
	}
	return "ingress"
}

// AddrWords is a 128-bit address as four 32-bit words, the uniform
// representation for IPv4 and IPv6. IPv4 addresses occupy the leading word
// with the rest zero.
type AddrWords [4]uint32

// AddrToWords normalizes a netip.Addr into the 4-word form.
func AddrToWords(addr netip.Addr) AddrWords {
	var w AddrWords
	if addr.Is4() {
		b := addr.As4()
		w[0] = uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
		return w
	}
	b := addr.As16()
	for i := 0; i < 4; i++ {
		w[i] = uint32(b[i*4])<<24 | uint32(b[i*4+1])<<16 | uint32(b[i*4+2])<<8 | uint32(b[i*4+3])
	}
	return w
}

// PacketDescriptor is the parsed view of one packet. It is built per packet
// by the decoder, consumed immediately by the engine, and never retained.
type PacketDescriptor struct {
	EtherType EtherType
	SrcAddr   AddrWords
	DstAddr   AddrWords
	SrcIP     netip.Addr // for logging; zero when EtherTypeOther
	DstIP     netip.Addr
	Transport Transport
	SrcPort   uint16 // valid for TCP/UDP only
	DstPort   uint16
	// ExtensionHeaders counts traversed IPv6 extension headers,
	// capped at IPv6MaxHeaders.
	ExtensionHeaders uint8
	IsDNS            bool // UDP to port 53
}

// IdentityKind classifies the owner of an interface.
type IdentityKind uint8

const (
	IdentityUnknown IdentityKind = iota
	IdentityWorkload
	IdentityTunnelAgent
)

func (k IdentityKind) String() string {
	switch k {
	case IdentityWorkload:
		return "workload"
	case IdentityTunnelAgent:
		return "tunnel-agent"
	default:
		return "unknown"
	}
}

// Identity is the resolved owner of an interface index.
type Identity struct {
	Kind       IdentityKind
	MAC        [6]byte
	CaptureDNS bool // tunnel agent only
}

// VerdictType is the classification outcome for one packet.
type VerdictType uint8

const (
	VerdictPass VerdictType = iota
	VerdictRedirectInbound
	VerdictRedirectOutbound
	VerdictBypass
	VerdictDrop
)

func (v VerdictType) String() string {
	switch v {
	case VerdictRedirectInbound:
		return "redirect-inbound"
	case VerdictRedirectOutbound:
		return "redirect-outbound"
	case VerdictBypass:
		return "bypass"
	case VerdictDrop:
		return "drop"
	default:
		return "pass"
	}
}

// Verdict is the result of one classification call. Port and Mark are only
// meaningful for redirect verdicts.
type Verdict struct {
	Type       VerdictType
	Port       uint16 // redirect destination port
	Mark       uint32 // packet/socket mark to apply, 0 = none
	CaptureDNS bool   // DNS interception flag rides with the verdict
}
