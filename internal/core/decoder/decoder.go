// Package decoder implements fail-open L2-L4 header parsing.
//
// Parse and ParseL3 are total: malformed, truncated or unsupported input
// yields a descriptor with EtherTypeOther instead of an error, which the
// engine treats as not-mesh-traffic and passes through. A classifier on the
// data path must never fail closed.
package decoder

import "firestige.xyz/meshnode/internal/core"

// Parse decodes an L2 frame into a packet descriptor.
func Parse(raw []byte) core.PacketDescriptor {
	etherType, payload, err := decodeEthernet(raw)
	if err != nil {
		return core.PacketDescriptor{}
	}

	switch etherType {
	case etherTypeIPv4:
		return parseIPv4(payload)
	case etherTypeIPv6:
		return parseIPv6(payload)
	default:
		// ARP, LLDP etc. are pass-through
		return core.PacketDescriptor{}
	}
}

// ParseL3 decodes a frame that starts at the IP header, as handed to hook
// points that see no MAC header. The family is taken from the version nibble.
func ParseL3(raw []byte) core.PacketDescriptor {
	if len(raw) < 1 {
		return core.PacketDescriptor{}
	}
	switch raw[0] >> 4 {
	case 4:
		return parseIPv4(raw)
	case 6:
		return parseIPv6(raw)
	default:
		return core.PacketDescriptor{}
	}
}
