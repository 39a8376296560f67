// Package decoder implements protocol decoding.
package decoder

import (
	"encoding/binary"

	"firestige.xyz/meshnode/internal/core"
)

const (
	// IP protocol numbers
	protocolICMP   = 1
	protocolTCP    = 6
	protocolUDP    = 17
	protocolICMPv6 = 58

	// Both TCP and UDP carry src/dst port in the first four bytes.
	portFieldsLen = 4
)

// fillTransport reads the transport protocol and ports into the descriptor.
// A header too short for the port fields leaves the ports unset; the
// descriptor stays valid either way.
func fillTransport(desc *core.PacketDescriptor, protocol uint8, data []byte) {
	switch protocol {
	case protocolTCP:
		desc.Transport = core.TransportTCP
	case protocolUDP:
		desc.Transport = core.TransportUDP
	case protocolICMP, protocolICMPv6:
		desc.Transport = core.TransportICMP
		return
	default:
		desc.Transport = core.TransportOther
		return
	}

	if len(data) < portFieldsLen {
		return
	}
	desc.SrcPort = binary.BigEndian.Uint16(data[0:2])
	desc.DstPort = binary.BigEndian.Uint16(data[2:4])
	desc.IsDNS = desc.Transport == core.TransportUDP && desc.DstPort == core.DNSPort
}
