// Package decoder implements protocol decoding.
package decoder

import (
	"encoding/binary"

	"firestige.xyz/meshnode/internal/core"
)

const (
	ethernetHeaderLen = 14
	vlanHeaderLen     = 4

	// EtherType values
	etherTypeIPv4 = 0x0800
	etherTypeIPv6 = 0x86DD
	etherTypeVLAN = 0x8100
	etherTypeQinQ = 0x88A8
)

// decodeEthernet reads the Ethernet header (including VLAN tags) and returns
// the innermost EtherType and the L3 payload.
func decodeEthernet(data []byte) (uint16, []byte, error) {
	if len(data) < ethernetHeaderLen {
		return 0, nil, core.ErrPacketTooShort
	}

	etherType := binary.BigEndian.Uint16(data[12:14])
	offset := ethernetHeaderLen

	// VLAN tags can be nested (QinQ)
	for etherType == etherTypeVLAN || etherType == etherTypeQinQ {
		if len(data) < offset+vlanHeaderLen {
			return 0, nil, core.ErrPacketTooShort
		}
		etherType = binary.BigEndian.Uint16(data[offset+2 : offset+4])
		offset += vlanHeaderLen
	}

	return etherType, data[offset:], nil
}
