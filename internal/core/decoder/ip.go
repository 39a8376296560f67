// Package decoder implements protocol decoding.
package decoder

import (
	"net/netip"

	"firestige.xyz/meshnode/internal/core"
)

const (
	ipv4HeaderMinLen = 20
	ipv6HeaderLen    = 40
)

// parseIPv4 decodes an IPv4 header and the transport header behind it.
// IPv4 options are skipped via IHL, never inspected.
func parseIPv4(data []byte) core.PacketDescriptor {
	if len(data) < ipv4HeaderMinLen {
		return core.PacketDescriptor{}
	}

	ihl := data[0] & 0x0F
	headerLen := int(ihl) * 4 // IHL is in 32-bit words
	if headerLen < ipv4HeaderMinLen || len(data) < headerLen {
		return core.PacketDescriptor{}
	}

	src, _ := netip.AddrFromSlice(data[12:16])
	dst, _ := netip.AddrFromSlice(data[16:20])

	desc := core.PacketDescriptor{
		EtherType: core.EtherTypeIPv4,
		SrcAddr:   core.AddrToWords(src),
		DstAddr:   core.AddrToWords(dst),
		SrcIP:     src,
		DstIP:     dst,
	}
	fillTransport(&desc, data[9], data[headerLen:])
	return desc
}

// parseIPv6 decodes an IPv6 header, walks at most IPv6MaxHeaders extension
// headers, then decodes the transport header. A chain longer than the cap is
// reported as unparsed: the walk must stay constant-time on the data path.
func parseIPv6(data []byte) core.PacketDescriptor {
	if len(data) < ipv6HeaderLen {
		return core.PacketDescriptor{}
	}

	src, _ := netip.AddrFromSlice(data[8:24])
	dst, _ := netip.AddrFromSlice(data[24:40])

	desc := core.PacketDescriptor{
		EtherType: core.EtherTypeIPv6,
		SrcAddr:   core.AddrToWords(src),
		DstAddr:   core.AddrToWords(dst),
		SrcIP:     src,
		DstIP:     dst,
	}

	next := data[6]
	offset := ipv6HeaderLen
	var ext uint8
	for isExtensionHeader(next) {
		if ext >= core.IPv6MaxHeaders {
			// Chain continues past the cap: leave the payload type
			// unresolved and let the engine pass it through.
			desc.EtherType = core.EtherTypeOther
			desc.ExtensionHeaders = ext
			return desc
		}
		hdrLen, nextHdr, ok := skipExtensionHeader(next, data[offset:])
		if !ok {
			return core.PacketDescriptor{}
		}
		next = nextHdr
		offset += hdrLen
		ext++
	}
	desc.ExtensionHeaders = ext

	fillTransport(&desc, next, data[offset:])
	return desc
}

// isExtensionHeader reports whether a next-header value is an extension type
// that sits between the fixed IPv6 header and the transport header.
func isExtensionHeader(nextHdr uint8) bool {
	switch nextHdr {
	case core.NextHdrHopByHop, core.NextHdrRouting, core.NextHdrFragment,
		core.NextHdrDest, core.NextHdrMobility, core.NextHdrAuth, core.NextHdrESP:
		return true
	}
	return false
}

// skipExtensionHeader returns the byte length of one extension header and the
// next-header value behind it. ESP hides its length behind encryption, so the
// walk gives up there.
func skipExtensionHeader(hdrType uint8, data []byte) (int, uint8, bool) {
	if len(data) < 2 {
		return 0, 0, false
	}
	var hdrLen int
	switch hdrType {
	case core.NextHdrFragment:
		hdrLen = 8
	case core.NextHdrAuth:
		hdrLen = (int(data[1]) + 2) * 4
	case core.NextHdrESP:
		return 0, 0, false
	default:
		hdrLen = (int(data[1]) + 1) * 8
	}
	if len(data) < hdrLen {
		return 0, 0, false
	}
	return hdrLen, data[0], true
}
