package decoder

import (
	"encoding/binary"
	"net/netip"
	"testing"

	"firestige.xyz/meshnode/internal/core"
)

var (
	v6Src = netip.MustParseAddr("2001:db8::1")
	v6Dst = netip.MustParseAddr("2001:db8::2")
)

// ipv6Packet builds a fixed IPv6 header followed by payload.
func ipv6Packet(nextHdr uint8, payload []byte) []byte {
	data := make([]byte, ipv6HeaderLen+len(payload))
	data[0] = 0x60
	binary.BigEndian.PutUint16(data[4:6], uint16(len(payload)))
	data[6] = nextHdr
	data[7] = 64
	src := v6Src.As16()
	dst := v6Dst.As16()
	copy(data[8:24], src[:])
	copy(data[24:40], dst[:])
	copy(data[ipv6HeaderLen:], payload)
	return data
}

// udpHeader builds a minimal UDP header.
func udpHeader(srcPort, dstPort uint16) []byte {
	h := make([]byte, 8)
	binary.BigEndian.PutUint16(h[0:2], srcPort)
	binary.BigEndian.PutUint16(h[2:4], dstPort)
	binary.BigEndian.PutUint16(h[4:6], 8)
	return h
}

func TestParseIPv6UDP(t *testing.T) {
	desc := parseIPv6(ipv6Packet(core.NextHdrUDP, udpHeader(40000, 53)))

	if desc.EtherType != core.EtherTypeIPv6 {
		t.Fatalf("expected IPv6, got %v", desc.EtherType)
	}
	if desc.Transport != core.TransportUDP {
		t.Errorf("expected UDP, got %v", desc.Transport)
	}
	if !desc.IsDNS {
		t.Error("expected IsDNS")
	}
	if desc.ExtensionHeaders != 0 {
		t.Errorf("expected 0 extension headers, got %d", desc.ExtensionHeaders)
	}
	if desc.SrcIP != v6Src || desc.DstIP != v6Dst {
		t.Errorf("unexpected addrs %v -> %v", desc.SrcIP, desc.DstIP)
	}
	if want := core.AddrToWords(v6Dst); desc.DstAddr != want {
		t.Errorf("word form mismatch: %v != %v", desc.DstAddr, want)
	}
}

func TestParseIPv6SingleExtensionHeader(t *testing.T) {
	// hop-by-hop (8 bytes) then UDP
	hbh := make([]byte, 8)
	hbh[0] = core.NextHdrUDP
	hbh[1] = 0
	payload := append(hbh, udpHeader(40000, 7000)...)

	desc := parseIPv6(ipv6Packet(core.NextHdrHopByHop, payload))

	if desc.EtherType != core.EtherTypeIPv6 {
		t.Fatalf("expected IPv6, got %v", desc.EtherType)
	}
	if desc.ExtensionHeaders != 1 {
		t.Errorf("expected 1 extension header, got %d", desc.ExtensionHeaders)
	}
	if desc.Transport != core.TransportUDP || desc.DstPort != 7000 {
		t.Errorf("transport not decoded behind extension header: %v port %d",
			desc.Transport, desc.DstPort)
	}
}

// A chain longer than the cap stops after exactly one extension header and
// leaves the payload type unresolved.
func TestParseIPv6ExtensionHeaderCap(t *testing.T) {
	// hop-by-hop -> routing -> TCP
	routing := make([]byte, 8)
	routing[0] = core.NextHdrTCP
	hbh := make([]byte, 8)
	hbh[0] = core.NextHdrRouting
	tcp := make([]byte, 20)
	binary.BigEndian.PutUint16(tcp[2:4], 443)

	payload := append(append(hbh, routing...), tcp...)
	desc := parseIPv6(ipv6Packet(core.NextHdrHopByHop, payload))

	if desc.EtherType != core.EtherTypeOther {
		t.Errorf("expected Other beyond cap, got %v", desc.EtherType)
	}
	if desc.ExtensionHeaders != 1 {
		t.Errorf("expected walk to stop at 1, got %d", desc.ExtensionHeaders)
	}
	if desc.Transport == core.TransportTCP {
		t.Error("payload type must stay unresolved beyond the cap")
	}
	if desc.DstPort != 0 {
		t.Errorf("no port may be read beyond the cap, got %d", desc.DstPort)
	}
}

func TestParseIPv6FragmentHeader(t *testing.T) {
	frag := make([]byte, 8)
	frag[0] = core.NextHdrUDP
	payload := append(frag, udpHeader(1000, 2000)...)

	desc := parseIPv6(ipv6Packet(core.NextHdrFragment, payload))
	if desc.ExtensionHeaders != 1 || desc.Transport != core.TransportUDP {
		t.Errorf("fragment header not skipped: ext=%d transport=%v",
			desc.ExtensionHeaders, desc.Transport)
	}
}

func TestParseIPv6ESPOpaque(t *testing.T) {
	desc := parseIPv6(ipv6Packet(core.NextHdrESP, make([]byte, 16)))
	if desc.EtherType != core.EtherTypeOther {
		t.Errorf("ESP payload must be opaque, got %v", desc.EtherType)
	}
}

func TestParseIPv6TruncatedExtensionHeader(t *testing.T) {
	desc := parseIPv6(ipv6Packet(core.NextHdrHopByHop, []byte{17}))
	if desc.EtherType != core.EtherTypeOther {
		t.Errorf("truncated extension header must fail open, got %v", desc.EtherType)
	}
}

// A known transport with nothing behind the IP header still yields a valid
// descriptor with ports unset.
func TestParseIPv6ZeroLengthTransport(t *testing.T) {
	desc := parseIPv6(ipv6Packet(core.NextHdrTCP, nil))
	if desc.EtherType != core.EtherTypeIPv6 {
		t.Fatalf("expected IPv6, got %v", desc.EtherType)
	}
	if desc.Transport != core.TransportTCP {
		t.Errorf("expected TCP, got %v", desc.Transport)
	}
	if desc.SrcPort != 0 || desc.DstPort != 0 {
		t.Errorf("ports must stay unset, got %d -> %d", desc.SrcPort, desc.DstPort)
	}
}

func TestParseIPv4Options(t *testing.T) {
	// IHL 6 -> 24 byte header with one option word
	data := make([]byte, 24+8)
	data[0] = 0x46
	data[9] = protocolUDP
	copy(data[12:16], []byte{192, 168, 1, 1})
	copy(data[16:20], []byte{192, 168, 1, 2})
	copy(data[24:], udpHeader(1234, 53))

	desc := parseIPv4(data)
	if desc.Transport != core.TransportUDP || !desc.IsDNS {
		t.Errorf("options not skipped: transport=%v dns=%v", desc.Transport, desc.IsDNS)
	}
	if desc.DstIP.String() != "192.168.1.2" {
		t.Errorf("unexpected dst %s", desc.DstIP)
	}
}

func TestParseIPv4ICMP(t *testing.T) {
	data := make([]byte, 20+8)
	data[0] = 0x45
	data[9] = protocolICMP
	copy(data[12:16], []byte{10, 0, 0, 1})
	copy(data[16:20], []byte{10, 0, 0, 2})

	desc := parseIPv4(data)
	if desc.Transport != core.TransportICMP {
		t.Errorf("expected ICMP, got %v", desc.Transport)
	}
	if desc.SrcPort != 0 || desc.DstPort != 0 {
		t.Error("ICMP has no ports")
	}
}
