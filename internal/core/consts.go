// Package core defines core types.
package core

// Tunnel agent constant surface. These values are fixed by the proxy the
// node runs and must match it exactly.
const (
	InboundPort          uint16 = 15008
	PlaintextInboundPort uint16 = 15006
	OutboundPort         uint16 = 15001

	InboundMark  uint32 = 5678
	OutboundMark uint32 = 8765
	TProxyMark   uint32 = 1024

	// Callback sentinels tagged onto packets by one hook so a later hook
	// recognizes already-processed traffic.
	OutboundCB uint32 = 4321
	InboundCB  uint32 = 1234
	BypassCB   uint32 = 0xC001F00D

	DNSPort uint16 = 53

	// CaptureDNSFlag is the per-agent flag bit enabling DNS interception.
	CaptureDNSFlag uint8 = 1 << 0
)

// MaxPodsPerNode bounds the workload table. One entry per locally
// scheduled pod.
const MaxPodsPerNode = 1024

// IPv6MaxHeaders is the number of IPv6 extension headers the parser will
// skip before giving up on the chain. Keeps per-packet parse cost bounded.
const IPv6MaxHeaders = 1

// IPv6 next-header values.
const (
	NextHdrHopByHop uint8 = 0
	NextHdrTCP      uint8 = 6
	NextHdrUDP      uint8 = 17
	NextHdrIPv6     uint8 = 41
	NextHdrRouting  uint8 = 43
	NextHdrFragment uint8 = 44
	NextHdrGRE      uint8 = 47
	NextHdrESP      uint8 = 50
	NextHdrAuth     uint8 = 51
	NextHdrICMP     uint8 = 58
	NextHdrNone     uint8 = 59
	NextHdrDest     uint8 = 60
	NextHdrSCTP     uint8 = 132
	NextHdrMobility uint8 = 135
)
