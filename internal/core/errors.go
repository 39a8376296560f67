// Package core defines sentinel errors.
package core

import "errors"

var (
	// Packet decoding errors. These never escape the decoder's public
	// surface; parse failures degrade to an EtherTypeOther descriptor.
	ErrPacketTooShort   = errors.New("meshnode: packet too short")
	ErrUnsupportedProto = errors.New("meshnode: unsupported protocol")

	// Identity table mutation errors, surfaced to the control plane only.
	ErrCapacityExceeded  = errors.New("meshnode: table capacity exceeded")
	ErrAlreadyRegistered = errors.New("meshnode: already registered")
	ErrNotRegistered     = errors.New("meshnode: not registered")

	// Configuration errors
	ErrConfigInvalid = errors.New("meshnode: invalid configuration")

	// Daemon errors
	ErrDaemonNotRunning = errors.New("meshnode: daemon not running")
)
