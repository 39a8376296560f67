// Package identity maintains the node's interface ownership tables: which
// ifindex belongs to a mesh workload, which to the tunnel agent, and which
// addresses are host-network and must never be redirected.
//
// The tables are written only by the control plane (CLI/CNI via the command
// channel) and read by the classification path. Capacities are fixed: the
// data path must stay bounded in memory and lookup cost.
package identity

import (
	"fmt"
	"sync"

	"firestige.xyz/meshnode/internal/core"
)

// Table capacities. Workload capacity is the per-node pod limit; agent and
// host tables are small by nature.
const (
	AppCapacity   = core.MaxPodsPerNode
	AgentCapacity = 8
	HostCapacity  = 16
)

// Observer is notified after every successful table mutation. The dataplane
// mirror implements it to keep the pinned kernel maps in sync.
type Observer interface {
	OnWorkload(ifindex uint32, mac [6]byte, removed bool) error
	OnTunnelAgent(ifindex uint32, mac [6]byte, flags uint8, removed bool) error
	OnHost(addr core.AddrWords, removed bool) error
}

type agentEntry struct {
	mac   [6]byte
	flags uint8
}

// Registry holds the three identity tables.
type Registry struct {
	mu       sync.RWMutex
	apps     map[uint32][6]byte
	agents   map[uint32]agentEntry
	hosts    map[core.AddrWords]struct{}
	observer Observer
}

// NewRegistry creates empty tables. observer may be nil.
func NewRegistry(observer Observer) *Registry {
	return &Registry{
		apps:     make(map[uint32][6]byte, AppCapacity),
		agents:   make(map[uint32]agentEntry, AgentCapacity),
		hosts:    make(map[core.AddrWords]struct{}, HostCapacity),
		observer: observer,
	}
}

// RegisterWorkload adds a workload interface. An ifindex already present in
// either table is rejected: agent and workload identities are disjoint.
func (r *Registry) RegisterWorkload(ifindex uint32, mac [6]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.apps[ifindex]; ok {
		return fmt.Errorf("%w: workload ifindex %d", core.ErrAlreadyRegistered, ifindex)
	}
	if _, ok := r.agents[ifindex]; ok {
		return fmt.Errorf("%w: ifindex %d is a tunnel agent", core.ErrAlreadyRegistered, ifindex)
	}
	if len(r.apps) >= AppCapacity {
		return fmt.Errorf("%w: workload table full (%d)", core.ErrCapacityExceeded, AppCapacity)
	}

	r.apps[ifindex] = mac
	if r.observer != nil {
		if err := r.observer.OnWorkload(ifindex, mac, false); err != nil {
			// Keep table and mirror consistent: a failed mirror write
			// must leave the registration retryable.
			delete(r.apps, ifindex)
			return err
		}
	}
	return nil
}

// UnregisterWorkload removes a workload interface.
func (r *Registry) UnregisterWorkload(ifindex uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	mac, ok := r.apps[ifindex]
	if !ok {
		return fmt.Errorf("%w: workload ifindex %d", core.ErrNotRegistered, ifindex)
	}
	delete(r.apps, ifindex)
	if r.observer != nil {
		return r.observer.OnWorkload(ifindex, mac, true)
	}
	return nil
}

// RegisterTunnelAgent adds a tunnel agent interface.
func (r *Registry) RegisterTunnelAgent(ifindex uint32, mac [6]byte, captureDNS bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[ifindex]; ok {
		return fmt.Errorf("%w: agent ifindex %d", core.ErrAlreadyRegistered, ifindex)
	}
	if _, ok := r.apps[ifindex]; ok {
		return fmt.Errorf("%w: ifindex %d is a workload", core.ErrAlreadyRegistered, ifindex)
	}
	if len(r.agents) >= AgentCapacity {
		return fmt.Errorf("%w: agent table full (%d)", core.ErrCapacityExceeded, AgentCapacity)
	}

	var flags uint8
	if captureDNS {
		flags |= core.CaptureDNSFlag
	}
	r.agents[ifindex] = agentEntry{mac: mac, flags: flags}
	if r.observer != nil {
		if err := r.observer.OnTunnelAgent(ifindex, mac, flags, false); err != nil {
			delete(r.agents, ifindex)
			return err
		}
	}
	return nil
}

// UnregisterTunnelAgent removes a tunnel agent interface.
func (r *Registry) UnregisterTunnelAgent(ifindex uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.agents[ifindex]
	if !ok {
		return fmt.Errorf("%w: agent ifindex %d", core.ErrNotRegistered, ifindex)
	}
	delete(r.agents, ifindex)
	if r.observer != nil {
		return r.observer.OnTunnelAgent(ifindex, e.mac, e.flags, true)
	}
	return nil
}

// RegisterHost marks an address as host-network. Registering the same
// address twice is a no-op, not an error: node IP sets are re-announced.
func (r *Registry) RegisterHost(addr core.AddrWords) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.hosts[addr]; ok {
		return nil
	}
	if len(r.hosts) >= HostCapacity {
		return fmt.Errorf("%w: host table full (%d)", core.ErrCapacityExceeded, HostCapacity)
	}
	r.hosts[addr] = struct{}{}
	if r.observer != nil {
		if err := r.observer.OnHost(addr, false); err != nil {
			delete(r.hosts, addr)
			return err
		}
	}
	return nil
}

// Resolve returns the identity of an interface. Tunnel agent identity takes
// precedence; absence in both tables is Unknown, never an error.
func (r *Registry) Resolve(ifindex uint32) core.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.agents[ifindex]; ok {
		return core.Identity{
			Kind:       core.IdentityTunnelAgent,
			MAC:        e.mac,
			CaptureDNS: e.flags&core.CaptureDNSFlag != 0,
		}
	}
	if mac, ok := r.apps[ifindex]; ok {
		return core.Identity{Kind: core.IdentityWorkload, MAC: mac}
	}
	return core.Identity{}
}

// ResolveHost reports whether an address belongs to the host table.
func (r *Registry) ResolveHost(addr core.AddrWords) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.hosts[addr]
	return ok
}

// NodeAgent returns the node's tunnel agent entry, normally a singleton.
// With several agent interfaces registered any of them is returned; they
// share one agent process and one capture flag in practice.
func (r *Registry) NodeAgent() core.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.agents {
		return core.Identity{
			Kind:       core.IdentityTunnelAgent,
			MAC:        e.mac,
			CaptureDNS: e.flags&core.CaptureDNSFlag != 0,
		}
	}
	return core.Identity{}
}

// Sizes returns current table sizes, for status and metrics.
func (r *Registry) Sizes() (apps, agents, hosts int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.apps), len(r.agents), len(r.hosts)
}
