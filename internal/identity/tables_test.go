package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/meshnode/internal/core"
)

var testMAC = [6]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}

func TestWorkloadRoundTrip(t *testing.T) {
	r := NewRegistry(nil)

	require.NoError(t, r.RegisterWorkload(42, testMAC))

	id := r.Resolve(42)
	assert.Equal(t, core.IdentityWorkload, id.Kind)
	assert.Equal(t, testMAC, id.MAC)

	require.NoError(t, r.UnregisterWorkload(42))
	assert.Equal(t, core.IdentityUnknown, r.Resolve(42).Kind)
}

func TestDuplicateWorkload(t *testing.T) {
	r := NewRegistry(nil)

	require.NoError(t, r.RegisterWorkload(42, testMAC))
	err := r.RegisterWorkload(42, testMAC)
	assert.ErrorIs(t, err, core.ErrAlreadyRegistered)
}

func TestUnregisterMissingWorkload(t *testing.T) {
	r := NewRegistry(nil)
	assert.ErrorIs(t, r.UnregisterWorkload(7), core.ErrNotRegistered)
}

func TestWorkloadCapacity(t *testing.T) {
	r := NewRegistry(nil)

	for i := 0; i < AppCapacity; i++ {
		require.NoError(t, r.RegisterWorkload(uint32(i+1), testMAC))
	}

	err := r.RegisterWorkload(uint32(AppCapacity+1), testMAC)
	require.ErrorIs(t, err, core.ErrCapacityExceeded)

	// Existing entries untouched by the failed insert
	apps, _, _ := r.Sizes()
	assert.Equal(t, AppCapacity, apps)
	assert.Equal(t, core.IdentityWorkload, r.Resolve(1).Kind)
	assert.Equal(t, core.IdentityWorkload, r.Resolve(uint32(AppCapacity)).Kind)
	assert.Equal(t, core.IdentityUnknown, r.Resolve(uint32(AppCapacity+1)).Kind)
}

func TestAgentPrecedenceOverWorkload(t *testing.T) {
	r := NewRegistry(nil)

	// The registry rejects dual registration; precedence is still
	// guaranteed at lookup level by checking the agent table first.
	require.NoError(t, r.RegisterWorkload(5, testMAC))
	assert.ErrorIs(t, r.RegisterTunnelAgent(5, testMAC, false), core.ErrAlreadyRegistered)

	require.NoError(t, r.RegisterTunnelAgent(9, testMAC, true))
	assert.ErrorIs(t, r.RegisterWorkload(9, testMAC), core.ErrAlreadyRegistered)

	id := r.Resolve(9)
	assert.Equal(t, core.IdentityTunnelAgent, id.Kind)
	assert.True(t, id.CaptureDNS)
}

func TestNodeAgent(t *testing.T) {
	r := NewRegistry(nil)
	assert.Equal(t, core.IdentityUnknown, r.NodeAgent().Kind)

	require.NoError(t, r.RegisterTunnelAgent(3, testMAC, true))
	agent := r.NodeAgent()
	assert.Equal(t, core.IdentityTunnelAgent, agent.Kind)
	assert.True(t, agent.CaptureDNS)

	require.NoError(t, r.UnregisterTunnelAgent(3))
	assert.Equal(t, core.IdentityUnknown, r.NodeAgent().Kind)
}

func TestHostTable(t *testing.T) {
	r := NewRegistry(nil)
	addr := core.AddrWords{0x0a000001}

	assert.False(t, r.ResolveHost(addr))
	require.NoError(t, r.RegisterHost(addr))
	assert.True(t, r.ResolveHost(addr))

	// Re-announcing the same node IP is not an error
	require.NoError(t, r.RegisterHost(addr))

	_, _, hosts := r.Sizes()
	assert.Equal(t, 1, hosts)
}

func TestHostCapacity(t *testing.T) {
	r := NewRegistry(nil)
	for i := 0; i < HostCapacity; i++ {
		require.NoError(t, r.RegisterHost(core.AddrWords{uint32(i + 1)}))
	}
	assert.ErrorIs(t, r.RegisterHost(core.AddrWords{0xffffffff}), core.ErrCapacityExceeded)
}

type recordingObserver struct {
	workloads int
	agents    int
	hosts     int
}

func (o *recordingObserver) OnWorkload(uint32, [6]byte, bool) error { o.workloads++; return nil }
func (o *recordingObserver) OnTunnelAgent(uint32, [6]byte, uint8, bool) error {
	o.agents++
	return nil
}
func (o *recordingObserver) OnHost(core.AddrWords, bool) error { o.hosts++; return nil }

type failingObserver struct {
	err error
}

func (o *failingObserver) OnWorkload(uint32, [6]byte, bool) error           { return o.err }
func (o *failingObserver) OnTunnelAgent(uint32, [6]byte, uint8, bool) error { return o.err }
func (o *failingObserver) OnHost(core.AddrWords, bool) error                { return o.err }

// A failed mirror write must not leave a half-applied registration behind:
// the entry stays out of the table and the same registration succeeds once
// the mirror recovers.
func TestObserverFailureRollsBack(t *testing.T) {
	obs := &failingObserver{err: assert.AnError}
	r := NewRegistry(obs)
	addr := core.AddrWords{0x0a000001}

	require.ErrorIs(t, r.RegisterWorkload(1, testMAC), assert.AnError)
	assert.Equal(t, core.IdentityUnknown, r.Resolve(1).Kind)

	require.ErrorIs(t, r.RegisterTunnelAgent(2, testMAC, true), assert.AnError)
	assert.Equal(t, core.IdentityUnknown, r.NodeAgent().Kind)

	require.ErrorIs(t, r.RegisterHost(addr), assert.AnError)
	assert.False(t, r.ResolveHost(addr))

	apps, agents, hosts := r.Sizes()
	assert.Zero(t, apps)
	assert.Zero(t, agents)
	assert.Zero(t, hosts)

	// Mirror recovered: the retried registrations go through
	obs.err = nil
	require.NoError(t, r.RegisterWorkload(1, testMAC))
	require.NoError(t, r.RegisterTunnelAgent(2, testMAC, true))
	require.NoError(t, r.RegisterHost(addr))
	assert.Equal(t, core.IdentityWorkload, r.Resolve(1).Kind)
}

func TestObserverNotified(t *testing.T) {
	obs := &recordingObserver{}
	r := NewRegistry(obs)

	require.NoError(t, r.RegisterWorkload(1, testMAC))
	require.NoError(t, r.UnregisterWorkload(1))
	require.NoError(t, r.RegisterTunnelAgent(2, testMAC, false))
	require.NoError(t, r.RegisterHost(core.AddrWords{1}))

	assert.Equal(t, 2, obs.workloads)
	assert.Equal(t, 1, obs.agents)
	assert.Equal(t, 1, obs.hosts)
}
