package dataplane

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cilium/ebpf"
	"golang.org/x/sys/unix"

	"firestige.xyz/meshnode/internal/core"
	"firestige.xyz/meshnode/internal/identity"
)

// Map names, fixed by the classifier object.
const (
	mapNameApp   = "app_info"
	mapNameAgent = "ztunnel_info"
	mapNameHost  = "host_info"
)

// appInfo is the kernel-side per-workload record.
type appInfo struct {
	Ifindex uint32
	MacAddr [6]byte
	Pads    [2]byte
}

// ztunnelInfo is the kernel-side agent record, held in array slot 0.
type ztunnelInfo struct {
	Ifindex uint32
	MacAddr [6]byte
	Flag    uint8
	Pad     uint8
}

// Mirror implements identity.Observer over the pinned kernel maps, so every
// user-space table mutation lands in the maps the classifier reads.
type Mirror struct {
	pinDir string
	app    *ebpf.Map
	agent  *ebpf.Map
	host   *ebpf.Map
}

var _ identity.Observer = (*Mirror)(nil)

// NewMirror opens the pinned maps under bpffsPath, creating and pinning them
// on first run.
func NewMirror(bpffsPath string) (*Mirror, error) {
	if err := mountBPFFS(bpffsPath); err != nil {
		return nil, err
	}
	if err := raiseMemlock(); err != nil {
		return nil, err
	}

	m := &Mirror{pinDir: bpffsPath}

	var err error
	m.app, err = openOrCreateMap(bpffsPath, &ebpf.MapSpec{
		Name:       mapNameApp,
		Type:       ebpf.Hash,
		KeySize:    4,
		ValueSize:  12,
		MaxEntries: core.MaxPodsPerNode,
	})
	if err != nil {
		return nil, err
	}

	m.agent, err = openOrCreateMap(bpffsPath, &ebpf.MapSpec{
		Name:       mapNameAgent,
		Type:       ebpf.Array,
		KeySize:    4,
		ValueSize:  12,
		MaxEntries: 1,
	})
	if err != nil {
		m.Close()
		return nil, err
	}

	m.host, err = openOrCreateMap(bpffsPath, &ebpf.MapSpec{
		Name:       mapNameHost,
		Type:       ebpf.Hash,
		KeySize:    16,
		ValueSize:  4,
		MaxEntries: identity.HostCapacity,
	})
	if err != nil {
		m.Close()
		return nil, err
	}

	return m, nil
}

func openOrCreateMap(pinDir string, spec *ebpf.MapSpec) (*ebpf.Map, error) {
	pinPath := filepath.Join(pinDir, spec.Name)

	m, err := ebpf.LoadPinnedMap(pinPath, nil)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to open pinned map %s: %w", pinPath, err)
	}

	m, err = ebpf.NewMap(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to create map %s: %w", spec.Name, err)
	}
	if err := m.Pin(pinPath); err != nil {
		m.Close()
		return nil, fmt.Errorf("failed to pin map %s: %w", pinPath, err)
	}
	return m, nil
}

// mountBPFFS ensures a bpffs is mounted at path.
func mountBPFFS(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("failed to create bpffs dir %s: %w", path, err)
	}

	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return fmt.Errorf("failed to statfs %s: %w", path, err)
	}
	if st.Type == unix.BPF_FS_MAGIC {
		return nil
	}

	if err := unix.Mount(path, path, "bpf", 0, ""); err != nil {
		return fmt.Errorf("failed to mount bpffs at %s: %w", path, err)
	}
	return nil
}

// raiseMemlock lifts RLIMIT_MEMLOCK for map creation on pre-5.11 kernels.
func raiseMemlock() error {
	return unix.Setrlimit(unix.RLIMIT_MEMLOCK, &unix.Rlimit{
		Cur: unix.RLIM_INFINITY,
		Max: unix.RLIM_INFINITY,
	})
}

// OnWorkload mirrors one workload table mutation.
func (m *Mirror) OnWorkload(ifindex uint32, mac [6]byte, removed bool) error {
	if removed {
		if err := m.app.Delete(ifindex); err != nil && !errors.Is(err, ebpf.ErrKeyNotExist) {
			return fmt.Errorf("failed to delete %s entry %d: %w", mapNameApp, ifindex, err)
		}
		return nil
	}
	v := appInfo{Ifindex: ifindex, MacAddr: mac}
	if err := m.app.Update(ifindex, v, ebpf.UpdateAny); err != nil {
		return fmt.Errorf("failed to update %s entry %d: %w", mapNameApp, ifindex, err)
	}
	return nil
}

// OnTunnelAgent mirrors the agent record. Removal writes the zero record:
// array maps have no delete, and ifindex 0 marks the slot unused.
func (m *Mirror) OnTunnelAgent(ifindex uint32, mac [6]byte, flags uint8, removed bool) error {
	var v ztunnelInfo
	if !removed {
		v = ztunnelInfo{Ifindex: ifindex, MacAddr: mac, Flag: flags}
	}
	if err := m.agent.Update(uint32(0), v, ebpf.UpdateAny); err != nil {
		return fmt.Errorf("failed to update %s: %w", mapNameAgent, err)
	}
	return nil
}

// OnHost mirrors one host table mutation.
func (m *Mirror) OnHost(addr core.AddrWords, removed bool) error {
	var key [16]byte
	for i, w := range addr {
		binary.BigEndian.PutUint32(key[i*4:], w)
	}
	if removed {
		if err := m.host.Delete(key); err != nil && !errors.Is(err, ebpf.ErrKeyNotExist) {
			return fmt.Errorf("failed to delete %s entry: %w", mapNameHost, err)
		}
		return nil
	}
	if err := m.host.Update(key, uint32(1), ebpf.UpdateAny); err != nil {
		return fmt.Errorf("failed to update %s: %w", mapNameHost, err)
	}
	return nil
}

// Close releases the map handles. The pins stay in place so redirection
// state survives a daemon restart.
func (m *Mirror) Close() error {
	for _, em := range []*ebpf.Map{m.app, m.agent, m.host} {
		if em != nil {
			em.Close()
		}
	}
	return nil
}
