package dataplane

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"

	"github.com/cilium/ebpf"
	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
	"golang.org/x/sys/unix"
)

// Program names, fixed by the classifier object.
const (
	progAppInbound       = "app_inbound"
	progAppOutbound      = "app_outbound"
	progAgentHostIngress = "ztunnel_host_ingress"
	progAgentIngress     = "ztunnel_ingress"
)

// Attacher loads the classifier object and manages its TC filters. All four
// programs share the pinned maps the Mirror writes.
type Attacher struct {
	coll     *ebpf.Collection
	netnsDir string
}

// NewAttacher loads the classifier object from cfg.ProgramPath, reusing the
// maps pinned under the mirror's directory.
func NewAttacher(cfg Config, mirror *Mirror) (*Attacher, error) {
	spec, err := ebpf.LoadCollectionSpec(cfg.ProgramPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load classifier object %s: %w", cfg.ProgramPath, err)
	}

	coll, err := ebpf.NewCollectionWithOptions(spec, ebpf.CollectionOptions{
		Maps: ebpf.MapOptions{PinPath: mirror.pinDir},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load classifier programs: %w", err)
	}

	for _, name := range []string{progAppInbound, progAppOutbound, progAgentHostIngress, progAgentIngress} {
		if coll.Programs[name] == nil {
			coll.Close()
			return nil, fmt.Errorf("classifier object %s has no program %q", cfg.ProgramPath, name)
		}
	}

	return &Attacher{coll: coll, netnsDir: cfg.NetnsDir}, nil
}

// AttachWorkload hooks both directions of a workload's host-side interface:
// egress carries traffic into the pod, ingress carries traffic leaving it.
func (a *Attacher) AttachWorkload(ifindex uint32) error {
	if err := ensureClsact(int(ifindex)); err != nil {
		return err
	}
	if err := a.attachFilter(int(ifindex), netlink.HANDLE_MIN_EGRESS, progAppInbound); err != nil {
		return err
	}
	if err := a.attachFilter(int(ifindex), netlink.HANDLE_MIN_INGRESS, progAppOutbound); err != nil {
		return err
	}
	slog.Info("workload interface attached", "ifindex", ifindex)
	return nil
}

// DetachWorkload removes the workload filters and the qdisc.
func (a *Attacher) DetachWorkload(ifindex uint32) error {
	if err := a.detachFilter(int(ifindex), netlink.HANDLE_MIN_EGRESS, progAppInbound); err != nil {
		return err
	}
	if err := a.detachFilter(int(ifindex), netlink.HANDLE_MIN_INGRESS, progAppOutbound); err != nil {
		return err
	}
	if err := removeClsact(int(ifindex)); err != nil {
		return err
	}
	slog.Info("workload interface detached", "ifindex", ifindex)
	return nil
}

// AttachAgent hooks the tunnel agent. The host-side interface gets the host
// ingress program; the peer inside the agent's netns gets the namespace
// ingress program when peerIfindex and nsName are given.
func (a *Attacher) AttachAgent(ifindex, peerIfindex uint32, nsName string) error {
	if err := ensureClsact(int(ifindex)); err != nil {
		return err
	}
	if err := a.attachFilter(int(ifindex), netlink.HANDLE_MIN_INGRESS, progAgentHostIngress); err != nil {
		return err
	}

	if peerIfindex != 0 && nsName != "" {
		err := a.inNetns(nsName, func() error {
			if err := ensureClsact(int(peerIfindex)); err != nil {
				return err
			}
			return a.attachFilter(int(peerIfindex), netlink.HANDLE_MIN_INGRESS, progAgentIngress)
		})
		if err != nil {
			return err
		}
	}

	slog.Info("agent interface attached", "ifindex", ifindex, "peer", peerIfindex)
	return nil
}

// DetachAgent removes the agent filters on both sides.
func (a *Attacher) DetachAgent(ifindex, peerIfindex uint32, nsName string) error {
	if err := a.detachFilter(int(ifindex), netlink.HANDLE_MIN_INGRESS, progAgentHostIngress); err != nil {
		return err
	}
	if err := removeClsact(int(ifindex)); err != nil {
		return err
	}

	if peerIfindex != 0 && nsName != "" {
		err := a.inNetns(nsName, func() error {
			if err := a.detachFilter(int(peerIfindex), netlink.HANDLE_MIN_INGRESS, progAgentIngress); err != nil {
				return err
			}
			return removeClsact(int(peerIfindex))
		})
		if err != nil {
			return err
		}
	}

	slog.Info("agent interface detached", "ifindex", ifindex, "peer", peerIfindex)
	return nil
}

func ensureClsact(ifindex int) error {
	qdisc := &netlink.Clsact{
		QdiscAttrs: netlink.QdiscAttrs{
			LinkIndex: ifindex,
			Parent:    netlink.HANDLE_CLSACT,
			Handle:    netlink.MakeHandle(0xffff, 0),
		},
	}
	if err := netlink.QdiscReplace(qdisc); err != nil {
		return fmt.Errorf("failed to add clsact qdisc on ifindex %d: %w", ifindex, err)
	}
	return nil
}

func removeClsact(ifindex int) error {
	qdisc := &netlink.Clsact{
		QdiscAttrs: netlink.QdiscAttrs{
			LinkIndex: ifindex,
			Parent:    netlink.HANDLE_CLSACT,
			Handle:    netlink.MakeHandle(0xffff, 0),
		},
	}
	if err := netlink.QdiscDel(qdisc); err != nil {
		return fmt.Errorf("failed to delete clsact qdisc on ifindex %d: %w", ifindex, err)
	}
	return nil
}

func (a *Attacher) attachFilter(ifindex int, parent uint32, progName string) error {
	filter := &netlink.BpfFilter{
		FilterAttrs: netlink.FilterAttrs{
			LinkIndex: ifindex,
			Parent:    parent,
			Handle:    netlink.MakeHandle(1, 0),
			Protocol:  unix.ETH_P_ALL,
			Priority:  1,
		},
		Fd:           a.coll.Programs[progName].FD(),
		Name:         progName,
		DirectAction: true,
	}
	if err := netlink.FilterReplace(filter); err != nil {
		return fmt.Errorf("failed to attach %s on ifindex %d: %w", progName, ifindex, err)
	}
	return nil
}

func (a *Attacher) detachFilter(ifindex int, parent uint32, progName string) error {
	filter := &netlink.BpfFilter{
		FilterAttrs: netlink.FilterAttrs{
			LinkIndex: ifindex,
			Parent:    parent,
			Handle:    netlink.MakeHandle(1, 0),
			Protocol:  unix.ETH_P_ALL,
			Priority:  1,
		},
	}
	if err := netlink.FilterDel(filter); err != nil {
		return fmt.Errorf("failed to detach %s on ifindex %d: %w", progName, ifindex, err)
	}
	return nil
}

// inNetns runs fn with the calling goroutine switched into the named netns.
func (a *Attacher) inNetns(name string, fn func() error) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	cur, err := netns.Get()
	if err != nil {
		return fmt.Errorf("failed to get current netns: %w", err)
	}
	defer cur.Close()

	target, err := netns.GetFromPath(filepath.Join(a.netnsDir, name))
	if err != nil {
		return fmt.Errorf("failed to open netns %s: %w", name, err)
	}
	defer target.Close()

	if err := netns.Set(target); err != nil {
		return fmt.Errorf("failed to enter netns %s: %w", name, err)
	}
	defer netns.Set(cur)

	return fn()
}

// Close releases the loaded programs. Attached filters hold their own
// references and keep running until detached.
func (a *Attacher) Close() error {
	a.coll.Close()
	return nil
}
