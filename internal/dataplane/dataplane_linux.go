package dataplane

import (
	"log/slog"

	"firestige.xyz/meshnode/internal/identity"
)

// Dataplane bundles the map mirror and the TC attacher behind the surface
// the command handler drives.
type Dataplane struct {
	mirror   *Mirror
	attacher *Attacher
}

// New opens the pinned maps and, when a classifier object is configured,
// loads its programs.
func New(cfg Config) (*Dataplane, error) {
	mirror, err := NewMirror(cfg.BPFFSPath)
	if err != nil {
		return nil, err
	}

	d := &Dataplane{mirror: mirror}
	if cfg.ProgramPath != "" {
		attacher, err := NewAttacher(cfg, mirror)
		if err != nil {
			mirror.Close()
			return nil, err
		}
		d.attacher = attacher
	} else {
		slog.Info("no classifier object configured, running maps-only")
	}
	return d, nil
}

// Observer returns the table observer that mirrors mutations into the
// kernel maps.
func (d *Dataplane) Observer() identity.Observer {
	return d.mirror
}

// AttachWorkload hooks a workload interface, a no-op in maps-only mode.
func (d *Dataplane) AttachWorkload(ifindex uint32) error {
	if d.attacher == nil {
		return nil
	}
	return d.attacher.AttachWorkload(ifindex)
}

// DetachWorkload unhooks a workload interface.
func (d *Dataplane) DetachWorkload(ifindex uint32) error {
	if d.attacher == nil {
		return nil
	}
	return d.attacher.DetachWorkload(ifindex)
}

// AttachAgent hooks the tunnel agent interfaces.
func (d *Dataplane) AttachAgent(ifindex, peerIfindex uint32, netns string) error {
	if d.attacher == nil {
		return nil
	}
	return d.attacher.AttachAgent(ifindex, peerIfindex, netns)
}

// DetachAgent unhooks the tunnel agent interfaces.
func (d *Dataplane) DetachAgent(ifindex, peerIfindex uint32, netns string) error {
	if d.attacher == nil {
		return nil
	}
	return d.attacher.DetachAgent(ifindex, peerIfindex, netns)
}

// Close releases programs and map handles. Pins and attached filters stay.
func (d *Dataplane) Close() error {
	if d.attacher != nil {
		d.attacher.Close()
	}
	return d.mirror.Close()
}
