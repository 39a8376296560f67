// Package dataplane keeps the kernel side of the redirection state: it
// mirrors the identity tables into pinned BPF maps and attaches the TC
// classifier programs to workload and tunnel agent interfaces.
package dataplane

// Config selects where the pinned maps live and which classifier object to
// load. An empty ProgramPath runs the mirror in maps-only mode with no TC
// attachment, which is what tests and non-CNI deployments use.
type Config struct {
	BPFFSPath   string
	ProgramPath string
	NetnsDir    string
}
