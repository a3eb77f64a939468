// Package sandbox defines the abstraction over per-workspace container and
// volume operations. A local Docker daemon is the only driver shipped
// (internal/sandbox/docker), but the contract is written so a cluster
// scheduler could satisfy it too.
package sandbox

import (
	"context"
	"io"
)

// ResourceLimits bounds CPU and memory for a sandbox container.
type ResourceLimits struct {
	CPU      float64 // fractional CPUs, e.g. 0.5
	MemoryMB int64
}

// DefaultResourceLimits matches the per-workspace container budget.
var DefaultResourceLimits = ResourceLimits{CPU: 0.5, MemoryMB: 512}

// ContainerSpec is the input to CreateContainer.
type ContainerSpec struct {
	Image          string
	VolumeName     string
	VolumeTarget   string // mount path inside the container, e.g. /workspace
	Env            map[string]string
	ExposedPorts   []int
	ResourceLimits ResourceLimits
	Labels         map[string]string
}

// Inspection reports what a running sandbox container looks like from the
// outside: the image it actually runs (for reproducibility) and how to
// reach its agent HTTP server.
type Inspection struct {
	ImageName       string
	ImageDigest     string
	IPAddress       string
	HostPortForPort map[int]string // container port -> reachable host:port or ip:port
}

// HostPortForInternal returns the address the control plane should dial to
// reach the agent listening on containerPort inside the sandbox. It prefers
// a published host port; callers needing the raw IP can read Inspection.IPAddress.
func (i Inspection) HostPortForInternal(containerPort int) (string, bool) {
	addr, ok := i.HostPortForPort[containerPort]
	return addr, ok
}

// ExecResult is the outcome of a one-shot command run inside a sandbox.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Driver abstracts container and volume lifecycle operations for a
// workspace sandbox. Every method accepts a context for cancellation and
// deadline propagation per the suspension-point requirement on Store,
// Driver, and AgentClient I/O.
type Driver interface {
	EnsureVolume(ctx context.Context, name string) error
	DeleteVolume(ctx context.Context, name string) error

	CreateContainer(ctx context.Context, spec ContainerSpec) (containerID string, err error)
	Start(ctx context.Context, containerID string) error
	StopAndRemove(ctx context.Context, containerID string) error

	Inspect(ctx context.Context, containerID string) (Inspection, error)
	Exec(ctx context.Context, containerID string, argv []string, workdir string) (ExecResult, error)

	// GetArchive streams a tar archive of path from inside the container.
	// Callers must close the returned reader.
	GetArchive(ctx context.Context, containerID, path string) (io.ReadCloser, error)
	// PutFile writes a single file's bytes to path inside the container,
	// creating parent directories as needed.
	PutFile(ctx context.Context, containerID, path string, content []byte) error
}
