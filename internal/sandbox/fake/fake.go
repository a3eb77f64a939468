// Package fake is an in-memory sandbox.Driver test double: it never
// touches a real container runtime, just records calls and returns
// canned results.
package fake

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/kandev/sandboxctl/internal/sandbox"
)

// Driver is a sandbox.Driver that never touches an actual container
// runtime. Callers can pre-seed Inspections/ExecResults per container ID
// and read back every call it received.
type Driver struct {
	mu sync.Mutex

	volumes    map[string]bool
	containers map[string]sandbox.ContainerSpec
	started    map[string]bool
	files      map[string]map[string][]byte // containerID -> path -> content

	nextContainerID int

	Inspections map[string]sandbox.Inspection // containerID -> canned inspection
	ExecResults map[string]sandbox.ExecResult // containerID -> canned exec result
	Archives    map[string][]byte             // containerID -> canned tar bytes for GetArchive

	Calls []string
}

// New returns an empty fake driver.
func New() *Driver {
	return &Driver{
		volumes:     make(map[string]bool),
		containers:  make(map[string]sandbox.ContainerSpec),
		started:     make(map[string]bool),
		files:       make(map[string]map[string][]byte),
		Inspections: make(map[string]sandbox.Inspection),
		ExecResults: make(map[string]sandbox.ExecResult),
		Archives:    make(map[string][]byte),
	}
}

func (d *Driver) record(format string, args ...interface{}) {
	d.Calls = append(d.Calls, fmt.Sprintf(format, args...))
}

func (d *Driver) EnsureVolume(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("EnsureVolume(%s)", name)
	d.volumes[name] = true
	return nil
}

func (d *Driver) DeleteVolume(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("DeleteVolume(%s)", name)
	if !d.volumes[name] {
		return fmt.Errorf("fake: volume %s does not exist", name)
	}
	delete(d.volumes, name)
	return nil
}

func (d *Driver) CreateContainer(ctx context.Context, spec sandbox.ContainerSpec) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextContainerID++
	id := fmt.Sprintf("fake-container-%d", d.nextContainerID)
	d.containers[id] = spec
	d.files[id] = make(map[string][]byte)
	d.record("CreateContainer(%s, image=%s)", id, spec.Image)
	return id, nil
}

func (d *Driver) Start(ctx context.Context, containerID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.containers[containerID]; !ok {
		return fmt.Errorf("fake: unknown container %s", containerID)
	}
	d.record("Start(%s)", containerID)
	d.started[containerID] = true
	return nil
}

func (d *Driver) StopAndRemove(ctx context.Context, containerID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("StopAndRemove(%s)", containerID)
	delete(d.containers, containerID)
	delete(d.started, containerID)
	delete(d.files, containerID)
	return nil
}

func (d *Driver) Inspect(ctx context.Context, containerID string) (sandbox.Inspection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("Inspect(%s)", containerID)
	if insp, ok := d.Inspections[containerID]; ok {
		return insp, nil
	}
	return sandbox.Inspection{
		ImageName:       d.containers[containerID].Image,
		ImageDigest:     d.containers[containerID].Image + "@sha256:fake",
		IPAddress:       "127.0.0.1",
		HostPortForPort: map[int]string{7000: "127.0.0.1:7000"},
	}, nil
}

func (d *Driver) Exec(ctx context.Context, containerID string, argv []string, workdir string) (sandbox.ExecResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("Exec(%s, %v)", containerID, argv)
	if res, ok := d.ExecResults[containerID]; ok {
		return res, nil
	}
	return sandbox.ExecResult{ExitCode: 0}, nil
}

func (d *Driver) GetArchive(ctx context.Context, containerID, path string) (io.ReadCloser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("GetArchive(%s, %s)", containerID, path)
	if content, ok := d.Archives[containerID]; ok {
		return io.NopCloser(bytes.NewReader(content)), nil
	}
	return io.NopCloser(bytes.NewReader(nil)), nil
}

func (d *Driver) PutFile(ctx context.Context, containerID, path string, content []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("PutFile(%s, %s, %d bytes)", containerID, path, len(content))
	if _, ok := d.files[containerID]; !ok {
		return fmt.Errorf("fake: unknown container %s", containerID)
	}
	d.files[containerID][path] = content
	return nil
}

// WrittenFile returns the bytes last written to path inside containerID via
// PutFile, for test assertions.
func (d *Driver) WrittenFile(containerID, path string) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	content, ok := d.files[containerID][path]
	return content, ok
}

var _ sandbox.Driver = (*Driver)(nil)
