package fake

import (
	"context"
	"testing"

	"github.com/kandev/sandboxctl/internal/sandbox"
)

func TestCreateStartInspectRoundTrip(t *testing.T) {
	d := New()
	ctx := context.Background()

	if err := d.EnsureVolume(ctx, "vol-1"); err != nil {
		t.Fatalf("EnsureVolume: %v", err)
	}

	id, err := d.CreateContainer(ctx, sandbox.ContainerSpec{Image: "sandboxctl/workspace:latest"})
	if err != nil {
		t.Fatalf("CreateContainer: %v", err)
	}
	if err := d.Start(ctx, id); err != nil {
		t.Fatalf("Start: %v", err)
	}

	insp, err := d.Inspect(ctx, id)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if insp.ImageName != "sandboxctl/workspace:latest" {
		t.Fatalf("unexpected image name: %q", insp.ImageName)
	}
	if _, ok := insp.HostPortForInternal(7000); !ok {
		t.Fatalf("expected a reachable address for port 7000")
	}
}

func TestPutFileOnUnknownContainerFails(t *testing.T) {
	d := New()
	ctx := context.Background()

	if err := d.PutFile(ctx, "does-not-exist", "/workspace/evidence/r1/events.jsonl", []byte("{}")); err == nil {
		t.Fatalf("expected error writing to an unknown container")
	}
}

func TestPutFileIsReadableBack(t *testing.T) {
	d := New()
	ctx := context.Background()

	id, err := d.CreateContainer(ctx, sandbox.ContainerSpec{Image: "sandboxctl/workspace:latest"})
	if err != nil {
		t.Fatalf("CreateContainer: %v", err)
	}

	payload := []byte(`{"type":"run-start"}`)
	if err := d.PutFile(ctx, id, "/workspace/evidence/r1/events.jsonl", payload); err != nil {
		t.Fatalf("PutFile: %v", err)
	}

	got, ok := d.WrittenFile(id, "/workspace/evidence/r1/events.jsonl")
	if !ok || string(got) != string(payload) {
		t.Fatalf("expected written file to round-trip, got %q ok=%v", got, ok)
	}
}

func TestStopAndRemoveForgetsContainer(t *testing.T) {
	d := New()
	ctx := context.Background()

	id, _ := d.CreateContainer(ctx, sandbox.ContainerSpec{Image: "x"})
	if err := d.StopAndRemove(ctx, id); err != nil {
		t.Fatalf("StopAndRemove: %v", err)
	}
	if err := d.Start(ctx, id); err == nil {
		t.Fatalf("expected Start on removed container to fail")
	}
}
