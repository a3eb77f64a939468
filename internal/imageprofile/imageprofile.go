// Package imageprofile is a small config-driven catalog of named workspace
// sandbox images, the same shape as a typical agent type registry
// narrowed from "agent type" to "workspace image profile": a project
// selects one by name instead of always using the single configured
// default image.
package imageprofile

import (
	"fmt"
	"sync"

	"github.com/kandev/sandboxctl/internal/sandbox"
)

// Standard is the profile name used when a Workspace has no explicit
// image_profile set.
const Standard = "standard"

// Profile is a named {image, resource limits, required env} bundle a
// project can select at Open time.
type Profile struct {
	Name           string
	Image          string
	Tag            string
	RequiredEnv    []string
	ResourceLimits sandbox.ResourceLimits
	Enabled        bool
}

// FullImage returns the image reference Docker expects, "image:tag".
func (p Profile) FullImage() string {
	if p.Tag == "" {
		return p.Image
	}
	return p.Image + ":" + p.Tag
}

// Registry is a read-mostly lookup table of Profiles, safe for concurrent
// reads from WorkspaceService.Open.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

// NewRegistry builds a Registry seeded with defaultImage as the "standard"
// profile plus any additional profiles.
func NewRegistry(defaultImage string, extra ...Profile) *Registry {
	r := &Registry{profiles: make(map[string]Profile)}
	r.Register(Profile{Name: Standard, Image: defaultImage, ResourceLimits: sandbox.DefaultResourceLimits, Enabled: true})
	for _, p := range extra {
		r.Register(p)
	}
	return r
}

// Register adds or replaces a profile.
func (r *Registry) Register(p Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[p.Name] = p
}

// Get returns the named profile, falling back to "standard" when name is
// empty. An unknown, non-empty name is an error — WorkspaceService.Open
// must not silently substitute a different image than the one a project
// asked for.
func (r *Registry) Get(name string) (Profile, error) {
	if name == "" {
		name = Standard
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("imageprofile: unknown profile %q", name)
	}
	if !p.Enabled {
		return Profile{}, fmt.Errorf("imageprofile: profile %q is disabled", name)
	}
	return p, nil
}

// List returns every registered profile, for the ops surface.
func (r *Registry) List() []Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	return out
}
