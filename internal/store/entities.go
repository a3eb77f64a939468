// Package store defines the relational persistence contract for
// sandboxctl's six core entities and the invariants transactions must
// uphold (see DESIGN.md and SPEC_FULL.md §3).
package store

import "time"

// WorkspaceState enumerates Workspace.state's state machine.
type WorkspaceState string

const (
	WorkspaceWarm    WorkspaceState = "warm"
	WorkspaceCold    WorkspaceState = "cold"
	WorkspaceDeleted WorkspaceState = "deleted"
	WorkspaceError   WorkspaceState = "error"
)

// RunStatus enumerates Run.status's transitions.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunTimeout   RunStatus = "timeout"
)

// BundleStatus enumerates EvidenceBundle.status's transitions.
type BundleStatus string

const (
	BundlePending BundleStatus = "pending"
	BundleReady   BundleStatus = "ready"
	BundleError   BundleStatus = "error"
	BundleDeleted BundleStatus = "deleted"
)

// User is the identity anchor. Created and destroyed by an external tool;
// the core never mutates it.
type User struct {
	ID          string
	Email       *string
	DisplayName *string
	IsAdmin     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ApiKey is used by the external auth layer; the core never reads it
// directly.
type ApiKey struct {
	ID        string
	UserID    string
	TokenHash string
	Label     *string
	CreatedAt time.Time
	RevokedAt *time.Time
}

// Project is a logical grouping owning at most one Workspace at a time.
// Immutable after creation.
type Project struct {
	ID        string
	UserID    string
	Name      string
	RepoURL   string
	CreatedAt time.Time
}

// Workspace is the durable handle to a sandbox. Exactly one row exists per
// (user_id, project_id) pair.
type Workspace struct {
	ID              string
	UserID          string
	ProjectID       string
	State           WorkspaceState
	ContainerID     *string
	VolumeName      *string
	ThreadID        *string
	ImageName       *string
	ImageDigest     *string
	ImageProfile    string
	RuntimeMetadata map[string]interface{}
	LastActiveAt    time.Time
	IdleExpiresAt   *time.Time
}

// Run is one row per prompt invocation.
type Run struct {
	ID           string
	UserID       string
	ProjectID    string
	WorkspaceID  string
	Status       RunStatus
	Prompt       string
	FinalText    *string
	Diff         *string
	TestOutput   *string
	ErrorMessage *string
	StartedAt    time.Time
	FinishedAt   *time.Time
	DurationMs   *int64
	InputTokens  *int
	OutputTokens *int
	GitCommit    *string
	ImageName    *string
	ImageDigest  *string
	EnvSnapshot  map[string]interface{}
}

// EvidenceBundle tracks the archived evidence for exactly one Run.
type EvidenceBundle struct {
	ID           string
	RunID        string
	UserID       string
	ProjectID    string
	WorkspaceID  string
	Status       BundleStatus
	BundlePath   *string
	ErrorMessage *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
