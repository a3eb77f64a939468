// Package v1 holds the wire DTOs for sandboxctl's HTTP front door.
package v1

import "time"

// WorkspaceState mirrors store.WorkspaceState for wire responses.
type WorkspaceState string

const (
	WorkspaceStateWarm    WorkspaceState = "warm"
	WorkspaceStateCold    WorkspaceState = "cold"
	WorkspaceStateDeleted WorkspaceState = "deleted"
	WorkspaceStateError   WorkspaceState = "error"
)

// RunStatus mirrors store.RunStatus for wire responses.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusTimeout   RunStatus = "timeout"
)

// BundleStatus mirrors store.BundleStatus for wire responses.
type BundleStatus string

const (
	BundleStatusPending BundleStatus = "pending"
	BundleStatusReady   BundleStatus = "ready"
	BundleStatusError   BundleStatus = "error"
	BundleStatusDeleted BundleStatus = "deleted"
)

// Project is the wire representation of store.Project.
type Project struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	RepoURL   string    `json:"repo_url"`
	CreatedAt time.Time `json:"created_at"`
}

// Workspace is the wire representation of store.Workspace.
type Workspace struct {
	ID            string         `json:"id"`
	UserID        string         `json:"user_id"`
	ProjectID     string         `json:"project_id"`
	State         WorkspaceState `json:"state"`
	ContainerID   *string        `json:"container_id,omitempty"`
	VolumeName    *string        `json:"volume_name,omitempty"`
	ThreadID      *string        `json:"thread_id,omitempty"`
	ImageName     *string        `json:"image_name,omitempty"`
	ImageDigest   *string        `json:"image_digest,omitempty"`
	ImageProfile  string         `json:"image_profile"`
	LastActiveAt  time.Time      `json:"last_active_at"`
	IdleExpiresAt *time.Time     `json:"idle_expires_at,omitempty"`
}

// Run is the wire representation of store.Run.
type Run struct {
	ID           string                 `json:"id"`
	UserID       string                 `json:"user_id"`
	ProjectID    string                 `json:"project_id"`
	WorkspaceID  string                 `json:"workspace_id"`
	Status       RunStatus              `json:"status"`
	Prompt       string                 `json:"prompt"`
	FinalText    *string                `json:"final_text,omitempty"`
	Diff         *string                `json:"diff,omitempty"`
	TestOutput   *string                `json:"test_output,omitempty"`
	ErrorMessage *string                `json:"error_message,omitempty"`
	StartedAt    time.Time              `json:"started_at"`
	FinishedAt   *time.Time             `json:"finished_at,omitempty"`
	DurationMs   *int64                 `json:"duration_ms,omitempty"`
	InputTokens  *int                   `json:"input_tokens,omitempty"`
	OutputTokens *int                   `json:"output_tokens,omitempty"`
	GitCommit    *string                `json:"git_commit,omitempty"`
	ImageName    *string                `json:"image_name,omitempty"`
	ImageDigest  *string                `json:"image_digest,omitempty"`
	EnvSnapshot  map[string]interface{} `json:"env_snapshot,omitempty"`
}

// RunSummary is the trimmed shape returned by the run-listing endpoint.
type RunSummary struct {
	ID          string     `json:"id"`
	WorkspaceID string     `json:"workspace_id"`
	Status      RunStatus  `json:"status"`
	Prompt      string     `json:"prompt"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	DurationMs  *int64     `json:"duration_ms,omitempty"`
}

// EvidenceBundle is the wire representation of store.EvidenceBundle.
type EvidenceBundle struct {
	ID           string       `json:"id"`
	RunID        string       `json:"run_id"`
	UserID       string       `json:"user_id"`
	ProjectID    string       `json:"project_id"`
	WorkspaceID  string       `json:"workspace_id"`
	Status       BundleStatus `json:"status"`
	BundlePath   *string      `json:"bundle_path,omitempty"`
	ErrorMessage *string      `json:"error_message,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// CreateProjectRequest is the body of POST /projects.
type CreateProjectRequest struct {
	Name    string `json:"name" binding:"required"`
	RepoURL string `json:"repo_url" binding:"required"`
}

// MessageRequest is the body of POST /projects/:id/message and its
// streaming counterpart.
type MessageRequest struct {
	Prompt string `json:"prompt" binding:"required"`
}

// MessageResponse is the body of the unary POST /projects/:id/message.
type MessageResponse struct {
	RunID     string `json:"run_id"`
	FinalText string `json:"final_text"`
	Diff      string `json:"diff,omitempty"`
}

// GCResponse is the body of POST /ops/gc.
type GCResponse struct {
	WorkspaceGCTotal int64 `json:"workspace_gc_total"`
	EvidenceGCTotal  int64 `json:"evidence_gc_total"`
}
