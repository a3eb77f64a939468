// Package agentclient abstracts the protocol RunService speaks to the
// agent worker running inside a workspace sandbox.
package agentclient

import "context"

// ExecuteRequest is what RunService sends to the in-sandbox agent.
type ExecuteRequest struct {
	WorkspaceID string
	RunID       string
	Prompt      string
	Address     string // host:port reachable from the control plane, e.g. Inspection.HostPortForInternal(7000)
}

// ExecuteResult is the agent's reply to one prompt invocation.
type ExecuteResult struct {
	FinalText string
	Diff      string
	ThreadID  string
	GitCommit *string

	// CommandEvents are opaque command-started/command-finished envelopes
	// the agent worker chose to report. RunService copies each one into
	// the EventSink as is (only adding ts/run_id/type and truncating
	// stdout/stderr to 8 KiB) rather than validating its shape — the agent
	// worker doesn't promise a stable schema for them beyond "JSON
	// object".
	CommandEvents []map[string]interface{}
}

// Client abstracts the in-sandbox agent worker protocol: a prompt in,
// {final_text, diff, thread_id, git_commit?} out. Implementations must
// respect ctx's deadline; RunService applies its own hard timeout
// (default 60s) independent of any HTTP client timeout.
type Client interface {
	Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error)
}
