package agentclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kandev/sandboxctl/internal/common/logger"
)

// MockClient stands in for the agent worker when FORCE_MOCK_CODEX is set,
// so a workspace container with no real coding agent inside it can still
// be exercised end to end (development and CI, never production).
type MockClient struct {
	logger *logger.Logger
}

// NewMockClient builds a MockClient.
func NewMockClient(log *logger.Logger) *MockClient {
	return &MockClient{logger: log.WithFields(zap.String("component", "agentclient_mock"))}
}

func (m *MockClient) Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error) {
	m.logger.Info("mock: executing run", zap.String("run_id", req.RunID), zap.String("workspace_id", req.WorkspaceID))

	threadID := req.WorkspaceID
	return ExecuteResult{
		FinalText: fmt.Sprintf("mock response to: %s", req.Prompt),
		Diff:      "",
		ThreadID:  threadID,
		GitCommit: nil,
	}, nil
}

var _ Client = (*MockClient)(nil)
