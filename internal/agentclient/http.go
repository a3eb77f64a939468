package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/sandboxctl/internal/common/logger"
)

// HTTPClient talks to the agent worker's /run endpoint on port 7000 inside
// the sandbox container.
type HTTPClient struct {
	http   *http.Client
	logger *logger.Logger
}

// NewHTTPClient builds an HTTPClient. The http.Client's own timeout is set
// generously above the expected per-run hard timeout so that RunService's
// context deadline is always the one that fires first.
func NewHTTPClient(log *logger.Logger) *HTTPClient {
	return &HTTPClient{
		http:   &http.Client{Timeout: 5 * time.Minute},
		logger: log.WithFields(zap.String("component", "agentclient_http")),
	}
}

type runRequest struct {
	Text  string `json:"text"`
	RunID string `json:"runId"`
}

type runResponse struct {
	FinalText string                   `json:"finalText"`
	Diff      string                   `json:"diff"`
	ThreadID  string                   `json:"threadId"`
	GitCommit *string                  `json:"gitCommit,omitempty"`
	Events    []map[string]interface{} `json:"events,omitempty"`
}

func (c *HTTPClient) Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error) {
	if req.Address == "" {
		return ExecuteResult{}, fmt.Errorf("agentclient: no address for workspace %s", req.WorkspaceID)
	}

	body, err := json.Marshal(runRequest{Text: req.Prompt, RunID: req.RunID})
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("agentclient: failed to encode request: %w", err)
	}

	url := fmt.Sprintf("http://%s/run", req.Address)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("agentclient: failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	c.logger.Debug("executing run against agent worker", zap.String("run_id", req.RunID), zap.String("address", req.Address))

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("agentclient: request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("agentclient: failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return ExecuteResult{}, fmt.Errorf("agentclient: agent worker returned %d: %s", resp.StatusCode, string(payload))
	}

	var parsed runResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return ExecuteResult{}, fmt.Errorf("agentclient: failed to decode response: %w", err)
	}

	return ExecuteResult{
		FinalText:     parsed.FinalText,
		Diff:          parsed.Diff,
		ThreadID:      parsed.ThreadID,
		GitCommit:     parsed.GitCommit,
		CommandEvents: parsed.Events,
	}, nil
}

var _ Client = (*HTTPClient)(nil)
