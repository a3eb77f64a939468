// Package cmd implements sbctl, the operator CLI for a running sandboxctld
// control plane: trigger a GC sweep, list/open projects, and send a run --
// everything an operator would otherwise need curl and a terminal full of
// X-User-Id headers for.
package cmd

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL of the sandboxctld HTTP front door.
	serverURL string

	// userID is sent as X-User-Id on every request, standing in for the
	// authentication plugin a real deployment sits in front of sbctl.
	userID string

	httpClient = &http.Client{Timeout: 30 * time.Second}
)

var rootCmd = &cobra.Command{
	Use:   "sbctl",
	Short: "sbctl — operator CLI for a sandboxctl control plane",
	Long: `sbctl talks to a running sandboxctld over its HTTP front door.

Common workflow:

  sbctl projects list
  sbctl projects create -n demo -r https://github.com/acme/demo.git
  sbctl run send <project-id> "add a health endpoint"
  sbctl run get <run-id>
  sbctl gc`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8080", "sandboxctld base URL")
	rootCmd.PersistentFlags().StringVarP(&userID, "user-id", "u", "", "user ID sent as X-User-Id (required)")
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("sbctl: %w", err)
	}
	return nil
}

func newRequest(method, path string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, serverURL+path, reader)
	if err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, fmt.Errorf("--user-id is required")
	}
	req.Header.Set("X-User-Id", userID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}
