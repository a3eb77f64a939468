package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Send and inspect runs",
}

var runSendCmd = &cobra.Command{
	Use:   "send <project-id> <prompt>",
	Short: "Send a prompt to a project, opening its workspace first if needed",
	Args:  cobra.ExactArgs(2),
	RunE:  runRunSend,
}

var runGetCmd = &cobra.Command{
	Use:   "get <run-id>",
	Short: "Print a run's current record",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunGet,
}

var runEvidenceCmd = &cobra.Command{
	Use:   "evidence <run-id> <out-file>",
	Short: "Download a run's evidence bundle (zip)",
	Args:  cobra.ExactArgs(2),
	RunE:  runRunEvidence,
}

func init() {
	runCmd.AddCommand(runSendCmd)
	runCmd.AddCommand(runGetCmd)
	runCmd.AddCommand(runEvidenceCmd)
	rootCmd.AddCommand(runCmd)
}

func runRunSend(cmd *cobra.Command, args []string) error {
	projectID, prompt := args[0], args[1]

	openReq, err := newRequest("POST", "/projects/"+projectID+"/open", nil)
	if err != nil {
		return err
	}
	openResp, err := httpClient.Do(openReq)
	if err != nil {
		return err
	}
	openResp.Body.Close()
	if openResp.StatusCode != 200 {
		return fmt.Errorf("failed to open workspace: sandboxctld returned %d", openResp.StatusCode)
	}

	payload, err := json.Marshal(map[string]string{"prompt": prompt})
	if err != nil {
		return err
	}
	req, err := newRequest("POST", "/projects/"+projectID+"/message", payload)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != 200 {
		return fmt.Errorf("sandboxctld returned %d: %s", resp.StatusCode, body)
	}
	fmt.Println(string(body))
	return nil
}

func runRunGet(cmd *cobra.Command, args []string) error {
	runID := args[0]

	req, err := newRequest("GET", "/runs/"+runID, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != 200 {
		return fmt.Errorf("sandboxctld returned %d: %s", resp.StatusCode, body)
	}
	fmt.Println(string(body))
	return nil
}

func runRunEvidence(cmd *cobra.Command, args []string) error {
	runID, outFile := args[0], args[1]

	req, err := newRequest("GET", "/runs/"+runID+"/evidence", nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == 202 {
		fmt.Println("evidence bundle not ready yet")
		return nil
	}
	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("sandboxctld returned %d: %s", resp.StatusCode, body)
	}

	f, err := createFile(outFile)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", outFile)
	return nil
}
