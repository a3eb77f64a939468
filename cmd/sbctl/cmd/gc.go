package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Trigger an immediate retention sweep (cold workspace + evidence GC)",
	RunE:  runGC,
}

func init() {
	rootCmd.AddCommand(gcCmd)
}

func runGC(cmd *cobra.Command, args []string) error {
	req, err := newRequest("POST", "/ops/gc", nil)
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
