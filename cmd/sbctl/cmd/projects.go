package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "Manage projects",
}

var projectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects owned by --user-id",
	RunE:  runProjectsList,
}

var (
	projectName    string
	projectRepoURL string
)

var projectsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a project",
	RunE:  runProjectsCreate,
}

func init() {
	projectsCreateCmd.Flags().StringVarP(&projectName, "name", "n", "", "project name (required)")
	projectsCreateCmd.Flags().StringVarP(&projectRepoURL, "repo-url", "r", "", "git repository URL (required)")

	projectsCmd.AddCommand(projectsListCmd)
	projectsCmd.AddCommand(projectsCreateCmd)
	rootCmd.AddCommand(projectsCmd)
}

func runProjectsList(cmd *cobra.Command, args []string) error {
	req, err := newRequest("GET", "/projects", nil)
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

	var out struct {
		Projects []struct {
			ID      string `json:"id"`
			Name    string `json:"name"`
			RepoURL string `json:"repo_url"`
		} `json:"projects"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return err
	}
	for _, p := range out.Projects {
		fmt.Printf("%s\t%s\t%s\n", p.ID, p.Name, p.RepoURL)
	}
	return nil
}

func runProjectsCreate(cmd *cobra.Command, args []string) error {
	if projectName == "" || projectRepoURL == "" {
		return fmt.Errorf("--name and --repo-url are required")
	}

	payload, err := json.Marshal(map[string]string{"name": projectName, "repo_url": projectRepoURL})
	if err != nil {
		return err
	}
	req, err := newRequest("POST", "/projects", payload)
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
	if resp.StatusCode != 201 {
		return fmt.Errorf("sandboxctld returned %d: %s", resp.StatusCode, body)
	}
	fmt.Println(string(body))
	return nil
}
