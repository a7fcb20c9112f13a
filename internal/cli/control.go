package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeevesbot/jeeves/internal/config"
)

// apiClient talks to a running observation server.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient() (*apiClient, error) {
	cfg, err := config.Load(dataDir)
	if err != nil {
		return nil, err
	}
	return &apiClient{
		base: "http://" + cfg.Addr,
		http: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// call performs a JSON request and decodes the response into out when the
// status is 2xx; otherwise it surfaces the server's error message.
func (c *apiClient) call(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("is the server running? %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
			Fix   string `json:"fix"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			if apiErr.Fix != "" {
				return fmt.Errorf("%s (%s)", apiErr.Error, apiErr.Fix)
			}
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}
	if out != nil && len(raw) > 0 {
		return json.Unmarshal(raw, out)
	}
	return nil
}

// newStopCmd creates the stop command, which asks a running server to end
// the active run.
func newStopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the active run",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			force, _ := cmd.Flags().GetBool("force")
			if err := client.call("POST", "/api/run/stop", map[string]any{"force": force}, nil); err != nil {
				return err
			}
			fmt.Println("Stop requested")
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "kill the agent immediately instead of waiting for graceful exit")
	return cmd
}

// newStatusCmd creates the status command.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the active run",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			var rec struct {
				Running          bool   `json:"running"`
				IssueRef         string `json:"issue_ref"`
				CurrentIteration int    `json:"current_iteration"`
				MaxIterations    int    `json:"max_iterations"`
				CompletionReason string `json:"completion_reason"`
				LastError        string `json:"last_error"`
			}
			if err := client.call("GET", "/api/run", nil, &rec); err != nil {
				return err
			}
			if rec.Running {
				fmt.Printf("Running %s, iteration %d of %d\n", rec.IssueRef, rec.CurrentIteration, rec.MaxIterations)
				return nil
			}
			if rec.CompletionReason == "" {
				fmt.Println("Idle")
				return nil
			}
			fmt.Printf("Idle. Last run: %s\n", rec.CompletionReason)
			if rec.LastError != "" {
				fmt.Printf("Last error: %s\n", rec.LastError)
			}
			return nil
		},
	}
}
