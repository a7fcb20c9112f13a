package cli

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeevesbot/jeeves/internal/issue"
	"github.com/jeevesbot/jeeves/internal/orchestrator"
	"github.com/jeevesbot/jeeves/internal/provision"
)

// newRunCmd creates the run command.
func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <owner>/<repo>#<number>",
		Short: "Provision an issue and iterate until done",
		Long: `Provision the issue's clone and worktree, select it, and run the
iteration loop until the workflow reaches a terminal phase, the agent
emits its completion promise, or the iteration budget runs out.

Example:
  jeeves run octo/widgets#42
  jeeves run octo/widgets#42 --max-iterations 5 --workflow hotfix`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := issue.ParseRef(args[0])
			if err != nil {
				return err
			}

			a, err := newApp()
			if err != nil {
				return err
			}

			prov, err := provision.New(provision.Config{
				Store:        a.store,
				ReposDir:     a.cfg.ReposDir(),
				WorktreesDir: a.cfg.WorktreesDir(),
				Logger:       a.logger,
				GitHubToken:  a.cfg.GitHubToken,
			})
			if err != nil {
				return err
			}

			cloneURL, _ := cmd.Flags().GetString("clone-url")
			baseBranch, _ := cmd.Flags().GetString("base-branch")
			st, err := prov.Ensure(cmd.Context(), ref, provision.Options{
				CloneURL:   cloneURL,
				BaseBranch: baseBranch,
			})
			if err != nil {
				return fmt.Errorf("provision %s: %w", ref, err)
			}

			if wf, _ := cmd.Flags().GetString("workflow"); wf != "" && wf != st.Workflow {
				if _, err := a.catalog.Load(wf); err != nil {
					return err
				}
				st.Workflow = wf
				if err := a.store.Save(st); err != nil {
					return fmt.Errorf("save issue state: %w", err)
				}
			}

			if err := a.orch.SetIssue(ref); err != nil {
				return err
			}

			maxIter, _ := cmd.Flags().GetInt("max-iterations")
			if maxIter <= 0 {
				maxIter = a.cfg.MaxIterations
			}
			opts := orchestrator.StartOptions{
				MaxIterations:     maxIter,
				IterationTimeout:  a.cfg.IterationTimeout(),
				InactivityTimeout: a.cfg.InactivityTimeout(),
			}
			if err := a.orch.Start(opts); err != nil {
				return err
			}
			fmt.Printf("Running %s (up to %d iterations)\n", ref, maxIter)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ticker := time.NewTicker(500 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					fmt.Println("\nStopping...")
					if err := a.orch.Stop(false, 30*time.Second); err != nil {
						return err
					}
				case <-ticker.C:
				}
				rec := a.orch.Status()
				if !rec.Running {
					fmt.Printf("Run finished: %s\n", rec.CompletionReason)
					if rec.LastError != "" {
						return fmt.Errorf("run failed: %s", rec.LastError)
					}
					return nil
				}
			}
		},
	}

	cmd.Flags().Int("max-iterations", 0, "iteration budget (default from config)")
	cmd.Flags().String("workflow", "", "workflow to drive the issue with")
	cmd.Flags().String("clone-url", "", "clone URL override")
	cmd.Flags().String("base-branch", "", "base branch for the issue worktree")
	return cmd
}
