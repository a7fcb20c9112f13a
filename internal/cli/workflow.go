package cli

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	jeeveserrors "github.com/jeevesbot/jeeves/internal/errors"
	"github.com/jeevesbot/jeeves/internal/workflow"
)

// newWorkflowCmd groups workflow subcommands.
func newWorkflowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Manage workflow definitions",
	}
	cmd.AddCommand(newWorkflowListCmd())
	cmd.AddCommand(newWorkflowValidateCmd())
	return cmd
}

// newWorkflowListCmd creates the workflow list command.
func newWorkflowListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List available workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			list, err := a.catalog.List()
			if err != nil {
				return fmt.Errorf("list workflows: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tVERSION\tSTART\tPHASES")
			for _, s := range list {
				fmt.Fprintf(w, "%s\t%d\t%s\t%d\n", s.Name, s.Version, s.Start, s.PhaseCount)
			}
			return w.Flush()
		},
	}
}

// newWorkflowValidateCmd creates the workflow validate command.
func newWorkflowValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a workflow document",
		Long: `Parse and validate a workflow YAML file without installing it.

Example:
  jeeves workflow validate my-workflow.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			wf, err := workflow.Parse(raw)
			if err != nil {
				var jerr *jeeveserrors.JeevesError
				if errors.As(err, &jerr) && jerr.Why != "" {
					fmt.Printf("Invalid: %s\n", jerr.Why)
				} else {
					fmt.Printf("Invalid: %v\n", err)
				}
				return fmt.Errorf("workflow is invalid")
			}
			fmt.Printf("OK: %s (%d phases, starts at %s)\n", wf.Name, len(wf.Phases), wf.Start)
			return nil
		},
	}
}
