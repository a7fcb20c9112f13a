package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// newIssueCmd groups issue subcommands.
func newIssueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Inspect tracked issues",
	}
	cmd.AddCommand(newIssueListCmd())
	return cmd
}

// newIssueListCmd creates the issue list command.
func newIssueListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tracked issues",
		Long: `List every issue jeeves has state for.

Example:
  jeeves issue list
  jeeves issue list --owner octo --repo widgets`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			owner, _ := cmd.Flags().GetString("owner")
			repo, _ := cmd.Flags().GetString("repo")

			issues, err := a.store.List(owner, repo)
			if err != nil {
				return fmt.Errorf("list issues: %w", err)
			}
			if len(issues) == 0 {
				fmt.Println("No issues found. Start one with: jeeves run <owner>/<repo>#<number>")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ISSUE\tPHASE\tWORKFLOW\tBRANCH\tTITLE")
			for _, d := range issues {
				title := d.Title
				if len(title) > 48 {
					title = title[:45] + "..."
				}
				fmt.Fprintf(w, "%s/%s#%d\t%s\t%s\t%s\t%s\n",
					d.Owner, d.Repo, d.Number, d.Phase, d.Workflow, d.Branch, title)
			}
			return w.Flush()
		},
	}
	cmd.Flags().String("owner", "", "filter by owner")
	cmd.Flags().String("repo", "", "filter by repository")
	return cmd
}
