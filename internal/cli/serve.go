package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jeevesbot/jeeves/internal/api"
	"github.com/jeevesbot/jeeves/internal/watcher"
)

// newServeCmd creates the serve command for the observation server.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the observation server",
		Long: `Start the jeeves observation server.

The server provides REST endpoints, an SSE event stream and a websocket
mirror for:
  • Issue selection and state
  • Live agent logs and structured SDK output
  • Run control (start, stop) and workflow management

Mutating endpoints only accept loopback clients unless remote origin is
explicitly allowed.

Example:
  jeeves serve                       # Listen on the configured address
  jeeves serve --addr 0.0.0.0:8377   # Listen on all interfaces`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}

			addr := a.cfg.Addr
			if cmd.Flags().Changed("addr") {
				addr, _ = cmd.Flags().GetString("addr")
			}
			allowRemote := a.cfg.AllowRemoteOrigin
			if cmd.Flags().Changed("allow-remote") {
				allowRemote, _ = cmd.Flags().GetBool("allow-remote")
			}

			// Pick up where the viewer left off.
			a.orch.RestoreActive()

			server := api.NewServer(api.Config{
				Orchestrator: a.orch,
				Store:        a.store,
				Catalog:      a.catalog,
				Publisher:    a.publisher,
				Metrics:      a.metrics,
				Logger:       a.logger,
				AllowRemote:  allowRemote,
			})

			fsw, err := watcher.New(&watcher.Config{
				IssuesDir: a.cfg.IssuesDir(),
				Publisher: a.publisher,
				Logger:    a.logger,
			})
			if err != nil {
				return fmt.Errorf("create issue watcher: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return server.ListenAndServe(gctx, addr)
			})
			g.Go(func() error {
				if err := fsw.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})

			fmt.Printf("Observation server on http://%s (Ctrl+C to stop)\n", addr)
			return g.Wait()
		},
	}

	cmd.Flags().String("addr", "", "listen address (host:port)")
	cmd.Flags().Bool("allow-remote", false, "accept mutating requests from non-loopback clients")
	return cmd
}
