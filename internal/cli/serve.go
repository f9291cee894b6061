package cli

import (
	"context"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/ynab-sync/internal/config"
	"github.com/roach88/ynab-sync/internal/server"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	RecoverAfter time.Duration
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run scheduled cleanup",
		Long: `Serve the sync HTTP API under /api and run cleanup every
cleanup_interval until interrupted.

Runs left in progress by a crashed process are not touched unless
--recover-after is set, in which case runs in progress for longer than it
are finalized as failed before the server starts.

Examples:
  ynab-sync serve
  ynab-sync serve --listen 127.0.0.1:8080 --log-file /var/log/ynab-sync.log
  ynab-sync serve --recover-after 2h`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().String("listen", "", "address to listen on (default :3000)")
	cmd.Flags().DurationVar(&opts.RecoverAfter, "recover-after", 0, "on start, fail runs in progress longer than this (0 disables)")
	rootOpts.bind(config.KeyListen, cmd.Flags().Lookup("listen"))

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()

	a, err := opts.openApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	unlock, err := acquireLock(a.cfg.Database)
	if err != nil {
		return err
	}
	defer unlock()

	if opts.RecoverAfter > 0 {
		n, err := a.orch.RecoverStaleRuns(ctx, opts.RecoverAfter)
		if err != nil {
			return err
		}
		if n > 0 {
			a.logger.Warn("recovered stale runs", "count", n)
		}
	}

	srv := server.New(a.orch, a.store,
		server.WithLogger(a.logger),
		server.WithRetention(a.cfg.HistoryDays, a.cfg.PendingDays),
		server.WithBaseContext(ctx),
	)

	loopCtx, stopLoop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.orch.RunCleanupLoop(loopCtx, a.cfg.CleanupInterval, a.cfg.HistoryDays, a.cfg.PendingDays)
	}()
	defer func() {
		stopLoop()
		wg.Wait()
	}()

	if err := srv.ListenAndServe(ctx, a.cfg.Listen); err != nil {
		return WrapExitError(ExitCommandError, "http server failed", err)
	}
	return nil
}
