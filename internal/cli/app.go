package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/roach88/ynab-sync/internal/config"
	"github.com/roach88/ynab-sync/internal/engine"
	"github.com/roach88/ynab-sync/internal/gateway"
	"github.com/roach88/ynab-sync/internal/logging"
	"github.com/roach88/ynab-sync/internal/metrics"
	"github.com/roach88/ynab-sync/internal/store"
	"github.com/roach88/ynab-sync/internal/ynab"
)

// requestTimeout bounds a single HTTP request to the API. Retries are
// handled by the gateway on top of it.
const requestTimeout = 30 * time.Second

// app is the set of components a command works with, built from the
// effective configuration.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	store   *store.Store
	client  *ynab.Client
	metrics *metrics.Registry
	orch    *engine.Orchestrator

	logCloser io.Closer
}

// loadConfig resolves and validates the effective configuration.
func (o *RootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.viper, o.ConfigFile)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// openApp builds the store, gateway and orchestrator. With remote set the
// API token must be configured.
func (o *RootOptions) openApp(cmd *cobra.Command, remote bool) (*app, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	if remote {
		if err := cfg.RequireRemote(); err != nil {
			return nil, err
		}
	}

	logger, logCloser, err := logging.New(cmd.ErrOrStderr(), logging.FromConfig(cfg, o.Verbose))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to set up logging", err)
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		_ = logCloser.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	client, err := ynab.NewClient(cfg.APIURL, cfg.Token,
		ynab.WithHTTPClient(&http.Client{Timeout: requestTimeout}))
	if err != nil {
		_ = st.Close()
		_ = logCloser.Close()
		return nil, WrapExitError(ExitCommandError, "failed to create API client", err)
	}

	reg := metrics.New(metrics.WithLogger(logger))
	gw := gateway.New(client,
		gateway.WithMaxAttempts(cfg.MaxAttempts),
		gateway.WithBaseDelay(cfg.BaseDelay),
		gateway.WithLogger(logger),
		gateway.WithMetrics(reg),
	)
	orch := engine.New(st, gw,
		engine.WithLogger(logger),
		engine.WithMetrics(reg),
		engine.WithMaxRetries(cfg.MaxRetries),
		engine.WithSyncCategories(cfg.SyncCategories),
	)

	a := &app{cfg: cfg, logger: logger, store: st, client: client, metrics: reg, orch: orch, logCloser: logCloser}
	if err := orch.Init(cmd.Context()); err != nil {
		_ = a.Close()
		return nil, err
	}
	logger.Debug("app ready", "database", cfg.Database, "api_url", cfg.APIURL)
	return a, nil
}

// Close stops the metrics provider and releases the store and the log file.
func (a *app) Close() error {
	return errors.Join(
		a.metrics.Shutdown(context.Background()),
		a.store.Close(),
		a.logCloser.Close(),
	)
}

// acquireLock takes the cross-process lock beside the database so that two
// ynab-sync processes never drain the same queue.
func acquireLock(dbPath string) (unlock func(), err error) {
	lock := flock.New(dbPath + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to acquire sync lock", err)
	}
	if !locked {
		return nil, NewExitError(ExitCommandError,
			fmt.Sprintf("another ynab-sync process is using %s", dbPath))
	}
	return func() { _ = lock.Unlock() }, nil
}

// exactArgs is cobra.ExactArgs with a command-error exit code.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return WrapExitError(ExitCommandError, "invalid arguments", err)
		}
		return nil
	}
}
