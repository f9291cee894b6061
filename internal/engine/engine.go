package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/ynab-sync/internal/gateway"
	"github.com/roach88/ynab-sync/internal/metrics"
	"github.com/roach88/ynab-sync/internal/model"
	"github.com/roach88/ynab-sync/internal/payload"
	"github.com/roach88/ynab-sync/internal/store"
)

// Gateway is the remote side of a sync. Implemented by *gateway.Gateway.
type Gateway interface {
	FetchChanges(ctx context.Context, budgetID string, cursors gateway.Cursors, opts gateway.FetchOptions) (gateway.ChangeSet, error)
	Apply(ctx context.Context, budgetID string, item model.PendingItem) error
}

// Validator checks a staged payload before it is applied.
// Implemented by *payload.Validator.
type Validator interface {
	Validate(itemType model.ItemType, action model.Action, raw []byte) error
}

// Orchestrator runs syncs and maintenance against one store.
//
// Thread-safety model:
//   - StartSync: safe from any goroutine; serialized per budget
//   - RetryFailedItems, Cleanup, RecoverStaleRuns: safe from any goroutine
//   - Init: call once before serving requests
type Orchestrator struct {
	store     *store.Store
	gateway   Gateway
	validator Validator
	now       func() time.Time
	logger    *slog.Logger
	metrics   *metrics.Registry

	maxRetries     int
	syncCategories bool

	knowledge *knowledgeCache
	locks     *keyedLock
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithMetrics sets the registry runs are recorded in.
func WithMetrics(m *metrics.Registry) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithClock overrides the clock used for cutoffs and durations.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithValidator replaces the embedded CUE payload validator.
func WithValidator(v Validator) Option {
	return func(o *Orchestrator) {
		o.validator = v
	}
}

// WithMaxRetries sets the retry_count limit for RetryFailedItems.
//
// Default: model.MaxRetries (3)
func WithMaxRetries(n int) Option {
	return func(o *Orchestrator) {
		o.maxRetries = n
	}
}

// WithSyncCategories fetches category changes on every run, not only when
// SyncOptions.Categories is set.
func WithSyncCategories(enabled bool) Option {
	return func(o *Orchestrator) {
		o.syncCategories = enabled
	}
}

// New creates an Orchestrator. Call Init before the first sync to warm the
// knowledge cache; without it the cache fills lazily from the store.
func New(s *store.Store, gw Gateway, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:      s,
		gateway:    gw,
		now:        time.Now,
		logger:     slog.Default(),
		maxRetries: model.MaxRetries,
		knowledge:  newKnowledgeCache(),
		locks:      newKeyedLock(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.validator == nil {
		o.validator = payload.MustNewValidator()
	}
	return o
}

// Init loads every budget's knowledge into the cache.
func (o *Orchestrator) Init(ctx context.Context) error {
	all, err := o.store.LoadAllKnowledge(ctx)
	if err != nil {
		return fmt.Errorf("warm knowledge cache: %w", err)
	}
	o.knowledge.load(all)
	o.logger.Info("knowledge cache loaded", "budgets", len(all))
	return nil
}
