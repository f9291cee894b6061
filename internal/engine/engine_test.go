package engine

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/ynab-sync/internal/gateway"
	"github.com/roach88/ynab-sync/internal/metrics"
	"github.com/roach88/ynab-sync/internal/model"
	"github.com/roach88/ynab-sync/internal/store"
	"github.com/roach88/ynab-sync/internal/testutil"
)

var testEpoch = time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)

// Transactions that pass the create and update schemas.
const (
	tx1 = `{"id":"t1","account_id":"acc-1","date":"2026-01-14","amount":-12340,"payee_name":"Grocer"}`
	tx2 = `{"id":"t2","account_id":"acc-1","date":"2026-01-14","amount":-5000,"payee_name":"Cafe"}`
	tx3 = `{"id":"t3","account_id":"acc-2","date":"2026-01-15","amount":250000,"payee_name":"Employer"}`
)

type fixture struct {
	orch    *Orchestrator
	store   *store.Store
	remote  *testutil.FakeRemote
	gateway *gateway.Gateway
	clock   *testutil.FakeClock
	metrics *metrics.Registry
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	clock := testutil.NewFakeClock(testEpoch)
	s, err := store.Open(filepath.Join(t.TempDir(), "sync.db"),
		store.WithClock(clock.Now),
		store.WithIDGenerator(testutil.NewSequenceGenerator("id")),
	)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := metrics.New()
	remote := testutil.NewFakeRemote()
	gw := gateway.New(remote,
		gateway.WithTimer(testutil.NewInstantTimer()),
		gateway.WithLogger(logger),
		gateway.WithMetrics(reg),
	)

	base := []Option{WithClock(clock.Now), WithLogger(logger), WithMetrics(reg)}
	o := New(s, gw, append(base, opts...)...)

	return &fixture{orch: o, store: s, remote: remote, gateway: gw, clock: clock, metrics: reg}
}

func (f *fixture) sync(t *testing.T, budgetID string, opts SyncOptions) model.SyncRun {
	t.Helper()
	run, err := f.orch.StartSync(context.Background(), budgetID, opts)
	require.NoError(t, err)
	return run
}

func (f *fixture) items(t *testing.T, runID string) []model.PendingItem {
	t.Helper()
	items, err := f.store.ListItems(context.Background(), runID)
	require.NoError(t, err)
	return items
}

func (f *fixture) knowledge(t *testing.T, budgetID string) model.ServerKnowledge {
	t.Helper()
	k, found, err := f.store.GetKnowledge(context.Background(), budgetID)
	require.NoError(t, err)
	require.True(t, found, "knowledge for %s", budgetID)
	return k
}

func statuses(items []model.PendingItem) []model.Status {
	out := make([]model.Status, len(items))
	for i, item := range items {
		out[i] = item.Status
	}
	return out
}

// wrappedGateway lets a test intercept Apply.
type wrappedGateway struct {
	Gateway
	apply func(ctx context.Context, budgetID string, item model.PendingItem) error
}

func (w *wrappedGateway) Apply(ctx context.Context, budgetID string, item model.PendingItem) error {
	if w.apply != nil {
		return w.apply(ctx, budgetID, item)
	}
	return w.Gateway.Apply(ctx, budgetID, item)
}
