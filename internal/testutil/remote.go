package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/ynab-sync/internal/ynab"
)

// Call records one request made to a FakeRemote.
type Call struct {
	Method    string
	BudgetID  string
	ID        string
	Knowledge uint64
}

// FakeRemote is an in-memory stand-in for the budgeting API. Tests seed
// the entities returned by fetches and script failures per call.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeRemote struct {
	mu sync.Mutex

	transactions []ynab.Entity
	txKnowledge  uint64
	categories   []ynab.Entity
	catKnowledge uint64

	fetchErrs []error
	applyErrs map[string][]error
	block     chan struct{}
	calls     []Call
}

// NewFakeRemote creates an empty fake.
func NewFakeRemote() *FakeRemote {
	return &FakeRemote{applyErrs: make(map[string][]error)}
}

// SetTransactions sets the transactions every fetch returns and the
// server knowledge reported with them. Each raw object must carry an "id".
func (f *FakeRemote) SetTransactions(knowledge uint64, raws ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transactions = entities(raws)
	f.txKnowledge = knowledge
}

// SetCategories sets the categories every category fetch returns.
func (f *FakeRemote) SetCategories(knowledge uint64, raws ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.categories = entities(raws)
	f.catKnowledge = knowledge
}

// FailFetch makes the next fetch calls return errs in order.
// A nil entry lets that call succeed.
func (f *FakeRemote) FailFetch(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchErrs = append(f.fetchErrs, errs...)
}

// FailApply makes the next write calls for entity id return errs in order.
func (f *FakeRemote) FailApply(id string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applyErrs[id] = append(f.applyErrs[id], errs...)
}

// BlockFetch makes fetches wait until the returned release func is called
// or their context is done.
func (f *FakeRemote) BlockFetch() (release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.block = ch
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// Calls returns every recorded call in order.
func (f *FakeRemote) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsTo returns the recorded calls of one method.
func (f *FakeRemote) CallsTo(method string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// GetTransactions implements gateway.Remote.
func (f *FakeRemote) GetTransactions(ctx context.Context, budgetID string, lastKnowledge uint64) (ynab.Delta, error) {
	if err := f.waitBlock(ctx); err != nil {
		return ynab.Delta{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Method: "GetTransactions", BudgetID: budgetID, Knowledge: lastKnowledge})
	if err := f.nextFetchErr(); err != nil {
		return ynab.Delta{}, err
	}
	return ynab.Delta{Entities: append([]ynab.Entity{}, f.transactions...), ServerKnowledge: f.txKnowledge}, nil
}

// GetCategories implements gateway.Remote.
func (f *FakeRemote) GetCategories(ctx context.Context, budgetID string, lastKnowledge uint64) (ynab.Delta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Method: "GetCategories", BudgetID: budgetID, Knowledge: lastKnowledge})
	if err := f.nextFetchErr(); err != nil {
		return ynab.Delta{}, err
	}
	return ynab.Delta{Entities: append([]ynab.Entity{}, f.categories...), ServerKnowledge: f.catKnowledge}, nil
}

// CreateTransaction implements gateway.Remote.
func (f *FakeRemote) CreateTransaction(_ context.Context, budgetID string, tx json.RawMessage) (json.RawMessage, error) {
	id := rawID(tx)
	if err := f.record("CreateTransaction", budgetID, id); err != nil {
		return nil, err
	}
	return tx, nil
}

// UpdateTransaction implements gateway.Remote.
func (f *FakeRemote) UpdateTransaction(_ context.Context, budgetID, txID string, tx json.RawMessage) (json.RawMessage, error) {
	if err := f.record("UpdateTransaction", budgetID, txID); err != nil {
		return nil, err
	}
	return tx, nil
}

// DeleteTransaction implements gateway.Remote.
func (f *FakeRemote) DeleteTransaction(_ context.Context, budgetID, txID string) error {
	return f.record("DeleteTransaction", budgetID, txID)
}

// UpdateMonthCategory implements gateway.Remote.
func (f *FakeRemote) UpdateMonthCategory(_ context.Context, budgetID, _, categoryID string, _ int64) error {
	return f.record("UpdateMonthCategory", budgetID, categoryID)
}

func (f *FakeRemote) record(method, budgetID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Method: method, BudgetID: budgetID, ID: id})

	errs := f.applyErrs[id]
	if len(errs) == 0 {
		return nil
	}
	f.applyErrs[id] = errs[1:]
	return errs[0]
}

func (f *FakeRemote) nextFetchErr() error {
	if len(f.fetchErrs) == 0 {
		return nil
	}
	err := f.fetchErrs[0]
	f.fetchErrs = f.fetchErrs[1:]
	return err
}

func (f *FakeRemote) waitBlock(ctx context.Context) error {
	f.mu.Lock()
	ch := f.block
	f.mu.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HTTPError builds the API error the real client returns for status.
func HTTPError(status int) error {
	return &ynab.APIError{StatusCode: status, Name: fmt.Sprintf("status_%d", status)}
}

func entities(raws []string) []ynab.Entity {
	out := make([]ynab.Entity, 0, len(raws))
	for _, raw := range raws {
		var e ynab.Entity
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			panic(fmt.Sprintf("testutil: bad entity %q: %v", raw, err))
		}
		out = append(out, e)
	}
	return out
}

func rawID(raw json.RawMessage) string {
	var head struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(raw, &head)
	return head.ID
}

// InstantTimer satisfies backoff.Timer. It fires immediately and records
// each requested delay.
//
// Thread-safety: every Start delivers exactly one tick, so one timer may be
// shared by concurrent retry loops.
type InstantTimer struct {
	mu     sync.Mutex
	delays []time.Duration
	c      chan time.Time
}

// NewInstantTimer creates a timer that never sleeps.
func NewInstantTimer() *InstantTimer {
	return &InstantTimer{c: make(chan time.Time)}
}

// Start records d and fires.
func (t *InstantTimer) Start(d time.Duration) {
	t.mu.Lock()
	t.delays = append(t.delays, d)
	t.mu.Unlock()
	go func() { t.c <- time.Time{} }()
}

// Stop is a no-op.
func (t *InstantTimer) Stop() {}

// C returns the firing channel.
func (t *InstantTimer) C() <-chan time.Time {
	return t.c
}

// Delays returns every delay requested so far.
func (t *InstantTimer) Delays() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]time.Duration(nil), t.delays...)
}
