package engine

import (
	"context"
	"sync"

	"github.com/roach88/ynab-sync/internal/gateway"
	"github.com/roach88/ynab-sync/internal/model"
)

// knowledgeCache holds the last persisted knowledge per budget.
// It is never written ahead of the store.
type knowledgeCache struct {
	mu      sync.RWMutex
	entries map[string]model.ServerKnowledge
}

func newKnowledgeCache() *knowledgeCache {
	return &knowledgeCache{entries: make(map[string]model.ServerKnowledge)}
}

func (c *knowledgeCache) load(all map[string]model.ServerKnowledge) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]model.ServerKnowledge, len(all))
	for id, k := range all {
		c.entries[id] = k
	}
}

func (c *knowledgeCache) get(budgetID string) (model.ServerKnowledge, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	k, ok := c.entries[budgetID]
	return k, ok
}

func (c *knowledgeCache) put(k model.ServerKnowledge) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[k.BudgetID] = k
}

// cursors returns the budget's cursors, consulting the store on a cache miss.
// A budget that was never synced has zero cursors.
func (o *Orchestrator) cursors(ctx context.Context, budgetID string) (gateway.Cursors, error) {
	k, ok := o.knowledge.get(budgetID)
	if !ok {
		stored, found, err := o.store.GetKnowledge(ctx, budgetID)
		if err != nil {
			return gateway.Cursors{}, err
		}
		if !found {
			return gateway.Cursors{}, nil
		}
		o.knowledge.put(stored)
		k = stored
	}
	return gateway.Cursors{Transactions: k.TransactionCursor, Categories: k.CategoryCursor}, nil
}

// saveCursors writes the cursors of a drained change set through to the
// store and then the cache. The category cursor is only written when
// categories were fetched.
func (o *Orchestrator) saveCursors(ctx context.Context, budgetID string, set gateway.ChangeSet) error {
	tx := set.Cursors.Transactions
	update := model.KnowledgeUpdate{TransactionCursor: &tx, SyncTime: o.now()}
	if set.CategoriesFetched {
		cat := set.Cursors.Categories
		update.CategoryCursor = &cat
	}

	k, err := o.store.UpsertKnowledge(ctx, budgetID, update)
	if err != nil {
		return err
	}
	o.knowledge.put(k)
	return nil
}
