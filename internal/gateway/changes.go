package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/ynab-sync/internal/model"
	"github.com/roach88/ynab-sync/internal/ynab"
)

// Cursors are the server knowledge values a fetch resumes from.
// Zero means never synced, which requests a full fetch.
type Cursors struct {
	Transactions uint64
	Categories   uint64
}

// FetchOptions selects which entity kinds a fetch covers.
type FetchOptions struct {
	// Categories also fetches category changes.
	Categories bool
}

// ChangeSet is the result of a fetch: the changes to stage and the cursors
// to persist once they have been drained.
type ChangeSet struct {
	Changes []model.Change
	Cursors Cursors

	// CategoriesFetched is true when Cursors.Categories came from the remote.
	CategoriesFetched bool
}

// FetchChanges retrieves remote changes since cursors.
//
// Transactions are always fetched; categories only when opts.Categories is
// set. A full fetch (zero cursor) stages every transaction as create. An
// incremental fetch stages deleted transactions as delete and the rest as
// update. Categories are always staged as update against the current month;
// deleted categories are skipped.
//
// On any failure nothing is returned and the caller's cursors stand.
func (g *Gateway) FetchChanges(ctx context.Context, budgetID string, cursors Cursors, opts FetchOptions) (ChangeSet, error) {
	var txDelta ynab.Delta
	err := g.call(ctx, "fetch transactions", func(ctx context.Context) error {
		var err error
		txDelta, err = g.remote.GetTransactions(ctx, budgetID, cursors.Transactions)
		return err
	})
	if err != nil {
		return ChangeSet{}, err
	}

	set := ChangeSet{
		Changes: []model.Change{},
		Cursors: Cursors{
			Transactions: max(cursors.Transactions, txDelta.ServerKnowledge),
			Categories:   cursors.Categories,
		},
	}
	full := cursors.Transactions == 0
	for _, e := range txDelta.Entities {
		set.Changes = append(set.Changes, transactionChange(e, full))
	}

	if !opts.Categories {
		return set, nil
	}

	var catDelta ynab.Delta
	err = g.call(ctx, "fetch categories", func(ctx context.Context) error {
		var err error
		catDelta, err = g.remote.GetCategories(ctx, budgetID, cursors.Categories)
		return err
	})
	if err != nil {
		return ChangeSet{}, err
	}

	for _, e := range catDelta.Entities {
		if e.Deleted {
			continue
		}
		change, err := categoryChange(e)
		if err != nil {
			return ChangeSet{}, model.NewRemoteError("fetch categories", false, err)
		}
		set.Changes = append(set.Changes, change)
	}
	set.Cursors.Categories = max(cursors.Categories, catDelta.ServerKnowledge)
	set.CategoriesFetched = true
	return set, nil
}

func transactionChange(e ynab.Entity, full bool) model.Change {
	action := model.ActionUpdate
	switch {
	case full:
		action = model.ActionCreate
	case e.Deleted:
		action = model.ActionDelete
	}
	return model.Change{ItemType: model.ItemTransaction, Action: action, Payload: e.Raw}
}

// categoryChange stages a remote category as a month budget update. The
// month defaults to "current" since category listings carry no month.
func categoryChange(e ynab.Entity) (model.Change, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(e.Raw, &fields); err != nil {
		return model.Change{}, fmt.Errorf("decode category %s: %w", e.ID, err)
	}
	if _, ok := fields["month"]; !ok {
		fields["month"] = json.RawMessage(`"current"`)
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return model.Change{}, fmt.Errorf("encode category %s: %w", e.ID, err)
	}
	return model.Change{ItemType: model.ItemCategory, Action: model.ActionUpdate, Payload: raw}, nil
}

// Apply pushes one pending item to the remote API.
//
// Supported combinations are transaction create/update/delete and category
// update. Anything else, or a payload missing the fields the call needs,
// fails with a validation error without contacting the remote.
func (g *Gateway) Apply(ctx context.Context, budgetID string, item model.PendingItem) error {
	const op = "apply"

	switch item.ItemType {
	case model.ItemTransaction:
		switch item.Action {
		case model.ActionCreate:
			return g.call(ctx, "create transaction", func(ctx context.Context) error {
				_, err := g.remote.CreateTransaction(ctx, budgetID, item.Payload)
				return err
			})
		case model.ActionUpdate:
			id, err := payloadID(item)
			if err != nil {
				return err
			}
			return g.call(ctx, "update transaction", func(ctx context.Context) error {
				_, err := g.remote.UpdateTransaction(ctx, budgetID, id, item.Payload)
				return err
			})
		case model.ActionDelete:
			id, err := payloadID(item)
			if err != nil {
				return err
			}
			return g.call(ctx, "delete transaction", func(ctx context.Context) error {
				return g.remote.DeleteTransaction(ctx, budgetID, id)
			})
		}

	case model.ItemCategory:
		if item.Action == model.ActionUpdate {
			var cat struct {
				ID       string `json:"id"`
				Month    string `json:"month"`
				Budgeted *int64 `json:"budgeted"`
			}
			if err := json.Unmarshal(item.Payload, &cat); err != nil {
				return model.WrapValidationError(op, err)
			}
			if cat.ID == "" || cat.Budgeted == nil {
				return model.NewValidationError(op, fmt.Sprintf("category item %s needs id and budgeted", item.ID))
			}
			month := cat.Month
			if month == "" {
				month = "current"
			}
			return g.call(ctx, "update category", func(ctx context.Context) error {
				return g.remote.UpdateMonthCategory(ctx, budgetID, month, cat.ID, *cat.Budgeted)
			})
		}
	}

	return model.NewValidationError(op, fmt.Sprintf("%s %s is not supported by the remote API", item.Action, item.ItemType))
}

func payloadID(item model.PendingItem) (string, error) {
	var head struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(item.Payload, &head); err != nil {
		return "", model.WrapValidationError("apply", err)
	}
	if head.ID == "" {
		return "", model.NewValidationError("apply", fmt.Sprintf("%s item %s has no id", item.ItemType, item.ID))
	}
	return head.ID, nil
}
