package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ynab-sync/internal/model"
)

func TestGetKnowledge_Missing(t *testing.T) {
	s := createTestStore(t)

	k, found, err := s.GetKnowledge(context.Background(), "budget-1")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, "budget-1", k.BudgetID)
	assert.Zero(t, k.TransactionCursor)
	assert.Zero(t, k.CategoryCursor)
}

func TestUpsertKnowledge_CreatesRow(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	k, err := s.UpsertKnowledge(ctx, "budget-1", model.KnowledgeUpdate{
		TransactionCursor: ptr(uint64(100)),
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(100), k.TransactionCursor)
	assert.Zero(t, k.CategoryCursor)
	assert.Equal(t, testEpoch, k.LastSyncTime, "zero SyncTime defaults to store clock")

	got, found, err := s.GetKnowledge(ctx, "budget-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, k, got)
}

func TestUpsertKnowledge_PartialMerge(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertKnowledge(ctx, "budget-1", model.KnowledgeUpdate{TransactionCursor: ptr(uint64(10))})
	require.NoError(t, err)

	k, err := s.UpsertKnowledge(ctx, "budget-1", model.KnowledgeUpdate{CategoryCursor: ptr(uint64(7))})
	require.NoError(t, err)
	assert.Equal(t, uint64(10), k.TransactionCursor, "nil cursor keeps stored value")
	assert.Equal(t, uint64(7), k.CategoryCursor)
}

func TestUpsertKnowledge_NeverDecreases(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertKnowledge(ctx, "budget-1", model.KnowledgeUpdate{
		TransactionCursor: ptr(uint64(50)),
		CategoryCursor:    ptr(uint64(20)),
	})
	require.NoError(t, err)

	k, err := s.UpsertKnowledge(ctx, "budget-1", model.KnowledgeUpdate{
		TransactionCursor: ptr(uint64(40)),
		CategoryCursor:    ptr(uint64(0)),
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(50), k.TransactionCursor)
	assert.Equal(t, uint64(20), k.CategoryCursor)

	k, err = s.UpsertKnowledge(ctx, "budget-1", model.KnowledgeUpdate{TransactionCursor: ptr(uint64(51))})
	require.NoError(t, err)
	assert.Equal(t, uint64(51), k.TransactionCursor)
}

func TestUpsertKnowledge_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	update := model.KnowledgeUpdate{
		TransactionCursor: ptr(uint64(5)),
		CategoryCursor:    ptr(uint64(6)),
		SyncTime:          testEpoch.Add(time.Minute),
	}
	first, err := s.UpsertKnowledge(ctx, "budget-1", update)
	require.NoError(t, err)
	second, err := s.UpsertKnowledge(ctx, "budget-1", update)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	all, err := s.LoadAllKnowledge(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestUpsertKnowledge_RequiresBudget(t *testing.T) {
	s := createTestStore(t)

	_, err := s.UpsertKnowledge(context.Background(), "", model.KnowledgeUpdate{TransactionCursor: ptr(uint64(1))})
	require.Error(t, err)
	assert.True(t, model.IsValidation(err))
}

func TestLoadAllKnowledge(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	empty, err := s.LoadAllKnowledge(ctx)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	for i, budget := range []string{"budget-a", "budget-b"} {
		_, err := s.UpsertKnowledge(ctx, budget, model.KnowledgeUpdate{TransactionCursor: ptr(uint64(i + 1))})
		require.NoError(t, err)
	}

	all, err := s.LoadAllKnowledge(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, uint64(1), all["budget-a"].TransactionCursor)
	assert.Equal(t, uint64(2), all["budget-b"].TransactionCursor)
}

func TestKnowledge_ClosedStoreReturnsStorageError(t *testing.T) {
	s := createTestStore(t)
	require.NoError(t, s.Close())

	_, _, err := s.GetKnowledge(context.Background(), "budget-1")
	require.Error(t, err)
	assert.True(t, model.IsStorage(err))
}
