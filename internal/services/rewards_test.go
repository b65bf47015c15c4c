package services

import (
	"context"
	"errors"
	"testing"

	"balance-topup-bot/internal/db/memdb"
	"balance-topup-bot/internal/ledger"
	"balance-topup-bot/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskRewarder(t *testing.T) {
	ctx := context.Background()
	store := memdb.New()
	_, err := store.EnsureUser(ctx, 8, "kate")
	require.NoError(t, err)
	r := NewTaskRewarder(ledger.New(store, nil), store, decimal.NewFromInt(50), nil)

	bal, err := r.Reward(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, "50", bal.String())
	bal, err = r.Reward(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, "100", bal.String())

	u, err := store.GetUser(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, 2, u.CompletedTasks)

	_, err = r.Charge(ctx, 8, decimal.NewFromInt(150))
	require.ErrorIs(t, err, model.ErrInsufficientBalance)
	bal, err = r.Charge(ctx, 8, decimal.NewFromInt(30))
	require.NoError(t, err)
	assert.Equal(t, "70", bal.String())

	_, err = r.Reward(ctx, 999)
	require.ErrorIs(t, err, model.ErrUserNotFound)
}

// brokenLedger зачисление всегда падает, как при обрыве соединения с БД
type brokenLedger struct{}

func (brokenLedger) Credit(context.Context, int64, decimal.Decimal, string) (decimal.Decimal, error) {
	return decimal.Zero, errors.New("connection reset")
}

func (brokenLedger) Debit(context.Context, int64, decimal.Decimal, string) (decimal.Decimal, error) {
	return decimal.Zero, errors.New("connection reset")
}

func TestRewardFailureRollsBackTaskCounter(t *testing.T) {
	ctx := context.Background()
	store := memdb.New()
	_, err := store.EnsureUser(ctx, 8, "kate")
	require.NoError(t, err)
	_, err = store.IncrementCompletedTasks(ctx, 8)
	require.NoError(t, err)

	r := NewTaskRewarder(brokenLedger{}, store, decimal.NewFromInt(50), nil)
	_, err = r.Reward(ctx, 8)
	require.Error(t, err)

	u, err := store.GetUser(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, 1, u.CompletedTasks)
	assert.True(t, u.Balance.IsZero())
}
