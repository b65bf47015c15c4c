package ledger

import (
	"context"
	"errors"
	"fmt"

	"balance-topup-bot/internal/model"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Store атомарно меняет баланс одного пользователя.
// fn получает текущий баланс под блокировкой строки и возвращает новый.
// Непустой reference пишется в журнал и уникален: повтор даёт model.ErrAlreadyApplied.
type Store interface {
	UpdateBalance(ctx context.Context, userID int64, reference string, fn func(current decimal.Decimal) (decimal.Decimal, error)) (decimal.Decimal, error)
	GetUser(ctx context.Context, userID int64) (model.User, error)
}

// Ledger единственный владелец баланса пользователя
type Ledger struct {
	store Store
	log   *zap.Logger
}

func New(store Store, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{store: store, log: log}
}

// ApplyDelta прибавляет delta к балансу. Отрицательный итог отклоняется.
func (l *Ledger) ApplyDelta(ctx context.Context, userID int64, delta decimal.Decimal, reference string) (decimal.Decimal, error) {
	if delta.IsZero() {
		return decimal.Zero, model.NewValidationError("delta", "must not be zero")
	}
	next, err := l.store.UpdateBalance(ctx, userID, reference, func(current decimal.Decimal) (decimal.Decimal, error) {
		next := current.Add(delta)
		if next.IsNegative() {
			return current, model.ErrInsufficientBalance
		}
		return next, nil
	})
	if err != nil {
		if !errors.Is(err, model.ErrAlreadyApplied) {
			l.log.Warn("balance update rejected",
				zap.Int64("user_id", userID),
				zap.String("delta", delta.String()),
				zap.String("reference", reference),
				zap.Error(err))
		}
		return decimal.Zero, fmt.Errorf("apply delta for user %d: %w", userID, err)
	}
	l.log.Info("balance updated",
		zap.Int64("user_id", userID),
		zap.String("delta", delta.String()),
		zap.String("balance", next.String()),
		zap.String("reference", reference))
	return next, nil
}

// Credit зачисление положительной суммы
func (l *Ledger) Credit(ctx context.Context, userID int64, amount decimal.Decimal, reference string) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, model.NewValidationError("amount", "credit must be positive")
	}
	return l.ApplyDelta(ctx, userID, amount, reference)
}

// Debit списание, баланс не уходит в минус
func (l *Ledger) Debit(ctx context.Context, userID int64, amount decimal.Decimal, reference string) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, model.NewValidationError("amount", "debit must be positive")
	}
	return l.ApplyDelta(ctx, userID, amount.Neg(), reference)
}

func (l *Ledger) Balance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	u, err := l.store.GetUser(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return u.Balance, nil
}
