package services

import (
	"context"
	"fmt"

	"balance-topup-bot/internal/model"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BalanceLedger все изменения баланса идут через него
type BalanceLedger interface {
	Credit(ctx context.Context, userID int64, amount decimal.Decimal, reference string) (decimal.Decimal, error)
	Debit(ctx context.Context, userID int64, amount decimal.Decimal, reference string) (decimal.Decimal, error)
}

type TaskCounter interface {
	IncrementCompletedTasks(ctx context.Context, userID int64) (int, error)
	DecrementCompletedTasks(ctx context.Context, userID int64) error
}

// TaskRewarder начисляет награду за выполненные задания и списывает оплату
type TaskRewarder struct {
	ledger BalanceLedger
	tasks  TaskCounter
	reward decimal.Decimal
	log    *zap.Logger
}

func NewTaskRewarder(ledger BalanceLedger, tasks TaskCounter, reward decimal.Decimal, log *zap.Logger) *TaskRewarder {
	if log == nil {
		log = zap.NewNop()
	}
	return &TaskRewarder{ledger: ledger, tasks: tasks, reward: reward, log: log}
}

func (t *TaskRewarder) Reward(ctx context.Context, userID int64) (decimal.Decimal, error) {
	if !t.reward.IsPositive() {
		return decimal.Zero, model.NewValidationError("reward", "task reward is not configured")
	}
	done, err := t.tasks.IncrementCompletedTasks(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	ref := fmt.Sprintf("task:%d:%d", userID, done)
	bal, err := t.ledger.Credit(ctx, userID, t.reward, ref)
	if err != nil {
		// задание не засчитывается без оплаты
		if rerr := t.tasks.DecrementCompletedTasks(ctx, userID); rerr != nil {
			t.log.Error("task counter rollback failed",
				zap.Int64("user_id", userID), zap.Int("completed_tasks", done), zap.Error(rerr))
		} else {
			t.log.Warn("task reward failed, counter rolled back",
				zap.Int64("user_id", userID), zap.Int("completed_tasks", done-1), zap.Error(err))
		}
		return decimal.Zero, err
	}
	t.log.Info("task rewarded", zap.Int64("user_id", userID), zap.Int("completed_tasks", done))
	return bal, nil
}

// Charge списание, model.ErrInsufficientBalance возвращается как есть
func (t *TaskRewarder) Charge(ctx context.Context, userID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	return t.ledger.Debit(ctx, userID, amount, "")
}
