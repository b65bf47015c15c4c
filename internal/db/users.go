package db

import (
	"context"
	"errors"
	"fmt"

	"balance-topup-bot/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EnsureUser создаёт пользователя при первом обращении
func (s *Store) EnsureUser(ctx context.Context, userID int64, username string) (model.User, error) {
	user := User{ID: userID, Username: username, Balance: decimal.Zero, Role: string(model.RoleFree)}
	if err := s.db.WithContext(ctx).Where(User{ID: userID}).FirstOrCreate(&user).Error; err != nil {
		return model.User{}, fmt.Errorf("db: ensure user: %w", err)
	}
	return user.toModel(), nil
}

func (s *Store) GetUser(ctx context.Context, userID int64) (model.User, error) {
	var user User
	err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.User{}, model.ErrUserNotFound
	}
	if err != nil {
		return model.User{}, fmt.Errorf("db: get user: %w", err)
	}
	return user.toModel(), nil
}

func (s *Store) IncrementCompletedTasks(ctx context.Context, userID int64) (int, error) {
	var user User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&User{}).Where("id = ?", userID).
			UpdateColumn("completed_tasks", gorm.Expr("completed_tasks + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return model.ErrUserNotFound
		}
		return tx.First(&user, "id = ?", userID).Error
	})
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("db: increment tasks: %w", err)
	}
	return user.CompletedTasks, nil
}

// DecrementCompletedTasks откат счётчика, если награда не зачислена
func (s *Store) DecrementCompletedTasks(ctx context.Context, userID int64) error {
	err := s.db.WithContext(ctx).Model(&User{}).
		Where("id = ? AND completed_tasks > 0", userID).
		UpdateColumn("completed_tasks", gorm.Expr("completed_tasks - 1")).Error
	if err != nil {
		return fmt.Errorf("db: decrement tasks: %w", err)
	}
	return nil
}

// UpdateBalance блокирует строку пользователя (SELECT ... FOR UPDATE) на время
// вычисления нового баланса и записи в журнал
func (s *Store) UpdateBalance(ctx context.Context, userID int64, reference string, fn func(decimal.Decimal) (decimal.Decimal, error)) (decimal.Decimal, error) {
	var result decimal.Decimal
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user User
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, "id = ?", userID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.ErrUserNotFound
		}
		if err != nil {
			return err
		}
		if reference != "" {
			var n int64
			if err := tx.Model(&BalanceEntry{}).Where("reference = ?", reference).Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				return model.ErrAlreadyApplied
			}
		}
		next, err := fn(user.Balance)
		if err != nil {
			return err
		}
		if next.IsNegative() {
			return model.ErrInsufficientBalance
		}
		if err := tx.Model(&user).Update("balance", next).Error; err != nil {
			return err
		}
		entry := BalanceEntry{UserID: userID, Delta: next.Sub(user.Balance), BalanceAfter: next}
		if reference != "" {
			entry.Reference = &reference
		}
		if err := tx.Create(&entry).Error; err != nil {
			if isUniqueViolation(err) {
				return model.ErrAlreadyApplied
			}
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, model.ErrUserNotFound), errors.Is(err, model.ErrAlreadyApplied),
			errors.Is(err, model.ErrInsufficientBalance), errors.Is(err, model.ErrValidation):
			return decimal.Zero, err
		}
		return decimal.Zero, fmt.Errorf("db: update balance: %w", err)
	}
	return result, nil
}

func (s *Store) Entries(ctx context.Context, userID int64) ([]model.BalanceEntry, error) {
	var rows []BalanceEntry
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("db: entries: %w", err)
	}
	out := make([]model.BalanceEntry, 0, len(rows))
	for _, r := range rows {
		e := model.BalanceEntry{UserID: r.UserID, Delta: r.Delta, BalanceAfter: r.BalanceAfter, CreatedAt: r.CreatedAt}
		if r.Reference != nil {
			e.Reference = *r.Reference
		}
		out = append(out, e)
	}
	return out, nil
}

func (u User) toModel() model.User {
	return model.User{
		ID:             u.ID,
		Username:       u.Username,
		Balance:        u.Balance,
		CompletedTasks: u.CompletedTasks,
		Role:           model.Role(u.Role),
		CreatedAt:      u.CreatedAt,
	}
}
