package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"balance-topup-bot/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func (s *Store) CreatePayment(ctx context.Context, rec *model.PaymentRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	meta := "{}"
	if len(rec.Metadata) > 0 {
		if !json.Valid(rec.Metadata) {
			return model.NewValidationError("metadata", "must be valid JSON")
		}
		meta = string(rec.Metadata)
	}
	row := Payment{
		ID:        rec.ID,
		UserID:    rec.UserID,
		Provider:  string(rec.Provider),
		TxID:      rec.TxID,
		Currency:  rec.Currency,
		Amount:    rec.Amount,
		Status:    string(rec.Status),
		Metadata:  meta,
		CreatedAt: rec.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return model.ErrDuplicatePayment
		}
		return fmt.Errorf("db: create payment: %w", err)
	}
	rec.CreatedAt = row.CreatedAt
	rec.UpdatedAt = row.UpdatedAt
	return nil
}

func (s *Store) GetPayment(ctx context.Context, provider model.Provider, txID string) (model.PaymentRecord, error) {
	var row Payment
	err := s.db.WithContext(ctx).Where("provider = ? AND tx_id = ?", string(provider), txID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.PaymentRecord{}, model.ErrRecordNotFound
	}
	if err != nil {
		return model.PaymentRecord{}, fmt.Errorf("db: get payment: %w", err)
	}
	return row.toModel(), nil
}

// CompareAndSetStatus условный UPDATE: ровно один конкурентный вызов увидит RowsAffected == 1
func (s *Store) CompareAndSetStatus(ctx context.Context, provider model.Provider, txID string, expected, next model.Status) (bool, error) {
	if !model.CanTransition(expected, next) {
		return false, &model.TransitionError{Provider: provider, TxID: txID, From: expected, To: next}
	}
	res := s.db.WithContext(ctx).Model(&Payment{}).
		Where("provider = ? AND tx_id = ? AND status = ?", string(provider), txID, string(expected)).
		Updates(map[string]interface{}{"status": string(next), "updated_at": time.Now()})
	if res.Error != nil {
		return false, fmt.Errorf("db: cas status: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&Payment{}).Where("provider = ? AND tx_id = ?", string(provider), txID).Count(&n).Error; err != nil {
		return false, fmt.Errorf("db: cas status: %w", err)
	}
	if n == 0 {
		return false, model.ErrRecordNotFound
	}
	return false, nil
}

func (s *Store) GetPaymentsByUser(ctx context.Context, userID int64) ([]model.PaymentRecord, error) {
	var rows []Payment
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at desc, tx_id desc").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("db: payments by user: %w", err)
	}
	return toModels(rows), nil
}

// ListPending платежи провайдера в статусе pending, созданные раньше olderThan
func (s *Store) ListPending(ctx context.Context, provider model.Provider, olderThan time.Time) ([]model.PaymentRecord, error) {
	var rows []Payment
	err := s.db.WithContext(ctx).
		Where("provider = ? AND status = ? AND created_at < ?", string(provider), string(model.StatusPending), olderThan).
		Order("created_at asc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("db: list pending: %w", err)
	}
	return toModels(rows), nil
}

func (s *Store) ListRecentPayments(ctx context.Context, limit int) ([]model.PaymentRecord, error) {
	var rows []Payment
	q := s.db.WithContext(ctx).Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("db: recent payments: %w", err)
	}
	return toModels(rows), nil
}

func (p Payment) toModel() model.PaymentRecord {
	return model.PaymentRecord{
		ID:        p.ID,
		UserID:    p.UserID,
		Provider:  model.Provider(p.Provider),
		Currency:  p.Currency,
		Amount:    p.Amount,
		TxID:      p.TxID,
		Status:    model.Status(p.Status),
		Metadata:  json.RawMessage(p.Metadata),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func toModels(rows []Payment) []model.PaymentRecord {
	out := make([]model.PaymentRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out
}
