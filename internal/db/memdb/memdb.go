// Package memdb хранилище в памяти с той же семантикой, что и db.Store.
// Используется в тестах и при локальном запуске без Postgres.
package memdb

import (
	"context"
	"sort"
	"sync"
	"time"

	"balance-topup-bot/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type paymentKey struct {
	provider model.Provider
	txID     string
}

type Store struct {
	mu       sync.Mutex
	payments map[paymentKey]model.PaymentRecord
	users    map[int64]model.User
	entries  []model.BalanceEntry
	refs     map[string]struct{}
	now      func() time.Time
}

func New() *Store {
	return &Store{
		payments: make(map[paymentKey]model.PaymentRecord),
		users:    make(map[int64]model.User),
		refs:     make(map[string]struct{}),
		now:      time.Now,
	}
}

// SetClock подменяет время для тестов
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Store) CreatePayment(_ context.Context, rec *model.PaymentRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := paymentKey{rec.Provider, rec.TxID}
	if _, ok := s.payments[k]; ok {
		return model.ErrDuplicatePayment
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	now := s.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	stored := *rec
	stored.Metadata = append([]byte(nil), rec.Metadata...)
	s.payments[k] = stored
	return nil
}

func (s *Store) GetPayment(_ context.Context, provider model.Provider, txID string) (model.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.payments[paymentKey{provider, txID}]
	if !ok {
		return model.PaymentRecord{}, model.ErrRecordNotFound
	}
	return rec, nil
}

func (s *Store) CompareAndSetStatus(_ context.Context, provider model.Provider, txID string, expected, next model.Status) (bool, error) {
	if !model.CanTransition(expected, next) {
		return false, &model.TransitionError{Provider: provider, TxID: txID, From: expected, To: next}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := paymentKey{provider, txID}
	rec, ok := s.payments[k]
	if !ok {
		return false, model.ErrRecordNotFound
	}
	if rec.Status != expected {
		return false, nil
	}
	rec.Status = next
	rec.UpdatedAt = s.now()
	s.payments[k] = rec
	return true, nil
}

func (s *Store) GetPaymentsByUser(_ context.Context, userID int64) ([]model.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.PaymentRecord
	for _, rec := range s.payments {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *Store) ListPending(_ context.Context, provider model.Provider, olderThan time.Time) ([]model.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.PaymentRecord
	for _, rec := range s.payments {
		if rec.Provider == provider && rec.Status == model.StatusPending && rec.CreatedAt.Before(olderThan) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListRecentPayments(_ context.Context, limit int) ([]model.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.PaymentRecord, 0, len(s.payments))
	for _, rec := range s.payments {
		out = append(out, rec)
	}
	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) EnsureUser(_ context.Context, userID int64, username string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok {
		return u, nil
	}
	u := model.User{ID: userID, Username: username, Balance: decimal.Zero, Role: model.RoleFree, CreatedAt: s.now()}
	s.users[userID] = u
	return u, nil
}

func (s *Store) GetUser(_ context.Context, userID int64) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return model.User{}, model.ErrUserNotFound
	}
	return u, nil
}

func (s *Store) IncrementCompletedTasks(_ context.Context, userID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return 0, model.ErrUserNotFound
	}
	u.CompletedTasks++
	s.users[userID] = u
	return u.CompletedTasks, nil
}

func (s *Store) DecrementCompletedTasks(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return model.ErrUserNotFound
	}
	if u.CompletedTasks > 0 {
		u.CompletedTasks--
		s.users[userID] = u
	}
	return nil
}

// UpdateBalance держит мьютекс на всё чтение-изменение-запись
func (s *Store) UpdateBalance(_ context.Context, userID int64, reference string, fn func(decimal.Decimal) (decimal.Decimal, error)) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return decimal.Zero, model.ErrUserNotFound
	}
	if reference != "" {
		if _, dup := s.refs[reference]; dup {
			return decimal.Zero, model.ErrAlreadyApplied
		}
	}
	next, err := fn(u.Balance)
	if err != nil {
		return decimal.Zero, err
	}
	if next.IsNegative() {
		return decimal.Zero, model.ErrInsufficientBalance
	}
	entry := model.BalanceEntry{
		UserID:       userID,
		Delta:        next.Sub(u.Balance),
		BalanceAfter: next,
		Reference:    reference,
		CreatedAt:    s.now(),
	}
	u.Balance = next
	s.users[userID] = u
	s.entries = append(s.entries, entry)
	if reference != "" {
		s.refs[reference] = struct{}{}
	}
	return next, nil
}

func (s *Store) Entries(_ context.Context, userID int64) ([]model.BalanceEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.BalanceEntry
	for _, e := range s.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

func sortNewestFirst(recs []model.PaymentRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].TxID > recs[j].TxID
		}
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
}
