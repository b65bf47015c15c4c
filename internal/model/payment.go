package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Provider определяет платёжного провайдера
type Provider string

const (
	ProviderCrypto Provider = "crypto"
	ProviderFiat   Provider = "fiat"
)

func ParseProvider(s string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(s))); p {
	case ProviderCrypto, ProviderFiat:
		return p, nil
	}
	return "", NewValidationError("provider", fmt.Sprintf("unknown provider %q", s))
}

type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusExpired Status = "expired"
	StatusFailed  Status = "failed"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusPaid, StatusExpired, StatusFailed:
		return st, nil
	}
	return "", NewValidationError("status", fmt.Sprintf("unknown status %q", s))
}

// Terminal сообщает, что из статуса нет переходов
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusExpired || s == StatusFailed
}

// CanTransition допускает только pending -> paid|expired|failed
func CanTransition(from, to Status) bool {
	return from == StatusPending && to.Terminal()
}

// PaymentRecord одна попытка пополнения, уникальна по (Provider, TxID)
type PaymentRecord struct {
	ID        uuid.UUID
	UserID    int64
	Provider  Provider
	Currency  string
	Amount    decimal.Decimal
	TxID      string
	Status    Status
	Metadata  json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Reference ключ записи в журнале баланса для зачисления по этому платежу
func (r PaymentRecord) Reference() string {
	return CreditReference(r.Provider, r.TxID)
}

func CreditReference(p Provider, txID string) string {
	return "payment:" + string(p) + ":" + txID
}

// Validate проверяет запись перед сохранением
func (r PaymentRecord) Validate() error {
	if r.UserID <= 0 {
		return NewValidationError("user_id", "must be positive")
	}
	if _, err := ParseProvider(string(r.Provider)); err != nil {
		return err
	}
	if strings.TrimSpace(r.TxID) == "" {
		return NewValidationError("tx_id", "must not be empty")
	}
	if strings.TrimSpace(r.Currency) == "" {
		return NewValidationError("currency", "must not be empty")
	}
	if !r.Amount.IsPositive() {
		return NewValidationError("amount", "must be positive")
	}
	if r.Status != StatusPending {
		return NewValidationError("status", "new payment must be pending")
	}
	return nil
}

// Role уровень доступа пользователя
type Role string

const (
	RoleFree Role = "free"
	RolePro  Role = "pro"
)

type User struct {
	ID             int64
	Username       string
	Balance        decimal.Decimal
	CompletedTasks int
	Role           Role
	CreatedAt      time.Time
}

// BalanceEntry строка журнала изменений баланса
type BalanceEntry struct {
	UserID       int64
	Delta        decimal.Decimal
	BalanceAfter decimal.Decimal
	Reference    string
	CreatedAt    time.Time
}
