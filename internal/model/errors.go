package model

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrValidation базовая ошибка для некорректных входных данных
	ErrValidation          = errors.New("validation failed")
	ErrRecordNotFound      = errors.New("payment record not found")
	ErrDuplicatePayment    = errors.New("payment already exists")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUserNotFound        = errors.New("user not found")
	ErrAlreadyApplied      = errors.New("balance entry already applied")
	ErrProviderUnavailable = errors.New("payment provider is not configured")
	ErrUnknownCurrency     = errors.New("no exchange rate for currency")
)

type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// TransitionError попытка перехода из неподходящего статуса
type TransitionError struct {
	Provider Provider
	TxID     string
	From     Status
	To       Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("payment %s/%s: cannot move from %s to %s", e.Provider, e.TxID, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// ProviderError сбой при обращении к внешнему провайдеру
type ProviderError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s: http %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable ошибки сети и 5xx можно повторить, 4xx нет
func (e *ProviderError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500 || e.StatusCode == 429
}

// CreditApplicationError статус уже paid, но баланс не изменён.
// Требует ручного вмешательства через повторное зачисление.
type CreditApplicationError struct {
	Provider Provider
	TxID     string
	UserID   int64
	Amount   decimal.Decimal
	Currency string
	Err      error
}

func (e *CreditApplicationError) Error() string {
	return fmt.Sprintf("payment %s/%s marked paid but credit of %s %s to user %d failed: %v",
		e.Provider, e.TxID, e.Amount, e.Currency, e.UserID, e.Err)
}

func (e *CreditApplicationError) Unwrap() error { return e.Err }
