package model

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// InvoiceStatus статус счёта у крипто-провайдера
type InvoiceStatus string

const (
	InvoiceActive  InvoiceStatus = "active"
	InvoicePaid    InvoiceStatus = "paid"
	InvoiceExpired InvoiceStatus = "expired"
)

// PaymentStatus перевод статуса счёта в статус платежа
func (s InvoiceStatus) PaymentStatus() Status {
	switch s {
	case InvoicePaid:
		return StatusPaid
	case InvoiceExpired:
		return StatusExpired
	}
	return StatusPending
}

// Invoice счёт, созданный у провайдера
type Invoice struct {
	ID     string
	PayURL string
	Asset  string
	Amount decimal.Decimal
	Status InvoiceStatus
	Raw    json.RawMessage
}

// Notification проверенное сообщение провайдера о смене статуса.
// Amount и Currency пустые, если провайдер их не прислал.
type Notification struct {
	Provider Provider
	TxID     string
	Status   Status
	Amount   decimal.Decimal
	Currency string
}

// Reconciliation итог обработки уведомления движком
type Reconciliation struct {
	Record PaymentRecord
	// Duplicate запись уже была в целевом статусе, баланс не менялся
	Duplicate bool
	Credited  decimal.Decimal
	Rate      decimal.Decimal
	Balance   decimal.Decimal
}
