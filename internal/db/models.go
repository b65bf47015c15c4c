package db

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User баланс в рублях, не может быть отрицательным
type User struct {
	ID             int64           `gorm:"primaryKey;autoIncrement:false"` // Telegram user id
	Username       string          `gorm:"size:64"`
	Balance        decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0;check:chk_users_balance_non_negative,balance >= 0"`
	CompletedTasks int             `gorm:"not null;default:0"`
	Role           string          `gorm:"size:16;not null;default:free"`
	CreatedAt      time.Time
}

// Payment попытка пополнения. (provider, tx_id) уникальны, записи не удаляются.
type Payment struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey"`
	UserID    int64           `gorm:"index;not null"`
	Provider  string          `gorm:"size:16;not null;uniqueIndex:idx_payments_provider_tx"`
	TxID      string          `gorm:"size:128;not null;uniqueIndex:idx_payments_provider_tx"`
	Currency  string          `gorm:"size:16;not null"`
	Amount    decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	Status    string          `gorm:"size:16;not null;index"`
	Metadata  string          `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt time.Time       `gorm:"index"`
	UpdatedAt time.Time
}

// BalanceEntry журнал изменений баланса. Reference NULL для операций без ключа идемпотентности.
type BalanceEntry struct {
	ID           uint            `gorm:"primaryKey"`
	UserID       int64           `gorm:"index;not null"`
	Delta        decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	BalanceAfter decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	Reference    *string         `gorm:"size:200;uniqueIndex"`
	CreatedAt    time.Time
}
