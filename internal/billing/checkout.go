package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"balance-topup-bot/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxOrderAttempts = 3

// CryptoAssets монеты, которыми можно пополнить баланс
var CryptoAssets = []string{"TON", "USDT", "BTC"}

// InvoiceIssuer крипто-провайдер: выставление счёта и опрос статуса
type InvoiceIssuer interface {
	CreateInvoice(ctx context.Context, amount decimal.Decimal, asset, description, payload string) (model.Invoice, error)
	PollStatus(ctx context.Context, invoiceID string) (model.InvoiceStatus, error)
}

// LinkSigner фиатный провайдер: подписанная ссылка на оплату
type LinkSigner interface {
	BuildPayURL(amount decimal.Decimal, orderID, currency string) (string, error)
}

// Checkout создание платежей и проверка статуса по запросу пользователя
type Checkout struct {
	engine *Engine
	crypto InvoiceIssuer
	fiat   LinkSigner
	now    func() time.Time
	log    *zap.Logger
}

func NewCheckout(engine *Engine, crypto InvoiceIssuer, fiat LinkSigner, log *zap.Logger) *Checkout {
	if log == nil {
		log = zap.NewNop()
	}
	return &Checkout{engine: engine, crypto: crypto, fiat: fiat, now: time.Now, log: log}
}

type CheckoutResult struct {
	Record      model.PaymentRecord
	PayURL      string
	EstimateRUB decimal.Decimal
}

func supportedAsset(asset string) (string, bool) {
	a := strings.ToUpper(strings.TrimSpace(asset))
	for _, s := range CryptoAssets {
		if s == a {
			return a, true
		}
	}
	return "", false
}

// CreateCryptoInvoice выставляет счёт и сохраняет pending-платёж с id счёта
func (c *Checkout) CreateCryptoInvoice(ctx context.Context, userID int64, amount decimal.Decimal, asset string) (CheckoutResult, error) {
	a, ok := supportedAsset(asset)
	if !ok {
		return CheckoutResult{}, model.NewValidationError("asset", fmt.Sprintf("unsupported asset %q", asset))
	}
	if !amount.IsPositive() {
		return CheckoutResult{}, model.NewValidationError("amount", "must be positive")
	}
	if c.crypto == nil {
		return CheckoutResult{}, model.ErrProviderUnavailable
	}
	estimate, _, err := c.engine.rates.Convert(ctx, amount, a)
	if err != nil {
		return CheckoutResult{}, err
	}
	description := fmt.Sprintf("Пополнение баланса на %s %s", amount, a)
	inv, err := c.crypto.CreateInvoice(ctx, amount, a, description, strconv.FormatInt(userID, 10))
	if err != nil {
		return CheckoutResult{}, err
	}
	rec := model.PaymentRecord{
		UserID:   userID,
		Provider: model.ProviderCrypto,
		Currency: a,
		Amount:   amount,
		TxID:     inv.ID,
		Status:   model.StatusPending,
		Metadata: inv.Raw,
	}
	if err := c.engine.store.CreatePayment(ctx, &rec); err != nil {
		c.log.Error("invoice created but payment not recorded",
			zap.Int64("user_id", userID), zap.String("invoice_id", inv.ID), zap.Error(err))
		return CheckoutResult{}, fmt.Errorf("billing: record invoice %s: %w", inv.ID, err)
	}
	c.engine.pending.put(rec)
	c.log.Info("crypto invoice created",
		zap.Int64("user_id", userID), zap.String("invoice_id", inv.ID),
		zap.String("amount", amount.String()), zap.String("asset", a))
	return CheckoutResult{Record: rec, PayURL: inv.PayURL, EstimateRUB: estimate.Round(2)}, nil
}

// CreateFiatPayment заказ fk_<user>_<unix> на сумму в рублях. При совпадении
// номера в ту же секунду добавляется короткий случайный суффикс.
func (c *Checkout) CreateFiatPayment(ctx context.Context, userID int64, amountRUB decimal.Decimal) (CheckoutResult, error) {
	if !amountRUB.IsPositive() {
		return CheckoutResult{}, model.NewValidationError("amount", "must be positive")
	}
	if c.fiat == nil {
		return CheckoutResult{}, model.ErrProviderUnavailable
	}
	amount := amountRUB.Round(2)
	base := fmt.Sprintf("fk_%d_%d", userID, c.now().Unix())
	meta, _ := json.Marshal(map[string]string{"provider": "freekassa"})

	orderID := base
	for attempt := 0; ; attempt++ {
		payURL, err := c.fiat.BuildPayURL(amount, orderID, "RUB")
		if err != nil {
			return CheckoutResult{}, err
		}
		rec := model.PaymentRecord{
			UserID:   userID,
			Provider: model.ProviderFiat,
			Currency: "RUB",
			Amount:   amount,
			TxID:     orderID,
			Status:   model.StatusPending,
			Metadata: meta,
		}
		err = c.engine.store.CreatePayment(ctx, &rec)
		if errors.Is(err, model.ErrDuplicatePayment) && attempt < maxOrderAttempts-1 {
			orderID = base + "_" + uuid.NewString()[:8]
			continue
		}
		if err != nil {
			return CheckoutResult{}, fmt.Errorf("billing: record order %s: %w", orderID, err)
		}
		c.engine.pending.put(rec)
		c.log.Info("fiat payment created",
			zap.Int64("user_id", userID), zap.String("order_id", orderID), zap.String("amount", amount.String()))
		return CheckoutResult{Record: rec, PayURL: payURL, EstimateRUB: amount}, nil
	}
}

// CheckStatus проверяет последний незавершённый платёж пользователя.
// Крипто-счёт опрашивается у провайдера, фиат ждёт колбэка кассы.
func (c *Checkout) CheckStatus(ctx context.Context, userID int64) (model.Reconciliation, error) {
	rec, err := c.latestPending(ctx, userID)
	if err != nil {
		return model.Reconciliation{}, err
	}
	if rec.Provider != model.ProviderCrypto {
		return model.Reconciliation{Record: rec}, nil
	}
	if c.crypto == nil {
		return model.Reconciliation{Record: rec}, model.ErrProviderUnavailable
	}
	st, err := c.crypto.PollStatus(ctx, rec.TxID)
	if err != nil {
		c.log.Warn("status poll failed, payment left pending",
			zap.String("tx_id", rec.TxID), zap.Error(err))
		return model.Reconciliation{Record: rec}, err
	}
	switch st {
	case model.InvoicePaid:
		return c.engine.MarkPaid(ctx, rec.Provider, rec.TxID)
	case model.InvoiceExpired:
		return c.engine.MarkExpired(ctx, rec.Provider, rec.TxID)
	}
	return model.Reconciliation{Record: rec}, nil
}

func (c *Checkout) latestPending(ctx context.Context, userID int64) (model.PaymentRecord, error) {
	if provider, txID, ok := c.engine.pending.get(userID); ok {
		rec, err := c.engine.store.GetPayment(ctx, provider, txID)
		if err == nil && rec.Status == model.StatusPending {
			return rec, nil
		}
		if err != nil && !errors.Is(err, model.ErrRecordNotFound) {
			return model.PaymentRecord{}, err
		}
		c.engine.pending.invalidate(userID)
	}
	recs, err := c.engine.store.GetPaymentsByUser(ctx, userID)
	if err != nil {
		return model.PaymentRecord{}, err
	}
	for _, rec := range recs {
		if rec.Status == model.StatusPending {
			c.engine.pending.put(rec)
			return rec, nil
		}
	}
	return model.PaymentRecord{}, model.ErrRecordNotFound
}
