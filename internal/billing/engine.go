package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"balance-topup-bot/internal/model"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaymentStore записи платежей. Статус меняется только через CompareAndSetStatus.
type PaymentStore interface {
	GetPayment(ctx context.Context, provider model.Provider, txID string) (model.PaymentRecord, error)
	CreatePayment(ctx context.Context, rec *model.PaymentRecord) error
	CompareAndSetStatus(ctx context.Context, provider model.Provider, txID string, expected, next model.Status) (bool, error)
	GetPaymentsByUser(ctx context.Context, userID int64) ([]model.PaymentRecord, error)
}

type Ledger interface {
	ApplyDelta(ctx context.Context, userID int64, delta decimal.Decimal, reference string) (decimal.Decimal, error)
}

// Converter перевод суммы в рубли: (рубли, курс)
type Converter interface {
	Convert(ctx context.Context, amount decimal.Decimal, currency string) (decimal.Decimal, decimal.Decimal, error)
}

type Alerter interface {
	NotifyAdmin(msg string)
}

// Engine переводит платёж из pending в терминальный статус и зачисляет баланс
// ровно один раз. Статус меняется до зачисления, никогда после.
type Engine struct {
	store   PaymentStore
	ledger  Ledger
	rates   Converter
	alert   Alerter
	pending *pendingCache
	log     *zap.Logger
}

func NewEngine(store PaymentStore, ledger Ledger, rates Converter, alert Alerter, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		store:   store,
		ledger:  ledger,
		rates:   rates,
		alert:   alert,
		pending: newPendingCache(defaultPendingTTL),
		log:     log,
	}
}

// Apply маршрутизирует проверенное уведомление по заявленному статусу
func (e *Engine) Apply(ctx context.Context, n model.Notification) (model.Reconciliation, error) {
	if n.TxID == "" {
		return model.Reconciliation{}, model.NewValidationError("tx_id", "must not be empty")
	}
	switch n.Status {
	case model.StatusPaid:
		return e.markPaid(ctx, n.Provider, n.TxID, n.Amount, n.Currency)
	case model.StatusExpired, model.StatusFailed:
		return e.markTerminal(ctx, n.Provider, n.TxID, n.Status)
	case model.StatusPending:
		rec, err := e.store.GetPayment(ctx, n.Provider, n.TxID)
		return model.Reconciliation{Record: rec}, err
	}
	return model.Reconciliation{}, model.NewValidationError("status", fmt.Sprintf("unknown status %q", n.Status))
}

// MarkPaid переводит платёж в paid и зачисляет рубли по текущему курсу
func (e *Engine) MarkPaid(ctx context.Context, provider model.Provider, txID string) (model.Reconciliation, error) {
	return e.markPaid(ctx, provider, txID, decimal.Zero, "")
}

func (e *Engine) MarkExpired(ctx context.Context, provider model.Provider, txID string) (model.Reconciliation, error) {
	return e.markTerminal(ctx, provider, txID, model.StatusExpired)
}

func (e *Engine) MarkFailed(ctx context.Context, provider model.Provider, txID string) (model.Reconciliation, error) {
	return e.markTerminal(ctx, provider, txID, model.StatusFailed)
}

func (e *Engine) markPaid(ctx context.Context, provider model.Provider, txID string, claimed decimal.Decimal, claimedCurrency string) (model.Reconciliation, error) {
	log := e.log.With(zap.String("provider", string(provider)), zap.String("tx_id", txID))

	rec, err := e.lookup(ctx, provider, txID)
	if err != nil {
		return model.Reconciliation{}, err
	}
	if rec.Status == model.StatusPaid {
		log.Info("payment already paid, skipping credit")
		return model.Reconciliation{Record: rec, Duplicate: true}, nil
	}
	if rec.Status != model.StatusPending {
		log.Warn("paid notification for terminal payment", zap.String("status", string(rec.Status)))
		e.alertLatePayment(rec)
		return model.Reconciliation{Record: rec}, &model.TransitionError{Provider: provider, TxID: txID, From: rec.Status, To: model.StatusPaid}
	}
	if err := checkClaim(rec, claimed, claimedCurrency); err != nil {
		log.Warn("paid notification does not match payment", zap.Error(err))
		return model.Reconciliation{Record: rec}, err
	}

	won, err := e.store.CompareAndSetStatus(ctx, provider, txID, model.StatusPending, model.StatusPaid)
	if err != nil {
		return model.Reconciliation{Record: rec}, fmt.Errorf("billing: mark paid %s/%s: %w", provider, txID, err)
	}
	if !won {
		// другой вызов успел раньше
		return e.afterLostRace(ctx, provider, txID, model.StatusPaid)
	}
	rec.Status = model.StatusPaid
	e.pending.invalidate(rec.UserID)

	res, err := e.credit(ctx, rec)
	if errors.Is(err, model.ErrAlreadyApplied) {
		log.Warn("credit journal entry already present")
		return model.Reconciliation{Record: rec, Duplicate: true}, nil
	}
	if err != nil {
		cerr := &model.CreditApplicationError{
			Provider: provider, TxID: txID, UserID: rec.UserID,
			Amount: rec.Amount, Currency: rec.Currency, Err: err,
		}
		log.Error("payment marked paid but credit failed", zap.Int64("user_id", rec.UserID), zap.Error(err))
		e.notify(fmt.Sprintf("Платёж %s/%s помечен как оплаченный, но баланс пользователя %d не пополнен: %v. Нужен /admin_replay.",
			provider, txID, rec.UserID, err))
		return model.Reconciliation{Record: rec}, cerr
	}
	log.Info("payment credited",
		zap.Int64("user_id", rec.UserID),
		zap.String("amount", rec.Amount.String()),
		zap.String("currency", rec.Currency),
		zap.String("rate", res.Rate.String()),
		zap.String("credited_rub", res.Credited.String()))
	return res, nil
}

// ReplayCredit повторяет зачисление для платежа, уже помеченного как paid.
// Запись журнала с ключом платежа гарантирует не более одного зачисления.
func (e *Engine) ReplayCredit(ctx context.Context, provider model.Provider, txID string) (model.Reconciliation, error) {
	rec, err := e.lookup(ctx, provider, txID)
	if err != nil {
		return model.Reconciliation{}, err
	}
	if rec.Status != model.StatusPaid {
		return model.Reconciliation{Record: rec}, &model.TransitionError{Provider: provider, TxID: txID, From: rec.Status, To: model.StatusPaid}
	}
	res, err := e.credit(ctx, rec)
	if errors.Is(err, model.ErrAlreadyApplied) {
		return model.Reconciliation{Record: rec, Duplicate: true}, nil
	}
	if err != nil {
		return model.Reconciliation{Record: rec}, &model.CreditApplicationError{
			Provider: provider, TxID: txID, UserID: rec.UserID,
			Amount: rec.Amount, Currency: rec.Currency, Err: err,
		}
	}
	e.log.Info("credit replayed",
		zap.String("provider", string(provider)),
		zap.String("tx_id", txID),
		zap.Int64("user_id", rec.UserID),
		zap.String("credited_rub", res.Credited.String()))
	return res, nil
}

func (e *Engine) markTerminal(ctx context.Context, provider model.Provider, txID string, target model.Status) (model.Reconciliation, error) {
	rec, err := e.lookup(ctx, provider, txID)
	if err != nil {
		return model.Reconciliation{}, err
	}
	if rec.Status == target {
		return model.Reconciliation{Record: rec, Duplicate: true}, nil
	}
	if rec.Status != model.StatusPending {
		return model.Reconciliation{Record: rec}, &model.TransitionError{Provider: provider, TxID: txID, From: rec.Status, To: target}
	}
	won, err := e.store.CompareAndSetStatus(ctx, provider, txID, model.StatusPending, target)
	if err != nil {
		return model.Reconciliation{Record: rec}, fmt.Errorf("billing: mark %s %s/%s: %w", target, provider, txID, err)
	}
	if !won {
		return e.afterLostRace(ctx, provider, txID, target)
	}
	rec.Status = target
	e.pending.invalidate(rec.UserID)
	e.log.Info("payment closed without credit",
		zap.String("provider", string(provider)),
		zap.String("tx_id", txID),
		zap.String("status", string(target)))
	return model.Reconciliation{Record: rec}, nil
}

// afterLostRace перечитывает запись: если она уже в целевом статусе, это идемпотентный успех
func (e *Engine) afterLostRace(ctx context.Context, provider model.Provider, txID string, target model.Status) (model.Reconciliation, error) {
	rec, err := e.lookup(ctx, provider, txID)
	if err != nil {
		return model.Reconciliation{}, err
	}
	e.pending.invalidate(rec.UserID)
	if rec.Status == target {
		return model.Reconciliation{Record: rec, Duplicate: true}, nil
	}
	if target == model.StatusPaid {
		e.alertLatePayment(rec)
	}
	return model.Reconciliation{Record: rec}, &model.TransitionError{Provider: provider, TxID: txID, From: rec.Status, To: target}
}

// alertLatePayment касса не сообщает об истечении заказа, его закрывает наш cron.
// Подтверждённая оплата такого заказа означает деньги без зачисления.
func (e *Engine) alertLatePayment(rec model.PaymentRecord) {
	if rec.Provider != model.ProviderFiat || rec.Status != model.StatusExpired {
		return
	}
	e.log.Error("payment received for locally expired order",
		zap.String("tx_id", rec.TxID), zap.Int64("user_id", rec.UserID), zap.String("amount", rec.Amount.String()))
	e.notify(fmt.Sprintf("Оплата заказа %s на %s %s пришла после его истечения, баланс пользователя %d не пополнен. "+
		"Зачислить вручную: payctl balance --user %d --delta %s --ref %s",
		rec.TxID, rec.Amount.StringFixed(2), rec.Currency, rec.UserID,
		rec.UserID, rec.Amount.StringFixed(2), rec.Reference()))
}

func (e *Engine) lookup(ctx context.Context, provider model.Provider, txID string) (model.PaymentRecord, error) {
	rec, err := e.store.GetPayment(ctx, provider, txID)
	if errors.Is(err, model.ErrRecordNotFound) {
		e.log.Warn("notification for unknown payment",
			zap.String("provider", string(provider)), zap.String("tx_id", txID))
		return model.PaymentRecord{}, err
	}
	if err != nil {
		return model.PaymentRecord{}, fmt.Errorf("billing: get payment %s/%s: %w", provider, txID, err)
	}
	return rec, nil
}

// credit рубли округляются до копеек
func (e *Engine) credit(ctx context.Context, rec model.PaymentRecord) (model.Reconciliation, error) {
	rub, rate, err := e.rates.Convert(ctx, rec.Amount, rec.Currency)
	if err != nil {
		return model.Reconciliation{}, fmt.Errorf("convert %s %s: %w", rec.Amount, rec.Currency, err)
	}
	rub = rub.Round(2)
	if !rub.IsPositive() {
		return model.Reconciliation{}, model.NewValidationError("amount", "converted credit is not positive")
	}
	balance, err := e.ledger.ApplyDelta(ctx, rec.UserID, rub, rec.Reference())
	if err != nil {
		return model.Reconciliation{}, err
	}
	return model.Reconciliation{Record: rec, Credited: rub, Rate: rate, Balance: balance}, nil
}

func (e *Engine) notify(msg string) {
	if e.alert != nil {
		e.alert.NotifyAdmin(msg)
	}
}

// checkClaim сумма и валюта из уведомления, если есть, должны совпадать с записью
func checkClaim(rec model.PaymentRecord, amount decimal.Decimal, currency string) error {
	if !amount.IsZero() && !amount.Equal(rec.Amount) {
		return model.NewValidationError("amount", fmt.Sprintf("claimed %s, expected %s", amount, rec.Amount))
	}
	if currency != "" && !strings.EqualFold(currency, rec.Currency) {
		return model.NewValidationError("currency", fmt.Sprintf("claimed %s, expected %s", currency, rec.Currency))
	}
	return nil
}
