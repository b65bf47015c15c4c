package services

import (
	"context"
	"errors"
	"time"

	"balance-topup-bot/internal/model"

	"go.uber.org/zap"
)

// PendingLister поиск зависших платежей
type PendingLister interface {
	ListPending(ctx context.Context, provider model.Provider, olderThan time.Time) ([]model.PaymentRecord, error)
}

// StatusPoller опрос статуса счёта у провайдера
type StatusPoller interface {
	PollStatus(ctx context.Context, invoiceID string) (model.InvoiceStatus, error)
}

// Sweeper доводит до конца платежи, уведомления по которым потерялись
type Sweeper struct {
	store      PendingLister
	poller     StatusPoller
	engine     Reconciler
	cryptoAge  time.Duration
	pendingTTL time.Duration
	now        func() time.Time
	log        *zap.Logger
}

func NewSweeper(store PendingLister, poller StatusPoller, engine Reconciler, pendingTTL time.Duration, log *zap.Logger) *Sweeper {
	if log == nil {
		log = zap.NewNop()
	}
	if pendingTTL <= 0 {
		pendingTTL = 24 * time.Hour
	}
	return &Sweeper{
		store:      store,
		poller:     poller,
		engine:     engine,
		cryptoAge:  time.Minute,
		pendingTTL: pendingTTL,
		now:        time.Now,
		log:        log,
	}
}

// SweepCrypto опрашивает счета старше минуты. Ошибка опроса оставляет платёж как есть.
func (s *Sweeper) SweepCrypto(ctx context.Context) int {
	recs, err := s.store.ListPending(ctx, model.ProviderCrypto, s.now().Add(-s.cryptoAge))
	if err != nil {
		s.log.Error("sweeper: list pending crypto", zap.Error(err))
		return 0
	}
	closed := 0
	for _, rec := range recs {
		if ctx.Err() != nil {
			break
		}
		st, err := s.poller.PollStatus(ctx, rec.TxID)
		if err != nil {
			if errors.Is(err, model.ErrProviderUnavailable) {
				return closed
			}
			s.log.Warn("sweeper: poll failed", zap.String("tx_id", rec.TxID), zap.Error(err))
			continue
		}
		target := st.PaymentStatus()
		if target == model.StatusPending {
			continue
		}
		if _, err := s.engine.Apply(ctx, model.Notification{Provider: rec.Provider, TxID: rec.TxID, Status: target}); err != nil {
			s.log.Warn("sweeper: apply failed", zap.String("tx_id", rec.TxID), zap.Error(err))
			continue
		}
		closed++
	}
	if closed > 0 {
		s.log.Info("sweeper: crypto payments closed", zap.Int("count", closed))
	}
	return closed
}

// ExpireStaleFiat закрывает заказы кассы без колбэка дольше pendingTTL
func (s *Sweeper) ExpireStaleFiat(ctx context.Context) int {
	recs, err := s.store.ListPending(ctx, model.ProviderFiat, s.now().Add(-s.pendingTTL))
	if err != nil {
		s.log.Error("sweeper: list pending fiat", zap.Error(err))
		return 0
	}
	expired := 0
	for _, rec := range recs {
		_, err := s.engine.Apply(ctx, model.Notification{Provider: rec.Provider, TxID: rec.TxID, Status: model.StatusExpired})
		if err != nil {
			s.log.Warn("sweeper: expire failed", zap.String("tx_id", rec.TxID), zap.Error(err))
			continue
		}
		expired++
	}
	if expired > 0 {
		s.log.Info("sweeper: fiat payments expired", zap.Int("count", expired))
	}
	return expired
}
