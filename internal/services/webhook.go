package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"balance-topup-bot/internal/model"

	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// Reconciler движок зачислений
type Reconciler interface {
	Apply(ctx context.Context, n model.Notification) (model.Reconciliation, error)
}

type Alerter interface {
	NotifyAdmin(msg string)
}

// WebhookHandler принимает уведомления провайдеров. Отказ в проверке даёт 400
// без подробностей, всё остальное подтверждается 200 независимо от исхода.
type WebhookHandler struct {
	crypto *CryptoBot
	fiat   *FreeKassa
	engine Reconciler
	alert  Alerter
	log    *zap.Logger
}

func NewWebhookHandler(crypto *CryptoBot, fiat *FreeKassa, engine Reconciler, alert Alerter, log *zap.Logger) *WebhookHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WebhookHandler{crypto: crypto, fiat: fiat, engine: engine, alert: alert, log: log}
}

func (h *WebhookHandler) reject(w http.ResponseWriter, provider string, err error) {
	h.log.Warn("webhook rejected", zap.String("provider", provider), zap.Error(err))
	http.Error(w, "bad request", http.StatusBadRequest)
}

func (h *WebhookHandler) recoverPanic(w http.ResponseWriter, where string) {
	if r := recover(); r != nil {
		h.log.Error("panic in webhook", zap.String("handler", where), zap.Any("panic", r))
		if h.alert != nil {
			h.alert.NotifyAdmin(fmt.Sprintf("Panic in %s: %v", where, r))
		}
		w.WriteHeader(http.StatusInternalServerError)
	}
}

// CryptoBot POST /webhook/cryptobot. Уведомление без подписи, поэтому перед
// зачислением статус счёта перезапрашивается у провайдера.
func (h *WebhookHandler) CryptoBot(w http.ResponseWriter, r *http.Request) {
	defer h.recoverPanic(w, "CryptoBotWebhook")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.reject(w, "crypto", err)
		return
	}
	upd, err := h.crypto.ParseNotification(body)
	if err != nil {
		h.reject(w, "crypto", err)
		return
	}
	n := upd.Notification()
	log := h.log.With(zap.String("provider", "crypto"), zap.String("tx_id", n.TxID), zap.String("update_type", upd.UpdateType))

	if n.Status == model.StatusPaid {
		polled, err := h.crypto.PollStatus(r.Context(), n.TxID)
		if err != nil {
			log.Warn("could not confirm paid webhook, left for sweeper", zap.Error(err))
			writeOK(w, "ok")
			return
		}
		if polled != model.InvoicePaid {
			log.Warn("paid webhook not confirmed by provider", zap.String("polled_status", string(polled)))
		}
		n.Status = polled.PaymentStatus()
	}
	h.apply(r.Context(), log, n)
	writeOK(w, "ok")
}

// FreeKassa POST /webhook/freekassa, касса ждёт в ответ YES
func (h *WebhookHandler) FreeKassa(w http.ResponseWriter, r *http.Request) {
	defer h.recoverPanic(w, "FreeKassaWebhook")
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
	if err := r.ParseForm(); err != nil {
		h.reject(w, "fiat", err)
		return
	}
	fn, err := h.fiat.VerifyNotification(r.PostForm)
	if err != nil {
		h.reject(w, "fiat", err)
		return
	}
	n := fn.Notification()
	h.apply(r.Context(), h.log.With(zap.String("provider", "fiat"), zap.String("tx_id", n.TxID)), n)
	writeOK(w, "YES")
}

func (h *WebhookHandler) apply(ctx context.Context, log *zap.Logger, n model.Notification) {
	if n.Status == model.StatusPending {
		return
	}
	res, err := h.engine.Apply(ctx, n)
	var cerr *model.CreditApplicationError
	switch {
	case err == nil && res.Duplicate:
		log.Info("duplicate notification acknowledged", zap.String("status", string(res.Record.Status)))
	case err == nil:
		log.Info("notification applied", zap.String("status", string(res.Record.Status)),
			zap.String("credited_rub", res.Credited.String()))
	case errors.As(err, &cerr):
		// движок уже отправил алерт администратору
		log.Error("notification accepted with credit gap", zap.Error(err))
	default:
		log.Warn("notification not applied", zap.Error(err))
	}
}

func writeOK(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

// NewRouter маршруты HTTP-сервера: вебхуки под лимитером и health
func NewRouter(h *WebhookHandler, limiter *IPRateLimiter, mw func(http.Handler) http.Handler) http.Handler {
	if mw == nil {
		mw = func(next http.Handler) http.Handler { return next }
	}
	mux := http.NewServeMux()
	mux.Handle("POST /webhook/cryptobot", mw(limiter.Middleware(http.HandlerFunc(h.CryptoBot))))
	mux.Handle("POST /webhook/freekassa", mw(limiter.Middleware(http.HandlerFunc(h.FreeKassa))))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, "ok")
	})
	return mux
}
