package bot

import (
	"context"

	"balance-topup-bot/internal/admin"
	"balance-topup-bot/internal/billing"
	"balance-topup-bot/internal/model"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Payments создание и проверка пополнений
type Payments interface {
	CreateCryptoInvoice(ctx context.Context, userID int64, amount decimal.Decimal, asset string) (billing.CheckoutResult, error)
	CreateFiatPayment(ctx context.Context, userID int64, amountRUB decimal.Decimal) (billing.CheckoutResult, error)
	CheckStatus(ctx context.Context, userID int64) (model.Reconciliation, error)
}

type Accounts interface {
	EnsureUser(ctx context.Context, userID int64, username string) (model.User, error)
	GetUser(ctx context.Context, userID int64) (model.User, error)
}

type Bot struct {
	api      Sender
	payments Payments
	accounts Accounts
	admin    *admin.Admin
	limiter  *RateLimiter
	log      *zap.Logger
}

func New(api Sender, payments Payments, accounts Accounts, adm *admin.Admin, log *zap.Logger) *Bot {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bot{
		api:      api,
		payments: payments,
		accounts: accounts,
		admin:    adm,
		limiter:  NewRateLimiter(adm.IsAdmin),
		log:      log,
	}
}

// Run long polling до отмены контекста
func (b *Bot) Run(ctx context.Context, api *tgbotapi.BotAPI) {
	b.log.Info("authorized on account", zap.String("username", api.Self.UserName))

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := api.GetUpdatesChan(u)
	for {
		select {
		case <-ctx.Done():
			api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.HandleUpdate(ctx, update)
		}
	}
}
