package admin

import (
	"context"
	"testing"

	"balance-topup-bot/internal/billing"
	"balance-topup-bot/internal/db/memdb"
	"balance-topup-bot/internal/ledger"
	"balance-topup-bot/internal/model"
	"balance-topup-bot/internal/services"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSender struct {
	texts []string
}

func (c *captureSender) Send(msg tgbotapi.Chattable) (tgbotapi.Message, error) {
	if m, ok := msg.(tgbotapi.MessageConfig); ok {
		c.texts = append(c.texts, m.Text)
	}
	return tgbotapi.Message{}, nil
}

func newAdmin(t *testing.T) (*Admin, *memdb.Store, *billing.Engine) {
	t.Helper()
	store := memdb.New()
	l := ledger.New(store, nil)
	rates := services.NewRateCache(nil, 0, nil)
	engine := billing.NewEngine(store, l, rates, nil, nil)
	rewards := services.NewTaskRewarder(l, store, decimal.NewFromInt(50), nil)
	return New(99, engine, store, rates, rewards, nil), store, engine
}

func TestExecuteReplay(t *testing.T) {
	a, store, _ := newAdmin(t)
	ctx := context.Background()
	_, err := store.EnsureUser(ctx, 42, "alice")
	require.NoError(t, err)
	require.NoError(t, store.CreatePayment(ctx, &model.PaymentRecord{
		UserID: 42, Provider: model.ProviderCrypto, Currency: "TON",
		Amount: decimal.NewFromInt(2), TxID: "500", Status: model.StatusPending,
	}))

	assert.Contains(t, a.Execute(ctx, "admin_replay", "crypto 500"), "статусе pending")

	// статус paid без зачисления: разрыв, который закрывает replay
	_, err = store.CompareAndSetStatus(ctx, model.ProviderCrypto, "500", model.StatusPending, model.StatusPaid)
	require.NoError(t, err)

	assert.Equal(t, "Зачислено 100.00₽ пользователю 42 по курсу 50, баланс 100.00₽", a.Execute(ctx, "admin_replay", "crypto 500"))
	assert.Equal(t, "Зачисление уже было выполнено ранее", a.Execute(ctx, "admin_replay", "crypto 500"))
	assert.Equal(t, "Платёж не найден", a.Execute(ctx, "admin_replay", "fiat 500"))
	assert.Contains(t, a.Execute(ctx, "admin_replay", "paypal 1"), "Неизвестный провайдер")
	assert.Contains(t, a.Execute(ctx, "admin_replay", ""), "Использование")
}

func TestExecuteRates(t *testing.T) {
	a, _, _ := newAdmin(t)
	ctx := context.Background()
	assert.Contains(t, a.Execute(ctx, "admin_setrate", "ton 61.5"), "TON")
	out := a.Execute(ctx, "admin_rates", "")
	assert.Contains(t, out, "TON: 61.5")
	assert.Contains(t, out, "RUB: 1")
	assert.Contains(t, a.Execute(ctx, "admin_setrate", "ton -1"), "Ошибка")
	assert.Equal(t, "Неверный курс", a.Execute(ctx, "admin_setrate", "ton abc"))
}

func TestExecuteRewardAndUser(t *testing.T) {
	a, store, _ := newAdmin(t)
	ctx := context.Background()
	_, err := store.EnsureUser(ctx, 5, "bob")
	require.NoError(t, err)

	assert.Equal(t, "Награда начислена, баланс 50.00₽", a.Execute(ctx, "admin_reward", "5"))
	assert.Equal(t, "Пользователь не найден", a.Execute(ctx, "admin_reward", "6"))
	assert.Equal(t, "User 5 (@bob): баланс 50.00₽, заданий 1, роль free", a.Execute(ctx, "admin_user", "5"))
}

func TestExecutePayments(t *testing.T) {
	a, store, _ := newAdmin(t)
	ctx := context.Background()
	assert.Equal(t, "Платежей нет", a.Execute(ctx, "admin_payments", ""))
	require.NoError(t, store.CreatePayment(ctx, &model.PaymentRecord{
		UserID: 3, Provider: model.ProviderFiat, Currency: "RUB",
		Amount: decimal.NewFromInt(300), TxID: "fk_3_1", Status: model.StatusPending,
	}))
	assert.Contains(t, a.Execute(ctx, "admin_payments", "3"), "fiat/fk_3_1 user=3 300 RUB pending")
	assert.Contains(t, a.Execute(ctx, "admin_payments", ""), "fk_3_1")
	assert.Equal(t, "Неверный user_id", a.Execute(ctx, "admin_payments", "x"))
}

func TestHandleAdminCommandOnlyForAdmin(t *testing.T) {
	a, _, _ := newAdmin(t)
	s := &captureSender{}
	msg := &tgbotapi.Message{
		From:     &tgbotapi.User{ID: 1},
		Chat:     &tgbotapi.Chat{ID: 1},
		Text:     "/admin_rates",
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 12}},
	}
	assert.False(t, a.HandleAdminCommand(context.Background(), s, msg))
	assert.Empty(t, s.texts)

	msg.From.ID = 99
	assert.True(t, a.HandleAdminCommand(context.Background(), s, msg))
	require.Len(t, s.texts, 1)
	assert.Contains(t, s.texts[0], "Курсы к рублю")
}
