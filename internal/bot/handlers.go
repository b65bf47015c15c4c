package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"balance-topup-bot/internal/billing"
	"balance-topup-bot/internal/model"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const helpText = "Пополнение баланса:\n" +
	"/topup: быстрый выбор суммы\n" +
	"/topup_rub <сумма>: картой через FreeKassa\n" +
	"/topup_ton <сумма>, /topup_usdt <сумма>, /topup_btc <сумма>: через CryptoBot\n" +
	"/check: проверить последний платёж\n" +
	"/balance: текущий баланс"

func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	// Пользователь создаётся при первом обращении
	if from := update.SentFrom(); from != nil {
		if _, err := b.accounts.EnsureUser(ctx, from.ID, from.UserName); err != nil {
			b.log.Error("ensure user failed", zap.Int64("user_id", from.ID), zap.Error(err))
		}
	}

	if cq := update.CallbackQuery; cq != nil {
		b.handleCallback(ctx, cq)
		return
	}
	msg := update.Message
	if msg == nil || msg.From == nil || !msg.IsCommand() {
		return
	}
	if b.admin.HandleAdminCommand(ctx, b.api, msg) {
		return
	}
	cmd := msg.Command()
	if b.limiter.IsLimited(msg.From.ID, cmd) {
		b.reply(msg.Chat.ID, "Слишком часто, попробуйте через несколько секунд")
		return
	}
	switch cmd {
	case "start", "help":
		out := tgbotapi.NewMessage(msg.Chat.ID, helpText)
		out.ReplyMarkup = GetReplyKeyboard(b.admin.IsAdmin(msg.From.ID))
		b.send(out)
	case "topup":
		out := tgbotapi.NewMessage(msg.Chat.ID, "Выберите сумму пополнения:")
		out.ReplyMarkup = topUpKeyboard()
		b.send(out)
	case "balance":
		b.handleBalance(ctx, msg.Chat.ID, msg.From.ID)
	case "topup_ton", "topup_usdt", "topup_btc", "topup_rub":
		asset := strings.ToUpper(strings.TrimPrefix(cmd, "topup_"))
		amount, err := parseAmount(msg.CommandArguments())
		if err != nil {
			b.reply(msg.Chat.ID, fmt.Sprintf("Укажите сумму: /%s 100", cmd))
			return
		}
		b.topUp(ctx, msg.Chat.ID, msg.From.ID, asset, amount)
	case "check":
		b.handleCheck(ctx, msg.Chat.ID, msg.From.ID)
	default:
		b.reply(msg.Chat.ID, helpText)
	}
}

// callback вида topup_<asset>_<amount>
func (b *Bot) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq.Message == nil || cq.From == nil {
		return
	}
	parts := strings.Split(cq.Data, "_")
	if len(parts) != 3 || parts[0] != "topup" {
		b.answer(cq.ID, "Неизвестное действие")
		return
	}
	amount, err := parseAmount(parts[2])
	if err != nil {
		b.answer(cq.ID, "Неверная сумма")
		return
	}
	if b.limiter.IsLimited(cq.From.ID, "topup_"+parts[1]) {
		b.answer(cq.ID, "Слишком часто")
		return
	}
	b.answer(cq.ID, "")
	b.topUp(ctx, cq.Message.Chat.ID, cq.From.ID, strings.ToUpper(parts[1]), amount)
}

func (b *Bot) topUp(ctx context.Context, chatID, userID int64, asset string, amount decimal.Decimal) {
	var (
		res billing.CheckoutResult
		err error
	)
	if asset == "RUB" {
		res, err = b.payments.CreateFiatPayment(ctx, userID, amount)
	} else {
		res, err = b.payments.CreateCryptoInvoice(ctx, userID, amount, asset)
	}
	if err != nil {
		b.log.Warn("top-up failed", zap.Int64("user_id", userID), zap.String("asset", asset), zap.Error(err))
		b.reply(chatID, userMessage(err))
		return
	}
	var text string
	if asset == "RUB" {
		text = fmt.Sprintf("Счёт на %s₽ создан.\nОплатить: %s\nПосле оплаты баланс пополнится автоматически.",
			res.Record.Amount.StringFixed(2), res.PayURL)
	} else {
		text = fmt.Sprintf("Счёт на %s %s (≈ %s₽) создан.\nОплатить: %s\nПосле оплаты нажмите /check.",
			res.Record.Amount, asset, res.EstimateRUB.StringFixed(2), res.PayURL)
	}
	b.reply(chatID, text)
}

func (b *Bot) handleBalance(ctx context.Context, chatID, userID int64) {
	u, err := b.accounts.GetUser(ctx, userID)
	if err != nil {
		b.reply(chatID, userMessage(err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Ваш баланс: %s₽", u.Balance.StringFixed(2)))
}

func (b *Bot) handleCheck(ctx context.Context, chatID, userID int64) {
	res, err := b.payments.CheckStatus(ctx, userID)
	if err != nil {
		if errors.Is(err, model.ErrRecordNotFound) {
			b.reply(chatID, "Нет ожидающих оплаты платежей")
			return
		}
		b.reply(chatID, userMessage(err))
		return
	}
	switch res.Record.Status {
	case model.StatusPaid:
		if res.Duplicate {
			b.reply(chatID, "Платёж уже зачислен")
			return
		}
		b.reply(chatID, fmt.Sprintf("Оплата получена! Зачислено %s₽, баланс %s₽",
			res.Credited.StringFixed(2), res.Balance.StringFixed(2)))
	case model.StatusExpired:
		b.reply(chatID, "Срок оплаты счёта истёк. Создайте новый.")
	default:
		b.reply(chatID, "Платёж ещё не оплачен")
	}
}

func userMessage(err error) string {
	var cerr *model.CreditApplicationError
	var perr *model.ProviderError
	switch {
	case errors.Is(err, model.ErrValidation):
		return "Неверные параметры платежа"
	case errors.Is(err, model.ErrProviderUnavailable):
		return "Этот способ оплаты сейчас недоступен"
	case errors.Is(err, model.ErrDuplicatePayment):
		return "Платёж уже создаётся, попробуйте через секунду"
	case errors.Is(err, model.ErrUserNotFound):
		return "Пользователь не найден, отправьте /start"
	case errors.As(err, &cerr):
		return "Оплата получена, зачисление задерживается. Администратор уже уведомлён."
	case errors.As(err, &perr):
		return "Платёжная система не отвечает, попробуйте позже"
	}
	return "Произошла ошибка, попробуйте позже"
}

func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if !amount.IsPositive() {
		return decimal.Zero, model.NewValidationError("amount", "must be positive")
	}
	return amount, nil
}

func (b *Bot) reply(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.api.Send(c); err != nil {
		b.log.Warn("telegram send failed", zap.Error(err))
	}
}

func (b *Bot) answer(id, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(id, text)); err != nil {
		b.log.Warn("callback answer failed", zap.Error(err))
	}
}
