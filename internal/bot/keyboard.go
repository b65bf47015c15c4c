package bot

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func GetReplyKeyboard(isAdmin bool) tgbotapi.ReplyKeyboardMarkup {
	if isAdmin {
		return tgbotapi.NewReplyKeyboard(
			tgbotapi.NewKeyboardButtonRow(
				tgbotapi.NewKeyboardButton("/admin_payments"),
				tgbotapi.NewKeyboardButton("/admin_rates"),
			),
			tgbotapi.NewKeyboardButtonRow(
				tgbotapi.NewKeyboardButton("/balance"),
				tgbotapi.NewKeyboardButton("/check"),
			),
		)
	}
	return tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("/balance"),
			tgbotapi.NewKeyboardButton("/check"),
		),
	)
}

// topUpKeyboard быстрые суммы пополнения
func topUpKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("100 ₽", "topup_rub_100"),
			tgbotapi.NewInlineKeyboardButtonData("500 ₽", "topup_rub_500"),
			tgbotapi.NewInlineKeyboardButtonData("1000 ₽", "topup_rub_1000"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("5 TON", "topup_ton_5"),
			tgbotapi.NewInlineKeyboardButtonData("10 USDT", "topup_usdt_10"),
		),
	)
}
