package logger

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Sender часть tgbotapi.BotAPI, нужная для отправки сообщений
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier отправляет критические уведомления администратору в Telegram.
// Без бота или id администратора сообщения только пишутся в лог.
type Notifier struct {
	bot     Sender
	adminID int64
	log     *zap.Logger
}

func NewNotifier(bot Sender, adminID int64, log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{bot: bot, adminID: adminID, log: log}
}

// NotifyAdmin отправляет критическое уведомление админу
func (n *Notifier) NotifyAdmin(msg string) {
	if n == nil {
		return
	}
	n.log.Warn("admin alert", zap.String("message", msg))
	if n.bot == nil || n.adminID == 0 {
		return
	}
	if _, err := n.bot.Send(tgbotapi.NewMessage(n.adminID, "[ALERT] "+msg)); err != nil {
		n.log.Error("failed to deliver admin alert", zap.Error(err))
	}
}

// NotifyOnPanic ловит панику, логирует и уведомляет
func (n *Notifier) NotifyOnPanic(where string) {
	if r := recover(); r != nil {
		n.NotifyAdmin(fmt.Sprintf("Panic in %s: %v", where, r))
	}
}
