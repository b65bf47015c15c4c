package admin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"balance-topup-bot/internal/logger"
	"balance-topup-bot/internal/model"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const recentLimit = 20

type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Replayer interface {
	ReplayCredit(ctx context.Context, provider model.Provider, txID string) (model.Reconciliation, error)
}

type PaymentLister interface {
	GetPaymentsByUser(ctx context.Context, userID int64) ([]model.PaymentRecord, error)
	ListRecentPayments(ctx context.Context, limit int) ([]model.PaymentRecord, error)
	GetUser(ctx context.Context, userID int64) (model.User, error)
}

type RateTable interface {
	Snapshot() map[string]decimal.Decimal
	Set(currency string, rate decimal.Decimal) error
}

type Rewarder interface {
	Reward(ctx context.Context, userID int64) (decimal.Decimal, error)
}

// Admin команды администратора
type Admin struct {
	adminID  int64
	engine   Replayer
	payments PaymentLister
	rates    RateTable
	rewards  Rewarder
	backups  *Backups
	log      *zap.Logger
}

func New(adminID int64, engine Replayer, payments PaymentLister, rates RateTable, rewards Rewarder, log *zap.Logger) *Admin {
	if log == nil {
		log = zap.NewNop()
	}
	return &Admin{adminID: adminID, engine: engine, payments: payments, rates: rates, rewards: rewards, log: log}
}

// WithBackups включает /admin_backup
func (a *Admin) WithBackups(b *Backups) *Admin {
	a.backups = b
	return a
}

func (a *Admin) IsAdmin(userID int64) bool {
	return a != nil && a.adminID != 0 && userID == a.adminID
}

// HandleAdminCommand возвращает false, если сообщение не админская команда
func (a *Admin) HandleAdminCommand(ctx context.Context, bot Sender, msg *tgbotapi.Message) bool {
	if msg == nil || msg.From == nil || !a.IsAdmin(msg.From.ID) || !strings.HasPrefix(msg.Command(), "admin_") {
		return false
	}
	reply := a.Execute(ctx, msg.Command(), msg.CommandArguments())
	if _, err := bot.Send(tgbotapi.NewMessage(msg.Chat.ID, reply)); err != nil {
		a.log.Warn("admin reply failed", zap.Error(err))
	}
	logger.LogAdminAction(a.log, a.adminID, msg.Command(), msg.Text)
	return true
}

// Execute выполняет команду и возвращает текст ответа
func (a *Admin) Execute(ctx context.Context, cmd, rawArgs string) string {
	args := strings.Fields(rawArgs)
	switch cmd {
	case "admin_payments":
		return a.handlePayments(ctx, args)
	case "admin_replay":
		return a.handleReplay(ctx, args)
	case "admin_rates":
		return a.handleRates()
	case "admin_setrate":
		return a.handleSetRate(args)
	case "admin_reward":
		return a.handleReward(ctx, args)
	case "admin_user":
		return a.handleUser(ctx, args)
	case "admin_backup":
		return a.handleBackup(ctx)
	}
	return "Неизвестная команда. Доступно: /admin_payments, /admin_replay, /admin_rates, /admin_setrate, /admin_reward, /admin_user, /admin_backup"
}

func formatPayments(pays []model.PaymentRecord) string {
	if len(pays) == 0 {
		return "Платежей нет"
	}
	var sb strings.Builder
	for _, p := range pays {
		sb.WriteString(fmt.Sprintf("%s %s/%s user=%d %s %s %s\n",
			p.CreatedAt.Format("02.01 15:04"), p.Provider, p.TxID, p.UserID, p.Amount, p.Currency, p.Status))
	}
	return sb.String()
}

// /admin_payments [user_id]
func (a *Admin) handlePayments(ctx context.Context, args []string) string {
	var pays []model.PaymentRecord
	var err error
	if len(args) == 0 {
		pays, err = a.payments.ListRecentPayments(ctx, recentLimit)
	} else {
		userID, perr := strconv.ParseInt(args[0], 10, 64)
		if perr != nil {
			return "Неверный user_id"
		}
		pays, err = a.payments.GetPaymentsByUser(ctx, userID)
	}
	if err != nil {
		return "Ошибка: " + err.Error()
	}
	return formatPayments(pays)
}

// /admin_replay <crypto|fiat> <tx_id>
func (a *Admin) handleReplay(ctx context.Context, args []string) string {
	if len(args) != 2 {
		return "Использование: /admin_replay <crypto|fiat> <tx_id>"
	}
	provider, err := model.ParseProvider(args[0])
	if err != nil {
		return "Неизвестный провайдер"
	}
	res, err := a.engine.ReplayCredit(ctx, provider, args[1])
	switch {
	case errors.Is(err, model.ErrRecordNotFound):
		return "Платёж не найден"
	case errors.Is(err, model.ErrInvalidTransition):
		return fmt.Sprintf("Платёж в статусе %s, зачисление невозможно", res.Record.Status)
	case err != nil:
		return "Ошибка зачисления: " + err.Error()
	case res.Duplicate:
		return "Зачисление уже было выполнено ранее"
	}
	return fmt.Sprintf("Зачислено %s₽ пользователю %d по курсу %s, баланс %s₽",
		res.Credited.StringFixed(2), res.Record.UserID, res.Rate, res.Balance.StringFixed(2))
}

func (a *Admin) handleRates() string {
	rates := a.rates.Snapshot()
	codes := make([]string, 0, len(rates))
	for c := range rates {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	var sb strings.Builder
	sb.WriteString("Курсы к рублю:\n")
	for _, c := range codes {
		sb.WriteString(fmt.Sprintf("%s: %s\n", c, rates[c]))
	}
	return sb.String()
}

// /admin_setrate <ASSET> <rate>
func (a *Admin) handleSetRate(args []string) string {
	if len(args) != 2 {
		return "Использование: /admin_setrate <ASSET> <rate>"
	}
	rate, err := decimal.NewFromString(args[1])
	if err != nil {
		return "Неверный курс"
	}
	if err := a.rates.Set(args[0], rate); err != nil {
		return "Ошибка: " + err.Error()
	}
	return fmt.Sprintf("Курс %s установлен: %s", strings.ToUpper(args[0]), rate)
}

// /admin_reward <user_id>
func (a *Admin) handleReward(ctx context.Context, args []string) string {
	if len(args) != 1 {
		return "Использование: /admin_reward <user_id>"
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return "Неверный user_id"
	}
	bal, err := a.rewards.Reward(ctx, userID)
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return "Пользователь не найден"
		}
		return "Ошибка: " + err.Error()
	}
	return fmt.Sprintf("Награда начислена, баланс %s₽", bal.StringFixed(2))
}

func (a *Admin) handleUser(ctx context.Context, args []string) string {
	if len(args) < 1 {
		return "Укажите user_id"
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return "Неверный user_id"
	}
	u, err := a.payments.GetUser(ctx, userID)
	if err != nil {
		return "Пользователь не найден"
	}
	return fmt.Sprintf("User %d (@%s): баланс %s₽, заданий %d, роль %s",
		u.ID, u.Username, u.Balance.StringFixed(2), u.CompletedTasks, u.Role)
}

func (a *Admin) handleBackup(ctx context.Context) string {
	if a.backups == nil {
		return "Бэкапы не настроены"
	}
	filename, err := a.backups.Backup(ctx, "backup")
	if err != nil {
		return "Ошибка резервного копирования: " + err.Error()
	}
	return "Резервная копия создана: " + filename
}
