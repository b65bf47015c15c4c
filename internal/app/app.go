// Package app собирает зависимости, общие для бота и payctl
package app

import (
	"context"
	"fmt"

	"balance-topup-bot/config"
	"balance-topup-bot/internal/admin"
	"balance-topup-bot/internal/billing"
	"balance-topup-bot/internal/db"
	"balance-topup-bot/internal/ledger"
	"balance-topup-bot/internal/logger"
	"balance-topup-bot/internal/services"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type App struct {
	Config    *config.AppConfig
	Log       *zap.Logger
	Store     *db.Store
	Ledger    *ledger.Ledger
	Rates     *services.RateCache
	CryptoBot *services.CryptoBot
	FreeKassa *services.FreeKassa
	Engine    *billing.Engine
	Checkout  *billing.Checkout
	Rewards   *services.TaskRewarder
	Sweeper   *services.Sweeper
	Admin     *admin.Admin
	Backups   *admin.Backups
	Notifier  *logger.Notifier
}

// New подключается к базе и собирает сервисы. sender может быть nil:
// тогда алерты администратору только пишутся в лог.
func New(cfg *config.AppConfig, log *zap.Logger, sender logger.Sender) (*App, error) {
	gdb, err := db.InitDB(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	store := db.NewStore(gdb)

	notifier := logger.NewNotifier(sender, cfg.AdminTelegramID, log.Named("notify"))
	rates := services.NewRateCache(services.NewCoinGecko(cfg.RatesAPIURL), cfg.RatesTimeout, log.Named("rates"))
	crypto := services.NewCryptoBot(services.CryptoBotConfig{
		Token:   cfg.CryptoBotToken,
		BaseURL: cfg.CryptoBotAPIURL,
		Timeout: cfg.ProviderTimeout,
	}, log.Named("cryptobot"))
	fiat := services.NewFreeKassa(services.FreeKassaConfig{
		MerchantID: cfg.FreeKassaMerchantID,
		Secret1:    cfg.FreeKassaSecret1,
		Secret2:    cfg.FreeKassaSecret2,
		PayURL:     cfg.FreeKassaPayURL,
	})
	if !crypto.Enabled() {
		log.Warn("CryptoBot credentials missing, crypto top-ups disabled")
	}
	if !fiat.Enabled() {
		log.Warn("FreeKassa credentials missing, fiat top-ups disabled")
	}

	led := ledger.New(store, log.Named("ledger"))
	engine := billing.NewEngine(store, led, rates, notifier, log.Named("billing"))
	rewards := services.NewTaskRewarder(led, store, cfg.TaskReward, log.Named("rewards"))
	backups := admin.NewBackups(cfg.DatabaseURL, cfg.BackupDir, log.Named("backup"))

	return &App{
		Config:    cfg,
		Log:       log,
		Store:     store,
		Ledger:    led,
		Rates:     rates,
		CryptoBot: crypto,
		FreeKassa: fiat,
		Engine:    engine,
		Checkout:  billing.NewCheckout(engine, crypto, fiat, log.Named("checkout")),
		Rewards:   rewards,
		Sweeper:   services.NewSweeper(store, crypto, engine, cfg.PendingTTL, log.Named("sweeper")),
		Admin:     admin.New(cfg.AdminTelegramID, engine, store, rates, rewards, log.Named("admin")).WithBackups(backups),
		Backups:   backups,
		Notifier:  notifier,
	}, nil
}

// Schedule фоновые задачи: опрос зависших счетов, курсы, истечение заказов кассы
func (a *App) Schedule(ctx context.Context, limiter *services.IPRateLimiter) (*cron.Cron, error) {
	c := cron.New()
	jobs := []struct {
		spec string
		name string
		fn   func()
	}{
		{"@every 1m", "sweep_crypto", func() { a.Sweeper.SweepCrypto(ctx) }},
		{"@every 10m", "refresh_rates", func() { a.Rates.RefreshAll(ctx) }},
		{"@hourly", "expire_fiat", func() { a.Sweeper.ExpireStaleFiat(ctx) }},
		{"@every 10m", "limiter_cleanup", limiter.Cleanup},
		{"0 3 * * *", "auto_backup", func() { _ = a.Backups.Auto(ctx) }},
	}
	for _, j := range jobs {
		j := j
		if _, err := c.AddFunc(j.spec, func() {
			defer a.Notifier.NotifyOnPanic(j.name)
			j.fn()
		}); err != nil {
			return nil, fmt.Errorf("app: schedule %s: %w", j.name, err)
		}
	}
	c.Start()
	return c, nil
}

func (a *App) Close() {
	if err := a.Store.Close(); err != nil {
		a.Log.Warn("close store", zap.Error(err))
	}
}
