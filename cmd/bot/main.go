package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"balance-topup-bot/config"
	"balance-topup-bot/internal/app"
	"balance-topup-bot/internal/bot"
	"balance-topup-bot/internal/logger"
	"balance-topup-bot/internal/services"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	zl, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var botapi *tgbotapi.BotAPI
	if cfg.BotToken != "" {
		botapi, err = tgbotapi.NewBotAPI(cfg.BotToken)
		if err != nil {
			zl.Fatal("failed to create bot", zap.Error(err))
		}
	} else {
		zl.Warn("BOT_TOKEN not set, running webhooks only")
	}

	var sender logger.Sender
	if botapi != nil {
		sender = botapi
	}
	a, err := app.New(cfg, zl, sender)
	if err != nil {
		zl.Fatal("init", zap.Error(err))
	}
	defer a.Close()

	limiter := services.NewIPRateLimiter(cfg.WebhookRPS, cfg.WebhookBurst, zl.Named("ratelimit"))
	if err := limiter.TrustProxies(cfg.TrustedProxies); err != nil {
		zl.Fatal("TRUSTED_PROXIES", zap.Error(err))
	}
	c, err := a.Schedule(ctx, limiter)
	if err != nil {
		zl.Fatal("cron", zap.Error(err))
	}
	defer c.Stop()

	webhooks := services.NewWebhookHandler(a.CryptoBot, a.FreeKassa, a.Engine, a.Notifier, zl.Named("webhook"))
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           services.NewRouter(webhooks, limiter, logger.RequestLog(zl.Named("http"))),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		zl.Info("webhook server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("webhook server error", zap.Error(err))
		}
	}()

	if botapi != nil {
		go bot.New(botapi, a.Checkout, a.Store, a.Admin, zl.Named("bot")).Run(ctx, botapi)
	}

	<-ctx.Done()
	zl.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Warn("http shutdown", zap.Error(err))
	}
}
