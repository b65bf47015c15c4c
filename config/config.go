package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type AppConfig struct {
	DatabaseURL     string
	BotToken        string
	AdminTelegramID int64
	HTTPAddr        string
	LogLevel        string
	BackupDir       string
	TrustedProxies  []string

	CryptoBotToken  string
	CryptoBotAPIURL string

	FreeKassaMerchantID string
	FreeKassaSecret1    string
	FreeKassaSecret2    string
	FreeKassaPayURL     string

	RatesAPIURL     string
	RatesTimeout    time.Duration
	ProviderTimeout time.Duration
	PendingTTL      time.Duration

	TaskReward   decimal.Decimal
	WebhookRPS   float64
	WebhookBurst int
}

// LoadConfig читает .env (если есть) и переменные окружения.
// Незаполненные реквизиты провайдера отключают его, но не мешают запуску.
func LoadConfig() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Println(".env file not found, relying on environment variables")
	}
	return FromEnv(os.Getenv)
}

// FromEnv разбор конфигурации из произвольного источника переменных
func FromEnv(getenv func(string) string) (*AppConfig, error) {
	get := func(key, def string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return def
	}
	cfg := &AppConfig{
		DatabaseURL:         getenv("DATABASE_URL"),
		BotToken:            getenv("BOT_TOKEN"),
		HTTPAddr:            get("HTTP_ADDR", ":8080"),
		LogLevel:            get("LOG_LEVEL", "info"),
		BackupDir:           get("BACKUP_DIR", "backups"),
		CryptoBotToken:      getenv("CRYPTOBOT_TOKEN"),
		CryptoBotAPIURL:     get("CRYPTOBOT_API_URL", "https://pay.crypt.bot/api"),
		FreeKassaMerchantID: getenv("FREEKASSA_MERCHANT_ID"),
		FreeKassaSecret1:    getenv("FREEKASSA_SECRET1"),
		FreeKassaSecret2:    getenv("FREEKASSA_SECRET2"),
		FreeKassaPayURL:     get("FREEKASSA_PAY_URL", "https://www.free-kassa.ru/merchant/cash.php"),
		RatesAPIURL:         get("RATES_API_URL", "https://api.coingecko.com/api/v3"),
	}
	for _, p := range strings.Split(getenv("TRUSTED_PROXIES"), ",") {
		if p = strings.TrimSpace(p); p != "" {
			cfg.TrustedProxies = append(cfg.TrustedProxies, p)
		}
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("config: DATABASE_URL is required")
	}

	var err error
	if v := getenv("ADMIN_TELEGRAM_ID"); v != "" {
		if cfg.AdminTelegramID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, fmt.Errorf("config: ADMIN_TELEGRAM_ID: %w", err)
		}
	}
	durations := []struct {
		key  string
		def  string
		dest *time.Duration
	}{
		{"RATES_TIMEOUT", "3s", &cfg.RatesTimeout},
		{"PROVIDER_TIMEOUT", "10s", &cfg.ProviderTimeout},
		{"PENDING_TTL", "24h", &cfg.PendingTTL},
	}
	for _, d := range durations {
		if *d.dest, err = time.ParseDuration(get(d.key, d.def)); err != nil {
			return nil, fmt.Errorf("config: %s: %w", d.key, err)
		}
		if *d.dest <= 0 {
			return nil, fmt.Errorf("config: %s must be positive", d.key)
		}
	}
	if cfg.TaskReward, err = decimal.NewFromString(get("TASK_REWARD", "50")); err != nil {
		return nil, fmt.Errorf("config: TASK_REWARD: %w", err)
	}
	if cfg.WebhookRPS, err = strconv.ParseFloat(get("WEBHOOK_RPS", "10"), 64); err != nil {
		return nil, fmt.Errorf("config: WEBHOOK_RPS: %w", err)
	}
	if cfg.WebhookBurst, err = strconv.Atoi(get("WEBHOOK_BURST", "20")); err != nil {
		return nil, fmt.Errorf("config: WEBHOOK_BURST: %w", err)
	}
	return cfg, nil
}
