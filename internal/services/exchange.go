package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"balance-topup-bot/internal/model"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const BaseCurrency = "RUB"

// DefaultRates консервативные курсы на случай недоступности внешнего источника
func DefaultRates() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		BaseCurrency: decimal.NewFromInt(1),
		"TON":        decimal.NewFromInt(50),
		"USDT":       decimal.NewFromInt(100),
		"BTC":        decimal.NewFromInt(2_500_000),
	}
}

// RateFetcher получает актуальный курс валюты к рублю
type RateFetcher interface {
	FetchRate(ctx context.Context, currency string) (decimal.Decimal, error)
}

// RateCache единственный источник курсов для конвертации в рубли.
// Чтение никогда не ждёт сети: обновление идёт в фоне и перезаписывает кэш при успехе.
type RateCache struct {
	mu         sync.RWMutex
	rates      map[string]decimal.Decimal
	updated    map[string]time.Time
	refreshing map[string]bool

	fetcher RateFetcher
	timeout time.Duration
	log     *zap.Logger
}

// NewRateCache без fetcher кэш работает только на статических значениях
func NewRateCache(fetcher RateFetcher, timeout time.Duration, log *zap.Logger) *RateCache {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &RateCache{
		rates:      DefaultRates(),
		updated:    make(map[string]time.Time),
		refreshing: make(map[string]bool),
		fetcher:    fetcher,
		timeout:    timeout,
		log:        log,
	}
}

func normalize(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

// GetRate возвращает закэшированный курс и запускает фоновое обновление
func (c *RateCache) GetRate(ctx context.Context, currency string) (decimal.Decimal, error) {
	cur := normalize(currency)
	c.mu.RLock()
	rate, ok := c.rates[cur]
	c.mu.RUnlock()
	if ok {
		c.refreshAsync(cur)
		return rate, nil
	}
	// неизвестная валюта: единственный случай, когда ждём источник
	if err := c.Refresh(ctx, cur); err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s", model.ErrUnknownCurrency, cur)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rates[cur], nil
}

// Convert amount * rate по одному снимку курса, возвращает и сумму, и курс
func (c *RateCache) Convert(ctx context.Context, amount decimal.Decimal, currency string) (decimal.Decimal, decimal.Decimal, error) {
	rate, err := c.GetRate(ctx, currency)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return amount.Mul(rate), rate, nil
}

// Refresh синхронно обновляет курс с ограничением по времени
func (c *RateCache) Refresh(ctx context.Context, currency string) error {
	cur := normalize(currency)
	if cur == BaseCurrency {
		return nil
	}
	if c.fetcher == nil {
		return fmt.Errorf("rates: no live source for %s", cur)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	rate, err := c.fetcher.FetchRate(ctx, cur)
	if err != nil {
		return err
	}
	if !rate.IsPositive() {
		return fmt.Errorf("rates: non-positive rate %s for %s", rate, cur)
	}
	c.mu.Lock()
	c.rates[cur] = rate
	c.updated[cur] = time.Now()
	c.mu.Unlock()
	c.log.Debug("rate refreshed", zap.String("currency", cur), zap.String("rate", rate.String()))
	return nil
}

// RefreshAll обновляет все известные валюты, ошибки только логируются
func (c *RateCache) RefreshAll(ctx context.Context) {
	for cur := range c.Snapshot() {
		if cur == BaseCurrency {
			continue
		}
		if err := c.Refresh(ctx, cur); err != nil {
			c.log.Warn("rate refresh failed, keeping cached value", zap.String("currency", cur), zap.Error(err))
		}
	}
}

func (c *RateCache) refreshAsync(cur string) {
	if c.fetcher == nil || cur == BaseCurrency {
		return
	}
	c.mu.Lock()
	if c.refreshing[cur] {
		c.mu.Unlock()
		return
	}
	c.refreshing[cur] = true
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.refreshing, cur)
			c.mu.Unlock()
		}()
		// контекст запроса мог уже завершиться
		if err := c.Refresh(context.Background(), cur); err != nil {
			c.log.Debug("background rate refresh failed", zap.String("currency", cur), zap.Error(err))
		}
	}()
}

// Set ручная установка курса администратором
func (c *RateCache) Set(currency string, rate decimal.Decimal) error {
	cur := normalize(currency)
	if cur == "" {
		return model.NewValidationError("currency", "must not be empty")
	}
	if cur == BaseCurrency {
		return model.NewValidationError("currency", "RUB rate is fixed at 1")
	}
	if !rate.IsPositive() {
		return model.NewValidationError("rate", "must be positive")
	}
	c.mu.Lock()
	c.rates[cur] = rate
	c.updated[cur] = time.Now()
	c.mu.Unlock()
	return nil
}

func (c *RateCache) Snapshot() map[string]decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(c.rates))
	for k, v := range c.rates {
		out[k] = v
	}
	return out
}

// coinGeckoIDs соответствие тикеров идентификаторам CoinGecko
var coinGeckoIDs = map[string]string{
	"TON":  "the-open-network",
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"USDT": "tether",
	"USDC": "usd-coin",
	"BNB":  "binancecoin",
}

// CoinGecko публичный API /simple/price
type CoinGecko struct {
	client *resty.Client
}

func NewCoinGecko(baseURL string) *CoinGecko {
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Accept", "application/json")
	return &CoinGecko{client: client}
}

func (g *CoinGecko) FetchRate(ctx context.Context, currency string) (decimal.Decimal, error) {
	id, ok := coinGeckoIDs[normalize(currency)]
	if !ok {
		return decimal.Zero, fmt.Errorf("coingecko: unsupported currency %s", currency)
	}
	var out map[string]map[string]decimal.Decimal
	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"ids": id, "vs_currencies": "rub"}).
		SetResult(&out).
		Get("/simple/price")
	if err != nil {
		return decimal.Zero, &model.ProviderError{Op: "coingecko price", Err: err}
	}
	if resp.IsError() {
		return decimal.Zero, &model.ProviderError{Op: "coingecko price", StatusCode: resp.StatusCode(), Err: errors.New(resp.Status())}
	}
	rate, ok := out[id]["rub"]
	if !ok {
		return decimal.Zero, fmt.Errorf("coingecko: no rub price for %s", id)
	}
	return rate, nil
}
