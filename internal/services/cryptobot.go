package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"balance-topup-bot/internal/model"

	"github.com/go-playground/validator/v10"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultCryptoBotURL = "https://pay.crypt.bot/api"

type CryptoBotConfig struct {
	Token   string
	BaseURL string
	Timeout time.Duration
}

// CryptoBot клиент Crypto Pay API. Без токена адаптер выключен и все вызовы
// возвращают model.ErrProviderUnavailable.
type CryptoBot struct {
	client   *resty.Client
	enabled  bool
	validate *validator.Validate
	log      *zap.Logger
}

func NewCryptoBot(cfg CryptoBotConfig, log *zap.Logger) *CryptoBot {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultCryptoBotURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	token := strings.TrimSpace(cfg.Token)
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Crypto-Pay-API-Token", token).
		SetHeader("Accept", "application/json")
	return &CryptoBot{
		client:   client,
		enabled:  token != "",
		validate: validator.New(),
		log:      log,
	}
}

func (c *CryptoBot) Enabled() bool { return c != nil && c.enabled }

// cryptoInvoice представление счёта в ответах API и вебхуках
type cryptoInvoice struct {
	InvoiceID     int64  `json:"invoice_id" validate:"required,gt=0"`
	Status        string `json:"status"`
	Asset         string `json:"asset"`
	Amount        string `json:"amount"`
	PayURL        string `json:"pay_url"`
	BotInvoiceURL string `json:"bot_invoice_url"`
	Payload       string `json:"payload"`
	Description   string `json:"description"`
}

type apiResponse struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code int    `json:"code"`
		Name string `json:"name"`
	} `json:"error"`
}

func (c *CryptoBot) call(ctx context.Context, op string, req *resty.Request, method, path string) (json.RawMessage, error) {
	var out apiResponse
	resp, err := req.SetContext(ctx).SetResult(&out).SetError(&out).Execute(method, path)
	if err != nil {
		return nil, &model.ProviderError{Op: op, Err: err}
	}
	if resp.IsError() {
		return nil, &model.ProviderError{Op: op, StatusCode: resp.StatusCode(), Err: apiErr(out)}
	}
	if !out.OK {
		return nil, &model.ProviderError{Op: op, StatusCode: resp.StatusCode(), Err: apiErr(out)}
	}
	return out.Result, nil
}

func apiErr(r apiResponse) error {
	if r.Error != nil {
		return fmt.Errorf("cryptobot: %s (code %d)", r.Error.Name, r.Error.Code)
	}
	return errors.New("cryptobot: request not ok")
}

// CreateInvoice выставляет счёт, payload возвращается провайдером без изменений
func (c *CryptoBot) CreateInvoice(ctx context.Context, amount decimal.Decimal, asset, description, payload string) (model.Invoice, error) {
	if !c.Enabled() {
		return model.Invoice{}, model.ErrProviderUnavailable
	}
	if !amount.IsPositive() {
		return model.Invoice{}, model.NewValidationError("amount", "must be positive")
	}
	body := map[string]string{
		"amount":        amount.String(),
		"currency_type": "crypto",
		"asset":         strings.ToUpper(asset),
		"description":   description,
		"payload":       payload,
	}
	raw, err := c.call(ctx, "createInvoice", c.client.R().SetBody(body), resty.MethodPost, "/createInvoice")
	if err != nil {
		c.log.Warn("cryptobot create invoice failed", zap.String("asset", asset), zap.Error(err))
		return model.Invoice{}, err
	}
	var inv cryptoInvoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return model.Invoice{}, &model.ProviderError{Op: "createInvoice", Err: fmt.Errorf("decode invoice: %w", err)}
	}
	if inv.InvoiceID == 0 {
		return model.Invoice{}, &model.ProviderError{Op: "createInvoice", Err: errors.New("invoice id missing in response")}
	}
	return inv.toInvoice(raw), nil
}

// PollStatus запрашивает текущий статус счёта. Таймаут клиента ограничивает ожидание.
func (c *CryptoBot) PollStatus(ctx context.Context, invoiceID string) (model.InvoiceStatus, error) {
	if !c.Enabled() {
		return "", model.ErrProviderUnavailable
	}
	raw, err := c.call(ctx, "getInvoices",
		c.client.R().SetQueryParam("invoice_ids", invoiceID), resty.MethodGet, "/getInvoices")
	if err != nil {
		return "", err
	}
	var res struct {
		Items []cryptoInvoice `json:"items"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", &model.ProviderError{Op: "getInvoices", Err: fmt.Errorf("decode invoices: %w", err)}
	}
	if len(res.Items) == 0 {
		return "", &model.ProviderError{Op: "getInvoices", StatusCode: 404, Err: fmt.Errorf("invoice %s not found", invoiceID)}
	}
	switch st := model.InvoiceStatus(res.Items[0].Status); st {
	case model.InvoiceActive, model.InvoicePaid, model.InvoiceExpired:
		return st, nil
	default:
		return "", &model.ProviderError{Op: "getInvoices", Err: fmt.Errorf("unexpected invoice status %q", st)}
	}
}

// CryptoUpdate проверенное уведомление CryptoBot
type CryptoUpdate struct {
	UpdateID   int64          `json:"update_id"`
	UpdateType string         `json:"update_type" validate:"required"`
	Payload    *cryptoInvoice `json:"payload" validate:"required"`
}

// TxID идентификатор счёта как ключ платежа
func (u CryptoUpdate) TxID() string {
	return strconv.FormatInt(u.Payload.InvoiceID, 10)
}

// ClaimedStatus invoice_paid всегда означает оплату, иначе смотрим статус счёта
func (u CryptoUpdate) ClaimedStatus() model.Status {
	if u.UpdateType == "invoice_paid" {
		return model.StatusPaid
	}
	return model.InvoiceStatus(u.Payload.Status).PaymentStatus()
}

func (u CryptoUpdate) ClaimedAmount() decimal.Decimal {
	amount, err := decimal.NewFromString(u.Payload.Amount)
	if err != nil {
		return decimal.Zero
	}
	return amount
}

func (u CryptoUpdate) Asset() string { return strings.ToUpper(u.Payload.Asset) }

func (u CryptoUpdate) Notification() model.Notification {
	return model.Notification{
		Provider: model.ProviderCrypto,
		TxID:     u.TxID(),
		Status:   u.ClaimedStatus(),
		Amount:   u.ClaimedAmount(),
		Currency: u.Asset(),
	}
}

// ParseNotification проверяет только наличие обязательных полей. Подписи нет,
// поэтому результат считается правдоподобным, но не доказанным: оплату нужно
// подтвердить через PollStatus.
func (c *CryptoBot) ParseNotification(body []byte) (CryptoUpdate, error) {
	if !c.Enabled() {
		return CryptoUpdate{}, model.ErrProviderUnavailable
	}
	var upd CryptoUpdate
	if err := json.Unmarshal(body, &upd); err != nil {
		return CryptoUpdate{}, model.NewValidationError("body", "malformed json")
	}
	if err := c.validate.Struct(upd); err != nil {
		return CryptoUpdate{}, model.NewValidationError("body", err.Error())
	}
	return upd, nil
}

func (i cryptoInvoice) toInvoice(raw json.RawMessage) model.Invoice {
	amount, _ := decimal.NewFromString(i.Amount)
	url := i.BotInvoiceURL
	if url == "" {
		url = i.PayURL
	}
	return model.Invoice{
		ID:     strconv.FormatInt(i.InvoiceID, 10),
		PayURL: url,
		Asset:  strings.ToUpper(i.Asset),
		Amount: amount,
		Status: model.InvoiceStatus(i.Status),
		Raw:    raw,
	}
}
