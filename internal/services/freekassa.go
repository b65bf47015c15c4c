package services

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"balance-topup-bot/internal/model"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

const defaultFreeKassaURL = "https://www.free-kassa.ru/merchant/cash.php"

type FreeKassaConfig struct {
	MerchantID string
	Secret1    string
	Secret2    string
	PayURL     string
}

// FreeKassa подписанные ссылки на оплату и проверка подписи колбэка.
// Неполные реквизиты выключают адаптер.
type FreeKassa struct {
	merchantID string
	secret1    string
	secret2    string
	payURL     string
	enabled    bool
	validate   *validator.Validate
}

func NewFreeKassa(cfg FreeKassaConfig) *FreeKassa {
	fk := &FreeKassa{
		merchantID: strings.TrimSpace(cfg.MerchantID),
		secret1:    cfg.Secret1,
		secret2:    cfg.Secret2,
		payURL:     cfg.PayURL,
		validate:   validator.New(),
	}
	if fk.payURL == "" {
		fk.payURL = defaultFreeKassaURL
	}
	fk.enabled = fk.merchantID != "" && fk.secret1 != "" && fk.secret2 != ""
	return fk
}

func (f *FreeKassa) Enabled() bool { return f != nil && f.enabled }

// sign md5 от "merchant:amount:secret:order" в нижнем регистре
func sign(merchant, amount, secret, order string) string {
	sum := md5.Sum([]byte(merchant + ":" + amount + ":" + secret + ":" + order))
	return hex.EncodeToString(sum[:])
}

// FormatAmount сумма ровно с двумя знаками после запятой, как её подписывает касса
func FormatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

// BuildPayURL ссылка на форму оплаты. Поддерживаются только рубли.
func (f *FreeKassa) BuildPayURL(amount decimal.Decimal, orderID, currency string) (string, error) {
	if !f.Enabled() {
		return "", model.ErrProviderUnavailable
	}
	if !amount.IsPositive() {
		return "", model.NewValidationError("amount", "must be positive")
	}
	if strings.TrimSpace(orderID) == "" {
		return "", model.NewValidationError("order_id", "must not be empty")
	}
	if currency != "" && !strings.EqualFold(currency, BaseCurrency) {
		return "", model.NewValidationError("currency", "only RUB is supported")
	}
	oa := FormatAmount(amount)
	return fmt.Sprintf("%s?m=%s&oa=%s&o=%s&s=%s", f.payURL,
		url.QueryEscape(f.merchantID), oa, url.QueryEscape(orderID),
		sign(f.merchantID, oa, f.secret1, orderID)), nil
}

// FreeKassaNotification поля колбэка после проверки
type FreeKassaNotification struct {
	MerchantID string `validate:"required"`
	Amount     string `validate:"required,numeric"`
	OrderID    string `validate:"required"`
	Sign       string `validate:"required,len=32"`
}

func (n FreeKassaNotification) Notification() model.Notification {
	amount, _ := decimal.NewFromString(n.Amount)
	return model.Notification{
		Provider: model.ProviderFiat,
		TxID:     n.OrderID,
		Status:   model.StatusPaid,
		Amount:   amount,
		Currency: BaseCurrency,
	}
}

// VerifyNotification сверяет SIGN с md5 от "merchant:AMOUNT:secret2:order".
// AMOUNT берётся ровно в том виде, в каком его прислала касса.
func (f *FreeKassa) VerifyNotification(form url.Values) (FreeKassaNotification, error) {
	if !f.Enabled() {
		return FreeKassaNotification{}, model.ErrProviderUnavailable
	}
	n := FreeKassaNotification{
		MerchantID: form.Get("MERCHANT_ID"),
		Amount:     form.Get("AMOUNT"),
		OrderID:    form.Get("MERCHANT_ORDER_ID"),
		Sign:       form.Get("SIGN"),
	}
	if err := f.validate.Struct(n); err != nil {
		return FreeKassaNotification{}, model.NewValidationError("form", err.Error())
	}
	if n.MerchantID != f.merchantID {
		return FreeKassaNotification{}, model.NewValidationError("MERCHANT_ID", "unexpected merchant")
	}
	expected := sign(f.merchantID, n.Amount, f.secret2, n.OrderID)
	if !hmac.Equal([]byte(n.Sign), []byte(expected)) {
		return FreeKassaNotification{}, model.NewValidationError("SIGN", "signature mismatch")
	}
	return n, nil
}
