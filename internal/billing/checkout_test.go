package billing

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"balance-topup-bot/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIssuer struct {
	mu       sync.Mutex
	next     int
	statuses map[string]model.InvoiceStatus
	pollErr  error
	lastDesc string
	lastLoad string
}

func (f *fakeIssuer) CreateInvoice(_ context.Context, amount decimal.Decimal, asset, description, payload string) (model.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := strconv.Itoa(1000 + f.next)
	f.lastDesc, f.lastLoad = description, payload
	raw, _ := json.Marshal(map[string]interface{}{"invoice_id": 1000 + f.next, "asset": asset, "amount": amount.String()})
	return model.Invoice{ID: id, PayURL: "https://t.me/CryptoBot?start=" + id, Asset: asset, Amount: amount, Status: model.InvoiceActive, Raw: raw}, nil
}

func (f *fakeIssuer) PollStatus(_ context.Context, id string) (model.InvoiceStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pollErr != nil {
		return "", f.pollErr
	}
	if st, ok := f.statuses[id]; ok {
		return st, nil
	}
	return model.InvoiceActive, nil
}

type fakeSigner struct{}

func (fakeSigner) BuildPayURL(amount decimal.Decimal, orderID, _ string) (string, error) {
	return "https://pay.example/?o=" + orderID + "&oa=" + amount.StringFixed(2), nil
}

func newCheckout(t *testing.T) (*Checkout, *fakeIssuer, *fixture) {
	t.Helper()
	f := newFixture(t)
	_, err := f.store.EnsureUser(context.Background(), 42, "alice")
	require.NoError(t, err)
	issuer := &fakeIssuer{statuses: map[string]model.InvoiceStatus{}}
	c := NewCheckout(f.engine, issuer, fakeSigner{}, nil)
	c.now = func() time.Time { return time.Unix(1000, 0) }
	return c, issuer, f
}

func TestCreateCryptoInvoice(t *testing.T) {
	c, issuer, f := newCheckout(t)
	ctx := context.Background()

	res, err := c.CreateCryptoInvoice(ctx, 42, decimal.NewFromInt(5), "ton")
	require.NoError(t, err)
	assert.Equal(t, "250.00", res.EstimateRUB.StringFixed(2))
	assert.Contains(t, res.PayURL, res.Record.TxID)
	assert.Equal(t, "Пополнение баланса на 5 TON", issuer.lastDesc)
	assert.Equal(t, "42", issuer.lastLoad)

	rec, err := f.store.GetPayment(ctx, model.ProviderCrypto, res.Record.TxID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, rec.Status)
	assert.Equal(t, "TON", rec.Currency)
	assert.NotEmpty(t, rec.Metadata)

	_, err = c.CreateCryptoInvoice(ctx, 42, decimal.NewFromInt(5), "DOGE")
	require.ErrorIs(t, err, model.ErrValidation)
	_, err = c.CreateCryptoInvoice(ctx, 42, decimal.Zero, "TON")
	require.ErrorIs(t, err, model.ErrValidation)
}

func TestCreateFiatPayment(t *testing.T) {
	c, _, f := newCheckout(t)
	ctx := context.Background()

	res, err := c.CreateFiatPayment(ctx, 42, decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.Equal(t, "fk_42_1000", res.Record.TxID)
	assert.Equal(t, "https://pay.example/?o=fk_42_1000&oa=100.00", res.PayURL)

	rec, err := f.store.GetPayment(ctx, model.ProviderFiat, "fk_42_1000")
	require.NoError(t, err)
	assert.JSONEq(t, `{"provider":"freekassa"}`, string(rec.Metadata))

	// второй заказ в ту же секунду получает суффикс, а не ошибку
	again, err := c.CreateFiatPayment(ctx, 42, decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.Regexp(t, `^fk_42_1000_[0-9a-f]{8}$`, again.Record.TxID)
	assert.Contains(t, again.PayURL, again.Record.TxID)

	pays, err := f.store.GetPaymentsByUser(ctx, 42)
	require.NoError(t, err)
	assert.Len(t, pays, 2)
}

func TestCheckStatusPaidCredits(t *testing.T) {
	c, issuer, f := newCheckout(t)
	ctx := context.Background()

	res, err := c.CreateCryptoInvoice(ctx, 42, decimal.NewFromInt(5), "TON")
	require.NoError(t, err)

	st, err := c.CheckStatus(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, st.Record.Status)

	issuer.statuses[res.Record.TxID] = model.InvoicePaid
	st, err = c.CheckStatus(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPaid, st.Record.Status)
	assert.Equal(t, "250.00", f.balance(t, 42))

	_, err = c.CheckStatus(ctx, 42)
	require.ErrorIs(t, err, model.ErrRecordNotFound)
}

func TestCheckStatusPollFailureLeavesPending(t *testing.T) {
	c, issuer, f := newCheckout(t)
	ctx := context.Background()

	res, err := c.CreateCryptoInvoice(ctx, 42, decimal.NewFromInt(1), "TON")
	require.NoError(t, err)
	issuer.pollErr = &model.ProviderError{Op: "getInvoices", Err: context.DeadlineExceeded}

	_, err = c.CheckStatus(ctx, 42)
	var perr *model.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.True(t, perr.Retryable())

	rec, err := f.store.GetPayment(ctx, model.ProviderCrypto, res.Record.TxID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, rec.Status)
	assert.Equal(t, "0.00", f.balance(t, 42))
}

func TestCheckStatusExpired(t *testing.T) {
	c, issuer, _ := newCheckout(t)
	ctx := context.Background()

	_, err := c.CreateCryptoInvoice(ctx, 42, decimal.NewFromInt(1), "USDT")
	require.ErrorIs(t, err, model.ErrUnknownCurrency)

	res, err := c.CreateCryptoInvoice(ctx, 42, decimal.NewFromInt(1), "TON")
	require.NoError(t, err)
	issuer.statuses[res.Record.TxID] = model.InvoiceExpired

	st, err := c.CheckStatus(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, model.StatusExpired, st.Record.Status)
}

func TestCheckStatusFiatWaitsForCallback(t *testing.T) {
	c, _, _ := newCheckout(t)
	ctx := context.Background()
	_, err := c.CreateFiatPayment(ctx, 42, decimal.NewFromInt(300))
	require.NoError(t, err)

	st, err := c.CheckStatus(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, model.ProviderFiat, st.Record.Provider)
	assert.Equal(t, model.StatusPending, st.Record.Status)
}
