package billing

import (
	"context"
	"errors"
	"sync"
	"testing"

	"balance-topup-bot/internal/db/memdb"
	"balance-topup-bot/internal/ledger"
	"balance-topup-bot/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedRates map[string]decimal.Decimal

func (r fixedRates) Convert(_ context.Context, amount decimal.Decimal, currency string) (decimal.Decimal, decimal.Decimal, error) {
	rate, ok := r[currency]
	if !ok {
		return decimal.Zero, decimal.Zero, model.ErrUnknownCurrency
	}
	return amount.Mul(rate), rate, nil
}

var testRates = fixedRates{
	"RUB": decimal.NewFromInt(1),
	"TON": decimal.NewFromInt(50),
	"BTC": decimal.NewFromInt(2_500_000),
}

type recordingAlerter struct {
	mu   sync.Mutex
	msgs []string
}

func (a *recordingAlerter) NotifyAdmin(msg string) {
	a.mu.Lock()
	a.msgs = append(a.msgs, msg)
	a.mu.Unlock()
}

// flakyLedger отказывает, пока fail == true
type flakyLedger struct {
	inner *ledger.Ledger
	fail  bool
}

func (l *flakyLedger) ApplyDelta(ctx context.Context, userID int64, delta decimal.Decimal, ref string) (decimal.Decimal, error) {
	if l.fail {
		return decimal.Zero, errors.New("connection reset")
	}
	return l.inner.ApplyDelta(ctx, userID, delta, ref)
}

type fixture struct {
	store  *memdb.Store
	ledger *ledger.Ledger
	engine *Engine
	alert  *recordingAlerter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memdb.New()
	l := ledger.New(store, nil)
	alert := &recordingAlerter{}
	return &fixture{store: store, ledger: l, engine: NewEngine(store, l, testRates, alert, nil), alert: alert}
}

func (f *fixture) seed(t *testing.T, userID int64, provider model.Provider, txID, currency, amount string) {
	t.Helper()
	ctx := context.Background()
	_, err := f.store.EnsureUser(ctx, userID, "")
	require.NoError(t, err)
	require.NoError(t, f.store.CreatePayment(ctx, &model.PaymentRecord{
		UserID:   userID,
		Provider: provider,
		Currency: currency,
		Amount:   decimal.RequireFromString(amount),
		TxID:     txID,
		Status:   model.StatusPending,
	}))
}

func (f *fixture) balance(t *testing.T, userID int64) string {
	t.Helper()
	bal, err := f.ledger.Balance(context.Background(), userID)
	require.NoError(t, err)
	return bal.StringFixed(2)
}

func TestMarkPaidCreditsConvertedAmount(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 7, model.ProviderCrypto, "1001", "TON", "5")

	res, err := f.engine.MarkPaid(context.Background(), model.ProviderCrypto, "1001")
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, "250.00", res.Credited.StringFixed(2))
	assert.Equal(t, "50", res.Rate.String())
	assert.Equal(t, "250.00", f.balance(t, 7))

	rec, err := f.store.GetPayment(context.Background(), model.ProviderCrypto, "1001")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPaid, rec.Status)
}

func TestApplyPaidIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 42, model.ProviderFiat, "fk_42_1000", "RUB", "100.00")
	n := model.Notification{
		Provider: model.ProviderFiat,
		TxID:     "fk_42_1000",
		Status:   model.StatusPaid,
		Amount:   decimal.RequireFromString("100.00"),
		Currency: "RUB",
	}

	for i := 0; i < 5; i++ {
		res, err := f.engine.Apply(context.Background(), n)
		require.NoError(t, err)
		assert.Equal(t, i > 0, res.Duplicate, "delivery %d", i)
		assert.Equal(t, "100.00", f.balance(t, 42))
	}
}

func TestConcurrentMarkPaidCreditsOnce(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 3, model.ProviderCrypto, "55", "TON", "2")

	var wg sync.WaitGroup
	var mu sync.Mutex
	fresh := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.engine.MarkPaid(context.Background(), model.ProviderCrypto, "55")
			assert.NoError(t, err)
			if !res.Duplicate {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fresh)
	assert.Equal(t, "100.00", f.balance(t, 3))
	entries, err := f.store.Entries(context.Background(), 3)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestExpiredCannotBePaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, 9, model.ProviderCrypto, "77", "TON", "1")

	_, err := f.engine.MarkExpired(ctx, model.ProviderCrypto, "77")
	require.NoError(t, err)
	res, err := f.engine.MarkExpired(ctx, model.ProviderCrypto, "77")
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	_, err = f.engine.MarkPaid(ctx, model.ProviderCrypto, "77")
	require.ErrorIs(t, err, model.ErrInvalidTransition)
	var terr *model.TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, model.StatusExpired, terr.From)
	assert.Equal(t, "0.00", f.balance(t, 9))

	_, err = f.engine.MarkFailed(ctx, model.ProviderCrypto, "77")
	require.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestUnknownTxIsNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Apply(context.Background(), model.Notification{
		Provider: model.ProviderFiat, TxID: "fk_1_1", Status: model.StatusPaid,
	})
	require.ErrorIs(t, err, model.ErrRecordNotFound)
}

func TestApplyRejectsMismatchedClaim(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 42, model.ProviderFiat, "fk_42_2000", "RUB", "100.00")

	_, err := f.engine.Apply(context.Background(), model.Notification{
		Provider: model.ProviderFiat,
		TxID:     "fk_42_2000",
		Status:   model.StatusPaid,
		Amount:   decimal.RequireFromString("1000.00"),
	})
	require.ErrorIs(t, err, model.ErrValidation)

	rec, err := f.store.GetPayment(context.Background(), model.ProviderFiat, "fk_42_2000")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, rec.Status)
	assert.Equal(t, "0.00", f.balance(t, 42))
}

func TestCreditFailureSurfacesAndReplays(t *testing.T) {
	store := memdb.New()
	l := &flakyLedger{inner: ledger.New(store, nil), fail: true}
	alert := &recordingAlerter{}
	engine := NewEngine(store, l, testRates, alert, nil)
	ctx := context.Background()

	_, err := store.EnsureUser(ctx, 11, "")
	require.NoError(t, err)
	require.NoError(t, store.CreatePayment(ctx, &model.PaymentRecord{
		UserID: 11, Provider: model.ProviderCrypto, Currency: "TON",
		Amount: decimal.NewFromInt(1), TxID: "900", Status: model.StatusPending,
	}))

	_, err = engine.MarkPaid(ctx, model.ProviderCrypto, "900")
	var cerr *model.CreditApplicationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, int64(11), cerr.UserID)
	assert.Len(t, alert.msgs, 1)

	// статус уже paid: повторное уведомление не зачисляет
	res, err := engine.MarkPaid(ctx, model.ProviderCrypto, "900")
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	l.fail = false
	res, err = engine.ReplayCredit(ctx, model.ProviderCrypto, "900")
	require.NoError(t, err)
	assert.Equal(t, "50.00", res.Credited.StringFixed(2))

	res, err = engine.ReplayCredit(ctx, model.ProviderCrypto, "900")
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	u, err := store.GetUser(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, "50", u.Balance.String())
}

func TestReplayRequiresPaid(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 5, model.ProviderCrypto, "31", "TON", "1")
	_, err := f.engine.ReplayCredit(context.Background(), model.ProviderCrypto, "31")
	require.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestApplyPendingIsNoop(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 5, model.ProviderCrypto, "32", "TON", "1")
	res, err := f.engine.Apply(context.Background(), model.Notification{
		Provider: model.ProviderCrypto, TxID: "32", Status: model.StatusPending,
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, res.Record.Status)
	assert.Equal(t, "0.00", f.balance(t, 5))
}

func TestPaidAfterLocalFiatExpiryAlertsAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, 42, model.ProviderFiat, "fk_42_1000", "RUB", "100.00")

	_, err := f.engine.MarkExpired(ctx, model.ProviderFiat, "fk_42_1000")
	require.NoError(t, err)
	require.Empty(t, f.alert.msgs)

	_, err = f.engine.Apply(ctx, model.Notification{
		Provider: model.ProviderFiat, TxID: "fk_42_1000", Status: model.StatusPaid,
		Amount: decimal.RequireFromString("100.00"), Currency: "RUB",
	})
	require.ErrorIs(t, err, model.ErrInvalidTransition)
	assert.Equal(t, "0.00", f.balance(t, 42))

	require.Len(t, f.alert.msgs, 1)
	assert.Contains(t, f.alert.msgs[0], "fk_42_1000")
	assert.Contains(t, f.alert.msgs[0], "--user 42 --delta 100.00 --ref payment:fiat:fk_42_1000")

	rec, err := f.store.GetPayment(ctx, model.ProviderFiat, "fk_42_1000")
	require.NoError(t, err)
	assert.Equal(t, model.StatusExpired, rec.Status)
}

func TestPaidAfterProviderCryptoExpiryDoesNotAlert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, 9, model.ProviderCrypto, "78", "TON", "1")

	_, err := f.engine.MarkExpired(ctx, model.ProviderCrypto, "78")
	require.NoError(t, err)
	_, err = f.engine.MarkPaid(ctx, model.ProviderCrypto, "78")
	require.ErrorIs(t, err, model.ErrInvalidTransition)
	assert.Empty(t, f.alert.msgs)
}
