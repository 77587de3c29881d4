package payment

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/storefront/internal/backend"
	"github.com/example/storefront/internal/cart"
	"github.com/example/storefront/internal/checkout"
	"github.com/example/storefront/internal/journal"
	"github.com/example/storefront/internal/notify"
	"github.com/example/storefront/internal/payment/stripe"
	"github.com/example/storefront/internal/payment/wallet"
	"github.com/example/storefront/internal/session"
)

// ============================================
// Fakes
// ============================================

type fakeBackend struct {
	mu          sync.Mutex
	createCalls int
	chargeCalls int
	purchase    *backend.Purchase
	createErr   error
	chargeErr   error
	lastCreate  backend.PurchaseRequest
	lastCharge  backend.ChargeRequest
	createGate  chan struct{} // when set, CreatePurchase blocks until closed
}

func (f *fakeBackend) CreatePurchase(ctx context.Context, req backend.PurchaseRequest) (*backend.Purchase, error) {
	f.mu.Lock()
	f.createCalls++
	f.lastCreate = req
	gate := f.createGate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.purchase, nil
}

func (f *fakeBackend) ChargeCard(ctx context.Context, req backend.ChargeRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chargeCalls++
	f.lastCharge = req
	return f.chargeErr
}

type fakeTokenizer struct {
	token string
	err   error
	calls int
}

func (f *fakeTokenizer) Tokenize(ctx context.Context, card stripe.CardInput) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.token, nil
}

type fakeRedirector struct {
	url   string
	trail []wallet.CandidateResult
	err   error
	calls int
	last  wallet.Payload
}

func (f *fakeRedirector) Start(ctx context.Context, p wallet.Payload) (string, []wallet.CandidateResult, error) {
	f.calls++
	f.last = p
	return f.url, f.trail, f.err
}

// ============================================
// Fixture
// ============================================

type fixture struct {
	orch       *Orchestrator
	backend    *fakeBackend
	tokenizer  *fakeTokenizer
	redirector *fakeRedirector
	feed       *notify.Feed
	journal    *journal.MemoryJournal
}

func newFixture() *fixture {
	f := &fixture{
		backend:    &fakeBackend{purchase: &backend.Purchase{ID: "42", Total: 149.98}},
		tokenizer:  &fakeTokenizer{token: "tok_visa"},
		redirector: &fakeRedirector{},
		feed:       notify.NewFeed(),
		journal:    journal.NewMemoryJournal(),
	}
	f.orch = NewOrchestrator(Config{
		Backend:    f.backend,
		Tokenizer:  f.tokenizer,
		Redirector: f.redirector,
		Notifier:   f.feed,
		Journal:    f.journal,
	})
	return f
}

// twoItemCart is the $149.98 scenario cart: $100 and $49.98, no discounts.
func twoItemCart(t *testing.T) *cart.Cart {
	t.Helper()
	c := cart.New()
	require.NoError(t, c.Add(cart.LineItem{ProductID: "prod-1", Name: "first", UnitPrice: 100, Quantity: 1}))
	require.NoError(t, c.Add(cart.LineItem{ProductID: "prod-2", Name: "second", UnitPrice: 49.98, Quantity: 1}))
	return c
}

func buyerSession() *session.Session {
	return &session.Session{
		ID:     "sess-1",
		UserID: "user-1",
		Email:  "buyer@example.com",
		Token:  "session-token",
	}
}

func shippingForm() checkout.Form {
	return checkout.Form{
		Email:   "buyer@example.com",
		Address: "123 Main St",
		City:    "Springfield",
		ZipCode: "12345",
		Phone:   "555-0100",
	}
}

func cardMethod() Card {
	return Card{Input: stripe.CardInput{
		Number: "4242424242424242", Holder: "Ada", ExpMonth: "12", ExpYear: "2030", CVC: "123",
	}}
}

// ============================================
// Card path
// ============================================

func TestSubmit_Card_Success(t *testing.T) {
	f := newFixture()
	c := twoItemCart(t)
	ctx := context.Background()

	res, err := f.orch.Submit(ctx, buyerSession(), c, shippingForm(), cardMethod())

	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, res.Attempt.Status)
	assert.Equal(t, "42", res.Attempt.PurchaseID)

	// Cart cleared, success notified exactly once.
	assert.True(t, c.IsEmpty())
	notifications := f.feed.Recent("user-1")
	require.Len(t, notifications, 1)
	assert.Equal(t, notify.LevelSuccess, notifications[0].Level)

	// Charge used the token and the backend-confirmed total.
	assert.Equal(t, 1, f.backend.chargeCalls)
	assert.Equal(t, "tok_visa", f.backend.lastCharge.Token)
	assert.Equal(t, "42", f.backend.lastCharge.PurchaseID)
	assert.InDelta(t, 149.98, f.backend.lastCharge.Amount, 1e-9)
	assert.Equal(t, "buyer@example.com", f.backend.lastCharge.Email)

	assert.False(t, f.orch.Processing("user-1"))
}

func TestSubmit_ForwardsSessionTokenToBackend(t *testing.T) {
	var mu sync.Mutex
	headers := map[string]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		headers[r.URL.Path] = r.Header.Get("Authorization")
		mu.Unlock()
		switch r.URL.Path {
		case "/api/compras":
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"compra":{"id":42,"total":149.98}}`))
		case "/api/stripe/charge":
			w.Write([]byte(`{}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	orch := NewOrchestrator(Config{
		Backend:   backend.NewClient(srv.URL, "", nil),
		Tokenizer: &fakeTokenizer{token: "tok_visa"},
		Notifier:  notify.NewFeed(),
	})

	res, err := orch.Submit(context.Background(), buyerSession(), twoItemCart(t), shippingForm(), cardMethod())

	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, res.Attempt.Status)

	// The session's bearer token rides on both backend calls.
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "Bearer session-token", headers["/api/compras"])
	assert.Equal(t, "Bearer session-token", headers["/api/stripe/charge"])
}

func TestSubmit_Card_ChargeDeclined(t *testing.T) {
	f := newFixture()
	f.backend.chargeErr = &backend.RejectionError{StatusCode: 402, Message: "card declined"}
	c := twoItemCart(t)
	ctx := context.Background()

	res, err := f.orch.Submit(ctx, buyerSession(), c, shippingForm(), cardMethod())

	require.Error(t, err)
	assert.Equal(t, StatusUnsettled, res.Attempt.Status)
	assert.Equal(t, "card declined", res.Attempt.LastError)

	// Notification text is the backend's message, verbatim.
	notifications := f.feed.Recent("user-1")
	require.Len(t, notifications, 1)
	assert.Equal(t, notify.LevelError, notifications[0].Level)
	assert.Equal(t, "card declined", notifications[0].Message)

	// The cart keeps both original items and the gate is released.
	assert.Equal(t, 2, c.Len())
	assert.False(t, f.orch.Processing("user-1"))

	// The created-but-uncharged purchase lands in the reconciliation queue.
	unsettled, jerr := f.journal.ListUnsettled(ctx)
	require.NoError(t, jerr)
	require.Len(t, unsettled, 1)
	assert.Equal(t, "42", unsettled[0].PurchaseID)
	assert.Equal(t, "card declined", unsettled[0].LastError)
}

func TestSubmit_Card_IncompleteCardData(t *testing.T) {
	f := newFixture()
	f.tokenizer.err = stripe.ErrIncompleteCard
	c := twoItemCart(t)

	res, err := f.orch.Submit(context.Background(), buyerSession(), c, shippingForm(), cardMethod())

	require.Error(t, err)
	assert.Equal(t, StatusFailed, res.Attempt.Status)
	assert.Equal(t, "complete card data", res.Attempt.LastError)

	// Failed before any backend call.
	assert.Zero(t, f.backend.createCalls)
	assert.Equal(t, 2, c.Len())
}

func TestSubmit_Card_PurchaseCreateRejected(t *testing.T) {
	f := newFixture()
	f.backend.createErr = &backend.RejectionError{StatusCode: 422, Message: "insufficient stock"}
	c := twoItemCart(t)

	res, err := f.orch.Submit(context.Background(), buyerSession(), c, shippingForm(), cardMethod())

	require.Error(t, err)
	assert.Equal(t, StatusFailed, res.Attempt.Status)
	assert.Equal(t, "insufficient stock", res.Attempt.LastError)
	assert.Zero(t, f.backend.chargeCalls)
	assert.Equal(t, 2, c.Len())
}

// ============================================
// Preconditions
// ============================================

func TestSubmit_EmptyCart_NoNetworkCall(t *testing.T) {
	f := newFixture()
	c := cart.New()

	res, err := f.orch.Submit(context.Background(), buyerSession(), c, shippingForm(), cardMethod())

	require.Error(t, err)
	assert.Equal(t, StatusFailed, res.Attempt.Status)
	assert.Zero(t, f.backend.createCalls)
	assert.Zero(t, f.backend.chargeCalls)
	assert.Zero(t, f.tokenizer.calls)
	assert.Zero(t, f.redirector.calls)
}

func TestSubmit_Unauthenticated_HaltsBeforeNetwork(t *testing.T) {
	f := newFixture()
	c := twoItemCart(t)

	res, err := f.orch.Submit(context.Background(), nil, c, shippingForm(), cardMethod())

	require.Error(t, err)
	assert.Equal(t, StatusFailed, res.Attempt.Status)
	assert.Zero(t, f.backend.createCalls)
	assert.Zero(t, f.tokenizer.calls)
	assert.Equal(t, 2, c.Len())
}

// ============================================
// Wallet path
// ============================================

func TestSubmit_Wallet_Success(t *testing.T) {
	f := newFixture()
	f.redirector.url = "https://wallet.example/pay/abc"
	f.redirector.trail = []wallet.CandidateResult{
		{Outcome: wallet.OutcomeNoRedirect},
		{Outcome: wallet.OutcomeNoRedirect},
		{Outcome: wallet.OutcomeRedirect},
	}
	c := twoItemCart(t)
	ctx := context.Background()

	res, err := f.orch.Submit(ctx, buyerSession(), c, shippingForm(), Wallet{Provider: "paypal"})

	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, res.Attempt.Status)
	assert.Equal(t, "https://wallet.example/pay/abc", res.RedirectURL)

	// Wallet payload carried the purchase handle and identity.
	assert.Equal(t, "42", f.redirector.last.PurchaseID)
	assert.Equal(t, "user-1", f.redirector.last.UserID)
	assert.Equal(t, "session-token", f.redirector.last.Token)
	assert.Equal(t, "USD", f.redirector.last.Currency)
	assert.InDelta(t, 149.98, f.redirector.last.Amount, 1e-9)

	// Redirect wallets ship no physical goods address.
	assert.Equal(t, checkout.NoShippingAddress, f.backend.lastCreate.ShippingAddress)

	assert.True(t, c.IsEmpty())
	require.Len(t, f.feed.Recent("user-1"), 1)
}

func TestSubmit_Wallet_Exhaustion(t *testing.T) {
	f := newFixture()
	f.redirector.err = wallet.ErrNoRedirect
	f.redirector.trail = []wallet.CandidateResult{
		{Outcome: wallet.OutcomeNoRedirect},
		{Outcome: wallet.OutcomeTransportError},
	}
	c := twoItemCart(t)

	res, err := f.orch.Submit(context.Background(), buyerSession(), c, shippingForm(), Wallet{})

	require.Error(t, err)
	assert.Equal(t, StatusFailed, res.Attempt.Status)
	assert.Empty(t, res.RedirectURL)

	// Exactly one error notification, with the exhaustion message.
	notifications := f.feed.Recent("user-1")
	require.Len(t, notifications, 1)
	assert.Equal(t, wallet.ErrNoRedirect.Error(), notifications[0].Message)

	// Cart preserved for retry.
	assert.Equal(t, 2, c.Len())
	assert.False(t, f.orch.Processing("user-1"))
}

func TestSubmit_Wallet_NoTokenizeStep(t *testing.T) {
	f := newFixture()
	f.redirector.url = "https://wallet.example/ok"
	c := twoItemCart(t)

	_, err := f.orch.Submit(context.Background(), buyerSession(), c, shippingForm(), Wallet{})

	require.NoError(t, err)
	assert.Zero(t, f.tokenizer.calls)
	assert.Zero(t, f.backend.chargeCalls)
}

// ============================================
// Voucher path
// ============================================

func TestSubmit_Voucher_SucceedsOnPurchaseCreation(t *testing.T) {
	f := newFixture()
	c := twoItemCart(t)

	res, err := f.orch.Submit(context.Background(), buyerSession(), c, shippingForm(), Voucher{Kind: "oxxo"})

	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, res.Attempt.Status)
	assert.Empty(t, res.RedirectURL)

	// Purchase creation only: no tokenize, charge, or redirect.
	assert.Equal(t, 1, f.backend.createCalls)
	assert.Zero(t, f.backend.chargeCalls)
	assert.Zero(t, f.tokenizer.calls)
	assert.Zero(t, f.redirector.calls)

	assert.True(t, c.IsEmpty())
	assert.Equal(t, "oxxo", f.backend.lastCreate.PaymentMethod)
}

func TestSubmit_Voucher_CreateFails(t *testing.T) {
	f := newFixture()
	f.backend.createErr = errors.New("error creating purchase: connection refused")
	c := twoItemCart(t)

	res, err := f.orch.Submit(context.Background(), buyerSession(), c, shippingForm(), Voucher{})

	require.Error(t, err)
	assert.Equal(t, StatusFailed, res.Attempt.Status)
	assert.Equal(t, 2, c.Len())
}

// ============================================
// Re-entrancy gate
// ============================================

func TestSubmit_SecondSubmissionGatedWhileInFlight(t *testing.T) {
	f := newFixture()
	gate := make(chan struct{})
	f.backend.createGate = gate
	c := twoItemCart(t)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.orch.Submit(ctx, buyerSession(), c, shippingForm(), Voucher{})
	}()

	// Wait until the first submission is inside the backend call.
	require.Eventually(t, func() bool { return f.orch.Processing("user-1") }, time.Second, time.Millisecond)

	_, err := f.orch.Submit(ctx, buyerSession(), twoItemCart(t), shippingForm(), Voucher{})
	assert.ErrorIs(t, err, ErrPaymentInFlight)

	close(gate)
	<-done
	assert.False(t, f.orch.Processing("user-1"))
}

func TestSubmit_GateIsPerUser(t *testing.T) {
	f := newFixture()
	gate := make(chan struct{})
	f.backend.createGate = gate
	ctx := context.Background()

	other := &session.Session{ID: "sess-2", UserID: "user-2", Email: "other@example.com", Token: "other-token"}
	cartA, cartB := twoItemCart(t), twoItemCart(t)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = f.orch.Submit(ctx, buyerSession(), cartA, shippingForm(), Voucher{})
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = f.orch.Submit(ctx, other, cartB, shippingForm(), Voucher{})
	}()

	// Both shoppers reach the backend call concurrently: neither gated out.
	require.Eventually(t, func() bool {
		return f.orch.Processing("user-1") && f.orch.Processing("user-2")
	}, time.Second, time.Millisecond)

	close(gate)
	wg.Wait()
	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
	assert.False(t, f.orch.Processing("user-1"))
	assert.False(t, f.orch.Processing("user-2"))
}

// ============================================
// Journal
// ============================================

func TestSubmit_JournalsTerminalStatus(t *testing.T) {
	f := newFixture()
	c := twoItemCart(t)
	ctx := context.Background()

	_, err := f.orch.Submit(ctx, buyerSession(), c, shippingForm(), cardMethod())
	require.NoError(t, err)

	entries := f.journal.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "succeeded", entries[0].Status)
	assert.Equal(t, "card", entries[0].Method)
	assert.Equal(t, "42", entries[0].PurchaseID)
	assert.InDelta(t, 149.98, entries[0].Amount, 1e-9)
}

// ============================================
// Attempt state machine
// ============================================

func TestAttempt_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		allowed bool
	}{
		{"idle to building", StatusIdle, StatusBuildingRequest, true},
		{"building to tokenizing", StatusBuildingRequest, StatusTokenizing, true},
		{"building to purchase pending", StatusBuildingRequest, StatusPurchasePending, true},
		{"charging to unsettled", StatusCharging, StatusUnsettled, true},
		{"charging to failed is not a thing", StatusCharging, StatusFailed, false},
		{"succeeded is terminal", StatusSucceeded, StatusFailed, false},
		{"unsettled is terminal", StatusUnsettled, StatusSucceeded, false},
		{"no skipping build", StatusIdle, StatusCharging, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAttempt("card")
			a.Status = tt.from

			assert.Equal(t, tt.allowed, a.CanTransitionTo(tt.to))
			err := a.transition(tt.to)
			if tt.allowed {
				assert.NoError(t, err)
				assert.Equal(t, tt.to, a.Status)
			} else {
				assert.Error(t, err)
				assert.Equal(t, tt.from, a.Status)
			}
		})
	}
}

func TestMethod_Names(t *testing.T) {
	assert.Equal(t, "card", Card{}.Name())
	assert.Equal(t, "paypal", Wallet{}.Name())
	assert.Equal(t, "apple", Wallet{Provider: "apple"}.Name())
	assert.Equal(t, "oxxo", Voucher{}.Name())
	assert.Equal(t, "oxxo", Voucher{Kind: ""}.Name())
}
