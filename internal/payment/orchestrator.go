package payment

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/example/storefront/internal/backend"
	"github.com/example/storefront/internal/cart"
	"github.com/example/storefront/internal/cart/cache"
	"github.com/example/storefront/internal/checkout"
	"github.com/example/storefront/internal/journal"
	"github.com/example/storefront/internal/metrics"
	"github.com/example/storefront/internal/notify"
	"github.com/example/storefront/internal/payment/stripe"
	"github.com/example/storefront/internal/payment/wallet"
	"github.com/example/storefront/internal/session"
)

// ErrPaymentInFlight gates double submission: one checkout at a time.
var ErrPaymentInFlight = errors.New("a payment is already in progress")

const successMessage = "purchase completed successfully"

// PurchaseClient is the slice of the backend client the orchestrator uses.
type PurchaseClient interface {
	CreatePurchase(ctx context.Context, req backend.PurchaseRequest) (*backend.Purchase, error)
	ChargeCard(ctx context.Context, req backend.ChargeRequest) error
}

// RedirectStarter is the wallet adapter's probing entry point.
type RedirectStarter interface {
	Start(ctx context.Context, p wallet.Payload) (string, []wallet.CandidateResult, error)
}

// Config wires the orchestrator's collaborators. Journal, Metrics,
// Snapshots and Email are optional.
type Config struct {
	Backend    PurchaseClient
	Tokenizer  stripe.Tokenizer
	Redirector RedirectStarter
	Notifier   notify.Notifier
	Journal    journal.Journal
	Metrics    *metrics.CheckoutMetrics
	Snapshots  cache.SnapshotStore
	Email      *notify.EmailService
	Currency   string
}

// Orchestrator drives one checkout submission through tokenize, purchase
// creation, and charge or redirect, per selected method. It is the only
// component allowed to clear the cart, and it does so exclusively on a
// confirmed success.
type Orchestrator struct {
	cfg Config

	mu       sync.Mutex
	inFlight map[string]struct{} // user IDs with a submission in flight
}

func NewOrchestrator(cfg Config) *Orchestrator {
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if cfg.Journal == nil {
		cfg.Journal = journal.NewMemoryJournal()
	}
	return &Orchestrator{cfg: cfg, inFlight: make(map[string]struct{})}
}

// Result is the outcome handed back to the HTTP layer. RedirectURL is set
// only for a wallet success, where the shopper must be navigated off-site.
type Result struct {
	Attempt     *Attempt
	RedirectURL string
}

// Processing reports whether the given user has a submission in flight.
// The gate is per shopper; one user's checkout never blocks another's.
func (o *Orchestrator) Processing(userID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, busy := o.inFlight[userID]
	return busy
}

func (o *Orchestrator) begin(userID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inFlight[userID]; busy {
		return false
	}
	o.inFlight[userID] = struct{}{}
	return true
}

func (o *Orchestrator) end(userID string) {
	o.mu.Lock()
	delete(o.inFlight, userID)
	o.mu.Unlock()
}

// Submit runs the full checkout flow for the selected method. Steps within
// one attempt are strictly sequential; each needs the previous step's
// output. On any failure the cart is left intact and the processing gate is
// released so the shopper can resubmit.
func (o *Orchestrator) Submit(ctx context.Context, sess *session.Session, c *cart.Cart, form checkout.Form, method Method) (*Result, error) {
	uid := userID(sess)
	if !o.begin(uid) {
		return nil, ErrPaymentInFlight
	}
	defer o.end(uid)

	attempt := NewAttempt(method.Name())
	res := &Result{Attempt: attempt}
	attempt.transition(StatusBuildingRequest)

	opts := buildOptions(method)
	req, err := checkout.Build(c, sess, form, opts)
	if err != nil {
		// Precondition failure: reported immediately, nothing was sent.
		return res, o.fail(ctx, sess, attempt, err.Error())
	}
	attempt.Amount = req.Total

	switch m := method.(type) {
	case Card:
		err = o.submitCard(ctx, sess, c, req, m, attempt)
	case Wallet:
		err = o.submitWallet(ctx, sess, c, req, attempt, res)
	case Voucher:
		err = o.submitVoucher(ctx, sess, c, req, attempt)
	default:
		err = o.fail(ctx, sess, attempt, "unsupported payment method")
	}

	o.cfg.Metrics.ObserveAttempt(attempt.Method, string(attempt.Status))
	o.record(ctx, sess, attempt)
	return res, err
}

func buildOptions(method Method) checkout.BuildOptions {
	_, isWallet := method.(Wallet)
	return checkout.BuildOptions{
		MethodName:     method.Name(),
		RedirectWallet: isWallet,
	}
}

// tokenBinder is satisfied by the concrete backend client. Fakes that don't
// implement it are used as-is.
type tokenBinder interface {
	WithToken(token string) *backend.Client
}

// backendFor binds the session's bearer token to the backend client for this
// submission, so purchase creation and charge go out as the shopper.
func (o *Orchestrator) backendFor(sess *session.Session) PurchaseClient {
	if sess == nil || sess.Token == "" {
		return o.cfg.Backend
	}
	if b, ok := o.cfg.Backend.(tokenBinder); ok {
		return b.WithToken(sess.Token)
	}
	return o.cfg.Backend
}

func (o *Orchestrator) submitCard(ctx context.Context, sess *session.Session, c *cart.Cart, req backend.PurchaseRequest, m Card, attempt *Attempt) error {
	client := o.backendFor(sess)

	attempt.transition(StatusTokenizing)
	token, err := o.cfg.Tokenizer.Tokenize(ctx, m.Input)
	if err != nil {
		return o.fail(ctx, sess, attempt, err.Error())
	}

	attempt.transition(StatusPurchasePending)
	purchase, err := client.CreatePurchase(ctx, req)
	if err != nil {
		return o.fail(ctx, sess, attempt, err.Error())
	}
	attempt.PurchaseID = purchase.ID

	amount := purchase.Total
	if amount <= 0 {
		amount = req.Total
	}

	attempt.transition(StatusCharging)
	err = client.ChargeCard(ctx, backend.ChargeRequest{
		Token:      token,
		Amount:     amount,
		Email:      sess.Email,
		PurchaseID: purchase.ID,
	})
	if err != nil {
		// The purchase exists but is unpaid. Deliberately not rolled back:
		// reconciliation happens out-of-band.
		attempt.transition(StatusUnsettled)
		attempt.LastError = err.Error()
		o.cfg.Notifier.Error(ctx, sess.UserID, err.Error())
		return err
	}

	return o.succeed(ctx, sess, c, attempt)
}

func (o *Orchestrator) submitWallet(ctx context.Context, sess *session.Session, c *cart.Cart, req backend.PurchaseRequest, attempt *Attempt, res *Result) error {
	attempt.transition(StatusPurchasePending)
	purchase, err := o.backendFor(sess).CreatePurchase(ctx, req)
	if err != nil {
		return o.fail(ctx, sess, attempt, err.Error())
	}
	attempt.PurchaseID = purchase.ID

	amount := purchase.Total
	if amount <= 0 {
		amount = req.Total
	}

	attempt.transition(StatusRedirecting)
	target, trail, err := o.cfg.Redirector.Start(ctx, wallet.Payload{
		PurchaseID:  purchase.ID,
		Amount:      amount,
		Currency:    o.cfg.Currency,
		Description: "marketplace purchase",
		UserID:      sess.UserID,
		Token:       sess.Token,
	})
	for _, probe := range trail {
		o.cfg.Metrics.ObserveWalletProbe(string(probe.Outcome))
	}
	if err != nil {
		return o.fail(ctx, sess, attempt, err.Error())
	}

	attempt.RedirectURL = target
	res.RedirectURL = target
	return o.succeed(ctx, sess, c, attempt)
}

func (o *Orchestrator) submitVoucher(ctx context.Context, sess *session.Session, c *cart.Cart, req backend.PurchaseRequest, attempt *Attempt) error {
	attempt.transition(StatusPurchasePending)
	purchase, err := o.backendFor(sess).CreatePurchase(ctx, req)
	if err != nil {
		return o.fail(ctx, sess, attempt, err.Error())
	}
	attempt.PurchaseID = purchase.ID

	// No charge or redirect step: the voucher settles at the counter.
	return o.succeed(ctx, sess, c, attempt)
}

// succeed runs the one-way terminal transition: clear the cart and its
// persisted snapshot, notify once, send the receipt.
func (o *Orchestrator) succeed(ctx context.Context, sess *session.Session, c *cart.Cart, attempt *Attempt) error {
	items := c.Items()
	total := c.Total()

	attempt.transition(StatusSucceeded)
	c.Clear()
	if o.cfg.Snapshots != nil {
		if err := o.cfg.Snapshots.Delete(ctx, sess.UserID); err != nil {
			log.Printf("[Checkout] Failed to drop cart snapshot for %s: %v", sess.UserID, err)
		}
	}

	o.cfg.Notifier.Success(ctx, sess.UserID, successMessage)
	if o.cfg.Email != nil {
		o.cfg.Email.TrySendPurchaseConfirmation(sess.Email, attempt.PurchaseID, total, items)
	}
	return nil
}

// fail marks the attempt failed and notifies. The cart is untouched.
func (o *Orchestrator) fail(ctx context.Context, sess *session.Session, attempt *Attempt, message string) error {
	attempt.transition(StatusFailed)
	attempt.LastError = message
	o.cfg.Notifier.Error(ctx, userID(sess), message)
	return errors.New(message)
}

// userID tolerates the unauthenticated precondition, where no session was
// ever resolved.
func userID(sess *session.Session) string {
	if sess == nil {
		return ""
	}
	return sess.UserID
}

// record journals the terminal attempt. Journal writes never affect the
// checkout outcome.
func (o *Orchestrator) record(ctx context.Context, sess *session.Session, attempt *Attempt) {
	status := string(attempt.Status)
	if attempt.Status == StatusUnsettled {
		status = journal.StatusUnsettled
	}
	err := o.cfg.Journal.Record(ctx, journal.Entry{
		ID:         attempt.ID,
		UserID:     userID(sess),
		Method:     attempt.Method,
		Status:     status,
		PurchaseID: attempt.PurchaseID,
		Amount:     attempt.Amount,
		LastError:  attempt.LastError,
		CreatedAt:  time.Now(),
	})
	if err != nil {
		log.Printf("[Checkout] Failed to journal attempt %s: %v", attempt.ID, err)
	}
}
