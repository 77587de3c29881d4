package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/storefront/internal/api/middleware"
	"github.com/example/storefront/internal/auth"
	"github.com/example/storefront/internal/cart"
	"github.com/example/storefront/internal/cart/cache"
	"github.com/example/storefront/internal/checkout"
	"github.com/example/storefront/internal/journal"
	"github.com/example/storefront/internal/notify"
	"github.com/example/storefront/internal/payment"
	"github.com/example/storefront/internal/payment/stripe"
	"github.com/example/storefront/internal/session"
)

type Handlers struct {
	sessions     *session.Manager
	tokens       *auth.TokenService
	orchestrator *payment.Orchestrator
	feed         *notify.Feed
	journal      journal.Journal
	snapshots    cache.SnapshotStore

	mu    sync.Mutex
	carts map[string]*cart.Cart
}

func NewHandlers(
	sessions *session.Manager,
	tokens *auth.TokenService,
	orchestrator *payment.Orchestrator,
	feed *notify.Feed,
	jnl journal.Journal,
	snapshots cache.SnapshotStore,
) *Handlers {
	return &Handlers{
		sessions:     sessions,
		tokens:       tokens,
		orchestrator: orchestrator,
		feed:         feed,
		journal:      jnl,
		snapshots:    snapshots,
		carts:        make(map[string]*cart.Cart),
	}
}

// cartFor returns the user's live cart, restoring the persisted snapshot on
// first access.
func (h *Handlers) cartFor(r *http.Request, userID string) *cart.Cart {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.carts[userID]; ok {
		return c
	}

	c := cart.New()
	if h.snapshots != nil {
		if restored, err := h.snapshots.Get(r.Context(), userID); err == nil {
			c = restored
		} else if !errors.Is(err, cache.ErrSnapshotMiss) {
			log.Printf("[API] Failed to restore cart snapshot for %s: %v", userID, err)
		}
	}
	h.carts[userID] = c
	return c
}

func (h *Handlers) persistCart(r *http.Request, userID string, c *cart.Cart) {
	if h.snapshots == nil {
		return
	}
	if err := h.snapshots.Set(r.Context(), userID, c); err != nil {
		log.Printf("[API] Failed to persist cart snapshot for %s: %v", userID, err)
	}
}

// Session Handlers

// OpenSession exchanges a backend-issued bearer token for a storefront
// session. The token stays on the session and is forwarded to the purchase
// backend on every call made on the shopper's behalf.
func (h *Handlers) OpenSession(w http.ResponseWriter, r *http.Request) {
	token := middleware.ExtractBearer(r)
	if token == "" {
		var body struct {
			Token string `json:"token"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		token = body.Token
	}
	if token == "" {
		http.Error(w, "token required", http.StatusBadRequest)
		return
	}

	claims, err := h.tokens.Validate(token)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	sess := &session.Session{
		ID:        uuid.NewString(),
		UserID:    claims.UserID,
		Email:     claims.Email,
		Role:      claims.Role,
		Token:     token,
		CreatedAt: time.Now(),
	}
	if err := h.sessions.Save(r.Context(), sess); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "session_id",
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	respondJSON(w, http.StatusCreated, map[string]string{
		"session_id": sess.ID,
		"user_id":    sess.UserID,
		"email":      sess.Email,
		"role":       sess.Role,
	})
}

func (h *Handlers) CloseSession(w http.ResponseWriter, r *http.Request) {
	sessionID := middleware.ExtractSessionID(r)
	if sessionID == "" {
		http.Error(w, "no session", http.StatusBadRequest)
		return
	}
	if err := h.sessions.Drop(r.Context(), sessionID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Cart Handlers

type cartResponse struct {
	Items []cart.LineItem `json:"items"`
	Total float64         `json:"total"`
}

func (h *Handlers) GetCart(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.GetSession(r.Context())
	c := h.cartFor(r, sess.UserID)
	respondJSON(w, http.StatusOK, cartResponse{Items: c.Items(), Total: c.Total()})
}

func (h *Handlers) AddCartItem(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.GetSession(r.Context())
	if h.rejectDuringCheckout(w, sess.UserID) {
		return
	}

	var item cart.LineItem
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	c := h.cartFor(r, sess.UserID)
	if err := c.Add(item); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.persistCart(r, sess.UserID, c)

	respondJSON(w, http.StatusOK, cartResponse{Items: c.Items(), Total: c.Total()})
}

func (h *Handlers) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.GetSession(r.Context())
	if h.rejectDuringCheckout(w, sess.UserID) {
		return
	}

	productID := extractPathParam(r.URL.Path, "/cart/items/")
	var body struct {
		Quantity int `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	c := h.cartFor(r, sess.UserID)
	if err := c.UpdateQuantity(productID, body.Quantity); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	h.persistCart(r, sess.UserID, c)

	respondJSON(w, http.StatusOK, cartResponse{Items: c.Items(), Total: c.Total()})
}

func (h *Handlers) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.GetSession(r.Context())
	if h.rejectDuringCheckout(w, sess.UserID) {
		return
	}

	productID := extractPathParam(r.URL.Path, "/cart/items/")
	c := h.cartFor(r, sess.UserID)
	if err := c.Remove(productID); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	h.persistCart(r, sess.UserID, c)

	respondJSON(w, http.StatusOK, cartResponse{Items: c.Items(), Total: c.Total()})
}

// rejectDuringCheckout blocks cart mutation while the user's own payment is
// in flight; their cart must not move under a running checkout. Other users
// are unaffected.
func (h *Handlers) rejectDuringCheckout(w http.ResponseWriter, userID string) bool {
	if h.orchestrator.Processing(userID) {
		http.Error(w, "checkout in progress", http.StatusConflict)
		return true
	}
	return false
}

// Checkout Handler

type checkoutRequest struct {
	checkout.Form
	Method string `json:"method"`
	Card   struct {
		Number   string `json:"number"`
		Holder   string `json:"holder"`
		ExpMonth string `json:"exp_month"`
		ExpYear  string `json:"exp_year"`
		CVC      string `json:"cvc"`
	} `json:"card"`
}

func (req checkoutRequest) method() payment.Method {
	switch strings.ToLower(req.Method) {
	case "card":
		return payment.Card{Input: stripe.CardInput{
			Number:   req.Card.Number,
			Holder:   req.Card.Holder,
			ExpMonth: req.Card.ExpMonth,
			ExpYear:  req.Card.ExpYear,
			CVC:      req.Card.CVC,
		}}
	case "paypal", "apple":
		return payment.Wallet{Provider: strings.ToLower(req.Method)}
	default:
		return payment.Voucher{Kind: strings.ToLower(req.Method)}
	}
}

func (h *Handlers) Checkout(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.GetSession(r.Context())

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	c := h.cartFor(r, sess.UserID)
	res, err := h.orchestrator.Submit(r.Context(), sess, c, req.Form, req.method())
	if errors.Is(err, payment.ErrPaymentInFlight) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		respondJSON(w, http.StatusPaymentRequired, map[string]string{
			"error":  err.Error(),
			"status": string(res.Attempt.Status),
		})
		return
	}

	h.persistCart(r, sess.UserID, c) // cart is now empty; keep the snapshot in step

	respondJSON(w, http.StatusOK, map[string]string{
		"status":       string(res.Attempt.Status),
		"purchase_id":  res.Attempt.PurchaseID,
		"redirect_url": res.RedirectURL,
	})
}

// Notification Handler

func (h *Handlers) Notifications(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.GetSession(r.Context())
	notifications := h.feed.Drain(sess.UserID)
	if notifications == nil {
		notifications = []notify.Notification{}
	}
	respondJSON(w, http.StatusOK, notifications)
}

// Back-office Handlers

// UnsettledPurchases lists created-but-uncharged purchases awaiting
// out-of-band reconciliation.
func (h *Handlers) UnsettledPurchases(w http.ResponseWriter, r *http.Request) {
	entries, err := h.journal.ListUnsettled(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	respondJSON(w, http.StatusOK, entries)
}

// Helper functions

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func extractPathParam(path, prefix string) string {
	return strings.TrimPrefix(path, prefix)
}
