package payment

import (
	"github.com/example/storefront/internal/payment/stripe"
)

// Method is the selected payment path. Each variant carries exactly the
// fields its flow needs; the orchestrator switches on the concrete type
// instead of comparing method strings.
type Method interface {
	Name() string
	isMethod()
}

// Card pays by tokenized card charge. The raw input goes to the tokenizer
// and nowhere else.
type Card struct {
	Input stripe.CardInput
}

func (Card) Name() string { return "card" }
func (Card) isMethod()    {}

// Wallet pays by redirecting the shopper to an off-site approval page
// (PayPal-style). Provider is the wire name, e.g. "paypal" or "apple".
type Wallet struct {
	Provider string
}

func (w Wallet) Name() string {
	if w.Provider == "" {
		return "paypal"
	}
	return w.Provider
}
func (Wallet) isMethod() {}

// Voucher pays on purchase creation alone: the shopper settles later at a
// store counter (OXXO-style cash voucher).
type Voucher struct {
	Kind string
}

func (v Voucher) Name() string {
	if v.Kind == "" {
		return "oxxo"
	}
	return v.Kind
}
func (Voucher) isMethod() {}
