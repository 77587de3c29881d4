package checkout

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/storefront/internal/backend"
	"github.com/example/storefront/internal/cart"
	"github.com/example/storefront/internal/session"
)

var (
	ErrEmptyCart       = errors.New("cart is empty")
	ErrUnauthenticated = errors.New("no authenticated user for checkout")
)

// DefaultTxType is used when a line item carries no transaction type.
const DefaultTxType = "venta"

// NoShippingAddress is the sentinel sent for redirect-wallet payments that
// need no physical address.
const NoShippingAddress = "N/A"

// Form is the shipping and contact data entered on the checkout page.
// Raw card data never lives here; it goes straight to the tokenizer.
type Form struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Address   string `json:"address"`
	City      string `json:"city"`
	ZipCode   string `json:"zip_code"`
	Phone     string `json:"phone"`
}

// BuildOptions describe the selected payment method as far as the builder
// cares: its wire name and whether goods ship to a physical address.
type BuildOptions struct {
	MethodName     string
	RedirectWallet bool
}

// Build assembles the purchase-creation payload from the cart, the resolved
// session, and the checkout form. It never touches the network; precondition
// failures surface here so the orchestrator can halt before any call.
func Build(c *cart.Cart, sess *session.Session, form Form, opts BuildOptions) (backend.PurchaseRequest, error) {
	if c == nil || c.IsEmpty() {
		return backend.PurchaseRequest{}, ErrEmptyCart
	}
	if sess == nil || sess.UserID == "" {
		return backend.PurchaseRequest{}, ErrUnauthenticated
	}

	items := c.Items()

	txType := items[0].TxType
	if txType == "" {
		txType = DefaultTxType
	}

	address := NoShippingAddress
	if !opts.RedirectWallet {
		address = shippingAddress(form)
	}

	wireItems := make([]backend.PurchaseItem, 0, len(items))
	for _, li := range items {
		itemType := li.TxType
		if itemType == "" {
			itemType = DefaultTxType
		}
		wireItems = append(wireItems, backend.PurchaseItem{
			ProductID: li.ProductID,
			TxType:    itemType,
			Quantity:  li.Quantity,
			UnitPrice: li.EffectivePrice(),
		})
	}

	return backend.PurchaseRequest{
		UserID:          sess.UserID,
		PaymentDate:     time.Now().Format("2006-01-02"),
		Total:           c.Total(),
		ShippingAddress: address,
		ContactPhone:    form.Phone,
		TxType:          txType,
		PaymentMethod:   opts.MethodName,
		Items:           wireItems,
	}, nil
}

func shippingAddress(form Form) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{form.Address, form.City, form.ZipCode} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, strings.TrimSpace(p))
		}
	}
	if len(parts) == 0 {
		return NoShippingAddress
	}
	return strings.Join(parts, ", ")
}

// Validate checks the form fields a shipped order needs.
func (f Form) Validate(redirectWallet bool) error {
	if strings.TrimSpace(f.Email) == "" {
		return fmt.Errorf("email is required")
	}
	if redirectWallet {
		return nil
	}
	if strings.TrimSpace(f.Address) == "" {
		return fmt.Errorf("address is required")
	}
	return nil
}
