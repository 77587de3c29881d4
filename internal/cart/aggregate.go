package cart

import (
	"errors"
)

var (
	ErrInvalidProduct  = errors.New("product_id is required")
	ErrItemNotFound    = errors.New("item not in cart")
	ErrInvalidDiscount = errors.New("discount must be between 0 and 100")
	ErrNegativePrice   = errors.New("unit price must be non-negative")
)

// LineItem is one selected product in the cart. TxType is the transaction
// type the backend expects per product ("venta" when unset).
type LineItem struct {
	ProductID       string  `json:"product_id"`
	Name            string  `json:"name"`
	UnitPrice       float64 `json:"unit_price"`
	DiscountPercent float64 `json:"discount_percent"`
	Quantity        int     `json:"quantity"`
	ImageRef        string  `json:"image_ref,omitempty"`
	TxType          string  `json:"tx_type,omitempty"`
}

// EffectivePrice is the unit price after discount.
func (li LineItem) EffectivePrice() float64 {
	return li.UnitPrice * (1 - li.DiscountPercent/100)
}

// Cart holds the line items in display order. Totals never depend on the
// order; display does, so insertion order is preserved.
type Cart struct {
	items []LineItem
}

func New() *Cart {
	return &Cart{}
}

// Add appends a new line item, or increments the quantity of the existing
// line for the same product id.
func (c *Cart) Add(item LineItem) error {
	if item.ProductID == "" {
		return ErrInvalidProduct
	}
	if item.UnitPrice < 0 {
		return ErrNegativePrice
	}
	if item.DiscountPercent < 0 || item.DiscountPercent > 100 {
		return ErrInvalidDiscount
	}
	if item.Quantity < 1 {
		item.Quantity = 1
	}

	for i := range c.items {
		if c.items[i].ProductID == item.ProductID {
			c.items[i].Quantity += item.Quantity
			return nil
		}
	}
	c.items = append(c.items, item)
	return nil
}

// UpdateQuantity sets the quantity of a line item. Quantities below 1 are
// clamped to 1; removal is always explicit via Remove.
func (c *Cart) UpdateQuantity(productID string, qty int) error {
	if qty < 1 {
		qty = 1
	}
	for i := range c.items {
		if c.items[i].ProductID == productID {
			c.items[i].Quantity = qty
			return nil
		}
	}
	return ErrItemNotFound
}

// Remove deletes the line item for the given product id.
func (c *Cart) Remove(productID string) error {
	for i := range c.items {
		if c.items[i].ProductID == productID {
			c.items = append(c.items[:i], c.items[i+1:]...)
			return nil
		}
	}
	return ErrItemNotFound
}

// Clear empties the cart. Called only after a confirmed purchase.
func (c *Cart) Clear() {
	c.items = nil
}

// Total recomputes the cart total from current state on every call.
func (c *Cart) Total() float64 {
	var total float64
	for _, li := range c.items {
		total += li.EffectivePrice() * float64(li.Quantity)
	}
	return total
}

// Items returns a copy of the line items in display order.
func (c *Cart) Items() []LineItem {
	out := make([]LineItem, len(c.items))
	copy(out, c.items)
	return out
}

func (c *Cart) IsEmpty() bool {
	return len(c.items) == 0
}

func (c *Cart) Len() int {
	return len(c.items)
}

// Snapshot and Restore are the serialize/deserialize boundary for the
// persisted cart (see cart/cache).
func (c *Cart) Snapshot() []LineItem {
	return c.Items()
}

func Restore(items []LineItem) *Cart {
	c := New()
	for _, li := range items {
		// Restore preserves stored quantities as-is; Add would merge
		// duplicates, which a snapshot never contains.
		if li.ProductID == "" {
			continue
		}
		c.items = append(c.items, li)
	}
	return c
}
