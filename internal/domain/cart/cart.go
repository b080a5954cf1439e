// Package cart holds the cart snapshot consumed by promotion evaluation and
// the advisory coupon binding attached to a cart before checkout.
package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrOwnershipViolation is returned when a cart binding is mutated by a
	// user who does not own it.
	ErrOwnershipViolation = errors.New("cart does not belong to user")
	// ErrNotBound is returned when no coupon is bound to the cart.
	ErrNotBound = errors.New("no coupon bound to cart")
)

// Line is a single cart line item, fully resolved by the checkout
// collaborator: category IDs are already looked up, the unit price already
// includes any catalog-level pricing. The engine never mutates lines.
type Line struct {
	ProductID   string          `json:"productId"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Quantity    int             `json:"quantity"`
	CategoryIDs []string        `json:"categoryIds,omitempty"`
}

// Total returns unit price multiplied by quantity.
func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Snapshot is a read-only view of a cart at evaluation time.
type Snapshot struct {
	Lines []Line `json:"lines"`
}

// Subtotal returns the sum of line totals across the whole cart.
func (s Snapshot) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range s.Lines {
		sum = sum.Add(l.Total())
	}
	return sum
}

// TotalQuantity returns the sum of quantities across the whole cart.
func (s Snapshot) TotalQuantity() int {
	total := 0
	for _, l := range s.Lines {
		total += l.Quantity
	}
	return total
}

// Binding records a coupon code attached to a cart. It is convenience state
// for the checkout UI: redemption always re-validates the code, so a stale
// binding can never grant a discount by itself.
type Binding struct {
	CartID  string
	UserID  string
	Code    string
	BoundAt time.Time
}

// Repository persists cart coupon bindings.
type Repository interface {
	// Get returns the binding for the cart, or ErrNotBound.
	Get(ctx context.Context, cartID string) (*Binding, error)
	Upsert(ctx context.Context, b *Binding) error
	Delete(ctx context.Context, cartID string) error
}

// CouponChecker verifies that a coupon code is currently applicable for the
// given user and cart. Implemented by the coupon redemption ledger.
type CouponChecker interface {
	Check(ctx context.Context, code, userID string, snap Snapshot) error
}
