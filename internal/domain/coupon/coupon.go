// Package coupon defines coupon records, the immutable redemption ledger, and
// the validation/redemption service around them.
package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a coupon. A coupon flips to exhausted
// exactly when its usage count reaches its usage limit; the flip happens
// inside the atomic redeem statement, never from application code reading a
// stale counter.
type Status string

const (
	StatusActive    Status = "active"
	StatusExhausted Status = "exhausted"
	StatusExpired   Status = "expired"
	StatusDisabled  Status = "disabled"
)

// Validation failure kinds, in the order the checks run. The first failing
// check determines the error; later checks are not evaluated.
var (
	// ErrNotFound is returned when no coupon exists for the code.
	ErrNotFound = errors.New("coupon not found")
	// ErrInactive is returned when the coupon status is not active.
	ErrInactive = errors.New("coupon is not active")
	// ErrExpired is returned past the coupon's or promotion's end date.
	ErrExpired = errors.New("coupon expired")
	// ErrNotYetStarted is returned before the promotion's start date.
	ErrNotYetStarted = errors.New("promotion has not started")
	// ErrGlobalLimitExceeded is returned when the coupon's global usage limit
	// is already reached at validation time.
	ErrGlobalLimitExceeded = errors.New("coupon usage limit reached")
	// ErrUserLimitExceeded is returned when the user already redeemed the
	// coupon up to the per-user limit.
	ErrUserLimitExceeded = errors.New("coupon user limit reached")
	// ErrPromotionInactive is returned when the owning promotion is not
	// active (draft, paused, or expired status).
	ErrPromotionInactive = errors.New("promotion is not active")
	// ErrConcurrentExhaustion is returned when a redeem loses the race for
	// the last remaining unit. Detected only inside the atomic redeem step,
	// distinct from ErrGlobalLimitExceeded observed at validate time; the
	// enclosing order placement must abort rather than finalize the order
	// with a discount that was never granted.
	ErrConcurrentExhaustion = errors.New("coupon exhausted concurrently")
	// ErrDuplicateCode is returned on creation when the code already exists.
	ErrDuplicateCode = errors.New("coupon code already exists")
)

// NormalizeCode upper-cases and trims a user-supplied coupon code. Codes are
// stored and compared in this normalized form.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Coupon is a user-facing code bound to exactly one promotion, with its own
// usage limits independent from the promotion's.
type Coupon struct {
	ID          string
	Code        string
	PromotionID string
	UsageLimit  *int
	UsageCount  int
	UserLimit   int
	ExpiresAt   *time.Time
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Usage is one immutable ledger row recording a successful redemption. The
// counted existence of rows for (couponID, userID) is the authority for
// per-user limits; there is no per-user counter to drift.
type Usage struct {
	ID             string
	CouponID       string
	UserID         string
	OrderID        string
	DiscountAmount decimal.Decimal
	CreatedAt      time.Time
}

// RedeemRequest is the input to the atomic redemption operation.
type RedeemRequest struct {
	CouponID       string
	UserID         string
	OrderID        string
	DiscountAmount decimal.Decimal
}

// Repository persists coupons and the redemption ledger.
type Repository interface {
	// FindByCode returns the coupon for the normalized code, or ErrNotFound.
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	// CountUsage returns the number of ledger rows for (couponID, userID).
	CountUsage(ctx context.Context, couponID, userID string) (int, error)
	// Redeem atomically re-checks the usage limit, increments the counter,
	// flips the coupon to exhausted when the limit is reached, and inserts
	// the ledger row, all in one transaction. A repeat call with the same
	// order id returns the existing row without incrementing. Losing the
	// race for the last unit returns ErrConcurrentExhaustion.
	Redeem(ctx context.Context, req RedeemRequest) (*Usage, error)
	// Create inserts a new coupon, returning ErrDuplicateCode on conflict.
	Create(ctx context.Context, c *Coupon) error
}
