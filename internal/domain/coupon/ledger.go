package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/harborline/promo-engine/internal/domain/cart"
	"github.com/harborline/promo-engine/internal/domain/promotion"
)

// Validation is the result of a successful coupon validation: the coupon, its
// owning promotion, and the discount the cart would receive right now.
type Validation struct {
	Coupon      *Coupon
	Promotion   *promotion.Promotion
	Eligibility *promotion.Eligibility
	Discount    promotion.Discount
}

// Ledger validates coupon availability and commits redemptions. Validate is
// read-only and may observe a slightly stale usage count; Redeem re-checks
// authoritatively inside the repository's transaction, so a validate/redeem
// pair with no intervening state change never produces a false negative.
type Ledger struct {
	coupons    Repository
	promotions promotion.Repository
	now        func() time.Time
}

// NewLedger creates a Ledger backed by the given repositories.
func NewLedger(coupons Repository, promotions promotion.Repository) *Ledger {
	return &Ledger{
		coupons:    coupons,
		promotions: promotions,
		now:        time.Now,
	}
}

// Validate runs the availability checks in their fixed order: coupon exists,
// coupon active, not expired, global limit, per-user limit, promotion active
// and within its window, cart satisfies the promotion's conditions. The first
// failing check determines the returned error.
func (l *Ledger) Validate(ctx context.Context, code, userID string, snap cart.Snapshot, customerGroupID string) (*Validation, error) {
	c, err := l.coupons.FindByCode(ctx, NormalizeCode(code))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	if c.Status != StatusActive {
		return nil, ErrInactive
	}

	now := l.now()
	if c.ExpiresAt != nil && now.After(*c.ExpiresAt) {
		return nil, ErrExpired
	}

	if c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit {
		return nil, ErrGlobalLimitExceeded
	}

	if c.UserLimit > 0 {
		used, err := l.coupons.CountUsage(ctx, c.ID, userID)
		if err != nil {
			return nil, errors.Wrap(err, "count user usage")
		}
		if used >= c.UserLimit {
			return nil, ErrUserLimitExceeded
		}
	}

	p, err := l.promotions.GetByID(ctx, c.PromotionID)
	if err != nil {
		return nil, errors.Wrapf(err, "load promotion %s", c.PromotionID)
	}
	if p.Status != promotion.StatusActive {
		return nil, ErrPromotionInactive
	}
	if now.Before(p.StartsAt) {
		return nil, ErrNotYetStarted
	}
	if p.EndsAt != nil && now.After(*p.EndsAt) {
		return nil, ErrExpired
	}

	elig, err := promotion.EvaluateConditions(p, snap, customerGroupID)
	if err != nil {
		return nil, err
	}

	d, err := promotion.DiscountFor(p, elig)
	if err != nil {
		return nil, errors.Wrap(err, "compute discount")
	}

	return &Validation{
		Coupon:      c,
		Promotion:   p,
		Eligibility: elig,
		Discount:    d,
	}, nil
}

// Check is the boolean form of Validate used by the cart binding service.
func (l *Ledger) Check(ctx context.Context, code, userID string, snap cart.Snapshot) error {
	_, err := l.Validate(ctx, code, userID, snap, "")
	return err
}

// Redeem consumes one unit of the coupon's usage allowance for the given
// order. The repository performs the conditional increment and ledger insert
// atomically; this layer only validates arguments. Redeeming twice for one
// order is a no-op success, so order-placement retries are safe.
func (l *Ledger) Redeem(ctx context.Context, req RedeemRequest) (*Usage, error) {
	switch {
	case req.CouponID == "":
		return nil, errors.New("coupon id required")
	case req.UserID == "":
		return nil, errors.New("user id required")
	case req.OrderID == "":
		return nil, errors.New("order id required")
	case req.DiscountAmount.IsNegative():
		return nil, errors.New("discount amount must not be negative")
	}

	u, err := l.coupons.Redeem(ctx, req)
	if err != nil {
		return nil, err
	}
	return u, nil
}

var _ cart.CouponChecker = (*Ledger)(nil)
