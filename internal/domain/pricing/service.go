// Package pricing orchestrates the evaluation pipeline: catalog load,
// condition evaluation, stacking resolution, and discount totals for a cart.
package pricing

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/harborline/promo-engine/internal/domain/cart"
	"github.com/harborline/promo-engine/internal/domain/coupon"
	"github.com/harborline/promo-engine/internal/domain/promotion"
)

// Request describes a cart to price.
type Request struct {
	Cart            cart.Snapshot
	UserID          string
	CustomerGroupID string
	// CouponCode, when non-empty, is validated and applied ahead of the
	// automatic promotions. A failed coupon never aborts pricing: the cart is
	// priced with automatics only and the coupon error is surfaced on the
	// result for the caller to display.
	CouponCode string
	// SellerID scopes the catalog to one seller's promotions; nil means
	// platform-wide promotions only.
	SellerID *string
}

// Applied pairs a promotion with the discount it contributes.
type Applied struct {
	Promotion promotion.Promotion
	Discount  promotion.Discount
}

// Result is the full pricing decision for a cart.
type Result struct {
	Subtotal      decimal.Decimal
	Applied       []Applied
	TotalDiscount decimal.Decimal
	Total         decimal.Decimal
	FreeShipping  bool
	// CouponErr carries the recoverable validation failure for a supplied
	// coupon code, nil when no code was supplied or the coupon applied.
	CouponErr error
}

// Service evaluates carts against the active promotion catalog.
type Service struct {
	catalog promotion.Repository
	ledger  *coupon.Ledger
	now     func() time.Time
}

// NewService creates a pricing Service.
func NewService(catalog promotion.Repository, ledger *coupon.Ledger) *Service {
	return &Service{
		catalog: catalog,
		ledger:  ledger,
		now:     time.Now,
	}
}

// EvaluateCart prices the cart: it resolves the coupon (if any), filters the
// active catalog by eligibility, applies stacking rules, and sums discounts.
// It is read-only; nothing is redeemed.
func (s *Service) EvaluateCart(ctx context.Context, req Request) (*Result, error) {
	now := s.now()
	res := &Result{
		Subtotal:      req.Cart.Subtotal(),
		TotalDiscount: decimal.Zero,
	}

	var couponCand *promotion.Candidate
	if req.CouponCode != "" {
		v, err := s.ledger.Validate(ctx, req.CouponCode, req.UserID, req.Cart, req.CustomerGroupID)
		switch {
		case err == nil:
			couponCand = &promotion.Candidate{Promotion: *v.Promotion, Discount: v.Discount}
		case isRecoverableCouponErr(err):
			res.CouponErr = err
		default:
			return nil, errors.Wrap(err, "validate coupon")
		}
	}

	active, err := s.catalog.ListActive(ctx, now, req.SellerID)
	if err != nil {
		return nil, errors.Wrap(err, "list active promotions")
	}

	automatic := make([]promotion.Candidate, 0, len(active))
	for i := range active {
		p := &active[i]
		elig, err := promotion.EvaluateConditions(p, req.Cart, req.CustomerGroupID)
		if err != nil {
			var notMet *promotion.ConditionsNotMetError
			if errors.As(err, &notMet) {
				continue
			}
			return nil, errors.Wrapf(err, "evaluate promotion %s", p.ID)
		}
		d, err := promotion.DiscountFor(p, elig)
		if err != nil {
			return nil, errors.Wrapf(err, "discount for promotion %s", p.ID)
		}
		automatic = append(automatic, promotion.Candidate{Promotion: *p, Discount: d})
	}

	for _, c := range promotion.ResolveStacking(couponCand, automatic) {
		res.Applied = append(res.Applied, Applied{Promotion: c.Promotion, Discount: c.Discount})
		res.TotalDiscount = res.TotalDiscount.Add(c.Discount.Amount)
		if c.Discount.FreeShipping {
			res.FreeShipping = true
		}
	}

	// The combined discount never exceeds the subtotal.
	if res.TotalDiscount.GreaterThan(res.Subtotal) {
		res.TotalDiscount = res.Subtotal
	}
	res.TotalDiscount = res.TotalDiscount.Round(2)
	res.Total = res.Subtotal.Sub(res.TotalDiscount).Round(2)

	return res, nil
}

// isRecoverableCouponErr reports whether a coupon validation failure should
// degrade to automatic-only pricing rather than fail the evaluation.
func isRecoverableCouponErr(err error) bool {
	var notMet *promotion.ConditionsNotMetError
	switch {
	case errors.Is(err, coupon.ErrNotFound),
		errors.Is(err, coupon.ErrInactive),
		errors.Is(err, coupon.ErrExpired),
		errors.Is(err, coupon.ErrNotYetStarted),
		errors.Is(err, coupon.ErrGlobalLimitExceeded),
		errors.Is(err, coupon.ErrUserLimitExceeded),
		errors.Is(err, coupon.ErrPromotionInactive),
		errors.As(err, &notMet):
		return true
	}
	return false
}
