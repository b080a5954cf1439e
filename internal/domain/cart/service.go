package cart

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// Service manages the advisory coupon binding on a cart. Binding re-validates
// the coupon so the shopper gets immediate feedback, but the binding itself is
// never authoritative: order placement validates and redeems independently.
type Service struct {
	bindings Repository
	coupons  CouponChecker
	now      func() time.Time
}

// NewService creates a cart Service with the given binding store and coupon
// checker.
func NewService(bindings Repository, coupons CouponChecker) *Service {
	return &Service{
		bindings: bindings,
		coupons:  coupons,
		now:      time.Now,
	}
}

// Bind validates the coupon code against the cart snapshot and, on success,
// stores the normalized code on the cart. Rebinding a cart owned by another
// user fails with ErrOwnershipViolation.
func (s *Service) Bind(ctx context.Context, cartID, userID, code string, snap Snapshot) (*Binding, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return nil, errors.New("coupon code required")
	}

	existing, err := s.bindings.Get(ctx, cartID)
	if err != nil && !errors.Is(err, ErrNotBound) {
		return nil, errors.Wrap(err, "load binding")
	}
	if existing != nil && existing.UserID != userID {
		return nil, ErrOwnershipViolation
	}

	if err := s.coupons.Check(ctx, normalized, userID, snap); err != nil {
		return nil, err
	}

	b := &Binding{
		CartID:  cartID,
		UserID:  userID,
		Code:    normalized,
		BoundAt: s.now().UTC(),
	}
	if err := s.bindings.Upsert(ctx, b); err != nil {
		return nil, errors.Wrap(err, "store binding")
	}
	return b, nil
}

// Unbind removes the coupon binding from the cart. Only the owning user may
// remove it; unbinding a cart with no binding is a no-op.
func (s *Service) Unbind(ctx context.Context, cartID, userID string) error {
	existing, err := s.bindings.Get(ctx, cartID)
	if err != nil {
		if errors.Is(err, ErrNotBound) {
			return nil
		}
		return errors.Wrap(err, "load binding")
	}
	if existing.UserID != userID {
		return ErrOwnershipViolation
	}
	if err := s.bindings.Delete(ctx, cartID); err != nil {
		return errors.Wrap(err, "delete binding")
	}
	return nil
}

// BoundCode returns the code currently bound to the cart, or "" when none is.
func (s *Service) BoundCode(ctx context.Context, cartID string) (string, error) {
	b, err := s.bindings.Get(ctx, cartID)
	if err != nil {
		if errors.Is(err, ErrNotBound) {
			return "", nil
		}
		return "", errors.Wrap(err, "load binding")
	}
	return b.Code, nil
}
