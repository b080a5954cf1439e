package promotion

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/harborline/promo-engine/internal/domain/cart"
)

// ConditionReason identifies which predicate rejected the cart, so the caller
// can explain to the shopper why a promotion did not apply.
type ConditionReason string

const (
	ReasonEmptyCart         ConditionReason = "empty_cart"
	ReasonNoEligibleItems   ConditionReason = "no_eligible_items"
	ReasonCartValueBelowMin ConditionReason = "cart_value_below_min"
	ReasonCartValueAboveMax ConditionReason = "cart_value_above_max"
	ReasonQuantityBelowMin  ConditionReason = "quantity_below_min"
	ReasonCustomerGroup     ConditionReason = "customer_group_mismatch"
)

// ConditionsNotMetError reports the first predicate that failed.
type ConditionsNotMetError struct {
	PromotionID string
	Reason      ConditionReason
}

func (e *ConditionsNotMetError) Error() string {
	return fmt.Sprintf("promotion %s not applicable: %s", e.PromotionID, e.Reason)
}

// Eligibility is the subset of the cart a promotion may discount.
type Eligibility struct {
	// Lines are the cart lines matching the promotion's eligibility filter.
	Lines []cart.Line
	// Amount is the sum of line totals across Lines.
	Amount decimal.Decimal
	// Quantity is the sum of quantities across Lines.
	Quantity int
}

// EvaluateConditions decides whether the promotion applies to the cart and,
// if so, returns the eligible line subset. It is a pure function: all
// configured predicates are ANDed, and a promotion with no conditions applies
// to any non-empty cart.
//
// A failed check returns *ConditionsNotMetError; the distinct reasons matter
// because "no line matched the eligibility filter" and "the eligible amount
// is below the minimum" produce different shopper-facing messages.
func EvaluateConditions(p *Promotion, snap cart.Snapshot, customerGroupID string) (*Eligibility, error) {
	if len(snap.Lines) == 0 {
		return nil, &ConditionsNotMetError{PromotionID: p.ID, Reason: ReasonEmptyCart}
	}

	cond := p.Conditions

	if cond.CustomerGroupID != "" && cond.CustomerGroupID != customerGroupID {
		return nil, &ConditionsNotMetError{PromotionID: p.ID, Reason: ReasonCustomerGroup}
	}

	elig := eligibleLines(cond, snap)
	if len(elig.Lines) == 0 {
		// An eligibility restriction with zero matching lines means the
		// promotion is not applicable at all, which is distinct from the
		// cart-value requirement failing on a non-empty eligible subset.
		return nil, &ConditionsNotMetError{PromotionID: p.ID, Reason: ReasonNoEligibleItems}
	}

	if cond.MinCartValue != nil && elig.Amount.LessThan(*cond.MinCartValue) {
		return nil, &ConditionsNotMetError{PromotionID: p.ID, Reason: ReasonCartValueBelowMin}
	}
	if cond.MaxCartValue != nil && elig.Amount.GreaterThan(*cond.MaxCartValue) {
		return nil, &ConditionsNotMetError{PromotionID: p.ID, Reason: ReasonCartValueAboveMax}
	}

	// MinQuantity compares against total cart quantity, not the eligible
	// subset. Scoping it to matching lines is an open product question; until
	// decided the cart-wide comparison stands.
	if cond.MinQuantity > 0 && snap.TotalQuantity() < cond.MinQuantity {
		return nil, &ConditionsNotMetError{PromotionID: p.ID, Reason: ReasonQuantityBelowMin}
	}

	return elig, nil
}

// eligibleLines filters the cart down to the lines the promotion may
// discount. The declared eligibility type is authoritative: a products filter
// only consults product ids, a categories filter only category ids.
func eligibleLines(cond Conditions, snap cart.Snapshot) *Eligibility {
	var match func(cart.Line) bool

	switch cond.EligibilityType {
	case EligibilityProducts:
		ids := make(map[string]struct{}, len(cond.ProductIDs))
		for _, id := range cond.ProductIDs {
			ids[id] = struct{}{}
		}
		match = func(l cart.Line) bool {
			_, ok := ids[l.ProductID]
			return ok
		}
	case EligibilityCategories:
		ids := make(map[string]struct{}, len(cond.CategoryIDs))
		for _, id := range cond.CategoryIDs {
			ids[id] = struct{}{}
		}
		match = func(l cart.Line) bool {
			for _, c := range l.CategoryIDs {
				if _, ok := ids[c]; ok {
					return true
				}
			}
			return false
		}
	default:
		match = func(cart.Line) bool { return true }
	}

	elig := &Eligibility{Amount: decimal.Zero}
	for _, l := range snap.Lines {
		if !match(l) {
			continue
		}
		elig.Lines = append(elig.Lines, l)
		elig.Amount = elig.Amount.Add(l.Total())
		elig.Quantity += l.Quantity
	}
	return elig
}
