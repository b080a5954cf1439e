package promotion

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Discount is the computed monetary effect of one promotion on a cart. The
// amount is always non-negative and never exceeds the eligible amount it was
// computed from.
type Discount struct {
	PromotionID  string
	Amount       decimal.Decimal
	FreeShipping bool
	Description  string
}

// DiscountFor computes the discount for an applicable promotion over its
// eligible subset. Amounts are rounded to two decimal places using half-up
// rounding; all arithmetic is decimal, never floating point.
func DiscountFor(p *Promotion, elig *Eligibility) (Discount, error) {
	d := Discount{PromotionID: p.ID, Description: p.Description, Amount: decimal.Zero}

	switch p.Action.Type {
	case TypePercentage:
		d.Amount = elig.Amount.Mul(p.Action.Percentage).Div(hundred)
	case TypeFixed:
		// A fixed discount can never push the eligible amount negative.
		d.Amount = decimal.Min(p.Action.FixedAmount, elig.Amount)
	case TypeFreeShipping:
		// The shipping line is owned by the shipping collaborator; checkout
		// consumes the flag and we discount nothing against merchandise.
		d.FreeShipping = true
	case TypeBuyXGetY:
		d.Amount = buyXGetYAmount(p.Action, elig)
	default:
		return Discount{}, errors.Errorf("unsupported promotion type: %q", p.Action.Type)
	}

	d.Amount = clamp(d.Amount, elig.Amount).Round(2)
	return d, nil
}

// buyXGetYAmount grants floor(matchingQty / buyQty) * getQty free units of
// the cheapest eligible unit price. Cheapest-unit-free is the customer-
// favorable tie-break; free units never exceed the quantity actually in the
// cart.
func buyXGetYAmount(a Action, elig *Eligibility) decimal.Decimal {
	freeUnits := elig.Quantity / a.BuyQuantity * a.GetQuantity
	if freeUnits == 0 {
		return decimal.Zero
	}
	if freeUnits > elig.Quantity {
		freeUnits = elig.Quantity
	}

	cheapest := elig.Lines[0].UnitPrice
	for _, l := range elig.Lines[1:] {
		if l.UnitPrice.LessThan(cheapest) {
			cheapest = l.UnitPrice
		}
	}
	return cheapest.Mul(decimal.NewFromInt(int64(freeUnits)))
}

// clamp bounds d to [0, max].
func clamp(d, max decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	if d.GreaterThan(max) {
		return max
	}
	return d
}
