package promotion

import "sort"

// Candidate pairs an eligible promotion with its computed discount.
type Candidate struct {
	Promotion Promotion
	Discount  Discount
}

// ResolveStacking selects the subset of eligible promotions that actually
// applies to a cart.
//
// A coupon-bound promotion, when present, is always included first and, if it
// is non-stackable, claims the single non-stackable slot. The automatic
// candidates are then considered in priority order (highest first, earliest
// created wins ties): at most one non-stackable promotion may apply per cart,
// so once the slot is taken later non-stackable candidates are skipped
// deterministically while stackable ones keep combining freely.
func ResolveStacking(couponPromo *Candidate, automatic []Candidate) []Candidate {
	applied := make([]Candidate, 0, len(automatic)+1)
	nonStackableTaken := false

	if couponPromo != nil {
		applied = append(applied, *couponPromo)
		nonStackableTaken = !couponPromo.Promotion.Stackable
	}

	sorted := make([]Candidate, len(automatic))
	copy(sorted, automatic)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Promotion.Priority > sorted[j].Promotion.Priority
	})

	for _, c := range sorted {
		if couponPromo != nil && c.Promotion.ID == couponPromo.Promotion.ID {
			continue
		}
		if !c.Promotion.Stackable {
			if nonStackableTaken {
				continue
			}
			nonStackableTaken = true
		}
		applied = append(applied, c)
	}

	return applied
}
