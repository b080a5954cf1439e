// Package promotion defines promotion rules and the pure evaluation pipeline:
// condition checking, discount calculation, and stacking resolution.
package promotion

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Type enumerates the supported promotion effects.
type Type string

const (
	// TypePercentage discounts the eligible amount by a percentage.
	TypePercentage Type = "percentage_discount"
	// TypeFixed discounts a fixed monetary amount, capped at the eligible amount.
	TypeFixed Type = "fixed_discount"
	// TypeFreeShipping waives the shipping charge; merchandise discount is zero.
	TypeFreeShipping Type = "free_shipping"
	// TypeBuyXGetY grants free units of the cheapest eligible item.
	TypeBuyXGetY Type = "buy_x_get_y"
)

// Status is the lifecycle state of a promotion.
type Status string

const (
	StatusDraft   Status = "draft"
	StatusActive  Status = "active"
	StatusPaused  Status = "paused"
	StatusExpired Status = "expired"
)

// RequirementType selects which threshold requirement a promotion carries.
type RequirementType string

const (
	RequirementNone           RequirementType = "none"
	RequirementMinOrderAmount RequirementType = "min_order_amount"
	RequirementMinQuantity    RequirementType = "min_quantity"
)

// EligibilityType selects which cart lines a promotion can discount.
type EligibilityType string

const (
	EligibilityAll        EligibilityType = "all"
	EligibilityProducts   EligibilityType = "specific_products"
	EligibilityCategories EligibilityType = "specific_categories"
)

// Conditions is the predicate record attached to a promotion. All configured
// predicates are evaluated as a conjunction; a zero-value Conditions applies
// to any non-empty cart.
type Conditions struct {
	RequirementType RequirementType  `json:"requirementType"`
	EligibilityType EligibilityType  `json:"eligibilityType"`
	MinCartValue    *decimal.Decimal `json:"minCartValue,omitempty"`
	MaxCartValue    *decimal.Decimal `json:"maxCartValue,omitempty"`
	ProductIDs      []string         `json:"productIds,omitempty"`
	CategoryIDs     []string         `json:"categoryIds,omitempty"`
	CollectionIDs   []string         `json:"collectionIds,omitempty"`
	CustomerGroupID string           `json:"customerGroupId,omitempty"`
	MinQuantity     int              `json:"minQuantity,omitempty"`
}

// Validate rejects malformed condition records at the data-access boundary so
// evaluation never sees them.
func (c Conditions) Validate() error {
	switch c.RequirementType {
	case "", RequirementNone, RequirementMinOrderAmount, RequirementMinQuantity:
	default:
		return errors.Errorf("unknown requirement type %q", c.RequirementType)
	}
	switch c.EligibilityType {
	case "", EligibilityAll:
	case EligibilityProducts:
		if len(c.ProductIDs) == 0 {
			return errors.New("specific_products eligibility requires product ids")
		}
	case EligibilityCategories:
		if len(c.CategoryIDs) == 0 {
			return errors.New("specific_categories eligibility requires category ids")
		}
	default:
		return errors.Errorf("unknown eligibility type %q", c.EligibilityType)
	}
	if c.MinCartValue != nil && c.MinCartValue.IsNegative() {
		return errors.New("minCartValue must not be negative")
	}
	if c.MinCartValue != nil && c.MaxCartValue != nil && c.MaxCartValue.LessThan(*c.MinCartValue) {
		return errors.New("maxCartValue must not be below minCartValue")
	}
	if c.MinQuantity < 0 {
		return errors.New("minQuantity must not be negative")
	}
	return nil
}

// Action is the effect record of a promotion. It is a tagged union over the
// four promotion types: only the fields matching Type are meaningful, and
// Validate enforces that at the write boundary.
type Action struct {
	Type         Type            `json:"type"`
	Percentage   decimal.Decimal `json:"percentage,omitempty"`
	FixedAmount  decimal.Decimal `json:"fixedAmount,omitempty"`
	BuyQuantity  int             `json:"buyQuantity,omitempty"`
	GetQuantity  int             `json:"getQuantity,omitempty"`
	FreeShipping bool            `json:"freeShipping,omitempty"`
}

// Validate checks the payload against the action's declared type.
func (a Action) Validate() error {
	switch a.Type {
	case TypePercentage:
		if a.Percentage.LessThanOrEqual(decimal.Zero) || a.Percentage.GreaterThan(decimal.NewFromInt(100)) {
			return errors.Errorf("percentage must be in (0, 100], got %s", a.Percentage)
		}
	case TypeFixed:
		if a.FixedAmount.LessThanOrEqual(decimal.Zero) {
			return errors.Errorf("fixedAmount must be positive, got %s", a.FixedAmount)
		}
	case TypeBuyXGetY:
		if a.BuyQuantity <= 0 || a.GetQuantity <= 0 {
			return errors.New("buyQuantity and getQuantity must be positive")
		}
	case TypeFreeShipping:
		if !a.FreeShipping {
			return errors.New("free_shipping action requires freeShipping=true")
		}
	default:
		return errors.Errorf("unknown promotion type %q", a.Type)
	}
	return nil
}

// Promotion is a rule record describing when (Conditions) and how (Action) a
// discount is granted. SellerID of nil means the promotion is platform-wide.
type Promotion struct {
	ID             string
	Name           string
	Description    string
	Type           Type
	Status         Status
	Priority       int
	StartsAt       time.Time
	EndsAt         *time.Time
	Conditions     Conditions
	Action         Action
	Stackable      bool
	UsageLimit     *int
	UsageCount     int
	UserUsageLimit *int
	SellerID       *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Validate checks the record's structural invariants. It is called on admin
// writes and on rows read back from storage, so a malformed promotion fails
// loudly instead of silently evaluating to nothing.
func (p *Promotion) Validate() error {
	if p.ID == "" {
		return errors.New("promotion id required")
	}
	if p.Name == "" {
		return errors.New("promotion name required")
	}
	if p.StartsAt.IsZero() {
		return errors.New("promotion startsAt required")
	}
	if p.EndsAt != nil && !p.EndsAt.After(p.StartsAt) {
		return errors.New("promotion endsAt must be after startsAt")
	}
	if p.Action.Type != p.Type {
		return errors.Errorf("action type %q does not match promotion type %q", p.Action.Type, p.Type)
	}
	if err := p.Action.Validate(); err != nil {
		return errors.Wrap(err, "action")
	}
	if err := p.Conditions.Validate(); err != nil {
		return errors.Wrap(err, "conditions")
	}
	if p.UsageLimit != nil && p.UsageCount > *p.UsageLimit {
		return errors.New("usageCount exceeds usageLimit")
	}
	return nil
}

// ActiveAt reports whether the promotion is live at the given instant.
// Expiry is evaluated lazily against EndsAt rather than requiring a
// background job to flip statuses.
func (p *Promotion) ActiveAt(now time.Time) bool {
	if p.Status != StatusActive {
		return false
	}
	if now.Before(p.StartsAt) {
		return false
	}
	if p.EndsAt != nil && now.After(*p.EndsAt) {
		return false
	}
	return true
}

// Repository loads and persists promotions.
type Repository interface {
	// ListActive returns promotions with status active whose date window
	// contains now, ordered by priority descending then creation time
	// ascending. With a nil sellerID only platform-wide promotions are
	// returned; with a sellerID only that seller's promotions are. The two
	// scopes are never mixed because seller attribution of cart lines is the
	// caller's concern.
	ListActive(ctx context.Context, now time.Time, sellerID *string) ([]Promotion, error)
	GetByID(ctx context.Context, id string) (*Promotion, error)
	Create(ctx context.Context, p *Promotion) error
	Update(ctx context.Context, p *Promotion) error
	Delete(ctx context.Context, id string) error
}

// ErrNotFound is returned by Repository lookups for unknown promotion ids.
var ErrNotFound = errors.New("promotion not found")
