package pricing

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborline/promo-engine/internal/domain/cart"
	"github.com/harborline/promo-engine/internal/domain/coupon"
	"github.com/harborline/promo-engine/internal/domain/promotion"
)

// --- Fakes ---

type fakeCatalog struct {
	active []promotion.Promotion
	byID   map[string]*promotion.Promotion
}

func (r *fakeCatalog) ListActive(_ context.Context, _ time.Time, _ *string) ([]promotion.Promotion, error) {
	return r.active, nil
}

func (r *fakeCatalog) GetByID(_ context.Context, id string) (*promotion.Promotion, error) {
	p, ok := r.byID[id]
	if !ok {
		return nil, promotion.ErrNotFound
	}
	return p, nil
}

func (r *fakeCatalog) Create(_ context.Context, _ *promotion.Promotion) error { return nil }
func (r *fakeCatalog) Update(_ context.Context, _ *promotion.Promotion) error { return nil }
func (r *fakeCatalog) Delete(_ context.Context, _ string) error               { return nil }

type fakeCoupons struct {
	byCode map[string]*coupon.Coupon
}

func (r *fakeCoupons) FindByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	c, ok := r.byCode[code]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	return c, nil
}

func (r *fakeCoupons) CountUsage(_ context.Context, _, _ string) (int, error) { return 0, nil }

func (r *fakeCoupons) Redeem(_ context.Context, _ coupon.RedeemRequest) (*coupon.Usage, error) {
	return nil, nil
}

func (r *fakeCoupons) Create(_ context.Context, _ *coupon.Coupon) error { return nil }

// --- Helpers ---

var testNow = time.Date(2026, 7, 15, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func percentPromo(id string, priority int, stackable bool, pct string) promotion.Promotion {
	return promotion.Promotion{
		ID:        id,
		Name:      "Promo " + id,
		Type:      promotion.TypePercentage,
		Status:    promotion.StatusActive,
		Priority:  priority,
		Stackable: stackable,
		StartsAt:  testNow.Add(-24 * time.Hour),
		Action: promotion.Action{
			Type:       promotion.TypePercentage,
			Percentage: dec(pct),
		},
	}
}

func fixedPromo(id string, priority int, stackable bool, amount string) promotion.Promotion {
	return promotion.Promotion{
		ID:        id,
		Name:      "Promo " + id,
		Type:      promotion.TypeFixed,
		Status:    promotion.StatusActive,
		Priority:  priority,
		Stackable: stackable,
		StartsAt:  testNow.Add(-24 * time.Hour),
		Action: promotion.Action{
			Type:        promotion.TypeFixed,
			FixedAmount: dec(amount),
		},
	}
}

func newTestPricing(catalog *fakeCatalog, coupons *fakeCoupons) *Service {
	if catalog.byID == nil {
		catalog.byID = make(map[string]*promotion.Promotion)
		for i := range catalog.active {
			catalog.byID[catalog.active[i].ID] = &catalog.active[i]
		}
	}
	svc := NewService(catalog, coupon.NewLedger(coupons, catalog))
	svc.now = func() time.Time { return testNow }
	return svc
}

func cartOf(lines ...cart.Line) cart.Snapshot { return cart.Snapshot{Lines: lines} }

func line(id, price string, qty int) cart.Line {
	return cart.Line{ProductID: id, UnitPrice: dec(price), Quantity: qty}
}

// --- Tests ---

func TestEvaluateCart_NoPromotions(t *testing.T) {
	svc := newTestPricing(&fakeCatalog{}, &fakeCoupons{})

	res, err := svc.EvaluateCart(context.Background(), Request{
		Cart:   cartOf(line("sku-1", "19.99", 2)),
		UserID: "u1",
	})
	require.NoError(t, err)
	assert.True(t, dec("39.98").Equal(res.Subtotal))
	assert.True(t, decimal.Zero.Equal(res.TotalDiscount))
	assert.True(t, dec("39.98").Equal(res.Total))
	assert.Empty(t, res.Applied)
	assert.NoError(t, res.CouponErr)
}

func TestEvaluateCart_StackableAutomatics(t *testing.T) {
	catalog := &fakeCatalog{active: []promotion.Promotion{
		percentPromo("p-ten", 10, true, "10"),
		fixedPromo("p-five", 5, true, "5.00"),
	}}
	svc := newTestPricing(catalog, &fakeCoupons{})

	res, err := svc.EvaluateCart(context.Background(), Request{
		Cart:   cartOf(line("sku-1", "100.00", 1)),
		UserID: "u1",
	})
	require.NoError(t, err)
	require.Len(t, res.Applied, 2)
	assert.True(t, dec("15.00").Equal(res.TotalDiscount))
	assert.True(t, dec("85.00").Equal(res.Total))
}

func TestEvaluateCart_NonStackableWins(t *testing.T) {
	catalog := &fakeCatalog{active: []promotion.Promotion{
		fixedPromo("exclusive-hi", 50, false, "20.00"),
		fixedPromo("exclusive-lo", 10, false, "30.00"),
		percentPromo("stacker", 1, true, "10"),
	}}
	svc := newTestPricing(catalog, &fakeCoupons{})

	res, err := svc.EvaluateCart(context.Background(), Request{
		Cart:   cartOf(line("sku-1", "100.00", 1)),
		UserID: "u1",
	})
	require.NoError(t, err)
	require.Len(t, res.Applied, 2)
	assert.Equal(t, "exclusive-hi", res.Applied[0].Promotion.ID)
	assert.Equal(t, "stacker", res.Applied[1].Promotion.ID)
	assert.True(t, dec("30.00").Equal(res.TotalDiscount))
}

func TestEvaluateCart_IneligiblePromotionsSkipped(t *testing.T) {
	gated := percentPromo("gated", 10, true, "10")
	minOrder := dec("500.00")
	gated.Conditions = promotion.Conditions{
		RequirementType: promotion.RequirementMinOrderAmount,
		MinCartValue:    &minOrder,
	}
	catalog := &fakeCatalog{active: []promotion.Promotion{gated}}
	svc := newTestPricing(catalog, &fakeCoupons{})

	res, err := svc.EvaluateCart(context.Background(), Request{
		Cart:   cartOf(line("sku-1", "100.00", 1)),
		UserID: "u1",
	})
	require.NoError(t, err)
	assert.Empty(t, res.Applied)
	assert.True(t, dec("100.00").Equal(res.Total))
}

func TestEvaluateCart_WithCoupon(t *testing.T) {
	couponPromo := fixedPromo("p-coupon", 0, true, "20.00")
	catalog := &fakeCatalog{active: []promotion.Promotion{
		percentPromo("p-auto", 10, true, "10"),
	}}
	catalog.byID = map[string]*promotion.Promotion{
		"p-auto":   &catalog.active[0],
		"p-coupon": &couponPromo,
	}
	coupons := &fakeCoupons{byCode: map[string]*coupon.Coupon{
		"SAVE20": {ID: "c1", Code: "SAVE20", PromotionID: "p-coupon", UserLimit: 1, Status: coupon.StatusActive},
	}}
	svc := newTestPricing(catalog, coupons)

	res, err := svc.EvaluateCart(context.Background(), Request{
		Cart:       cartOf(line("sku-1", "100.00", 1)),
		UserID:     "u1",
		CouponCode: "save20",
	})
	require.NoError(t, err)
	require.Len(t, res.Applied, 2)
	assert.Equal(t, "p-coupon", res.Applied[0].Promotion.ID)
	assert.True(t, dec("30.00").Equal(res.TotalDiscount))
	assert.NoError(t, res.CouponErr)
}

func TestEvaluateCart_BadCouponDegradesToAutomatics(t *testing.T) {
	catalog := &fakeCatalog{active: []promotion.Promotion{
		percentPromo("p-auto", 10, true, "10"),
	}}
	svc := newTestPricing(catalog, &fakeCoupons{})

	res, err := svc.EvaluateCart(context.Background(), Request{
		Cart:       cartOf(line("sku-1", "100.00", 1)),
		UserID:     "u1",
		CouponCode: "BOGUS",
	})
	require.NoError(t, err)
	require.ErrorIs(t, res.CouponErr, coupon.ErrNotFound)
	require.Len(t, res.Applied, 1)
	assert.True(t, dec("10.00").Equal(res.TotalDiscount))
}

func TestEvaluateCart_TotalDiscountClampedAtSubtotal(t *testing.T) {
	catalog := &fakeCatalog{active: []promotion.Promotion{
		fixedPromo("big-a", 10, true, "40.00"),
		fixedPromo("big-b", 5, true, "40.00"),
	}}
	svc := newTestPricing(catalog, &fakeCoupons{})

	res, err := svc.EvaluateCart(context.Background(), Request{
		Cart:   cartOf(line("sku-1", "50.00", 1)),
		UserID: "u1",
	})
	require.NoError(t, err)
	assert.True(t, dec("50.00").Equal(res.TotalDiscount))
	assert.True(t, decimal.Zero.Equal(res.Total), "total never goes negative")
}

func TestEvaluateCart_FreeShippingFlag(t *testing.T) {
	shipping := promotion.Promotion{
		ID:        "p-ship",
		Name:      "Free shipping",
		Type:      promotion.TypeFreeShipping,
		Status:    promotion.StatusActive,
		Stackable: true,
		StartsAt:  testNow.Add(-24 * time.Hour),
		Action:    promotion.Action{Type: promotion.TypeFreeShipping, FreeShipping: true},
	}
	catalog := &fakeCatalog{active: []promotion.Promotion{shipping}}
	svc := newTestPricing(catalog, &fakeCoupons{})

	res, err := svc.EvaluateCart(context.Background(), Request{
		Cart:   cartOf(line("sku-1", "100.00", 1)),
		UserID: "u1",
	})
	require.NoError(t, err)
	assert.True(t, res.FreeShipping)
	assert.True(t, decimal.Zero.Equal(res.TotalDiscount))
	assert.True(t, dec("100.00").Equal(res.Total))
}

func TestEvaluateCart_EmptyCart(t *testing.T) {
	catalog := &fakeCatalog{active: []promotion.Promotion{
		percentPromo("p-auto", 10, true, "10"),
	}}
	svc := newTestPricing(catalog, &fakeCoupons{})

	res, err := svc.EvaluateCart(context.Background(), Request{UserID: "u1"})
	require.NoError(t, err)
	assert.Empty(t, res.Applied)
	assert.True(t, decimal.Zero.Equal(res.Total))
}
