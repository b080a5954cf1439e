package cart

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Fakes ---

type fakeBindingRepo struct {
	byCart map[string]*Binding
}

func newFakeBindingRepo() *fakeBindingRepo {
	return &fakeBindingRepo{byCart: make(map[string]*Binding)}
}

func (r *fakeBindingRepo) Get(_ context.Context, cartID string) (*Binding, error) {
	b, ok := r.byCart[cartID]
	if !ok {
		return nil, ErrNotBound
	}
	cp := *b
	return &cp, nil
}

func (r *fakeBindingRepo) Upsert(_ context.Context, b *Binding) error {
	cp := *b
	r.byCart[b.CartID] = &cp
	return nil
}

func (r *fakeBindingRepo) Delete(_ context.Context, cartID string) error {
	delete(r.byCart, cartID)
	return nil
}

type fakeChecker struct {
	err      error
	lastCode string
}

func (c *fakeChecker) Check(_ context.Context, code, _ string, _ Snapshot) error {
	c.lastCode = code
	return c.err
}

// --- Helpers ---

func testSnap() Snapshot {
	return Snapshot{Lines: []Line{{
		ProductID: "sku-1",
		UnitPrice: decimal.RequireFromString("10.00"),
		Quantity:  2,
	}}}
}

func newTestService(repo *fakeBindingRepo, checker *fakeChecker) *Service {
	svc := NewService(repo, checker)
	svc.now = func() time.Time { return time.Date(2026, 7, 15, 12, 0, 0, 0, time.UTC) }
	return svc
}

// --- Tests ---

func TestBind_NormalizesCode(t *testing.T) {
	repo := newFakeBindingRepo()
	checker := &fakeChecker{}
	svc := newTestService(repo, checker)

	b, err := svc.Bind(context.Background(), "cart-1", "u1", "  save20 ", testSnap())
	require.NoError(t, err)
	assert.Equal(t, "SAVE20", b.Code)
	assert.Equal(t, "SAVE20", checker.lastCode, "checker sees the normalized code")
}

func TestBind_EmptyCode(t *testing.T) {
	svc := newTestService(newFakeBindingRepo(), &fakeChecker{})

	_, err := svc.Bind(context.Background(), "cart-1", "u1", "   ", testSnap())
	require.Error(t, err)
}

func TestBind_InvalidCouponNotStored(t *testing.T) {
	repo := newFakeBindingRepo()
	checkErr := errors.New("coupon not applicable")
	svc := newTestService(repo, &fakeChecker{err: checkErr})

	_, err := svc.Bind(context.Background(), "cart-1", "u1", "SAVE20", testSnap())
	require.ErrorIs(t, err, checkErr)
	assert.Empty(t, repo.byCart)
}

func TestBind_ReplacesExistingBinding(t *testing.T) {
	repo := newFakeBindingRepo()
	svc := newTestService(repo, &fakeChecker{})

	_, err := svc.Bind(context.Background(), "cart-1", "u1", "FIRST", testSnap())
	require.NoError(t, err)

	b, err := svc.Bind(context.Background(), "cart-1", "u1", "SECOND", testSnap())
	require.NoError(t, err)
	assert.Equal(t, "SECOND", b.Code)

	code, err := svc.BoundCode(context.Background(), "cart-1")
	require.NoError(t, err)
	assert.Equal(t, "SECOND", code)
}

func TestBind_OwnershipViolation(t *testing.T) {
	repo := newFakeBindingRepo()
	svc := newTestService(repo, &fakeChecker{})

	_, err := svc.Bind(context.Background(), "cart-1", "u1", "SAVE20", testSnap())
	require.NoError(t, err)

	_, err = svc.Bind(context.Background(), "cart-1", "u2", "OTHER", testSnap())
	require.ErrorIs(t, err, ErrOwnershipViolation)

	code, err := svc.BoundCode(context.Background(), "cart-1")
	require.NoError(t, err)
	assert.Equal(t, "SAVE20", code, "original binding survives")
}

func TestUnbind_OwnershipViolation(t *testing.T) {
	repo := newFakeBindingRepo()
	svc := newTestService(repo, &fakeChecker{})

	_, err := svc.Bind(context.Background(), "cart-1", "u1", "SAVE20", testSnap())
	require.NoError(t, err)

	require.ErrorIs(t, svc.Unbind(context.Background(), "cart-1", "u2"), ErrOwnershipViolation)
	require.NoError(t, svc.Unbind(context.Background(), "cart-1", "u1"))

	code, err := svc.BoundCode(context.Background(), "cart-1")
	require.NoError(t, err)
	assert.Empty(t, code)
}

func TestUnbind_NoBindingIsNoop(t *testing.T) {
	svc := newTestService(newFakeBindingRepo(), &fakeChecker{})

	require.NoError(t, svc.Unbind(context.Background(), "cart-1", "u1"))
}

func TestSnapshotTotals(t *testing.T) {
	snap := Snapshot{Lines: []Line{
		{ProductID: "a", UnitPrice: decimal.RequireFromString("2.50"), Quantity: 3},
		{ProductID: "b", UnitPrice: decimal.RequireFromString("10.00"), Quantity: 1},
	}}

	assert.True(t, decimal.RequireFromString("17.50").Equal(snap.Subtotal()))
	assert.Equal(t, 4, snap.TotalQuantity())
}
