package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harborline/promo-engine/internal/domain/cart"
)

const (
	getCartBindingSQL = `SELECT cart_id, user_id, code, bound_at
		FROM cart_coupons WHERE cart_id = $1`

	upsertCartBindingSQL = `INSERT INTO cart_coupons (cart_id, user_id, code, bound_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (cart_id) DO UPDATE
		SET user_id = EXCLUDED.user_id, code = EXCLUDED.code, bound_at = EXCLUDED.bound_at`

	deleteCartBindingSQL = `DELETE FROM cart_coupons WHERE cart_id = $1`
)

var _ cart.Repository = (*CartBindingRepository)(nil)

// CartBindingRepository implements cart.Repository backed by PostgreSQL.
type CartBindingRepository struct {
	pool *pgxpool.Pool
}

// NewCartBindingRepository returns a CartBindingRepository using the given pool.
func NewCartBindingRepository(pool *pgxpool.Pool) *CartBindingRepository {
	return &CartBindingRepository{pool: pool}
}

// Get returns the binding for the cart, or cart.ErrNotBound.
func (r *CartBindingRepository) Get(ctx context.Context, cartID string) (*cart.Binding, error) {
	var b cart.Binding
	err := r.pool.QueryRow(ctx, getCartBindingSQL, cartID).Scan(
		&b.CartID, &b.UserID, &b.Code, &b.BoundAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrNotBound
		}
		return nil, errors.Wrapf(err, "getting binding for cart %q", cartID)
	}
	return &b, nil
}

// Upsert stores the binding, replacing any existing one for the cart.
func (r *CartBindingRepository) Upsert(ctx context.Context, b *cart.Binding) error {
	_, err := r.pool.Exec(ctx, upsertCartBindingSQL, b.CartID, b.UserID, b.Code, b.BoundAt)
	if err != nil {
		return errors.Wrapf(err, "upserting binding for cart %q", b.CartID)
	}
	return nil
}

// Delete removes the binding for the cart, if any.
func (r *CartBindingRepository) Delete(ctx context.Context, cartID string) error {
	if _, err := r.pool.Exec(ctx, deleteCartBindingSQL, cartID); err != nil {
		return errors.Wrapf(err, "deleting binding for cart %q", cartID)
	}
	return nil
}
