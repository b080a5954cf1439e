package postgres

import (
	"context"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harborline/promo-engine/internal/domain/coupon"
)

const (
	couponColumns = `id, code, promotion_id, usage_limit, usage_count,
		user_limit, expires_at, status, created_at, updated_at`

	findCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons
		WHERE UPPER(code) = $1`

	countCouponUsageSQL = `SELECT COUNT(*) FROM coupon_usage
		WHERE coupon_id = $1 AND user_id = $2`

	insertCouponSQL = `INSERT INTO coupons
		(id, code, promotion_id, usage_limit, usage_count, user_limit, expires_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	listCouponCodesSQL = `SELECT UPPER(code) FROM coupons WHERE status = 'active'`

	// The ledger insert runs first: an (coupon_id, order_id) conflict means
	// this order already redeemed, and the transaction must not increment
	// anything a second time.
	insertUsageSQL = `INSERT INTO coupon_usage
		(id, coupon_id, user_id, order_id, discount_amount)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (coupon_id, order_id) DO NOTHING
		RETURNING id, created_at`

	getUsageByOrderSQL = `SELECT id, coupon_id, user_id, order_id, discount_amount, created_at
		FROM coupon_usage WHERE coupon_id = $1 AND order_id = $2`

	// Conditional increment: the WHERE clause re-checks the limit so that of
	// N racing transactions for the last unit exactly one matches a row. The
	// status flip to exhausted happens in the same statement, keeping the
	// counter and the status a single atomic fact.
	redeemCouponSQL = `UPDATE coupons SET
		usage_count = usage_count + 1,
		status = CASE
			WHEN usage_limit IS NOT NULL AND usage_count + 1 >= usage_limit THEN 'exhausted'
			ELSE status
		END,
		updated_at = now()
		WHERE id = $1
		  AND status = 'active'
		  AND (usage_limit IS NULL OR usage_count < usage_limit)`

	incrementPromotionUsageSQL = `UPDATE promotions
		SET usage_count = usage_count + 1, updated_at = now()
		WHERE id = (SELECT promotion_id FROM coupons WHERE id = $1)
		  AND (usage_limit IS NULL OR usage_count < usage_limit)`
)

// pgUniqueViolation is the PostgreSQL error code for unique constraint violations.
const pgUniqueViolation = "23505"

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
//
// An optional in-memory bloom filter over active codes lets FindByCode reject
// definitely-unknown codes without touching the database; false positives
// simply fall through to the indexed query, and validate-path staleness is
// acceptable because redeem re-checks inside its transaction.
type CouponRepository struct {
	pool *pgxpool.Pool

	mu    sync.RWMutex
	codes *bloom.BloomFilter
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
// The code prefilter is inactive until WarmCodeFilter is called.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// WarmCodeFilter loads all active coupon codes into the bloom prefilter.
// Intended to run once at startup; failure leaves the repository fully
// functional without the prefilter.
func (r *CouponRepository) WarmCodeFilter(ctx context.Context, expectedCodes uint, fpRate float64) error {
	rows, err := r.pool.Query(ctx, listCouponCodesSQL)
	if err != nil {
		return errors.Wrap(err, "listing coupon codes")
	}

	filter := bloom.NewWithEstimates(expectedCodes, fpRate)
	codes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return errors.Wrap(err, "collecting coupon codes")
	}
	for _, code := range codes {
		filter.AddString(code)
	}

	r.mu.Lock()
	r.codes = filter
	r.mu.Unlock()
	return nil
}

// FindByCode looks up a coupon by its normalized (upper-case) code.
// Returns coupon.ErrNotFound when no such coupon exists.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	if !r.mightContain(code) {
		return nil, coupon.ErrNotFound
	}

	rows, err := r.pool.Query(ctx, findCouponByCodeSQL, code)
	if err != nil {
		return nil, errors.Wrapf(err, "finding coupon by code %q", code)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, errors.Wrapf(err, "finding coupon by code %q", code)
	}
	return &c, nil
}

// CountUsage counts redemption ledger rows for (couponID, userID). Row
// existence in the ledger, not a counter, is the per-user authority.
func (r *CouponRepository) CountUsage(ctx context.Context, couponID, userID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, countCouponUsageSQL, couponID, userID).Scan(&count)
	if err != nil {
		return 0, errors.Wrapf(err, "counting usage for coupon %q", couponID)
	}
	return count, nil
}

// Create inserts a new coupon. Returns coupon.ErrDuplicateCode when the
// normalized code already exists.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	_, err := r.pool.Exec(ctx, insertCouponSQL,
		c.ID, c.Code, c.PromotionID, c.UsageLimit, c.UsageCount,
		c.UserLimit, c.ExpiresAt, string(c.Status),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return coupon.ErrDuplicateCode
		}
		return errors.Wrapf(err, "creating coupon %q", c.Code)
	}

	r.addCode(c.Code)
	return nil
}

// Redeem consumes one usage unit in a single transaction:
//
//  1. Insert the ledger row; a conflict on (coupon_id, order_id) means this
//     order already redeemed, so the existing row is returned untouched.
//  2. Conditionally increment the coupon counter, flipping status to
//     exhausted when the limit is reached. Zero rows affected means the
//     last unit was lost to a concurrent redeem: the ledger insert is
//     rolled back and coupon.ErrConcurrentExhaustion returned.
//  3. Mirror the increment on the owning promotion's counter.
//
// Either everything commits or nothing does; a discount can never be granted
// without its ledger row.
func (r *CouponRepository) Redeem(ctx context.Context, req coupon.RedeemRequest) (*coupon.Usage, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "begin redeem tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	u := coupon.Usage{
		ID:             newUsageID(),
		CouponID:       req.CouponID,
		UserID:         req.UserID,
		OrderID:        req.OrderID,
		DiscountAmount: req.DiscountAmount,
	}

	err = tx.QueryRow(ctx, insertUsageSQL,
		u.ID, u.CouponID, u.UserID, u.OrderID, u.DiscountAmount,
	).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.Wrap(err, "insert usage row")
		}
		// Conflict path: this order already redeemed. Idempotent no-op.
		existing, lookupErr := r.usageByOrder(ctx, tx, req.CouponID, req.OrderID)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, errors.Wrap(err, "commit redeem tx")
		}
		return existing, nil
	}

	tag, err := tx.Exec(ctx, redeemCouponSQL, req.CouponID)
	if err != nil {
		return nil, errors.Wrap(err, "increment coupon usage")
	}
	if tag.RowsAffected() == 0 {
		return nil, coupon.ErrConcurrentExhaustion
	}

	if _, err := tx.Exec(ctx, incrementPromotionUsageSQL, req.CouponID); err != nil {
		return nil, errors.Wrap(err, "increment promotion usage")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit redeem tx")
	}
	return &u, nil
}

func (r *CouponRepository) usageByOrder(ctx context.Context, tx pgx.Tx, couponID, orderID string) (*coupon.Usage, error) {
	var u coupon.Usage
	err := tx.QueryRow(ctx, getUsageByOrderSQL, couponID, orderID).Scan(
		&u.ID, &u.CouponID, &u.UserID, &u.OrderID, &u.DiscountAmount, &u.CreatedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "load existing usage row")
	}
	return &u, nil
}

// RunFilterRefresh rebuilds the code prefilter every interval until ctx is
// done. A filter miss is a hard ErrNotFound, so codes inserted by other
// processes (bulk ingest, direct SQL) must be folded in without a restart.
// Rebuild errors go to onError and the stale filter stays in place.
func (r *CouponRepository) RunFilterRefresh(ctx context.Context, interval time.Duration, expectedCodes uint, fpRate float64, onError func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.WarmCodeFilter(ctx, expectedCodes, fpRate); err != nil && onError != nil {
				onError(err)
			}
		}
	}
}

func (r *CouponRepository) mightContain(code string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.codes == nil {
		return true
	}
	return r.codes.TestString(code)
}

func (r *CouponRepository) addCode(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.codes != nil {
		r.codes.AddString(coupon.NormalizeCode(code))
	}
}

func newUsageID() string {
	return uuid.New().String()
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c      coupon.Coupon
		status string
	)
	err := row.Scan(
		&c.ID, &c.Code, &c.PromotionID, &c.UsageLimit, &c.UsageCount,
		&c.UserLimit, &c.ExpiresAt, &status, &c.CreatedAt, &c.UpdatedAt,
	)
	c.Status = coupon.Status(status)
	return c, err
}
