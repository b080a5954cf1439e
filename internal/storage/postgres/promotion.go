package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harborline/promo-engine/internal/domain/promotion"
)

const (
	promotionColumns = `id, name, description, type, status, priority,
		starts_at, ends_at, conditions, action, is_stackable,
		usage_limit, usage_count, user_usage_limit, seller_id,
		created_at, updated_at`

	// Seller-scoped and platform-wide promotions are never mixed: the
	// seller filter is an exact match against NULL or the given id.
	listActivePromotionsSQL = `SELECT ` + promotionColumns + ` FROM promotions
		WHERE status = 'active'
		  AND starts_at <= $1
		  AND (ends_at IS NULL OR ends_at >= $1)
		  AND (($2::text IS NULL AND seller_id IS NULL) OR seller_id = $2)
		ORDER BY priority DESC, created_at ASC`

	getPromotionSQL = `SELECT ` + promotionColumns + ` FROM promotions WHERE id = $1`

	insertPromotionSQL = `INSERT INTO promotions
		(id, name, description, type, status, priority, starts_at, ends_at,
		 conditions, action, is_stackable, usage_limit, usage_count,
		 user_usage_limit, seller_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	updatePromotionSQL = `UPDATE promotions SET
		name = $2, description = $3, type = $4, status = $5, priority = $6,
		starts_at = $7, ends_at = $8, conditions = $9, action = $10,
		is_stackable = $11, usage_limit = $12, user_usage_limit = $13,
		seller_id = $14, updated_at = now()
		WHERE id = $1`

	deletePromotionSQL = `DELETE FROM promotions WHERE id = $1`
)

var _ promotion.Repository = (*PromotionRepository)(nil)

// PromotionRepository implements promotion.Repository backed by PostgreSQL.
// Conditions and action records are stored as JSONB and validated on both
// write and read, so a malformed row fails loudly instead of evaluating to
// nothing.
type PromotionRepository struct {
	pool *pgxpool.Pool
}

// NewPromotionRepository returns a PromotionRepository using the given pool.
func NewPromotionRepository(pool *pgxpool.Pool) *PromotionRepository {
	return &PromotionRepository{pool: pool}
}

// ListActive returns live promotions at now, scoped to one seller or to the
// platform, ordered by priority descending with created_at as the
// deterministic tie-break.
func (r *PromotionRepository) ListActive(ctx context.Context, now time.Time, sellerID *string) ([]promotion.Promotion, error) {
	rows, err := r.pool.Query(ctx, listActivePromotionsSQL, now, sellerID)
	if err != nil {
		return nil, errors.Wrap(err, "listing active promotions")
	}

	promos, err := pgx.CollectRows(rows, scanPromotion)
	if err != nil {
		return nil, errors.Wrap(err, "listing active promotions")
	}
	return promos, nil
}

// GetByID returns the promotion or promotion.ErrNotFound.
func (r *PromotionRepository) GetByID(ctx context.Context, id string) (*promotion.Promotion, error) {
	rows, err := r.pool.Query(ctx, getPromotionSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "getting promotion %q", id)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanPromotion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promotion.ErrNotFound
		}
		return nil, errors.Wrapf(err, "getting promotion %q", id)
	}
	return &p, nil
}

// Create inserts a validated promotion.
func (r *PromotionRepository) Create(ctx context.Context, p *promotion.Promotion) error {
	if err := p.Validate(); err != nil {
		return err
	}
	conditions, action, err := marshalRuleJSON(p)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, insertPromotionSQL,
		p.ID, p.Name, p.Description, string(p.Type), string(p.Status), p.Priority,
		p.StartsAt, p.EndsAt, conditions, action, p.Stackable,
		p.UsageLimit, p.UsageCount, p.UserUsageLimit, p.SellerID,
	)
	if err != nil {
		return errors.Wrapf(err, "creating promotion %q", p.ID)
	}
	return nil
}

// Update rewrites a validated promotion. The usage counter is deliberately
// not written: it only moves through the atomic redeem path.
func (r *PromotionRepository) Update(ctx context.Context, p *promotion.Promotion) error {
	if err := p.Validate(); err != nil {
		return err
	}
	conditions, action, err := marshalRuleJSON(p)
	if err != nil {
		return err
	}

	tag, err := r.pool.Exec(ctx, updatePromotionSQL,
		p.ID, p.Name, p.Description, string(p.Type), string(p.Status), p.Priority,
		p.StartsAt, p.EndsAt, conditions, action, p.Stackable,
		p.UsageLimit, p.UserUsageLimit, p.SellerID,
	)
	if err != nil {
		return errors.Wrapf(err, "updating promotion %q", p.ID)
	}
	if tag.RowsAffected() == 0 {
		return promotion.ErrNotFound
	}
	return nil
}

// Delete removes a promotion. Referencing coupons must be deleted first; the
// foreign key enforces that ordering.
func (r *PromotionRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, deletePromotionSQL, id)
	if err != nil {
		return errors.Wrapf(err, "deleting promotion %q", id)
	}
	if tag.RowsAffected() == 0 {
		return promotion.ErrNotFound
	}
	return nil
}

func marshalRuleJSON(p *promotion.Promotion) (conditions, action []byte, err error) {
	conditions, err = json.Marshal(p.Conditions)
	if err != nil {
		return nil, nil, errors.Wrap(err, "marshaling conditions")
	}
	action, err = json.Marshal(p.Action)
	if err != nil {
		return nil, nil, errors.Wrap(err, "marshaling action")
	}
	return conditions, action, nil
}

func scanPromotion(row pgx.CollectableRow) (promotion.Promotion, error) {
	var (
		p              promotion.Promotion
		typ, status    string
		conditionsJSON []byte
		actionJSON     []byte
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.Description, &typ, &status, &p.Priority,
		&p.StartsAt, &p.EndsAt, &conditionsJSON, &actionJSON, &p.Stackable,
		&p.UsageLimit, &p.UsageCount, &p.UserUsageLimit, &p.SellerID,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return promotion.Promotion{}, err
	}
	p.Type = promotion.Type(typ)
	p.Status = promotion.Status(status)

	if err := json.Unmarshal(conditionsJSON, &p.Conditions); err != nil {
		return promotion.Promotion{}, errors.Wrapf(err, "unmarshaling conditions for promotion %q", p.ID)
	}
	if err := json.Unmarshal(actionJSON, &p.Action); err != nil {
		return promotion.Promotion{}, errors.Wrapf(err, "unmarshaling action for promotion %q", p.ID)
	}
	if err := p.Validate(); err != nil {
		return promotion.Promotion{}, errors.Wrapf(err, "invalid promotion row %q", p.ID)
	}
	return p, nil
}
