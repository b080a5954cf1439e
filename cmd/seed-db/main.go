// Command seed-db loads promotions and coupons from a JSON seed file into
// the database, running migrations first. Existing rows are updated in place
// so the tool is safe to re-run.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harborline/promo-engine/internal/domain/coupon"
	"github.com/harborline/promo-engine/internal/domain/promotion"
	"github.com/harborline/promo-engine/internal/storage/postgres"
)

type seedFile struct {
	Promotions []promotionJSON `json:"promotions"`
	Coupons    []couponJSON    `json:"coupons"`
}

type promotionJSON struct {
	ID             string               `json:"id"`
	Name           string               `json:"name"`
	Type           promotion.Type       `json:"type"`
	Status         promotion.Status     `json:"status"`
	Priority       int                  `json:"priority"`
	Stackable      bool                 `json:"stackable"`
	Conditions     promotion.Conditions `json:"conditions"`
	Action         promotion.Action     `json:"action"`
	StartsAt       time.Time            `json:"startsAt"`
	EndsAt         *time.Time           `json:"endsAt"`
	UsageLimit     *int                 `json:"usageLimit"`
	UserUsageLimit *int                 `json:"userUsageLimit"`
	SellerID       *string              `json:"sellerId"`
}

type couponJSON struct {
	ID          string        `json:"id"`
	Code        string        `json:"code"`
	PromotionID string        `json:"promotionId"`
	UsageLimit  *int          `json:"usageLimit"`
	UserLimit   int           `json:"userLimit"`
	Status      coupon.Status `json:"status"`
}

func main() {
	var (
		databaseURL string
		seedPath    string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&seedPath, "seed-file", "db/seed/promotions.json", "path to seed JSON file")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, seedPath); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, seedPath string) error {
	slog.Info("reading seed file", slog.String("path", seedPath))

	data, err := os.ReadFile(seedPath)
	if err != nil {
		return errors.Wrap(err, "read seed file")
	}

	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return errors.Wrap(err, "parse seed JSON")
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedPromotions(ctx, pool, seed.Promotions); err != nil {
		return errors.Wrap(err, "seed promotions")
	}

	if err := seedCoupons(ctx, pool, seed.Coupons); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	return nil
}

const upsertPromotionSQL = `
INSERT INTO promotions (
	id, name, type, status, priority, is_stackable,
	conditions, action, starts_at, ends_at,
	usage_limit, user_usage_limit, seller_id
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	type = EXCLUDED.type,
	status = EXCLUDED.status,
	priority = EXCLUDED.priority,
	is_stackable = EXCLUDED.is_stackable,
	conditions = EXCLUDED.conditions,
	action = EXCLUDED.action,
	starts_at = EXCLUDED.starts_at,
	ends_at = EXCLUDED.ends_at,
	usage_limit = EXCLUDED.usage_limit,
	user_usage_limit = EXCLUDED.user_usage_limit,
	seller_id = EXCLUDED.seller_id,
	updated_at = now()`

func seedPromotions(ctx context.Context, pool *pgxpool.Pool, promos []promotionJSON) error {
	slog.Info("upserting promotions", slog.Int("count", len(promos)))

	for _, pj := range promos {
		p := promotion.Promotion{
			ID:             pj.ID,
			Name:           pj.Name,
			Type:           pj.Type,
			Status:         pj.Status,
			Priority:       pj.Priority,
			Stackable:      pj.Stackable,
			Conditions:     pj.Conditions,
			Action:         pj.Action,
			StartsAt:       pj.StartsAt,
			EndsAt:         pj.EndsAt,
			UsageLimit:     pj.UsageLimit,
			UserUsageLimit: pj.UserUsageLimit,
			SellerID:       pj.SellerID,
		}
		if err := p.Validate(); err != nil {
			return errors.Wrapf(err, "promotion %s", p.ID)
		}

		conditions, err := json.Marshal(p.Conditions)
		if err != nil {
			return errors.Wrapf(err, "marshal conditions for %s", p.ID)
		}
		action, err := json.Marshal(p.Action)
		if err != nil {
			return errors.Wrapf(err, "marshal action for %s", p.ID)
		}

		if _, err := pool.Exec(ctx, upsertPromotionSQL,
			p.ID, p.Name, p.Type, p.Status, p.Priority, p.Stackable,
			conditions, action, p.StartsAt, p.EndsAt,
			p.UsageLimit, p.UserUsageLimit, p.SellerID,
		); err != nil {
			return errors.Wrapf(err, "upsert promotion %s", p.ID)
		}

		slog.Info("upserted promotion", slog.String("id", p.ID), slog.String("name", p.Name))
	}

	return nil
}

const upsertCouponSQL = `
INSERT INTO coupons (id, code, promotion_id, usage_limit, user_limit, status)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
	promotion_id = EXCLUDED.promotion_id,
	usage_limit = EXCLUDED.usage_limit,
	user_limit = EXCLUDED.user_limit,
	status = EXCLUDED.status,
	updated_at = now()`

func seedCoupons(ctx context.Context, pool *pgxpool.Pool, coupons []couponJSON) error {
	slog.Info("upserting coupons", slog.Int("count", len(coupons)))

	for _, c := range coupons {
		code := coupon.NormalizeCode(c.Code)
		status := c.Status
		if status == "" {
			status = coupon.StatusActive
		}
		userLimit := c.UserLimit
		if userLimit <= 0 {
			userLimit = 1
		}

		if _, err := pool.Exec(ctx, upsertCouponSQL,
			c.ID, code, c.PromotionID, c.UsageLimit, userLimit, status,
		); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", code)
		}

		slog.Info("upserted coupon", slog.String("code", code), slog.String("promotion_id", c.PromotionID))
	}

	return nil
}
