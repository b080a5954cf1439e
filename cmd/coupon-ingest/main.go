// Command coupon-ingest bulk-loads coupon codes from gzipped code lists into
// the coupons table, bound to an existing promotion. Every code in every file
// is normalized and deduplicated before insert; a bloom filter keeps the
// dedup set cheap across very large lists.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/harborline/promo-engine/internal/domain/coupon"
	"github.com/harborline/promo-engine/internal/storage/postgres"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.0001
	minCodeLen    = 4
	maxCodeLen    = 32
	progressEvery = 1_000_000
)

func main() {
	var (
		databaseURL string
		promotionID string
		usageLimit  int
		userLimit   int
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&promotionID, "promotion-id", "", "promotion the ingested coupons belong to")
	flag.IntVar(&usageLimit, "usage-limit", 1, "global usage limit per coupon (0 = unlimited)")
	flag.IntVar(&userLimit, "user-limit", 1, "per-user usage limit per coupon")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" || promotionID == "" || flag.NArg() == 0 {
		slog.Error("usage: coupon-ingest --database-url URL --promotion-id ID codes1.gz [codes2.gz ...]")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, promotionID, usageLimit, userLimit, flag.Args()); err != nil {
		slog.Error("coupon ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon ingest completed")
}

func run(ctx context.Context, databaseURL, promotionID string, usageLimit, userLimit int, files []string) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	codes, err := collectCodes(ctx, files)
	if err != nil {
		return errors.Wrap(err, "collect codes")
	}
	slog.Info("codes collected", slog.Int("count", len(codes)))
	if len(codes) == 0 {
		return nil
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	return writeCoupons(ctx, pool, promotionID, usageLimit, userLimit, codes)
}

// collectCodes streams all files concurrently, normalizing and deduplicating
// codes. The bloom filter front-runs the exact set so most duplicates never
// take the lock.
func collectCodes(ctx context.Context, files []string) ([]string, error) {
	var (
		mu     sync.Mutex
		filter = bloom.NewWithEstimates(bloomCapacity, bloomFPR)
		seen   = make(map[string]struct{})
		codes  []string
	)

	g, ctx := errgroup.WithContext(ctx)
	for _, f := range files {
		g.Go(func() error {
			var count uint64
			err := streamGzFile(ctx, f, func(raw string) {
				code := coupon.NormalizeCode(raw)
				if len(code) < minCodeLen || len(code) > maxCodeLen {
					return
				}
				mu.Lock()
				if !filter.TestString(code) {
					filter.AddString(code)
					seen[code] = struct{}{}
					codes = append(codes, code)
				} else if _, dup := seen[code]; !dup {
					// Bloom false positive: still a new code.
					seen[code] = struct{}{}
					codes = append(codes, code)
				}
				mu.Unlock()
				count++
				if count%progressEvery == 0 {
					slog.Info("ingest progress", slog.String("file", f), slog.Uint64("lines", count))
				}
			})
			return errors.Wrapf(err, "stream %s", f)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return codes, nil
}

// streamGzFile reads a gzipped file line by line, calling fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open")
	}
	defer f.Close()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrap(err, "gzip reader")
	}
	defer gz.Close()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		fn(scanner.Text())
	}
	return errors.Wrap(scanner.Err(), "scan")
}

// writeCoupons bulk-inserts the codes with COPY into a temp table, then moves
// them into coupons skipping codes that already exist.
func writeCoupons(ctx context.Context, pool *pgxpool.Pool, promotionID string, usageLimit, userLimit int, codes []string) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`CREATE TEMP TABLE ingest_coupons (id TEXT, code TEXT) ON COMMIT DROP`,
	); err != nil {
		return errors.Wrap(err, "create temp table")
	}

	rows := make([][]any, len(codes))
	for i, code := range codes {
		rows[i] = []any{ulid.Make().String(), code}
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"ingest_coupons"},
		[]string{"id", "code"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return errors.Wrap(err, "copy codes")
	}

	var limit *int
	if usageLimit > 0 {
		limit = &usageLimit
	}
	tag, err := tx.Exec(ctx, `
		INSERT INTO coupons (id, code, promotion_id, usage_limit, user_limit, status)
		SELECT i.id, i.code, $1, $2, $3, 'active'
		FROM ingest_coupons i
		ON CONFLICT (UPPER(code)) DO NOTHING`,
		promotionID, limit, userLimit,
	)
	if err != nil {
		return errors.Wrap(err, "insert coupons")
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit")
	}

	slog.Info("coupons inserted",
		slog.Int64("inserted", tag.RowsAffected()),
		slog.Int("skipped", len(codes)-int(tag.RowsAffected())),
	)
	return nil
}
