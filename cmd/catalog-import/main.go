// Command catalog-import bulk loads gzip-compressed JSON Lines catalog feeds.
//
// Feeds are given in precedence order: when an item id appears more than
// once, the last occurrence in the last feed wins.
//
//	catalog-import --database-url postgres://… base.jsonl.gz delta-1.jsonl.gz delta-2.jsonl.gz
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		capacity    uint
		fpr         float64
		batchSize   int
	)
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.UintVar(&capacity, "bloom-capacity", 1_000_000, "expected item ids per feed")
	flag.Float64Var(&fpr, "bloom-fpr", 0.001, "bloom filter false positive rate")
	flag.IntVar(&batchSize, "batch-size", 500, "items per database batch")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}
	feeds := flag.Args()
	if len(feeds) == 0 {
		lg.Fatal("At least one feed file is required")
	}
	if batchSize < 1 || capacity < 1 || fpr <= 0 || fpr >= 1 {
		lg.Fatal("Invalid tuning flags",
			zap.Int("batch_size", batchSize),
			zap.Uint("bloom_capacity", capacity),
			zap.Float64("bloom_fpr", fpr),
		)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, feeds, capacity, fpr, batchSize); err != nil {
		lg.Fatal("Catalog import failed", zap.Error(err))
	}
}

func run(ctx context.Context, lg *zap.Logger, databaseURL string, feeds []string, capacity uint, fpr float64, batchSize int) error {
	for _, f := range feeds {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check feed %s", f)
		}
	}

	pool, err := postgres.NewPool(ctx, databaseURL, postgres.PoolConfig{})
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	im := &importer{
		lg:        lg,
		w:         postgres.NewCatalogRepository(pool),
		capacity:  capacity,
		fpr:       fpr,
		batchSize: batchSize,
		now:       time.Now,
	}
	stats, err := im.run(ctx, feeds)
	if err != nil {
		return err
	}
	lg.Info("Catalog import completed",
		zap.Int("records", stats.records),
		zap.Int("written", stats.written),
		zap.Int("deferred", stats.deferred),
	)
	return nil
}
