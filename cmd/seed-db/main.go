// Command seed-db fills a database with demo users, catalog items and carts.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/catalog"
	"github.com/xenking/kart-orders/internal/money"
	"github.com/xenking/kart-orders/internal/storage/postgres"
)

type options struct {
	databaseURL string
	users       int
	items       int
	cartLines   int
	seed        uint64
}

func main() {
	var opts options
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&opts.users, "users", 5, "number of demo users")
	flag.IntVar(&opts.items, "items", 40, "number of catalog items")
	flag.IntVar(&opts.cartLines, "cart-lines", 4, "cart lines per user")
	flag.Uint64Var(&opts.seed, "seed", 42, "random seed; the same seed produces the same dataset")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, opts); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, opts options) error {
	pool, err := postgres.NewPool(ctx, opts.databaseURL, postgres.PoolConfig{})
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	faker := gofakeit.New(opts.seed)
	items, err := fakeItems(faker, opts.items)
	if err != nil {
		return err
	}

	if err := postgres.NewCatalogRepository(pool).UpsertBatch(ctx, items); err != nil {
		return errors.Wrap(err, "seed catalog")
	}
	lg.Info("Seeded catalog", zap.Int("items", len(items)))

	users := postgres.NewUserRepository(pool)
	carts := postgres.NewCartRepository(pool)
	for range opts.users {
		userID, err := uuid.Parse(faker.UUID())
		if err != nil {
			return errors.Wrap(err, "generate user id")
		}
		name := faker.Name()
		if err := users.Ensure(ctx, userID, name); err != nil {
			return errors.Wrapf(err, "seed user %s", userID)
		}

		for range min(opts.cartLines, len(items)) {
			item := items[faker.IntN(len(items))]
			if _, err := carts.Add(ctx, userID, item.ID, faker.IntRange(1, 5), faker.Bool()); err != nil {
				return errors.Wrapf(err, "seed cart of user %s", userID)
			}
		}
		lg.Info("Seeded user", zap.Stringer("id", userID), zap.String("name", name))
	}
	return nil
}

var categories = []string{"pizza", "pasta", "salad", "dessert", "drink"}

func fakeItems(faker *gofakeit.Faker, n int) ([]catalog.Item, error) {
	now := time.Now().UTC()
	items := make([]catalog.Item, 0, n)
	for range n {
		id, err := uuid.Parse(faker.UUID())
		if err != nil {
			return nil, errors.Wrap(err, "generate item id")
		}
		discount := decimal.Zero
		// Roughly a quarter of the catalog is on sale.
		if faker.IntN(4) == 0 {
			discount = decimal.New(int64(faker.IntRange(5, 50)), -2)
		}
		items = append(items, catalog.Item{
			ID:        id,
			Name:      faker.ProductName(),
			Price:     money.FromCents(int64(faker.IntRange(150, 4_999))),
			Discount:  discount,
			Category:  categories[faker.IntN(len(categories))],
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return items, nil
}
