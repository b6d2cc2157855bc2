package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/catalog"
	"github.com/xenking/kart-orders/internal/domain/softdelete"
	"github.com/xenking/kart-orders/internal/money"
)

const (
	catalogColumns = `id, name, price, discount, category, deleted_at, created_at, updated_at`

	getItemByIDSQL = `SELECT ` + catalogColumns + `
		FROM catalog_items WHERE id = $1 AND deleted_at IS NULL`

	getItemsByIDsSQL = `SELECT ` + catalogColumns + `
		FROM catalog_items WHERE id = ANY($1) AND deleted_at IS NULL ORDER BY id`

	upsertItemSQL = `INSERT INTO catalog_items (id, name, price, discount, category, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			price = EXCLUDED.price,
			discount = EXCLUDED.discount,
			category = EXCLUDED.category,
			deleted_at = EXCLUDED.deleted_at,
			updated_at = now()`

	softDeleteItemSQL = `UPDATE catalog_items SET deleted_at = now(), updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`
)

var _ catalog.Repository = (*CatalogRepository)(nil)

// CatalogRepository implements catalog.Repository backed by PostgreSQL.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// GetByID returns a single active item.
func (r *CatalogRepository) GetByID(ctx context.Context, id uuid.UUID) (*catalog.Item, error) {
	rows, err := r.pool.Query(ctx, getItemByIDSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get item %s", id)
	}

	item, err := pgx.CollectExactlyOneRow(rows, scanItem)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get item %s", id)
	}
	return &item, nil
}

// GetByIDs returns the active items matching any of the given IDs.
func (r *CatalogRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]catalog.Item, error) {
	rows, err := r.pool.Query(ctx, getItemsByIDsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get items by ids")
	}
	items, err := pgx.CollectRows(rows, scanItem)
	if err != nil {
		return nil, errors.Wrap(err, "scan items")
	}
	return items, nil
}

// Upsert inserts the item or replaces its mutable fields.
func (r *CatalogRepository) Upsert(ctx context.Context, item catalog.Item) error {
	if _, err := r.pool.Exec(ctx, upsertItemSQL, upsertArgs(item)...); err != nil {
		return errors.Wrapf(err, "upsert item %s", item.ID)
	}
	return nil
}

// UpsertBatch upserts all items in one round trip.
func (r *CatalogRepository) UpsertBatch(ctx context.Context, items []catalog.Item) error {
	if len(items) == 0 {
		return nil
	}

	b := &pgx.Batch{}
	for _, item := range items {
		b.Queue(upsertItemSQL, upsertArgs(item)...)
	}

	br := r.pool.SendBatch(ctx, b)
	for _, item := range items {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return errors.Wrapf(err, "upsert item %s", item.ID)
		}
	}
	if err := br.Close(); err != nil {
		return errors.Wrap(err, "close batch")
	}
	return nil
}

// SoftDelete marks an active item deleted. Existing order lines keep their
// snapshots; cart lines referencing it become stale.
func (r *CatalogRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, softDeleteItemSQL, id)
	if err != nil {
		return errors.Wrapf(err, "soft delete item %s", id)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

func upsertArgs(item catalog.Item) []any {
	return []any{
		item.ID, item.Name, item.Price.Decimal(), item.Discount, item.Category, item.State.Nullable(),
	}
}

func scanItem(row pgx.CollectableRow) (catalog.Item, error) {
	var (
		item      catalog.Item
		price     decimal.Decimal
		deletedAt *time.Time
	)
	err := row.Scan(
		&item.ID, &item.Name, &price, &item.Discount, &item.Category,
		&deletedAt, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return item, err
	}

	if item.Price, err = money.FromDecimal(price); err != nil {
		return item, errors.Wrapf(err, "item %s price", item.ID)
	}
	item.State = softdelete.FromNullable(deletedAt)
	return item, nil
}
