package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/cart"
	"github.com/xenking/kart-orders/internal/domain/catalog"
	"github.com/xenking/kart-orders/internal/domain/softdelete"
	"github.com/xenking/kart-orders/internal/money"
)

const (
	cartLineColumns = `c.id, c.user_id, c.item_id, c.quantity, c.selected, c.deleted_at, c.created_at, c.updated_at`

	selectedEntriesSQL = `SELECT ` + cartLineColumns + `,
			i.id, i.name, i.price, i.discount, i.category, i.deleted_at, i.created_at, i.updated_at
		FROM cart_lines c
		LEFT JOIN catalog_items i ON i.id = c.item_id
		WHERE c.user_id = $1 AND c.selected AND c.deleted_at IS NULL
		ORDER BY c.created_at, c.id`

	// Locks only cart rows: catalog items stay editable while an order is placed.
	lockSelectedEntriesSQL = selectedEntriesSQL + `
		FOR UPDATE OF c`

	setSelectedSQL = `UPDATE cart_lines SET selected = $3, updated_at = now()
		WHERE user_id = $1 AND id = ANY($2) AND deleted_at IS NULL`

	lockActiveLineSQL = `SELECT ` + cartLineColumns + `
		FROM cart_lines c
		WHERE c.user_id = $1 AND c.item_id = $2 AND c.deleted_at IS NULL
		ORDER BY c.created_at
		LIMIT 1
		FOR UPDATE`

	itemActiveSQL = `SELECT EXISTS (SELECT 1 FROM catalog_items WHERE id = $1 AND deleted_at IS NULL)`

	mergeLineSQL = `UPDATE cart_lines SET quantity = quantity + $2, selected = $3, updated_at = now()
		WHERE id = $1
		RETURNING id, user_id, item_id, quantity, selected, deleted_at, created_at, updated_at`

	insertLineSQL = `INSERT INTO cart_lines (id, user_id, item_id, quantity, selected)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, user_id, item_id, quantity, selected, deleted_at, created_at, updated_at`

	removeCartLinesSQL = `DELETE FROM cart_lines
		WHERE user_id = $1 AND id = ANY($2) AND deleted_at IS NULL`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// SelectedEntries returns the user's selected lines without locking them.
func (r *CartRepository) SelectedEntries(ctx context.Context, userID uuid.UUID) ([]cart.Entry, error) {
	return selectedEntries(ctx, r.pool, selectedEntriesSQL, userID)
}

// SetSelected toggles the selected flag on the user's active lines in ids and
// returns how many rows changed. Lines of other users are never touched.
func (r *CartRepository) SetSelected(ctx context.Context, userID uuid.UUID, ids []uuid.UUID, selected bool) (int64, error) {
	tag, err := r.pool.Exec(ctx, setSelectedSQL, userID, ids, selected)
	if err != nil {
		return 0, errors.Wrap(err, "update selected flag")
	}
	return tag.RowsAffected(), nil
}

// Add puts quantity of the item into the cart, merging with an existing
// active line for the same item.
func (r *CartRepository) Add(ctx context.Context, userID, itemID uuid.UUID, quantity int, selected bool) (*cart.Line, error) {
	return withTx(ctx, r.pool, func(tx pgx.Tx) (*cart.Line, error) {
		var active bool
		if err := tx.QueryRow(ctx, itemActiveSQL, itemID).Scan(&active); err != nil {
			return nil, errors.Wrap(err, "check item")
		}
		if !active {
			return nil, catalog.ErrNotFound
		}

		rows, err := tx.Query(ctx, lockActiveLineSQL, userID, itemID)
		if err != nil {
			return nil, errors.Wrap(err, "lock cart line")
		}
		existing, err := pgx.CollectRows(rows, scanCartLine)
		if err != nil {
			return nil, errors.Wrap(err, "scan cart line")
		}

		if len(existing) > 0 {
			rows, err = tx.Query(ctx, mergeLineSQL, existing[0].ID, quantity, selected)
		} else {
			rows, err = tx.Query(ctx, insertLineSQL, uuid.New(), userID, itemID, quantity, selected)
		}
		if err != nil {
			return nil, errors.Wrap(err, "write cart line")
		}
		line, err := pgx.CollectExactlyOneRow(rows, scanCartLine)
		if err != nil {
			if code, _ := pgErrorCode(err); code == codeForeignKeyViolation {
				return nil, errors.Wrapf(err, "user %s not found", userID)
			}
			return nil, errors.Wrap(err, "write cart line")
		}
		return &line, nil
	})
}

func selectedEntries(ctx context.Context, q querier, sql string, userID uuid.UUID) ([]cart.Entry, error) {
	rows, err := q.Query(ctx, sql, userID)
	if err != nil {
		return nil, errors.Wrap(err, "query selected lines")
	}
	entries, err := pgx.CollectRows(rows, scanEntry)
	if err != nil {
		return nil, errors.Wrap(err, "scan selected lines")
	}
	return entries, nil
}

func removeCartLines(ctx context.Context, q querier, userID uuid.UUID, ids []uuid.UUID) (int64, error) {
	tag, err := q.Exec(ctx, removeCartLinesSQL, userID, ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanCartLine(row pgx.CollectableRow) (cart.Line, error) {
	var (
		l         cart.Line
		deletedAt *time.Time
	)
	err := row.Scan(
		&l.ID, &l.UserID, &l.ItemID, &l.Quantity, &l.Selected,
		&deletedAt, &l.CreatedAt, &l.UpdatedAt,
	)
	l.State = softdelete.FromNullable(deletedAt)
	return l, err
}

// scanEntry reads a cart line and its LEFT JOINed item; the item columns are
// all NULL when the catalog row is gone.
func scanEntry(row pgx.CollectableRow) (cart.Entry, error) {
	var (
		e             cart.Entry
		lineDeletedAt *time.Time

		itemID        *uuid.UUID
		itemName      *string
		price         decimal.NullDecimal
		discount      decimal.NullDecimal
		category      *string
		itemDeletedAt *time.Time
		itemCreatedAt *time.Time
		itemUpdatedAt *time.Time
	)
	err := row.Scan(
		&e.Line.ID, &e.Line.UserID, &e.Line.ItemID, &e.Line.Quantity, &e.Line.Selected,
		&lineDeletedAt, &e.Line.CreatedAt, &e.Line.UpdatedAt,
		&itemID, &itemName, &price, &discount, &category,
		&itemDeletedAt, &itemCreatedAt, &itemUpdatedAt,
	)
	if err != nil {
		return e, err
	}
	e.Line.State = softdelete.FromNullable(lineDeletedAt)

	if itemID == nil {
		return e, nil
	}

	p, err := money.FromDecimal(price.Decimal)
	if err != nil {
		return e, errors.Wrapf(err, "item %s price", *itemID)
	}
	e.Item = &catalog.Item{
		ID:        *itemID,
		Name:      *itemName,
		Price:     p,
		Discount:  discount.Decimal,
		Category:  *category,
		State:     softdelete.FromNullable(itemDeletedAt),
		CreatedAt: *itemCreatedAt,
		UpdatedAt: *itemUpdatedAt,
	}
	return e, nil
}
