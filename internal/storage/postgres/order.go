package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/xenking/kart-orders/internal/domain/cart"
	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/internal/money"
)

const (
	orderNumberConstraint = "orders_order_no_key"

	orderColumns = `id, user_id, order_no, status, total_price, currency, name, phone, address,
		payment_time, payment_type, created_at, updated_at`

	insertOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	insertOrderLineSQL = `INSERT INTO order_lines
		(id, order_id, position, item_id, item_name, unit_price, quantity, total_price, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	listOrdersByUserSQL = `SELECT ` + orderColumns + `
		FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id`

	getOrderByIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	getOrderByNumberSQL = `SELECT ` + orderColumns + ` FROM orders WHERE order_no = $1`

	lockOrderSQL = getOrderByIDSQL + ` FOR UPDATE`

	orderLinesSQL = `SELECT id, order_id, item_id, item_name, unit_price, quantity, total_price, created_at, updated_at
		FROM order_lines WHERE order_id = ANY($1) ORDER BY order_id, position`

	updateOrderStatusSQL = `UPDATE orders
		SET status = $2, payment_time = $3, payment_type = $4, updated_at = $5
		WHERE id = $1`

	deleteOrderSQL = `DELETE FROM orders WHERE id = $1 RETURNING id, order_no`
)

var (
	_ order.Repository = (*OrderStore)(nil)
	_ order.Tx         = (*orderTx)(nil)
)

// OrderStore implements order.Repository backed by PostgreSQL. InTx opens a
// READ COMMITTED transaction; selected cart lines read through it are locked
// with FOR UPDATE until commit or rollback.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore returns an OrderStore that uses the given pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// InTx runs fn in a transaction.
func (s *OrderStore) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	_, err := withTx(ctx, s.pool, func(tx pgx.Tx) (struct{}, error) {
		return struct{}{}, fn(ctx, &orderTx{tx: tx})
	})
	return err
}

// ListByUser returns the user's orders newest first, each with its lines.
func (s *OrderStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]order.Order, error) {
	rows, err := s.pool.Query(ctx, listOrdersByUserSQL, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, errors.Wrap(err, "scan orders")
	}
	if err := attachLines(ctx, s.pool, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// GetByID returns one order with its lines.
func (s *OrderStore) GetByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	return getOrder(ctx, s.pool, getOrderByIDSQL, id)
}

// GetByNumber returns one order with its lines.
func (s *OrderStore) GetByNumber(ctx context.Context, number string) (*order.Order, error) {
	return getOrder(ctx, s.pool, getOrderByNumberSQL, number)
}

// Delete removes the order; its lines go with it by cascade.
func (s *OrderStore) Delete(ctx context.Context, id uuid.UUID) (*order.Deleted, error) {
	var d order.Deleted
	if err := s.pool.QueryRow(ctx, deleteOrderSQL, id).Scan(&d.ID, &d.Number); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "delete order %s", id)
	}
	return &d, nil
}

type orderTx struct {
	tx pgx.Tx
}

func (t *orderTx) SelectedEntries(ctx context.Context, userID uuid.UUID) ([]cart.Entry, error) {
	return selectedEntries(ctx, t.tx, lockSelectedEntriesSQL, userID)
}

func (t *orderTx) InsertOrder(ctx context.Context, o *order.Order) error {
	var paymentType *string
	if o.PaymentType != nil {
		s := string(*o.PaymentType)
		paymentType = &s
	}

	_, err := t.tx.Exec(ctx, insertOrderSQL,
		o.ID, o.UserID, o.Number, string(o.Status), o.Total.Decimal(), o.Currency.String(),
		o.Shipping.Name, o.Shipping.Phone, o.Shipping.Address,
		o.PaymentTime, paymentType, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if code, constraint := pgErrorCode(err); code == codeUniqueViolation && constraint == orderNumberConstraint {
			return errors.Wrapf(order.ErrNumberConflict, "order number %s", o.Number)
		}
		return err
	}
	return nil
}

func (t *orderTx) InsertLines(ctx context.Context, lines []order.Line) error {
	b := &pgx.Batch{}
	for i, l := range lines {
		b.Queue(insertOrderLineSQL,
			l.ID, l.OrderID, i, l.ItemID, l.ItemName,
			l.UnitPrice.Decimal(), l.Quantity, l.Total.Decimal(),
			l.CreatedAt, l.UpdatedAt,
		)
	}

	br := t.tx.SendBatch(ctx, b)
	for _, l := range lines {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return errors.Wrapf(err, "line %s", l.ID)
		}
	}
	return br.Close()
}

func (t *orderTx) RemoveCartLines(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error) {
	return removeCartLines(ctx, t.tx, userID, ids)
}

func (t *orderTx) LockOrder(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	return getOrder(ctx, t.tx, lockOrderSQL, id)
}

func (t *orderTx) UpdateStatus(ctx context.Context, o *order.Order) error {
	var paymentType *string
	if o.PaymentType != nil {
		s := string(*o.PaymentType)
		paymentType = &s
	}

	tag, err := t.tx.Exec(ctx, updateOrderStatusSQL, o.ID, string(o.Status), o.PaymentTime, paymentType, o.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

func getOrder(ctx context.Context, q querier, sql string, arg any) (*order.Order, error) {
	rows, err := q.Query(ctx, sql, arg)
	if err != nil {
		return nil, errors.Wrap(err, "query order")
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrap(err, "scan order")
	}

	orders := []order.Order{o}
	if err := attachLines(ctx, q, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// attachLines loads the lines of all orders in one query.
func attachLines(ctx context.Context, q querier, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, len(orders))
	byID := make(map[uuid.UUID]*order.Order, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
		byID[orders[i].ID] = &orders[i]
	}

	rows, err := q.Query(ctx, orderLinesSQL, ids)
	if err != nil {
		return errors.Wrap(err, "query order lines")
	}
	lines, err := pgx.CollectRows(rows, scanOrderLine)
	if err != nil {
		return errors.Wrap(err, "scan order lines")
	}

	for _, l := range lines {
		o := byID[l.OrderID]
		o.Lines = append(o.Lines, l)
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o           order.Order
		status      string
		total       decimal.Decimal
		cur         string
		paymentType *string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.Number, &status, &total, &cur,
		&o.Shipping.Name, &o.Shipping.Phone, &o.Shipping.Address,
		&o.PaymentTime, &paymentType, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}

	o.Status = order.Status(status)
	if o.Total, err = money.FromDecimal(total); err != nil {
		return o, errors.Wrapf(err, "order %s total", o.ID)
	}
	if o.Currency, err = currency.ParseISO(cur); err != nil {
		return o, errors.Wrapf(err, "order %s currency", o.ID)
	}
	if paymentType != nil {
		pt := order.PaymentType(*paymentType)
		o.PaymentType = &pt
	}
	o.PaymentTime = utcPtr(o.PaymentTime)
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return o, nil
}

func scanOrderLine(row pgx.CollectableRow) (order.Line, error) {
	var (
		l          order.Line
		unitPrice  decimal.Decimal
		totalPrice decimal.Decimal
	)
	err := row.Scan(
		&l.ID, &l.OrderID, &l.ItemID, &l.ItemName,
		&unitPrice, &l.Quantity, &totalPrice, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return l, err
	}

	if l.UnitPrice, err = money.FromDecimal(unitPrice); err != nil {
		return l, errors.Wrapf(err, "line %s unit price", l.ID)
	}
	if l.Total, err = money.FromDecimal(totalPrice); err != nil {
		return l, errors.Wrapf(err, "line %s total", l.ID)
	}
	l.CreatedAt = l.CreatedAt.UTC()
	l.UpdatedAt = l.UpdatedAt.UTC()
	return l, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
