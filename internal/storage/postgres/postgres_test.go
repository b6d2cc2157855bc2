package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/go-faster/errors"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"golang.org/x/text/currency"

	"github.com/xenking/kart-orders/internal/domain/cart"
	"github.com/xenking/kart-orders/internal/domain/catalog"
	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/internal/money"
	storage "github.com/xenking/kart-orders/internal/storage/postgres"
)

func startPostgres(ctx context.Context) (*postgres.PostgresContainer, string, error) {
	container, err := postgres.Run(ctx, "postgres:17.6-alpine3.22",
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, "", errors.Wrap(err, "postgres.Run")
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, "", errors.Wrap(err, "connection string")
	}

	return container, connStr, nil
}

// storeSuite shares one database container across all repository tests.
// Every test works with fresh random users, so no cleanup between tests is
// needed.
type storeSuite struct {
	suite.Suite

	container *postgres.PostgresContainer
	pool      *pgxpool.Pool

	users   *storage.UserRepository
	catalog *storage.CatalogRepository
	carts   *storage.CartRepository
	orders  *storage.OrderStore
	service *order.Service
}

func TestStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	suite.Run(t, new(storeSuite))
}

func (s *storeSuite) SetupSuite() {
	ctx := s.T().Context()

	var (
		connStr string
		err     error
	)
	s.container, connStr, err = startPostgres(ctx)
	s.Require().NoError(err)

	s.pool, err = storage.NewPool(ctx, connStr, storage.PoolConfig{MaxConns: 16})
	s.Require().NoError(err)

	s.Require().NoError(storage.RunMigrations(ctx, s.pool))
	// The schema is idempotent.
	s.Require().NoError(storage.RunMigrations(ctx, s.pool))

	s.users = storage.NewUserRepository(s.pool)
	s.catalog = storage.NewCatalogRepository(s.pool)
	s.carts = storage.NewCartRepository(s.pool)
	s.orders = storage.NewOrderStore(s.pool)
	s.service, err = order.NewService(s.orders)
	s.Require().NoError(err)
}

func (s *storeSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.container != nil {
		s.NoError(s.container.Terminate(context.Background()))
	}
}

// --- Helpers ---

var shipping = order.Shipping{Name: "Zhang Wei", Phone: "13800000000", Address: "88 Century Ave, Shanghai"}

func (s *storeSuite) newUser() uuid.UUID {
	id := uuid.New()
	s.Require().NoError(s.users.Ensure(s.T().Context(), id, gofakeit.Name()))
	return id
}

func (s *storeSuite) newItem(price, discount string) catalog.Item {
	item := catalog.Item{
		ID:       uuid.New(),
		Name:     gofakeit.ProductName(),
		Price:    money.MustParse(price),
		Discount: decimal.RequireFromString(discount),
		Category: gofakeit.ProductCategory(),
	}
	s.Require().NoError(s.catalog.Upsert(s.T().Context(), item))
	return item
}

func (s *storeSuite) addLine(userID uuid.UUID, item catalog.Item, qty int, selected bool) *cart.Line {
	line, err := s.carts.Add(s.T().Context(), userID, item.ID, qty, selected)
	s.Require().NoError(err)
	return line
}

func (s *storeSuite) countOrders(userID uuid.UUID) int {
	var n int
	err := s.pool.QueryRow(s.T().Context(), `SELECT count(*) FROM orders WHERE user_id = $1`, userID).Scan(&n)
	s.Require().NoError(err)
	return n
}

var orderCmpOpts = []cmp.Option{
	cmp.Comparer(func(a, b money.Money) bool { return a.Equal(b) }),
	cmp.Comparer(func(a, b currency.Unit) bool { return a == b }),
	cmpopts.EquateApproxTime(time.Millisecond),
}

// --- Placement ---

func (s *storeSuite) TestPlaceOrder_RoundTrip() {
	t := s.T()
	ctx := t.Context()

	userID := s.newUser()
	tea := s.newItem("10.00", "0.20")
	book := s.newItem("9.99", "0")
	pen := s.newItem("5.50", "0.10")
	s.addLine(userID, tea, 2, true)
	s.addLine(userID, book, 1, true)
	s.addLine(userID, pen, 3, true)
	kept := s.addLine(userID, s.newItem("1.00", "0"), 1, false)

	placed, err := s.service.PlaceOrder(ctx, userID, shipping)
	require.NoError(t, err)
	require.Equal(t, "40.84", placed.Total.String())
	require.Len(t, placed.Lines, 3)
	require.Equal(t, []string{"16.00", "9.99", "14.85"}, []string{
		placed.Lines[0].Total.String(), placed.Lines[1].Total.String(), placed.Lines[2].Total.String(),
	})

	got, err := s.service.Get(ctx, placed.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(placed, got, orderCmpOpts...); diff != "" {
		t.Fatalf("stored order mismatch (-placed +got):\n%s", diff)
	}

	byNumber, err := s.service.GetByNumber(ctx, placed.Number)
	require.NoError(t, err)
	require.Equal(t, placed.ID, byNumber.ID)

	selected, err := s.carts.SelectedEntries(ctx, userID)
	require.NoError(t, err)
	require.Empty(t, selected)

	var remaining []uuid.UUID
	rows, err := s.pool.Query(ctx, `SELECT id FROM cart_lines WHERE user_id = $1`, userID)
	require.NoError(t, err)
	for rows.Next() {
		var id uuid.UUID
		require.NoError(t, rows.Scan(&id))
		remaining = append(remaining, id)
	}
	require.NoError(t, rows.Err())
	require.Equal(t, []uuid.UUID{kept.ID}, remaining)
}

func (s *storeSuite) TestPlaceOrder_Rejected() {
	tests := []struct {
		name    string
		setup   func(userID uuid.UUID)
		wantErr error
	}{
		{
			name:    "nothing selected",
			setup:   func(userID uuid.UUID) { s.addLine(userID, s.newItem("3.00", "0"), 1, false) },
			wantErr: order.ErrEmptySelection,
		},
		{
			name: "soft-deleted item",
			setup: func(userID uuid.UUID) {
				s.addLine(userID, s.newItem("3.00", "0"), 1, true)
				gone := s.newItem("4.00", "0")
				s.addLine(userID, gone, 1, true)
				s.Require().NoError(s.catalog.SoftDelete(s.T().Context(), gone.ID))
			},
			wantErr: cart.ErrStaleReference,
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			t := s.T()
			ctx := t.Context()
			userID := s.newUser()
			tt.setup(userID)
			before, err := s.carts.SelectedEntries(ctx, userID)
			require.NoError(t, err)

			_, err = s.service.PlaceOrder(ctx, userID, shipping)
			require.ErrorIs(t, err, tt.wantErr)

			after, err := s.carts.SelectedEntries(ctx, userID)
			require.NoError(t, err)
			require.Equal(t, len(before), len(after))
			require.Zero(t, s.countOrders(userID))
		})
	}
}

func (s *storeSuite) TestPlaceOrder_NumberConflict() {
	t := s.T()
	ctx := t.Context()

	number := "T20260314" + gofakeit.DigitN(10)
	svc, err := order.NewService(s.orders, order.WithNumberGenerator(func(time.Time) string { return number }))
	require.NoError(t, err)

	alice, bob := s.newUser(), s.newUser()
	s.addLine(alice, s.newItem("2.00", "0"), 1, true)
	s.addLine(bob, s.newItem("2.00", "0"), 1, true)

	_, err = svc.PlaceOrder(ctx, alice, shipping)
	require.NoError(t, err)

	_, err = svc.PlaceOrder(ctx, bob, shipping)
	require.ErrorIs(t, err, order.ErrNumberConflict)
	require.Zero(t, s.countOrders(bob))

	selected, err := s.carts.SelectedEntries(ctx, bob)
	require.NoError(t, err)
	require.Len(t, selected, 1)
}

func (s *storeSuite) TestPlaceOrder_CanceledContext() {
	t := s.T()
	userID := s.newUser()
	s.addLine(userID, s.newItem("2.00", "0"), 1, true)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := s.service.PlaceOrder(ctx, userID, shipping)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, s.countOrders(userID))
}

func (s *storeSuite) TestPlaceOrder_ConcurrentSameUser() {
	t := s.T()
	ctx := t.Context()

	userID := s.newUser()
	s.addLine(userID, s.newItem("2.00", "0"), 2, true)
	s.addLine(userID, s.newItem("7.25", "0.25"), 1, true)

	const attempts = 6
	errs := make([]error, attempts)
	done := make(chan struct{})
	for i := range attempts {
		go func() {
			defer func() { done <- struct{}{} }()
			_, errs[i] = s.service.PlaceOrder(ctx, userID, shipping)
		}()
	}
	for range attempts {
		<-done
	}

	placed := 0
	for _, err := range errs {
		if err == nil {
			placed++
			continue
		}
		require.ErrorIs(t, err, order.ErrEmptySelection)
	}
	require.Equal(t, 1, placed)
	require.Equal(t, 1, s.countOrders(userID))
}

func (s *storeSuite) TestPlaceOrder_ConcurrentUsers() {
	t := s.T()
	ctx := t.Context()

	const users = 8
	item := s.newItem("3.30", "0.05")
	ids := make([]uuid.UUID, users)
	for i := range ids {
		ids[i] = s.newUser()
		s.addLine(ids[i], item, i+1, true)
	}

	errs := make(chan error, users)
	for _, id := range ids {
		go func() {
			_, err := s.service.PlaceOrder(ctx, id, shipping)
			errs <- err
		}()
	}
	for range users {
		require.NoError(t, <-errs)
	}

	for i, id := range ids {
		orders, err := s.service.List(ctx, id)
		require.NoError(t, err)
		require.Len(t, orders, 1)
		// 3.30 × 0.95 = 3.135 -> 3.14 per unit.
		want := money.MustParse("3.14").MulQty(i + 1)
		require.True(t, want.Equal(orders[0].Total), "user %d: want %s got %s", i, want, orders[0].Total)
	}
}

// pausingStore holds every placement transaction open right after the
// selected lines are read and locked, until release is closed.
type pausingStore struct {
	*storage.OrderStore
	locked  chan struct{}
	release chan struct{}
}

func (p *pausingStore) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	return p.OrderStore.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
		return fn(ctx, &pausingTx{Tx: tx, store: p})
	})
}

type pausingTx struct {
	order.Tx
	store *pausingStore
}

func (t *pausingTx) SelectedEntries(ctx context.Context, userID uuid.UUID) ([]cart.Entry, error) {
	entries, err := t.Tx.SelectedEntries(ctx, userID)
	close(t.store.locked)
	select {
	case <-t.store.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return entries, err
}

func (s *storeSuite) TestPlaceOrder_DisjointSelectionsSameUser() {
	t := s.T()
	ctx := t.Context()

	userID := s.newUser()
	first := s.newItem("2.00", "0")
	second := s.newItem("5.00", "0")
	s.addLine(userID, first, 1, true)
	lineB := s.addLine(userID, second, 1, false)

	store := &pausingStore{OrderStore: s.orders, locked: make(chan struct{}), release: make(chan struct{})}
	paused, err := order.NewService(store)
	require.NoError(t, err)

	type result struct {
		order *order.Order
		err   error
	}
	firstDone := make(chan result, 1)
	go func() {
		o, err := paused.PlaceOrder(ctx, userID, shipping)
		firstDone <- result{o, err}
	}()

	select {
	case <-store.locked:
	case <-time.After(30 * time.Second):
		t.Fatal("first placement never read its selection")
	}

	// The first placement still holds its line; the user selects another one.
	n, err := s.carts.SetSelected(ctx, userID, []uuid.UUID{lineB.ID}, true)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	secondDone := make(chan result, 1)
	go func() {
		o, err := s.service.PlaceOrder(ctx, userID, shipping)
		secondDone <- result{o, err}
	}()

	require.Eventually(t, func() bool {
		var waiting int
		err := s.pool.QueryRow(ctx, `SELECT count(*) FROM pg_locks WHERE NOT granted`).Scan(&waiting)
		return err == nil && waiting > 0
	}, 10*time.Second, 20*time.Millisecond, "second placement should wait on the first one's row locks")

	close(store.release)

	r1 := <-firstDone
	require.NoError(t, r1.err)
	r2 := <-secondDone
	require.NoError(t, r2.err)

	require.Len(t, r1.order.Lines, 1)
	require.Equal(t, first.ID, *r1.order.Lines[0].ItemID)
	require.Len(t, r2.order.Lines, 1)
	require.Equal(t, second.ID, *r2.order.Lines[0].ItemID)
	require.NotEqual(t, r1.order.Number, r2.order.Number)
	require.Equal(t, 2, s.countOrders(userID))

	var remaining int
	require.NoError(t, s.pool.QueryRow(ctx, `SELECT count(*) FROM cart_lines WHERE user_id = $1`, userID).Scan(&remaining))
	require.Zero(t, remaining)
}

// --- Snapshots ---

func (s *storeSuite) TestOrderSurvivesCatalogChanges() {
	t := s.T()
	ctx := t.Context()

	userID := s.newUser()
	item := s.newItem("12.00", "0.25")
	s.addLine(userID, item, 1, true)

	placed, err := s.service.PlaceOrder(ctx, userID, shipping)
	require.NoError(t, err)

	item.Name = "Renamed"
	item.Price = money.MustParse("99.00")
	require.NoError(t, s.catalog.Upsert(ctx, item))
	require.NoError(t, s.catalog.SoftDelete(ctx, item.ID))

	got, err := s.service.Get(ctx, placed.ID)
	require.NoError(t, err)
	require.Equal(t, placed.Lines[0].ItemName, got.Lines[0].ItemName)
	require.Equal(t, "9.00", got.Lines[0].UnitPrice.String())
	require.Equal(t, item.ID, *got.Lines[0].ItemID)

	_, err = s.pool.Exec(ctx, `DELETE FROM catalog_items WHERE id = $1`, item.ID)
	require.NoError(t, err)

	got, err = s.service.Get(ctx, placed.ID)
	require.NoError(t, err)
	require.Nil(t, got.Lines[0].ItemID)
	require.Equal(t, placed.Lines[0].ItemName, got.Lines[0].ItemName)
	require.Equal(t, "9.00", got.Lines[0].UnitPrice.String())
	require.Equal(t, "9.00", got.Total.String())
}

func (s *storeSuite) TestOrderSurvivesUserDeletion() {
	t := s.T()
	ctx := t.Context()

	userID := s.newUser()
	s.addLine(userID, s.newItem("1.50", "0"), 2, true)
	placed, err := s.service.PlaceOrder(ctx, userID, shipping)
	require.NoError(t, err)

	_, err = s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, userID)
	require.NoError(t, err)

	got, err := s.service.Get(ctx, placed.ID)
	require.NoError(t, err)
	require.Nil(t, got.UserID)
	require.Equal(t, "3.00", got.Total.String())
}

// --- Lifecycle ---

func (s *storeSuite) TestUpdateStatus() {
	t := s.T()
	ctx := t.Context()

	userID := s.newUser()
	s.addLine(userID, s.newItem("8.00", "0"), 1, true)
	placed, err := s.service.PlaceOrder(ctx, userID, shipping)
	require.NoError(t, err)

	_, err = s.service.UpdateStatus(ctx, placed.ID, order.Status("shipped"), nil)
	require.ErrorIs(t, err, order.ErrInvalidStatus)

	_, err = s.service.UpdateStatus(ctx, placed.ID, order.StatusFinished, nil)
	require.ErrorIs(t, err, order.ErrPaymentTypeRequired)

	wechat := order.PaymentWechat
	finished, err := s.service.UpdateStatus(ctx, placed.ID, order.StatusFinished, &wechat)
	require.NoError(t, err)
	require.NotNil(t, finished.PaymentTime)

	got, err := s.service.Get(ctx, placed.ID)
	require.NoError(t, err)
	require.Equal(t, order.StatusFinished, got.Status)
	require.NotNil(t, got.PaymentTime)
	require.WithinDuration(t, *finished.PaymentTime, *got.PaymentTime, time.Millisecond)
	require.Equal(t, order.PaymentWechat, *got.PaymentType)
	require.Equal(t, placed.Total.String(), got.Total.String())

	_, err = s.service.UpdateStatus(ctx, placed.ID, order.StatusCancelled, nil)
	var trErr *order.TransitionError
	require.ErrorAs(t, err, &trErr)
	require.Equal(t, order.StatusFinished, trErr.From)

	_, err = s.service.UpdateStatus(ctx, uuid.New(), order.StatusCancelled, nil)
	require.ErrorIs(t, err, order.ErrNotFound)
}

func (s *storeSuite) TestListNewestFirst() {
	t := s.T()
	ctx := t.Context()

	userID := s.newUser()
	var numbers []string
	for i := range 3 {
		s.addLine(userID, s.newItem("1.00", "0"), i+1, true)
		o, err := s.service.PlaceOrder(ctx, userID, shipping)
		require.NoError(t, err)
		numbers = append([]string{o.Number}, numbers...)
	}

	orders, err := s.service.List(ctx, userID)
	require.NoError(t, err)
	require.Len(t, orders, 3)
	for i, o := range orders {
		require.Equal(t, numbers[i], o.Number)
		require.Len(t, o.Lines, 1)
		require.Equal(t, 3-i, o.Lines[0].Quantity)
	}

	empty, err := s.service.List(ctx, s.newUser())
	require.NoError(t, err)
	require.Empty(t, empty)
}

func (s *storeSuite) TestDelete() {
	t := s.T()
	ctx := t.Context()

	userID := s.newUser()
	s.addLine(userID, s.newItem("1.00", "0"), 1, true)
	s.addLine(userID, s.newItem("2.00", "0"), 1, true)
	placed, err := s.service.PlaceOrder(ctx, userID, shipping)
	require.NoError(t, err)

	d, err := s.service.Delete(ctx, placed.ID)
	require.NoError(t, err)
	require.Equal(t, order.Deleted{ID: placed.ID, Number: placed.Number}, *d)

	var lines int
	require.NoError(t, s.pool.QueryRow(ctx, `SELECT count(*) FROM order_lines WHERE order_id = $1`, placed.ID).Scan(&lines))
	require.Zero(t, lines)

	_, err = s.service.Delete(ctx, placed.ID)
	require.ErrorIs(t, err, order.ErrNotFound)
	_, err = s.service.GetByNumber(ctx, placed.Number)
	require.ErrorIs(t, err, order.ErrNotFound)
}

// --- Cart and catalog ---

func (s *storeSuite) TestCartAddMergesQuantity() {
	t := s.T()
	ctx := t.Context()

	userID := s.newUser()
	item := s.newItem("4.00", "0")
	first := s.addLine(userID, item, 2, false)
	second := s.addLine(userID, item, 3, true)

	require.Equal(t, first.ID, second.ID)
	require.Equal(t, 5, second.Quantity)
	require.True(t, second.Selected)

	gone := s.newItem("4.00", "0")
	require.NoError(t, s.catalog.SoftDelete(ctx, gone.ID))
	_, err := s.carts.Add(ctx, userID, gone.ID, 1, true)
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func (s *storeSuite) TestCartSetSelected() {
	t := s.T()
	ctx := t.Context()

	alice, bob := s.newUser(), s.newUser()
	a1 := s.addLine(alice, s.newItem("1.00", "0"), 1, false)
	a2 := s.addLine(alice, s.newItem("2.00", "0"), 1, false)
	b1 := s.addLine(bob, s.newItem("3.00", "0"), 1, false)

	svc := cart.NewService(s.carts)
	n, err := svc.SetSelected(ctx, alice, []uuid.UUID{a1.ID, a2.ID, b1.ID}, true)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	entries, err := svc.Selected(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{a1.ID, a2.ID}, cart.Snapshot{Entries: entries}.LineIDs())

	bobs, err := svc.Selected(ctx, bob)
	require.NoError(t, err)
	require.Empty(t, bobs)

	n, err = svc.SetSelected(ctx, alice, []uuid.UUID{a2.ID}, false)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func (s *storeSuite) TestCartSelected_ListsDeletedItems() {
	t := s.T()
	ctx := t.Context()

	userID := s.newUser()
	kept := s.addLine(userID, s.newItem("1.00", "0"), 1, true)
	gone := s.newItem("2.00", "0")
	stale := s.addLine(userID, gone, 2, true)
	require.NoError(t, s.catalog.SoftDelete(ctx, gone.ID))

	svc := cart.NewService(s.carts)
	entries, err := svc.Selected(ctx, userID)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byLine := map[uuid.UUID]cart.Entry{}
	for _, e := range entries {
		byLine[e.Line.ID] = e
	}
	require.True(t, byLine[kept.ID].Available())
	require.False(t, byLine[stale.ID].Available())
	require.NotNil(t, byLine[stale.ID].Item)
	require.False(t, byLine[stale.ID].Item.State.IsActive())

	_, err = s.service.PlaceOrder(ctx, userID, shipping)
	require.ErrorIs(t, err, cart.ErrStaleReference)

	// Deselecting the stale line lets placement go through.
	n, err := svc.SetSelected(ctx, userID, []uuid.UUID{stale.ID}, false)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	placed, err := s.service.PlaceOrder(ctx, userID, shipping)
	require.NoError(t, err)
	require.Len(t, placed.Lines, 1)
}

func (s *storeSuite) TestCatalogRepository() {
	t := s.T()
	ctx := t.Context()

	items := make([]catalog.Item, 5)
	ids := make([]uuid.UUID, len(items))
	for i := range items {
		items[i] = catalog.Item{
			ID:       uuid.New(),
			Name:     gofakeit.ProductName(),
			Price:    money.FromCents(int64(gofakeit.IntRange(1, 100_000))),
			Discount: decimal.New(int64(gofakeit.IntRange(0, 9999)), -4),
		}
		ids[i] = items[i].ID
	}
	require.NoError(t, s.catalog.UpsertBatch(ctx, items))

	got, err := s.catalog.GetByIDs(ctx, ids)
	require.NoError(t, err)
	require.Len(t, got, len(items))

	one, err := s.catalog.GetByID(ctx, items[0].ID)
	require.NoError(t, err)
	require.True(t, items[0].Price.Equal(one.Price))
	require.True(t, items[0].Discount.Equal(one.Discount))
	require.True(t, one.Available())

	require.NoError(t, s.catalog.SoftDelete(ctx, items[0].ID))
	_, err = s.catalog.GetByID(ctx, items[0].ID)
	require.ErrorIs(t, err, catalog.ErrNotFound)
	require.ErrorIs(t, s.catalog.SoftDelete(ctx, items[0].ID), catalog.ErrNotFound)

	got, err = s.catalog.GetByIDs(ctx, ids)
	require.NoError(t, err)
	require.Len(t, got, len(items)-1)
}
