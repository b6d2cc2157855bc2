package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ensureUserSQL = `INSERT INTO users (id, name) VALUES ($1, $2)
	ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`

// UserRepository maintains the users referenced by carts and orders.
// Authentication lives upstream; this table only anchors foreign keys.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a UserRepository that uses the given pool.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// Ensure creates the user or updates its display name.
func (r *UserRepository) Ensure(ctx context.Context, id uuid.UUID, name string) error {
	if _, err := r.pool.Exec(ctx, ensureUserSQL, id, name); err != nil {
		return errors.Wrapf(err, "ensure user %s", id)
	}
	return nil
}
