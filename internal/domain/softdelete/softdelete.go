// Package softdelete models the Active | Deleted(at) lifecycle of rows that are
// retired by timestamp instead of being removed.
package softdelete

import "time"

// State is either active or deleted at a point in time. The zero value is active.
type State struct {
	deletedAt time.Time
	deleted   bool
}

// Active returns the active state.
func Active() State {
	return State{}
}

// Deleted returns the state of a row retired at t.
func Deleted(t time.Time) State {
	return State{deletedAt: t, deleted: true}
}

// FromNullable maps a nullable deleted_at column to a State.
func FromNullable(deletedAt *time.Time) State {
	if deletedAt == nil {
		return Active()
	}
	return Deleted(*deletedAt)
}

// IsActive reports whether the row has not been deleted.
func (s State) IsActive() bool {
	return !s.deleted
}

// DeletedAt returns the deletion time and true, or the zero time and false
// when the row is active.
func (s State) DeletedAt() (time.Time, bool) {
	return s.deletedAt, s.deleted
}

// Nullable maps the state back to a nullable deleted_at column value.
func (s State) Nullable() *time.Time {
	if !s.deleted {
		return nil
	}
	t := s.deletedAt
	return &t
}
