package cart

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// Snapshot is the set of selected lines read at one point in time. An empty
// snapshot is valid and distinct from a failed read.
type Snapshot struct {
	UserID  uuid.UUID
	Entries []Entry
}

// Empty reports whether nothing is selected.
func (s Snapshot) Empty() bool {
	return len(s.Entries) == 0
}

// LineIDs returns the identifiers of the captured lines, in snapshot order.
func (s Snapshot) LineIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(s.Entries))
	for i, e := range s.Entries {
		ids[i] = e.Line.ID
	}
	return ids
}

// ReadSnapshot loads the user's selected lines through r and verifies that
// every line still references an available catalog item. The first stale line
// is reported as *StaleReferenceError; nothing is skipped silently.
func ReadSnapshot(ctx context.Context, r Reader, userID uuid.UUID) (Snapshot, error) {
	entries, err := r.SelectedEntries(ctx, userID)
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "read selected lines")
	}

	for _, e := range entries {
		if !e.Available() {
			return Snapshot{}, &StaleReferenceError{LineID: e.Line.ID, ItemID: e.Line.ItemID}
		}
	}

	return Snapshot{UserID: userID, Entries: entries}, nil
}
