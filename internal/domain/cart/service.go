package cart

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// Service exposes the cart operations callers need next to order placement.
type Service struct {
	repo Repository
}

// NewService creates a cart Service backed by repo.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Selected lists the user's selected lines as stored, including lines whose
// item is gone, so the caller can see and deselect them. Use
// Entry.Available to tell them apart.
func (s *Service) Selected(ctx context.Context, userID uuid.UUID) ([]Entry, error) {
	entries, err := s.repo.SelectedEntries(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list selected lines")
	}
	return entries, nil
}

// SetSelected toggles the selected flag on the given lines of the user and
// returns how many lines changed. Unknown, foreign or deleted lines are ignored.
func (s *Service) SetSelected(ctx context.Context, userID uuid.UUID, ids []uuid.UUID, selected bool) (int64, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return 0, nil
	}

	n, err := s.repo.SetSelected(ctx, userID, ids, selected)
	if err != nil {
		return 0, errors.Wrap(err, "set selected")
	}
	return n, nil
}

// Add puts quantity units of an item in the user's cart, merging into an
// existing active line for the same item.
func (s *Service) Add(ctx context.Context, userID, itemID uuid.UUID, quantity int, selected bool) (*Line, error) {
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}

	line, err := s.repo.Add(ctx, userID, itemID, quantity, selected)
	if err != nil {
		return nil, errors.Wrap(err, "add cart line")
	}
	return line, nil
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
