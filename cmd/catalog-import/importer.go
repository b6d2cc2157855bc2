package main

import (
	"context"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-orders/internal/domain/catalog"
)

// batchWriter persists catalog items. Items within one call are applied in
// slice order.
type batchWriter interface {
	UpsertBatch(ctx context.Context, items []catalog.Item) error
}

// importer merges feeds where a later feed overrides an earlier one for the
// same item id.
//
// Pass 1 builds a bloom filter of item ids per feed, concurrently. Pass 2
// streams the feeds in order: an item whose id cannot appear in any later
// feed is final and written immediately; one that may appear later is held
// back. Seeing the id again replaces the held record, so whatever is still
// held once every feed is read is the last occurrence of an id whose later
// match was a false positive.
type importer struct {
	lg        *zap.Logger
	w         batchWriter
	capacity  uint
	fpr       float64
	batchSize int
	now       func() time.Time
}

type importStats struct {
	records  int
	written  int
	deferred int
}

func (im *importer) run(ctx context.Context, feeds []string) (importStats, error) {
	var stats importStats
	now := im.now()

	im.lg.Info("Pass 1: building bloom filters", zap.Int("feeds", len(feeds)))
	filters, err := im.buildFilters(ctx, feeds, now)
	if err != nil {
		return stats, errors.Wrap(err, "build bloom filters")
	}

	im.lg.Info("Pass 2: writing items")
	var (
		held  = make(map[uuid.UUID]catalog.Item)
		order []uuid.UUID // first-held order, for deterministic final writes
		batch = make([]catalog.Item, 0, im.batchSize)
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := im.w.UpsertBatch(ctx, batch); err != nil {
			return err
		}
		stats.written += len(batch)
		batch = batch[:0]
		return nil
	}

	for i, path := range feeds {
		later := filters[i+1:]
		var count int
		if err := streamFeed(ctx, path, now, func(r record) error {
			stats.records++
			count++
			id := r.item.ID
			key := id.String()

			if mayAppearIn(later, key) {
				if _, ok := held[id]; !ok {
					order = append(order, id)
				}
				held[id] = r.item
				return nil
			}
			delete(held, id)

			batch = append(batch, r.item)
			if len(batch) >= im.batchSize {
				return flush()
			}
			return nil
		}); err != nil {
			return stats, errors.Wrapf(err, "import feed %d", i+1)
		}
		im.lg.Info("Feed imported",
			zap.Int("feed", i+1),
			zap.String("path", path),
			zap.Int("records", count),
			zap.Int("held", len(held)),
		)
	}
	if err := flush(); err != nil {
		return stats, errors.Wrap(err, "write items")
	}

	// Held ids never resurfaced: their later filter hits were false positives.
	for _, id := range order {
		item, ok := held[id]
		if !ok {
			continue
		}
		delete(held, id)
		stats.deferred++
		batch = append(batch, item)
		if len(batch) >= im.batchSize {
			if err := flush(); err != nil {
				return stats, errors.Wrap(err, "write held items")
			}
		}
	}
	if err := flush(); err != nil {
		return stats, errors.Wrap(err, "write held items")
	}
	return stats, nil
}

// buildFilters creates one bloom filter of item ids per feed, concurrently.
func (im *importer) buildFilters(ctx context.Context, feeds []string, now time.Time) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(feeds))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range feeds {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(im.capacity, im.fpr)
			var count int
			if err := streamFeed(ctx, path, now, func(r record) error {
				filter.AddString(r.item.ID.String())
				count++
				return nil
			}); err != nil {
				return errors.Wrapf(err, "scan feed %d", i+1)
			}
			im.lg.Info("Pass 1 complete",
				zap.Int("feed", i+1),
				zap.Int("records", count),
			)
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

func mayAppearIn(filters []*bloom.BloomFilter, key string) bool {
	for _, f := range filters {
		if f.TestString(key) {
			return true
		}
	}
	return false
}
