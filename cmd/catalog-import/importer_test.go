package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xenking/kart-orders/internal/domain/catalog"
)

type recordingWriter struct {
	batches [][]catalog.Item
	final   map[uuid.UUID]catalog.Item
}

func (w *recordingWriter) UpsertBatch(_ context.Context, items []catalog.Item) error {
	if w.final == nil {
		w.final = make(map[uuid.UUID]catalog.Item)
	}
	w.batches = append(w.batches, append([]catalog.Item(nil), items...))
	for _, it := range items {
		w.final[it.ID] = it
	}
	return nil
}

func writeFeed(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return path
}

func itemLine(id uuid.UUID, name, price string) string {
	return `{"id":"` + id.String() + `","name":"` + name + `","price":"` + price + `","category":"pizza"}`
}

var fixedNow = time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

func newImporter(t *testing.T, w batchWriter, capacity uint, fpr float64) *importer {
	return &importer{
		lg:        zaptest.NewLogger(t),
		w:         w,
		capacity:  capacity,
		fpr:       fpr,
		batchSize: 3,
		now:       func() time.Time { return fixedNow },
	}
}

func TestImporter_LastFeedWins(t *testing.T) {
	dir := t.TempDir()
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	feeds := []string{
		writeFeed(t, dir, "1.jsonl.gz",
			itemLine(a, "Margherita", "9.00"),
			itemLine(b, "Diavola", "11.00"),
			itemLine(c, "Marinara", "7.00"),
		),
		writeFeed(t, dir, "2.jsonl.gz",
			itemLine(a, "Margherita", "9.50"),
			"",
			`{"id":"`+b.String()+`","name":"Diavola","price":12,"deleted":true,"extra":{"x":[1,2]}}`,
		),
		writeFeed(t, dir, "3.jsonl.gz",
			itemLine(a, "Margherita DOP", "10.00"),
			itemLine(a, "Margherita DOP", "10.50"),
		),
	}

	for _, tt := range []struct {
		name     string
		capacity uint
		fpr      float64
	}{
		{name: "precise filters", capacity: 1000, fpr: 0.0001},
		{name: "saturated filters", capacity: 1, fpr: 0.9},
	} {
		t.Run(tt.name, func(t *testing.T) {
			w := &recordingWriter{}
			stats, err := newImporter(t, w, tt.capacity, tt.fpr).run(context.Background(), feeds)
			require.NoError(t, err)

			assert.Equal(t, 7, stats.records)
			require.Len(t, w.final, 3)

			assert.Equal(t, "Margherita DOP", w.final[a].Name)
			assert.Equal(t, "10.50", w.final[a].Price.String())

			assert.Equal(t, "12.00", w.final[b].Price.String())
			assert.False(t, w.final[b].State.IsActive())

			assert.Equal(t, "7.00", w.final[c].Price.String())
			assert.True(t, w.final[c].State.IsActive())

			for _, batch := range w.batches {
				assert.LessOrEqual(t, len(batch), 3)
			}
		})
	}
}

func TestImporter_WritesEachFinalItemOnceWithPreciseFilters(t *testing.T) {
	dir := t.TempDir()
	ids := make([]uuid.UUID, 20)
	lines := make([]string, len(ids))
	for i := range ids {
		ids[i] = uuid.New()
		lines[i] = itemLine(ids[i], gofakeit.ProductName(), "1.25")
	}
	base := writeFeed(t, dir, "base.jsonl.gz", lines...)
	delta := writeFeed(t, dir, "delta.jsonl.gz", itemLine(ids[0], "Renamed", "2.00"))

	w := &recordingWriter{}
	stats, err := newImporter(t, w, 1000, 0.000001).run(context.Background(), []string{base, delta})
	require.NoError(t, err)

	assert.Equal(t, 20, stats.written)
	assert.Equal(t, "Renamed", w.final[ids[0]].Name)
}

func TestImporter_InvalidRecord(t *testing.T) {
	dir := t.TempDir()
	feed := writeFeed(t, dir, "bad.jsonl.gz",
		itemLine(uuid.New(), "Ok", "1.00"),
		itemLine(uuid.New(), "Too precise", "1.005"),
	)

	_, err := newImporter(t, &recordingWriter{}, 10, 0.01).run(context.Background(), []string{feed})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.jsonl.gz:2")
}

func TestImporter_CanceledContext(t *testing.T) {
	dir := t.TempDir()
	feed := writeFeed(t, dir, "1.jsonl.gz", itemLine(uuid.New(), "Ok", "1.00"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newImporter(t, &recordingWriter{}, 10, 0.01).run(ctx, []string{feed})
	require.ErrorIs(t, err, context.Canceled)
}

func TestParseItem(t *testing.T) {
	id := uuid.New()
	tests := []struct {
		name    string
		raw     string
		wantErr string
		check   func(t *testing.T, it catalog.Item)
	}{
		{
			name: "string amounts",
			raw:  `{"id":"` + id.String() + `","name":" Calzone ","price":"8.5","discount":"0.25"}`,
			check: func(t *testing.T, it catalog.Item) {
				assert.Equal(t, "Calzone", it.Name)
				assert.Equal(t, "8.50", it.Price.String())
				assert.Equal(t, "0.25", it.Discount.String())
				assert.Equal(t, fixedNow, it.CreatedAt)
			},
		},
		{
			name: "numeric amounts",
			raw:  `{"id":"` + id.String() + `","name":"Calzone","price":8.5,"discount":0}`,
			check: func(t *testing.T, it catalog.Item) {
				assert.Equal(t, "8.50", it.Price.String())
				assert.True(t, it.Discount.IsZero())
			},
		},
		{name: "missing id", raw: `{"name":"x","price":"1"}`, wantErr: "missing id"},
		{name: "bad id", raw: `{"id":"nope","name":"x","price":"1"}`, wantErr: "id"},
		{name: "missing name", raw: `{"id":"` + id.String() + `","price":"1"}`, wantErr: "missing name"},
		{name: "missing price", raw: `{"id":"` + id.String() + `","name":"x"}`, wantErr: "missing price"},
		{name: "negative price", raw: `{"id":"` + id.String() + `","name":"x","price":"-1"}`, wantErr: "negative price"},
		{name: "full discount", raw: `{"id":"` + id.String() + `","name":"x","price":"1","discount":"1"}`, wantErr: "outside [0, 1)"},
		{
			name:    "discount finer than column scale",
			raw:     `{"id":"` + id.String() + `","name":"x","price":"1","discount":"0.12345"}`,
			wantErr: "more than 4 decimal places",
		},
		{
			name: "trailing zeros beyond scale",
			raw:  `{"id":"` + id.String() + `","name":"x","price":"1","discount":"0.125000"}`,
			check: func(t *testing.T, it catalog.Item) {
				assert.True(t, decimal.RequireFromString("0.125").Equal(it.Discount))
			},
		},
		{name: "not an object", raw: `[1,2]`, wantErr: "decode item"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it, err := parseItem([]byte(tt.raw), fixedNow)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, id, it.ID)
			tt.check(t, it)
		})
	}
}
