package main

import (
	"bufio"
	"context"
	"os"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/catalog"
	"github.com/xenking/kart-orders/internal/domain/softdelete"
	"github.com/xenking/kart-orders/internal/money"
)

const maxRecordBytes = 1 << 20

var one = decimal.NewFromInt(1)

// discountPlaces matches the catalog_items.discount column scale.
const discountPlaces = 4

// record is one parsed feed line.
type record struct {
	line int
	item catalog.Item
}

// streamFeed opens a gzip-compressed JSON Lines feed and calls fn for every
// record. Blank lines are skipped.
func streamFeed(ctx context.Context, path string, now time.Time, fn func(record) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 64*1024), maxRecordBytes)

	var n int
	for scanner.Scan() {
		n++
		if err := ctx.Err(); err != nil {
			return err
		}
		raw := scanner.Bytes()
		if len(strings.TrimSpace(string(raw))) == 0 {
			continue
		}

		item, err := parseItem(raw, now)
		if err != nil {
			return errors.Wrapf(err, "%s:%d", path, n)
		}
		if err := fn(record{line: n, item: item}); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}

// parseItem decodes one feed object:
//
//	{"id":"…","name":"Margherita","price":"9.99","discount":"0.10","category":"pizza","deleted":false}
//
// Price and discount may be JSON strings or numbers. A true "deleted" flag
// retires the item as of now.
func parseItem(raw []byte, now time.Time) (catalog.Item, error) {
	var (
		item    catalog.Item
		hasID   bool
		hasName bool
		price   string
		deleted bool
	)
	item.Discount = decimal.Zero

	d := jx.DecodeBytes(raw)
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "id":
			s, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "id")
			}
			id, err := uuid.Parse(s)
			if err != nil {
				return errors.Wrap(err, "id")
			}
			item.ID, hasID = id, true
		case "name":
			s, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "name")
			}
			item.Name, hasName = strings.TrimSpace(s), true
		case "price":
			s, err := decodeNumeric(d)
			if err != nil {
				return errors.Wrap(err, "price")
			}
			price = s
		case "discount":
			s, err := decodeNumeric(d)
			if err != nil {
				return errors.Wrap(err, "discount")
			}
			v, err := decimal.NewFromString(s)
			if err != nil {
				return errors.Wrap(err, "discount")
			}
			item.Discount = v
		case "category":
			s, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "category")
			}
			item.Category = s
		case "deleted":
			v, err := d.Bool()
			if err != nil {
				return errors.Wrap(err, "deleted")
			}
			deleted = v
		default:
			return d.Skip()
		}
		return nil
	}); err != nil {
		return catalog.Item{}, errors.Wrap(err, "decode item")
	}

	switch {
	case !hasID:
		return catalog.Item{}, errors.New("missing id")
	case !hasName || item.Name == "":
		return catalog.Item{}, errors.Errorf("item %s: missing name", item.ID)
	case price == "":
		return catalog.Item{}, errors.Errorf("item %s: missing price", item.ID)
	}

	p, err := money.Parse(price)
	if err != nil {
		return catalog.Item{}, errors.Wrapf(err, "item %s", item.ID)
	}
	if p.IsNegative() {
		return catalog.Item{}, errors.Errorf("item %s: negative price %s", item.ID, p)
	}
	item.Price = p

	if item.Discount.IsNegative() || item.Discount.GreaterThanOrEqual(one) {
		return catalog.Item{}, errors.Errorf("item %s: discount %s outside [0, 1)", item.ID, item.Discount)
	}
	if !item.Discount.Equal(item.Discount.Truncate(discountPlaces)) {
		return catalog.Item{}, errors.Errorf("item %s: discount %s has more than %d decimal places", item.ID, item.Discount, discountPlaces)
	}
	if deleted {
		item.State = softdelete.Deleted(now)
	}
	item.CreatedAt = now
	item.UpdatedAt = now
	return item, nil
}

func decodeNumeric(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return n.String(), nil
	default:
		return "", errors.Errorf("unexpected %s", d.Next())
	}
}
