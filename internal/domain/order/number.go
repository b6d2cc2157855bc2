package order

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// NumberLen is the length of every generated order number.
const NumberLen = 1 + 8 + 4 + 6

// NewNumber returns a human-readable order number: "T", the date as YYYYMMDD,
// the last four digits of the millisecond timestamp and six random digits.
// Uniqueness is enforced by storage, not here.
func NewNumber(now time.Time) string {
	return fmt.Sprintf("T%s%04d%06d", now.Format("20060102"), now.UnixMilli()%10_000, rand.IntN(1_000_000))
}
