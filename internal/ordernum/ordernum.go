// Package ordernum issues human-readable order numbers of the form
// ORD-TTTTTTRRR: the last six digits of the millisecond clock followed by
// three random digits.
package ordernum

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

const (
	Prefix = "ORD-"

	timeSpace  = 1_000_000
	suffixSize = 1_000
	space      = timeSpace * suffixSize

	// a smaller value after a larger one means the clock component wrapped
	wrapWindow = space / 2
)

// Generator never repeats a number within one process until the time
// component wraps (about every 16 minutes). Across processes the unique index
// on orders.order_number is the backstop.
type Generator struct {
	mu   sync.Mutex
	now  func() time.Time
	rand func(n int64) int64
	last int64
	used bool
}

func New() *Generator {
	return &Generator{now: time.Now, rand: rand.Int64N}
}

// NewWithSource is used by tests to pin the clock and the random suffix.
func NewWithSource(now func() time.Time, rnd func(n int64) int64) *Generator {
	return &Generator{now: now, rand: rnd}
}

func (g *Generator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now().UnixMilli() % timeSpace
	n := ms*suffixSize + g.rand(suffixSize)

	if g.used && n <= g.last && g.last-n < wrapWindow {
		n = (g.last + 1) % space
	}
	g.last, g.used = n, true

	return Format(n)
}

func Format(n int64) string {
	return fmt.Sprintf("%s%09d", Prefix, n%space)
}
