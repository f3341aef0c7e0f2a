package order

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
)

const (
	numberPrefix   = "ORD"
	numberAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	numberSuffix   = 3
	numberRedraws  = 8
)

// NumberGenerator issues human readable order numbers of the form
// ORD<6 digits><3 alphanumerics>. The digits come from the clock, the suffix
// is random. A bloom filter of recently issued numbers makes local repeats
// unlikely; the store's unique constraint remains the final check.
type NumberGenerator struct {
	mu       sync.Mutex
	filter   *bloom.BloomFilter
	capacity uint
	issued   uint
	now      func() time.Time
	intn     func(n int) int
}

// NewNumberGenerator creates a generator that remembers about capacity
// numbers before its filter is reset.
func NewNumberGenerator(capacity uint) *NumberGenerator {
	if capacity == 0 {
		capacity = 100_000
	}
	return &NumberGenerator{
		filter:   bloom.NewWithEstimates(capacity, 0.001),
		capacity: capacity,
		now:      time.Now,
		intn:     rand.IntN,
	}
}

// Next returns a new order number.
func (g *NumberGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.issued >= g.capacity {
		g.filter.ClearAll()
		g.issued = 0
	}

	var n string
	for range numberRedraws {
		n = g.draw()
		if !g.filter.TestOrAddString(n) {
			break
		}
	}
	g.issued++
	return n
}

func (g *NumberGenerator) draw() string {
	var suffix [numberSuffix]byte
	for i := range suffix {
		suffix[i] = numberAlphabet[g.intn(len(numberAlphabet))]
	}
	return fmt.Sprintf("%s%06d%s", numberPrefix, g.now().Unix()%1_000_000, suffix[:])
}
