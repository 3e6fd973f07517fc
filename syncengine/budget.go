package syncengine

import "sync/atomic"

// Budget is the shared, per-run download cap across all buckets, as
// required by section 4.4. Per the Open Question resolution recorded in
// DESIGN.md, a slot is reserved before each download and handed back if
// the download fails, so only successful downloads spend budget and a
// failed download's slot passes to the next object (the failed object
// itself is not retried within the run).
type Budget struct {
	remaining   atomic.Int64
	isUnlimited bool
}

// NewBudget constructs a Budget with n slots. A non-positive n means
// unlimited.
func NewBudget(n int64) *Budget {
	b := &Budget{isUnlimited: n <= 0}
	b.remaining.Store(n)
	return b
}

// TryReserve atomically claims one download slot, returning false if
// none remain. The check-and-decrement runs as a single compare-and-swap
// rather than a separate capacity check followed by a later decrement,
// since concurrent buckets share one Budget and a two-step check would
// let multiple goroutines observe capacity before any of them reserves
// it. Unlimited budgets always succeed.
func (b *Budget) TryReserve() bool {
	if b.isUnlimited {
		return true
	}
	for {
		old := b.remaining.Load()
		if old <= 0 {
			return false
		}
		if b.remaining.CompareAndSwap(old, old-1) {
			return true
		}
	}
}

// Release returns a slot reserved by TryReserve, called when the
// download it was reserved for fails — per the Open Question
// resolution in DESIGN.md, a failed download must not spend budget.
func (b *Budget) Release() {
	if b.isUnlimited {
		return
	}
	b.remaining.Add(1)
}

// Remaining returns the current slot count (meaningless for unlimited
// budgets).
func (b *Budget) Remaining() int64 {
	return b.remaining.Load()
}
