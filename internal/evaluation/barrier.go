package evaluation

import (
	"sync"
	"sync/atomic"
	"time"
)

// Fire reasons reported to the barrier callback.
const (
	FireComplete = "complete"
	FireCeiling  = "ceiling"
)

// BatchKey identifies one dispatched batch of runs for a draft.
type BatchKey struct {
	DraftID uint
	Batch   int
}

// FireFunc receives the barrier hand-off. It is called at most once per armed batch.
type FireFunc func(key BatchKey, reason string)

type barrier struct {
	expected int32
	done     atomic.Int32
	fired    atomic.Bool
	timer    *time.Timer
}

// Barriers tracks completion of every in-flight batch and hands each one off exactly once, either when
// all runs are terminal or when the ceiling elapses, whichever claims first.
type Barriers struct {
	mu      sync.Mutex
	items   map[BatchKey]*barrier
	ceiling time.Duration
	onFire  FireFunc
}

// NewBarriers creates a barrier registry. A non-positive ceiling disables the timeout fallback.
func NewBarriers(ceiling time.Duration, onFire FireFunc) *Barriers {
	return &Barriers{
		items:   make(map[BatchKey]*barrier),
		ceiling: ceiling,
		onFire:  onFire,
	}
}

// Arm registers a batch expecting the given number of terminal runs. Arming an already armed batch is a no-op.
func (b *Barriers) Arm(key BatchKey, expected int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.items[key]; exists {
		return
	}
	entry := &barrier{expected: int32(expected)}
	b.items[key] = entry

	if b.ceiling > 0 {
		entry.timer = time.AfterFunc(b.ceiling, func() {
			b.fire(key, entry, FireCeiling)
		})
	}
}

// Done records one terminal run and fires the barrier when the batch is complete.
// It returns true when this call performed the hand-off.
func (b *Barriers) Done(key BatchKey) bool {
	b.mu.Lock()
	entry, ok := b.items[key]
	b.mu.Unlock()
	if !ok {
		return false
	}

	if entry.done.Add(1) < entry.expected {
		return false
	}
	return b.fire(key, entry, FireComplete)
}

// Armed reports whether a batch is waiting for its hand-off.
func (b *Barriers) Armed(key BatchKey) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.items[key]
	return ok
}

// Pending reports how many batches are still armed.
func (b *Barriers) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

func (b *Barriers) fire(key BatchKey, entry *barrier, reason string) bool {
	if !entry.fired.CompareAndSwap(false, true) {
		return false
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}

	b.mu.Lock()
	if current, ok := b.items[key]; ok && current == entry {
		delete(b.items, key)
	}
	b.mu.Unlock()

	if b.onFire != nil {
		b.onFire(key, reason)
	}
	return true
}
