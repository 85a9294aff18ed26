package evaluation

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fireRecorder struct {
	mu      sync.Mutex
	reasons map[BatchKey][]string
}

func newFireRecorder() *fireRecorder {
	return &fireRecorder{reasons: make(map[BatchKey][]string)}
}

func (r *fireRecorder) record(key BatchKey, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons[key] = append(r.reasons[key], reason)
}

func (r *fireRecorder) get(key BatchKey) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.reasons[key]...)
}

func TestBarrierFiresOnceWhenAllRunsComplete(t *testing.T) {
	recorder := newFireRecorder()
	barriers := NewBarriers(time.Minute, recorder.record)
	key := BatchKey{DraftID: 7, Batch: 1}
	barriers.Arm(key, 5)

	var wg sync.WaitGroup
	var handoffs atomic.Int32
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if barriers.Done(key) {
				handoffs.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), handoffs.Load())
	require.Equal(t, []string{FireComplete}, recorder.get(key))
	require.Zero(t, barriers.Pending())

	// late completions after the hand-off are ignored
	require.False(t, barriers.Done(key))
	require.Len(t, recorder.get(key), 1)
}

func TestBarrierCeilingFiresWithPartialCompletion(t *testing.T) {
	recorder := newFireRecorder()
	barriers := NewBarriers(30*time.Millisecond, recorder.record)
	key := BatchKey{DraftID: 3, Batch: 1}
	barriers.Arm(key, 3)

	require.False(t, barriers.Done(key))

	require.Eventually(t, func() bool {
		return len(recorder.get(key)) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{FireCeiling}, recorder.get(key))

	require.False(t, barriers.Done(key))
	require.False(t, barriers.Done(key))
	require.Len(t, recorder.get(key), 1)
}

func TestBarrierCeilingRacingCompletionFiresOnce(t *testing.T) {
	for attempt := 0; attempt < 50; attempt++ {
		recorder := newFireRecorder()
		barriers := NewBarriers(time.Millisecond, recorder.record)
		key := BatchKey{DraftID: uint(attempt + 1), Batch: 1}
		barriers.Arm(key, 2)

		var wg sync.WaitGroup
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				time.Sleep(time.Millisecond)
				barriers.Done(key)
			}()
		}
		wg.Wait()

		require.Eventually(t, func() bool {
			return len(recorder.get(key)) == 1
		}, time.Second, time.Millisecond)
		time.Sleep(5 * time.Millisecond)
		require.Len(t, recorder.get(key), 1)
	}
}

func TestBarrierArmIsIdempotentAndBatchesAreIndependent(t *testing.T) {
	recorder := newFireRecorder()
	barriers := NewBarriers(0, recorder.record)
	first := BatchKey{DraftID: 1, Batch: 1}
	retry := BatchKey{DraftID: 1, Batch: 2}

	barriers.Arm(first, 1)
	barriers.Arm(first, 5)
	barriers.Arm(retry, 2)
	require.Equal(t, 2, barriers.Pending())

	require.True(t, barriers.Done(first))
	require.False(t, barriers.Done(retry))
	require.True(t, barriers.Done(retry))

	require.Equal(t, []string{FireComplete}, recorder.get(first))
	require.Equal(t, []string{FireComplete}, recorder.get(retry))
}

func TestBarrierDoneWithoutArmIsIgnored(t *testing.T) {
	recorder := newFireRecorder()
	barriers := NewBarriers(0, recorder.record)
	require.False(t, barriers.Done(BatchKey{DraftID: 99, Batch: 1}))
	require.Empty(t, recorder.get(BatchKey{DraftID: 99, Batch: 1}))
}
