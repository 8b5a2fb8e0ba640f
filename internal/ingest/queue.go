package ingest

import (
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/coldwatch-core/internal/telemetry"
)

// item is one queued submission: either an audio chunk or a reading.
type item struct {
	deviceID string
	priority Priority
	enqueued time.Time

	audio      []byte
	sampleRate int

	reading telemetry.Reading
	isAudio bool
}

// queue is a bounded multi-tier FIFO. pop skips items whose device is
// already being processed, which keeps per-device order with several
// workers.
type queue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	tiers    [len(tierOrder)][]*item
	size     int
	capacity int
	inflight map[string]struct{}
	closed   bool
}

func newQueue(capacity int) *queue {
	q := &queue{
		capacity: capacity,
		inflight: make(map[string]struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push enqueues without blocking.
func (q *queue) push(it *item) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrStopped
	}
	if q.size >= q.capacity {
		return fmt.Errorf("%w: queue full (%d)", telemetry.ErrBackpressure, q.capacity)
	}

	t := it.priority.tier()
	q.tiers[t] = append(q.tiers[t], it)
	q.size++
	q.cond.Broadcast()
	return nil
}

// pop blocks until an item is available or the queue is closed and empty.
// The returned item's device is marked in flight until done is called.
func (q *queue) pop() (*item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if it := q.take(); it != nil {
			q.inflight[it.deviceID] = struct{}{}
			return it, true
		}
		if q.closed && q.size == 0 {
			return nil, false
		}
		q.cond.Wait()
	}
}

// take removes the oldest item of the highest tier whose device is free.
// Caller holds mu.
func (q *queue) take() *item {
	for t := range q.tiers {
		for i, it := range q.tiers[t] {
			if _, busy := q.inflight[it.deviceID]; busy {
				continue
			}
			q.tiers[t] = append(q.tiers[t][:i], q.tiers[t][i+1:]...)
			q.size--
			return it
		}
	}
	return nil
}

// done releases a device taken by pop.
func (q *queue) done(deviceID string) {
	q.mu.Lock()
	delete(q.inflight, deviceID)
	q.mu.Unlock()
	q.cond.Broadcast()
}

// close stops accepting items. Queued items are still handed out.
func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// discard drops everything still queued and returns how many items that was.
func (q *queue) discard() int {
	q.mu.Lock()
	n := q.size
	for t := range q.tiers {
		q.tiers[t] = nil
	}
	q.size = 0
	q.mu.Unlock()
	q.cond.Broadcast()
	return n
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}
