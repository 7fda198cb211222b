package minerid

import (
	"sync"

	"github.com/tos-network/tos-headerwatch/internal/domain"
)

// Queue is an unbounded single-consumer, multi-producer queue of block
// hashes awaiting miner identification. The stdlib has no unbounded channel
// primitive; a sync.Cond-guarded growable slice is the idiomatic
// replacement — Push never blocks a producer, matching the "unbounded MPSC,
// single consumer" requirement of the miner-ID pipeline.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []domain.Hash
	closed bool
}

// NewQueue returns an empty Queue.
func NewQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues a hash. Never blocks.
func (q *Queue) Push(h domain.Hash) {
	q.mu.Lock()
	q.buf = append(q.buf, h)
	q.mu.Unlock()
	q.cond.Signal()
}

// PopBatch blocks until at least one hash is queued, then drains up to
// maxBatch of them. Returns nil only after Close, once the queue is empty.
func (q *Queue) PopBatch(maxBatch int) []domain.Hash {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.buf) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.buf) == 0 {
		return nil
	}
	n := len(q.buf)
	if n > maxBatch {
		n = maxBatch
	}
	batch := append([]domain.Hash(nil), q.buf[:n]...)
	q.buf = q.buf[n:]
	return batch
}

// Close unblocks any pending PopBatch call, used only in tests — production
// miner-ID workers run for the life of the process.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Len reports the number of hashes currently buffered.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}
