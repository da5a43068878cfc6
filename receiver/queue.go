// Package receiver is the rig side: it listens for feature datagrams and
// applies them to the control bones on a fixed tick.
package receiver

import (
	"sync"

	iface "FaceMocap/interface"
)

// Queue is a bounded FIFO between the listener and the consumer tick. When
// full, the oldest frame is dropped.
type Queue struct {
	mu      sync.Mutex
	buf     []iface.FeatureSet
	head    int
	size    int
	dropped uint64
}

func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{buf: make([]iface.FeatureSet, capacity)}
}

// Push appends fs and reports whether an older frame was evicted for it.
func (q *Queue) Push(fs iface.FeatureSet) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	dropped := false
	if q.size == len(q.buf) {
		q.buf[q.head] = nil
		q.head = (q.head + 1) % len(q.buf)
		q.size--
		q.dropped++
		dropped = true
	}
	q.buf[(q.head+q.size)%len(q.buf)] = fs
	q.size++
	return dropped
}

// Drain removes and returns every pending frame, oldest first.
func (q *Queue) Drain() []iface.FeatureSet {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		return nil
	}
	out := make([]iface.FeatureSet, q.size)
	for i := range out {
		idx := (q.head + i) % len(q.buf)
		out[i] = q.buf[idx]
		q.buf[idx] = nil
	}
	q.head, q.size = 0, 0
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Dropped is the number of frames evicted so far.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
