// Package stickyqueue implements the per-worker sticky task queues: a
// plain FIFO, one per worker, that bypasses the multi-queue entirely
// once a sticky task has bound to a thread, so it can never migrate.
package stickyqueue

import (
	"sync"

	"github.com/go-foundations/partr/task"
)

// Queue is a single worker's sticky FIFO.
type Queue struct {
	mu   sync.Mutex
	head *task.Task
	tail *task.Task
	n    int
}

// Push appends t to the tail.
func (q *Queue) Push(t *task.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t.Next = nil
	if q.tail == nil {
		q.head, q.tail = t, t
	} else {
		q.tail.Next = t
		q.tail = t
	}
	q.n++
}

// Pop removes and returns the head, or nil if empty.
func (q *Queue) Pop() *task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head == nil {
		return nil
	}
	t := q.head
	q.head = t.Next
	if q.head == nil {
		q.tail = nil
	}
	t.Next = nil
	q.n--
	return t
}

// Len reports the current occupancy.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// Pool is the fixed set of per-worker sticky queues, indexed by tid.
type Pool struct {
	queues []*Queue
}

// New allocates a sticky Queue for each of nthreads workers.
func New(nthreads int) *Pool {
	p := &Pool{queues: make([]*Queue, nthreads)}
	for i := range p.queues {
		p.queues[i] = &Queue{}
	}
	return p
}

// For returns the sticky queue bound to worker tid.
func (p *Pool) For(tid int32) *Queue { return p.queues[tid] }

// NumThreads reports the worker count this pool was sized for.
func (p *Pool) NumThreads() int { return len(p.queues) }
