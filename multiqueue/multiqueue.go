// Package multiqueue implements the concurrent multi-queue used to
// hold runnable tasks: a fixed array of per-heap-locked d-ary heaps of
// fixed capacity. Insertion samples a single heap uniformly at random;
// delete-min samples two and takes whichever has the more favorable
// root, spreading contention across workers while keeping a strong
// approximate priority order.
package multiqueue

import (
	"errors"
	"math/rand"
	"sync/atomic"

	"github.com/go-foundations/partr/task"
)

const (
	heapDegree   = 8   // children per heap node
	heapChildren = 4   // contiguous child run used by the unrolled sift
	minHeaps     = 8
	tasksPerHeap = 129 // fixed per-heap capacity
)

// ErrHeapFull is returned by Insert when the randomly sampled heap has
// no room left for another task. Matches the original scheduler's
// task_spawn returning queue-full rather than growing a heap past its
// fixed size.
var ErrHeapFull = errors.New("multiqueue: heap is full")

// Heap is one d-ary heap, locked independently so two goroutines can
// operate on two different heaps of the same MultiQueue concurrently.
type Heap struct {
	lock chan struct{} // capacity 1: TryLock via non-blocking send, Unlock via receive

	tasks  []*task.Task
	ntasks int

	// prio is an advisory copy of the root's priority, readable without
	// the heap lock so two-choice delete-min sampling doesn't have to
	// acquire two heaps' locks just to compare them. It is republished
	// with a single CompareAndSwap attempt (no retry loop) every time
	// insert/deletemin changes the root, so a reader may occasionally
	// see a value one step stale under contention — acceptable for an
	// advisory hint, never consulted for correctness.
	prio atomic.Int32
}

func newHeap() *Heap {
	h := &Heap{
		lock:  make(chan struct{}, 1),
		tasks: make([]*task.Task, 0, tasksPerHeap),
	}
	h.prio.Store(int32(task.EmptyPrio))
	return h
}

// TryLock attempts to acquire the heap's lock without blocking.
func (h *Heap) TryLock() bool {
	select {
	case h.lock <- struct{}{}:
		return true
	default:
		return false
	}
}

// Unlock releases a lock acquired by TryLock.
func (h *Heap) Unlock() { <-h.lock }

// PeekPrio reads the heap's advisory root priority without acquiring
// its lock; task.EmptyPrio means "treat as empty".
func (h *Heap) PeekPrio() int16 { return int16(h.prio.Load()) }

// publishPrio republishes the advisory prio field from the real root,
// via a single CAS attempt. Must be called with the heap locked.
func (h *Heap) publishPrio() {
	want := int32(task.EmptyPrio)
	if h.ntasks > 0 {
		want = int32(h.tasks[0].Prio())
	}
	old := h.prio.Load()
	h.prio.CompareAndSwap(old, want)
}

func (h *Heap) prioAt(i int) int16 {
	if i >= h.ntasks {
		return task.EmptyPrio
	}
	return h.tasks[i].Prio()
}

// siftUp restores heap order after an insert at the tail.
func (h *Heap) siftUp(i int) {
	if i == 0 {
		return
	}
	parent := (i - 1) / heapDegree
	if h.prioAt(i) < h.prioAt(parent) {
		h.tasks[i], h.tasks[parent] = h.tasks[parent], h.tasks[i]
		h.siftUp(parent)
	}
}

// siftDown restores heap order after the root is removed/replaced.
func (h *Heap) siftDown(i int) {
	for {
		base := heapDegree*i + 1
		if base >= h.ntasks {
			return
		}
		// Scan the child run in two unrolled passes of heapChildren,
		// matching the original's cache-friendly access pattern.
		best := base
		for c := base; c < base+heapChildren && c < h.ntasks; c++ {
			if h.prioAt(c) < h.prioAt(best) {
				best = c
			}
		}
		for c := base + heapChildren; c < base+2*heapChildren && c < h.ntasks; c++ {
			if h.prioAt(c) < h.prioAt(best) {
				best = c
			}
		}
		if h.prioAt(best) >= h.prioAt(i) {
			return
		}
		h.tasks[i], h.tasks[best] = h.tasks[best], h.tasks[i]
		i = best
	}
}

// insert must be called with the heap locked. Reports false without
// modifying the heap if it is already at its fixed capacity.
func (h *Heap) insert(t *task.Task) bool {
	if h.ntasks >= tasksPerHeap {
		return false
	}
	if h.ntasks == len(h.tasks) {
		h.tasks = append(h.tasks, t)
	} else {
		h.tasks[h.ntasks] = t
	}
	h.ntasks++
	h.siftUp(h.ntasks - 1)
	h.publishPrio()
	return true
}

// deletemin must be called with the heap locked; returns nil if empty.
func (h *Heap) deletemin() *task.Task {
	if h.ntasks == 0 {
		return nil
	}
	t := h.tasks[0]
	h.ntasks--
	h.tasks[0] = h.tasks[h.ntasks]
	h.tasks[h.ntasks] = nil
	if h.ntasks > 0 {
		h.siftDown(0)
	}
	h.publishPrio()
	return t
}

// MultiQueue is a fixed-width array of independently locked, fixed-
// capacity Heaps, all pre-allocated at construction time.
type MultiQueue struct {
	heaps []*Heap
}

// New builds a MultiQueue sized for nthreads workers: heap count grows
// with worker count (minHeaps floor), matching the original's
// heap_p = 4 * nthreads, capped at 1<<16 for sanity.
func New(nthreads int) *MultiQueue {
	n := 4 * nthreads
	if n < minHeaps {
		n = minHeaps
	}
	const cap_ = 1 << 16
	if n > cap_ {
		n = cap_
	}
	heaps := make([]*Heap, n)
	for i := range heaps {
		heaps[i] = newHeap()
	}
	return &MultiQueue{heaps: heaps}
}

// Insert places t into a single, uniformly-sampled heap, matching
// multiq_insert's single-choice placement (two-choice sampling is a
// delete-min-only policy — see DeleteMin). Retries only on lock
// contention; if the chosen heap is already at capacity, releases it
// and reports ErrHeapFull rather than resampling a different heap.
func (mq *MultiQueue) Insert(t *task.Task, rng *rand.Rand) error {
	n := len(mq.heaps)
	for {
		target := mq.heaps[rng.Intn(n)]
		if !target.TryLock() {
			continue
		}
		ok := target.insert(t)
		target.Unlock()
		if !ok {
			return ErrHeapFull
		}
		return nil
	}
}

// DeleteMin samples two random heaps and pops from whichever has the
// more favorable root priority, matching multiq_deletemin. Returns nil
// when the queue is empty.
func (mq *MultiQueue) DeleteMin(rng *rand.Rand) *task.Task {
	n := len(mq.heaps)
	for attempts := 0; attempts < n*4+4; attempts++ {
		h1 := mq.heaps[rng.Intn(n)]
		h2 := mq.heaps[rng.Intn(n)]
		target := h1
		if h2.PeekPrio() < h1.PeekPrio() {
			target = h2
		}
		if target.PeekPrio() == task.EmptyPrio {
			continue
		}
		if !target.TryLock() {
			continue
		}
		t := target.deletemin()
		target.Unlock()
		if t != nil {
			return t
		}
	}
	return nil
}

// Len sums the occupancy of every heap; intended for diagnostics/
// metrics only, not the hot path.
func (mq *MultiQueue) Len() int {
	total := 0
	for _, h := range mq.heaps {
		if h.TryLock() {
			total += h.ntasks
			h.Unlock()
		}
	}
	return total
}
