// Package synctree implements the arrival/reduction trees used to fan
// a grain family back in: each grain "arrives" once it finishes its
// own slice of work, climbing a pre-allocated binary counting tree
// from its leaf to the root with a fetch-add at every level; whichever
// grain's fetch-add closes out the root is reported the last arriver,
// and becomes responsible for folding every grain's result into the
// family's final value. Arrival and Reduction instances are drawn from
// fixed-size arenas with a lock-free CAS freelist, so a spawn-heavy
// workload doesn't pay an allocation (or a lock) per grain family.
package synctree

import (
	"sync/atomic"

	"github.com/go-foundations/partr/internal/host"
	"github.com/go-foundations/partr/task"
)

// Arrival is the pre-allocated arrival-counting tree for one grain
// family of n grains. It is laid out as the standard iterative
// segment-tree array: leaves are positions [n, 2n), internal nodes are
// [1, n); counters is sized n and only indices [1, n) are ever
// touched (index 0 is unused padding). A grain arriving at leaf
// position n+leafIdx fetch-adds every ancestor counter on its way to
// the root, stopping as soon as an ancestor's count is still short of
// 2 — the sibling that brings a node's count to 2 is the one that
// continues upward, so exactly one grain's walk ever reaches the root.
// Mirrors the ArrivalTree's fetch_add-up-the-tree discipline in the
// original scheduler.
type Arrival struct {
	idx      int32
	n        int
	counters []atomic.Int32
}

// LastArriver reports whether the calling grain, arriving at leaf
// leafIdx, was the one whose fetch-add closed out every ancestor
// counter up to the root. Exactly one caller per family ever sees
// true; the rest see false as soon as they hit a counter still short
// of 2.
func (a *Arrival) LastArriver(leafIdx int) bool {
	pos := a.n + leafIdx
	for pos > 1 {
		parent := pos / 2
		if a.counters[parent].Add(1) < 2 {
			return false
		}
		pos = parent
	}
	return true
}

func (a *Arrival) resize(n int) {
	a.n = n
	if cap(a.counters) < n {
		a.counters = make([]atomic.Int32, n)
		return
	}
	a.counters = a.counters[:n]
	for i := range a.counters {
		a.counters[i].Store(0)
	}
}

// Reduction is the matching value-combination tree: each grain stores
// its own raw result at its leaf via Store; the confirmed last
// arriver then calls Fold exactly once, combining every leaf bottom-up
// in a single, unlocked pass. This is race-free despite looking
// unsynchronized: the last arriver's own chain of fetch-adds up to the
// root (a chain every sibling also touched) establishes a
// happens-before relationship under Go's memory model, making every
// other grain's preceding Store visible by the time Fold runs.
//
// Leaves and internal nodes hold atomic.Pointer[any] rather than the
// original's atomic.Value: Value panics if Store is ever given a
// different concrete type than a previous Store on the same instance,
// and a pooled slot sees arbitrary grain result types across reuse —
// atomic.Pointer[any] stores a consistently-typed *any regardless of
// what it points to, sidestepping that panic entirely.
type Reduction struct {
	idx    int32
	n      int
	leaves []atomic.Pointer[any]
	nodes  []atomic.Pointer[any]
}

// Store records grain leafIdx's own result in its family slot.
func (r *Reduction) Store(leafIdx int, v any) {
	r.leaves[leafIdx].Store(&v)
}

func (r *Reduction) valueAt(pos int) any {
	if pos >= r.n {
		if p := r.leaves[pos-r.n].Load(); p != nil {
			return *p
		}
		return nil
	}
	if p := r.nodes[pos].Load(); p != nil {
		return *p
	}
	return nil
}

// Fold combines every stored leaf into the family's single folded
// value, called once by the family's last arriver. A reducer error (or
// a reducer panic, recovered into an error) is substituted as the node's folded value and folding continues to the
// root rather than aborting — the caller detects failure by type-
// asserting the returned value against error once folding completes.
// Mirrors reduce() in the original scheduler's per-level tree walk,
// done here as one bottom-up pass since Fold only ever runs on a
// single goroutine.
func (r *Reduction) Fold(combine task.Reducer) any {
	for i := r.n - 1; i >= 1; i-- {
		v := combineOrRaw(combine, r.valueAt(2*i), r.valueAt(2*i+1))
		r.nodes[i].Store(&v)
	}
	return r.valueAt(1)
}

func combineOrRaw(combine task.Reducer, a, b any) any {
	if combine.Combine == nil {
		return a
	}
	v, err := host.ProtectedCall(func() (any, error) { return combine.Combine(a, b) })
	if err != nil {
		return err
	}
	return v
}

func (r *Reduction) resize(n int) {
	r.n = n
	if cap(r.leaves) < n {
		r.leaves = make([]atomic.Pointer[any], n)
	} else {
		r.leaves = r.leaves[:n]
		for i := range r.leaves {
			r.leaves[i].Store(nil)
		}
	}
	if cap(r.nodes) < n {
		r.nodes = make([]atomic.Pointer[any], n)
	} else {
		r.nodes = r.nodes[:n]
		for i := range r.nodes {
			r.nodes[i].Store(nil)
		}
	}
}

// poolCapacity is the fixed arena size for both pools: enough
// concurrently in-flight grain families for any realistic workload,
// while keeping slot indices comfortably within the spec's 16-bit
// arrival-index range (Go has no atomic.Int16, so indices are carried
// as atomic.Int32, but the value space they actually use still fits).
const poolCapacity = 1 << 14

const freelistEmpty = -1

// ArrivalPool is a fixed-size arena of Arrival trees with a lock-free
// CAS freelist, mirroring arriver_alloc/arriver_free's next_arriver
// discipline in the original scheduler.
type ArrivalPool struct {
	arena []arrivalSlot
	head  atomic.Int32
}

type arrivalSlot struct {
	next atomic.Int32
	a    Arrival
}

// NewArrivalPool builds a pool with the full fixed capacity free.
func NewArrivalPool() *ArrivalPool {
	p := &ArrivalPool{arena: make([]arrivalSlot, poolCapacity)}
	for i := range p.arena {
		p.arena[i].a.idx = int32(i)
		if i == len(p.arena)-1 {
			p.arena[i].next.Store(freelistEmpty)
		} else {
			p.arena[i].next.Store(int32(i + 1))
		}
	}
	p.head.Store(0)
	return p
}

// Alloc pops a free slot and sizes it for a family of n grains,
// returning nil if the arena is exhausted.
func (p *ArrivalPool) Alloc(n int) *Arrival {
	for {
		h := p.head.Load()
		if h == freelistEmpty {
			return nil
		}
		next := p.arena[h].next.Load()
		if p.head.CompareAndSwap(h, next) {
			slot := &p.arena[h].a
			slot.resize(n)
			return slot
		}
	}
}

// Free pushes a's slot back onto the freelist for reuse.
func (p *ArrivalPool) Free(a *Arrival) {
	idx := a.idx
	for {
		h := p.head.Load()
		p.arena[idx].next.Store(h)
		if p.head.CompareAndSwap(h, idx) {
			return
		}
	}
}

// ReductionPool mirrors ArrivalPool but for Reduction trees.
type ReductionPool struct {
	arena []reductionSlot
	head  atomic.Int32
}

type reductionSlot struct {
	next atomic.Int32
	r    Reduction
}

// NewReductionPool builds a pool with the full fixed capacity free.
func NewReductionPool() *ReductionPool {
	p := &ReductionPool{arena: make([]reductionSlot, poolCapacity)}
	for i := range p.arena {
		p.arena[i].r.idx = int32(i)
		if i == len(p.arena)-1 {
			p.arena[i].next.Store(freelistEmpty)
		} else {
			p.arena[i].next.Store(int32(i + 1))
		}
	}
	p.head.Store(0)
	return p
}

// Alloc pops a free slot and sizes it for a family of n grains,
// returning nil if the arena is exhausted.
func (p *ReductionPool) Alloc(n int) *Reduction {
	for {
		h := p.head.Load()
		if h == freelistEmpty {
			return nil
		}
		next := p.arena[h].next.Load()
		if p.head.CompareAndSwap(h, next) {
			slot := &p.arena[h].r
			slot.resize(n)
			return slot
		}
	}
}

// Free pushes r's slot back onto the freelist for reuse.
func (p *ReductionPool) Free(r *Reduction) {
	idx := r.idx
	for {
		h := p.head.Load()
		p.arena[idx].next.Store(h)
		if p.head.CompareAndSwap(h, idx) {
			return
		}
	}
}
