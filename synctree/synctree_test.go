package synctree

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/go-foundations/partr/task"
)

type SyncTreeTestSuite struct {
	suite.Suite
}

func TestSyncTreeTestSuite(t *testing.T) {
	suite.Run(t, new(SyncTreeTestSuite))
}

func (ts *SyncTreeTestSuite) TestLastArriverTrueExactlyOnce() {
	pool := NewArrivalPool()
	a := pool.Alloc(4)

	var lasts int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(leaf int) {
			defer wg.Done()
			if a.LastArriver(leaf) {
				mu.Lock()
				lasts++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	ts.Equal(1, lasts)
}

func (ts *SyncTreeTestSuite) TestLastArriverWalksUpThroughUnevenFamily() {
	// n=3 has no power-of-two shape: leaf 0 is a direct child of the
	// root, while leaves 1 and 2 share an internal node one level down.
	// Whichever of 1/2 completes that node must also continue up and
	// complete the root together with leaf 0, in either arrival order.
	pool := NewArrivalPool()
	a := pool.Alloc(3)

	ts.False(a.LastArriver(0))
	ts.False(a.LastArriver(1))
	ts.True(a.LastArriver(2))
}

func (ts *SyncTreeTestSuite) TestArrivalPoolReusesFreedInstance() {
	pool := NewArrivalPool()
	a := pool.Alloc(3)
	a.LastArriver(0)
	pool.Free(a)

	b := pool.Alloc(3)
	ts.Same(a, b)
	// Reused instance must start with clean counters.
	ts.False(b.LastArriver(0))
	ts.False(b.LastArriver(1))
	ts.True(b.LastArriver(2))
}

func (ts *SyncTreeTestSuite) TestArrivalPoolExhaustionReturnsNil() {
	pool := &ArrivalPool{arena: make([]arrivalSlot, 1)}
	pool.arena[0].next.Store(freelistEmpty)
	pool.head.Store(0)

	a := pool.Alloc(2)
	ts.NotNil(a)
	ts.Nil(pool.Alloc(2))
}

func (ts *SyncTreeTestSuite) TestReductionStoreAndFoldWithCombiner() {
	pool := NewReductionPool()
	r := pool.Alloc(3)
	r.Store(0, 1)
	r.Store(1, 2)
	r.Store(2, 3)

	sum := task.Reducer{Combine: func(a, b any) (any, error) {
		return a.(int) + b.(int), nil
	}}
	result := r.Fold(sum)
	ts.Equal(6, result)
}

func (ts *SyncTreeTestSuite) TestFoldOfSingleGrainNeedsNoCombiner() {
	pool := NewReductionPool()
	r := pool.Alloc(1)
	r.Store(0, "solo")

	result := r.Fold(task.Reducer{})
	ts.Equal("solo", result)
}

func (ts *SyncTreeTestSuite) TestFoldPropagatesCombineErrorAsValue() {
	pool := NewReductionPool()
	r := pool.Alloc(2)
	r.Store(0, 1)
	r.Store(1, 2)

	boom := errors.New("combine failed")
	failing := task.Reducer{Combine: func(a, b any) (any, error) {
		return nil, boom
	}}
	result := r.Fold(failing)
	err, ok := result.(error)
	ts.True(ok, "folded result must carry the propagated error as a value")
	ts.ErrorIs(err, boom)
}

func (ts *SyncTreeTestSuite) TestReductionPoolResetsOnReuse() {
	pool := NewReductionPool()
	r := pool.Alloc(2)
	r.Store(0, "stale")
	r.Store(1, "stale")
	pool.Free(r)

	reused := pool.Alloc(2)
	ts.Same(r, reused)
	reused.Store(0, "fresh")
	ts.Nil(reused.leaves[1].Load())
}
