package runtime

import (
	"context"

	"github.com/go-foundations/partr/internal/host"
	"github.com/go-foundations/partr/synctree"
	"github.com/go-foundations/partr/task"
)

// SpawnOpts carries the per-task settings Spawn/NewTask accept.
type SpawnOpts struct {
	Sticky   bool
	Detached bool
	Priority int16
}

// NewTask constructs (but does not enqueue) a task as a child of
// parent, under the scheduler's current epoch.
func (s *Scheduler) NewTask(parent *task.Task, fn task.Callable, args any, opts SpawnOpts) *task.Task {
	t := task.New(fn, args, parent, s.bumpEpoch())
	if opts.Sticky {
		t.SetSticky()
	}
	if opts.Detached {
		t.SetDetached()
	}
	t.SetPrio(opts.Priority)
	return t
}

// Spawn enqueues t; callerTid (-1 for an external/bootstrap caller)
// selects the per-worker RNG that picks the heap, and the worker an
// unbound sticky task is bound to. Returns ErrHeapFull if the
// randomly sampled heap was already at capacity.
func (s *Scheduler) Spawn(t *task.Task, callerTid int32) error {
	return s.enqueue(t, callerTid)
}

// NewMulti splits [0, n) into a family of grains, each wrapping fn
// with its own [start,end) slice of the range, sharing one
// arrival/reduction pair. parent receives the family's folded result
// (or, with a nil Reducer, the last grain's own result) and completes
// exactly like any other task once the family resolves — Sync/
// Handle.Sync on parent is how a caller waits for the family.
func (s *Scheduler) NewMulti(parent *task.Task, n int, fn func(ctx context.Context, self *task.Task, start, end int) (any, error), reducer task.Reducer) []*task.Task {
	var red *synctree.Reduction
	if reducer.Combine != nil {
		red = s.redPool.Alloc(n)
		if red == nil {
			host.Abort("partr: reduction pool exhausted allocating a grain family")
		}
	}
	arr := s.arrPool.Alloc(n)
	if arr == nil {
		host.Abort("partr: arrival pool exhausted allocating a grain family")
	}

	grains := make([]*task.Task, n)
	for i := 0; i < n; i++ {
		start, end := grainRange(i, n, n)
		callable := func(start, end int) task.Callable {
			return func(ctx context.Context, self *task.Task, args any) (any, error) {
				return fn(ctx, self, start, end)
			}
		}(start, end)
		g := task.New(callable, nil, parent, s.bumpEpoch())
		g.SetGrain(i, start, end, arr, red, reducer)
		grains[i] = g
	}
	return grains
}

// SpawnMulti enqueues every grain of a family built by NewMulti. It is
// best-effort: if a later grain fails to enqueue with ErrHeapFull,
// grains already enqueued before it are left running (they still
// arrive and fan in normally) — SpawnMulti reports the first failure
// rather than unwinding them.
func (s *Scheduler) SpawnMulti(grains []*task.Task, callerTid int32) error {
	for _, g := range grains {
		if err := s.enqueue(g, callerTid); err != nil {
			return err
		}
	}
	return nil
}

// grainRange splits [0,total) into nGrains contiguous, near-equal
// slices; grain i gets the i-th slice.
func grainRange(i, nGrains, total int) (int, int) {
	base := total / nGrains
	rem := total % nGrains
	start := i*base + minInt(i, rem)
	end := start + base
	if i < rem {
		end++
	}
	return start, end
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// SyncInTask is the cooperative counterpart of Sync: self registers on
// target's completion queue and yields the worker (suspending its
// goroutine and signaling turnDone) rather than blocking it, resuming
// only once the scheduler requeues it after target finishes. Mirrors
// jl_task_sync parking on a non-reentrant task's cq in the original.
// This serves both a plain task and a grain family's synthetic parent
// task identically, since both complete through the same path.
func (s *Scheduler) SyncInTask(self, target *task.Task) (any, error) {
	if target.CQAppendIfPending(self) {
		self.SignalTurnDone()
		<-self.WaitResume()
	}
	return target.SyncResult()
}

// YieldInTask suspends self for one scheduling round, re-enqueuing it
// (unless sticky, in which case it just goes back on its own sticky
// queue) so some other runnable task gets a turn first.
func (s *Scheduler) YieldInTask(self *task.Task) {
	s.enqueueOrAbort(self, self.CurrentTid())
	self.SignalTurnDone()
	<-self.WaitResume()
}

// WaitInTask parks self on c, yielding the worker, until c is
// notified.
func (s *Scheduler) WaitInTask(self *task.Task, c *task.Condition) {
	if !c.AppendIfNotNotified(self) {
		return
	}
	self.SignalTurnDone()
	<-self.WaitResume()
}

// Notify releases every task parked on c. A task parked via WaitInTask
// is re-enqueued to run again; an external Wait caller's throwaway
// task (see the partr package) runs once, just to close its channel.
func (s *Scheduler) Notify(c *task.Condition) {
	waiters := c.LatchAndDrain()
	s.cfg.Logger.Debug().Int(`waiters`, len(waiters)).Log(`condition notified`)
	for _, waiter := range waiters {
		s.resumeWaiter(waiter)
	}
}
