// Package runtime is the scheduler loop: W worker goroutines, each
// repeatedly asking its sticky queue then the shared multi-queue for
// the next runnable task, running it cooperatively to its next
// suspension point, and falling back to the host event loop when
// there is nothing to run.
package runtime

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-foundations/partr/internal/host"
	"github.com/go-foundations/partr/multiqueue"
	"github.com/go-foundations/partr/stickyqueue"
	"github.com/go-foundations/partr/synctree"
	"github.com/go-foundations/partr/task"
)

// Sentinel errors of the public API (runtime and partr package alike).
// ErrShutdown, ErrInterrupted, ErrSyncNonParentGrain and
// ErrNotRunningInTask are declared but no operation returns them; the
// spawn paths return ErrHeapFull.
var (
	ErrShutdown         = errors.New("partr: scheduler is shutting down")
	ErrInterrupted      = errors.New("partr: wait interrupted")
	ErrSyncNonParentGrain = errors.New("partr: sync called on a grain that is not the reducing family's parent")
	ErrNotRunningInTask = errors.New("partr: operation requires a caller running inside a scheduled task")

	// ErrHeapFull is returned by Spawn/SpawnMulti when the multi-queue's
	// randomly sampled heap has no room left for another task.
	ErrHeapFull = multiqueue.ErrHeapFull
	// ErrQueueFull is an alias of ErrHeapFull, matching the original
	// scheduler's task_spawn queue-full failure naming.
	ErrQueueFull = ErrHeapFull
)

// maxEnqueueRetries bounds how many times an internal task resume
// (one with no caller left to report a spawn failure to) retries a
// fresh random heap before treating multi-queue exhaustion as a fatal
// invariant violation.
const maxEnqueueRetries = 8

// Config tunes scheduler construction. Zero value is not usable;
// always go through DefaultConfig.
type Config struct {
	NumThreads int
	Seed       int64
	Logger     host.Logger
	EventLoop  host.EventLoop
	IdleBackoff time.Duration
}

// DefaultConfig returns sane defaults: one worker per logical config
// caller supplies explicitly (no runtime.GOMAXPROCS probing here, to
// keep this package import-light and the worker count fully
// caller-controlled as the spec requires).
func DefaultConfig(numThreads int) Config {
	return Config{
		NumThreads:  numThreads,
		Seed:        1,
		Logger:      host.NopLogger{},
		EventLoop:   host.NopEventLoop{},
		IdleBackoff: 200 * time.Microsecond,
	}
}

// Scheduler owns every worker, the shared multi-queue, the sticky
// queues, and the arrival/reduction tree pools used to fan grain
// families back in.
type Scheduler struct {
	cfg Config

	mq      *multiqueue.MultiQueue
	sticky  *stickyqueue.Pool
	arrPool *synctree.ArrivalPool
	redPool *synctree.ReductionPool
	rngs    []*rand.Rand
	rngMu   []sync.Mutex

	currentEpoch atomic.Uint64

	runnable chan struct{} // broadcast-ish: closed+replaced each time a task is enqueued, to wake idle workers
	runnableMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	root *task.Task
}

// New constructs a Scheduler with Config.NumThreads workers; call
// Start to begin running them.
func New(cfg Config) *Scheduler {
	if cfg.NumThreads <= 0 {
		cfg.NumThreads = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = host.NopLogger{}
	}
	if cfg.EventLoop == nil {
		cfg.EventLoop = host.NopEventLoop{}
	}
	s := &Scheduler{
		cfg:     cfg,
		mq:      multiqueue.New(cfg.NumThreads),
		sticky:  stickyqueue.New(cfg.NumThreads),
		arrPool: synctree.NewArrivalPool(),
		redPool: synctree.NewReductionPool(),
		rngs:    host.NewRNGs(cfg.NumThreads, cfg.Seed),
		rngMu:   make([]sync.Mutex, cfg.NumThreads),
	}
	s.runnable = make(chan struct{})
	root := task.New(nil, nil, nil, 0)
	root.MarkStarted()
	root.Finish(nil)
	root.Close()
	s.root = root
	return s
}

// Root returns the bootstrap task, the implicit parent of any task
// spawned from outside the scheduler (e.g. from the host program's
// own main goroutine rather than from within a running task).
func (s *Scheduler) Root() *task.Task { return s.root }

// Start launches the worker goroutines; safe to call once.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	for tid := 0; tid < s.cfg.NumThreads; tid++ {
		s.wg.Add(1)
		go s.workerLoop(int32(tid))
	}
}

// Shutdown cancels every worker's context and waits for them to drain
// their current turn. It does not drop queued tasks; it simply stops
// picking up new ones, matching a cooperative scheduler's inability to
// preempt a running task mid-turn.
func (s *Scheduler) Shutdown() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wakeAll()
	s.wg.Wait()
}

// NumThreads reports the worker count this scheduler was built with.
func (s *Scheduler) NumThreads() int { return s.cfg.NumThreads }

// CurrentEpoch exposes the world-age-like generation counter bumped on
// every task resolution; tasks spawned under a given epoch never see
// method/global state resolved under a later one. This is a
// lightweight stand-in for the original's world-age invariant, not a
// full implementation of it.
func (s *Scheduler) CurrentEpoch() uint64 { return s.currentEpoch.Load() }
func (s *Scheduler) bumpEpoch() uint64    { return s.currentEpoch.Add(1) }

// rngIndex maps a (possibly external, -1) caller tid onto a valid rngs
// slot.
func (s *Scheduler) rngIndex(tid int32) int {
	if tid < 0 {
		tid = 0
	}
	return int(tid) % len(s.rngs)
}

// math/rand.Rand is not safe for concurrent use, and a biased tid can
// be shared by more than one caller at once (e.g. two grain
// completions both resuming worker-tid-biased waiters), so every
// access to a slot's RNG goes through one of these two helpers.
func (s *Scheduler) rngInsert(t *task.Task, tid int32) error {
	i := s.rngIndex(tid)
	s.rngMu[i].Lock()
	defer s.rngMu[i].Unlock()
	return s.mq.Insert(t, s.rngs[i])
}

func (s *Scheduler) rngDeleteMin(tid int32) *task.Task {
	i := s.rngIndex(tid)
	s.rngMu[i].Lock()
	defer s.rngMu[i].Unlock()
	return s.mq.DeleteMin(s.rngs[i])
}

// wakeAll nudges every idle worker to re-check its queues, by
// replacing the shared runnable channel (closing the old one wakes
// every receiver currently parked on it).
func (s *Scheduler) wakeAll() {
	s.runnableMu.Lock()
	old := s.runnable
	s.runnable = make(chan struct{})
	s.runnableMu.Unlock()
	close(old)
}

func (s *Scheduler) waitSignal() <-chan struct{} {
	s.runnableMu.Lock()
	defer s.runnableMu.Unlock()
	return s.runnable
}

// enqueue places t on the sticky queue bound to it, or the shared
// multi-queue otherwise, then wakes idle workers. tid is the enqueuing
// caller's worker id (or -1 for an external caller). It selects which
// per-worker RNG draws the (uniform) heap index, and an unbound sticky
// task is bound to it (an external caller's sticky task to a worker
// derived from the epoch counter), so a sticky task never passes
// through the multi-queue.
func (s *Scheduler) enqueue(t *task.Task, tid int32) error {
	if t.IsSticky() {
		bound := t.StickyTid()
		if bound < 0 {
			bound = tid
			if bound < 0 {
				bound = int32(int(s.currentEpoch.Load()) % s.cfg.NumThreads)
			}
			t.BindSticky(bound)
			bound = t.StickyTid()
		}
		s.sticky.For(bound).Push(t)
		s.wakeAll()
		return nil
	}
	if err := s.rngInsert(t, tid); err != nil {
		return err
	}
	s.wakeAll()
	return nil
}

// enqueueOrAbort retries enqueue against fresh random heaps for an
// internal task resume — one with no caller left to hand a spawn
// failure back to (Yield's self-requeue, a completion waiter being
// woken). Exhausting every retry means the multi-queue's entire fixed
// capacity is full, which this scheduler treats as an invariant
// violation rather than a recoverable condition.
func (s *Scheduler) enqueueOrAbort(t *task.Task, tid int32) {
	var err error
	for attempt := 0; attempt < maxEnqueueRetries; attempt++ {
		if err = s.enqueue(t, tid); err == nil {
			return
		}
	}
	host.Abort("partr: multi-queue exhausted resuming an in-flight task: " + err.Error())
}

// workerLoop is one worker's entire life: pull, run a turn, repeat,
// until the scheduler's context is cancelled.
func (s *Scheduler) workerLoop(tid int32) {
	defer s.wg.Done()
	for {
		if s.ctx.Err() != nil {
			return
		}
		t := s.next(tid)
		if t == nil {
			s.idle(tid)
			continue
		}
		s.runTurn(tid, t)
	}
}

// next looks at this worker's sticky queue first (sticky tasks never
// migrate, so they take priority over the shared pool), then the
// shared multi-queue.
func (s *Scheduler) next(tid int32) *task.Task {
	if t := s.sticky.For(tid).Pop(); t != nil {
		return t
	}
	return s.rngDeleteMin(tid)
}

// idle waits for either new work to arrive or the scheduler to stop,
// handing control to the host event loop in the meantime so an
// embedder can pump its own I/O instead of this worker busy-spinning.
func (s *Scheduler) idle(tid int32) {
	sig := s.waitSignal()
	select {
	case <-sig:
		return
	case <-s.ctx.Done():
		return
	default:
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.IdleBackoff)
	defer cancel()
	s.cfg.EventLoop.RunOnce(ctx)
}

// runTurn drives t through exactly one turn: start its goroutine if
// this is its first dispatch, or resume it if it previously yielded,
// then block until it either suspends again or finishes.
func (s *Scheduler) runTurn(tid int32, t *task.Task) {
	t.SetCurrentTid(tid)
	if !t.Started() {
		t.MarkStarted()
		s.spawnGoroutine(tid, t)
	} else {
		t.SignalResume()
	}
	<-t.WaitTurnDone()
	t.SetCurrentTid(-1)
}

// spawnGoroutine starts the goroutine backing t's cooperative
// execution. The goroutine runs until t's Callable either returns or
// calls into a suspension point (Yield/Sync/Wait), at which point it
// parks on resume and signals turnDone back to the driving worker.
func (s *Scheduler) spawnGoroutine(tid int32, t *task.Task) {
	go func() {
		result, err := host.ProtectedCall(func() (any, error) {
			return t.Callable()(s.ctx, t, t.Args())
		})
		t.SetResult(result)
		s.finishTask(t, err)
		t.SignalTurnDone()
	}()
}

// finishTask runs the completion path common to every task: set
// terminal state, fold into the grain reduction if t is a grain, then
// drain and requeue waiters. Mirrors task_wrapper's tail in the
// original: state is finalized, grains are synced, and only then are
// completion-queue waiters released.
func (s *Scheduler) finishTask(t *task.Task, err error) {
	t.Finish(err)
	if err != nil {
		s.cfg.Logger.Warning().Str(`task`, t.ID.String()).Err(err).Log(`task failed`)
	} else {
		s.cfg.Logger.Debug().Str(`task`, t.ID.String()).Log(`task finished`)
	}
	if t.IsGrain() {
		s.syncGrain(t)
	}
	t.Close()
	for _, waiter := range t.CQDrainAll() {
		s.resumeWaiter(waiter)
	}
}

// resumeWaiter re-enqueues a task that was parked waiting on another
// task's completion or a condition notification.
func (s *Scheduler) resumeWaiter(waiter *task.Task) {
	s.enqueueOrAbort(waiter, waiter.CurrentTid())
}

// syncGrain records a finishing grain's result and, if this grain is
// the last of its family to arrive, folds every grain's result into
// the family's final value and completes the family's synthetic
// parent task through the same path an ordinary task completes
// through — so Sync/Handle.Sync on that parent need no special case.
// Mirrors sync_grains/last_arriver/reduce in the original scheduler's
// binary arrival/reduction tree walk.
func (s *Scheduler) syncGrain(t *task.Task) {
	arr, _ := t.Arrival().(*synctree.Arrival)
	red, _ := t.Reduction().(*synctree.Reduction)
	if arr == nil {
		return
	}
	if red != nil {
		red.Store(t.GrainNum(), t.Result())
	}
	if !arr.LastArriver(t.GrainNum()) {
		return
	}

	parent := t.Parent()
	result := t.Result()
	var err error
	if red != nil {
		folded := red.Fold(t.ReducerFn())
		if foldErr, ok := folded.(error); ok {
			err = foldErr
		} else {
			result = folded
		}
		s.redPool.Free(red)
	}
	s.arrPool.Free(arr)
	if parent == nil {
		return
	}
	parent.SetResult(result)
	parent.Finish(err)
	parent.Close()
	for _, waiter := range parent.CQDrainAll() {
		s.resumeWaiter(waiter)
	}
}

