// Package partr is a cooperative, multi-queue parallel task runtime:
// a fixed pool of worker goroutines pull tasks from a shared
// two-choice multi-queue (falling back to per-worker sticky queues
// for pinned tasks), run each task to its next suspension point, and
// fan data-parallel "grain" families back together through an
// arrival/reduction counter pair.
//
// Two call surfaces are exposed deliberately. Scheduler methods
// (Spawn, SpawnMulti, Sync, Wait) are for callers outside any task —
// typically the program's own main goroutine bootstrapping work —
// and Sync and Wait block with an ordinary channel receive, since such a caller
// holds no worker slot to give back. Handle methods (the same names,
// on the per-task handle passed into every Callable) are for callers
// running inside a task, and cooperatively yield the worker instead
// of blocking it.
package partr

import (
	"context"
	"time"

	"github.com/go-foundations/partr/internal/host"
	"github.com/go-foundations/partr/runtime"
	"github.com/go-foundations/partr/task"
)

// Re-exported types callers need without reaching into subpackages.
type (
	Task      = task.Task
	Condition = task.Condition
	Reducer   = task.Reducer
)

// Sentinel errors, re-exported from runtime for callers that only
// import the root package.
var (
	ErrShutdown           = runtime.ErrShutdown
	ErrInterrupted        = runtime.ErrInterrupted
	ErrSyncNonParentGrain = runtime.ErrSyncNonParentGrain
	ErrNotRunningInTask   = runtime.ErrNotRunningInTask
	ErrHeapFull           = runtime.ErrHeapFull
	ErrQueueFull          = runtime.ErrQueueFull
)

// Callable is the body of a task, given the Handle through which it
// reaches every suspension point (Spawn/Sync/Yield/Wait/Notify).
type Callable func(h *Handle, args any) (any, error)

// GrainFn is the body of one grain of a data-parallel family: it
// receives the [start, end) slice of the overall range assigned to it.
type GrainFn func(h *Handle, start, end int) (any, error)

// Config tunes a Scheduler at construction time.
type Config struct {
	// NumThreads is the fixed worker count; must be >= 1.
	NumThreads int
	// Seed makes two-choice multi-queue sampling reproducible across runs.
	Seed int64
	// Logger receives structured scheduler diagnostics; defaults to a
	// no-op logger when nil.
	Logger host.Logger
	// EventLoop is handed control by an idle worker instead of busy
	// waiting; defaults to blocking on context cancellation alone.
	EventLoop host.EventLoop
	// IdleBackoff bounds how long an idle worker waits before
	// re-checking its queues even without an explicit wakeup.
	IdleBackoff time.Duration
}

// DefaultConfig returns a Config for numThreads workers with no
// logging or external event loop wired in.
func DefaultConfig(numThreads int) Config {
	rc := runtime.DefaultConfig(numThreads)
	return Config{
		NumThreads:  rc.NumThreads,
		Seed:        rc.Seed,
		Logger:      rc.Logger,
		EventLoop:   rc.EventLoop,
		IdleBackoff: rc.IdleBackoff,
	}
}

func (c Config) toRuntime() runtime.Config {
	return runtime.Config{
		NumThreads:  c.NumThreads,
		Seed:        c.Seed,
		Logger:      c.Logger,
		EventLoop:   c.EventLoop,
		IdleBackoff: c.IdleBackoff,
	}
}

// SpawnOpts controls the settings a newly created task carries.
type SpawnOpts struct {
	Sticky   bool
	Detached bool
	Priority int16
}

func (o SpawnOpts) toRuntime() runtime.SpawnOpts { return runtime.SpawnOpts(o) }

// Scheduler is the externally-visible runtime: construct with New,
// Start it, spawn work onto it, Shutdown when done.
type Scheduler struct {
	rt *runtime.Scheduler
}

// New constructs a Scheduler; it does not start any workers yet.
func New(cfg Config) *Scheduler {
	return &Scheduler{rt: runtime.New(cfg.toRuntime())}
}

// Start launches the configured worker goroutines. ctx bounds their
// lifetime in addition to an explicit Shutdown call.
func (s *Scheduler) Start(ctx context.Context) { s.rt.Start(ctx) }

// Shutdown stops accepting new turns and waits for every worker to
// finish its current one.
func (s *Scheduler) Shutdown() { s.rt.Shutdown() }

// NumThreads reports the configured worker count.
func (s *Scheduler) NumThreads() int { return s.rt.NumThreads() }

// wrapCallable adapts a user Callable (Handle-based) into the
// task-package Callable shape the runtime actually invokes, binding a
// fresh Handle for the task it ends up running on.
func wrapCallable(rt *runtime.Scheduler, fn Callable) task.Callable {
	if fn == nil {
		return func(task.Ctx, *task.Task, any) (any, error) { return nil, nil }
	}
	return func(_ task.Ctx, self *task.Task, args any) (any, error) {
		return fn(newHandle(rt, self), args)
	}
}

func wrapGrainFn(rt *runtime.Scheduler, fn GrainFn) func(context.Context, *task.Task, int, int) (any, error) {
	return func(_ context.Context, self *task.Task, start, end int) (any, error) {
		return fn(newHandle(rt, self), start, end)
	}
}

// Spawn creates and enqueues a task running fn(args) as a child of the
// scheduler's root (bootstrap) task. Safe to call before or after
// Start. Returns ErrHeapFull if the multi-queue has no room for it.
func (s *Scheduler) Spawn(fn Callable, args any, opts SpawnOpts) (*Task, error) {
	t := s.rt.NewTask(s.rt.Root(), wrapCallable(s.rt, fn), args, opts.toRuntime())
	if err := s.rt.Spawn(t, -1); err != nil {
		return nil, err
	}
	return t, nil
}

// Sync blocks the calling goroutine until t finishes, returning its
// result (or the reduced result, for a grain-family parent) and any
// error/panic it raised.
func (s *Scheduler) Sync(ctx context.Context, t *Task) (any, error) {
	select {
	case <-t.Done():
		return t.SyncResult()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SpawnMulti splits [0, n) into a family of grains each running fn
// over its own slice, combining their results with reducer (or, if
// reducer is the zero value, keeping only the last grain to arrive's
// raw result — callers that want every individual result should have
// fn itself aggregate into a shared, externally-synchronized
// structure). It returns the family's synthetic parent task, which
// completes — and so becomes Sync-able, exactly like any other task —
// once every grain has finished and its result has been folded in.
func (s *Scheduler) SpawnMulti(n int, fn GrainFn, reducer Reducer, opts SpawnOpts) (*Task, error) {
	parent := s.rt.NewTask(s.rt.Root(), nil, nil, opts.toRuntime())
	grains := s.rt.NewMulti(parent, n, wrapGrainFn(s.rt, fn), reducer)
	if err := s.rt.SpawnMulti(grains, -1); err != nil {
		return nil, err
	}
	return parent, nil
}

// Wait blocks the calling goroutine until c is notified. It builds a
// throwaway detached task whose only job is closing a plain channel,
// so Notify's normal requeue-and-run path is what wakes this call —
// an external caller never occupies a worker slot for this.
func (s *Scheduler) Wait(ctx context.Context, c *Condition) error {
	if c.Notified() {
		return nil
	}
	ch := make(chan struct{})
	waiter := s.rt.NewTask(s.rt.Root(), func(task.Ctx, *task.Task, any) (any, error) {
		close(ch)
		return nil, nil
	}, nil, runtime.SpawnOpts{Detached: true})
	if !c.AppendIfNotNotified(waiter) {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notify latches c and releases every waiter, in the order they
// called Wait.
func (s *Scheduler) Notify(c *Condition) { s.rt.Notify(c) }

// NewCondition constructs a fresh, unnotified Condition.
func NewCondition() *Condition { return task.NewCondition() }

// Handle is passed into every Callable; it is the in-task surface for
// Spawn/Sync/Yield/Wait/Notify, each of which cooperatively suspends
// the calling task's worker instead of blocking it.
type Handle struct {
	rt   *runtime.Scheduler
	self *Task
}

func newHandle(rt *runtime.Scheduler, self *Task) *Handle { return &Handle{rt: rt, self: self} }

// Self returns the task this handle belongs to.
func (h *Handle) Self() *Task { return h.self }

// Spawn creates and enqueues a child task. A sticky child is bound to
// the spawning worker; any other child goes to a uniformly sampled
// multi-queue heap. Returns ErrHeapFull if the multi-queue has no room
// for it.
func (h *Handle) Spawn(fn Callable, args any, opts SpawnOpts) (*Task, error) {
	t := h.rt.NewTask(h.self, wrapCallable(h.rt, fn), args, opts.toRuntime())
	if err := h.rt.Spawn(t, h.self.CurrentTid()); err != nil {
		return nil, err
	}
	return t, nil
}

// Sync cooperatively yields until t finishes, letting the worker run
// other tasks in the meantime. Also the correct way to wait on a
// grain family's synthetic parent task returned by SpawnMulti.
func (h *Handle) Sync(t *Task) (any, error) {
	return h.rt.SyncInTask(h.self, t)
}

// SpawnMulti is the in-task counterpart of Scheduler.SpawnMulti.
func (h *Handle) SpawnMulti(n int, fn GrainFn, reducer Reducer, opts SpawnOpts) (*Task, error) {
	parent := h.rt.NewTask(h.self, nil, nil, opts.toRuntime())
	grains := h.rt.NewMulti(parent, n, wrapGrainFn(h.rt, fn), reducer)
	if err := h.rt.SpawnMulti(grains, h.self.CurrentTid()); err != nil {
		return nil, err
	}
	return parent, nil
}

// Yield cooperatively gives up the worker for one scheduling round.
func (h *Handle) Yield() { h.rt.YieldInTask(h.self) }

// Wait cooperatively parks until c is notified.
func (h *Handle) Wait(c *Condition) { h.rt.WaitInTask(h.self, c) }

// Notify latches c and releases every waiter.
func (h *Handle) Notify(c *Condition) { h.rt.Notify(c) }
