// Package task defines the Task object and its associated intrusive
// queues: the per-task completion queue and the Condition waitq.
//
// A Task appears on at most one queue at a time (multi-queue, sticky
// queue, completion queue, or condition waitq); the Next field is the
// single intrusive link used by whichever queue currently holds it.
package task

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// State is the lifecycle state of a Task.
type State int32

const (
	Runnable State = iota
	Done
	Failed
)

// Settings are bitflags carried on a Task.
type Settings uint8

const (
	Sticky Settings = 1 << iota
	Detached
)

// EmptyPrio is the sentinel priority meaning "no task" / "empty heap".
const EmptyPrio int16 = 1<<15 - 1 // math.MaxInt16, spelled out to avoid an import for one constant

// Callable is the resolved, invocable body of a task. self is the
// running task, which the scheduler's suspension points (Yield, Sync,
// Wait, Notify, Spawn) take as their caller; args is the payload
// supplied at creation.
type Callable func(ctx Ctx, self *Task, args any) (any, error)

// Ctx is the minimal context a Callable needs; it is satisfied by
// context.Context, kept as a narrow interface here so this package does
// not need to import context just to describe the shape it expects.
type Ctx interface {
	Done() <-chan struct{}
	Err() error
}

// Task is one cooperative unit of execution.
type Task struct {
	ID uuid.UUID // correlation id for logging only; never consulted for scheduling

	fn   Callable
	args any

	prio     atomic.Int32 // int16 range; set once before first enqueue
	state    atomic.Int32 // State
	settings Settings     // written only before first Spawn; read-only after
	started  bool         // owned by the scheduler's dispatch path; never touched concurrently

	stickyTid  atomic.Int32 // -1 until a sticky task is first enqueued; then the worker it is bound to
	currentTid atomic.Int32 // -1 when not running on any worker

	epoch uint64 // the scheduler "world age" this task was resolved under

	parent *Task
	Next   *Task // intrusive link; valid only while owned by a single queue

	cq completionQueue

	grainNum  int // -1 if this is not a grain
	start, end int
	arr       *arrival
	red       *reduction
	reducer   Reducer

	result    any
	exception error

	resume   chan struct{} // buffered 1; scheduler sends to wake a parked task
	turnDone chan struct{} // buffered 1; task signals scheduler when it suspends or finishes
	done     chan struct{} // closed exactly once, after grain reduction (if any) settles
	closeOne sync.Once

}

// arrival/reduction are satisfied by *synctree.Arrival / *synctree.Reduction;
// declared as narrow interfaces here to avoid an import cycle between task
// and synctree (synctree only needs to reach into Task for grain indices,
// which it receives as plain ints from the scheduler, not via this type).
type arrival any
type reduction any

// Reducer folds two grain results (or propagated errors) into one value.
type Reducer struct {
	Combine func(a, b any) (any, error)
}

// New constructs a runnable, not-yet-started task. epoch is the
// scheduler's current dispatch-resolution generation (see
// Scheduler.currentEpoch in the runtime package).
func New(fn Callable, args any, parent *Task, epoch uint64) *Task {
	t := &Task{
		ID:       uuid.New(),
		fn:       fn,
		args:     args,
		parent:   parent,
		grainNum: -1,
		epoch:    epoch,
		resume:   make(chan struct{}, 1),
		turnDone: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	t.prio.Store(int32(EmptyPrio))
	t.state.Store(int32(Runnable))
	t.stickyTid.Store(-1)
	t.currentTid.Store(-1)
	return t
}

func (t *Task) Callable() Callable { return t.fn }
func (t *Task) Args() any          { return t.args }
func (t *Task) Parent() *Task      { return t.parent }
func (t *Task) Epoch() uint64      { return t.epoch }

func (t *Task) Prio() int16        { return int16(t.prio.Load()) }
func (t *Task) SetPrio(p int16)    { t.prio.Store(int32(p)) }
func (t *Task) PrioPtr() *atomic.Int32 { return &t.prio }

func (t *Task) State() State { return State(t.state.Load()) }
func (t *Task) Terminal() bool {
	s := t.State()
	return s == Done || s == Failed
}
func (t *Task) setState(s State) { t.state.Store(int32(s)) }

func (t *Task) IsSticky() bool   { return t.settings&Sticky != 0 }
func (t *Task) IsDetached() bool { return t.settings&Detached != 0 }
func (t *Task) SetSticky()       { t.settings |= Sticky }
func (t *Task) SetDetached()     { t.settings |= Detached }

func (t *Task) StickyTid() int32     { return t.stickyTid.Load() }
func (t *Task) BindSticky(tid int32) { t.stickyTid.CompareAndSwap(-1, tid) }

func (t *Task) CurrentTid() int32        { return t.currentTid.Load() }
func (t *Task) SetCurrentTid(tid int32)  { t.currentTid.Store(tid) }

func (t *Task) Started() bool   { return t.started }
func (t *Task) MarkStarted()    { t.started = true }

// Grain metadata.
func (t *Task) IsGrain() bool     { return t.grainNum >= 0 }
func (t *Task) GrainNum() int     { return t.grainNum }
func (t *Task) Range() (int, int) { return t.start, t.end }
func (t *Task) Arrival() any      { return t.arr }
func (t *Task) Reduction() any    { return t.red }
func (t *Task) ReducerFn() Reducer { return t.reducer }

// SetGrain wires up the grain-specific fields; called once by the
// scheduler's NewMulti while constructing a grain family.
func (t *Task) SetGrain(num, start, end int, arr, red any, reducer Reducer) {
	t.grainNum = num
	t.start = start
	t.end = end
	t.arr = arr
	t.red = red
	t.reducer = reducer
}

func (t *Task) Result() any          { return t.result }
func (t *Task) SetResult(v any)      { t.result = v }
func (t *Task) Exception() error     { return t.exception }
func (t *Task) SetException(e error) { t.exception = e }

// SyncResult returns the value Sync should hand back once t is
// terminal: its result (for a grain family's synthetic parent, the
// folded combination of every grain's result) and any error/panic.
func (t *Task) SyncResult() (any, error) {
	return t.result, t.exception
}

// Finish transitions the task to a terminal state. Called exactly once
// by the scheduler after the callable returns (or panics).
func (t *Task) Finish(err error) {
	if err != nil {
		t.exception = err
		t.setState(Failed)
	} else {
		t.setState(Done)
	}
}

// Close closes the done channel exactly once; safe to call from
// multiple goroutines (though in practice only the owning worker ever
// calls it).
func (t *Task) Close() { t.closeOne.Do(func() { close(t.done) }) }

// Done reports task completion to callers outside the cooperative
// scheduler (an ordinary blocking channel read costs nothing since
// such a caller doesn't occupy one of the W worker slots).
func (t *Task) Done() <-chan struct{} { return t.done }

// Resume/TurnDone are the scheduler<->task handshake channels; see
// runtime.Scheduler.runTurn and runtime.Scheduler.YieldInTask.
func (t *Task) SignalResume()          { nonBlockingSend(t.resume) }
func (t *Task) WaitResume() <-chan struct{} { return t.resume }
func (t *Task) SignalTurnDone()        { nonBlockingSend(t.turnDone) }
func (t *Task) WaitTurnDone() <-chan struct{} { return t.turnDone }

func nonBlockingSend(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// completionQueue is a task-local FIFO of tasks awaiting this task's
// completion. Append walks to the tail (O(queue length)), matching the
// teacher/original's linked-list discipline; drained exactly once.
type completionQueue struct {
	mu   sync.Mutex
	head *Task
}

// CQAppendIfPending appends waiter to t's completion queue unless t is
// already terminal (re-checked under lock to close the race described
// in spec §4.5's Sync). Returns false (and appends nothing) if t was
// already terminal.
func (t *Task) CQAppendIfPending(waiter *Task) bool {
	t.cq.mu.Lock()
	defer t.cq.mu.Unlock()
	if t.Terminal() {
		return false
	}
	appendTail(&t.cq.head, waiter)
	return true
}

// CQDrainAll detaches every waiter from t's completion queue and
// returns them in FIFO (CQ-insertion) order. Called exactly once, by
// the scheduler, after t finishes.
func (t *Task) CQDrainAll() []*Task {
	t.cq.mu.Lock()
	head := t.cq.head
	t.cq.head = nil
	t.cq.mu.Unlock()

	var out []*Task
	for n := head; n != nil; {
		next := n.Next
		n.Next = nil
		out = append(out, n)
		n = next
	}
	return out
}

func appendTail(head **Task, t *Task) {
	if *head == nil {
		*head = t
		return
	}
	p := *head
	for p.Next != nil {
		p = p.Next
	}
	p.Next = t
}

// Condition is a one-shot latch with an associated waiter FIFO.
type Condition struct {
	notified atomic.Bool
	mu       sync.Mutex
	head     *Task
}

func NewCondition() *Condition { return &Condition{} }

func (c *Condition) Notified() bool { return c.notified.Load() }

// AppendIfNotNotified appends waiter to the waitq unless the condition
// is already latched (double-checked under lock). Returns false if the
// condition was already notified.
func (c *Condition) AppendIfNotNotified(waiter *Task) bool {
	if c.notified.Load() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.notified.Load() {
		return false
	}
	appendTail(&c.head, waiter)
	return true
}

// LatchAndDrain sets the latch and returns every waiter queued before
// the call, in FIFO order. Idempotent: once latched, subsequent calls
// return nil.
func (c *Condition) LatchAndDrain() []*Task {
	c.mu.Lock()
	head := c.head
	c.head = nil
	c.notified.Store(true)
	c.mu.Unlock()

	var out []*Task
	for n := head; n != nil; {
		next := n.Next
		n.Next = nil
		out = append(out, n)
		n = next
	}
	return out
}
