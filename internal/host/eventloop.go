package host

import "context"

// EventLoop is an external run loop a worker can hand control to while
// it has no runnable task and wants to let the embedder pump I/O
// instead of spinning. It is deliberately narrow: this module does not
// depend on any concrete event-loop implementation's task type, since
// none of the candidate libraries expose one that fits a blocking
// "run until something changes" call. Embedders that have their own
// loop (epoll-backed, channel-backed, whatever) implement this
// directly; those that don't use NopEventLoop.
type EventLoop interface {
	// RunOnce blocks until either ctx is done or the loop has made at
	// least one unit of progress worth re-checking the queues for.
	RunOnce(ctx context.Context)
}

// NopEventLoop blocks on ctx alone; used when the embedder has no
// external I/O loop to integrate with, so a parked worker simply waits
// to be interrupted rather than busy-spinning.
type NopEventLoop struct{}

func (NopEventLoop) RunOnce(ctx context.Context) {
	<-ctx.Done()
}
