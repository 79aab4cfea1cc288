package host

// Abort reports an invariant violation the scheduler cannot recover
// from — e.g. resuming an already-running task fails because the
// multi-queue's entire fixed capacity is exhausted. It panics on the
// calling goroutine, which may be a task's own goroutine or an external
// caller (e.g. SpawnMulti exhausting a tree pool).
func Abort(msg string) {
	panic(msg)
}
