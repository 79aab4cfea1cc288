package host

import (
	"math/rand"
)

// RNG is a per-worker jitter source for multi-queue two-choice
// sampling. math/rand.Rand is not safe for concurrent use, so the
// scheduler keeps one per worker rather than sharing a package-level
// source; NewRNGs seeds each deterministically off a single seed so a
// whole run can be reproduced for testing.
func NewRNGs(nthreads int, seed int64) []*rand.Rand {
	rngs := make([]*rand.Rand, nthreads)
	src := rand.New(rand.NewSource(seed))
	for i := range rngs {
		rngs[i] = rand.New(rand.NewSource(src.Int63()))
	}
	return rngs
}

// ProtectedCall recovers a panic from fn, turning it into an error so
// the scheduler can route it through the same completion/exception
// path as a returned error, matching the original's exception-on-task
// semantics without requiring every Callable to avoid panicking.
func ProtectedCall(fn func() (any, error)) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{r}
		}
	}()
	return fn()
}

type panicError struct{ v any }

func (p panicError) Error() string {
	if e, ok := p.v.(error); ok {
		return "task panic: " + e.Error()
	}
	return "task panic"
}

func (p panicError) Unwrap() error {
	if e, ok := p.v.(error); ok {
		return e
	}
	return nil
}
