package host

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type HostTestSuite struct {
	suite.Suite
}

func TestHostTestSuite(t *testing.T) {
	suite.Run(t, new(HostTestSuite))
}

func (ts *HostTestSuite) TestNewRNGsAreIndependentAndDeterministic() {
	a := NewRNGs(4, 42)
	b := NewRNGs(4, 42)
	ts.Len(a, 4)

	for i := range a {
		ts.Equal(a[i].Int63(), b[i].Int63(), "same seed must reproduce the same per-worker stream")
	}
}

func (ts *HostTestSuite) TestProtectedCallPassesThroughResult() {
	result, err := ProtectedCall(func() (any, error) { return 7, nil })
	ts.NoError(err)
	ts.Equal(7, result)
}

func (ts *HostTestSuite) TestProtectedCallPassesThroughError() {
	boom := errors.New("boom")
	_, err := ProtectedCall(func() (any, error) { return nil, boom })
	ts.ErrorIs(err, boom)
}

func (ts *HostTestSuite) TestProtectedCallRecoversPanic() {
	_, err := ProtectedCall(func() (any, error) {
		panic("kaboom")
	})
	ts.Error(err)
	ts.Contains(err.Error(), "task panic")
}

func (ts *HostTestSuite) TestProtectedCallRecoversPanicWithError() {
	boom := errors.New("inner")
	_, err := ProtectedCall(func() (any, error) {
		panic(boom)
	})
	ts.Error(err)
	ts.ErrorIs(err, boom)
}

func (ts *HostTestSuite) TestNopEventLoopBlocksUntilContextDone() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	NopEventLoop{}.RunOnce(ctx)
	ts.GreaterOrEqual(time.Since(start), 9*time.Millisecond)
}

func (ts *HostTestSuite) TestNopLoggerBuildersDoNotPanic() {
	l := NopLogger{}
	ts.NotPanics(func() {
		l.Info().Str(`k`, `v`).Log(`msg`)
		l.Debug().Log(`msg`)
		l.Warning().Log(`msg`)
		l.Err().Log(`msg`)
		l.Trace().Log(`msg`)
	})
}
