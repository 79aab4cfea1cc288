package partr

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type PartrTestSuite struct {
	suite.Suite
}

func TestPartrTestSuite(t *testing.T) {
	suite.Run(t, new(PartrTestSuite))
}

func (ts *PartrTestSuite) newScheduler(n int) *Scheduler {
	s := New(DefaultConfig(n))
	s.Start(context.Background())
	ts.T().Cleanup(s.Shutdown)
	return s
}

func (ts *PartrTestSuite) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Second)
}

func (ts *PartrTestSuite) TestSpawnAndSync() {
	s := ts.newScheduler(2)
	ctx, cancel := ts.ctx()
	defer cancel()

	t, err := s.Spawn(func(h *Handle, args any) (any, error) {
		return args.(string) + "!", nil
	}, "hi", SpawnOpts{})
	ts.Require().NoError(err)

	result, err := s.Sync(ctx, t)
	ts.NoError(err)
	ts.Equal("hi!", result)
}

func (ts *PartrTestSuite) TestSyncPropagatesTaskError() {
	s := ts.newScheduler(2)
	ctx, cancel := ts.ctx()
	defer cancel()
	boom := errors.New("boom")

	t, err := s.Spawn(func(h *Handle, args any) (any, error) {
		return nil, boom
	}, nil, SpawnOpts{})
	ts.Require().NoError(err)

	_, err = s.Sync(ctx, t)
	ts.ErrorIs(err, boom)
}

func (ts *PartrTestSuite) TestSyncRespectsContextCancellation() {
	s := ts.newScheduler(1)

	block := make(chan struct{})
	defer close(block)
	t, err := s.Spawn(func(h *Handle, args any) (any, error) {
		<-block
		return nil, nil
	}, nil, SpawnOpts{})
	ts.Require().NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = s.Sync(ctx, t)
	ts.ErrorIs(err, context.DeadlineExceeded)
}

func (ts *PartrTestSuite) TestHandleSpawnAndSyncFromWithinTask() {
	s := ts.newScheduler(4)
	ctx, cancel := ts.ctx()
	defer cancel()

	outer, err := s.Spawn(func(h *Handle, args any) (any, error) {
		child, err := h.Spawn(func(h *Handle, args any) (any, error) {
			return 100, nil
		}, nil, SpawnOpts{})
		if err != nil {
			return nil, err
		}
		result, err := h.Sync(child)
		if err != nil {
			return nil, err
		}
		return result.(int) + 1, nil
	}, nil, SpawnOpts{})
	ts.Require().NoError(err)

	result, err := s.Sync(ctx, outer)
	ts.NoError(err)
	ts.Equal(101, result)
}

func (ts *PartrTestSuite) TestSpawnMultiReducesGrainResults() {
	s := ts.newScheduler(4)
	ctx, cancel := ts.ctx()
	defer cancel()

	reducer := Reducer{Combine: func(a, b any) (any, error) { return a.(int) + b.(int), nil }}
	parent, err := s.SpawnMulti(10, func(h *Handle, start, end int) (any, error) {
		sum := 0
		for i := start; i < end; i++ {
			sum += i
		}
		return sum, nil
	}, reducer, SpawnOpts{})
	ts.Require().NoError(err)

	result, err := s.Sync(ctx, parent)
	ts.NoError(err)
	ts.Equal(45, result) // sum(0..9)
}

func (ts *PartrTestSuite) TestHandleSpawnMultiFromWithinTask() {
	s := ts.newScheduler(4)
	ctx, cancel := ts.ctx()
	defer cancel()

	reducer := Reducer{Combine: func(a, b any) (any, error) { return a.(int) + b.(int), nil }}
	outer, err := s.Spawn(func(h *Handle, args any) (any, error) {
		inner, err := h.SpawnMulti(5, func(h *Handle, start, end int) (any, error) {
			return end - start, nil
		}, reducer, SpawnOpts{})
		if err != nil {
			return nil, err
		}
		return h.Sync(inner)
	}, nil, SpawnOpts{})
	ts.Require().NoError(err)

	result, err := s.Sync(ctx, outer)
	ts.NoError(err)
	ts.Equal(5, result) // 5 grains of width 1 each
}

func (ts *PartrTestSuite) TestWaitAndNotifyExternal() {
	s := ts.newScheduler(2)
	ctx, cancel := ts.ctx()
	defer cancel()

	cond := NewCondition()
	go func() {
		time.Sleep(10 * time.Millisecond)
		s.Notify(cond)
	}()

	err := s.Wait(ctx, cond)
	ts.NoError(err)
	ts.True(cond.Notified())
}

func (ts *PartrTestSuite) TestWaitReturnsImmediatelyIfAlreadyNotified() {
	s := ts.newScheduler(2)
	ctx, cancel := ts.ctx()
	defer cancel()

	cond := NewCondition()
	s.Notify(cond)

	err := s.Wait(ctx, cond)
	ts.NoError(err)
}

func (ts *PartrTestSuite) TestHandleWaitAndNotifyFromWithinTask() {
	s := ts.newScheduler(4)
	ctx, cancel := ts.ctx()
	defer cancel()

	cond := NewCondition()
	waiter, err := s.Spawn(func(h *Handle, args any) (any, error) {
		h.Wait(cond)
		return "woke", nil
	}, nil, SpawnOpts{})
	ts.Require().NoError(err)

	notifier, err := s.Spawn(func(h *Handle, args any) (any, error) {
		h.Notify(cond)
		return nil, nil
	}, nil, SpawnOpts{})
	ts.Require().NoError(err)

	_, err = s.Sync(ctx, notifier)
	ts.NoError(err)

	result, err := s.Sync(ctx, waiter)
	ts.NoError(err)
	ts.Equal("woke", result)
}

func (ts *PartrTestSuite) TestDefaultConfigAppliesToScheduler() {
	cfg := DefaultConfig(6)
	ts.Equal(6, cfg.NumThreads)

	s := New(cfg)
	s.Start(context.Background())
	defer s.Shutdown()
	ts.Equal(6, s.NumThreads())
}
