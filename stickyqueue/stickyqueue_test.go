package stickyqueue

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/go-foundations/partr/task"
)

type StickyQueueTestSuite struct {
	suite.Suite
}

func TestStickyQueueTestSuite(t *testing.T) {
	suite.Run(t, new(StickyQueueTestSuite))
}

func (ts *StickyQueueTestSuite) newTask() *task.Task {
	return task.New(func(task.Ctx, *task.Task, any) (any, error) { return nil, nil }, nil, nil, 0)
}

func (ts *StickyQueueTestSuite) TestPopOnEmptyReturnsNil() {
	q := &Queue{}
	ts.Nil(q.Pop())
	ts.Equal(0, q.Len())
}

func (ts *StickyQueueTestSuite) TestPushPopFIFOOrder() {
	q := &Queue{}
	a, b, c := ts.newTask(), ts.newTask(), ts.newTask()
	q.Push(a)
	q.Push(b)
	q.Push(c)
	ts.Equal(3, q.Len())

	ts.Same(a, q.Pop())
	ts.Same(b, q.Pop())
	ts.Same(c, q.Pop())
	ts.Nil(q.Pop())
	ts.Equal(0, q.Len())
}

func (ts *StickyQueueTestSuite) TestPoolIndexingByTid() {
	p := New(4)
	ts.Equal(4, p.NumThreads())

	t0 := ts.newTask()
	p.For(2).Push(t0)
	ts.Equal(1, p.For(2).Len())
	ts.Equal(0, p.For(0).Len())
	ts.Same(t0, p.For(2).Pop())
}
