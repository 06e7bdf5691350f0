package docsync

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type ResultSuite struct {
	suite.Suite
	ctx    context.Context
	logger *slog.Logger
}

func TestResultSuite(t *testing.T) {
	suite.Run(t, new(ResultSuite))
}

func (s *ResultSuite) SetupTest() {
	s.ctx = context.Background()
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *ResultSuite) TestFulfillRunsStagesInOrder() {
	var trace []int
	r := NewResult[int]()
	r.OnSuccess(func(v int) Step[int] {
		trace = append(trace, v)
		return Continue(v + 1)
	}).OnSuccess(func(v int) Step[int] {
		trace = append(trace, v)
		return Continue(v * 10)
	}).OnSuccess(func(v int) Step[int] {
		trace = append(trace, v)
		return Continue(v)
	})

	r.Fulfill(1)

	s.Equal([]int{1, 2, 20}, trace)
	v, err := r.Wait(s.ctx)
	s.NoError(err)
	s.Equal(1, v, "Wait returns the fulfilled value, not the staged one")
}

func (s *ResultSuite) TestStopSkipsLaterStages() {
	var trace []string
	r := NewResult[string]()
	r.OnSuccess(func(v string) Step[string] {
		trace = append(trace, "f1")
		return Continue(v)
	}).OnSuccess(func(v string) Step[string] {
		trace = append(trace, "f2")
		return Stop[string]()
	}).OnSuccess(func(v string) Step[string] {
		trace = append(trace, "f3")
		return Continue(v)
	})

	r.Fulfill("x")

	s.Equal([]string{"f1", "f2"}, trace)
	s.True(r.Settled())
}

func (s *ResultSuite) TestSecondSettleIsIgnored() {
	calls := 0
	r := NewResult[int]()
	r.OnSuccess(func(v int) Step[int] {
		calls++
		return Continue(v)
	})

	r.Fulfill(1)
	r.Fulfill(2)
	r.Reject(CodeInternalServer, "late")

	s.Equal(1, calls)
	v, err := r.Wait(s.ctx)
	s.NoError(err)
	s.Equal(1, v)
}

func (s *ResultSuite) TestLateRegistrationIsDropped() {
	r := NewResult[int]()
	r.Fulfill(7)

	called := false
	r.OnSuccess(func(v int) Step[int] {
		called = true
		return Continue(v)
	})

	s.False(called)
	v, err := r.Wait(s.ctx)
	s.NoError(err)
	s.Equal(7, v)
}

func (s *ResultSuite) TestFailureChain() {
	var codes []int
	r := NewResult[bool]()
	r.OnSuccess(func(bool) Step[bool] {
		s.Fail("success stage must not run")
		return Stop[bool]()
	}).OnFailure(func(e *Error) Step[*Error] {
		codes = append(codes, e.Code)
		return Continue(&Error{Kind: e.Kind, Code: e.Code + 1, Message: e.Message})
	}).OnFailure(func(e *Error) Step[*Error] {
		codes = append(codes, e.Code)
		return Stop[*Error]()
	})

	r.Reject(CodeNotFound, "missing")

	s.Equal([]int{404, 405}, codes)
	_, err := r.Wait(s.ctx)
	s.True(IsNotFound(err))
}

func (s *ResultSuite) TestFailNilBecomesUsageError() {
	r := NewResult[int]()
	r.Fail(nil)

	_, err := r.Wait(s.ctx)
	e := AsError(err)
	s.Equal(KindUsage, e.Kind)
	s.Equal(CodeUsage, e.Code)
}

func (s *ResultSuite) TestDeferredWorkWaitsForStart() {
	started := make(chan struct{}, 1)
	r := Defer(GoExecutor{}, s.logger, func(r *Result[int]) {
		started <- struct{}{}
		r.Fulfill(3)
	})

	select {
	case <-started:
		s.Fail("work ran before the result was started")
	case <-time.After(20 * time.Millisecond):
	}

	seen := make(chan int, 1)
	r.OnSuccess(func(v int) Step[int] {
		seen <- v
		return Continue(v)
	})

	v, err := r.Wait(s.ctx)
	s.NoError(err)
	s.Equal(3, v)
	s.Equal(3, <-seen)
}

func (s *ResultSuite) TestWaitHonorsContext() {
	r := NewResult[int]()
	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Millisecond)
	defer cancel()

	_, err := r.Wait(ctx)
	s.ErrorIs(err, context.DeadlineExceeded)
	s.False(r.Settled())
}

func (s *ResultSuite) TestThenChains() {
	r := Then(Succeeded(2), func(v int) *Result[string] {
		return Succeeded(string(rune('a' + v)))
	})
	v, err := r.Wait(s.ctx)
	s.NoError(err)
	s.Equal("c", v)
}

func (s *ResultSuite) TestThenPassesFailureThrough() {
	called := false
	r := Then(Failed[int](ConflictError("d1")), func(int) *Result[int] {
		called = true
		return Succeeded(1)
	})
	_, err := r.Wait(s.ctx)
	s.True(IsConflict(err))
	s.False(called)
}

func (s *ResultSuite) TestMap() {
	v, err := Map(Succeeded(21), func(v int) int { return v * 2 }).Wait(s.ctx)
	s.NoError(err)
	s.Equal(42, v)
}

func (s *ResultSuite) TestAllKeepsInputOrder() {
	pool := NewPool(2)
	var rs []*Result[int]
	for i := 0; i < 5; i++ {
		i := i
		rs = append(rs, Defer(pool, s.logger, func(r *Result[int]) {
			time.Sleep(time.Duration(5-i) * time.Millisecond)
			r.Fulfill(i)
		}))
	}
	v, err := All(rs).Wait(s.ctx)
	s.NoError(err)
	s.Equal([]int{0, 1, 2, 3, 4}, v)
}

func (s *ResultSuite) TestAllFailsWithFirstFailure() {
	rs := []*Result[int]{
		Succeeded(1),
		Failed[int](NotFoundError("a")),
		Failed[int](ConflictError("b")),
	}
	_, err := All(rs).Wait(s.ctx)
	s.True(IsNotFound(err))
}

func (s *ResultSuite) TestAllOfNothing() {
	v, err := All[int](nil).Wait(s.ctx)
	s.NoError(err)
	s.Empty(v)
}

func (s *ResultSuite) TestRacingSettlersRunOneChainOnce() {
	const settlers, registrars = 16, 16

	r := NewResult[int]()
	r.logger = s.logger

	var successRuns, failureRuns atomic.Int32
	var seenValue atomic.Int64
	var seenErr atomic.Pointer[Error]
	r.OnSuccess(func(v int) Step[int] {
		successRuns.Add(1)
		seenValue.Store(int64(v))
		return Continue(v)
	})
	r.OnFailure(func(err *Error) Step[*Error] {
		failureRuns.Add(1)
		seenErr.Store(err)
		return Continue(err)
	})

	// Stages registered while settling race may or may not be accepted, but
	// none may run more than once.
	successCounts := make([]atomic.Int32, registrars)
	failureCounts := make([]atomic.Int32, registrars)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < settlers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if i%2 == 0 {
				r.Fulfill(i)
			} else {
				r.Reject(1000+i, "lost the race")
			}
		}()
	}
	for i := 0; i < registrars; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			r.OnSuccess(func(v int) Step[int] {
				successCounts[i].Add(1)
				return Continue(v)
			})
			r.OnFailure(func(err *Error) Step[*Error] {
				failureCounts[i].Add(1)
				return Continue(err)
			})
		}()
	}
	close(start)
	wg.Wait()

	s.Equal(int32(1), successRuns.Load()+failureRuns.Load(), "exactly one chain runs")
	succeeded := successRuns.Load() == 1
	for i := 0; i < registrars; i++ {
		s.LessOrEqual(successCounts[i].Load(), int32(1))
		s.LessOrEqual(failureCounts[i].Load(), int32(1))
		if succeeded {
			s.Zero(failureCounts[i].Load())
		} else {
			s.Zero(successCounts[i].Load())
		}
	}

	v, err := r.Wait(s.ctx)
	if succeeded {
		s.NoError(err)
		s.Equal(seenValue.Load(), int64(v))
		s.Zero(v % 2)
		return
	}
	s.Require().Error(err)
	s.Same(seenErr.Load(), err)
	s.Equal(1, seenErr.Load().Code%2)
}
