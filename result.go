package docsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

type state uint8

const (
	statePending state = iota
	stateSucceeded
	stateFailed
)

type (
	// Step is the outcome of a callback stage: either continue the chain with a
	// value or stop it. Stopping is not a failure.
	Step[T any] struct {
		value T
		stop  bool
	}

	// Result is a single-fire asynchronous outcome. It moves from pending to
	// exactly one of succeeded or failed, and runs the matching chain of stages
	// in registration order when it does.
	//
	// Results returned by endpoints are deferred: their work is handed to the
	// endpoint's executor on Go, Wait, or when consumed by Then or All. Register
	// stages first, then start.
	Result[T any] struct {
		mu        sync.Mutex
		state     state
		value     T
		err       *Error
		onSuccess []func(T) Step[T]
		onFailure []func(*Error) Step[*Error]
		waiters   int
		start     func()
		done      chan struct{}
		logger    *slog.Logger
	}
)

// Continue passes v on to the next stage.
func Continue[T any](v T) Step[T] {
	return Step[T]{value: v}
}

// Stop ends the chain without running later stages.
func Stop[T any]() Step[T] {
	return Step[T]{stop: true}
}

// Stopped reports whether the step ends the chain.
func (s Step[T]) Stopped() bool { return s.stop }

// Value returns the value carried to the next stage.
func (s Step[T]) Value() T { return s.value }

// NewResult returns a pending result for a producer that fulfills it itself.
func NewResult[T any]() *Result[T] {
	return &Result[T]{done: make(chan struct{}), logger: slog.Default()}
}

// Defer returns a pending result whose work runs on exec once the result is
// started. work must fulfill or reject the result exactly once.
func Defer[T any](exec Executor, logger *slog.Logger, work func(r *Result[T])) *Result[T] {
	r := NewResult[T]()
	if logger != nil {
		r.logger = logger
	}
	if exec == nil {
		exec = GoExecutor{}
	}
	r.start = func() { exec.Go(func() { work(r) }) }
	return r
}

// Succeeded returns a result already fulfilled with v. Stages can still be
// registered until it is started.
func Succeeded[T any](v T) *Result[T] {
	return Defer(InlineExecutor{}, nil, func(r *Result[T]) { r.Fulfill(v) })
}

// Failed returns a result that rejects with err once started.
func Failed[T any](err *Error) *Result[T] {
	return Defer(InlineExecutor{}, nil, func(r *Result[T]) { r.Fail(err) })
}

// OnSuccess appends a success stage. Registering after the result has been
// settled is a usage error: the stage is dropped and the error is logged.
func (r *Result[T]) OnSuccess(stage func(T) Step[T]) *Result[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != statePending {
		r.usage("OnSuccess registered after the result settled")
		return r
	}
	r.onSuccess = append(r.onSuccess, stage)
	return r
}

// OnFailure appends a failure stage, with the same rules as OnSuccess.
func (r *Result[T]) OnFailure(stage func(*Error) Step[*Error]) *Result[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != statePending {
		r.usage("OnFailure registered after the result settled")
		return r
	}
	r.onFailure = append(r.onFailure, stage)
	return r
}

// Go dispatches deferred work. It is a no-op for results that were already
// started or that are fulfilled directly by a producer.
func (r *Result[T]) Go() *Result[T] {
	r.mu.Lock()
	start := r.start
	r.start = nil
	r.mu.Unlock()

	if start != nil {
		start()
	}
	return r
}

// Fulfill settles the result with v and runs the success stages.
func (r *Result[T]) Fulfill(v T) {
	r.mu.Lock()
	if r.state != statePending {
		r.usage(fmt.Sprintf("Fulfill called on a settled result (value %v)", v))
		r.mu.Unlock()
		return
	}
	r.state = stateSucceeded
	r.value = v
	stages := r.onSuccess
	close(r.done)
	r.mu.Unlock()

	prev := v
	for _, stage := range stages {
		step := stage(prev)
		if step.stop {
			break
		}
		prev = step.value
	}
}

// Reject settles the result with a failure built from code and message.
func (r *Result[T]) Reject(code int, message string) {
	r.Fail(&Error{Kind: KindProtocol, Code: code, Message: message})
}

// Fail settles the result with err and runs the failure stages.
func (r *Result[T]) Fail(err *Error) {
	if err == nil {
		err = &Error{Kind: KindUsage, Code: CodeUsage, Message: "nil error passed to Fail"}
	}

	r.mu.Lock()
	if r.state != statePending {
		r.usage(fmt.Sprintf("Fail called on a settled result (%s)", err))
		r.mu.Unlock()
		return
	}
	r.state = stateFailed
	r.err = err
	stages := r.onFailure
	unconsumed := len(stages) == 0 && r.waiters == 0
	close(r.done)
	r.mu.Unlock()

	if unconsumed {
		r.logger.Warn("result rejected with no failure stage",
			"kind", err.Kind,
			"code", err.Code,
			"message", err.Message,
		)
		return
	}

	prev := err
	for _, stage := range stages {
		step := stage(prev)
		if step.stop {
			break
		}
		prev = step.value
	}
}

// Done is closed once the result has settled.
func (r *Result[T]) Done() <-chan struct{} {
	return r.done
}

// Wait starts the result and blocks until it settles or ctx is done. It
// returns the value the result was fulfilled with, which is not affected by
// what success stages return.
func (r *Result[T]) Wait(ctx context.Context) (T, error) {
	r.mu.Lock()
	r.waiters++
	r.mu.Unlock()

	r.Go()

	select {
	case <-r.done:
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
	return r.outcome()
}

// Settled reports whether the result has reached a terminal state.
func (r *Result[T]) Settled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state != statePending
}

func (r *Result[T]) outcome() (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == stateFailed {
		var zero T
		return zero, r.err
	}
	return r.value, nil
}

// usage must be called with r.mu held.
func (r *Result[T]) usage(message string) {
	r.logger.Error("result misuse", "kind", KindUsage, "error", message)
}

// Then runs fn with the value of r once it succeeds and settles the returned
// result with fn's outcome. A failure of r skips fn and is passed through.
func Then[T, U any](r *Result[T], fn func(T) *Result[U]) *Result[U] {
	return Defer(GoExecutor{}, r.logger, func(out *Result[U]) {
		v, err := r.Wait(context.Background())
		if err != nil {
			out.Fail(AsError(err))
			return
		}
		next, nerr := fn(v).Wait(context.Background())
		if nerr != nil {
			out.Fail(AsError(nerr))
			return
		}
		out.Fulfill(next)
	})
}

// Map transforms the value of r once it succeeds.
func Map[T, U any](r *Result[T], fn func(T) U) *Result[U] {
	return Then(r, func(v T) *Result[U] { return Succeeded(fn(v)) })
}

// All starts every result and succeeds with their values in input order. It
// fails with the first failure in input order.
func All[T any](rs []*Result[T]) *Result[[]T] {
	return Defer(GoExecutor{}, nil, func(out *Result[[]T]) {
		for _, r := range rs {
			r.mu.Lock()
			r.waiters++
			r.mu.Unlock()
			r.Go()
		}

		values := make([]T, len(rs))
		for i, r := range rs {
			v, err := r.Wait(context.Background())
			if err != nil {
				out.Fail(AsError(err))
				return
			}
			values[i] = v
		}
		out.Fulfill(values)
	})
}
