package jobs

import (
	"context"

	"exchange/internal/fault"
)

// Func is the body of a job. Its context is never cancelled, so a job that
// has started always runs to completion.
type Func func(ctx context.Context) (any, error)

// Job is one unit of schedulable work. It runs exactly once on some worker
// and signals completion exactly once; Wait may be called any number of times
// and always returns the same outcome.
type Job struct {
	name string
	fn   Func
	done chan struct{}

	result any
	err    error
}

// New creates a job. The name only appears in logs and metrics.
func New(name string, fn Func) *Job {
	return &Job{
		name: name,
		fn:   fn,
		done: make(chan struct{}),
	}
}

func (j *Job) Name() string {
	return j.name
}

// Done is closed when the job has completed.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job completes and returns its outcome.
func (j *Job) Wait() (any, error) {
	<-j.done
	return j.result, j.err
}

// WaitContext stops waiting when ctx is done. The job itself keeps running.
func (j *Job) WaitContext(ctx context.Context) (any, error) {
	select {
	case <-j.done:
		return j.result, j.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (j *Job) run(ctx context.Context) {
	defer close(j.done)
	defer func() {
		if r := recover(); r != nil {
			j.result = nil
			j.err = fault.Criticalf("job %s panicked: %v", j.name, r)
		}
	}()
	j.result, j.err = j.fn(ctx)
}

// fail completes a job that will never run.
func (j *Job) fail(err error) {
	j.err = err
	close(j.done)
}

// Await runs fn as a job on p and waits for a typed result.
func Await[T any](ctx context.Context, p *Pool, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	j := New(name, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	p.Enqueue(j)
	res, err := j.WaitContext(ctx)
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, fault.Criticalf("job %s returned %T", name, res)
	}
	return v, nil
}
