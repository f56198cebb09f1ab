// Package jobs is the fixed-size worker pool every settlement runs on.
//
// Workers pull from one shared FIFO queue. There is no work stealing and no
// affinity: any worker may run any job. Per-pair ordering comes from row
// locks in the store, not from the scheduler.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"exchange/internal/fault"
)

// Config configures a Pool.
type Config struct {
	Workers           int           `mapstructure:"workers"`
	IdleWake          time.Duration `mapstructure:"idle_wake"`
	PingInterval      time.Duration `mapstructure:"ping_interval"`
	OverloadThreshold int64         `mapstructure:"overload_threshold"`
}

func DefaultConfig() Config {
	return Config{
		Workers:           8,
		IdleWake:          time.Second,
		PingInterval:      100 * time.Millisecond,
		OverloadThreshold: 20,
	}
}

type Pool struct {
	log *zap.Logger
	cfg Config

	mu    sync.Mutex
	queue []*Job
	wake  chan struct{}

	// ctx stops background loops on Abort. Jobs run under jobCtx, which
	// carries the same values but is never cancelled.
	ctx     context.Context
	cancel  context.CancelFunc
	jobCtx  context.Context
	aborted atomic.Bool
	started atomic.Bool

	// pings enqueued minus pings executed
	pending atomic.Int64

	group Group
}

func NewPool(log *zap.Logger, cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.IdleWake <= 0 {
		cfg.IdleWake = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		log:    log.Named("jobs"),
		cfg:    cfg,
		wake:   make(chan struct{}, cfg.Workers),
		ctx:    ctx,
		cancel: cancel,
		jobCtx: context.WithoutCancel(ctx),
	}
}

// Start spawns the workers and, if configured, the overload ping loop.
func (p *Pool) Start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	for i := 0; i < p.cfg.Workers; i++ {
		p.group.Go(fmt.Sprintf("worker-%d", i), p.worker)
	}
	if p.cfg.PingInterval > 0 {
		p.group.Go("ping", p.pingLoop)
	}
	p.log.Info("scheduler started", zap.Int("workers", p.cfg.Workers))
}

// Context is cancelled when the pool aborts. Background loops owned by other
// packages select on it.
func (p *Pool) Context() context.Context {
	return p.ctx
}

// Group returns the registry JoinAll waits on.
func (p *Pool) Group() *Group {
	return &p.group
}

// Enqueue appends j to the queue. After Abort the job fails immediately.
func (p *Pool) Enqueue(j *Job) {
	p.EnqueueBatch(j)
}

// EnqueueBatch appends all jobs atomically, in order.
func (p *Pool) EnqueueBatch(jobs ...*Job) {
	p.mu.Lock()
	if p.aborted.Load() {
		p.mu.Unlock()
		for _, j := range jobs {
			j.fail(fault.ErrShuttingDown)
		}
		return
	}
	p.queue = append(p.queue, jobs...)
	depth := len(p.queue)
	p.mu.Unlock()

	queueDepth.Set(float64(depth))
	for i := 0; i < len(jobs) && i < cap(p.wake); i++ {
		select {
		case p.wake <- struct{}{}:
		default:
		}
	}
}

// Go wraps fn in a job and enqueues it.
func (p *Pool) Go(name string, fn Func) *Job {
	j := New(name, fn)
	p.Enqueue(j)
	return j
}

// QueueLen returns the number of jobs waiting for a worker.
func (p *Pool) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Overloaded reports whether the ping backlog is above the threshold.
func (p *Pool) Overloaded() bool {
	return p.cfg.OverloadThreshold > 0 && p.pending.Load() > p.cfg.OverloadThreshold
}

// Admit gates new inbound work. Already scheduled jobs keep draining.
func (p *Pool) Admit() error {
	if p.aborted.Load() {
		return fault.ErrShuttingDown
	}
	if p.Overloaded() {
		admissionsRejected.Inc()
		return fault.ErrOverloaded
	}
	return nil
}

// Abort stops every worker after its current job. Queued jobs fail with
// fault.ErrShuttingDown; running jobs keep a live context and finish.
func (p *Pool) Abort() {
	p.mu.Lock()
	if p.aborted.Swap(true) {
		p.mu.Unlock()
		return
	}
	rest := p.queue
	p.queue = nil
	p.mu.Unlock()

	p.cancel()
	for _, j := range rest {
		j.fail(fault.ErrShuttingDown)
	}
	queueDepth.Set(0)
	p.log.Info("scheduler aborted", zap.Int("dropped", len(rest)))
}

// JoinAll waits for every goroutine registered with the pool's group,
// most recent first.
func (p *Pool) JoinAll() {
	joined := p.group.JoinAll()
	p.log.Debug("joined goroutines", zap.Strings("names", joined))
}

func (p *Pool) dequeue() *Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return nil
	}
	j := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	queueDepth.Set(float64(len(p.queue)))
	if len(p.queue) > 0 {
		select {
		case p.wake <- struct{}{}:
		default:
		}
	}
	return j
}

func (p *Pool) worker() {
	ticker := time.NewTicker(p.cfg.IdleWake)
	defer ticker.Stop()

	for !p.aborted.Load() {
		j := p.dequeue()
		if j == nil {
			select {
			case <-p.wake:
			case <-ticker.C:
			case <-p.ctx.Done():
			}
			continue
		}
		p.execute(j)
	}
}

func (p *Pool) execute(j *Job) {
	j.run(p.jobCtx)
	switch {
	case j.err == nil:
		jobsExecuted.WithLabelValues("ok").Inc()
	case fault.IsBusiness(j.err):
		jobsExecuted.WithLabelValues("business").Inc()
	case fault.IsCritical(j.err):
		jobsExecuted.WithLabelValues("critical").Inc()
		p.log.Error("job failed", zap.String("job", j.name), zap.Error(j.err))
	default:
		jobsExecuted.WithLabelValues("error").Inc()
	}
}

func (p *Pool) pingLoop() {
	ticker := time.NewTicker(p.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			overloadCounter.Set(float64(p.pending.Add(1)))
			p.Enqueue(New("ping", func(context.Context) (any, error) {
				overloadCounter.Set(float64(p.pending.Add(-1)))
				return nil, nil
			}))
		}
	}
}
