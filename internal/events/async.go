package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	ErrBufferFull = errors.New("events: buffer full, event dropped")
	ErrClosed     = errors.New("events: publisher closed")
)

var (
	eventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "exchange",
		Subsystem: "events",
		Name:      "dropped_total",
		Help:      "Events dropped because the delivery buffer was full",
	})

	deliveryFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "exchange",
		Subsystem: "events",
		Name:      "delivery_failures_total",
		Help:      "Events the downstream publisher failed to deliver",
	})
)

func init() {
	prometheus.MustRegister(eventsDropped, deliveryFailures)
}

// AsyncConfig sizes the delivery buffer. Timeout bounds each delivery.
type AsyncConfig struct {
	Buffer  int           `mapstructure:"buffer"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Async queues events in a bounded buffer and delivers them in order from
// one goroutine, so Publish never waits on a slow sink. When the buffer is
// full the event is dropped.
type Async struct {
	log     *zap.Logger
	next    Publisher
	timeout time.Duration
	ch      chan Event
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewAsync(log *zap.Logger, next Publisher, cfg AsyncConfig) *Async {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 4096
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	a := &Async{
		log:     log.Named("events"),
		next:    next,
		timeout: cfg.Timeout,
		ch:      make(chan Event, cfg.Buffer),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) Publish(_ context.Context, ev Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.ch <- ev:
		return nil
	default:
		eventsDropped.Inc()
		return ErrBufferFull
	}
}

func (a *Async) run() {
	defer close(a.done)
	for ev := range a.ch {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		err := a.next.Publish(ctx, ev)
		cancel()
		if err != nil {
			deliveryFailures.Inc()
			a.log.Warn("delivery failed",
				zap.String("type", string(ev.Type)),
				zap.String("pair", ev.Pair),
				zap.Error(err),
			)
		}
	}
}

// Close stops accepting events and returns once the buffered ones have been
// delivered. Call it after the last producer has stopped.
func (a *Async) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.ch)
	}
	a.mu.Unlock()
	<-a.done
}
