// Package engine settles every balance-changing operation of the exchange.
//
// Each operation runs inside one store transaction. A Ledger caches the
// balances it touches, order book and pool rows are locked as they are read,
// and nothing is written until the operation has succeeded. Any error rolls
// the whole transaction back.
package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"exchange/internal/events"
	"exchange/internal/fault"
	"exchange/internal/jobs"
	"exchange/internal/ledger"
	"exchange/internal/market"
	"exchange/internal/store"
)

// Config holds engine tunables.
type Config struct {
	// ChartIntervals are the candle sizes kept for every pair.
	ChartIntervals []time.Duration `mapstructure:"chart_intervals"`
	// BookDepth bounds the levels returned by Book when the caller passes 0.
	BookDepth int `mapstructure:"book_depth"`
}

func DefaultConfig() Config {
	return Config{
		ChartIntervals: []time.Duration{time.Minute, time.Hour, 24 * time.Hour},
		BookDepth:      50,
	}
}

// Engine is the application context shared by every request. It is built
// once at startup.
type Engine struct {
	log       *zap.Logger
	store     *store.Store
	pool      *jobs.Pool
	markets   *market.Registry
	publisher events.Publisher
	cfg       Config
}

func New(log *zap.Logger, st *store.Store, pool *jobs.Pool, markets *market.Registry, pub events.Publisher, cfg Config) *Engine {
	if pub == nil {
		pub = events.Nop{}
	}
	if cfg.BookDepth <= 0 {
		cfg.BookDepth = DefaultConfig().BookDepth
	}
	return &Engine{
		log:       log.Named("engine"),
		store:     st,
		pool:      pool,
		markets:   markets,
		publisher: pub,
		cfg:       cfg,
	}
}

func (e *Engine) Markets() *market.Registry {
	return e.markets
}

// Txn is the state of one settlement: the store transaction, its balance
// cache, and work to run once it has committed.
type Txn struct {
	ctx    context.Context
	tx     *store.Tx
	ledger *ledger.Ledger
	hooks  []func()
}

// OnCommit registers fn to run after a successful commit, in order.
func (t *Txn) OnCommit(fn func()) {
	t.hooks = append(t.hooks, fn)
}

// settle runs fn in a new transaction. It is the only place that commits or
// rolls back.
func (e *Engine) settle(ctx context.Context, op string, fn func(t *Txn) error) (err error) {
	start := time.Now()
	defer func() {
		settleDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		settlements.WithLabelValues(op, outcome(err)).Inc()
		e.logFailure(op, err)
	}()

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	t := &Txn{ctx: ctx, tx: tx, ledger: ledger.New(ctx, tx)}
	if err := fn(t); err != nil {
		return err
	}
	if err := t.ledger.Flush(ctx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	for _, h := range t.hooks {
		h()
	}
	return nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case fault.IsBusiness(err):
		return "business"
	case fault.IsCritical(err):
		return "critical"
	}
	return "error"
}

func (e *Engine) logFailure(op string, err error) {
	switch {
	case err == nil:
	case fault.IsBusiness(err), errors.Is(err, context.Canceled):
		e.log.Debug("settlement rejected", zap.String("op", op), zap.Error(err))
	case fault.IsCritical(err):
		e.log.Error("settlement invariant violated", zap.String("op", op), zap.Error(err))
	default:
		e.log.Error("settlement failed", zap.String("op", op), zap.Error(err))
	}
}

// publish sends ev outside any transaction, on the settling worker. The
// publisher must return promptly; slow sinks sit behind events.Async.
// Failures are logged only.
func (e *Engine) publish(ev events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.publisher.Publish(ctx, ev); err != nil {
		e.log.Warn("publish failed", zap.String("type", string(ev.Type)), zap.Error(err))
	}
}
