// Package events carries settled exchange activity to subscribers outside
// the settlement transaction.
package events

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

type Type string

const (
	TradeExecuted   Type = "trade"
	OrderPlaced     Type = "order_placed"
	OrderCancelled  Type = "order_cancelled"
	PoolChanged     Type = "pool"
	CandleUpdated   Type = "candle"
	TransferChanged Type = "transfer"
)

// Event is published after the transaction that produced it commits.
type Event struct {
	Type Type   `json:"type"`
	Pair string `json:"pair,omitempty"`
	// User is set for events only the owner should see.
	User string    `json:"user,omitempty"`
	Data any       `json:"data"`
	Time time.Time `json:"time"`
}

func New(t Type, pair string, data any) Event {
	return Event{Type: t, Pair: pair, Data: data, Time: time.Now()}
}

// Publisher delivers events. Publish must not block settlement for long;
// failures are logged by the caller and never undo a commit.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi fans an event out to several publishers. Every publisher is tried;
// the errors are joined.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Logged wraps a publisher and logs instead of returning failures.
type Logged struct {
	Next Publisher
	Log  *zap.Logger
}

func (l Logged) Publish(ctx context.Context, ev Event) error {
	if err := l.Next.Publish(ctx, ev); err != nil {
		l.Log.Warn("publish failed",
			zap.String("type", string(ev.Type)),
			zap.String("pair", ev.Pair),
			zap.Error(err),
		)
	}
	return nil
}
