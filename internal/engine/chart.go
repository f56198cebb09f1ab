package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"exchange/internal/events"
	"exchange/internal/market"
	"exchange/internal/safemath"
	"exchange/internal/store"
)

// scheduleChart runs UpdateChart as its own job. The caller has already
// committed and never sees the outcome.
func (e *Engine) scheduleChart(pair market.Pair, price safemath.SafeUint, at time.Time) {
	if e.pool == nil {
		return
	}
	e.pool.Go("chart", func(ctx context.Context) (any, error) {
		err := e.UpdateChart(ctx, pair, price, at)
		if err != nil {
			chartFailures.Inc()
			e.log.Warn("chart update failed", zap.Stringer("pair", pair), zap.Error(err))
		}
		return nil, err
	})
}

// UpdateChart folds price into the candle of every configured interval
// containing at.
func (e *Engine) UpdateChart(ctx context.Context, pair market.Pair, price safemath.SafeUint, at time.Time) error {
	var updated []store.Candle
	err := e.settle(ctx, "update_chart", func(t *Txn) error {
		for _, iv := range e.cfg.ChartIntervals {
			start := at.UTC().Truncate(iv)
			c, ok, err := t.tx.LockCandle(ctx, pair, iv, start)
			if err != nil {
				return err
			}
			if !ok {
				c = store.Candle{Pair: pair, Interval: iv, Start: start, Open: price, High: price, Low: price, Close: price, Updates: 1}
				if err := t.tx.InsertCandle(ctx, c); err != nil {
					return err
				}
				updated = append(updated, c)
				continue
			}
			c.High = safemath.Max(c.High, price)
			c.Low = safemath.Min(c.Low, price)
			c.Close = price
			c.Updates++
			if err := t.tx.UpdateCandle(ctx, c); err != nil {
				return err
			}
			updated = append(updated, c)
		}
		t.OnCommit(func() {
			for _, c := range updated {
				e.publish(events.New(events.CandleUpdated, pair.String(), c))
			}
		})
		return nil
	})
	return err
}
