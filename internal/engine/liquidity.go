package engine

import (
	"context"
	"time"

	"exchange/internal/amm"
	"exchange/internal/events"
	"exchange/internal/fault"
	"exchange/internal/market"
	"exchange/internal/orderbook"
	"exchange/internal/safemath"
)

var ErrSlippage = fault.NewBusiness("output below minimum")

// LiquidityResult reports a mint or burn.
type LiquidityResult struct {
	Shares  safemath.SafeUint `json:"shares"`
	Amount0 safemath.SafeUint `json:"amount0"`
	Amount1 safemath.SafeUint `json:"amount1"`
	Pool    amm.LPReserve     `json:"pool"`
}

// MintLP deposits amount0 of the pair's Secondary and amount1 of its Primary
// into the pool. The first mint creates the pool.
func (e *Engine) MintLP(ctx context.Context, user string, pair market.Pair, amount0, amount1 safemath.SafeUint) (LiquidityResult, error) {
	if _, err := e.markets.Lookup(pair); err != nil {
		return LiquidityResult{}, err
	}
	if err := checkRange(amount0, amount1); err != nil {
		return LiquidityResult{}, err
	}
	var res LiquidityResult
	err := e.settle(ctx, "mint_lp", func(t *Txn) error {
		r, err := t.tx.LockPool(ctx, pair)
		if err != nil {
			return err
		}
		next, minted, err := amm.MintLP(t.ledger, pair, r, amount0, amount1, user)
		if err != nil {
			return err
		}
		if err := t.tx.SavePool(ctx, pair, next); err != nil {
			return err
		}
		res = LiquidityResult{Shares: minted, Amount0: amount0, Amount1: amount1, Pool: next}
		e.afterPoolChange(t, pair, r, next)
		return nil
	})
	return res, err
}

// BurnLP redeems shares for a proportional part of both reserves.
func (e *Engine) BurnLP(ctx context.Context, user string, pair market.Pair, shares safemath.SafeUint) (LiquidityResult, error) {
	if _, err := e.markets.Lookup(pair); err != nil {
		return LiquidityResult{}, err
	}
	if err := checkRange(shares); err != nil {
		return LiquidityResult{}, err
	}
	var res LiquidityResult
	err := e.settle(ctx, "burn_lp", func(t *Txn) error {
		r, err := t.tx.LockPool(ctx, pair)
		if err != nil {
			return err
		}
		next, out0, out1, err := amm.BurnLP(t.ledger, pair, r, shares, user)
		if err != nil {
			return err
		}
		if err := t.tx.SavePool(ctx, pair, next); err != nil {
			return err
		}
		res = LiquidityResult{Shares: shares, Amount0: out0, Amount1: out1, Pool: next}
		e.afterPoolChange(t, pair, r, next)
		return nil
	})
	return res, err
}

// SwapRequest trades directly against the pool. A buy pays Input of the
// Primary coin for Secondary.
type SwapRequest struct {
	User      string
	Pair      market.Pair
	Buy       bool
	Input     safemath.SafeUint
	MinOutput safemath.SafeUint
}

// Swap debits the input, swaps it through the pool and records the fill as
// a pool trade.
func (e *Engine) Swap(ctx context.Context, req SwapRequest) (orderbook.Trade, error) {
	if _, err := e.markets.Lookup(req.Pair); err != nil {
		return orderbook.Trade{}, err
	}
	if err := checkRange(req.Input, req.MinOutput); err != nil {
		return orderbook.Trade{}, err
	}
	side, inCoin := orderbook.Sell, req.Pair.Secondary
	if req.Buy {
		side, inCoin = orderbook.Buy, req.Pair.Primary
	}

	var trade orderbook.Trade
	err := e.settle(ctx, "swap", func(t *Txn) error {
		r, err := t.tx.LockPool(ctx, req.Pair)
		if err != nil {
			return err
		}
		if err := t.ledger.Debit(inCoin, req.User, req.Input); err != nil {
			return err
		}
		next, out, err := amm.SwapLP(t.ledger, req.Pair, r, req.Input, req.Buy, req.User)
		if err != nil {
			return err
		}
		if out.Less(req.MinOutput) {
			return ErrSlippage
		}
		if err := t.tx.SavePool(ctx, req.Pair, next); err != nil {
			return err
		}

		base, quote := req.Input, out
		if req.Buy {
			base, quote = out, req.Input
		}
		taker := &orderbook.Order{Pair: req.Pair, Side: side, PlacedBy: req.User}
		trade = orderbook.PoolTrade(taker, base, quote)
		if err := t.tx.InsertTrade(ctx, trade); err != nil {
			return err
		}
		t.OnCommit(func() {
			tradesExecuted.WithLabelValues("pool").Inc()
			e.publish(events.New(events.TradeExecuted, req.Pair.String(), trade))
		})
		e.afterPoolChange(t, req.Pair, r, next)
		return nil
	})
	return trade, err
}

func (e *Engine) afterPoolChange(t *Txn, pair market.Pair, before, after amm.LPReserve) {
	t.OnCommit(func() {
		e.publish(events.New(events.PoolChanged, pair.String(), after))
		if !after.Empty() && !after.Price().Equal(before.Price()) {
			e.scheduleChart(pair, after.Price(), time.Now())
		}
	})
}
