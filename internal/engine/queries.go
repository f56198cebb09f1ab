package engine

import (
	"context"
	"time"

	"exchange/internal/amm"
	"exchange/internal/market"
	"exchange/internal/orderbook"
	"exchange/internal/store"
)

// Reads below do not lock and may observe a state between two settlements.

func (e *Engine) Balances(ctx context.Context, user string) ([]store.Balance, error) {
	return e.store.Balances(ctx, user)
}

func (e *Engine) OpenOrders(ctx context.Context, user string) ([]orderbook.Row, error) {
	return e.store.OpenOrders(ctx, user)
}

// Book returns up to depth aggregated levels per side.
func (e *Engine) Book(ctx context.Context, pair market.Pair, depth int) (orderbook.BookSnapshot, error) {
	if _, err := e.markets.Lookup(pair); err != nil {
		return orderbook.BookSnapshot{}, err
	}
	if depth <= 0 || depth > e.cfg.BookDepth {
		depth = e.cfg.BookDepth
	}
	return e.store.Book(ctx, pair, depth)
}

// PoolInfo is a pool with its implied price.
type PoolInfo struct {
	Pair market.Pair `json:"pair"`
	amm.LPReserve
	Price  string `json:"price"`
	Exists bool   `json:"exists"`
}

func (e *Engine) Pool(ctx context.Context, pair market.Pair) (PoolInfo, error) {
	if _, err := e.markets.Lookup(pair); err != nil {
		return PoolInfo{}, err
	}
	r, err := e.store.Pool(ctx, pair)
	if err != nil {
		return PoolInfo{}, err
	}
	return PoolInfo{Pair: pair, LPReserve: r, Price: r.Price().FormatDecimal(), Exists: r.Exists()}, nil
}

func (e *Engine) Candles(ctx context.Context, pair market.Pair, interval time.Duration, limit int) ([]store.Candle, error) {
	if _, err := e.markets.Lookup(pair); err != nil {
		return nil, err
	}
	return e.store.Candles(ctx, pair, interval, limit)
}

func (e *Engine) Trades(ctx context.Context, pair market.Pair, limit int) ([]orderbook.Trade, error) {
	if _, err := e.markets.Lookup(pair); err != nil {
		return nil, err
	}
	return e.store.Trades(ctx, pair, limit)
}

func (e *Engine) Transfers(ctx context.Context, user string, limit int) ([]*store.Transfer, error) {
	return e.store.Transfers(ctx, user, limit)
}
