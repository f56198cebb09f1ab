package engine

import (
	"context"
	"errors"
	"strconv"
	"time"

	"exchange/internal/amm"
	"exchange/internal/events"
	"exchange/internal/fault"
	"exchange/internal/market"
	"exchange/internal/orderbook"
	"exchange/internal/safemath"
)

var (
	ErrZeroPrice  = fault.NewBusiness("price must be greater than zero")
	ErrZeroAmount = fault.NewBusiness("amount must be greater than zero")
	ErrNotFilled  = fault.NewBusiness("fill-or-kill order could not be filled completely")
	ErrNotOwner   = fault.NewBusiness("order belongs to another user")
)

// OrderRequest places Amount of the pair's Secondary at Price.
type OrderRequest struct {
	User   string
	Pair   market.Pair
	Side   orderbook.Side
	Price  safemath.SafeUint
	Amount safemath.SafeUint
	Mode   orderbook.FillMode
}

// OrderResult describes what a placement did.
type OrderResult struct {
	// OrderID is set when a remainder now rests on the book.
	OrderID int64 `json:"order_id,omitempty"`
	// Filled is the Secondary traded, Spent the escrow coin paid for it.
	Filled   safemath.SafeUint `json:"filled"`
	Spent    safemath.SafeUint `json:"spent"`
	Refunded safemath.SafeUint `json:"refunded"`
	Trades   []orderbook.Trade `json:"trades"`
}

// placement is the in-flight state of one PlaceOrder.
type placement struct {
	*Txn
	order   *orderbook.Order
	pool    amm.LPReserve
	touched []*orderbook.Order
	trades  []orderbook.Trade
}

func (p *placement) arb(ref safemath.SafeUint) error {
	next, tr, err := amm.TryArb(p.ledger, p.pool, p.order, ref)
	if err != nil {
		return err
	}
	p.pool = next
	if tr != nil {
		p.trades = append(p.trades, *tr)
	}
	return nil
}

// checkRange rejects caller-supplied values the store cannot hold.
func checkRange(vals ...safemath.SafeUint) error {
	for _, v := range vals {
		if !v.Fits256() {
			return safemath.ErrTooLarge
		}
	}
	return nil
}

func (e *Engine) validateOrder(req OrderRequest) error {
	if !req.Mode.Valid() {
		return orderbook.ErrInvalidFillMode
	}
	m, err := e.markets.Lookup(req.Pair)
	if err != nil {
		return err
	}
	if req.Amount.IsZero() {
		return ErrZeroAmount
	}
	if err := checkRange(req.Price, req.Amount); err != nil {
		return err
	}
	// Only a sell that never rests may omit its price.
	if req.Price.IsZero() && (req.Side == orderbook.Buy || req.Mode == orderbook.Limit) {
		return ErrZeroPrice
	}
	if req.Mode == orderbook.Limit && req.Amount.Less(m.MinOrder) {
		return orderbook.ErrOrderTooSmall
	}
	return nil
}

// PlaceOrder escrows the order's cost, fills it against the pool and the
// opposite side of the book in price order, and then rests, refunds or
// rejects the remainder according to req.Mode.
func (e *Engine) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if err := e.validateOrder(req); err != nil {
		return OrderResult{}, err
	}
	o, err := orderbook.NewOrder(req.Pair, req.Side, req.Price, req.Amount, req.User)
	if err != nil {
		return OrderResult{}, err
	}

	var res OrderResult
	err = e.settle(ctx, "place_order", func(t *Txn) error {
		if err := t.ledger.Debit(o.EscrowCoin(), o.PlacedBy, o.InitialAmount); err != nil {
			return err
		}
		if _, err := t.ledger.Balance(o.OutputCoin(), o.PlacedBy); err != nil {
			return err
		}

		pool, err := t.tx.LockPool(ctx, o.Pair)
		if err != nil {
			return err
		}
		p := &placement{Txn: t, order: o, pool: pool}

		if err := p.walk(); err != nil {
			return err
		}
		if !o.Exhausted() {
			if err := p.arb(o.Price); err != nil {
				return err
			}
		}

		res.Refunded = safemath.Zero
		switch {
		case o.Exhausted(), req.Mode == orderbook.ImmediateOrCancel:
			if !o.Balance.IsZero() {
				if err := t.ledger.Credit(o.EscrowCoin(), o.PlacedBy, o.Balance); err != nil {
					return err
				}
				res.Refunded = o.Balance
			}
		case req.Mode == orderbook.FillOrKill:
			return ErrNotFilled
		default:
			if err := t.tx.InsertOrder(ctx, o); err != nil {
				return err
			}
			res.OrderID = o.ID
		}

		if err := p.persist(pool); err != nil {
			return err
		}

		res.Trades = p.trades
		res.Spent = o.TotalCost
		res.Filled = safemath.Zero
		for _, tr := range p.trades {
			res.Filled = res.Filled.Add(tr.Amount)
		}

		poolMoved := poolChanged(pool, p.pool)
		t.OnCommit(func() {
			for _, tr := range p.trades {
				tradesExecuted.WithLabelValues(makerKind(tr)).Inc()
				e.publish(events.New(events.TradeExecuted, tr.Pair.String(), tr))
			}
			if res.OrderID != 0 {
				e.publish(events.New(events.OrderPlaced, o.Pair.String(), o.Row()))
			}
			if poolMoved {
				e.publish(events.New(events.PoolChanged, o.Pair.String(), p.pool))
			}
			if price, ok := chartPrice(pool, p.pool, p.trades); ok {
				e.scheduleChart(o.Pair, price, time.Now())
			}
		})
		return nil
	})
	if err != nil {
		return OrderResult{}, err
	}
	return res, nil
}

// walk matches the incoming order against the locked opposite side of the
// book, best price first. Before each resting order the pool gets a chance
// to fill at that order's price.
func (p *placement) walk() error {
	o := p.order
	book, err := p.tx.LockBook(p.ctx, o.Pair, o.Side.Opposite(), o.Price)
	if err != nil {
		return err
	}

	for _, rest := range book {
		if o.Exhausted() {
			return nil
		}
		if rest.Exhausted() {
			// Dust left by earlier fills; retired in persist.
			p.touched = append(p.touched, rest)
			continue
		}
		if err := p.arb(rest.Price); err != nil {
			return err
		}
		if o.Exhausted() {
			return nil
		}

		fill, err := orderbook.MatchOrders(o, rest)
		if errors.Is(err, orderbook.ErrNoMatch) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := p.ledger.Credit(o.Pair.Secondary, fill.Buyer.PlacedBy, fill.Base); err != nil {
			return err
		}
		if err := p.ledger.Credit(o.Pair.Primary, fill.Seller.PlacedBy, fill.Quote); err != nil {
			return err
		}
		p.touched = append(p.touched, rest)
		p.trades = append(p.trades, fill.Trade(o))
	}
	return nil
}

// persist writes back every resting order the walk touched, the pool and
// the trades. Exhausted resting orders are deleted and their leftover escrow
// refunded.
func (p *placement) persist(start amm.LPReserve) error {
	for _, rest := range p.touched {
		if !rest.Exhausted() {
			if err := p.tx.UpdateOrder(p.ctx, rest); err != nil {
				return err
			}
			continue
		}
		if !rest.Balance.IsZero() {
			if err := p.ledger.Credit(rest.EscrowCoin(), rest.PlacedBy, rest.Balance); err != nil {
				return err
			}
		}
		if err := p.tx.DeleteOrder(p.ctx, rest.ID); err != nil {
			return err
		}
	}

	if poolChanged(start, p.pool) {
		if err := p.tx.SavePool(p.ctx, p.order.Pair, p.pool); err != nil {
			return err
		}
	}

	for _, tr := range p.trades {
		if err := p.tx.InsertTrade(p.ctx, tr); err != nil {
			return err
		}
	}
	return nil
}

// CancelOrder refunds the order's remaining escrow to its owner and removes
// it from the book.
func (e *Engine) CancelOrder(ctx context.Context, user string, id int64) (safemath.SafeUint, error) {
	var refunded safemath.SafeUint
	err := e.settle(ctx, "cancel_order", func(t *Txn) error {
		o, err := t.tx.LockOrder(ctx, id)
		if err != nil {
			return err
		}
		if o.PlacedBy != user {
			return ErrNotOwner
		}
		if !o.Balance.IsZero() {
			if err := t.ledger.Credit(o.EscrowCoin(), user, o.Balance); err != nil {
				return err
			}
		}
		if err := t.tx.DeleteOrder(ctx, id); err != nil {
			return err
		}
		refunded = o.Balance

		t.OnCommit(func() {
			ev := events.New(events.OrderCancelled, o.Pair.String(), map[string]string{"id": strconv.FormatInt(id, 10)})
			ev.User = user
			e.publish(ev)
		})
		return nil
	})
	return refunded, err
}

func poolChanged(a, b amm.LPReserve) bool {
	return !a.Reserve0.Equal(b.Reserve0) || !a.Reserve1.Equal(b.Reserve1) ||
		!a.TotalSupply.Equal(b.TotalSupply)
}

// chartPrice picks the price to chart after a placement: the pool's new
// price when it moved, otherwise the last book fill.
func chartPrice(before, after amm.LPReserve, trades []orderbook.Trade) (safemath.SafeUint, bool) {
	if poolChanged(before, after) && !after.Empty() {
		return after.Price(), true
	}
	if len(trades) > 0 {
		return trades[len(trades)-1].Price, true
	}
	return safemath.SafeUint{}, false
}

func makerKind(tr orderbook.Trade) string {
	if tr.Maker == orderbook.PoolMaker {
		return "pool"
	}
	return "book"
}
