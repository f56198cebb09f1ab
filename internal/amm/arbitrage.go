package amm

import (
	"exchange/internal/orderbook"
	"exchange/internal/safemath"
)

// ArbTrade is the swap that moves the pool price to a reference price.
type ArbTrade struct {
	// Buy means paying Primary into the pool for Secondary.
	Buy      bool
	AmountIn safemath.SafeUint
}

// ComputeProfitMaximizingTrade returns the swap that brings the pool's price
// to truePrice (Primary per Secondary, scaled by Ether). It is the closed
// form for constant-product pools with a 0.3% fee:
//
//	sell: in = sqrt(k*1000*Ether/(truePrice*997)) - reserve0*1000/997
//	buy:  in = sqrt(k*1000*truePrice/(Ether*997)) - reserve1*1000/997
//
// A negative result means no profitable trade and yields a zero AmountIn.
func ComputeProfitMaximizingTrade(truePrice safemath.SafeUint, r LPReserve) (ArbTrade, error) {
	if r.Empty() {
		return ArbTrade{}, ErrPoolEmpty
	}
	if truePrice.IsZero() {
		return ArbTrade{}, safemath.ErrDivByZero
	}

	scaled, err := r.Reserve0.MulDiv(truePrice, r.Reserve1)
	if err != nil {
		return ArbTrade{}, err
	}
	sell := scaled.Less(safemath.Ether)

	num, den, reserveIn := truePrice, safemath.Ether, r.Reserve1
	if sell {
		num, den, reserveIn = safemath.Ether, truePrice, r.Reserve0
	}

	inner, err := r.Invariant().Mul(safemath.Fee1000).MulDiv(num, den.Mul(safemath.Fee997))
	if err != nil {
		return ArbTrade{}, err
	}
	left := inner.Sqrt()
	right, err := reserveIn.MulDiv(safemath.Fee1000, safemath.Fee997)
	if err != nil {
		return ArbTrade{}, err
	}
	return ArbTrade{Buy: !sell, AmountIn: left.SaturatingSub(right)}, nil
}

// TryArb fills part of o against the pool when the pool is mispriced
// relative to ref. The fill never exceeds the order's balance; a buy also
// never takes more Secondary than it still wants. Orders only trade in their
// own direction. A sell with a zero reference price is a market sell and
// dumps its whole balance into the pool.
//
// The returned trade is nil when nothing was filled.
func TryArb(bal Balances, r LPReserve, o *orderbook.Order, ref safemath.SafeUint) (LPReserve, *orderbook.Trade, error) {
	if !r.Exists() || r.Empty() || o.Balance.IsZero() {
		return r, nil, nil
	}
	buy := o.Side == orderbook.Buy

	var input safemath.SafeUint
	if !buy && ref.IsZero() {
		input = o.Balance
	} else {
		t, err := ComputeProfitMaximizingTrade(ref, r)
		if err != nil {
			return r, nil, err
		}
		if t.Buy != buy || t.AmountIn.IsZero() {
			return r, nil, nil
		}
		input = safemath.Min(t.AmountIn, o.Balance)
		if buy {
			if o.Amount.IsZero() {
				return r, nil, nil
			}
			if maxIn, err := r.AmountIn(o.Amount, true); err == nil {
				input = safemath.Min(input, maxIn)
			}
		}
	}

	out, err := r.AmountOut(input, buy)
	if err != nil {
		return r, nil, err
	}
	if out.IsZero() {
		return r, nil, nil
	}

	next, out, err := SwapLP(bal, o.Pair, r, input, buy, o.PlacedBy)
	if err != nil {
		return r, nil, err
	}
	if err := o.Debit(input, out); err != nil {
		return r, nil, err
	}

	base, quote := input, out
	if buy {
		base, quote = out, input
	}
	trade := orderbook.PoolTrade(o, base, quote)
	return next, &trade, nil
}
