// Package amm is the constant-product pool each market owns as a liquidity
// backstop for its order book.
//
// Reserve0 holds the pair's Secondary coin and Reserve1 its Primary coin, so
// the pool price Reserve1/Reserve0 is quoted the same way as order prices.
// Swaps charge a 0.3% fee which stays in the pool.
package amm

import (
	"exchange/internal/fault"
	"exchange/internal/market"
	"exchange/internal/safemath"
)

var (
	ErrPoolNotFound                = fault.NewBusiness("pool does not exist")
	ErrPoolEmpty                   = fault.NewBusiness("pool has no liquidity")
	ErrInsufficientInputAmount     = fault.NewBusiness("insufficient input amount")
	ErrInsufficientOutputAmount    = fault.NewBusiness("insufficient output amount")
	ErrInsufficientLiquidity       = fault.NewBusiness("insufficient liquidity")
	ErrInsufficientLiquidityMinted = fault.NewBusiness("insufficient liquidity minted")
	ErrInsufficientLiquidityBurned = fault.NewBusiness("insufficient liquidity burned")
	ErrInvariantDecreased          = fault.NewCritical("swap decreased pool invariant")
)

// Balances is the ledger surface pool operations move coins through.
type Balances interface {
	Credit(coin, user string, amount safemath.SafeUint) error
	Debit(coin, user string, amount safemath.SafeUint) error
}

// LPReserve is a pool snapshot. It is passed by value; the latest value
// returned by an operation is the one to persist.
type LPReserve struct {
	Reserve0    safemath.SafeUint `json:"reserve0"`
	Reserve1    safemath.SafeUint `json:"reserve1"`
	TotalSupply safemath.SafeUint `json:"total_supply"`
	// Insert is set when no row exists yet for the pair.
	Insert bool `json:"-"`
}

// Exists reports whether the pool row exists.
func (r LPReserve) Exists() bool {
	return !r.Insert
}

// Empty reports whether either reserve is zero.
func (r LPReserve) Empty() bool {
	return r.Reserve0.IsZero() || r.Reserve1.IsZero()
}

// Invariant is Reserve0*Reserve1.
func (r LPReserve) Invariant() safemath.SafeUint {
	return r.Reserve0.Mul(r.Reserve1)
}

// Price is the pool's implied price of one Secondary in Primary, scaled by
// Ether. An empty pool has price zero.
func (r LPReserve) Price() safemath.SafeUint {
	if r.Empty() {
		return safemath.Zero
	}
	p, _ := r.Reserve1.MulDiv(safemath.Ether, r.Reserve0)
	return p
}

// reserves orders the pool sides for a swap. A buy pays Primary in and takes
// Secondary out.
func (r LPReserve) reserves(buy bool) (in, out safemath.SafeUint) {
	if buy {
		return r.Reserve1, r.Reserve0
	}
	return r.Reserve0, r.Reserve1
}

// AmountOut is what the pool pays for input after the fee.
func (r LPReserve) AmountOut(input safemath.SafeUint, buy bool) (safemath.SafeUint, error) {
	if r.Empty() {
		return safemath.SafeUint{}, ErrPoolEmpty
	}
	rIn, rOut := r.reserves(buy)
	withFee := input.Mul(safemath.Fee997)
	return withFee.MulDiv(rOut, rIn.Mul(safemath.Fee1000).Add(withFee))
}

// AmountIn is the smallest input that yields at least output.
func (r LPReserve) AmountIn(output safemath.SafeUint, buy bool) (safemath.SafeUint, error) {
	if r.Empty() {
		return safemath.SafeUint{}, ErrPoolEmpty
	}
	rIn, rOut := r.reserves(buy)
	if output.GreaterEq(rOut) {
		return safemath.SafeUint{}, ErrInsufficientLiquidity
	}
	left, _ := rOut.Sub(output)
	in, err := rIn.Mul(output).Mul(safemath.Fee1000).Div(left.Mul(safemath.Fee997))
	if err != nil {
		return safemath.SafeUint{}, err
	}
	return in.Add(safemath.One), nil
}

// MintLP deposits amount0 of Secondary and amount1 of Primary from user and
// credits the minted LP shares. The first mint locks MinimumLiquidity shares
// forever.
func MintLP(bal Balances, pair market.Pair, r LPReserve, amount0, amount1 safemath.SafeUint, user string) (LPReserve, safemath.SafeUint, error) {
	if amount0.IsZero() || amount1.IsZero() {
		return r, safemath.SafeUint{}, ErrInsufficientInputAmount
	}
	if err := bal.Debit(pair.Secondary, user, amount0); err != nil {
		return r, safemath.SafeUint{}, err
	}
	if err := bal.Debit(pair.Primary, user, amount1); err != nil {
		return r, safemath.SafeUint{}, err
	}

	var liquidity safemath.SafeUint
	supply := r.TotalSupply
	if supply.IsZero() {
		liquidity = amount0.Mul(amount1).Sqrt().SaturatingSub(safemath.MinimumLiquidity)
		supply = supply.Add(safemath.MinimumLiquidity)
	} else {
		if r.Empty() {
			return r, safemath.SafeUint{}, fault.Criticalf("pool %s has supply but no reserves", pair)
		}
		l0, err := amount0.MulDiv(r.TotalSupply, r.Reserve0)
		if err != nil {
			return r, safemath.SafeUint{}, err
		}
		l1, err := amount1.MulDiv(r.TotalSupply, r.Reserve1)
		if err != nil {
			return r, safemath.SafeUint{}, err
		}
		liquidity = safemath.Min(l0, l1)
	}
	if liquidity.IsZero() {
		return r, safemath.SafeUint{}, ErrInsufficientLiquidityMinted
	}
	if err := bal.Credit(pair.LPCoin(), user, liquidity); err != nil {
		return r, safemath.SafeUint{}, err
	}

	return LPReserve{
		Reserve0:    r.Reserve0.Add(amount0),
		Reserve1:    r.Reserve1.Add(amount1),
		TotalSupply: supply.Add(liquidity),
		Insert:      r.Insert,
	}, liquidity, nil
}

// BurnLP redeems amount LP shares of user for a proportional share of both
// reserves.
func BurnLP(bal Balances, pair market.Pair, r LPReserve, amount safemath.SafeUint, user string) (LPReserve, safemath.SafeUint, safemath.SafeUint, error) {
	zero := safemath.SafeUint{}
	if !r.Exists() || r.TotalSupply.IsZero() {
		return r, zero, zero, ErrPoolNotFound
	}
	if amount.IsZero() {
		return r, zero, zero, ErrInsufficientLiquidityBurned
	}
	if err := bal.Debit(pair.LPCoin(), user, amount); err != nil {
		return r, zero, zero, err
	}

	out0, err := r.Reserve0.MulDiv(amount, r.TotalSupply)
	if err != nil {
		return r, zero, zero, err
	}
	out1, err := r.Reserve1.MulDiv(amount, r.TotalSupply)
	if err != nil {
		return r, zero, zero, err
	}
	if out0.IsZero() || out1.IsZero() {
		return r, zero, zero, ErrInsufficientLiquidityBurned
	}

	next := LPReserve{Insert: r.Insert}
	if next.Reserve0, err = r.Reserve0.Sub(out0); err != nil {
		return r, zero, zero, err
	}
	if next.Reserve1, err = r.Reserve1.Sub(out1); err != nil {
		return r, zero, zero, err
	}
	if next.TotalSupply, err = r.TotalSupply.SubWith(amount, "burn exceeds pool supply", true); err != nil {
		return r, zero, zero, err
	}

	if err := bal.Credit(pair.Secondary, user, out0); err != nil {
		return r, zero, zero, err
	}
	if err := bal.Credit(pair.Primary, user, out1); err != nil {
		return r, zero, zero, err
	}
	return next, out0, out1, nil
}

// SwapLP trades input, already taken from user, against the pool and
// credits the output to user. The caller persists the returned reserve.
func SwapLP(bal Balances, pair market.Pair, r LPReserve, input safemath.SafeUint, buy bool, user string) (LPReserve, safemath.SafeUint, error) {
	zero := safemath.SafeUint{}
	if input.IsZero() {
		return r, zero, ErrInsufficientInputAmount
	}
	if !r.Exists() || r.Empty() {
		return r, zero, ErrPoolEmpty
	}
	out, err := r.AmountOut(input, buy)
	if err != nil {
		return r, zero, err
	}
	if out.IsZero() {
		return r, zero, ErrInsufficientOutputAmount
	}

	next := r
	outCoin := pair.Primary
	if buy {
		outCoin = pair.Secondary
		next.Reserve1 = r.Reserve1.Add(input)
		next.Reserve0, err = r.Reserve0.Sub(out)
	} else {
		next.Reserve0 = r.Reserve0.Add(input)
		next.Reserve1, err = r.Reserve1.Sub(out)
	}
	if err != nil {
		return r, zero, err
	}
	if next.Empty() {
		return r, zero, fault.Criticalf("swap would drain pool %s", pair)
	}
	if next.Invariant().Less(r.Invariant()) {
		return r, zero, ErrInvariantDecreased
	}

	if err := bal.Credit(outCoin, user, out); err != nil {
		return r, zero, err
	}
	return next, out, nil
}
