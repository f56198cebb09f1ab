// Package safemath provides SafeUint, the only numeric type used for money
// and prices. Values are arbitrary-precision and never negative: an operation
// that would go below zero returns an error instead of wrapping.
package safemath

import (
	"math/big"

	"exchange/internal/fault"
)

// Decimals is the number of implied fractional digits in every amount.
const Decimals = 18

// SafeUint is an immutable non-negative integer. The zero value is 0.
type SafeUint struct {
	v *big.Int
}

var (
	Zero             = FromUint64(0)
	One              = FromUint64(1)
	Ether            = FromBig(new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil))
	Fee997           = FromUint64(997)
	Fee1000          = FromUint64(1000)
	MinimumLiquidity = FromUint64(1000)
)

var (
	ErrUnderflow  = fault.NewCritical("safeuint: subtraction underflow")
	ErrDivByZero  = fault.NewCritical("safeuint: division by zero")
	ErrNegative   = fault.NewBusiness("negative amount")
	ErrOutOfRange = fault.NewCritical("safeuint: value exceeds 256 bits")
	ErrTooLarge   = fault.NewBusiness("amount exceeds 256 bits")
)

func FromUint64(x uint64) SafeUint {
	return SafeUint{v: new(big.Int).SetUint64(x)}
}

// FromBig copies x. It panics on a negative input, which only programming
// errors can produce; external input goes through the parsers.
func FromBig(x *big.Int) SafeUint {
	if x == nil {
		return SafeUint{}
	}
	if x.Sign() < 0 {
		panic("safemath: negative big.Int")
	}
	return SafeUint{v: new(big.Int).Set(x)}
}

func (a SafeUint) big() *big.Int {
	if a.v == nil {
		return new(big.Int)
	}
	return a.v
}

// Big returns a copy of the underlying integer.
func (a SafeUint) Big() *big.Int {
	return new(big.Int).Set(a.big())
}

// Fits256 reports whether a can be stored. Every value taken from outside
// the process must fit.
func (a SafeUint) Fits256() bool {
	return a.big().BitLen() <= 256
}

func (a SafeUint) IsZero() bool {
	return a.v == nil || a.v.Sign() == 0
}

func (a SafeUint) Add(b SafeUint) SafeUint {
	return SafeUint{v: new(big.Int).Add(a.big(), b.big())}
}

// Sub subtracts b. A negative result is always a critical failure.
func (a SafeUint) Sub(b SafeUint) (SafeUint, error) {
	if a.big().Cmp(b.big()) < 0 {
		return SafeUint{}, ErrUnderflow
	}
	return SafeUint{v: new(big.Int).Sub(a.big(), b.big())}, nil
}

// SubWith subtracts b and, on underflow, fails with msg as either a
// business or a critical error.
func (a SafeUint) SubWith(b SafeUint, msg string, critical bool) (SafeUint, error) {
	if a.big().Cmp(b.big()) < 0 {
		kind := fault.Business
		if critical {
			kind = fault.Critical
		}
		return SafeUint{}, fault.New(kind, msg)
	}
	return SafeUint{v: new(big.Int).Sub(a.big(), b.big())}, nil
}

// SaturatingSub returns a-b, or zero when b > a.
func (a SafeUint) SaturatingSub(b SafeUint) SafeUint {
	if a.big().Cmp(b.big()) <= 0 {
		return Zero
	}
	return SafeUint{v: new(big.Int).Sub(a.big(), b.big())}
}

func (a SafeUint) Mul(b SafeUint) SafeUint {
	return SafeUint{v: new(big.Int).Mul(a.big(), b.big())}
}

func (a SafeUint) Div(b SafeUint) (SafeUint, error) {
	if b.IsZero() {
		return SafeUint{}, ErrDivByZero
	}
	return SafeUint{v: new(big.Int).Quo(a.big(), b.big())}, nil
}

func (a SafeUint) Mod(b SafeUint) (SafeUint, error) {
	if b.IsZero() {
		return SafeUint{}, ErrDivByZero
	}
	return SafeUint{v: new(big.Int).Rem(a.big(), b.big())}, nil
}

// MulDiv computes a*b/c rounded down.
func (a SafeUint) MulDiv(b, c SafeUint) (SafeUint, error) {
	return a.Mul(b).Div(c)
}

// MulDivCeil computes a*b/c rounded up.
func (a SafeUint) MulDivCeil(b, c SafeUint) (SafeUint, error) {
	if c.IsZero() {
		return SafeUint{}, ErrDivByZero
	}
	q, r := new(big.Int).QuoRem(new(big.Int).Mul(a.big(), b.big()), c.big(), new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return SafeUint{v: q}, nil
}

func (a SafeUint) Cmp(b SafeUint) int {
	return a.big().Cmp(b.big())
}

func (a SafeUint) Equal(b SafeUint) bool { return a.Cmp(b) == 0 }
func (a SafeUint) Less(b SafeUint) bool { return a.Cmp(b) < 0 }
func (a SafeUint) LessEq(b SafeUint) bool { return a.Cmp(b) <= 0 }
func (a SafeUint) Greater(b SafeUint) bool { return a.Cmp(b) > 0 }
func (a SafeUint) GreaterEq(b SafeUint) bool { return a.Cmp(b) >= 0 }

func Min(a, b SafeUint) SafeUint {
	if a.Less(b) {
		return a
	}
	return b
}

func Max(a, b SafeUint) SafeUint {
	if a.Greater(b) {
		return a
	}
	return b
}

// Sqrt is the integer square root by Newton's method, as used for AMM
// liquidity: 0 for 0, 1 for 1..3.
func (a SafeUint) Sqrt() SafeUint {
	y := a.big()
	three := big.NewInt(3)
	if y.Cmp(three) > 0 {
		z := new(big.Int).Set(y)
		x := new(big.Int).Rsh(y, 1)
		x.Add(x, big.NewInt(1))
		for x.Cmp(z) < 0 {
			z.Set(x)
			x.Quo(y, x)
			x.Add(x, z)
			x.Rsh(x, 1)
		}
		return SafeUint{v: z}
	}
	if y.Sign() != 0 {
		return One
	}
	return Zero
}

// String returns the base-10 representation.
func (a SafeUint) String() string {
	return a.big().String()
}
