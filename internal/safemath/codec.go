package safemath

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/shopspring/decimal"

	"exchange/internal/fault"
)

// Hex returns the shortest 0x-prefixed form, e.g. "0x0" or "0x1bc16d674ec80000".
func (a SafeUint) Hex() string {
	return hexutil.EncodeBig(a.big())
}

// PaddedHex returns a 0x-prefixed, 64-digit form. Padded values sort
// lexicographically in numeric order, which the store relies on for prices.
func (a SafeUint) PaddedHex() (string, error) {
	if a.big().Cmp(math.MaxBig256) > 0 {
		return "", ErrOutOfRange
	}
	return hexutil.Encode(math.PaddedBigBytes(a.big(), 32)), nil
}

// ParseHex accepts either hex form (or a plain decimal string), up to 256 bits.
func ParseHex(s string) (SafeUint, error) {
	x, ok := math.ParseBig256(s)
	if !ok {
		return SafeUint{}, fault.Criticalf("safeuint: malformed value %q", s)
	}
	return SafeUint{v: x}, nil
}

var etherShift = int32(Decimals)

// ParseDecimal parses a human amount such as "1.25" into its 18-decimal
// integer form. Negative values, excess precision and values above 256 bits
// are business errors.
func ParseDecimal(s string) (SafeUint, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return SafeUint{}, fault.Wrap(fault.Business, err, "invalid amount")
	}
	if d.IsNegative() {
		return SafeUint{}, ErrNegative
	}
	scaled := d.Shift(etherShift)
	if !scaled.IsInteger() {
		return SafeUint{}, fault.Businessf("amount %s has more than %d decimals", s, Decimals)
	}
	v := SafeUint{v: scaled.BigInt()}
	if !v.Fits256() {
		return SafeUint{}, ErrTooLarge
	}
	return v, nil
}

// MustParseDecimal is ParseDecimal for constants and tests.
func MustParseDecimal(s string) SafeUint {
	v, err := ParseDecimal(s)
	if err != nil {
		panic(err)
	}
	return v
}

// FormatDecimal renders the 18-decimal value in human form.
func (a SafeUint) FormatDecimal() string {
	return decimal.NewFromBigInt(new(big.Int).Set(a.big()), -etherShift).String()
}

// MarshalText encodes as a decimal integer string.
func (a SafeUint) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *SafeUint) UnmarshalText(b []byte) error {
	v, err := ParseHex(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}
