package safemath

import (
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exchange/internal/fault"
)

func TestSubUnderflowIsCritical(t *testing.T) {
	_, err := FromUint64(1).Sub(FromUint64(2))
	require.ErrorIs(t, err, ErrUnderflow)
	assert.True(t, fault.IsCritical(err))

	_, err = FromUint64(1).SubWith(FromUint64(2), "not enough", false)
	assert.True(t, fault.IsBusiness(err))
	assert.EqualError(t, err, "not enough")

	v, err := FromUint64(5).Sub(FromUint64(2))
	require.NoError(t, err)
	assert.True(t, v.Equal(FromUint64(3)))
}

func TestSaturatingSub(t *testing.T) {
	assert.True(t, FromUint64(2).SaturatingSub(FromUint64(5)).IsZero())
	assert.True(t, FromUint64(5).SaturatingSub(FromUint64(2)).Equal(FromUint64(3)))
}

func TestZeroValueIsZero(t *testing.T) {
	var z SafeUint
	assert.True(t, z.IsZero())
	assert.Equal(t, "0", z.String())
	assert.True(t, z.Add(One).Equal(One))
}

func TestImmutable(t *testing.T) {
	a := FromUint64(10)
	_ = a.Add(FromUint64(5))
	_ = a.Mul(FromUint64(5))
	assert.True(t, a.Equal(FromUint64(10)))

	b := a.Big()
	b.SetInt64(99)
	assert.True(t, a.Equal(FromUint64(10)))
}

func TestDivision(t *testing.T) {
	_, err := One.Div(Zero)
	assert.ErrorIs(t, err, ErrDivByZero)
	_, err = One.Mod(Zero)
	assert.ErrorIs(t, err, ErrDivByZero)

	q, err := FromUint64(7).Div(FromUint64(2))
	require.NoError(t, err)
	assert.True(t, q.Equal(FromUint64(3)))

	m, err := FromUint64(7).Mod(FromUint64(2))
	require.NoError(t, err)
	assert.True(t, m.Equal(One))
}

func TestMulDivCeil(t *testing.T) {
	floor, err := FromUint64(7).MulDiv(FromUint64(3), FromUint64(2))
	require.NoError(t, err)
	assert.True(t, floor.Equal(FromUint64(10)))

	ceil, err := FromUint64(7).MulDivCeil(FromUint64(3), FromUint64(2))
	require.NoError(t, err)
	assert.True(t, ceil.Equal(FromUint64(11)))

	exact, err := FromUint64(8).MulDivCeil(FromUint64(3), FromUint64(2))
	require.NoError(t, err)
	assert.True(t, exact.Equal(FromUint64(12)))
}

func TestSqrt(t *testing.T) {
	cases := map[uint64]uint64{0: 0, 1: 1, 2: 1, 3: 1, 4: 2, 15: 3, 16: 4, 17: 4, 1 << 40: 1 << 20}
	for in, want := range cases {
		assert.True(t, FromUint64(in).Sqrt().Equal(FromUint64(want)), "sqrt(%d)", in)
	}

	big2 := new(big.Int).Lsh(big.NewInt(1), 200)
	assert.Equal(t, new(big.Int).Lsh(big.NewInt(1), 100).String(), FromBig(big2).Sqrt().String())
}

func TestMinMax(t *testing.T) {
	a, b := FromUint64(3), FromUint64(4)
	assert.True(t, Min(a, b).Equal(a))
	assert.True(t, Max(a, b).Equal(b))
}

func TestDecimalRoundTrip(t *testing.T) {
	v, err := ParseDecimal("1.25")
	require.NoError(t, err)
	assert.Equal(t, "1250000000000000000", v.String())
	assert.Equal(t, "1.25", v.FormatDecimal())
	assert.True(t, Ether.Equal(MustParseDecimal("1")))

	_, err = ParseDecimal("-1")
	assert.ErrorIs(t, err, ErrNegative)

	_, err = ParseDecimal("0.0000000000000000001")
	assert.True(t, fault.IsBusiness(err))

	_, err = ParseDecimal("abc")
	assert.True(t, fault.IsBusiness(err))
}

func TestParseDecimalBoundedTo256Bits(t *testing.T) {
	largest := FromBig(new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1)))
	assert.True(t, largest.Fits256())

	v, err := ParseDecimal(largest.FormatDecimal())
	require.NoError(t, err)
	assert.True(t, v.Equal(largest))

	_, err = ParseDecimal(strings.Repeat("9", 60))
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.True(t, fault.IsBusiness(err))
	assert.False(t, largest.Add(One).Fits256())
}

func TestHexEncoding(t *testing.T) {
	assert.Equal(t, "0x0", Zero.Hex())
	assert.Equal(t, "0xde0b6b3a7640000", Ether.Hex())

	p, err := Ether.PaddedHex()
	require.NoError(t, err)
	assert.Len(t, p, 66)

	back, err := ParseHex(p)
	require.NoError(t, err)
	assert.True(t, back.Equal(Ether))

	_, err = ParseHex("0xzz")
	assert.True(t, fault.IsCritical(err))

	tooBig := FromBig(new(big.Int).Lsh(big.NewInt(1), 256))
	_, err = tooBig.PaddedHex()
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestPaddedHexSortsNumerically(t *testing.T) {
	small, _ := FromUint64(9).PaddedHex()
	large, _ := FromUint64(100).PaddedHex()
	assert.Less(t, small, large)
}

func TestTextMarshaling(t *testing.T) {
	b, err := MustParseDecimal("2").MarshalText()
	require.NoError(t, err)

	var v SafeUint
	require.NoError(t, v.UnmarshalText(b))
	assert.True(t, v.Equal(MustParseDecimal("2")))
}
