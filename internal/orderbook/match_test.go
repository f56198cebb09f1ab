package orderbook

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exchange/internal/fault"
	"exchange/internal/safemath"
)

func newOrder(t *testing.T, side Side, price, amount string) *Order {
	t.Helper()
	o, err := NewOrder(testPair, side, d(price), d(amount), side.String()+"er")
	require.NoError(t, err)
	return o
}

func TestNewOrderEscrow(t *testing.T) {
	buy := newOrder(t, Buy, "2", "1.5")
	assert.True(t, buy.InitialAmount.Equal(d("3")), "buy escrows amount*price of primary")
	assert.True(t, buy.Balance.Equal(d("3")))
	assert.True(t, buy.Amount.Equal(d("1.5")), "buy amount stays in base units")
	assert.Equal(t, "USDC", buy.EscrowCoin())
	assert.Equal(t, "ETH", buy.OutputCoin())

	sell := newOrder(t, Sell, "2", "1.5")
	assert.True(t, sell.InitialAmount.Equal(d("1.5")))
	assert.True(t, sell.Balance.Equal(sell.Amount))
	assert.Equal(t, "ETH", sell.EscrowCoin())
	assert.Equal(t, "USDC", sell.OutputCoin())
}

func TestNewOrderRoundsEscrowUp(t *testing.T) {
	// 1 wei at a price of 0.5 still costs 1 wei of quote.
	o, err := NewOrder(testPair, Buy, d("0.5"), safemath.One, "u")
	require.NoError(t, err)
	assert.True(t, o.InitialAmount.Equal(safemath.One))
}

func TestNewOrderZero(t *testing.T) {
	_, err := NewOrder(testPair, Sell, d("1"), safemath.Zero, "u")
	assert.ErrorIs(t, err, ErrOrderTooSmall)

	_, err = NewOrder(testPair, Buy, safemath.Zero, d("1"), "u")
	assert.ErrorIs(t, err, ErrOrderTooSmall)
}

func TestMatchIncompatiblePrice(t *testing.T) {
	buy := newOrder(t, Buy, "2", "1")
	sell := newOrder(t, Sell, "3", "1")
	before, beforeSell := *buy, *sell

	_, err := MatchOrders(buy, sell)
	require.True(t, errors.Is(err, ErrNoMatch))
	assert.Equal(t, before, *buy, "incoming order must not change")
	assert.Equal(t, beforeSell, *sell, "resting order must not change")
}

func TestMatchAtBetterPrice(t *testing.T) {
	buy := newOrder(t, Buy, "2", "1")
	sell := newOrder(t, Sell, "1", "1")

	fill, err := MatchOrders(buy, sell)
	require.NoError(t, err)

	assert.True(t, fill.Price.Equal(d("1")), "fill executes at the resting price")
	assert.True(t, fill.Base.Equal(d("1")))
	assert.True(t, fill.Quote.Equal(d("1")))
	assert.True(t, buy.Balance.Equal(d("1")), "buyer keeps the unspent half of its escrow")
	assert.True(t, sell.Balance.IsZero())
	assert.True(t, buy.Amount.IsZero())
	assert.True(t, buy.Exhausted())
	assert.True(t, sell.Exhausted())
}

func TestMatchSellIntoRestingBuy(t *testing.T) {
	buy := newOrder(t, Buy, "3", "2")
	sell := newOrder(t, Sell, "2", "0.5")

	fill, err := MatchOrders(sell, buy)
	require.NoError(t, err)

	assert.True(t, fill.Price.Equal(d("3")))
	assert.True(t, fill.Base.Equal(d("0.5")))
	assert.True(t, fill.Quote.Equal(d("1.5")))
	assert.True(t, sell.Balance.IsZero())
	assert.True(t, buy.Balance.Equal(d("4.5")))
	assert.True(t, buy.Amount.Equal(d("1.5")))
	assert.False(t, buy.Exhausted())

	trade := fill.Trade(sell)
	assert.Equal(t, Sell, trade.Side)
	assert.Equal(t, "seller", trade.Taker)
	assert.Equal(t, "buyer", trade.Maker)
}

func TestMatchSellRejectsLowBid(t *testing.T) {
	buy := newOrder(t, Buy, "1", "1")
	sell := newOrder(t, Sell, "2", "1")

	_, err := MatchOrders(sell, buy)
	assert.ErrorIs(t, err, ErrNoMatch)
	assert.True(t, sell.Balance.Equal(d("1")))
}

func TestMatchSameSideIsCritical(t *testing.T) {
	a := newOrder(t, Buy, "1", "1")
	b := newOrder(t, Buy, "1", "1")

	_, err := MatchOrders(a, b)
	assert.True(t, fault.IsCritical(err))
}

func TestMatchExhaustedIsCritical(t *testing.T) {
	buy := newOrder(t, Buy, "2", "1")
	sell := newOrder(t, Sell, "1", "1")
	_, err := MatchOrders(buy, sell)
	require.NoError(t, err)

	other := newOrder(t, Sell, "1", "1")
	_, err = MatchOrders(buy, other)
	assert.True(t, fault.IsCritical(err), "matching a filled order is a broken invariant")
}

func TestBuyCapacityLimitedByBalance(t *testing.T) {
	buy := newOrder(t, Buy, "2", "1")
	// Spend most of the escrow.
	require.NoError(t, buy.Debit(d("1.5"), d("0.1")))

	assert.True(t, buy.Amount.Equal(d("0.9")))
	assert.True(t, buy.Capacity(d("2")).Equal(d("0.25")))
	assert.True(t, buy.Capacity(d("0.5")).Equal(d("0.9")))
}

func TestDebitOverspendIsCritical(t *testing.T) {
	sell := newOrder(t, Sell, "1", "1")
	err := sell.Debit(d("2"), d("2"))
	assert.True(t, fault.IsCritical(err))
	assert.True(t, sell.Balance.Equal(d("1")), "failed debit leaves the order intact")
}

func TestFromRowRoundTrip(t *testing.T) {
	buy := newOrder(t, Buy, "2", "1")
	require.NoError(t, buy.Debit(d("0.5"), d("0.25")))
	buy.ID = 7

	restored, err := FromRow(buy.Row())
	require.NoError(t, err)
	assert.True(t, restored.Balance.Equal(d("1.5")))
	assert.True(t, restored.Amount.Equal(d("0.75")))
	assert.Equal(t, int64(7), restored.ID)
}

func TestFromRowCorrupt(t *testing.T) {
	_, err := FromRow(Row{ID: 1, InitialAmount: d("1"), TotalCost: d("2")})
	assert.True(t, fault.IsCritical(err))
}

func TestCrosses(t *testing.T) {
	buy := newOrder(t, Buy, "2", "1")
	assert.True(t, buy.Crosses(d("2")))
	assert.True(t, buy.Crosses(d("1")))
	assert.False(t, buy.Crosses(d("2.1")))

	sell := newOrder(t, Sell, "2", "1")
	assert.True(t, sell.Crosses(d("2")))
	assert.True(t, sell.Crosses(d("3")))
	assert.False(t, sell.Crosses(d("1.9")))
}

func TestPoolTradePrice(t *testing.T) {
	sell := newOrder(t, Sell, "1", "2")
	tr := PoolTrade(sell, d("2"), d("3"))
	assert.True(t, tr.Price.Equal(d("1.5")))
	assert.Equal(t, PoolMaker, tr.Maker)
}
