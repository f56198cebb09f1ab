package maker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"exchange/internal/engine"
	"exchange/internal/jobs"
	"exchange/internal/market"
	"exchange/internal/orderbook"
	"exchange/internal/safemath"
	"exchange/internal/store"
)

var pair = market.NewPair("USDC", "ETH")

func d(s string) safemath.SafeUint {
	return safemath.MustParseDecimal(s)
}

// newExchange returns an engine with a 100 ETH / 200 USDC pool and a funded
// maker account.
func newExchange(t *testing.T, pool *jobs.Pool) *engine.Engine {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "maker.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	m, err := market.Parse("USDC", "ETH", "0.001")
	require.NoError(t, err)
	eng := engine.New(zaptest.NewLogger(t), st, pool, market.NewRegistry(m), nil, engine.DefaultConfig())

	ctx := context.Background()
	require.NoError(t, eng.Credit(ctx, "lp", "ETH", d("100")))
	require.NoError(t, eng.Credit(ctx, "lp", "USDC", d("200")))
	_, err = eng.MintLP(ctx, "lp", pair, d("100"), d("200"))
	require.NoError(t, err)

	require.NoError(t, eng.Credit(ctx, "mm", "ETH", d("50")))
	require.NoError(t, eng.Credit(ctx, "mm", "USDC", d("100")))
	return eng
}

func testConfig() Config {
	return Config{User: "mm", Spread: "0.01", Levels: 2, Size: "1", Interval: 10 * time.Millisecond}
}

func TestRequoteLaddersAroundPoolPrice(t *testing.T) {
	eng := newExchange(t, nil)
	m, err := New(zaptest.NewLogger(t), eng, []market.Pair{pair}, testConfig())
	require.NoError(t, err)

	n, err := m.Requote(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	book, err := eng.Book(context.Background(), pair, 0)
	require.NoError(t, err)
	require.Len(t, book.Bids, 2)
	require.Len(t, book.Asks, 2)
	assert.True(t, book.Bids[0].Price.Equal(d("1.98")), "best bid %s", book.Bids[0].Price.FormatDecimal())
	assert.True(t, book.Bids[1].Price.Equal(d("1.96")))
	assert.True(t, book.Asks[0].Price.Equal(d("2.02")), "best ask %s", book.Asks[0].Price.FormatDecimal())
	assert.True(t, book.Asks[1].Price.Equal(d("2.04")))

	// Nothing crossed the pool.
	info, err := eng.Pool(context.Background(), pair)
	require.NoError(t, err)
	assert.True(t, info.Reserve0.Equal(d("100")))
}

func TestRequoteReplacesPreviousLadder(t *testing.T) {
	eng := newExchange(t, nil)
	m, err := New(zaptest.NewLogger(t), eng, []market.Pair{pair}, testConfig())
	require.NoError(t, err)

	ctx := context.Background()
	_, err = m.Requote(ctx)
	require.NoError(t, err)
	n, err := m.Requote(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	orders, err := eng.OpenOrders(ctx, "mm")
	require.NoError(t, err)
	assert.Len(t, orders, 4)
}

func TestRequoteToleratesFilledOrders(t *testing.T) {
	eng := newExchange(t, nil)
	m, err := New(zaptest.NewLogger(t), eng, []market.Pair{pair}, testConfig())
	require.NoError(t, err)

	ctx := context.Background()
	_, err = m.Requote(ctx)
	require.NoError(t, err)

	// A taker buys from the pool up to 2.02 and then takes the whole
	// 2.02 ask, which leaves the book.
	require.NoError(t, eng.Credit(ctx, "taker", "USDC", d("10")))
	res, err := eng.PlaceOrder(ctx, engine.OrderRequest{
		User: "taker", Pair: pair, Side: orderbook.Buy,
		Price: d("2.02"), Amount: d("2"), Mode: orderbook.ImmediateOrCancel,
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.Trades)
	orders, err := eng.OpenOrders(ctx, "mm")
	require.NoError(t, err)
	require.Len(t, orders, 3)

	n, err := m.Requote(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestRequoteSkipsLevelsWithoutInventory(t *testing.T) {
	eng := newExchange(t, nil)
	cfg := testConfig()
	cfg.Size = "40"
	m, err := New(zaptest.NewLogger(t), eng, []market.Pair{pair}, cfg)
	require.NoError(t, err)

	// 100 USDC and 50 ETH cover one 40 ETH level per side.
	n, err := m.Requote(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRequoteWithoutPool(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "maker.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	mk, err := market.Parse("USDC", "ETH", "")
	require.NoError(t, err)
	eng := engine.New(zap.NewNop(), st, nil, market.NewRegistry(mk), nil, engine.DefaultConfig())

	m, err := New(zap.NewNop(), eng, []market.Pair{pair}, testConfig())
	require.NoError(t, err)
	n, err := m.Requote(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNewValidatesConfig(t *testing.T) {
	for _, cfg := range []Config{
		{Spread: "1"},
		{Spread: "-0.1"},
		{Spread: "x"},
		{Size: "0"},
	} {
		_, err := New(zap.NewNop(), nil, nil, cfg)
		assert.Error(t, err, "%+v", cfg)
	}

	m, err := New(zap.NewNop(), nil, nil, Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().User, m.User())
}

func TestStartQuotesOnThePool(t *testing.T) {
	cfg := jobs.DefaultConfig()
	cfg.Workers = 2
	cfg.PingInterval = 0
	pool := jobs.NewPool(zap.NewNop(), cfg)
	pool.Start()
	t.Cleanup(func() {
		pool.Abort()
		pool.JoinAll()
	})

	eng := newExchange(t, pool)
	mc := testConfig()
	mc.Interval = time.Hour
	m, err := New(zaptest.NewLogger(t), eng, []market.Pair{pair}, mc)
	require.NoError(t, err)
	m.Start(pool)

	assert.Eventually(t, func() bool {
		orders, err := eng.OpenOrders(context.Background(), "mm")
		return err == nil && len(orders) == 4
	}, 2*time.Second, 10*time.Millisecond)
}
