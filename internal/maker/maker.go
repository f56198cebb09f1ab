// Package maker runs the house market maker: a ladder of resting limit
// orders on both sides of every market, re-centred on the pool price.
package maker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"exchange/internal/engine"
	"exchange/internal/fault"
	"exchange/internal/jobs"
	"exchange/internal/market"
	"exchange/internal/orderbook"
	"exchange/internal/safemath"
	"exchange/internal/store"
)

type Config struct {
	Enabled bool   `mapstructure:"enabled"`
	User    string `mapstructure:"user"`
	// Spread is the distance between levels as a fraction of the price.
	Spread   string        `mapstructure:"spread"`
	Levels   int           `mapstructure:"levels"`
	Size     string        `mapstructure:"size"`
	Interval time.Duration `mapstructure:"interval"`
}

func DefaultConfig() Config {
	return Config{
		User:     "market_maker",
		Spread:   "0.001",
		Levels:   5,
		Size:     "1",
		Interval: 5 * time.Second,
	}
}

// Exchange is the part of the engine the maker trades through.
type Exchange interface {
	Pool(ctx context.Context, pair market.Pair) (engine.PoolInfo, error)
	PlaceOrder(ctx context.Context, req engine.OrderRequest) (engine.OrderResult, error)
	CancelOrder(ctx context.Context, user string, id int64) (safemath.SafeUint, error)
}

// Maker maintains liquidity around each pool's price. It keeps the ids of
// the orders it placed; those that filled in the meantime are simply gone.
type Maker struct {
	log      *zap.Logger
	exchange Exchange
	pairs    []market.Pair
	user     string
	spread   safemath.SafeUint
	size     safemath.SafeUint
	levels   int
	interval time.Duration

	// orderIDs is only touched from inside requote jobs, which never
	// overlap because Run waits for each one.
	orderIDs map[market.Pair][]int64
}

func New(log *zap.Logger, ex Exchange, pairs []market.Pair, cfg Config) (*Maker, error) {
	def := DefaultConfig()
	if cfg.User == "" {
		cfg.User = def.User
	}
	if cfg.Spread == "" {
		cfg.Spread = def.Spread
	}
	if cfg.Size == "" {
		cfg.Size = def.Size
	}
	if cfg.Levels <= 0 {
		cfg.Levels = def.Levels
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}

	spread, err := safemath.ParseDecimal(cfg.Spread)
	if err != nil {
		return nil, fmt.Errorf("maker spread: %w", err)
	}
	if spread.IsZero() || spread.GreaterEq(safemath.Ether) {
		return nil, fmt.Errorf("maker spread %s must be between 0 and 1", cfg.Spread)
	}
	size, err := safemath.ParseDecimal(cfg.Size)
	if err != nil {
		return nil, fmt.Errorf("maker size: %w", err)
	}
	if size.IsZero() {
		return nil, errors.New("maker size must be positive")
	}

	return &Maker{
		log:      log.Named("maker"),
		exchange: ex,
		pairs:    pairs,
		user:     cfg.User,
		spread:   spread,
		size:     size,
		levels:   cfg.Levels,
		interval: cfg.Interval,
		orderIDs: make(map[market.Pair][]int64),
	}, nil
}

// User is the account the maker trades from. It must be funded.
func (m *Maker) User() string {
	return m.user
}

// Start runs the quote loop as a goroutine of pool until the pool aborts.
func (m *Maker) Start(pool *jobs.Pool) {
	pool.Group().Go("market-maker", func() {
		m.Run(pool.Context(), pool)
	})
}

// Run requotes every interval. Each round is one job, so quotes settle
// alongside user traffic in the pool's order.
func (m *Maker) Run(ctx context.Context, pool *jobs.Pool) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if _, err := jobs.Await(ctx, pool, "maker_requote", m.Requote); err != nil && ctx.Err() == nil {
			m.log.Warn("requote failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Requote cancels the previous ladder of every pair and places a new one.
// It returns the number of orders now resting.
func (m *Maker) Requote(ctx context.Context) (int, error) {
	resting := 0
	for _, pair := range m.pairs {
		if err := m.cancelAll(ctx, pair); err != nil {
			return resting, err
		}
		n, err := m.quote(ctx, pair)
		resting += n
		if err != nil {
			return resting, err
		}
	}
	return resting, nil
}

func (m *Maker) cancelAll(ctx context.Context, pair market.Pair) error {
	for _, id := range m.orderIDs[pair] {
		_, err := m.exchange.CancelOrder(ctx, m.user, id)
		if err != nil && !errors.Is(err, store.ErrOrderNotFound) {
			return err
		}
	}
	m.orderIDs[pair] = nil
	return nil
}

func (m *Maker) quote(ctx context.Context, pair market.Pair) (int, error) {
	info, err := m.exchange.Pool(ctx, pair)
	if err != nil {
		return 0, err
	}
	mid := info.LPReserve.Price()
	if !info.Exists || mid.IsZero() {
		return 0, nil
	}

	for i := 1; i <= m.levels; i++ {
		step, err := mid.MulDiv(m.spread.Mul(safemath.FromUint64(uint64(i))), safemath.Ether)
		if err != nil {
			return 0, err
		}
		if bid := mid.SaturatingSub(step); !bid.IsZero() {
			if err := m.place(ctx, pair, orderbook.Buy, bid); err != nil {
				return len(m.orderIDs[pair]), err
			}
		}
		if err := m.place(ctx, pair, orderbook.Sell, mid.Add(step)); err != nil {
			return len(m.orderIDs[pair]), err
		}
	}
	return len(m.orderIDs[pair]), nil
}

// place submits one level. Business rejections such as running out of
// inventory skip the level; anything else stops the round.
func (m *Maker) place(ctx context.Context, pair market.Pair, side orderbook.Side, price safemath.SafeUint) error {
	res, err := m.exchange.PlaceOrder(ctx, engine.OrderRequest{
		User:   m.user,
		Pair:   pair,
		Side:   side,
		Price:  price,
		Amount: m.size,
		Mode:   orderbook.Limit,
	})
	if fault.IsBusiness(err) {
		m.log.Debug("level skipped",
			zap.Stringer("pair", pair),
			zap.Stringer("side", side),
			zap.String("price", price.FormatDecimal()),
			zap.Error(err),
		)
		return nil
	}
	if err != nil {
		return err
	}
	if res.OrderID != 0 {
		m.orderIDs[pair] = append(m.orderIDs[pair], res.OrderID)
	}
	return nil
}
