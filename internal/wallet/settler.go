package wallet

import (
	"context"
	"time"

	"go.uber.org/zap"

	"exchange/internal/jobs"
	"exchange/internal/safemath"
	"exchange/internal/store"
)

// Config configures the settler.
type Config struct {
	Lead          bool          `mapstructure:"lead"`
	RPCURL        string        `mapstructure:"rpc_url"`
	Confirmations uint64        `mapstructure:"confirmations"`
	// DepositAddress receives every deposit. Transactions paying elsewhere
	// are not credited.
	DepositAddress string           `mapstructure:"deposit_address"`
	NativeCoin     string           `mapstructure:"native_coin"`
	Tokens         map[string]Token `mapstructure:"tokens"`
	PollInterval   time.Duration    `mapstructure:"poll_interval"`
	BatchSize      int              `mapstructure:"batch_size"`
	// MaxAttempts fails a transfer still pending after this many polls.
	// Zero keeps polling forever.
	MaxAttempts int `mapstructure:"max_attempts"`
}

func DefaultConfig() Config {
	return Config{
		Confirmations: 12,
		NativeCoin:    "ETH",
		PollInterval:  15 * time.Second,
		BatchSize:     100,
		MaxAttempts:   240,
	}
}

// Queue lists transfers waiting on the chain.
type Queue interface {
	PendingTransfers(ctx context.Context, limit int) ([]*store.Transfer, error)
}

// Applier settles a chain outcome in its own transaction.
type Applier interface {
	ApplyTransfer(ctx context.Context, id string, status store.TransferStatus, observed safemath.SafeUint) (*store.Transfer, error)
}

// Settler polls pending transfers and applies their outcome.
type Settler struct {
	log       *zap.Logger
	queue     Queue
	applier   Applier
	confirmer Confirmer
	cfg       Config
}

func NewSettler(log *zap.Logger, queue Queue, applier Applier, confirmer Confirmer, cfg Config) *Settler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	return &Settler{
		log:       log.Named("wallet"),
		queue:     queue,
		applier:   applier,
		confirmer: confirmer,
		cfg:       cfg,
	}
}

// Start runs the poll loop as a goroutine of pool until the pool aborts.
func (s *Settler) Start(pool *jobs.Pool) {
	pool.Group().Go("wallet-settler", func() {
		s.Run(pool.Context())
	})
}

// Run polls until ctx is done.
func (s *Settler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.log.Info("settler started", zap.Duration("interval", s.cfg.PollInterval))
	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("poll failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce polls one batch and returns how many transfers reached a final
// status.
func (s *Settler) RunOnce(ctx context.Context) (int, error) {
	pending, err := s.queue.PendingTransfers(ctx, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, tr := range pending {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		obs, err := s.confirmer.Observe(ctx, tr)
		if err != nil {
			s.log.Warn("status check failed", zap.String("transfer", tr.ID), zap.Error(err))
			continue
		}
		status := obs.Status
		if status == store.TransferPending && s.cfg.MaxAttempts > 0 && tr.Attempts+1 >= s.cfg.MaxAttempts {
			status = store.TransferFailed
		}
		// Once observed, the outcome commits even if the node is stopping.
		applied, err := s.applier.ApplyTransfer(context.WithoutCancel(ctx), tr.ID, status, obs.Amount)
		if err != nil {
			s.log.Error("apply transfer failed", zap.String("transfer", tr.ID), zap.Error(err))
			continue
		}
		status = applied.Status
		if status != store.TransferPending {
			settled++
			s.log.Info("transfer settled",
				zap.String("transfer", tr.ID),
				zap.String("kind", string(tr.Kind)),
				zap.String("status", string(status)),
				zap.String("amount", applied.Amount.FormatDecimal()),
			)
		}
	}
	return settled, nil
}
