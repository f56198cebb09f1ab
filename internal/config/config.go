// Package config loads exchange settings from defaults, an optional YAML
// file and EXCHANGE_* environment variables, in increasing precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"exchange/internal/engine"
	"exchange/internal/events"
	"exchange/internal/jobs"
	"exchange/internal/maker"
	"exchange/internal/market"
	"exchange/internal/wallet"
)

type Config struct {
	Log       LogConfig          `mapstructure:"log"`
	HTTP      HTTPConfig         `mapstructure:"http"`
	Database  DatabaseConfig     `mapstructure:"database"`
	Scheduler jobs.Config        `mapstructure:"scheduler"`
	Engine    engine.Config      `mapstructure:"engine"`
	Kafka     events.KafkaConfig `mapstructure:"kafka"`
	Events    events.AsyncConfig `mapstructure:"events"`
	Wallet    wallet.Config      `mapstructure:"wallet"`
	Maker     maker.Config       `mapstructure:"maker"`
	Markets   []MarketConfig     `mapstructure:"markets"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	RateLimit       int           `mapstructure:"rate_limit"`
	RateWindow      time.Duration `mapstructure:"rate_window"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type MarketConfig struct {
	Primary   string `mapstructure:"primary"`
	Secondary string `mapstructure:"secondary"`
	MinOrder  string `mapstructure:"min_order"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")

	v.SetDefault("http.addr", ":8088")
	v.SetDefault("http.rate_limit", 100)
	v.SetDefault("http.rate_window", time.Second)
	v.SetDefault("http.shutdown_timeout", 5*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "exchange.db")

	sched := jobs.DefaultConfig()
	v.SetDefault("scheduler.workers", sched.Workers)
	v.SetDefault("scheduler.idle_wake", sched.IdleWake)
	v.SetDefault("scheduler.ping_interval", sched.PingInterval)
	v.SetDefault("scheduler.overload_threshold", sched.OverloadThreshold)

	eng := engine.DefaultConfig()
	v.SetDefault("engine.chart_intervals", eng.ChartIntervals)
	v.SetDefault("engine.book_depth", eng.BookDepth)

	v.SetDefault("kafka.topic", "exchange.events")
	v.SetDefault("kafka.timeout", 5*time.Second)
	v.SetDefault("events.buffer", 4096)
	v.SetDefault("events.timeout", 5*time.Second)

	w := wallet.DefaultConfig()
	v.SetDefault("wallet.lead", false)
	v.SetDefault("wallet.confirmations", w.Confirmations)
	v.SetDefault("wallet.deposit_address", "")
	v.SetDefault("wallet.native_coin", w.NativeCoin)
	v.SetDefault("wallet.poll_interval", w.PollInterval)
	v.SetDefault("wallet.batch_size", w.BatchSize)
	v.SetDefault("wallet.max_attempts", w.MaxAttempts)

	mm := maker.DefaultConfig()
	v.SetDefault("maker.enabled", false)
	v.SetDefault("maker.user", mm.User)
	v.SetDefault("maker.spread", mm.Spread)
	v.SetDefault("maker.levels", mm.Levels)
	v.SetDefault("maker.size", mm.Size)
	v.SetDefault("maker.interval", mm.Interval)

	v.SetDefault("markets", []map[string]any{
		{"primary": "USDC", "secondary": "ETH", "min_order": "0.001"},
	})
}

// Load reads the configuration. path may be empty.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("EXCHANGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if _, err := cfg.Registry(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Registry builds the market registry from the configured markets.
func (c *Config) Registry() (*market.Registry, error) {
	if len(c.Markets) == 0 {
		return nil, fmt.Errorf("no markets configured")
	}
	markets := make([]market.Market, 0, len(c.Markets))
	seen := make(map[market.Pair]bool)
	for _, mc := range c.Markets {
		m, err := market.Parse(mc.Primary, mc.Secondary, mc.MinOrder)
		if err != nil {
			return nil, err
		}
		if seen[m.Pair] {
			return nil, fmt.Errorf("market %s configured twice", m.Pair)
		}
		seen[m.Pair] = true
		markets = append(markets, m)
	}
	return market.NewRegistry(markets...), nil
}
