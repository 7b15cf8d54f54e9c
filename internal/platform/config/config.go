// Package config defines process configuration and its defaults.
package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Config is the full process configuration.
type Config struct {
	Server       Server       `koanf:"server"`
	Log          Log          `koanf:"log"`
	Database     Database     `koanf:"database"`
	Redis        RedisConfig  `koanf:"redis"`
	Kafka        Kafka        `koanf:"kafka"`
	Chain        Chain        `koanf:"chain"`
	Verification Verification `koanf:"verification"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	AllowedOrigins  []string      `koanf:"allowed_origins"`
}

// Log controls the slog handler.
type Log struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json or text
}

// Database configures the Postgres connection. An empty URL selects the
// in-memory stores.
type Database struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	TxTimeout       time.Duration `koanf:"tx_timeout"` // per workflow transaction
}

// RedisConfig configures the optional Redis connection used for cross-replica locks.
type RedisConfig struct {
	URL          string        `koanf:"url"`
	PoolSize     int           `koanf:"pool_size"`
	MinIdleConns int           `koanf:"min_idle_conns"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	LockTTL      time.Duration `koanf:"lock_ttl"`
}

// Kafka configures the audit outbox relay. No brokers disables the relay.
type Kafka struct {
	Brokers      []string      `koanf:"brokers"`
	Topic        string        `koanf:"topic"`
	PollInterval time.Duration `koanf:"poll_interval"`
	BatchSize    int           `koanf:"batch_size"`
	Retention    time.Duration `koanf:"retention"` // published entries older than this are deleted, 0 keeps them
	PruneEvery   time.Duration `koanf:"prune_every"`
}

// Chain configures the credential contract and signing account.
type Chain struct {
	RPCURL          string        `koanf:"rpc_url"`
	ContractAddress string        `koanf:"contract_address"`
	PrivateKey      string        `koanf:"private_key"`
	ChainID         int64         `koanf:"chain_id"` // 0 asks the node
	GasLimit        uint64        `koanf:"gas_limit"`
	ConfirmTimeout  time.Duration `koanf:"confirm_timeout"`
	SubmitTimeout   time.Duration `koanf:"submit_timeout"`
	SubmitRate      int           `koanf:"submit_rate"`      // submissions per second, 0 = unlimited
	BreakerFailures int           `koanf:"breaker_failures"` // consecutive node failures before failing fast, 0 = off
	BreakerCooldown time.Duration `koanf:"breaker_cooldown"`
}

// Verification holds workflow policy.
type Verification struct {
	DefaultScore      int    `koanf:"default_score"`
	MaxScore          int    `koanf:"max_score"` // 0 disables the upper bound
	MetadataURIPrefix string `koanf:"metadata_uri_prefix"`
}

// defaultAllowedOrigins is applied after loading when no origins are configured.
var defaultAllowedOrigins = []string{"http://localhost:3000"}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Server: Server{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Log: Log{Level: "info", Format: "json"},
		Database: Database{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			TxTimeout:       5 * time.Second,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			LockTTL:      5 * time.Minute,
		},
		Kafka: Kafka{
			Topic:        "skillproof.audit",
			PollInterval: 2 * time.Second,
			BatchSize:    100,
			Retention:    7 * 24 * time.Hour,
			PruneEvery:   time.Hour,
		},
		Chain: Chain{
			GasLimit:        300_000,
			ConfirmTimeout:  2 * time.Minute,
			SubmitTimeout:   30 * time.Second,
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
		},
		Verification: Verification{
			DefaultScore:      75,
			MaxScore:          100,
			MetadataURIPrefix: "ipfs://skill-",
		},
	}
}

// Validate rejects configurations the process cannot run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("chain.rpc_url is required")
	}
	if !common.IsHexAddress(c.Chain.ContractAddress) {
		return fmt.Errorf("chain.contract_address is not a valid address")
	}
	if _, err := crypto.HexToECDSA(strings.TrimPrefix(c.Chain.PrivateKey, "0x")); err != nil {
		// never echo the key material
		return fmt.Errorf("chain.private_key is not a valid secp256k1 key")
	}
	if c.Chain.GasLimit == 0 {
		return fmt.Errorf("chain.gas_limit must be positive")
	}
	if c.Chain.ConfirmTimeout <= 0 {
		return fmt.Errorf("chain.confirm_timeout must be positive")
	}
	if c.Chain.SubmitTimeout <= 0 {
		return fmt.Errorf("chain.submit_timeout must be positive")
	}
	if c.Database.TxTimeout <= 0 {
		return fmt.Errorf("database.tx_timeout must be positive")
	}
	if c.Verification.MaxScore < 0 || c.Verification.MaxScore > math.MaxInt32 {
		return fmt.Errorf("verification.max_score must be between 0 and %d", math.MaxInt32)
	}
	if c.Verification.MaxScore > 0 && c.Verification.DefaultScore > c.Verification.MaxScore {
		return fmt.Errorf("verification.default_score exceeds verification.max_score")
	}
	if c.Redis.URL != "" && c.Redis.LockTTL <= c.ApproveHoldTime() {
		return fmt.Errorf("redis.lock_ttl must exceed %s (chain.submit_timeout + chain.confirm_timeout + 2 x database.tx_timeout)", c.ApproveHoldTime())
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("kafka.topic is required when brokers are set")
	}
	return nil
}

// ApproveHoldTime bounds how long an approval holds its per-request lock: the
// mint (submit and confirmation) plus the persisting transaction and, when
// that fails, the transaction recording the unreconciled mint.
func (c Config) ApproveHoldTime() time.Duration {
	return c.Chain.SubmitTimeout + c.Chain.ConfirmTimeout + 2*c.Database.TxTimeout
}
