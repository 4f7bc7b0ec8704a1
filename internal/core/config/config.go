package config

import (
	"time"

	"github.com/vietddude/gamelink/internal/core/domain"
	"github.com/vietddude/gamelink/internal/infra/storage/postgres"
	redisstore "github.com/vietddude/gamelink/internal/infra/storage/redis"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig      `yaml:"server"`
	ZMQ      ZMQConfig         `yaml:"zmq"`
	Chain    ChainConfig       `yaml:"chain"`
	Sync     SyncConfig        `yaml:"sync"`
	Games    []string          `yaml:"games"`
	Cache    CacheConfig       `yaml:"cache"`
	Redis    redisstore.Config `yaml:"redis"`
	Database postgres.Config   `yaml:"database"`
	Logging  LoggingConfig     `yaml:"logging"`
}

// ServerConfig holds the JSON-RPC server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
	// HealthPort serves liveness and metrics; 0 disables it.
	HealthPort int `yaml:"health_port"`
}

// ZMQConfig holds the notification transport settings.
type ZMQConfig struct {
	Address string `yaml:"address"`
}

// ChainConfig selects and configures the base-chain connection.
type ChainConfig struct {
	Kind       domain.ChainKind `yaml:"kind"`
	RPCURL     string           `yaml:"rpc_url"`
	RPCTimeout time.Duration    `yaml:"rpc_timeout"`

	// Account-based chains only: the contract emitting move events and
	// the allow-list of contracts watched for pending moves.
	AccountsContract string   `yaml:"accounts_contract"`
	WatchedContracts []string `yaml:"watched_contracts"`

	// Network overrides the name derived from the chain id.
	Network string `yaml:"network"`

	// Pending enables mempool tracking when the node supports it.
	Pending bool `yaml:"pending"`
}

// SyncConfig tunes the chain follower.
type SyncConfig struct {
	PruningDepth   uint64        `yaml:"pruning_depth"`
	ResyncInterval time.Duration `yaml:"resync_interval"`
	SanityChecks   bool          `yaml:"sanity_checks"`
}

// CacheConfig selects the block-cache backend.
type CacheConfig struct {
	// Backend is one of none, memory, redis and postgres.
	Backend string `yaml:"backend"`
	// MinDepth below the tip at which a block is considered settled
	// enough to cache.
	MinDepth uint64 `yaml:"min_depth"`
	// Retain bounds the memory backend, in heights. 0 means unbounded.
	Retain uint64 `yaml:"retain"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}
