package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/gamelink/internal/core/domain"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8100
	}
	if cfg.ZMQ.Address == "" {
		cfg.ZMQ.Address = "tcp://127.0.0.1:28555"
	}
	if cfg.Chain.RPCTimeout == 0 {
		cfg.Chain.RPCTimeout = 10 * time.Second
	}
	if cfg.Sync.PruningDepth == 0 {
		cfg.Sync.PruningDepth = 1000
	}
	if cfg.Sync.ResyncInterval == 0 {
		cfg.Sync.ResyncInterval = 30 * time.Second
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "memory"
	}
	if cfg.Cache.MinDepth == 0 {
		cfg.Cache.MinDepth = cfg.Sync.PruningDepth
	}
	if cfg.Cache.Retain == 0 {
		cfg.Cache.Retain = 4096
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

func validate(cfg *AppConfig) error {
	if !cfg.Chain.Kind.Valid() {
		return fmt.Errorf("invalid chain kind %q", cfg.Chain.Kind)
	}
	if cfg.Chain.RPCURL == "" {
		return fmt.Errorf("chain.rpc_url is required")
	}
	if cfg.Chain.Kind == domain.ChainKindEth && cfg.Chain.AccountsContract == "" {
		return fmt.Errorf("chain.accounts_contract is required for eth chains")
	}
	switch cfg.Cache.Backend {
	case "none", "memory", "redis", "postgres":
	default:
		return fmt.Errorf("invalid cache backend %q", cfg.Cache.Backend)
	}
	if cfg.Cache.Backend == "redis" && cfg.Redis.URL == "" {
		return fmt.Errorf("redis.url is required for the redis cache backend")
	}
	if cfg.Cache.Backend == "postgres" && cfg.Database.URL == "" {
		return fmt.Errorf("database.url is required for the postgres cache backend")
	}
	return nil
}
