// Package redis provides the Redis-backed block store, one JSON document
// per height with a bounded lifetime.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/gamelink/internal/core/domain"
)

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	// TTL after which cached blocks expire; zero keeps them forever.
	TTL time.Duration `yaml:"ttl"`
}

type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore connects to Redis and verifies the connection.
func NewStore(cfg Config) (*Store, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Store{rdb: rdb, ttl: cfg.TTL}, nil
}

func blockKey(height uint64) string {
	return fmt.Sprintf("blocks:%d", height)
}

func (s *Store) GetRange(
	ctx context.Context,
	start, count uint64,
) ([]domain.Block, error) {
	keys := make([]string, 0, count)
	for h := start; h < start+count; h++ {
		keys = append(keys, blockKey(h))
	}

	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget failed: %w", err)
	}

	blocks := make([]domain.Block, 0, count)
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			return nil, nil
		}
		var blk domain.Block
		if err := json.Unmarshal([]byte(raw), &blk); err != nil {
			return nil, fmt.Errorf("corrupt cached block: %w", err)
		}
		blocks = append(blocks, blk)
	}
	return blocks, nil
}

func (s *Store) PutRange(ctx context.Context, blocks []domain.Block) error {
	if len(blocks) == 0 {
		return nil
	}

	pipe := s.rdb.Pipeline()
	for _, blk := range blocks {
		data, err := json.Marshal(blk)
		if err != nil {
			return fmt.Errorf("failed to marshal block %s: %w", blk.Hash, err)
		}
		pipe.Set(ctx, blockKey(blk.Height), data, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pipeline failed: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.rdb.Close()
}
