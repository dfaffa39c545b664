// Package cache stores encoded layers between fetches.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammed-shakir/geofetch/internal/cache/memstore"
	"github.com/mohammed-shakir/geofetch/internal/cache/redisstore"
	"github.com/mohammed-shakir/geofetch/internal/core/config"
)

type Interface interface {
	MGet(ctx context.Context, keys []string) (map[string][]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	// DelPrefix drops every key starting with prefix and reports how many
	// were removed.
	DelPrefix(ctx context.Context, prefix string) (int, error)
	Close() error
}

// Noop never stores anything.
type Noop struct{}

func (Noop) MGet(context.Context, []string) (map[string][]byte, error) {
	return map[string][]byte{}, nil
}
func (Noop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Noop) Del(context.Context, ...string) error                     { return nil }
func (Noop) DelPrefix(context.Context, string) (int, error)           { return 0, nil }
func (Noop) Close() error                                             { return nil }

// Open returns the backend named by cfg.Driver: none, memory or redis.
func Open(ctx context.Context, cfg config.CacheCfg) (Interface, error) {
	switch cfg.Driver {
	case "", "none", "off":
		return Noop{}, nil
	case "memory", "mem", "lru":
		s, err := memstore.New(cfg.Size)
		if err != nil {
			return nil, fmt.Errorf("open memory cache: %w", err)
		}
		return s, nil
	case "redis":
		c, err := redisstore.New(ctx, cfg.RedisAddr, redisstore.WithOpTimeout(cfg.OpTimeout))
		if err != nil {
			return nil, fmt.Errorf("open redis cache: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown cache driver %q (want none, memory or redis)", cfg.Driver)
	}
}
