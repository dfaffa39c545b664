// Package memstore is an in-process LRU layer cache.
package memstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/geofetch/internal/core/observability"
)

type entry struct {
	val     []byte
	expires time.Time // zero means no expiry
}

type Store struct {
	mu  sync.Mutex
	lru *lru.Cache[string, entry]
	now func() time.Time
}

func New(size int) (*Store, error) {
	if size <= 0 {
		size = 256
	}
	c, err := lru.New[string, entry](size)
	if err != nil {
		return nil, fmt.Errorf("new lru: %w", err)
	}
	return &Store{lru: c, now: time.Now}, nil
}

// MGet returns unexpired values; expired entries are evicted on read.
func (s *Store) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		observability.ObserveCacheOp("mget", err, time.Since(start).Seconds())
		return nil, err
	}
	now := s.now()
	out := make(map[string][]byte, len(keys))

	s.mu.Lock()
	for _, k := range keys {
		e, ok := s.lru.Get(k)
		if !ok {
			continue
		}
		if !e.expires.IsZero() && !now.Before(e.expires) {
			s.lru.Remove(k)
			continue
		}
		out[k] = e.val
	}
	s.mu.Unlock()

	observability.ObserveCacheOp("mget", nil, time.Since(start).Seconds())
	return out, nil
}

func (s *Store) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e := entry{val: append([]byte(nil), val...)}
	if ttl > 0 {
		e.expires = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.lru.Add(key, e)
	s.mu.Unlock()
	observability.ObserveCacheOp("set", nil, 0)
	return nil
}

func (s *Store) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	for _, k := range keys {
		s.lru.Remove(k)
	}
	s.mu.Unlock()
	return nil
}

func (s *Store) DelPrefix(ctx context.Context, prefix string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n := 0
	s.mu.Lock()
	for _, k := range s.lru.Keys() {
		if strings.HasPrefix(k, prefix) && s.lru.Remove(k) {
			n++
		}
	}
	s.mu.Unlock()
	observability.ObserveCacheOp("del", nil, 0)
	return n, nil
}

func (s *Store) Len() int { return s.lru.Len() }

func (s *Store) Close() error {
	s.lru.Purge()
	return nil
}
