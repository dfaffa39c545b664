package invalidation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/geofetch/internal/cache/keys"
	"github.com/mohammed-shakir/geofetch/internal/core/observability"
)

// Deleter is the part of cache.Interface invalidation needs.
type Deleter interface {
	DelPrefix(ctx context.Context, prefix string) (int, error)
}

// Invalidator maps events onto cache key prefixes. Events older than the
// last one applied to the same layer are skipped, so redelivered or
// reordered messages do not repeat work.
type Invalidator struct {
	cache  Deleter
	schema string
	logger *slog.Logger

	mu   sync.Mutex
	seen *lru.Cache[string, time.Time]
}

// NewInvalidator qualifies unqualified postgis layers with schema.
func NewInvalidator(c Deleter, schema string, logger *slog.Logger) *Invalidator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	seen, _ := lru.New[string, time.Time](4096)
	return &Invalidator{cache: c, schema: schema, logger: logger, seen: seen}
}

// Apply validates ev and removes the layer's cache entries. It reports the
// number of removed keys, or -1 when the event was a duplicate.
func (v *Invalidator) Apply(ctx context.Context, ev Event) (int, error) {
	if err := ev.Validate(); err != nil {
		observability.ObserveInvalidation(ev.Op, 0, err)
		return 0, err
	}
	prefix := v.Prefix(ev.source(), ev.Layer)
	if !v.newer(prefix, ev.TS) {
		observability.ObserveInvalidation(ev.Op, -1, nil)
		v.logger.DebugContext(ctx, "stale invalidation skipped", "layer", ev.Layer, "ts", ev.TS)
		return -1, nil
	}
	n, err := v.cache.DelPrefix(ctx, prefix)
	observability.ObserveInvalidation(ev.Op, n, err)
	if err != nil {
		v.forget(prefix)
		return n, fmt.Errorf("invalidate %s: %w", ev.Layer, err)
	}
	v.logger.InfoContext(ctx, "layer invalidated", "source", ev.source(), "layer", ev.Layer, "op", ev.Op, "keys", n)
	return n, nil
}

// Prefix is the cache key prefix of a layer.
func (v *Invalidator) Prefix(source, layer string) string {
	layer = strings.TrimSpace(layer)
	if source == "postgis" && v.schema != "" && !strings.Contains(layer, ".") {
		layer = v.schema + "." + layer
	}
	return keys.LayerPrefix(source, layer)
}

func (v *Invalidator) newer(prefix string, ts time.Time) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if last, ok := v.seen.Get(prefix); ok && !ts.After(last) {
		return false
	}
	v.seen.Add(prefix, ts)
	return true
}

func (v *Invalidator) forget(prefix string) {
	v.mu.Lock()
	v.seen.Remove(prefix)
	v.mu.Unlock()
}
