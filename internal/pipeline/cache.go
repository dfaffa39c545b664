package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/geofetch/internal/core/model"
	"github.com/mohammed-shakir/geofetch/internal/core/observability"
)

// load returns the decoded collections found under ks. Misses, backend
// errors and undecodable entries all count as misses.
func (e *Engine) load(ctx context.Context, req Request, ks []string) map[string]*model.Collection {
	out := make(map[string]*model.Collection, len(ks))
	if req.NoCache {
		return out
	}
	raw, err := e.cache.MGet(ctx, ks)
	if err != nil {
		e.logger.WarnContext(ctx, "cache read failed", "keys", len(ks), "err", err)
		raw = nil
	}
	for _, k := range ks {
		b, ok := raw[k]
		if !ok {
			observability.IncCacheMiss()
			continue
		}
		c, err := decode(b)
		if err != nil {
			e.logger.WarnContext(ctx, "dropping bad cache entry", "key", k, "err", err)
			observability.IncCacheMiss()
			continue
		}
		observability.IncCacheHit()
		e.logger.DebugContext(ctx, "cache hit", "key", k)
		out[k] = c
	}
	return out
}

func (e *Engine) save(ctx context.Context, req Request, key string, c *model.Collection) {
	if req.NoCache || len(c.Layers()) == 0 {
		return
	}
	b, err := encode(c)
	if err != nil {
		e.logger.WarnContext(ctx, "cache encode failed", "key", key, "err", err)
		return
	}
	if err := e.cache.Set(ctx, key, b, e.ttl); err != nil {
		e.logger.WarnContext(ctx, "cache write failed", "key", key, "err", err)
	}
}

// encode stores a collection as a JSON array of its layers' GeoJSON. The
// "types" member of each layer keeps integer and time columns typed
// across a cache hit.
func encode(c *model.Collection) ([]byte, error) {
	fcs := make([]*geojson.FeatureCollection, 0, 3)
	for _, l := range c.Layers() {
		fcs = append(fcs, l.GeoJSON())
	}
	b, err := json.Marshal(fcs)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", c.Name, err)
	}
	return b, nil
}

func decode(b []byte) (*model.Collection, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("decode cached layers: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("decode cached layers: empty entry")
	}
	c := &model.Collection{}
	for _, r := range raw {
		l, err := model.LayerFromJSON(r)
		if err != nil {
			return nil, fmt.Errorf("decode cached layer: %w", err)
		}
		c.Set(l)
	}
	return c, nil
}
