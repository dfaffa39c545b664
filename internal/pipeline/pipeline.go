// Package pipeline runs a fetch end to end: query, cache, clip, H3 tagging
// and event publishing.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/paulmach/osm"

	"github.com/mohammed-shakir/geofetch/internal/cache"
	"github.com/mohammed-shakir/geofetch/internal/cache/keys"
	"github.com/mohammed-shakir/geofetch/internal/clip"
	"github.com/mohammed-shakir/geofetch/internal/core/model"
	"github.com/mohammed-shakir/geofetch/internal/core/observability"
	"github.com/mohammed-shakir/geofetch/internal/events"
	"github.com/mohammed-shakir/geofetch/internal/h3index"
	"github.com/mohammed-shakir/geofetch/internal/overpass"
	"github.com/mohammed-shakir/geofetch/internal/postgis"
	"github.com/mohammed-shakir/geofetch/internal/region"
)

var (
	ErrUnknownSource = errors.New("unknown source")
	ErrNoFetcher     = errors.New("source not configured")
)

type Source string

const (
	SourcePostGIS  Source = "postgis"
	SourceOverpass Source = "overpass"
)

func ParseSource(s string) (Source, error) {
	switch src := Source(strings.ToLower(strings.TrimSpace(s))); src {
	case SourcePostGIS, SourceOverpass:
		return src, nil
	}
	return "", fmt.Errorf("%w %q (want postgis or overpass)", ErrUnknownSource, s)
}

// DB is satisfied by *postgis.Client.
type DB interface {
	FetchSQL(ctx context.Context, sql string, args []any, name string, kind model.GeomKind, srid int, cols []string) (*model.Layer, error)
}

// OSM is satisfied by *overpass.Client.
type OSM interface {
	Fetch(ctx context.Context, query string) (*osm.OSM, error)
}

type Request struct {
	Source   Source
	Name     string
	Region   region.Region
	Kind     model.GeomKind
	Query    postgis.Query
	Overpass overpass.Query
	Clip     clip.Mode
	// H3Res < 0 leaves features untagged.
	H3Res   int
	NoCache bool
}

type Deps struct {
	DB       DB
	OSM      OSM
	Cache    cache.Interface
	CacheTTL time.Duration
	Events   events.Emitter
	Logger   *slog.Logger
}

type Engine struct {
	db     DB
	osm    OSM
	cache  cache.Interface
	ttl    time.Duration
	events events.Emitter
	logger *slog.Logger
}

func New(d Deps) *Engine {
	e := &Engine{db: d.DB, osm: d.OSM, cache: d.Cache, ttl: d.CacheTTL, events: d.Events, logger: d.Logger}
	if e.cache == nil {
		e.cache = cache.Noop{}
	}
	if e.events == nil {
		e.events = events.Noop{}
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	return e
}

// fetched is one layer on its way through the pipeline.
type fetched struct {
	layer  *model.Layer
	cached bool
	took   time.Duration
}

// Run fetches the request's layer (postgis) or layers (overpass).
func (e *Engine) Run(ctx context.Context, req Request) (*model.Collection, error) {
	switch req.Source {
	case SourcePostGIS:
		name := req.Name
		if name == "" {
			name = req.Query.Relation
		}
		got, err := e.fetchDB(ctx, req, []postgis.LayerQuery{{Kind: req.Kind, Query: req.Query}}, []string{name})
		if err != nil {
			return nil, err
		}
		c := &model.Collection{Name: name}
		return e.finish(ctx, req, c, got), nil
	case SourceOverpass:
		c, _, err := e.runOverpass(ctx, req, false)
		return c, err
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownSource, req.Source)
}

// RunCollection fetches <prefix>_point, <prefix>_line and <prefix>_polygon
// with the request's query as a template.
func (e *Engine) RunCollection(ctx context.Context, prefix string, req Request) (*model.Collection, error) {
	if req.Source != SourcePostGIS && req.Source != "" {
		return nil, fmt.Errorf("%w %q for collections", ErrUnknownSource, req.Source)
	}
	req.Source = SourcePostGIS
	name := req.Name
	if name == "" {
		name = prefix
	}
	lqs := postgis.CollectionQueries(prefix, req.Query)
	names := make([]string, len(lqs))
	for i, lq := range lqs {
		names[i] = lq.Query.Relation
	}
	got, err := e.fetchDB(ctx, req, lqs, names)
	if err != nil {
		return nil, err
	}
	return e.finish(ctx, req, &model.Collection{Name: name}, got), nil
}

// RunOSM is Run for overpass requests that also need the raw answer. It
// always asks the interpreter, then refreshes the cache.
func (e *Engine) RunOSM(ctx context.Context, req Request) (*model.Collection, *osm.OSM, error) {
	if req.Source != SourceOverpass {
		return nil, nil, fmt.Errorf("%w %q: raw osm needs source overpass", ErrUnknownSource, req.Source)
	}
	return e.runOverpass(ctx, req, true)
}

type dbJob struct {
	lq   postgis.LayerQuery
	name string
	sql  string
	args []any
	key  string
}

func (e *Engine) fetchDB(ctx context.Context, req Request, lqs []postgis.LayerQuery, names []string) ([]fetched, error) {
	if e.db == nil {
		return nil, fmt.Errorf("%w: postgis", ErrNoFetcher)
	}
	jobs := make([]dbJob, len(lqs))
	ks := make([]string, len(lqs))
	for i, lq := range lqs {
		sql, args, err := lq.Query.Build(req.Region)
		if err != nil {
			return nil, fmt.Errorf("build query for %s: %w", names[i], err)
		}
		key := keys.Key(string(SourcePostGIS), lq.Query.QualifiedName(), sql, args...)
		jobs[i] = dbJob{lq: lq, name: names[i], sql: sql, args: args, key: key}
		ks[i] = key
	}

	hits := e.load(ctx, req, ks)
	out := make([]fetched, 0, len(jobs))
	for _, j := range jobs {
		if c, ok := hits[j.key]; ok && len(c.Layers()) == 1 {
			l := c.Layers()[0]
			l.Name = j.name
			out = append(out, fetched{layer: l, cached: true})
			continue
		}
		start := time.Now()
		l, err := e.db.FetchSQL(ctx, j.sql, j.args, j.name, j.lq.Kind, j.lq.Query.WithDefaults().SRID, j.lq.Query.SelectCols)
		if err != nil {
			return nil, err
		}
		e.save(ctx, req, j.key, model.Single(l))
		out = append(out, fetched{layer: l, took: time.Since(start)})
	}
	return out, nil
}

func (e *Engine) runOverpass(ctx context.Context, req Request, raw bool) (*model.Collection, *osm.OSM, error) {
	if e.osm == nil {
		return nil, nil, fmt.Errorf("%w: overpass", ErrNoFetcher)
	}
	if req.Region.Relation != "" {
		return nil, nil, fmt.Errorf("boundary %q: relation boundaries need source postgis", req.Region.Relation)
	}
	q := req.Overpass
	if q.Bounds == nil && req.Region.HasBounds {
		b := req.Region.Bounds
		q.Bounds = &b
	}
	text, err := q.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("build overpass query: %w", err)
	}
	name := req.Name
	if name == "" {
		name = "overpass"
	}
	key := keys.Key(string(SourceOverpass), name, text)

	if !raw {
		if c, ok := e.load(ctx, req, []string{key})[key]; ok {
			got := make([]fetched, 0, 3)
			for _, l := range c.Layers() {
				got = append(got, fetched{layer: l, cached: true})
			}
			return e.finish(ctx, req, &model.Collection{Name: name}, got), nil, nil
		}
	}

	start := time.Now()
	o, err := e.osm.Fetch(ctx, text)
	if err != nil {
		return nil, nil, err
	}
	c, err := overpass.Layers(o, name)
	if err != nil {
		return nil, nil, err
	}
	took := time.Since(start)
	e.save(ctx, req, key, c)

	got := make([]fetched, 0, 3)
	for _, l := range c.Layers() {
		got = append(got, fetched{layer: l, took: took})
	}
	return e.finish(ctx, req, &model.Collection{Name: name}, got), o, nil
}

// finish clips, tags and reports every fetched layer.
func (e *Engine) finish(ctx context.Context, req Request, c *model.Collection, got []fetched) *model.Collection {
	mode := resolveMode(req)
	for _, f := range got {
		l := clip.Apply(f.layer, req.Region, mode)
		if n := f.layer.Len() - l.Len(); n > 0 {
			e.logger.InfoContext(ctx, "clipped features outside boundary",
				"layer", l.Name, "mode", string(mode), "dropped", n)
		}
		if req.H3Res >= 0 {
			if err := h3index.Annotate(l, req.H3Res); err != nil {
				e.logger.WarnContext(ctx, "h3 annotate failed", "layer", l.Name, "err", err)
			}
		}
		c.Set(l)

		observability.ObserveFetch(string(req.Source), string(l.Kind), l.Len(), f.took)
		ev := events.FetchEvent{
			Source:     string(req.Source),
			Layer:      l.Name,
			Kind:       string(l.Kind),
			Count:      l.Len(),
			DurationMS: f.took.Milliseconds(),
			Cached:     f.cached,
		}
		if b, ok := l.Bound(); ok {
			ev.Bounds = [4]float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]}
		}
		e.events.Publish(ev)
	}
	return c
}

// resolveMode picks the clip mode for ModeAuto: overpass answers and
// envelope queries only honour the boundary's bbox, so they are narrowed
// to the polygon; containment queries are exact already.
func resolveMode(req Request) clip.Mode {
	if req.Clip != clip.ModeAuto {
		return req.Clip
	}
	if req.Source == SourceOverpass || req.Query.Envelope {
		return clip.ModeWithin
	}
	return clip.ModeNone
}
