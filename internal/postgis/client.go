package postgis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/mohammed-shakir/geofetch/internal/core/model"
	"github.com/mohammed-shakir/geofetch/internal/core/observability"
	"github.com/mohammed-shakir/geofetch/internal/region"
)

// Querier is the subset of pgxpool.Pool the client needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type Client struct {
	db   Querier
	pool *pgxpool.Pool
	log  *slog.Logger
}

// Connect opens a pool and checks it with a ping.
func Connect(ctx context.Context, dsn DSN, log *slog.Logger) (*Client, error) {
	pool, err := pgxpool.Connect(ctx, dsn.ConnString())
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", dsn, err)
	}
	c := New(pool, log)
	c.pool = pool
	if err := c.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return c, nil
}

func New(db Querier, log *slog.Logger) *Client {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Client{db: db, log: log}
}

func (c *Client) Ping(ctx context.Context) error {
	if c.pool == nil {
		return nil
	}
	if err := c.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

func (c *Client) Close() {
	if c.pool != nil {
		c.pool.Close()
	}
}

// Fetch runs q restricted to r and returns the rows as a layer named name.
func (c *Client) Fetch(ctx context.Context, q Query, r region.Region, name string, kind model.GeomKind) (*model.Layer, error) {
	sql, args, err := q.Build(r)
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return c.FetchSQL(ctx, sql, args, name, kind, q.WithDefaults().SRID, q.SelectCols)
}

// FetchSQL runs an already built query. cols names the leading columns;
// the geometry WKT must follow them.
func (c *Client) FetchSQL(ctx context.Context, sql string, args []any, name string, kind model.GeomKind, srid int, cols []string) (*model.Layer, error) {
	if c == nil || c.db == nil {
		return nil, errors.New("postgis client not connected")
	}
	c.log.InfoContext(ctx, fmt.Sprintf("querying database for %s", kind.Plural()), "layer", name)
	c.log.DebugContext(ctx, "sql", "query", sql, "args", len(args))

	start := time.Now()
	rows, err := c.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", name, err)
	}
	l := model.NewLayer(name, kind, srid, cols)
	nulls, err := scanLayer(rows, l)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", name, err)
	}
	took := time.Since(start)
	observability.ObserveUpstreamLatency("postgis", took.Seconds())
	if nulls > 0 {
		c.log.WarnContext(ctx, "skipped rows without geometry", "layer", name, "rows", nulls)
	}
	c.log.InfoContext(ctx, fmt.Sprintf("fetched %d %s in %s", l.Len(), kind.Plural(), took.Round(time.Millisecond)),
		"layer", name)
	return l, nil
}
