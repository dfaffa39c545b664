package overpass

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/paulmach/osm"

	"github.com/mohammed-shakir/geofetch/internal/core/observability"
)

const maxErrBody = 8 << 10

type Client struct {
	logger    *slog.Logger
	http      *http.Client
	url       string
	userAgent string
}

func New(logger *slog.Logger, hc *http.Client, interpreterURL, userAgent string) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{logger: logger, http: hc, url: interpreterURL, userAgent: userAgent}
}

// Fetch posts the query to the interpreter and decodes the OSM XML answer.
func (c *Client) Fetch(ctx context.Context, query string) (*osm.OSM, error) {
	form := url.Values{"data": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build overpass request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	c.logger.DebugContext(ctx, "overpass query", "query", query)
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("overpass request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		return nil, fmt.Errorf("overpass status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var o osm.OSM
	if err := xml.NewDecoder(resp.Body).Decode(&o); err != nil {
		return nil, fmt.Errorf("decode overpass response: %w", err)
	}
	took := time.Since(start)
	observability.ObserveUpstreamLatency("overpass", took.Seconds())
	c.logger.InfoContext(ctx, "overpass answered",
		"nodes", len(o.Nodes), "ways", len(o.Ways), "relations", len(o.Relations),
		"took", took)
	return &o, nil
}
