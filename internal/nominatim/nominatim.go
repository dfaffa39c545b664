// Package nominatim reverse geocodes coordinates with a Nominatim server.
package nominatim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/mohammed-shakir/geofetch/internal/core/observability"
)

var ErrBadCoordinate = errors.New("latitude must be in [-90,90] and longitude in [-180,180]")

const maxBody = 1 << 20

type Client struct {
	logger    *slog.Logger
	http      *http.Client
	base      string
	userAgent string
}

func New(logger *slog.Logger, hc *http.Client, baseURL, userAgent string) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{logger: logger, http: hc, base: strings.TrimRight(baseURL, "/"), userAgent: userAgent}
}

// Reverse returns the address parts of the place at lat/lon, flattened to
// strings. display_name is included when the server sends one.
func (c *Client) Reverse(ctx context.Context, lat, lon float64) (map[string]string, error) {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return nil, fmt.Errorf("%w (got %g,%g)", ErrBadCoordinate, lat, lon)
	}
	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("zoom", "18")
	q.Set("addressdetails", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build reverse request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reverse request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read reverse response: %w", err)
	}
	observability.ObserveUpstreamLatency("nominatim", time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("nominatim status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if !gjson.ValidBytes(body) {
		return nil, errors.New("nominatim returned invalid json")
	}
	res := gjson.ParseBytes(body)
	if e := res.Get("error"); e.Exists() {
		msg := e.String()
		if e.IsObject() {
			msg = e.Get("message").String()
		}
		return nil, fmt.Errorf("nominatim: %s", msg)
	}

	out := map[string]string{}
	res.Get("address").ForEach(func(k, v gjson.Result) bool {
		out[k.String()] = v.String()
		return true
	})
	if dn := res.Get("display_name"); dn.Exists() {
		out["display_name"] = dn.String()
	}
	c.logger.DebugContext(ctx, "reverse geocoded", "lat", lat, "lon", lon, "parts", len(out))
	return out, nil
}
