package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/mohammed-shakir/geofetch/internal/core/model"
	"github.com/mohammed-shakir/geofetch/internal/core/observability"
	"github.com/mohammed-shakir/geofetch/internal/nominatim"
	"github.com/mohammed-shakir/geofetch/internal/overpass"
	"github.com/mohammed-shakir/geofetch/internal/pipeline"
	"github.com/mohammed-shakir/geofetch/internal/postgis"
)

// Runner is satisfied by *pipeline.Engine.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*model.Collection, error)
}

// FetchHandler serves queries through the pipeline as one GeoJSON
// FeatureCollection.
type FetchHandler struct {
	runner   Runner
	defaults postgis.Query
	logger   *slog.Logger
}

// NewFetchHandler uses defaults for schema, geometry column and SRID.
func NewFetchHandler(runner Runner, defaults postgis.Query, logger *slog.Logger) *FetchHandler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &FetchHandler{runner: runner, defaults: defaults, logger: logger}
}

func (h *FetchHandler) HandleQuery(ctx context.Context, w http.ResponseWriter, _ *http.Request, q Query) {
	req := Request(q, h.defaults)
	c, err := h.runner.Run(ctx, req)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, pipeline.ErrUnknownSource) || errors.Is(err, postgis.ErrNoColumns) {
			status = http.StatusBadRequest
		}
		h.logger.ErrorContext(ctx, "query failed", "source", string(q.Source), "layer", q.Layer, "err", err)
		http.Error(w, err.Error(), status)
		return
	}

	fc := c.GeoJSON()
	// postgis applies the limit in SQL
	if q.Source == pipeline.SourceOverpass && len(fc.Features) > q.Limit {
		fc.Features = fc.Features[:q.Limit]
	}
	n := len(fc.Features)
	fc.ExtraMembers["numberReturned"] = n

	w.Header().Set("Content-Type", "application/geo+json")
	w.Header().Set("X-Feature-Count", strconv.Itoa(n))
	if err := json.NewEncoder(w).Encode(fc); err != nil {
		h.logger.WarnContext(ctx, "write response", "err", err)
	}
}

// Request turns a parsed query into a pipeline request.
func Request(q Query, defaults postgis.Query) pipeline.Request {
	req := pipeline.Request{
		Source: q.Source,
		Name:   q.Layer,
		Region: q.Region,
		Clip:   q.Clip,
		H3Res:  q.H3Res,
	}
	switch q.Source {
	case pipeline.SourcePostGIS:
		pq := defaults
		pq.Relation = q.Layer
		pq.SelectCols = q.Cols
		if len(pq.SelectCols) == 0 {
			pq.SelectCols = []string{"osm_id"}
		}
		pq.Filters = q.Filters
		pq.Limit = q.Limit
		req.Query = pq
		req.Kind = postgis.KindFor(q.Layer)
	case pipeline.SourceOverpass:
		req.Overpass = overpass.Query{Elements: q.Elements}
	}
	return req
}

// Reverser is satisfied by *nominatim.Client.
type Reverser interface {
	Reverse(ctx context.Context, lat, lon float64) (map[string]string, error)
}

// HandleReverse serves GET /reverse?lat=..&lon=.. as a flat JSON object.
func HandleReverse(logger *slog.Logger, rv Reverser) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		defer func() {
			observability.ObserveHTTP(r.Method, "/reverse", sw.code, time.Since(start).Seconds())
		}()

		lat, errLat := parseFloat(r.URL.Query().Get("lat"))
		lon, errLon := parseFloat(r.URL.Query().Get("lon"))
		if errLat != nil || errLon != nil {
			http.Error(sw, "lat and lon are required numbers", http.StatusBadRequest)
			return
		}
		addr, err := rv.Reverse(r.Context(), lat, lon)
		if err != nil {
			status := http.StatusBadGateway
			if errors.Is(err, nominatim.ErrBadCoordinate) {
				status = http.StatusBadRequest
			}
			logger.Warn("reverse geocode failed", "lat", lat, "lon", lon, "err", err)
			http.Error(sw, err.Error(), status)
			return
		}
		sw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(sw).Encode(addr)
	}
}
