package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/geofetch/internal/clip"
	"github.com/mohammed-shakir/geofetch/internal/core/model"
	"github.com/mohammed-shakir/geofetch/internal/core/observability"
	"github.com/mohammed-shakir/geofetch/internal/overpass"
	"github.com/mohammed-shakir/geofetch/internal/pipeline"
	"github.com/mohammed-shakir/geofetch/internal/postgis"
	"github.com/mohammed-shakir/geofetch/internal/region"
)

const (
	DefaultLimit = 1000
	MaxLimit     = 50000
)

// Query is a validated /query request.
type Query struct {
	Source   pipeline.Source
	Layer    string
	Elements []overpass.Element
	Region   region.Region
	Filters  []postgis.Filter
	Cols     []string
	Clip     clip.Mode
	Limit    int
	H3Res    int
}

// receives validated query requests and serves them
type QueryHandler interface {
	HandleQuery(ctx context.Context, w http.ResponseWriter, r *http.Request, q Query)
}

// validates input query params and calls the handler
func HandleQuery(logger *slog.Logger, h QueryHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

		q, warn, err := ParseQueryRequest(r)
		if warn != "" {
			logger.Warn(warn)
		}
		if err != nil {
			http.Error(sw, err.Error(), http.StatusBadRequest)
			observability.ObserveHTTP(r.Method, "/query", http.StatusBadRequest, time.Since(start).Seconds())
			return
		}

		h.HandleQuery(r.Context(), sw, r, q)
		observability.ObserveHTTP(r.Method, "/query", sw.code, time.Since(start).Seconds())
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

var layerPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

func ParseQueryRequest(r *http.Request) (Query, string, error) {
	var warn string
	params := r.URL.Query()

	src := pipeline.SourcePostGIS
	if s := strings.TrimSpace(params.Get("source")); s != "" {
		var err error
		if src, err = pipeline.ParseSource(s); err != nil {
			return Query{}, "", err
		}
	}

	layers := params["layer"]
	if len(layers) == 0 || strings.TrimSpace(layers[0]) == "" {
		return Query{}, "", errors.New("missing required parameter: layer")
	}
	q := Query{Source: src, Layer: strings.TrimSpace(layers[0]), H3Res: -1, Limit: DefaultLimit}

	switch src {
	case pipeline.SourcePostGIS:
		if len(layers) > 1 {
			return Query{}, "", errors.New("source postgis takes a single layer")
		}
		if !layerPattern.MatchString(q.Layer) {
			return Query{}, "", fmt.Errorf("invalid layer %q (want table or schema.table)", q.Layer)
		}
	case pipeline.SourceOverpass:
		for _, l := range layers {
			e, err := overpass.ParseElement(l)
			if err != nil {
				return Query{}, "", fmt.Errorf("invalid layer: %w", err)
			}
			q.Elements = append(q.Elements, e)
		}
		q.Layer = "overpass"
	}

	rawBBox := strings.TrimSpace(params.Get("bbox"))
	rawPoly := strings.TrimSpace(params.Get("polygon"))
	filters := strings.TrimSpace(params.Get("filters"))

	// drop bbox if polygon is given (polygon wins)
	if rawBBox != "" && rawPoly != "" {
		warn = "both bbox and polygon supplied; preferring polygon"
		rawBBox = ""
	}

	if rawBBox != "" {
		bb, err := parseBBOX(rawBBox)
		if err != nil {
			return Query{}, warn, fmt.Errorf("invalid bbox: %w", err)
		}
		q.Region = region.FromBound("bbox", bb.Bound())
	}

	if rawPoly != "" {
		reg, err := parsePolygon(rawPoly)
		if err != nil {
			return Query{}, warn, fmt.Errorf("invalid polygon: %w", err)
		}
		q.Region = reg
	}
	if src == pipeline.SourceOverpass && !q.Region.HasBounds {
		return Query{}, warn, errors.New("source overpass needs a bbox or polygon")
	}

	if filters != "" {
		if src != pipeline.SourcePostGIS {
			return Query{}, warn, errors.New("filters apply to source postgis; put overpass filters in layer")
		}
		fs, err := parseFilters(filters)
		if err != nil {
			return Query{}, warn, fmt.Errorf("invalid filters: %w", err)
		}
		q.Filters = fs
	}

	if cols := strings.TrimSpace(params.Get("cols")); cols != "" {
		for c := range strings.SplitSeq(cols, ",") {
			c = strings.TrimSpace(c)
			if c == "" {
				continue
			}
			if !layerPattern.MatchString(c) || strings.Contains(c, ".") {
				return Query{}, warn, fmt.Errorf("invalid column %q", c)
			}
			q.Cols = append(q.Cols, c)
		}
	}

	mode, err := clip.ParseMode(params.Get("clip"))
	if err != nil {
		return Query{}, warn, err
	}
	q.Clip = mode

	if v := strings.TrimSpace(params.Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > MaxLimit {
			return Query{}, warn, fmt.Errorf("limit must be in [1,%d]", MaxLimit)
		}
		q.Limit = n
	}
	if v := strings.TrimSpace(params.Get("h3")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 15 {
			return Query{}, warn, errors.New("h3 must be in [0,15]")
		}
		q.H3Res = n
	}
	return q, warn, nil
}

func parseBBOX(bboxParam string) (model.BBox, error) {
	parts := strings.Split(bboxParam, ",")
	if len(parts) != 5 {
		return model.BBox{}, errors.New("expected 5 comma-separated values: x1,y1,x2,y2,EPSG:4326")
	}
	xMin, err := parseFloat(parts[0])
	if err != nil {
		return model.BBox{}, fmt.Errorf("x1: %w", err)
	}
	yMin, err := parseFloat(parts[1])
	if err != nil {
		return model.BBox{}, fmt.Errorf("y1: %w", err)
	}
	xMax, err := parseFloat(parts[2])
	if err != nil {
		return model.BBox{}, fmt.Errorf("x2: %w", err)
	}
	yMax, err := parseFloat(parts[3])
	if err != nil {
		return model.BBox{}, fmt.Errorf("y2: %w", err)
	}

	srid := strings.ToUpper(strings.TrimSpace(parts[4]))
	if srid != "EPSG:4326" {
		return model.BBox{}, fmt.Errorf("only EPSG:4326 is supported (got %q)", srid)
	}

	if !(xMin >= -180 && xMin <= 180 && xMax >= -180 && xMax <= 180) {
		return model.BBox{}, errors.New("longitude must be in [-180,180]")
	}
	if !(yMin >= -90 && yMin <= 90 && yMax >= -90 && yMax <= 90) {
		return model.BBox{}, errors.New("latitude must be in [-90,90]")
	}
	if xMax <= xMin || yMax <= yMin {
		return model.BBox{}, errors.New("coordinates must satisfy x2>x1 and y2>y1")
	}
	return model.BBox{X1: xMin, Y1: yMin, X2: xMax, Y2: yMax, SRID: srid}, nil
}

func parseFloat(v string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("parse float: %w", err)
	}
	return f, nil
}

func parsePolygon(raw string) (region.Region, error) {
	g, err := geojson.UnmarshalGeometry([]byte(raw))
	if err != nil {
		return region.Region{}, fmt.Errorf("parse geojson: %w", err)
	}
	switch g.Coordinates.(type) {
	case orb.Polygon, orb.MultiPolygon:
		return region.FromGeometry("polygon", g.Coordinates)
	default:
		return region.Region{}, fmt.Errorf(`unsupported GeoJSON "type": %q (must be Polygon or MultiPolygon)`, g.Type)
	}
}
