package router

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/mohammed-shakir/geofetch/internal/clip"
	"github.com/mohammed-shakir/geofetch/internal/core/model"
	"github.com/mohammed-shakir/geofetch/internal/pipeline"
	"github.com/mohammed-shakir/geofetch/internal/postgis"
)

func TestParseBBOX_Valid(t *testing.T) {
	bb, err := parseBBOX("11.0,55.0,12.0,56.0,EPSG:4326")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	want := model.BBox{X1: 11, Y1: 55, X2: 12, Y2: 56, SRID: "EPSG:4326"}
	if bb != want {
		t.Fatalf("got %+v want %+v", bb, want)
	}
}

func TestParseBBOX_InvalidSRID(t *testing.T) {
	_, err := parseBBOX("11,55,12,56,EPSG:3857")
	if err == nil {
		t.Fatal("expected error for SRID")
	}
}

func TestParseBBOX_InvalidGeometry(t *testing.T) {
	if _, err := parseBBOX("11,55,11,56,EPSG:4326"); err == nil {
		t.Fatalf("expected error for non-increasing bbox coordinates")
	}
}

func TestParsePolygon_TypeChecks(t *testing.T) {
	// valid polygon
	r, err := parsePolygon(`{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}`)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !r.HasBounds || r.Bounds.Max[0] != 1 {
		t.Fatalf("region=%+v", r)
	}

	// valid multipolygon
	_, err = parsePolygon(`{"type":"MultiPolygon","coordinates":[[[[0,0],[1,0],[1,1],[0,1],[0,0]]]]}`)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	// invalid type
	_, err = parsePolygon(`{"type":"LineString","coordinates":[[0,0],[1,1]]}`)
	if err == nil {
		t.Fatal("expected error for non-polygon type")
	}
}

func parse(t *testing.T, q url.Values) (Query, string, error) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/query", nil)
	req.URL.RawQuery = q.Encode()
	return ParseQueryRequest(req)
}

func TestParseQueryRequest_PostGIS(t *testing.T) {
	got, warn, err := parse(t, url.Values{
		"layer":   {"public.planet_osm_point"},
		"bbox":    {"11,57,12,58,EPSG:4326"},
		"filters": {"shop = 'bakery'"},
		"cols":    {"osm_id, name"},
		"clip":    {"within"},
		"limit":   {"50"},
		"h3":      {"9"},
	})
	if err != nil || warn != "" {
		t.Fatalf("unexpected err=%v warn=%q", err, warn)
	}
	if got.Source != pipeline.SourcePostGIS || got.Layer != "public.planet_osm_point" {
		t.Fatalf("query=%+v", got)
	}
	if len(got.Filters) != 1 || got.Filters[0] != (postgis.Filter{Column: "shop", Op: "=", Value: "bakery"}) {
		t.Fatalf("filters=%+v", got.Filters)
	}
	if len(got.Cols) != 2 || got.Cols[1] != "name" || got.Clip != clip.ModeWithin || got.Limit != 50 || got.H3Res != 9 {
		t.Fatalf("query=%+v", got)
	}
	if !got.Region.HasBounds || got.Region.Bounds.Min[1] != 57 {
		t.Fatalf("region=%+v", got.Region)
	}
}

func TestParseQueryRequest_PolygonPrecedence(t *testing.T) {
	poly := `{"type":"Polygon","coordinates":[[[11,55],[12,55],[12,56],[11,56],[11,55]]]}`
	got, warn, err := parse(t, url.Values{
		"layer":   {"places"},
		"bbox":    {"0,0,1,1,EPSG:4326"},
		"polygon": {poly},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if warn == "" {
		t.Fatalf("expected non-empty warning when both bbox and polygon provided")
	}
	if got.Region.Bounds.Min[0] != 11 {
		t.Fatalf("expected polygon region, got %+v", got.Region)
	}
}

func TestParseQueryRequest_Overpass(t *testing.T) {
	got, _, err := parse(t, url.Values{
		"source": {"overpass"},
		"layer":  {`node="amenity"="cafe"`, "way"},
		"bbox":   {"11,57,12,58,EPSG:4326"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Elements) != 2 || got.Elements[0].Filters[0] != `"amenity"="cafe"` || got.Elements[1].Type != "way" {
		t.Fatalf("elements=%+v", got.Elements)
	}
}

func TestParseFilters(t *testing.T) {
	got, err := parseFilters("name ILIKE 'Caf%' and osm_id >= -12 AND way_area < 2.5 AND note IS NOT NULL AND ref = 'O''Neil'")
	if err != nil {
		t.Fatalf("parseFilters: %v", err)
	}
	want := []postgis.Filter{
		{Column: "name", Op: "ILIKE", Value: "Caf%"},
		{Column: "osm_id", Op: ">=", Value: int64(-12)},
		{Column: "way_area", Op: "<", Value: 2.5},
		{Column: "note", Op: "IS NOT NULL"},
		{Column: "ref", Op: "=", Value: "O'Neil"},
	}
	if len(got) != len(want) {
		t.Fatalf("filters=%+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("filter %d=%+v want %+v", i, got[i], want[i])
		}
	}
}

func TestParseQueryRequest_Rejects(t *testing.T) {
	cases := map[string]url.Values{
		"no layer":         {},
		"bad source":       {"source": {"wfs"}, "layer": {"t"}},
		"injected layer":   {"layer": {"t; DROP TABLE t"}},
		"unsafe filters":   {"layer": {"places"}, "filters": {"name = 'x'; DROP TABLE places"}},
		"subquery":         {"layer": {"places"}, "filters": {"name IS NULL OR osm_id IN (SELECT usesysid FROM pg_catalog.pg_user)"}},
		"paren escape":     {"layer": {"places"}, "filters": {"1=1) OR (pg_sleep(30) IS NULL"}},
		"function call":    {"layer": {"places"}, "filters": {"name = pg_sleep(30)"}},
		"comment":          {"layer": {"places"}, "filters": {"osm_id = 1 --"}},
		"unterminated":     {"layer": {"places"}, "filters": {"name = 'x"}},
		"column compare":   {"layer": {"places"}, "filters": {"name = name"}},
		"bad column":       {"layer": {"t"}, "cols": {"name,1=1"}},
		"bad clip":         {"layer": {"t"}, "clip": {"cut"}},
		"bad limit":        {"layer": {"t"}, "limit": {"0"}},
		"bad h3":           {"layer": {"t"}, "h3": {"16"}},
		"overpass no bbox": {"source": {"overpass"}, "layer": {"node"}},
		"overpass filters": {"source": {"overpass"}, "layer": {"node"}, "bbox": {"0,0,1,1,EPSG:4326"}, "filters": {"a = 1"}},
		"bad element":      {"source": {"overpass"}, "layer": {"area"}, "bbox": {"0,0,1,1,EPSG:4326"}},
	}
	for name, q := range cases {
		if _, _, err := parse(t, q); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
