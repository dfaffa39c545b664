package region

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/geofetch/internal/core/model"
	"github.com/mohammed-shakir/geofetch/internal/shapefile"
)

func TestParse_Forms(t *testing.T) {
	cases := []struct {
		in       string
		relation string
		bounds   bool
	}{
		{"", "", false},
		{"POLYGON((11 57,12 57,12 58,11 58,11 57))", "", true},
		{"multipolygon(((0 0,1 0,1 1,0 1,0 0)),((5 5,9 5,9 9,5 9,5 5)))", "", true},
		{"11.9,57.6,12.1,57.8", "", true},
		{"11.9,57.6,12.1,57.8,EPSG:4326", "", true},
		{"public.gbg_boundary", "public.gbg_boundary", false},
		{"gbg_boundary", "gbg_boundary", false},
	}
	for _, c := range cases {
		r, err := Parse("gbg", c.in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", c.in, err)
		}
		if r.Relation != c.relation || r.HasBounds != c.bounds {
			t.Fatalf("Parse(%q)=%+v", c.in, r)
		}
		if c.in == "" && !r.IsZero() {
			t.Fatalf("empty boundary should give zero region")
		}
	}
}

func TestParse_MultiPolygonKeepsLargest(t *testing.T) {
	r, err := Parse("x", "MULTIPOLYGON(((0 0,1 0,1 1,0 1,0 0)),((5 5,9 5,9 9,5 9,5 5)))")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if r.Bounds.Min != (orb.Point{5, 5}) || r.Bounds.Max != (orb.Point{9, 9}) {
		t.Fatalf("bounds=%v", r.Bounds)
	}
}

func TestParse_Errors(t *testing.T) {
	if _, err := Parse("x", "somewhere over the rainbow"); !errors.Is(err, ErrUnknownBoundary) {
		t.Fatalf("want ErrUnknownBoundary, got %v", err)
	}
	if _, err := Parse("x", "12,57,11,58"); !errors.Is(err, ErrInvalidBBox) {
		t.Fatalf("want ErrInvalidBBox for swapped x, got %v", err)
	}
	if _, err := Parse("x", "11,57,12,58,EPSG:3006"); !errors.Is(err, ErrInvalidBBox) {
		t.Fatalf("want ErrInvalidBBox for crs, got %v", err)
	}
	if _, err := Parse("x", "POLYGON((broken"); err == nil {
		t.Fatalf("want wkt error")
	}
}

func TestParse_Shapefile(t *testing.T) {
	l := model.NewLayer("b", model.KindPolygon, 4326, []string{"name"})
	l.Append(model.Feature{
		Geometry:   orb.Polygon{{{11, 57}, {12, 57}, {12, 58}, {11, 58}, {11, 57}}},
		Properties: map[string]any{"name": "gbg"},
	})
	res, err := shapefile.Write(context.Background(), filepath.Join(t.TempDir(), "boundary.shp"), l, nil)
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	r, err := Parse("gbg", res.Path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if r.Bounds.Min != (orb.Point{11, 57}) || r.Bounds.Max != (orb.Point{12, 58}) {
		t.Fatalf("bounds=%v", r.Bounds)
	}
}

func TestRegion_WKT(t *testing.T) {
	r := FromBound("b", orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{1, 1}})
	w := r.WKT()
	if !strings.HasPrefix(w, "POLYGON((") {
		t.Fatalf("wkt=%s", w)
	}
	if (Region{}).WKT() != "" {
		t.Fatalf("zero region should have empty wkt")
	}
}

func TestFromGeometry(t *testing.T) {
	small := orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}}
	big := orb.Polygon{{{10, 10}, {20, 10}, {20, 20}, {10, 20}, {10, 10}}}
	r, err := FromGeometry("mp", orb.MultiPolygon{small, big})
	if err != nil {
		t.Fatalf("FromGeometry: %v", err)
	}
	if r.Bounds.Min != (orb.Point{10, 10}) || !r.HasBounds {
		t.Fatalf("largest member not kept: %+v", r.Bounds)
	}
	if _, err := FromGeometry("l", orb.LineString{{0, 0}, {1, 1}}); !errors.Is(err, ErrUnknownBoundary) {
		t.Fatalf("want ErrUnknownBoundary, got %v", err)
	}
}
