package shapefile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/geofetch/internal/core/model"
)

func square(x, y, d float64) orb.Polygon {
	return orb.Polygon{{{x, y}, {x + d, y}, {x + d, y + d}, {x, y + d}, {x, y}}}
}

func polygonLayer() *model.Layer {
	l := model.NewLayer("parks", model.KindPolygon, 4326, []string{"name", "osm_id", "way_area", "building", "note"})
	l.Append(model.Feature{
		Geometry:   square(11, 57, 1),
		Properties: map[string]any{"name": "Alpha", "osm_id": int64(7), "way_area": 12.5, "building": true, "note": nil},
	})
	l.Append(model.Feature{
		Geometry:   square(12, 58, 2),
		Properties: map[string]any{"name": "Beta", "osm_id": int64(8), "way_area": 3.0, "building": false, "note": nil},
	})
	return l
}

func TestInferSchema_Types(t *testing.T) {
	s, err := InferSchema(polygonLayer())
	if err != nil {
		t.Fatalf("InferSchema: %v", err)
	}
	if s.ShapeType != shp.POLYGON || s.Geometry != model.KindPolygon {
		t.Fatalf("shape type=%v geometry=%q", s.ShapeType, s.Geometry)
	}
	want := []FieldType{Char, Numeric, Float, Char, Char}
	for i, f := range s.Fields {
		if f.Type != want[i] {
			t.Fatalf("field %s type=%c want %c", f.Name, f.Type, want[i])
		}
	}
	if s.Fields[3].Size != 1 {
		t.Fatalf("bool column should be char(1), got %d", s.Fields[3].Size)
	}
	if s.Fields[4].Size != 254 {
		t.Fatalf("all-nil column should default to char(254), got %d", s.Fields[4].Size)
	}
}

func TestInferSchema_TruncatesAndDedupesNames(t *testing.T) {
	l := model.NewLayer("x", model.KindPoint, 4326, []string{"population_total", "population_2020", "Name"})
	l.Append(model.Feature{Geometry: orb.Point{1, 1}, Properties: map[string]any{}})

	s, err := InferSchema(l)
	if err != nil {
		t.Fatalf("InferSchema: %v", err)
	}
	if s.Fields[0].Name != "population" || s.Fields[1].Name != "populati_1" {
		t.Fatalf("names=%q,%q", s.Fields[0].Name, s.Fields[1].Name)
	}
	for _, f := range s.Fields {
		if len(f.Name) > 10 {
			t.Fatalf("name %q longer than 10 bytes", f.Name)
		}
	}
}

func TestInferSchema_FirstValueDecides(t *testing.T) {
	l := model.NewLayer("x", model.KindPoint, 4326, []string{"ref"})
	l.Append(model.Feature{Geometry: orb.Point{1, 1}, Properties: map[string]any{"ref": nil}})
	l.Append(model.Feature{Geometry: orb.Point{2, 2}, Properties: map[string]any{"ref": int64(7)}})
	l.Append(model.Feature{Geometry: orb.Point{3, 3}, Properties: map[string]any{"ref": "7a"}})

	s, err := InferSchema(l)
	if err != nil {
		t.Fatalf("InferSchema: %v", err)
	}
	if s.Fields[0].Type != Numeric {
		t.Fatalf("ref type=%c want %c", s.Fields[0].Type, Numeric)
	}
}

func TestFieldName_KeepsRunesWhole(t *testing.T) {
	used := map[string]bool{}
	first := fieldName("abcdefghiö", used)
	second := fieldName("abcdefghiöx", used)
	for _, n := range []string{first, second} {
		if !utf8.ValidString(n) || len(n) > maxFieldName {
			t.Fatalf("name %q: valid=%v len=%d", n, utf8.ValidString(n), len(n))
		}
	}
	if first != "abcdefghi" || second != "abcdefgh_1" {
		t.Fatalf("names=%q,%q", first, second)
	}
}

func TestFieldValue(t *testing.T) {
	num := Field{Type: Numeric, Size: 18}
	if _, ok := num.value("7a"); ok {
		t.Fatalf("string in numeric field should be left empty")
	}
	if v, ok := num.value(int64(7)); !ok || v != 7 {
		t.Fatalf("numeric value=%v ok=%v", v, ok)
	}
	date := Field{Type: Date, Size: 8}
	if _, ok := date.value("yesterday"); ok {
		t.Fatalf("string in date field should be left empty")
	}
	if v, _ := date.value(time.Date(2021, 3, 4, 0, 0, 0, 0, time.UTC)); v != "20210304" {
		t.Fatalf("date value=%v", v)
	}
	char := Field{Type: Char, Size: 5}
	v, ok := char.value("Göteborg")
	if !ok || v != "Göte" {
		t.Fatalf("char value=%q ok=%v", v, ok)
	}
}

func TestInferSchema_Empty(t *testing.T) {
	_, err := InferSchema(model.NewLayer("x", model.KindPoint, 4326, nil))
	if !errors.Is(err, ErrEmptyLayer) {
		t.Fatalf("want ErrEmptyLayer, got %v", err)
	}
}

func TestWriteAndReadBoundary(t *testing.T) {
	dir := t.TempDir()
	res, err := Write(context.Background(), filepath.Join(dir, "out", "parks"), polygonLayer(), nil)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if res.Written != 2 || res.Skipped != 0 {
		t.Fatalf("result=%+v", res)
	}
	if !strings.HasSuffix(res.Path, "parks.shp") {
		t.Fatalf("path=%s", res.Path)
	}
	for _, ext := range []string{".shp", ".shx", ".dbf", ".prj"} {
		if _, err := os.Stat(strings.TrimSuffix(res.Path, ".shp") + ext); err != nil {
			t.Fatalf("missing %s: %v", ext, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "out", "parksdbf")); !os.IsNotExist(err) {
		t.Fatalf("attribute table left without extension: %v", err)
	}

	r, err := shp.Open(res.Path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = r.Close() }()
	if len(r.Fields()) != 5 {
		t.Fatalf("fields=%d", len(r.Fields()))
	}
	if got := r.ReadAttribute(1, 0); !strings.Contains(got, "Beta") {
		t.Fatalf("name of row 1=%q", got)
	}
	if got := strings.Trim(r.ReadAttribute(0, 1), " \x00"); got != "7" {
		t.Fatalf("osm_id of row 0=%q", got)
	}

	poly, err := ReadBoundary(res.Path)
	if err != nil {
		t.Fatalf("ReadBoundary: %v", err)
	}
	b := poly.Bound()
	if b.Min != (orb.Point{11, 57}) || b.Max != (orb.Point{12, 58}) {
		t.Fatalf("bound=%v", b)
	}
	if poly[0].Orientation() != orb.CCW {
		t.Fatalf("outer ring should come back counter-clockwise")
	}
}

func TestWrite_SkipsForeignKinds(t *testing.T) {
	l := model.NewLayer("pts", model.KindPoint, 4326, []string{"name"})
	l.Append(model.Feature{Geometry: orb.Point{1, 2}, Properties: map[string]any{"name": "a"}})
	l.Append(model.Feature{Geometry: orb.LineString{{0, 0}, {1, 1}}, Properties: map[string]any{"name": "b"}})
	l.Append(model.Feature{Geometry: orb.MultiPoint{{3, 3}, {4, 4}}, Properties: map[string]any{"name": "c"}})

	res, err := Write(context.Background(), filepath.Join(t.TempDir(), "pts.shp"), l, nil)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if res.Written != 2 || res.Skipped != 1 {
		t.Fatalf("result=%+v", res)
	}
	r, err := shp.Open(res.Path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = r.Close() }()
	if r.GeometryType != shp.MULTIPOINT {
		t.Fatalf("geometry type=%v", r.GeometryType)
	}
}

func TestWrite_UnknownSRIDSkipsPrj(t *testing.T) {
	l := polygonLayer()
	l.SRID = 31467
	res, err := Write(context.Background(), filepath.Join(t.TempDir(), "gk.shp"), l, nil)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := os.Stat(strings.TrimSuffix(res.Path, ".shp") + ".prj"); !os.IsNotExist(err) {
		t.Fatalf("prj should not be written for srid 31467: %v", err)
	}
}
