// Package model defines core domain types shared across the toolkit.
package model

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

type GeomKind string

const (
	KindMixed      GeomKind = ""
	KindPoint      GeomKind = "Point"
	KindLineString GeomKind = "LineString"
	KindPolygon    GeomKind = "Polygon"
)

// KindOf maps a geometry to its base kind; Multi* variants collapse onto
// the single-part kind.
func KindOf(g orb.Geometry) GeomKind {
	switch g.(type) {
	case orb.Point, orb.MultiPoint:
		return KindPoint
	case orb.LineString, orb.MultiLineString:
		return KindLineString
	case orb.Polygon, orb.MultiPolygon, orb.Ring, orb.Bound:
		return KindPolygon
	default:
		return KindMixed
	}
}

// ParseKind reads point, line or polygon (and plurals); "" is KindMixed.
func ParseKind(s string) (GeomKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return KindMixed, nil
	case "point", "points":
		return KindPoint, nil
	case "line", "lines", "linestring":
		return KindLineString, nil
	case "polygon", "polygons":
		return KindPolygon, nil
	}
	return KindMixed, fmt.Errorf("unknown kind %q (want point, line or polygon)", s)
}

// Plural is used in log lines and plot titles ("3 Polygon(s)").
func (k GeomKind) Plural() string {
	if k == KindMixed {
		return "feature(s)"
	}
	return string(k) + "(s)"
}

type Feature struct {
	ID         string
	Properties map[string]any
	Geometry   orb.Geometry
}

type Layer struct {
	Name     string
	Kind     GeomKind
	SRID     int
	Columns  []string
	Features []Feature
}

func NewLayer(name string, kind GeomKind, srid int, cols []string) *Layer {
	c := make([]string, len(cols))
	copy(c, cols)
	return &Layer{Name: name, Kind: kind, SRID: srid, Columns: c}
}

func (l *Layer) Len() int {
	if l == nil {
		return 0
	}
	return len(l.Features)
}

func (l *Layer) Append(f Feature) {
	l.Features = append(l.Features, f)
}

// CloneEmpty returns a layer with the same metadata and no features.
func (l *Layer) CloneEmpty() *Layer {
	return NewLayer(l.Name, l.Kind, l.SRID, l.Columns)
}

// Bound is the bbox of all features. ok is false for an empty view.
func (l *Layer) Bound() (orb.Bound, bool) {
	if l.Len() == 0 {
		return orb.Bound{}, false
	}
	var b orb.Bound
	ok := false
	for _, f := range l.Features {
		if f.Geometry == nil {
			continue
		}
		fb := f.Geometry.Bound()
		if !ok {
			b = fb
			ok = true
			continue
		}
		b = b.Union(fb)
	}
	return b, ok
}

// AreaSum is the planar area of all polygon features, in squared layer units.
func (l *Layer) AreaSum() float64 {
	var sum float64
	for _, f := range l.Features {
		switch f.Geometry.(type) {
		case orb.Polygon, orb.MultiPolygon:
			sum += math.Abs(planar.Area(f.Geometry))
		}
	}
	return sum
}

// Row returns the property values of feature i in column order.
func (l *Layer) Row(i int) []any {
	f := l.Features[i]
	out := make([]any, len(l.Columns))
	for j, c := range l.Columns {
		out[j] = f.Properties[c]
	}
	return out
}

func (l *Layer) GeoJSON() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, f := range l.Features {
		gf := geojson.NewFeature(f.Geometry)
		if f.ID != "" {
			gf.ID = f.ID
		}
		for k, v := range f.Properties {
			gf.Properties[k] = v
		}
		fc.Append(gf)
	}
	fc.ExtraMembers = geojson.Properties{
		"name":    l.Name,
		"kind":    string(l.Kind),
		"srid":    l.SRID,
		"columns": l.Columns,
	}
	if types := l.ColumnTypes(); len(types) > 0 {
		fc.ExtraMembers["types"] = types
	}
	return fc
}

// Column type tags for values JSON does not carry as is.
const (
	TypeInt  = "int"
	TypeTime = "time"
)

// ColumnTypes tags the columns whose non-nil values are all integers
// (TypeInt) or all time.Time (TypeTime). Other columns are left out.
func (l *Layer) ColumnTypes() map[string]string {
	out := map[string]string{}
	for _, c := range l.Columns {
		if tag := l.columnTag(c); tag != "" {
			out[c] = tag
		}
	}
	return out
}

func (l *Layer) columnTag(col string) string {
	tag := ""
	for _, f := range l.Features {
		v := f.Properties[col]
		if v == nil {
			continue
		}
		t := scalarTag(v)
		if t == "" || (tag != "" && t != tag) {
			return ""
		}
		tag = t
	}
	return tag
}

func scalarTag(v any) string {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		return TypeInt
	case time.Time:
		return TypeTime
	}
	return ""
}

func restore(tag string, v any) any {
	switch tag {
	case TypeInt:
		if n, ok := v.(float64); ok && n == math.Trunc(n) {
			return int64(n)
		}
	case TypeTime:
		if s, ok := v.(string); ok {
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				return t
			}
		}
	}
	return v
}

func columnTypes(fc *geojson.FeatureCollection) map[string]string {
	out := map[string]string{}
	switch raw := fc.ExtraMembers["types"].(type) {
	case map[string]any:
		for k, v := range raw {
			if s, ok := v.(string); ok {
				out[k] = s
			}
		}
	case map[string]string:
		for k, v := range raw {
			out[k] = v
		}
	}
	return out
}

// LayerFromJSON decodes a layer written by Layer.GeoJSON. Integer columns
// are read from the raw text, so ids beyond 2^53 keep every digit.
func LayerFromJSON(b []byte) (*Layer, error) {
	fc, err := geojson.UnmarshalFeatureCollection(b)
	if err != nil {
		return nil, fmt.Errorf("decode layer: %w", err)
	}
	l, err := LayerFromGeoJSON(fc)
	if err != nil {
		return nil, err
	}
	var ints []string
	for c, tag := range columnTypes(fc) {
		if tag == TypeInt {
			ints = append(ints, c)
		}
	}
	if len(ints) == 0 {
		return l, nil
	}

	var exact struct {
		Features []struct {
			Properties map[string]json.RawMessage `json:"properties"`
		} `json:"features"`
	}
	if err := json.Unmarshal(b, &exact); err != nil {
		return nil, fmt.Errorf("decode layer properties: %w", err)
	}
	if len(exact.Features) != len(l.Features) {
		return l, nil
	}
	for i, f := range exact.Features {
		for _, c := range ints {
			raw, ok := f.Properties[c]
			if !ok {
				continue
			}
			if n, err := strconv.ParseInt(string(raw), 10, 64); err == nil {
				l.Features[i].Properties[c] = n
			}
		}
	}
	return l, nil
}

// LayerFromGeoJSON restores a layer written by Layer.GeoJSON. Columns
// tagged in the "types" member come back as int64 or time.Time; other
// numbers stay float64.
func LayerFromGeoJSON(fc *geojson.FeatureCollection) (*Layer, error) {
	if fc == nil {
		return nil, fmt.Errorf("nil feature collection")
	}
	l := &Layer{}
	if v, ok := fc.ExtraMembers["name"].(string); ok {
		l.Name = v
	}
	if v, ok := fc.ExtraMembers["kind"].(string); ok {
		l.Kind = GeomKind(v)
	}
	if v, ok := fc.ExtraMembers["srid"].(float64); ok {
		l.SRID = int(v)
	}
	if raw, ok := fc.ExtraMembers["columns"].([]any); ok {
		for _, c := range raw {
			if s, ok := c.(string); ok {
				l.Columns = append(l.Columns, s)
			}
		}
	}
	seen := make(map[string]struct{}, len(l.Columns))
	for _, c := range l.Columns {
		seen[c] = struct{}{}
	}
	types := columnTypes(fc)
	var extra []string
	for _, gf := range fc.Features {
		f := Feature{Geometry: gf.Geometry, Properties: map[string]any{}}
		if gf.ID != nil {
			f.ID = fmt.Sprint(gf.ID)
		}
		for k, v := range gf.Properties {
			f.Properties[k] = restore(types[k], v)
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				extra = append(extra, k)
			}
		}
		l.Features = append(l.Features, f)
	}
	sort.Strings(extra)
	l.Columns = append(l.Columns, extra...)
	return l, nil
}

// Collection groups point, line and polygon layers fetched together.
type Collection struct {
	Name     string
	Points   *Layer
	Lines    *Layer
	Polygons *Layer
}

// Single wraps one layer in a collection slot matching its kind.
func Single(l *Layer) *Collection {
	c := &Collection{Name: l.Name}
	c.Set(l)
	return c
}

func (c *Collection) Set(l *Layer) {
	switch l.Kind {
	case KindPoint:
		c.Points = l
	case KindLineString:
		c.Lines = l
	default:
		c.Polygons = l
	}
}

func (c *Collection) Layers() []*Layer {
	var out []*Layer
	for _, l := range []*Layer{c.Points, c.Lines, c.Polygons} {
		if l != nil {
			out = append(out, l)
		}
	}
	return out
}

func (c *Collection) Len() int {
	n := 0
	for _, l := range c.Layers() {
		n += l.Len()
	}
	return n
}

// GeoJSON merges all layers into one FeatureCollection; every feature
// carries its layer name in the "layer" property.
func (c *Collection) GeoJSON() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, l := range c.Layers() {
		for _, f := range l.GeoJSON().Features {
			f.Properties["layer"] = l.Name
			fc.Append(f)
		}
	}
	fc.ExtraMembers = geojson.Properties{"name": c.Name}
	return fc
}

func (c *Collection) Bound() (orb.Bound, bool) {
	var b orb.Bound
	ok := false
	for _, l := range c.Layers() {
		lb, lok := l.Bound()
		if !lok {
			continue
		}
		if !ok {
			b, ok = lb, true
			continue
		}
		b = b.Union(lb)
	}
	return b, ok
}

type BBox struct {
	X1, Y1 float64
	X2, Y2 float64
	SRID   string
}

// String representation matching the wfs/wms bbox format
func (b BBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f,%s", b.X1, b.Y1, b.X2, b.Y2, b.SRID)
}

func (b BBox) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{b.X1, b.Y1}, Max: orb.Point{b.X2, b.Y2}}
}
