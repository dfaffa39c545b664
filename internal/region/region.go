// Package region parses the boundary a fetch is restricted to.
package region

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/planar"

	"github.com/mohammed-shakir/geofetch/internal/shapefile"
)

var (
	ErrUnknownBoundary = errors.New("unknown boundary")
	ErrInvalidBBox     = errors.New("invalid bbox")
)

var relationRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Region is the area a fetch is restricted to. Polygon and Bounds are set
// for geometric boundaries; Relation names a database table whose geometry
// is used as the boundary instead.
type Region struct {
	Name      string
	Polygon   orb.Polygon
	Bounds    orb.Bound
	HasBounds bool
	Relation  string
}

// Parse accepts a WKT (multi)polygon, a path to a .shp file, a
// "xmin,ymin,xmax,ymax" bbox, a [schema.]table relation or "".
func Parse(name, boundary string) (Region, error) {
	b := strings.TrimSpace(boundary)
	r := Region{Name: name}
	if b == "" {
		return r, nil
	}

	upper := strings.ToUpper(b)
	switch {
	case strings.HasPrefix(upper, "POLYGON") || strings.HasPrefix(upper, "MULTIPOLYGON"):
		g, err := wkt.Unmarshal(upper)
		if err != nil {
			return Region{}, fmt.Errorf("parse wkt boundary: %w", err)
		}
		return FromGeometry(name, g)

	case strings.HasSuffix(strings.ToLower(b), ".shp"):
		p, err := shapefile.ReadBoundary(b)
		if err != nil {
			return Region{}, fmt.Errorf("read boundary %s: %w", b, err)
		}
		return r.withPolygon(p), nil
	}

	if bound, ok, err := parseBBox(b); ok {
		if err != nil {
			return Region{}, err
		}
		return FromBound(name, bound), nil
	}
	if relationRe.MatchString(b) {
		r.Relation = b
		return r, nil
	}
	return Region{}, fmt.Errorf("%w: %q", ErrUnknownBoundary, b)
}

// FromBound builds a region whose polygon is the bound's box.
func FromBound(name string, b orb.Bound) Region {
	return Region{Name: name, Polygon: b.ToPolygon(), Bounds: b, HasBounds: true}
}

// FromGeometry builds a region from a polygon or multipolygon; a
// multipolygon keeps its largest member.
func FromGeometry(name string, g orb.Geometry) (Region, error) {
	var p orb.Polygon
	switch g := g.(type) {
	case orb.Polygon:
		p = g
	case orb.MultiPolygon:
		p = largest(g)
	default:
		return Region{}, fmt.Errorf("%w: %T is not a polygon", ErrUnknownBoundary, g)
	}
	if len(p) == 0 || len(p[0]) < 4 {
		return Region{}, fmt.Errorf("%w: empty polygon", ErrUnknownBoundary)
	}
	return Region{Name: name}.withPolygon(p), nil
}

func (r Region) withPolygon(p orb.Polygon) Region {
	r.Polygon = p
	r.Bounds = p.Bound()
	r.HasBounds = true
	return r
}

// WKT of the boundary polygon, "" when there is none.
func (r Region) WKT() string {
	if len(r.Polygon) == 0 {
		return ""
	}
	return wkt.MarshalString(r.Polygon)
}

func (r Region) IsZero() bool {
	return len(r.Polygon) == 0 && !r.HasBounds && r.Relation == ""
}

func (r Region) String() string {
	switch {
	case r.Relation != "":
		return "relation " + r.Relation
	case r.HasBounds:
		return fmt.Sprintf("bbox %g,%g,%g,%g", r.Bounds.Min[0], r.Bounds.Min[1], r.Bounds.Max[0], r.Bounds.Max[1])
	default:
		return "none"
	}
}

// parseBBox reports ok when s has the shape of a bbox (four comma separated
// fields, optionally followed by a CRS), even if the values are invalid.
func parseBBox(s string) (orb.Bound, bool, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 && len(parts) != 5 {
		return orb.Bound{}, false, nil
	}
	var v [4]float64
	for i := range 4 {
		f, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
		if err != nil {
			return orb.Bound{}, false, nil
		}
		v[i] = f
	}
	if len(parts) == 5 {
		crs := strings.ToUpper(strings.TrimSpace(parts[4]))
		if crs != "EPSG:4326" && crs != "4326" {
			return orb.Bound{}, true, fmt.Errorf("%w: unsupported crs %q", ErrInvalidBBox, parts[4])
		}
	}
	if v[0] >= v[2] || v[1] >= v[3] {
		return orb.Bound{}, true, fmt.Errorf("%w: want xmin<xmax and ymin<ymax", ErrInvalidBBox)
	}
	return orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}, true, nil
}

func largest(mp orb.MultiPolygon) orb.Polygon {
	var best orb.Polygon
	area := -1.0
	for _, p := range mp {
		if a := math.Abs(planar.Area(p)); a > area {
			best, area = p, a
		}
	}
	return best
}
