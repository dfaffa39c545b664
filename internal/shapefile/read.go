package shapefile

import (
	"errors"
	"fmt"
	"math"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

var ErrNoPolygon = errors.New("shapefile holds no polygon")

// ReadBoundary returns the first polygon record of a shapefile. Parts are
// grouped into polygons by orientation: a clockwise ring starts a new
// polygon and counter-clockwise rings are its holes. When the record has
// several polygons the largest is returned.
func ReadBoundary(path string) (orb.Polygon, error) {
	r, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open shapefile: %w", err)
	}
	defer func() { _ = r.Close() }()

	for r.Next() {
		_, shape := r.Shape()
		pg, ok := shape.(*shp.Polygon)
		if !ok || pg == nil || len(pg.Points) == 0 {
			continue
		}
		mp := fromPolygon(pg)
		if len(mp) == 0 {
			continue
		}
		return largest(mp), nil
	}
	return nil, ErrNoPolygon
}

func fromPolygon(pg *shp.Polygon) orb.MultiPolygon {
	var mp orb.MultiPolygon
	for i := range pg.Parts {
		start := int(pg.Parts[i])
		end := len(pg.Points)
		if i+1 < len(pg.Parts) {
			end = int(pg.Parts[i+1])
		}
		ring := make(orb.Ring, 0, end-start)
		for _, p := range pg.Points[start:end] {
			ring = append(ring, orb.Point{p.X, p.Y})
		}
		if len(ring) < 4 {
			continue
		}
		if ring.Orientation() == orb.CCW && len(mp) > 0 {
			last := len(mp) - 1
			mp[last] = append(mp[last], ring)
			continue
		}
		if ring.Orientation() == orb.CW {
			// orb keeps outer rings counter-clockwise
			ring.Reverse()
		}
		mp = append(mp, orb.Polygon{ring})
	}
	return mp
}

func largest(mp orb.MultiPolygon) orb.Polygon {
	best, area := mp[0], math.Abs(planar.Area(mp[0]))
	for _, p := range mp[1:] {
		if a := math.Abs(planar.Area(p)); a > area {
			best, area = p, a
		}
	}
	return best
}
