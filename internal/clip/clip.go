// Package clip restricts layers to a region.
package clip

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/planar"

	"github.com/mohammed-shakir/geofetch/internal/core/model"
	"github.com/mohammed-shakir/geofetch/internal/region"
)

type Mode string

const (
	// ModeAuto lets the caller pick a mode per source.
	ModeAuto   Mode = ""
	ModeNone   Mode = "none"
	ModeWithin Mode = "within"
	ModeClip   Mode = "clip"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeAuto, ModeNone, ModeWithin, ModeClip:
		return m, nil
	default:
		return "", fmt.Errorf("unknown clip mode %q (want within, clip or none)", s)
	}
}

// Within keeps the features whose vertices all lie inside poly. Vertices
// on the boundary count as inside. The input layer is not modified.
func Within(l *model.Layer, poly orb.Polygon) *model.Layer {
	out := l.CloneEmpty()
	for _, f := range l.Features {
		if f.Geometry != nil && inside(f.Geometry, poly) {
			out.Append(f)
		}
	}
	return out
}

func inside(g orb.Geometry, poly orb.Polygon) bool {
	ok := true
	eachVertex(g, func(p orb.Point) bool {
		if !planar.PolygonContains(poly, p) {
			ok = false
		}
		return ok
	})
	return ok
}

func eachVertex(g orb.Geometry, fn func(orb.Point) bool) bool {
	switch g := g.(type) {
	case orb.Point:
		return fn(g)
	case orb.MultiPoint:
		return points(g, fn)
	case orb.LineString:
		return points(g, fn)
	case orb.Ring:
		return points(g, fn)
	case orb.MultiLineString:
		for _, ls := range g {
			if !points(ls, fn) {
				return false
			}
		}
	case orb.Polygon:
		for _, r := range g {
			if !points(r, fn) {
				return false
			}
		}
	case orb.MultiPolygon:
		for _, p := range g {
			if !eachVertex(p, fn) {
				return false
			}
		}
	case orb.Collection:
		for _, c := range g {
			if !eachVertex(c, fn) {
				return false
			}
		}
	case orb.Bound:
		return eachVertex(g.ToPolygon(), fn)
	}
	return true
}

func points[T ~[]orb.Point](ps T, fn func(orb.Point) bool) bool {
	for _, p := range ps {
		if !fn(p) {
			return false
		}
	}
	return true
}

// ToBound clips every geometry to b. Features left empty are dropped.
func ToBound(l *model.Layer, b orb.Bound) *model.Layer {
	out := l.CloneEmpty()
	for _, f := range l.Features {
		if f.Geometry == nil || !f.Geometry.Bound().Intersects(b) {
			continue
		}
		g := clip.Geometry(b, orb.Clone(f.Geometry))
		if empty(g) {
			continue
		}
		f.Geometry = g
		out.Append(f)
	}
	return out
}

func empty(g orb.Geometry) bool {
	if g == nil {
		return true
	}
	n := 0
	eachVertex(g, func(orb.Point) bool {
		n++
		return false
	})
	return n == 0
}

// Apply restricts l to r. Regions given as a database relation are
// already applied by the query and pass through unchanged, as do zero
// regions, ModeNone and ModeAuto.
func Apply(l *model.Layer, r region.Region, mode Mode) *model.Layer {
	if l == nil || mode == ModeNone || mode == ModeAuto || len(r.Polygon) == 0 {
		return l
	}
	switch mode {
	case ModeWithin:
		return Within(l, r.Polygon)
	case ModeClip:
		return Within(ToBound(l, r.Bounds), r.Polygon)
	}
	return l
}

// ApplyCollection runs Apply on every member of c.
func ApplyCollection(c *model.Collection, r region.Region, mode Mode) *model.Collection {
	out := &model.Collection{Name: c.Name}
	for _, l := range c.Layers() {
		out.Set(Apply(l, r, mode))
	}
	return out
}
