// Package h3index tags features with H3 cells and summarises layers per
// cell.
package h3index

import (
	"errors"
	"fmt"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/geofetch/internal/core/model"
)

// Column is the property Annotate writes.
const Column = "h3"

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}

// CellFor returns the cell of the geometry's representative point: the
// point itself for points, the centroid otherwise.
func CellFor(g orb.Geometry, res int) (string, error) {
	if err := validateRes(res); err != nil {
		return "", err
	}
	var p orb.Point
	switch g := g.(type) {
	case nil:
		return "", errors.New("nil geometry")
	case orb.Point:
		p = g
	default:
		p, _ = planar.CentroidArea(g)
	}
	c, err := h3.LatLngToCell(h3.LatLng{Lat: p[1], Lng: p[0]}, res)
	if err != nil {
		return "", fmt.Errorf("h3 cell: %w", err)
	}
	return c.String(), nil
}

// Annotate sets the h3 property on every feature and adds the column.
func Annotate(l *model.Layer, res int) error {
	if err := validateRes(res); err != nil {
		return err
	}
	for i := range l.Features {
		f := &l.Features[i]
		cell, err := CellFor(f.Geometry, res)
		if err != nil {
			return fmt.Errorf("annotate %s feature %d: %w", l.Name, i, err)
		}
		if f.Properties == nil {
			f.Properties = map[string]any{}
		}
		f.Properties[Column] = cell
	}
	for _, c := range l.Columns {
		if c == Column {
			return nil
		}
	}
	l.Columns = append(l.Columns, Column)
	return nil
}

type CellCount struct {
	Cell  string
	Count int
}

// Histogram counts features per cell at res, sorted by count descending
// then cell. Features already annotated at res or finer reuse that cell.
func Histogram(res int, layers ...*model.Layer) ([]CellCount, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	counts := map[string]int{}
	for _, l := range layers {
		if l == nil {
			continue
		}
		for _, f := range l.Features {
			cell, err := cellAt(f, res)
			if err != nil {
				return nil, err
			}
			counts[cell]++
		}
	}
	out := make([]CellCount, 0, len(counts))
	for c, n := range counts {
		out = append(out, CellCount{Cell: c, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Cell < out[j].Cell
	})
	return out, nil
}

func cellAt(f model.Feature, res int) (string, error) {
	if s, ok := f.Properties[Column].(string); ok {
		if p, err := ToParent(s, res); err == nil {
			return p, nil
		}
	}
	return CellFor(f.Geometry, res)
}

// ToParent returns the ancestor of cell at parentRes.
func ToParent(cell string, parentRes int) (string, error) {
	if err := validateRes(parentRes); err != nil {
		return "", err
	}
	var c h3.Cell
	if err := c.UnmarshalText([]byte(cell)); err != nil {
		return "", fmt.Errorf("parse cell: %w", err)
	}
	if !c.IsValid() {
		return "", fmt.Errorf("invalid h3 cell %q", cell)
	}
	curRes := c.Resolution()
	if parentRes > curRes {
		return "", fmt.Errorf("parentRes %d must be <= cell resolution %d", parentRes, curRes)
	}
	if parentRes == curRes {
		return cell, nil
	}
	p, err := c.Parent(parentRes)
	if err != nil {
		return "", fmt.Errorf("h3 parent: %w", err)
	}
	return p.String(), nil
}

// CellsForBound polyfills the bound, sorted and unique.
func CellsForBound(b orb.Bound, res int) ([]string, error) {
	return CellsForPolygon(b.ToPolygon(), res)
}

func CellsForPolygon(p orb.Polygon, res int) ([]string, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	if len(p) == 0 {
		return nil, errors.New("empty polygon")
	}
	outer := toLoop(p[0])
	if len(outer) < 3 {
		return nil, errors.New("outer ring has < 3 distinct vertices")
	}
	var holes []h3.GeoLoop
	for i, r := range p[1:] {
		h := toLoop(r)
		if len(h) < 3 {
			return nil, fmt.Errorf("hole %d has < 3 distinct vertices", i)
		}
		holes = append(holes, h)
	}

	cells, err := h3.PolygonToCells(h3.GeoPolygon{GeoLoop: outer, Holes: holes}, res)
	if err != nil {
		return nil, fmt.Errorf("h3 polyfill: %w", err)
	}
	out := make([]string, 0, len(cells))
	seen := make(map[string]struct{}, len(cells))
	for _, c := range cells {
		s := c.String()
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

// toLoop drops the closing vertex; h3 loops are implicitly closed.
func toLoop(r orb.Ring) h3.GeoLoop {
	loop := make(h3.GeoLoop, 0, len(r))
	for _, p := range r {
		loop = append(loop, h3.LatLng{Lat: p[1], Lng: p[0]})
	}
	if n := len(loop); n >= 2 && loop[0] == loop[n-1] {
		loop = loop[:n-1]
	}
	return loop
}
