// Package plot renders layers onto a Web Mercator PNG map.
package plot

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/fogleman/gg"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"

	"github.com/mohammed-shakir/geofetch/internal/core/model"
)

var (
	ErrTooManyElements = errors.New("too many elements to plot")
	ErrEmptyView       = errors.New("empty view - nothing to plot")
)

const (
	DefaultLimit   = 5000
	DefaultPadding = 0.02
	margin         = 24.0
	maxLat         = 85.05112878
)

type Options struct {
	Width   int
	Height  int
	Padding float64 // degrees added around the extent
	Limit   int     // max features per layer
	Title   string  // defaults to "<name> - total: n <kind>(s)"
	// Boundary is drawn as a dashed outline when set.
	Boundary orb.Polygon
	// Extent overrides the union of layer bounds.
	Extent *orb.Bound
}

func (o Options) withDefaults() Options {
	if o.Width <= 0 {
		o.Width = 1024
	}
	if o.Height <= 0 {
		o.Height = 1024
	}
	if o.Padding < 0 {
		o.Padding = 0
	}
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	return o
}

// Render draws the layers and writes a PNG to path.
func Render(path string, opts Options, layers ...*model.Layer) error {
	dc, err := draw(opts, layers)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dir: %w", err)
		}
	}
	if err := dc.SavePNG(path); err != nil {
		return fmt.Errorf("save plot: %w", err)
	}
	return nil
}

// Encode draws the layers and writes the PNG to w.
func Encode(w io.Writer, opts Options, layers ...*model.Layer) error {
	dc, err := draw(opts, layers)
	if err != nil {
		return err
	}
	if err := dc.EncodePNG(w); err != nil {
		return fmt.Errorf("encode plot: %w", err)
	}
	return nil
}

func Title(layers ...*model.Layer) string {
	var name string
	var parts []string
	for _, l := range layers {
		if l.Len() == 0 {
			continue
		}
		if name == "" {
			name = l.Name
		}
		parts = append(parts, fmt.Sprintf("%d %s", l.Len(), l.Kind.Plural()))
	}
	return fmt.Sprintf("%s - total: %s", name, strings.Join(parts, ", "))
}

type view struct {
	min    orb.Point // projected
	scale  float64
	offX   float64
	offY   float64
	height float64
}

func (v view) xy(p orb.Point) (float64, float64) {
	m := project.WGS84.ToMercator(orb.Point{p[0], clampLat(p[1])})
	x := v.offX + (m[0]-v.min[0])*v.scale
	y := v.height - v.offY - (m[1]-v.min[1])*v.scale
	return x, y
}

func draw(opts Options, layers []*model.Layer) (*gg.Context, error) {
	opts = opts.withDefaults()
	for _, l := range layers {
		if l.Len() > opts.Limit {
			return nil, fmt.Errorf("%w: %s has %d, limit is %d", ErrTooManyElements, l.Name, l.Len(), opts.Limit)
		}
	}

	ext, ok := extent(opts, layers)
	if !ok {
		return nil, ErrEmptyView
	}
	ext = ext.Pad(opts.Padding)
	lo := project.WGS84.ToMercator(orb.Point{ext.Min[0], clampLat(ext.Min[1])})
	hi := project.WGS84.ToMercator(orb.Point{ext.Max[0], clampLat(ext.Max[1])})
	dx, dy := math.Max(hi[0]-lo[0], 1), math.Max(hi[1]-lo[1], 1)

	w, h := float64(opts.Width), float64(opts.Height)
	top := 2 * margin // room for the title
	scale := math.Min((w-2*margin)/dx, (h-margin-top)/dy)
	v := view{
		min:    lo,
		scale:  scale,
		offX:   (w - dx*scale) / 2,
		offY:   margin + ((h-margin-top)-dy*scale)/2,
		height: h,
	}

	dc := gg.NewContext(opts.Width, opts.Height)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	for _, l := range ordered(layers) {
		for _, f := range l.Features {
			drawGeometry(dc, v, f.Geometry)
		}
	}

	if len(opts.Boundary) > 0 {
		for _, r := range opts.Boundary {
			ringPath(dc, v, r)
		}
		dc.SetDash(6, 4)
		dc.SetLineWidth(1.2)
		dc.SetRGB(0.1, 0.1, 0.1)
		dc.Stroke()
		dc.SetDash()
	}

	title := opts.Title
	if title == "" {
		title = Title(layers...)
	}
	dc.SetRGB(0, 0, 0)
	dc.DrawStringAnchored(title, w/2, margin, 0.5, 0.5)
	return dc, nil
}

func extent(opts Options, layers []*model.Layer) (orb.Bound, bool) {
	if opts.Extent != nil {
		return *opts.Extent, true
	}
	var b orb.Bound
	ok := false
	for _, l := range layers {
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

// ordered draws polygons first so lines and points stay visible.
func ordered(layers []*model.Layer) []*model.Layer {
	var out []*model.Layer
	for _, k := range []model.GeomKind{model.KindPolygon, model.KindLineString, model.KindPoint, model.KindMixed} {
		for _, l := range layers {
			if l != nil && l.Kind == k {
				out = append(out, l)
			}
		}
	}
	return out
}

func drawGeometry(dc *gg.Context, v view, g orb.Geometry) {
	switch g := g.(type) {
	case orb.Point:
		x, y := v.xy(g)
		dc.DrawCircle(x, y, 2)
		dc.SetRGB(0.1, 0.2, 0.8)
		dc.Fill()
	case orb.MultiPoint:
		for _, p := range g {
			drawGeometry(dc, v, p)
		}
	case orb.LineString:
		linePath(dc, v, g)
		dc.SetLineWidth(0.8)
		dc.SetRGB(0.15, 0.15, 0.45)
		dc.Stroke()
	case orb.MultiLineString:
		for _, ls := range g {
			drawGeometry(dc, v, ls)
		}
	case orb.Polygon:
		for _, r := range g {
			ringPath(dc, v, r)
		}
		dc.SetFillRuleEvenOdd()
		dc.SetRGBA(0.9, 0.1, 0.1, 0.75)
		dc.FillPreserve()
		dc.SetLineWidth(0.5)
		dc.SetRGB(0.25, 0.05, 0.05)
		dc.Stroke()
	case orb.MultiPolygon:
		for _, p := range g {
			drawGeometry(dc, v, p)
		}
	case orb.Collection:
		for _, c := range g {
			drawGeometry(dc, v, c)
		}
	}
}

func linePath(dc *gg.Context, v view, ls orb.LineString) {
	for i, p := range ls {
		x, y := v.xy(p)
		if i == 0 {
			dc.MoveTo(x, y)
			continue
		}
		dc.LineTo(x, y)
	}
	dc.NewSubPath()
}

func ringPath(dc *gg.Context, v view, r orb.Ring) {
	for i, p := range r {
		x, y := v.xy(p)
		if i == 0 {
			dc.MoveTo(x, y)
			continue
		}
		dc.LineTo(x, y)
	}
	dc.ClosePath()
	dc.NewSubPath()
}

func clampLat(lat float64) float64 {
	return math.Max(-maxLat, math.Min(maxLat, lat))
}
