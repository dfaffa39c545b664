package shapefile

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/geofetch/internal/core/model"
)

const (
	wgs84WKT    = `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`
	mercatorWKT = `PROJCS["WGS_1984_Web_Mercator_Auxiliary_Sphere",GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]],PROJECTION["Mercator_Auxiliary_Sphere"],PARAMETER["False_Easting",0.0],PARAMETER["False_Northing",0.0],PARAMETER["Central_Meridian",0.0],PARAMETER["Standard_Parallel_1",0.0],PARAMETER["Auxiliary_Sphere_Type",0.0],UNIT["Meter",1.0]]`
)

type Result struct {
	Path    string
	Written int
	Skipped int
}

// Write saves the layer to path (".shp" is appended when missing) along
// with its .shx, .dbf and, for known SRIDs, .prj sidecars. Features whose
// geometry kind differs from the first feature's are skipped.
func Write(ctx context.Context, path string, l *model.Layer, log *slog.Logger) (Result, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	schema, err := InferSchema(l)
	if err != nil {
		return Result{}, err
	}
	if !strings.EqualFold(filepath.Ext(path), ".shp") {
		path += ".shp"
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Result{}, fmt.Errorf("create dir: %w", err)
		}
	}

	w, err := shp.Create(path, schema.ShapeType)
	if err != nil {
		return Result{}, fmt.Errorf("create shapefile: %w", err)
	}
	fields := make([]shp.Field, len(schema.Fields))
	for i, f := range schema.Fields {
		fields[i] = f.dbf()
	}
	if err := w.SetFields(fields); err != nil {
		_ = finish(w, path)
		return Result{}, fmt.Errorf("set fields: %w", err)
	}

	res := Result{Path: path}
	for _, feat := range l.Features {
		if err := ctx.Err(); err != nil {
			_ = finish(w, path)
			return res, err
		}
		if model.KindOf(feat.Geometry) != schema.Geometry {
			res.Skipped++
			continue
		}
		shape := toShape(feat.Geometry, schema.ShapeType)
		if shape == nil {
			res.Skipped++
			continue
		}
		row := int(w.Write(shape))
		for i, f := range schema.Fields {
			v, ok := f.value(feat.Properties[f.Column])
			if !ok {
				continue
			}
			if err := w.WriteAttribute(row, i, v); err != nil {
				_ = finish(w, path)
				return res, fmt.Errorf("write %s: %w", f.Name, err)
			}
		}
		res.Written++
	}
	if err := finish(w, path); err != nil {
		return res, err
	}

	if err := writePrj(path, l.SRID); err != nil {
		log.WarnContext(ctx, "no projection written", "srid", l.SRID, "err", err)
	}
	if res.Skipped > 0 {
		log.WarnContext(ctx, "skipped features with foreign geometry",
			"layer", l.Name, "kind", string(schema.Geometry), "skipped", res.Skipped)
	}
	log.InfoContext(ctx, "shapefile saved", "path", path, "features", res.Written)
	return res, nil
}

// finish closes w and moves the attribute table into place. go-shp
// v0.1.1 creates it as "<base>dbf" without the dot; its reader looks for
// "<base>.dbf".
func finish(w *shp.Writer, shpPath string) error {
	w.Close()
	base := shpPath[:len(shpPath)-len(filepath.Ext(shpPath))]
	if err := os.Rename(base+"dbf", base+".dbf"); err != nil {
		return fmt.Errorf("move dbf: %w", err)
	}
	return nil
}

func writePrj(shpPath string, srid int) error {
	var wkt string
	switch srid {
	case 4326, 0:
		wkt = wgs84WKT
	case 3857, 900913:
		wkt = mercatorWKT
	default:
		return fmt.Errorf("unknown srid %d", srid)
	}
	prj := strings.TrimSuffix(shpPath, filepath.Ext(shpPath)) + ".prj"
	return os.WriteFile(prj, []byte(wkt), 0o644)
}

func toShape(g orb.Geometry, st shp.ShapeType) shp.Shape {
	switch g := g.(type) {
	case orb.Point:
		if st == shp.MULTIPOINT {
			return multiPoint([]orb.Point{g})
		}
		return &shp.Point{X: g[0], Y: g[1]}
	case orb.MultiPoint:
		return multiPoint(g)
	case orb.LineString:
		return shp.NewPolyLine([][]shp.Point{points(g)})
	case orb.MultiLineString:
		parts := make([][]shp.Point, 0, len(g))
		for _, ls := range g {
			parts = append(parts, points(ls))
		}
		return shp.NewPolyLine(parts)
	case orb.Polygon:
		return polygon([]orb.Polygon{g})
	case orb.MultiPolygon:
		return polygon(g)
	}
	return nil
}

func points[T ~[]orb.Point](ps T) []shp.Point {
	out := make([]shp.Point, len(ps))
	for i, p := range ps {
		out[i] = shp.Point{X: p[0], Y: p[1]}
	}
	return out
}

func multiPoint(mp []orb.Point) *shp.MultiPoint {
	pts := points(mp)
	return &shp.MultiPoint{
		Box:       shp.BBoxFromPoints(pts),
		NumPoints: int32(len(pts)),
		Points:    pts,
	}
}

// polygon writes outer rings clockwise and holes counter-clockwise.
func polygon(polys []orb.Polygon) *shp.Polygon {
	var parts [][]shp.Point
	for _, p := range polys {
		for i, r := range p {
			want := orb.CCW
			if i == 0 {
				want = orb.CW
			}
			if r.Orientation() != want {
				r = r.Clone()
				r.Reverse()
			}
			parts = append(parts, points(r))
		}
	}
	pg := shp.Polygon(*shp.NewPolyLine(parts))
	return &pg
}
