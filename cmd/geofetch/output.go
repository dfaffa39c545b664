package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/osm"
	"github.com/spf13/pflag"

	"github.com/mohammed-shakir/geofetch/internal/core/model"
	"github.com/mohammed-shakir/geofetch/internal/core/observability"
	"github.com/mohammed-shakir/geofetch/internal/h3index"
	"github.com/mohammed-shakir/geofetch/internal/jobfile"
	"github.com/mohammed-shakir/geofetch/internal/overpass"
	"github.com/mohammed-shakir/geofetch/internal/pipeline"
	"github.com/mohammed-shakir/geofetch/internal/plot"
	"github.com/mohammed-shakir/geofetch/internal/preview"
	"github.com/mohammed-shakir/geofetch/internal/shapefile"
)

// outputs are the export targets of one fetch. Zero values are skipped.
type outputs struct {
	table   int
	cells   int
	plot    string
	shp     string
	geojson string
	osm     string
}

func (o *outputs) register(pf *pflag.FlagSet) {
	pf.IntVar(&o.table, "table", 0, "print the first n features of each layer as a table")
	pf.IntVar(&o.cells, "cells", 0, "print the n busiest H3 cells (needs --h3-res)")
	pf.StringVar(&o.plot, "plot", "", "write a PNG map to this path")
	pf.StringVar(&o.shp, "shp", "", "write an ESRI shapefile to this path")
	pf.StringVar(&o.geojson, "geojson", "", "write a GeoJSON FeatureCollection to this path")
	pf.StringVar(&o.osm, "osm", "", "write the raw Overpass answer as OSM XML (overpass only)")
}

// merge fills the targets the command line left empty from the job file.
func (o *outputs) merge(j jobfile.Job) {
	if o.table == 0 {
		o.table = j.Output.Table
	}
	if o.plot == "" {
		o.plot = j.OutputPath(j.Output.Plot)
	}
	if o.shp == "" {
		o.shp = j.OutputPath(j.Output.Shapefile)
	}
	if o.geojson == "" {
		o.geojson = j.OutputPath(j.Output.GeoJSON)
	}
	if o.osm == "" {
		o.osm = j.OutputPath(j.Output.OSM)
	}
}

func (o *outputs) write(ctx context.Context, a *app, c *model.Collection, raw *osm.OSM, req pipeline.Request) error {
	log := a.log()
	layers := c.Layers()
	log.Info("fetched", "name", c.Name, "layers", len(layers), "features", c.Len())

	if o.table > 0 {
		for _, l := range layers {
			if len(layers) > 1 {
				_, _ = fmt.Fprintf(a.stdout, "%s (%s)\n", l.Name, l.Kind.Plural())
			}
			if err := preview.Print(a.stdout, l, o.table); err != nil {
				if !errors.Is(err, preview.ErrNoResults) {
					return err
				}
				log.Info("nothing to show", "layer", l.Name)
			}
		}
		if len(layers) == 0 {
			log.Info("nothing to show", "name", c.Name)
		}
	}

	if o.cells > 0 {
		if req.H3Res < 0 {
			log.Warn("--cells needs --h3-res, skipping")
		} else {
			counts, err := h3index.Histogram(req.H3Res, layers...)
			if err != nil {
				return err
			}
			if err := preview.PrintCells(a.stdout, counts, o.cells); err != nil && !errors.Is(err, preview.ErrNoResults) {
				return err
			}
		}
	}

	if o.plot != "" {
		opts := plot.Options{
			Width:    a.cfg.PlotWidth,
			Height:   a.cfg.PlotHeight,
			Padding:  a.cfg.PlotPadding,
			Limit:    a.cfg.PlotLimit,
			Title:    plot.Title(layers...),
			Boundary: req.Region.Polygon,
		}
		err := plot.Render(o.plot, opts, layers...)
		switch {
		case errors.Is(err, plot.ErrTooManyElements), errors.Is(err, plot.ErrEmptyView):
			log.Warn("plot skipped", "path", o.plot, "err", err)
		case err != nil:
			return err
		default:
			observability.IncExport("png")
			log.Info("plot written", "path", o.plot)
		}
	}

	if o.shp != "" {
		for _, l := range layers {
			path := shpPath(o.shp, l.Kind, len(layers) > 1)
			res, err := shapefile.Write(ctx, path, l, log)
			if errors.Is(err, shapefile.ErrEmptyLayer) {
				log.Warn("shapefile skipped", "layer", l.Name, "err", err)
				continue
			}
			if err != nil {
				return fmt.Errorf("write shapefile %s: %w", path, err)
			}
			observability.IncExport("shapefile")
			log.Info("shapefile written", "path", res.Path, "written", res.Written, "skipped", res.Skipped)
		}
	}

	if o.geojson != "" {
		if err := writeJSON(o.geojson, c.GeoJSON()); err != nil {
			return err
		}
		observability.IncExport("geojson")
		log.Info("geojson written", "path", o.geojson)
	}

	if o.osm != "" {
		if raw == nil {
			log.Warn("--osm only applies to overpass fetches, skipping")
			return nil
		}
		if err := writeOSM(o.osm, raw); err != nil {
			return err
		}
		observability.IncExport("osm")
		log.Info("osm written", "path", o.osm)
	}
	return nil
}

// shpPath returns path for a single layer; collections get one file per
// kind, base_point.shp, base_line.shp and base_polygon.shp.
func shpPath(path string, kind model.GeomKind, multi bool) string {
	if !multi {
		return path
	}
	base := strings.TrimSuffix(path, filepath.Ext(path))
	var suffix string
	switch kind {
	case model.KindPoint:
		suffix = "point"
	case model.KindLineString:
		suffix = "line"
	default:
		suffix = "polygon"
	}
	return base + "_" + suffix + ".shp"
}

func create(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return f, nil
}

func writeJSON(path string, v any) error {
	f, err := create(path)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	if err := enc.Encode(v); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode geojson: %w", err)
	}
	return f.Close()
}

func writeOSM(path string, o *osm.OSM) error {
	f, err := create(path)
	if err != nil {
		return err
	}
	if err := overpass.Dump(f, o); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
