// Package jobfile reads YAML job files describing one fetch and its
// outputs.
package jobfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mohammed-shakir/geofetch/internal/clip"
	"github.com/mohammed-shakir/geofetch/internal/core/model"
	"github.com/mohammed-shakir/geofetch/internal/overpass"
	"github.com/mohammed-shakir/geofetch/internal/pipeline"
	"github.com/mohammed-shakir/geofetch/internal/postgis"
	"github.com/mohammed-shakir/geofetch/internal/region"
)

var ErrInvalid = errors.New("invalid job file")

type Job struct {
	Name     string       `yaml:"name"`
	Source   string       `yaml:"source"`
	Database string       `yaml:"database,omitempty"`
	Boundary string       `yaml:"boundary,omitempty"`
	Clip     string       `yaml:"clip,omitempty"`
	H3Res    *int         `yaml:"h3_res,omitempty"`
	NoCache  bool         `yaml:"no_cache,omitempty"`
	Query    QuerySpec    `yaml:"query,omitempty"`
	Overpass OverpassSpec `yaml:"overpass,omitempty"`
	Output   Output       `yaml:"output,omitempty"`

	dir string
}

type QuerySpec struct {
	Schema     string   `yaml:"schema,omitempty"`
	Table      string   `yaml:"table,omitempty"`
	Prefix     string   `yaml:"prefix,omitempty"`
	Kind       string   `yaml:"kind,omitempty"`
	SelectCols []string `yaml:"select_cols,omitempty"`
	GeomCol    string   `yaml:"geom_col,omitempty"`
	Where      string   `yaml:"where,omitempty"`
	SRID       int      `yaml:"srid,omitempty"`
	Envelope   bool     `yaml:"envelope,omitempty"`
	Limit      int      `yaml:"limit,omitempty"`
}

// OverpassSpec lists statements per element type. Every entry is one
// statement, so two entries under node are a union; "" selects the bare
// type.
type OverpassSpec struct {
	Elements  map[string][]string `yaml:"elements,omitempty"`
	Timeout   time.Duration       `yaml:"timeout,omitempty"`
	NoRecurse bool                `yaml:"no_recurse,omitempty"`
}

type Output struct {
	Table     int    `yaml:"table,omitempty"`
	Plot      string `yaml:"plot,omitempty"`
	Shapefile string `yaml:"shapefile,omitempty"`
	GeoJSON   string `yaml:"geojson,omitempty"`
	OSM       string `yaml:"osm,omitempty"`
}

// Load reads and validates a job file. Relative boundary and output paths
// are resolved against the file's directory.
func Load(path string) (Job, error) {
	f, err := os.Open(path)
	if err != nil {
		return Job{}, fmt.Errorf("open job file: %w", err)
	}
	defer func() { _ = f.Close() }()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	var j Job
	if err := dec.Decode(&j); err != nil {
		return Job{}, fmt.Errorf("%w %s: %w", ErrInvalid, path, err)
	}
	j.dir = filepath.Dir(path)
	if err := j.Validate(); err != nil {
		return Job{}, fmt.Errorf("%s: %w", path, err)
	}
	return j, nil
}

func (j Job) Validate() error {
	var problems []string
	add := func(format string, a ...any) { problems = append(problems, fmt.Sprintf(format, a...)) }

	if strings.TrimSpace(j.Name) == "" {
		add("name is required")
	}
	src, err := pipeline.ParseSource(j.Source)
	if err != nil {
		add("source: %v", err)
	}
	if _, err := clip.ParseMode(j.Clip); err != nil {
		add("clip: %v", err)
	}
	if j.H3Res != nil && (*j.H3Res < -1 || *j.H3Res > 15) {
		add("h3_res %d out of range -1..15", *j.H3Res)
	}

	switch src {
	case pipeline.SourcePostGIS:
		q := j.Query
		if (q.Table == "") == (q.Prefix == "") {
			add("query: exactly one of table or prefix is required")
		}
		if len(q.SelectCols) == 0 {
			add("query: select_cols is required")
		}
		if q.Limit < 0 {
			add("query: limit must not be negative")
		}
		if q.Kind != "" && q.Prefix != "" {
			add("query: kind is implied by prefix")
		}
		if _, err := model.ParseKind(q.Kind); err != nil {
			add("query: %v", err)
		}
		if j.Output.OSM != "" {
			add("output: osm needs source overpass")
		}
	case pipeline.SourceOverpass:
		if _, err := j.overpassQuery(); err != nil {
			add("overpass: %v", err)
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// Collection reports whether the job fetches a prefix_point/_line/_polygon
// set.
func (j Job) Collection() bool {
	return j.Query.Prefix != ""
}

// Request resolves the boundary and builds the pipeline request. defaults
// fills the query fields the job leaves empty.
func (j Job) Request(defaults postgis.Query) (pipeline.Request, error) {
	src, err := pipeline.ParseSource(j.Source)
	if err != nil {
		return pipeline.Request{}, err
	}
	mode, err := clip.ParseMode(j.Clip)
	if err != nil {
		return pipeline.Request{}, err
	}
	r, err := region.Parse(j.Name, j.resolveBoundary())
	if err != nil {
		return pipeline.Request{}, fmt.Errorf("boundary: %w", err)
	}
	req := pipeline.Request{
		Source:  src,
		Name:    j.Name,
		Region:  r,
		Clip:    mode,
		H3Res:   -1,
		NoCache: j.NoCache,
	}
	if j.H3Res != nil {
		req.H3Res = *j.H3Res
	}

	switch src {
	case pipeline.SourcePostGIS:
		q := defaults
		js := j.Query
		q.Relation = js.Table
		q.SelectCols = append([]string(nil), js.SelectCols...)
		q.Where = js.Where
		q.Envelope = js.Envelope
		q.Limit = js.Limit
		if js.Schema != "" {
			q.Schema = js.Schema
		}
		if js.GeomCol != "" {
			q.GeomCol = js.GeomCol
		}
		if js.SRID != 0 {
			q.SRID = js.SRID
		}
		req.Query = q
		req.Kind, _ = model.ParseKind(js.Kind)
		if req.Kind == model.KindMixed && js.Table != "" {
			req.Kind = postgis.KindFor(js.Table)
		}
	case pipeline.SourceOverpass:
		oq, err := j.overpassQuery()
		if err != nil {
			return pipeline.Request{}, err
		}
		req.Overpass = oq
	}
	return req, nil
}

// OutputPath resolves an output path against the job file's directory.
func (j Job) OutputPath(p string) string {
	if p == "" || filepath.IsAbs(p) || j.dir == "" {
		return p
	}
	return filepath.Join(j.dir, p)
}

func (j Job) resolveBoundary() string {
	b := strings.TrimSpace(j.Boundary)
	if strings.HasSuffix(strings.ToLower(b), ".shp") {
		return j.OutputPath(b)
	}
	return b
}

var elementOrder = []string{"node", "way", "relation", "rel", "nwr"}

func (j Job) overpassQuery() (overpass.Query, error) {
	q := overpass.Query{Timeout: j.Overpass.Timeout, NoRecurse: j.Overpass.NoRecurse}
	known := map[string]bool{}
	for _, typ := range elementOrder {
		known[typ] = true
		stmts, ok := j.Overpass.Elements[typ]
		if !ok {
			continue
		}
		if len(stmts) == 0 {
			stmts = []string{""}
		}
		for _, s := range stmts {
			e := overpass.Element{Type: typ}
			if s = strings.TrimSpace(s); s != "" {
				e.Filters = []string{s}
			}
			q.Elements = append(q.Elements, e)
		}
	}
	for typ := range j.Overpass.Elements {
		if !known[typ] {
			return overpass.Query{}, fmt.Errorf("%w (got %q)", overpass.ErrElementType, typ)
		}
	}
	if len(q.Elements) == 0 {
		return overpass.Query{}, overpass.ErrNoElements
	}
	return q, nil
}
