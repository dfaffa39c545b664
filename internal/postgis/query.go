package postgis

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v4"

	"github.com/mohammed-shakir/geofetch/internal/core/model"
	"github.com/mohammed-shakir/geofetch/internal/region"
)

var ErrNoColumns = errors.New("select columns must not be empty")

// Query describes one relation fetch. Where is raw SQL appended to the
// WHERE clause and is trusted as is; untrusted conditions go in Filters.
type Query struct {
	Schema      string
	Relation    string
	SelectCols  []string
	GeomCol     string
	Where       string
	Filters     []Filter
	SRID        int
	Envelope    bool // bbox overlap instead of polygon containment
	Limit       int
	ClipGeomCol string // geometry column of a clip relation, default "geom"
}

// Filter compares a column with a value passed as a bind argument. Op is
// one of FilterOps; Value is ignored for IS NULL and IS NOT NULL.
type Filter struct {
	Column string
	Op     string
	Value  any
}

var FilterOps = map[string]bool{
	"=": true, "!=": true, "<>": true, "<": true, "<=": true, ">": true, ">=": true,
	"LIKE": true, "ILIKE": true, "IS NULL": true, "IS NOT NULL": true,
}

func (q Query) WithDefaults() Query {
	if q.GeomCol == "" {
		q.GeomCol = "way"
	}
	if q.SRID == 0 {
		q.SRID = 4326
	}
	if q.ClipGeomCol == "" {
		q.ClipGeomCol = "geom"
	}
	return q
}

// Table is the quoted schema-qualified relation name.
func (q Query) Table() string {
	return table(q.Schema, q.Relation)
}

// QualifiedName is schema.relation without quoting, the name cache entries
// and invalidation events refer to.
func (q Query) QualifiedName() string {
	if strings.Contains(q.Relation, ".") || q.Schema == "" {
		return q.Relation
	}
	return q.Schema + "." + q.Relation
}

func table(schema, rel string) string {
	parts := strings.Split(rel, ".")
	if len(parts) == 1 && schema != "" {
		parts = []string{schema, rel}
	}
	return pgx.Identifier(parts).Sanitize()
}

// Build renders the query for the region. The geometry is returned as WKT
// in the last column; boundary values are passed as bind arguments.
func (q Query) Build(r region.Region) (string, []any, error) {
	q = q.WithDefaults()
	if len(q.SelectCols) == 0 {
		return "", nil, ErrNoColumns
	}
	if strings.TrimSpace(q.Relation) == "" {
		return "", nil, errors.New("relation must not be empty")
	}

	srid := strconv.Itoa(q.SRID)
	geom := fmt.Sprintf("ST_Transform(src.%s, %s)", pgx.Identifier{q.GeomCol}.Sanitize(), srid)

	var b strings.Builder
	b.WriteString("SELECT ")
	for _, c := range q.SelectCols {
		b.WriteString("src.")
		b.WriteString(pgx.Identifier{c}.Sanitize())
		b.WriteString(", ")
	}
	fmt.Fprintf(&b, "ST_AsText(%s) FROM %s AS src", geom, q.Table())

	var (
		conds []string
		args  []any
	)
	if w := strings.TrimSpace(q.Where); w != "" {
		conds = append(conds, "("+w+")")
	}
	switch {
	case r.Relation != "":
		fmt.Fprintf(&b, ", %s AS clip_relation", table(q.Schema, r.Relation))
		conds = append(conds, fmt.Sprintf("ST_Contains(ST_Transform(clip_relation.%s, %s), %s)",
			pgx.Identifier{q.ClipGeomCol}.Sanitize(), srid, geom))
	case q.Envelope && r.HasBounds:
		conds = append(conds, fmt.Sprintf("%s && ST_MakeEnvelope($1, $2, $3, $4, %s)", geom, srid))
		args = append(args, r.Bounds.Min[0], r.Bounds.Min[1], r.Bounds.Max[0], r.Bounds.Max[1])
	case len(r.Polygon) > 0:
		conds = append(conds, fmt.Sprintf("ST_Contains(ST_GeomFromText($1, %s), %s)", srid, geom))
		args = append(args, r.WKT())
	}
	for _, f := range q.Filters {
		op := strings.ToUpper(f.Op)
		if !FilterOps[op] {
			return "", nil, fmt.Errorf("unsupported filter operator %q", f.Op)
		}
		col := "src." + pgx.Identifier{f.Column}.Sanitize()
		if op == "IS NULL" || op == "IS NOT NULL" {
			conds = append(conds, col+" "+op)
			continue
		}
		args = append(args, f.Value)
		conds = append(conds, fmt.Sprintf("%s %s $%d", col, op, len(args)))
	}
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.Limit)
	}
	return b.String(), args, nil
}

type LayerQuery struct {
	Kind  model.GeomKind
	Query Query
}

// CollectionQueries returns the point, line and polygon queries of an
// osm2pgsql style import: <prefix>_point, <prefix>_line, <prefix>_polygon.
func CollectionQueries(prefix string, base Query) []LayerQuery {
	out := make([]LayerQuery, 0, 3)
	for _, k := range []struct {
		kind   model.GeomKind
		suffix string
	}{
		{model.KindPoint, "_point"},
		{model.KindLineString, "_line"},
		{model.KindPolygon, "_polygon"},
	} {
		q := base
		q.SelectCols = append([]string(nil), base.SelectCols...)
		q.Relation = prefix + k.suffix
		out = append(out, LayerQuery{Kind: k.kind, Query: q})
	}
	return out
}

// KindFor guesses the geometry kind from an osm2pgsql table suffix. Other
// relations are KindMixed.
func KindFor(relation string) model.GeomKind {
	switch {
	case strings.HasSuffix(relation, "_point"):
		return model.KindPoint
	case strings.HasSuffix(relation, "_line"), strings.HasSuffix(relation, "_roads"):
		return model.KindLineString
	case strings.HasSuffix(relation, "_polygon"):
		return model.KindPolygon
	}
	return model.KindMixed
}
