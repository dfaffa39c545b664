package postgis

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v4"
	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/geofetch/internal/core/model"
	"github.com/mohammed-shakir/geofetch/internal/region"
)

func TestParseDSN(t *testing.T) {
	d, err := ParseDSN("andi@localhost:5433/osm")
	if err != nil {
		t.Fatalf("ParseDSN: %v", err)
	}
	if d.User != "andi" || d.Host != "localhost" || d.Port != 5433 || d.Database != "osm" {
		t.Fatalf("dsn=%+v", d)
	}
	if got := d.ConnString(); got != "postgres://andi@localhost:5433/osm" {
		t.Fatalf("conn string=%q", got)
	}

	d, err = ParseDSN("andi@db/osm")
	if err != nil || d.Port != 5432 {
		t.Fatalf("default port: %+v %v", d, err)
	}

	url := "postgres://andi@db:6000/osm?sslmode=disable"
	d, err = ParseDSN(url)
	if err != nil || d.Port != 6000 || d.ConnString() != url {
		t.Fatalf("url form: %+v %v", d, err)
	}

	for _, bad := range []string{"", "localhost:5432/osm", "andi@localhost:5432", "andi@host:99999/osm"} {
		if _, err := ParseDSN(bad); !errors.Is(err, ErrBadDSN) {
			t.Fatalf("ParseDSN(%q) want ErrBadDSN, got %v", bad, err)
		}
	}
}

func baseQuery() Query {
	return Query{Schema: "public", Relation: "planet_osm_polygon", SelectCols: []string{"osm_id", "name"}, SRID: 4326}
}

func TestBuild_NoBoundary(t *testing.T) {
	q := baseQuery()
	q.Where = "building = 'yes'"
	q.Limit = 10
	sql, args, err := q.Build(region.Region{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := `SELECT src."osm_id", src."name", ST_AsText(ST_Transform(src."way", 4326)) FROM "public"."planet_osm_polygon" AS src WHERE (building = 'yes') LIMIT 10`
	if sql != want {
		t.Fatalf("sql=\n%s\nwant\n%s", sql, want)
	}
	if len(args) != 0 {
		t.Fatalf("args=%v", args)
	}
}

func TestBuild_PolygonBoundIsBindParameter(t *testing.T) {
	r, err := region.Parse("gbg", "POLYGON((11 57,12 57,12 58,11 58,11 57))")
	if err != nil {
		t.Fatalf("region: %v", err)
	}
	sql, args, err := baseQuery().Build(r)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(sql, `WHERE ST_Contains(ST_GeomFromText($1, 4326), ST_Transform(src."way", 4326))`) {
		t.Fatalf("sql=%s", sql)
	}
	if strings.Contains(sql, "POLYGON") {
		t.Fatalf("wkt must not be interpolated: %s", sql)
	}
	if len(args) != 1 || !strings.HasPrefix(args[0].(string), "POLYGON((11 57") {
		t.Fatalf("args=%v", args)
	}
}

func TestBuild_Envelope(t *testing.T) {
	q := baseQuery()
	q.Envelope = true
	q.Where = "amenity IS NOT NULL"
	r := region.FromBound("b", orb.Bound{Min: orb.Point{11, 57}, Max: orb.Point{12, 58}})
	sql, args, err := q.Build(r)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(sql, `WHERE (amenity IS NOT NULL) AND ST_Transform(src."way", 4326) && ST_MakeEnvelope($1, $2, $3, $4, 4326)`) {
		t.Fatalf("sql=%s", sql)
	}
	if len(args) != 4 || args[0] != 11.0 || args[3] != 58.0 {
		t.Fatalf("args=%v", args)
	}
}

func TestBuild_FiltersAreBindArguments(t *testing.T) {
	q := baseQuery()
	q.Envelope = true
	q.Filters = []Filter{
		{Column: "name", Op: "=", Value: "x' OR 1=1 --"},
		{Column: "amenity", Op: "is not null"},
		{Column: "osm_id", Op: ">", Value: int64(10)},
	}
	r := region.FromBound("b", orb.Bound{Min: orb.Point{11, 57}, Max: orb.Point{12, 58}})
	sql, args, err := q.Build(r)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := `ST_MakeEnvelope($1, $2, $3, $4, 4326) AND src."name" = $5 AND src."amenity" IS NOT NULL AND src."osm_id" > $6`
	if !strings.Contains(sql, want) {
		t.Fatalf("sql=%s", sql)
	}
	if strings.Contains(sql, "OR 1=1") {
		t.Fatalf("literal leaked into sql: %s", sql)
	}
	if len(args) != 6 || args[4] != "x' OR 1=1 --" || args[5] != int64(10) {
		t.Fatalf("args=%v", args)
	}

	q.Filters = []Filter{{Column: "name", Op: "; DROP", Value: 1}}
	if _, _, err := q.Build(r); err == nil {
		t.Fatalf("expected unsupported operator error")
	}
}

func TestBuild_ClipRelation(t *testing.T) {
	r, _ := region.Parse("gbg", "admin.city_boundary")
	sql, args, err := baseQuery().Build(r)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := `FROM "public"."planet_osm_polygon" AS src, "admin"."city_boundary" AS clip_relation WHERE ST_Contains(ST_Transform(clip_relation."geom", 4326), ST_Transform(src."way", 4326))`
	if !strings.Contains(sql, want) {
		t.Fatalf("sql=%s", sql)
	}
	if len(args) != 0 {
		t.Fatalf("args=%v", args)
	}
}

func TestBuild_QuotesIdentifiers(t *testing.T) {
	q := baseQuery()
	q.SelectCols = []string{`na"me`}
	sql, _, err := q.Build(region.Region{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(sql, `src."na""me"`) {
		t.Fatalf("identifier not escaped: %s", sql)
	}
}

func TestBuild_Errors(t *testing.T) {
	q := baseQuery()
	q.SelectCols = nil
	if _, _, err := q.Build(region.Region{}); !errors.Is(err, ErrNoColumns) {
		t.Fatalf("want ErrNoColumns, got %v", err)
	}
	q = baseQuery()
	q.Relation = ""
	if _, _, err := q.Build(region.Region{}); err == nil {
		t.Fatalf("want error for empty relation")
	}
}

func TestCollectionQueries(t *testing.T) {
	qs := CollectionQueries("planet_osm", baseQuery())
	if len(qs) != 3 {
		t.Fatalf("len=%d", len(qs))
	}
	if qs[0].Kind != model.KindPoint || qs[0].Query.Relation != "planet_osm_point" ||
		qs[1].Query.Relation != "planet_osm_line" || qs[2].Kind != model.KindPolygon {
		t.Fatalf("queries=%+v", qs)
	}
}

type fakeRows struct {
	pgx.Rows
	data [][]any
	i    int
	err  error
}

func (r *fakeRows) Next() bool {
	if r.i >= len(r.data) {
		return false
	}
	r.i++
	return true
}

func (r *fakeRows) Values() ([]any, error) { return r.data[r.i-1], nil }
func (r *fakeRows) Err() error             { return r.err }
func (r *fakeRows) Close()                 {}

type fakeDB struct {
	rows    *fakeRows
	err     error
	gotSQL  string
	gotArgs []any
}

func (f *fakeDB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.gotSQL, f.gotArgs = sql, args
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

func TestClient_Fetch(t *testing.T) {
	db := &fakeDB{rows: &fakeRows{data: [][]any{
		{int64(1), "Park", "POLYGON((0 0,1 0,1 1,0 1,0 0))"},
		{int32(2), []byte("Lake"), nil},
		{int64(3), nil, "POINT(1 2)"},
	}}}
	c := New(db, nil)

	l, err := c.Fetch(context.Background(), baseQuery(), region.Region{}, "parks", model.KindPolygon)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if l.Len() != 2 {
		t.Fatalf("len=%d want 2 (null geometry skipped)", l.Len())
	}
	if l.Features[0].ID != "1" || l.Features[0].Properties["name"] != "Park" {
		t.Fatalf("feature 0=%+v", l.Features[0])
	}
	if l.Features[1].Properties["name"] != nil {
		t.Fatalf("nil value should stay nil, got %v", l.Features[1].Properties["name"])
	}
	if _, ok := l.Features[1].Geometry.(orb.Point); !ok {
		t.Fatalf("geometry=%T", l.Features[1].Geometry)
	}
	if l.SRID != 4326 || l.Columns[0] != "osm_id" {
		t.Fatalf("layer meta=%+v", l)
	}
	if !strings.HasPrefix(db.gotSQL, "SELECT ") {
		t.Fatalf("sql=%s", db.gotSQL)
	}
}

func TestClient_FetchErrors(t *testing.T) {
	c := New(&fakeDB{err: errors.New("relation does not exist")}, nil)
	if _, err := c.Fetch(context.Background(), baseQuery(), region.Region{}, "x", model.KindPoint); err == nil ||
		!strings.Contains(err.Error(), "relation does not exist") {
		t.Fatalf("query error must be returned, got %v", err)
	}

	c = New(&fakeDB{rows: &fakeRows{data: [][]any{{int64(1), "x"}}}}, nil)
	if _, err := c.Fetch(context.Background(), baseQuery(), region.Region{}, "x", model.KindPoint); err == nil {
		t.Fatalf("want error for short row")
	}

	c = New(&fakeDB{rows: &fakeRows{data: [][]any{{int64(1), "x", "NOT WKT"}}}}, nil)
	if _, err := c.Fetch(context.Background(), baseQuery(), region.Region{}, "x", model.KindPoint); err == nil {
		t.Fatalf("want error for bad wkt")
	}
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   any
		want any
	}{
		{int16(3), int64(3)},
		{float32(1.5), 1.5},
		{[]byte("abc"), "abc"},
		{nil, nil},
		{true, true},
	}
	for _, c := range cases {
		if got := normalize(c.in); got != c.want {
			t.Fatalf("normalize(%v)=%v (%T) want %v", c.in, got, got, c.want)
		}
	}
}

func TestKindFor(t *testing.T) {
	cases := map[string]model.GeomKind{
		"planet_osm_point":   model.KindPoint,
		"planet_osm_roads":   model.KindLineString,
		"public.gbg_polygon": model.KindPolygon,
		"parks":              model.KindMixed,
	}
	for rel, want := range cases {
		if got := KindFor(rel); got != want {
			t.Fatalf("KindFor(%q)=%q want %q", rel, got, want)
		}
	}
}

func TestQualifiedName(t *testing.T) {
	cases := []struct {
		q    Query
		want string
	}{
		{Query{Schema: "public", Relation: "planet_osm_point"}, "public.planet_osm_point"},
		{Query{Schema: "public", Relation: "osm.roads"}, "osm.roads"},
		{Query{Relation: "parks"}, "parks"},
	}
	for _, c := range cases {
		if got := c.q.QualifiedName(); got != c.want {
			t.Fatalf("QualifiedName(%+v)=%q want %q", c.q, got, c.want)
		}
	}
}
