package keys

import (
	"regexp"
	"testing"
	"unicode"
)

var keyRe = regexp.MustCompile(`^geofetch:[a-z]+:[A-Za-z0-9_.\-]*:q=[0-9a-f]{16}$`)

func TestDeterminism_SameInputsSameKey(t *testing.T) {
	q := `SELECT src."name" FROM "public"."planet_osm_point" AS src WHERE (amenity='cafe')`
	k1 := Key("postgis", "public.planet_osm_point", q, "POLYGON((0 0,1 0,1 1,0 0))")
	k2 := Key("postgis", "public.planet_osm_point", q, "POLYGON((0 0,1 0,1 1,0 0))")
	if k1 != k2 {
		t.Fatalf("determinism failed:\n k1=%s\n k2=%s", k1, k2)
	}
	if !keyRe.MatchString(k1) {
		t.Fatalf("unexpected key shape: %s", k1)
	}
}

func TestNormalization_SpacingVariantsProduceSameKey(t *testing.T) {
	qA := `  node [ "amenity" = "shop" ] ( 57.6 , 11.9 , 57.8 , 12.1 ) ;  out body ; `
	qB := `node["amenity"="shop"](57.6,11.9,57.8,12.1);out body;`
	k1 := Key(" Overpass ", "gbg", qA)
	k2 := Key("overpass", "gbg", qB)
	if k1 != k2 {
		t.Fatalf("normalized keys differ:\n k1=%s\n k2=%s", k1, k2)
	}
}

func TestDifference_ArgsAndQueriesMatter(t *testing.T) {
	q := "SELECT 1 WHERE ST_Contains($1, way)"
	if Key("postgis", "x", q, "POLYGON((0 0,1 1,1 0,0 0))") == Key("postgis", "x", q, "POLYGON((0 0,2 2,2 0,0 0))") {
		t.Fatalf("different args must produce different keys")
	}
	if Key("postgis", "x", "a=1 AND b=2") == Key("postgis", "x", "b=2 AND a=1") {
		t.Fatalf("different queries must produce different keys")
	}
	if Key("postgis", "x", "q") == Key("overpass", "x", "q") {
		t.Fatalf("different sources must produce different keys")
	}
}

func TestUnicodeSafety_NoNonASCIIInKey(t *testing.T) {
	k := Key("overpass", "Göteborg 雪", `node["name"="Göteborg"];out;`)
	for _, r := range k {
		if r > unicode.MaxASCII {
			t.Fatalf("non-ASCII rune leaked into key: %q in %s", r, k)
		}
	}
	if !keyRe.MatchString(k) {
		t.Fatalf("unexpected key shape: %s", k)
	}
}

func TestLayerPrefix_MatchesKey(t *testing.T) {
	p := LayerPrefix("PostGIS", "public.planet_osm_line")
	if p != "geofetch:postgis:public.planet_osm_line:" {
		t.Fatalf("prefix=%q", p)
	}
	k := Key("postgis", "public.planet_osm_line", "SELECT 1")
	if len(k) <= len(p) || k[:len(p)] != p {
		t.Fatalf("key %q does not start with %q", k, p)
	}
}

func TestNormalization_QuotedLiteralsKept(t *testing.T) {
	pairs := [][2]string{
		{`SELECT 1 WHERE (name = 'Main  Street')`, `SELECT 1 WHERE (name = 'Main Street')`},
		{`node["name"="A , B"](57,11,58,12);out;`, `node["name"="A,B"](57,11,58,12);out;`},
		{`SELECT 1 WHERE (ref = 'it''s  here')`, `SELECT 1 WHERE (ref = 'it''s here')`},
	}
	for _, p := range pairs {
		if Key("postgis", "x", p[0]) == Key("postgis", "x", p[1]) {
			t.Fatalf("literals must not be normalised:\n %s\n %s", p[0], p[1])
		}
	}
	if got := Normalize(`  SELECT  a , b FROM t WHERE ( name = 'Main  Street' ) `); got != `SELECT a,b FROM t WHERE(name='Main  Street')` {
		t.Fatalf("Normalize=%q", got)
	}
}

func TestArgs_NoConcatenationCollisions(t *testing.T) {
	q := "SELECT 1 WHERE a = $1 AND b = $2"
	if Key("postgis", "x", q, "a", "b") == Key("postgis", "x", q, "ab", "") {
		t.Fatalf("split string args must not collide")
	}
	if Key("postgis", "x", q, int64(1)) == Key("postgis", "x", q, "1") {
		t.Fatalf("args of different types must not collide")
	}
}
