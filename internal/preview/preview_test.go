package preview

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/geofetch/internal/core/model"
	"github.com/mohammed-shakir/geofetch/internal/h3index"
)

func layer(n int) *model.Layer {
	l := model.NewLayer("shops", model.KindPoint, 4326, []string{"name", "osm_id", "opening_hours"})
	for i := range n {
		l.Append(model.Feature{
			Geometry:   orb.Point{float64(i), 0},
			Properties: map[string]any{"name": string(rune('A' + i)), "osm_id": int64(100 + i), "opening_hours": nil},
		})
	}
	return l
}

func TestPrint_TableWithHeader(t *testing.T) {
	var buf bytes.Buffer
	if err := Print(&buf, layer(2), 10); err != nil {
		t.Fatalf("Print: %v", err)
	}
	out := buf.String()
	for _, s := range []string{"name", "osm_id", "opening_hours", "| A", "101"} {
		if !strings.Contains(out, s) {
			t.Fatalf("output missing %q:\n%s", s, out)
		}
	}
	if strings.Contains(out, "<nil>") {
		t.Fatalf("nil must print empty:\n%s", out)
	}
	if strings.Contains(out, "truncated") {
		t.Fatalf("unexpected truncation note:\n%s", out)
	}
}

func TestPrint_Truncates(t *testing.T) {
	var buf bytes.Buffer
	if err := Print(&buf, layer(5), 3); err != nil {
		t.Fatalf("Print: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "(List truncated to 3 elements)") {
		t.Fatalf("missing truncation note:\n%s", out)
	}
	if strings.Contains(out, "| D") {
		t.Fatalf("row beyond limit printed:\n%s", out)
	}
}

func TestPrint_Empty(t *testing.T) {
	if err := Print(&bytes.Buffer{}, layer(0), 10); !errors.Is(err, ErrNoResults) {
		t.Fatalf("want ErrNoResults, got %v", err)
	}
	if err := Print(&bytes.Buffer{}, nil, 10); !errors.Is(err, ErrNoResults) {
		t.Fatalf("nil layer: want ErrNoResults, got %v", err)
	}
}

func TestPrint_NoColumnsShowsGeometry(t *testing.T) {
	l := model.NewLayer("x", model.KindLineString, 4326, nil)
	l.Append(model.Feature{Geometry: orb.LineString{{0, 0}, {1, 1}}})
	var buf bytes.Buffer
	if err := Print(&buf, l, 0); err != nil {
		t.Fatalf("Print: %v", err)
	}
	if !strings.Contains(buf.String(), "LineString") {
		t.Fatalf("out:\n%s", buf.String())
	}
}

func TestPrintCells(t *testing.T) {
	cells := []h3index.CellCount{{Cell: "871f1a164ffffff", Count: 3}, {Cell: "871f1a165ffffff", Count: 1}}
	var buf bytes.Buffer
	if err := PrintCells(&buf, cells, 1); err != nil {
		t.Fatalf("PrintCells: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "871f1a164ffffff") || strings.Contains(out, "871f1a165ffffff") {
		t.Fatalf("out=%s", out)
	}
	if err := PrintCells(&buf, nil, 5); !errors.Is(err, ErrNoResults) {
		t.Fatalf("want ErrNoResults, got %v", err)
	}
}
