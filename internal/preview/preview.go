// Package preview prints layers as text tables.
package preview

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/mohammed-shakir/geofetch/internal/core/model"
	"github.com/mohammed-shakir/geofetch/internal/h3index"
)

var ErrNoResults = errors.New("no results to display")

const DefaultLimit = 1000

// Print writes the first n features of l as a table with one column per
// layer column. Layers without columns show the geometry type instead.
func Print(w io.Writer, l *model.Layer, n int) error {
	if l.Len() == 0 {
		return ErrNoResults
	}
	if n <= 0 {
		n = DefaultLimit
	}

	cols := l.Columns
	geomOnly := len(cols) == 0
	if geomOnly {
		cols = []string{"geometry"}
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader(cols)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)

	rows := min(n, l.Len())
	for i := range rows {
		if geomOnly {
			table.Append([]string{l.Features[i].Geometry.GeoJSONType()})
			continue
		}
		vals := l.Row(i)
		rec := make([]string, len(vals))
		for j, v := range vals {
			rec[j] = format(v)
		}
		table.Append(rec)
	}
	table.Render()

	if l.Len() > n {
		if _, err := fmt.Fprintf(w, "(List truncated to %d elements)\n", n); err != nil {
			return fmt.Errorf("write preview: %w", err)
		}
	}
	return nil
}

// PrintCells writes the n busiest cells of an H3 histogram.
func PrintCells(w io.Writer, cells []h3index.CellCount, n int) error {
	if len(cells) == 0 {
		return ErrNoResults
	}
	if n <= 0 || n > len(cells) {
		n = len(cells)
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"h3", "features"})
	table.SetAutoFormatHeaders(false)
	for _, c := range cells[:n] {
		table.Append([]string{c.Cell, fmt.Sprint(c.Count)})
	}
	table.Render()
	return nil
}

func format(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case time.Time:
		return x.Format(time.RFC3339)
	case float64:
		return fmt.Sprintf("%g", x)
	default:
		return fmt.Sprintf("%v", x)
	}
}
