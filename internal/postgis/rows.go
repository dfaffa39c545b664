package postgis

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/paulmach/orb/encoding/wkt"

	"github.com/mohammed-shakir/geofetch/internal/core/model"
)

type assigner interface {
	AssignTo(dst any) error
}

// normalize maps driver values onto the scalar set the rest of the
// pipeline handles: int64, float64, string, bool, time.Time and nil.
func normalize(v any) any {
	switch x := v.(type) {
	case nil, int64, float64, string, bool, time.Time:
		return x
	case int:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int8:
		return int64(x)
	case uint32:
		return int64(x)
	case float32:
		return float64(x)
	case []byte:
		return string(x)
	case map[string]string:
		return x
	case fmt.Stringer:
		return x.String()
	case assigner:
		var f float64
		if err := x.AssignTo(&f); err == nil {
			return f
		}
		var s string
		if err := x.AssignTo(&s); err == nil {
			return s
		}
	}
	return fmt.Sprint(v)
}

// scanLayer reads rows shaped as <select cols...>, <geometry wkt> into l.
// Rows with a NULL geometry are counted and skipped.
func scanLayer(rows pgx.Rows, l *model.Layer) (nullGeoms int, err error) {
	defer rows.Close()
	n := len(l.Columns)
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nullGeoms, fmt.Errorf("read row: %w", err)
		}
		if len(vals) != n+1 {
			return nullGeoms, fmt.Errorf("row has %d values, want %d", len(vals), n+1)
		}
		raw, _ := vals[n].(string)
		if raw == "" {
			nullGeoms++
			continue
		}
		g, err := wkt.Unmarshal(raw)
		if err != nil {
			return nullGeoms, fmt.Errorf("parse geometry: %w", err)
		}
		props := make(map[string]any, n)
		for i, c := range l.Columns {
			props[c] = normalize(vals[i])
		}
		f := model.Feature{Geometry: g, Properties: props}
		if id, ok := props["osm_id"]; ok && id != nil {
			f.ID = fmt.Sprint(id)
		}
		l.Append(f)
	}
	if err := rows.Err(); err != nil {
		return nullGeoms, fmt.Errorf("iterate rows: %w", err)
	}
	return nullGeoms, nil
}
