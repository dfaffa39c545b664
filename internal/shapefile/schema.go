// Package shapefile writes layers as ESRI shapefiles and reads boundary
// polygons from them.
package shapefile

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/geofetch/internal/core/model"
)

var ErrEmptyLayer = errors.New("nothing to save - empty view")

type FieldType byte

const (
	Char    FieldType = 'C'
	Numeric FieldType = 'N'
	Float   FieldType = 'F'
	Date    FieldType = 'D'
)

// dbf attribute names are limited to 10 bytes
const maxFieldName = 10

type Field struct {
	Name      string // dbf name, possibly truncated
	Column    string // layer column it is read from
	Type      FieldType
	Size      uint8
	Precision uint8
	logical   bool // char(1) holding T/F
}

type Schema struct {
	Geometry  model.GeomKind
	ShapeType shp.ShapeType
	Fields    []Field
}

// InferSchema derives the shapefile schema from the layer contents. The
// geometry type follows the first feature; each column's type follows its
// first non-nil value, and all-nil columns are char.
func InferSchema(l *model.Layer) (Schema, error) {
	if l.Len() == 0 {
		return Schema{}, ErrEmptyLayer
	}
	first := l.Features[0].Geometry
	kind := model.KindOf(first)
	if kind == model.KindMixed {
		return Schema{}, fmt.Errorf("unsupported geometry %T", first)
	}
	s := Schema{Geometry: kind, ShapeType: shapeType(l, kind)}

	used := map[string]bool{}
	for _, col := range l.Columns {
		f := Field{Column: col, Name: fieldName(col, used)}
		f.Type, f.Size = Char, 254
	values:
		for _, feat := range l.Features {
			v, ok := feat.Properties[col]
			if !ok || v == nil {
				continue
			}
			switch v.(type) {
			case int, int8, int16, int32, int64, uint8, uint16, uint32:
				f.Type, f.Size = Numeric, 18
			case float32, float64:
				f.Type, f.Size, f.Precision = Float, 24, 8
			case bool:
				f.Type, f.Size, f.logical = Char, 1, true
			case time.Time:
				f.Type, f.Size = Date, 8
			}
			break values
		}
		s.Fields = append(s.Fields, f)
	}
	return s, nil
}

func shapeType(l *model.Layer, kind model.GeomKind) shp.ShapeType {
	switch kind {
	case model.KindPoint:
		for _, f := range l.Features {
			if _, ok := f.Geometry.(orb.MultiPoint); ok {
				return shp.MULTIPOINT
			}
		}
		return shp.POINT
	case model.KindLineString:
		return shp.POLYLINE
	default:
		return shp.POLYGON
	}
}

func fieldName(col string, used map[string]bool) string {
	name := strings.ReplaceAll(strings.TrimSpace(col), " ", "_")
	if name == "" {
		name = "field"
	}
	name = truncate(name, maxFieldName)
	cand := name
	for i := 1; used[strings.ToLower(cand)]; i++ {
		suffix := fmt.Sprintf("_%d", i)
		cand = truncate(name, maxFieldName-len(suffix)) + suffix
	}
	used[strings.ToLower(cand)] = true
	return cand
}

func (f Field) dbf() shp.Field {
	switch f.Type {
	case Numeric:
		return shp.NumberField(f.Name, f.Size)
	case Float:
		return shp.FloatField(f.Name, f.Size, f.Precision)
	case Date:
		return shp.DateField(f.Name)
	default:
		return shp.StringField(f.Name, f.Size)
	}
}

// value converts a property to what the dbf writer accepts (int, float64
// or string). ok is false for nil and for values that do not fit a
// numeric or date field, which leaves the attribute blank.
func (f Field) value(v any) (any, bool) {
	if v == nil {
		return nil, false
	}
	switch f.Type {
	case Numeric:
		switch n := v.(type) {
		case int:
			return n, true
		case int8:
			return int(n), true
		case int16:
			return int(n), true
		case int32:
			return int(n), true
		case int64:
			return int(n), true
		case uint8:
			return int(n), true
		case uint16:
			return int(n), true
		case uint32:
			return int(n), true
		case float64:
			return int(n), true
		}
	case Float:
		switch n := v.(type) {
		case float64:
			return n, true
		case float32:
			return float64(n), true
		case int64:
			return float64(n), true
		case int:
			return float64(n), true
		}
	case Date:
		if t, ok := v.(time.Time); ok {
			return t.Format("20060102"), true
		}
	}
	if f.Type != Char {
		return nil, false
	}
	if b, ok := v.(bool); ok && f.logical {
		if b {
			return "T", true
		}
		return "F", true
	}
	return truncate(fmt.Sprint(v), int(f.Size)), true
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
