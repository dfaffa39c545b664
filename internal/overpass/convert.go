package overpass

import (
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmgeojson"

	"github.com/mohammed-shakir/geofetch/internal/core/model"
)

// Layers converts an Overpass answer into point, line and polygon layers
// named <name>_point, <name>_line and <name>_polygon. Tags become
// properties; layers without features are left out.
func Layers(o *osm.OSM, name string) (*model.Collection, error) {
	fc, err := osmgeojson.Convert(o, osmgeojson.NoMeta(true))
	if err != nil {
		return nil, fmt.Errorf("convert osm: %w", err)
	}

	c := &model.Collection{Name: name}
	layers := map[model.GeomKind]*model.Layer{}
	keys := map[model.GeomKind]map[string]struct{}{}
	for _, gf := range fc.Features {
		kind := model.KindOf(gf.Geometry)
		if kind == model.KindMixed {
			continue
		}
		l, ok := layers[kind]
		if !ok {
			l = model.NewLayer(name+"_"+suffix(kind), kind, 4326, nil)
			layers[kind] = l
			keys[kind] = map[string]struct{}{}
		}
		props := map[string]any{}
		switch tags := gf.Properties["tags"].(type) {
		case map[string]string:
			for k, v := range tags {
				props[k] = v
			}
		case map[string]any:
			for k, v := range tags {
				props[k] = fmt.Sprint(v)
			}
		}
		for k := range props {
			keys[kind][k] = struct{}{}
		}
		f := model.Feature{Properties: props, Geometry: gf.Geometry}
		if gf.ID != nil {
			f.ID = fmt.Sprint(gf.ID)
		}
		l.Append(f)
	}

	for kind, l := range layers {
		cols := make([]string, 0, len(keys[kind]))
		for k := range keys[kind] {
			cols = append(cols, k)
		}
		sort.Strings(cols)
		l.Columns = cols
		c.Set(l)
	}
	return c, nil
}

func suffix(k model.GeomKind) string {
	switch k {
	case model.KindPoint:
		return "point"
	case model.KindLineString:
		return "line"
	default:
		return "polygon"
	}
}

// Dump writes o as OSM XML 0.6: ids, coordinates, way nodes, members and
// tags, plus the version metadata only when the answer carried it. The
// bounds element covers all nodes and is omitted when there are none.
func Dump(w io.Writer, o *osm.OSM) error {
	out := dumpOSM{Version: "0.6", Generator: "geofetch", Bounds: nodeBounds(o.Nodes)}
	for _, n := range o.Nodes {
		out.Nodes = append(out.Nodes, dumpNode{
			ID:   int64(n.ID),
			Lat:  n.Lat,
			Lon:  n.Lon,
			meta: metaOf(n.Version, int64(n.ChangesetID), n.Timestamp, n.User, int64(n.UserID)),
			Tags: n.Tags,
		})
	}
	for _, wy := range o.Ways {
		dw := dumpWay{
			ID:   int64(wy.ID),
			meta: metaOf(wy.Version, int64(wy.ChangesetID), wy.Timestamp, wy.User, int64(wy.UserID)),
			Tags: wy.Tags,
		}
		for _, wn := range wy.Nodes {
			dw.Nodes = append(dw.Nodes, dumpRef{Ref: int64(wn.ID)})
		}
		out.Ways = append(out.Ways, dw)
	}
	for _, r := range o.Relations {
		dr := dumpRelation{
			ID:   int64(r.ID),
			meta: metaOf(r.Version, int64(r.ChangesetID), r.Timestamp, r.User, int64(r.UserID)),
			Tags: r.Tags,
		}
		for _, m := range r.Members {
			dr.Members = append(dr.Members, dumpMember{Type: string(m.Type), Ref: m.Ref, Role: m.Role})
		}
		out.Relations = append(out.Relations, dr)
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("write osm: %w", err)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", " ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode osm: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

type dumpOSM struct {
	XMLName   xml.Name       `xml:"osm"`
	Version   string         `xml:"version,attr"`
	Generator string         `xml:"generator,attr"`
	Bounds    *dumpBounds    `xml:"bounds,omitempty"`
	Nodes     []dumpNode     `xml:"node"`
	Ways      []dumpWay      `xml:"way"`
	Relations []dumpRelation `xml:"relation"`
}

type dumpBounds struct {
	MinLat float64 `xml:"minlat,attr"`
	MinLon float64 `xml:"minlon,attr"`
	MaxLat float64 `xml:"maxlat,attr"`
	MaxLon float64 `xml:"maxlon,attr"`
}

// meta holds the attributes Overpass only sends for "out meta;".
type meta struct {
	Version   int    `xml:"version,attr,omitempty"`
	Changeset int64  `xml:"changeset,attr,omitempty"`
	Timestamp string `xml:"timestamp,attr,omitempty"`
	User      string `xml:"user,attr,omitempty"`
	UserID    int64  `xml:"uid,attr,omitempty"`
}

func metaOf(version int, changeset int64, ts time.Time, user string, uid int64) meta {
	m := meta{Version: version, Changeset: changeset, User: user, UserID: uid}
	if !ts.IsZero() {
		m.Timestamp = ts.UTC().Format(time.RFC3339)
	}
	return m
}

type dumpNode struct {
	ID  int64   `xml:"id,attr"`
	Lat float64 `xml:"lat,attr"`
	Lon float64 `xml:"lon,attr"`
	meta
	Tags osm.Tags `xml:"tag"`
}

type dumpRef struct {
	Ref int64 `xml:"ref,attr"`
}

type dumpWay struct {
	ID int64 `xml:"id,attr"`
	meta
	Nodes []dumpRef `xml:"nd"`
	Tags  osm.Tags  `xml:"tag"`
}

type dumpMember struct {
	Type string `xml:"type,attr"`
	Ref  int64  `xml:"ref,attr"`
	Role string `xml:"role,attr"`
}

type dumpRelation struct {
	ID int64 `xml:"id,attr"`
	meta
	Members []dumpMember `xml:"member"`
	Tags    osm.Tags     `xml:"tag"`
}

func nodeBounds(nodes osm.Nodes) *dumpBounds {
	if len(nodes) == 0 {
		return nil
	}
	b := &dumpBounds{
		MinLat: math.Inf(1), MinLon: math.Inf(1),
		MaxLat: math.Inf(-1), MaxLon: math.Inf(-1),
	}
	for _, n := range nodes {
		b.MinLat = math.Min(b.MinLat, n.Lat)
		b.MaxLat = math.Max(b.MaxLat, n.Lat)
		b.MinLon = math.Min(b.MinLon, n.Lon)
		b.MaxLon = math.Max(b.MaxLon, n.Lon)
	}
	return b
}
