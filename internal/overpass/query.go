// Package overpass queries the Overpass API and turns OSM answers into
// layers.
package overpass

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
)

var (
	ErrNoElements  = errors.New("query has no elements")
	ErrElementType = errors.New("element type must be node, way, relation or nwr")
)

const DefaultTimeout = 25 * time.Second

// Element selects one OSM element type. Filters are Overpass tag filters
// taken verbatim, with or without the surrounding brackets:
// `"amenity"="shop"`, `["name"~"^A"]`.
type Element struct {
	Type    string
	Filters []string
}

type Query struct {
	Bounds   *orb.Bound
	Elements []Element
	Timeout  time.Duration
	// NoRecurse drops the (._;>;); step that pulls in way nodes.
	NoRecurse bool
}

// ParseElement reads the command line form type[=filter], e.g.
// node="amenity"="shop" or way=["highway"]["name"].
func ParseElement(s string) (Element, error) {
	typ, filter, _ := strings.Cut(strings.TrimSpace(s), "=")
	e := Element{Type: strings.ToLower(strings.TrimSpace(typ))}
	if f := strings.TrimSpace(filter); f != "" {
		e.Filters = []string{f}
	}
	return e, e.validate()
}

func (e Element) validate() error {
	switch e.Type {
	case "node", "way", "relation", "rel", "nwr":
		return nil
	}
	return fmt.Errorf("%w (got %q)", ErrElementType, e.Type)
}

// Build renders the query in Overpass QL.
func (q Query) Build() (string, error) {
	if len(q.Elements) == 0 {
		return "", ErrNoElements
	}
	timeout := q.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	var bbox string
	if q.Bounds != nil {
		b := *q.Bounds
		// overpass wants south,west,north,east
		bbox = "(" + strings.Join([]string{
			ftoa(b.Min[1]), ftoa(b.Min[0]), ftoa(b.Max[1]), ftoa(b.Max[0]),
		}, ",") + ")"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[out:xml][timeout:%d];(", int(timeout.Seconds()))
	for _, e := range q.Elements {
		if err := e.validate(); err != nil {
			return "", err
		}
		sb.WriteString(e.Type)
		for _, f := range e.Filters {
			f = strings.TrimSpace(f)
			if f == "" {
				continue
			}
			if !strings.HasPrefix(f, "[") {
				f = "[" + f + "]"
			}
			sb.WriteString(f)
		}
		sb.WriteString(bbox)
		sb.WriteString(";")
	}
	sb.WriteString(");")
	if !q.NoRecurse {
		sb.WriteString("(._;>;);")
	}
	sb.WriteString("out body;")
	return sb.String(), nil
}

func (q Query) String() string {
	s, err := q.Build()
	if err != nil {
		return "invalid query: " + err.Error()
	}
	return s
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
