// Package invalidation drops cached layers when the data behind them
// changes, e.g. after an osm2pgsql import or replication run.
package invalidation

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidEvent = errors.New("invalid invalidation event")

// Event announces that a layer changed. For postgis the layer is a
// [schema.]relation; for overpass it is the fetch name.
type Event struct {
	Version int       `json:"version"`
	Op      string    `json:"op"`
	Source  string    `json:"source,omitempty"`
	Layer   string    `json:"layer"`
	TS      time.Time `json:"ts"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("%w: version must be 1", ErrInvalidEvent)
	}
	switch e.Op {
	case "reload", "update", "delete":
	default:
		return fmt.Errorf("%w: op must be reload|update|delete", ErrInvalidEvent)
	}
	switch e.source() {
	case "postgis", "overpass":
	default:
		return fmt.Errorf("%w: source must be postgis or overpass", ErrInvalidEvent)
	}
	if strings.TrimSpace(e.Layer) == "" {
		return fmt.Errorf("%w: layer is required", ErrInvalidEvent)
	}
	if e.TS.IsZero() {
		return fmt.Errorf("%w: ts is required", ErrInvalidEvent)
	}
	return nil
}

func (e Event) source() string {
	s := strings.ToLower(strings.TrimSpace(e.Source))
	if s == "" {
		return "postgis"
	}
	return s
}
