package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel_ShortForms(t *testing.T) {
	cases := map[string]zerolog.Level{
		"d":        zerolog.DebugLevel,
		"debug":    zerolog.DebugLevel,
		"i":        zerolog.InfoLevel,
		"20":       zerolog.InfoLevel,
		"w":        zerolog.WarnLevel,
		"warning":  zerolog.WarnLevel,
		"e":        zerolog.ErrorLevel,
		"40":       zerolog.ErrorLevel,
		"c":        zerolog.FatalLevel,
		"nonsense": zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q)=%v want %v", in, got, want)
		}
	}
}

func TestSlogBridge_ContextFieldsAndLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "info", Component: "cli"}, &buf)
	log := NewSlog(&zl)

	ctx := WithSource(WithRequestID(context.Background(), "abc"), "postgis")
	log.DebugContext(ctx, "hidden")
	log.InfoContext(ctx, "fetched", "n", 3)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("want exactly one line (debug filtered), got %d: %q", len(lines), buf.String())
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["msg"] != "fetched" || m["source"] != "postgis" || m["request_id"] != "abc" || m["component"] != "cli" {
		t.Fatalf("unexpected fields: %v", m)
	}
	if m["n"] != float64(3) {
		t.Fatalf("attr n=%v want 3", m["n"])
	}
}

func TestSlogBridge_WithGroupPrefixesKeys(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "debug"}, &buf)
	log := NewSlog(&zl).WithGroup("db").With("host", "localhost")
	log.Warn("slow")

	if !strings.Contains(buf.String(), `"db.host":"localhost"`) {
		t.Fatalf("expected grouped key, got %s", buf.String())
	}
}
