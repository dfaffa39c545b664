package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type CacheCfg struct {
	Driver    string // none|memory|redis
	TTL       time.Duration
	Size      int
	RedisAddr string
	OpTimeout time.Duration
}

type EventsCfg struct {
	Enabled bool
	Brokers []string
	Topic   string
	Queue   int
}

// InvalidationCfg drives the Kafka consumer that drops cached layers when
// their tables are reloaded. It shares Events.Brokers.
type InvalidationCfg struct {
	Enabled bool
	Topic   string
	GroupID string
	Oldest  bool
}

type Config struct {
	Addr         string
	LogLevel     string
	LogConsole   bool
	LogSampleN   int
	OverpassURL  string
	NominatimURL string
	UserAgent    string
	HTTPTimeout  time.Duration
	CORSOrigin   string

	Database  string
	DBSchema  string
	DBGeomCol string
	SRID      int

	TableLimit  int
	PlotLimit   int
	PlotPadding float64
	PlotWidth   int
	PlotHeight  int

	H3Res          int
	MetricsEnabled bool

	Cache        CacheCfg
	Events       EventsCfg
	Invalidation InvalidationCfg
}

func FromEnv() Config {
	res := getint("H3_RES", -1)
	if res > 15 {
		res = 15
	}

	return Config{
		Addr:         getenv("ADDR", ":8090"),
		LogLevel:     getenv("LOG_LEVEL", "info"),
		LogConsole:   getbool("LOG_CONSOLE", true),
		LogSampleN:   getint("LOG_SAMPLE_N", 0),
		OverpassURL:  getenv("OVERPASS_URL", "https://overpass-api.de/api/interpreter"),
		NominatimURL: getenv("NOMINATIM_URL", "https://nominatim.openstreetmap.org"),
		UserAgent:    getenv("USER_AGENT", "geofetch/dev"),
		HTTPTimeout:  getduration("HTTP_TIMEOUT", 60*time.Second),
		CORSOrigin:   getenv("CORS_ORIGIN", "*"),

		Database:  getenv("DATABASE", "postgres@localhost:5432/osm"),
		DBSchema:  getenv("DB_SCHEMA", "public"),
		DBGeomCol: getenv("DB_GEOM_COL", "way"),
		SRID:      getint("SRID", 4326),

		TableLimit:  getint("TABLE_LIMIT", 1000),
		PlotLimit:   getint("PLOT_LIMIT", 5000),
		PlotPadding: getfloat("PLOT_PADDING", 0.02),
		PlotWidth:   getint("PLOT_WIDTH", 1024),
		PlotHeight:  getint("PLOT_HEIGHT", 1024),

		H3Res:          res,
		MetricsEnabled: getbool("METRICS_ENABLED", false),

		Cache: CacheCfg{
			Driver:    strings.ToLower(getenv("CACHE_DRIVER", "none")),
			TTL:       getduration("CACHE_TTL", 10*time.Minute),
			Size:      getint("CACHE_SIZE", 256),
			RedisAddr: getenv("REDIS_ADDR", "localhost:6379"),
			OpTimeout: getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		},
		Events: EventsCfg{
			Enabled: getbool("EVENTS_ENABLED", false),
			Brokers: split(getenv("KAFKA_BROKERS", "localhost:9092")),
			Topic:   getenv("KAFKA_TOPIC", "geofetch-fetches"),
			Queue:   getint("EVENTS_QUEUE", 1024),
		},
		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Topic:   getenv("INVALIDATION_TOPIC", "geofetch-invalidation"),
			GroupID: getenv("KAFKA_GROUP_ID", "geofetch-cache"),
			Oldest:  getbool("INVALIDATION_FROM_OLDEST", false),
		},
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func split(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if x := strings.TrimSpace(p); x != "" {
			out = append(out, x)
		}
	}
	return out
}
