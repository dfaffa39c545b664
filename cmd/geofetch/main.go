package main

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/geofetch/internal/cache"
	"github.com/mohammed-shakir/geofetch/internal/clip"
	"github.com/mohammed-shakir/geofetch/internal/core/config"
	"github.com/mohammed-shakir/geofetch/internal/core/httpclient"
	"github.com/mohammed-shakir/geofetch/internal/events"
	"github.com/mohammed-shakir/geofetch/internal/logger"
	"github.com/mohammed-shakir/geofetch/internal/overpass"
	"github.com/mohammed-shakir/geofetch/internal/pipeline"
	"github.com/mohammed-shakir/geofetch/internal/postgis"
	"github.com/mohammed-shakir/geofetch/internal/region"
)

var Version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// loadDotenv reads .env then .env.local; variables already set win.
func loadDotenv() error {
	for _, f := range []string{".env", ".env.local"} {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

func run(args []string, stdout, stderr io.Writer) int {
	envErr := loadDotenv()

	a := &app{cfg: config.FromEnv(), stdout: stdout, stderr: stderr}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if envErr != nil {
		a.log().Warn("could not read .env", "err", envErr)
	}
	if err := root.ExecuteContext(ctx); err != nil {
		a.log().Error("geofetch failed", "err", err)
		return 1
	}
	return 0
}

type app struct {
	cfg    config.Config
	stdout io.Writer
	stderr io.Writer
	logger *slog.Logger
	store  cache.Interface // set by engine

	logLevel string
	name     string
	boundary string
	clip     string
	h3Res    int
	noCache  bool
	database string
	out      outputs
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "geofetch",
		Short:         "Fetch OpenStreetMap features from PostGIS or Overpass and export them",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if a.logLevel != "" {
				a.cfg.LogLevel = a.logLevel
			}
			a.logger = nil
			a.log().Debug("config loaded", "cache", a.cfg.Cache.Driver, "events", a.cfg.Events.Enabled)
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error (default from LOG_LEVEL)")
	pf.StringVar(&a.name, "name", "", "name of the fetched view, used for layer names and titles")
	pf.StringVar(&a.boundary, "boundary", "", "WKT polygon, .shp file, x1,y1,x2,y2 bbox or [schema.]relation")
	pf.StringVar(&a.clip, "clip", "", "clip mode: none, within or clip (default picks per source)")
	pf.IntVar(&a.h3Res, "h3-res", a.cfg.H3Res, "tag features with H3 cells at this resolution, -1 disables")
	pf.BoolVar(&a.noCache, "no-cache", false, "bypass the layer cache")
	pf.StringVar(&a.database, "database", "", "user@host[:port]/db or postgres:// URL (default from DATABASE)")
	a.out.register(pf)

	root.AddCommand(
		a.postgisCmd(),
		a.collectionCmd(),
		a.overpassCmd(),
		a.runCmd(),
		a.reverseCmd(),
		a.invalidateCmd(),
		a.serveCmd(),
	)
	return root
}

func (a *app) log() *slog.Logger {
	if a.logger == nil {
		zl := logger.Build(logger.Config{
			Level:     a.cfg.LogLevel,
			Console:   a.cfg.LogConsole,
			SampleN:   a.cfg.LogSampleN,
			Component: "geofetch",
		}, a.stderr)
		a.logger = logger.NewSlog(&zl)
	}
	return a.logger
}

// request fills the fields every subcommand shares.
func (a *app) request(src pipeline.Source, name string) (pipeline.Request, error) {
	mode, err := clip.ParseMode(a.clip)
	if err != nil {
		return pipeline.Request{}, err
	}
	if a.name != "" {
		name = a.name
	}
	r, err := region.Parse(name, a.boundary)
	if err != nil {
		return pipeline.Request{}, err
	}
	return pipeline.Request{
		Source:  src,
		Name:    name,
		Region:  r,
		Clip:    mode,
		H3Res:   a.h3Res,
		NoCache: a.noCache,
	}, nil
}

// engine wires the pipeline. The database is only dialled when needDB is
// set; cache and event backends that fail to open are replaced by no-ops.
func (a *app) engine(ctx context.Context, needDB bool) (*pipeline.Engine, *postgis.Client, func(), error) {
	log := a.log()
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var db *postgis.Client
	if needDB {
		raw := a.database
		if raw == "" {
			raw = a.cfg.Database
		}
		dsn, err := postgis.ParseDSN(raw)
		if err != nil {
			return nil, nil, cleanup, err
		}
		db, err = postgis.Connect(ctx, dsn, log)
		if err != nil {
			return nil, nil, cleanup, err
		}
		closers = append(closers, db.Close)
	}

	store, err := cache.Open(ctx, a.cfg.Cache)
	if err != nil {
		log.Warn("cache disabled", "driver", a.cfg.Cache.Driver, "err", err)
		store = cache.Noop{}
	}
	a.store = store
	closers = append(closers, func() { _ = store.Close() })

	var em events.Emitter = events.Noop{}
	if a.cfg.Events.Enabled {
		p, err := events.Dial(a.cfg.Events.Brokers, a.cfg.Events.Topic, a.cfg.Events.Queue, log)
		if err != nil {
			log.Warn("fetch events disabled", "brokers", a.cfg.Events.Brokers, "err", err)
		} else {
			em = p
		}
	}
	closers = append(closers, func() {
		if err := em.Close(); err != nil {
			log.Warn("close events", "err", err)
		}
	})

	hc := httpclient.NewOutbound(a.cfg.HTTPTimeout)
	deps := pipeline.Deps{
		OSM:      overpass.New(log, hc, a.cfg.OverpassURL, a.cfg.UserAgent),
		Cache:    store,
		CacheTTL: a.cfg.Cache.TTL,
		Events:   em,
		Logger:   log,
	}
	if db != nil {
		deps.DB = db
	}
	return pipeline.New(deps), db, cleanup, nil
}

// baseQuery carries the configured schema, geometry column and SRID.
func (a *app) baseQuery() postgis.Query {
	return postgis.Query{Schema: a.cfg.DBSchema, GeomCol: a.cfg.DBGeomCol, SRID: a.cfg.SRID}
}
