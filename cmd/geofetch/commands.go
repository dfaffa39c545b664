package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/paulmach/osm"
	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/geofetch/internal/clip"
	"github.com/mohammed-shakir/geofetch/internal/core/health"
	"github.com/mohammed-shakir/geofetch/internal/core/httpclient"
	"github.com/mohammed-shakir/geofetch/internal/core/model"
	"github.com/mohammed-shakir/geofetch/internal/core/router"
	"github.com/mohammed-shakir/geofetch/internal/core/server"
	"github.com/mohammed-shakir/geofetch/internal/invalidation"
	"github.com/mohammed-shakir/geofetch/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/geofetch/internal/jobfile"
	"github.com/mohammed-shakir/geofetch/internal/metrics"
	"github.com/mohammed-shakir/geofetch/internal/nominatim"
	"github.com/mohammed-shakir/geofetch/internal/overpass"
	"github.com/mohammed-shakir/geofetch/internal/pipeline"
	"github.com/mohammed-shakir/geofetch/internal/postgis"
)

type queryFlags struct {
	schema   string
	cols     []string
	geomCol  string
	where    string
	srid     int
	envelope bool
	limit    int
	kind     string
}

func (a *app) addQueryFlags(cmd *cobra.Command, q *queryFlags) {
	f := cmd.Flags()
	f.StringVar(&q.schema, "schema", a.cfg.DBSchema, "schema of the relation")
	f.StringSliceVar(&q.cols, "cols", []string{"osm_id", "name"}, "columns to select")
	f.StringVar(&q.geomCol, "geom-col", a.cfg.DBGeomCol, "geometry column")
	f.StringVar(&q.where, "where", "", "extra SQL condition")
	f.IntVar(&q.srid, "srid", a.cfg.SRID, "output SRID")
	f.BoolVar(&q.envelope, "envelope", false, "match the boundary's bbox instead of containment")
	f.IntVar(&q.limit, "limit", 0, "max rows, 0 for all")
}

func (q queryFlags) query(relation string) postgis.Query {
	return postgis.Query{
		Schema:     q.schema,
		Relation:   relation,
		SelectCols: q.cols,
		GeomCol:    q.geomCol,
		Where:      q.where,
		SRID:       q.srid,
		Envelope:   q.envelope,
		Limit:      q.limit,
	}
}

func (a *app) postgisCmd() *cobra.Command {
	var q queryFlags
	cmd := &cobra.Command{
		Use:   "postgis [schema.]relation",
		Short: "Fetch one relation from PostGIS",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := model.ParseKind(q.kind)
			if err != nil {
				return err
			}
			if kind == model.KindMixed {
				kind = postgis.KindFor(args[0])
			}
			req, err := a.request(pipeline.SourcePostGIS, args[0])
			if err != nil {
				return err
			}
			req.Query = q.query(args[0])
			req.Kind = kind

			ctx := cmd.Context()
			eng, _, cleanup, err := a.engine(ctx, true)
			defer cleanup()
			if err != nil {
				return err
			}
			c, err := eng.Run(ctx, req)
			if err != nil {
				return err
			}
			return a.out.write(ctx, a, c, nil, req)
		},
	}
	a.addQueryFlags(cmd, &q)
	cmd.Flags().StringVar(&q.kind, "kind", "", "geometry kind: point, line or polygon (default from the table suffix)")
	return cmd
}

func (a *app) collectionCmd() *cobra.Command {
	var q queryFlags
	cmd := &cobra.Command{
		Use:   "collection prefix",
		Short: "Fetch prefix_point, prefix_line and prefix_polygon from PostGIS",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := a.request(pipeline.SourcePostGIS, args[0])
			if err != nil {
				return err
			}
			req.Query = q.query("")

			ctx := cmd.Context()
			eng, _, cleanup, err := a.engine(ctx, true)
			defer cleanup()
			if err != nil {
				return err
			}
			c, err := eng.RunCollection(ctx, args[0], req)
			if err != nil {
				return err
			}
			return a.out.write(ctx, a, c, nil, req)
		},
	}
	a.addQueryFlags(cmd, &q)
	return cmd
}

func (a *app) overpassCmd() *cobra.Command {
	var (
		elements  []string
		timeout   time.Duration
		noRecurse bool
	)
	cmd := &cobra.Command{
		Use:   "overpass",
		Short: "Fetch elements from the Overpass API",
		Example: `  geofetch overpass --boundary 11.9,57.6,12.1,57.8 --element 'node="amenity"="cafe"' --table 20
  geofetch overpass --boundary gbg.shp --element way='"building"' --shp out/buildings.shp --osm out/raw.osm`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := overpass.Query{Timeout: timeout, NoRecurse: noRecurse}
			for _, s := range elements {
				e, err := overpass.ParseElement(s)
				if err != nil {
					return err
				}
				q.Elements = append(q.Elements, e)
			}
			req, err := a.request(pipeline.SourceOverpass, "overpass")
			if err != nil {
				return err
			}
			if !req.Region.HasBounds {
				return fmt.Errorf("overpass needs a geometric --boundary")
			}
			req.Overpass = q
			return a.fetchOverpass(cmd, req)
		},
	}
	f := cmd.Flags()
	f.StringArrayVar(&elements, "element", nil, `element statement type[=filter], e.g. node='"amenity"="cafe"' (repeatable)`)
	f.DurationVar(&timeout, "timeout", overpass.DefaultTimeout, "server side query timeout")
	f.BoolVar(&noRecurse, "no-recurse", false, "do not pull in way nodes")
	_ = cmd.MarkFlagRequired("element")
	return cmd
}

func (a *app) fetchOverpass(cmd *cobra.Command, req pipeline.Request) error {
	ctx := cmd.Context()
	eng, _, cleanup, err := a.engine(ctx, false)
	defer cleanup()
	if err != nil {
		return err
	}
	var (
		c   *model.Collection
		raw *osm.OSM
	)
	if a.out.osm != "" {
		c, raw, err = eng.RunOSM(ctx, req)
	} else {
		c, err = eng.Run(ctx, req)
	}
	if err != nil {
		return err
	}
	return a.out.write(ctx, a, c, raw, req)
}

func (a *app) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run job.yaml",
		Short: "Run a fetch described by a job file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := jobfile.Load(args[0])
			if err != nil {
				return err
			}
			if job.Database != "" && a.database == "" {
				a.database = job.Database
			}
			a.out.merge(job)

			req, err := job.Request(a.baseQuery())
			if err != nil {
				return err
			}
			// flags given on the command line win over the job file
			flags := cmd.Flags()
			if flags.Changed("h3-res") {
				req.H3Res = a.h3Res
			}
			if flags.Changed("clip") {
				if req.Clip, err = clip.ParseMode(a.clip); err != nil {
					return err
				}
			}
			if a.noCache {
				req.NoCache = true
			}
			a.log().Info("running job", "job", job.Name, "source", job.Source, "boundary", req.Region.String())

			if req.Source == pipeline.SourceOverpass {
				return a.fetchOverpass(cmd, req)
			}
			ctx := cmd.Context()
			eng, _, cleanup, err := a.engine(ctx, true)
			defer cleanup()
			if err != nil {
				return err
			}
			var c *model.Collection
			if job.Collection() {
				c, err = eng.RunCollection(ctx, job.Query.Prefix, req)
			} else {
				c, err = eng.Run(ctx, req)
			}
			if err != nil {
				return err
			}
			return a.out.write(ctx, a, c, nil, req)
		},
	}
}

func (a *app) reverseCmd() *cobra.Command {
	var lat, lon float64
	cmd := &cobra.Command{
		Use:   "reverse",
		Short: "Reverse geocode a coordinate with Nominatim",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			nc := nominatim.New(a.log(), httpclient.NewOutbound(a.cfg.HTTPTimeout), a.cfg.NominatimURL, a.cfg.UserAgent)
			addr, err := nc.Reverse(cmd.Context(), lat, lon)
			if err != nil {
				return err
			}
			keys := make([]string, 0, len(addr))
			for k := range addr {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			table := tablewriter.NewWriter(a.stdout)
			table.SetHeader([]string{"key", "value"})
			table.SetAutoFormatHeaders(false)
			table.SetAutoWrapText(false)
			for _, k := range keys {
				table.Append([]string{k, addr[k]})
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&lon, "lon", 0, "longitude")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lon")
	return cmd
}

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve /query, /reverse and /metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := a.log()
			mp := metrics.Init(metrics.Config{Enabled: true, Build: metrics.BuildInfo{Version: Version}})

			eng, db, cleanup, err := a.engine(ctx, true)
			if err != nil {
				// serve overpass and reverse without a database
				cleanup()
				log.Warn("postgis unavailable, serving without it", "err", err)
				eng, _, cleanup, err = a.engine(ctx, false)
				if err != nil {
					cleanup()
					return err
				}
			}
			defer cleanup()

			if a.cfg.Invalidation.Enabled {
				inv := invalidation.NewInvalidator(a.store, a.cfg.DBSchema, log)
				cons := kafkaconsumer.New(kafkaconsumer.ConfigFrom(a.cfg), log, inv)
				go func() {
					if err := cons.Start(ctx); err != nil {
						log.Error("invalidation consumer stopped", "err", err)
					}
				}()
			}

			ready := map[string]health.Pinger{}
			if db != nil {
				ready["postgis"] = db
			}
			h := server.Handlers{
				Query:   router.NewFetchHandler(eng, a.baseQuery(), log),
				Reverse: nominatim.New(log, httpclient.NewOutbound(a.cfg.HTTPTimeout), a.cfg.NominatimURL, a.cfg.UserAgent),
				Ready:   ready,
				Metrics: mp,
			}
			log.Info("starting geofetch server", "addr", a.cfg.Addr, "version", Version,
				"overpass", a.cfg.OverpassURL, "cache", a.cfg.Cache.Driver)
			if err := server.Run(ctx, a.cfg, log, h); err != nil {
				return fmt.Errorf("server: %w", err)
			}
			log.Info("server stopped")
			return nil
		},
	}
}

func (a *app) invalidateCmd() *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "invalidate layer...",
		Short: "Drop cached fetches of the given layers",
		Long: `Drop cached fetches of the given layers, e.g. after re-importing a table.
PostGIS layers are [schema.]relation names, Overpass layers are fetch names.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, _, cleanup, err := a.engine(ctx, false)
			defer cleanup()
			if err != nil {
				return err
			}
			inv := invalidation.NewInvalidator(a.store, a.cfg.DBSchema, a.log())
			now := time.Now().UTC()
			for _, layer := range args {
				n, err := inv.Apply(ctx, invalidation.Event{Version: 1, Op: "reload", Source: source, Layer: layer, TS: now})
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(a.stdout, "%s: %d cached fetch(es) dropped\n", layer, n)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", string(pipeline.SourcePostGIS), "source of the layers: postgis or overpass")
	return cmd
}
