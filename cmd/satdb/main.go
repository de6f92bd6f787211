package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/signalsfoundry/satdb/internal/catalog"
	"github.com/signalsfoundry/satdb/internal/config"
	"github.com/signalsfoundry/satdb/internal/ingest"
	"github.com/signalsfoundry/satdb/internal/logging"
	"github.com/signalsfoundry/satdb/internal/observability"
	"github.com/signalsfoundry/satdb/internal/store"
	"github.com/signalsfoundry/satdb/track"
)

const usage = `usage: satdb [-config file] [-metrics-addr addr] <command> [args]

commands:
  omm2db [-dry-run] file...             load OMM documents (.xml, .xml.gz)
  tle2db [-dry-run] file...             load legacy three-line element sets
  tle [-propagate] id [time]            print the element set nearest to time (RFC 3339, default now)
  altitude [-movmedian n] id...         print mean altitude history
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

type app struct {
	cfg     config.Config
	log     logging.Logger
	metrics *observability.IngestCollector
	out     io.Writer
}

func run(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("satdb", flag.ContinueOnError)
	configPath := fs.String("config", os.Getenv("SATDB_CONFIG"), "Path to a YAML configuration file")
	metricsAddr := fs.String("metrics-addr", "", "HTTP address for Prometheus /metrics (overrides config)")
	fs.Usage = func() { fmt.Fprint(fs.Output(), usage) }
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "satdb: %v\n", err)
		return 1
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}

	log := logging.New(cfg.LoggerConfig())
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Err(err))
		return 1
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewIngestCollector(nil)
	if err != nil {
		log.Error(ctx, "failed to initialise metrics collector", logging.Err(err))
		return 1
	}
	if srv := serveMetrics(cfg.Metrics.Addr, collector, log); srv != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	a := &app{cfg: cfg, log: log, metrics: collector, out: out}
	cmd, cmdArgs := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "omm2db":
		err = a.load(ctx, cmd, ingest.SourceOMM, cmdArgs)
	case "tle2db":
		err = a.load(ctx, cmd, ingest.SourceTLE, cmdArgs)
	case "tle":
		err = a.elementSet(ctx, cmdArgs)
	case "altitude":
		err = a.altitude(ctx, cmdArgs)
	default:
		fmt.Fprintf(os.Stderr, "satdb: unknown command %q\n", cmd)
		fs.Usage()
		return 2
	}
	var usageErr usageError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &usageErr), errors.Is(err, flag.ErrHelp):
		if usageErr != "" {
			fmt.Fprintf(os.Stderr, "satdb %s: %s\n", cmd, string(usageErr))
		}
		return 2
	default:
		log.Error(ctx, cmd+" failed", logging.Err(err))
		return 1
	}
}

type usageError string

func (e usageError) Error() string { return string(e) }

// openStore returns the PostgreSQL store, or an in-memory one for dry runs.
func (a *app) openStore(ctx context.Context, dryRun bool) (store.Store, func(), error) {
	if dryRun {
		a.log.Info(ctx, "dry run; records are kept in memory only")
		return store.NewMemoryStore(), func() {}, nil
	}
	pg, err := store.OpenPostgres(ctx, a.cfg.Database.DSN())
	if err != nil {
		return nil, nil, err
	}
	a.log.Debug(ctx, "connected to database",
		logging.String("host", a.cfg.Database.Host),
		logging.String("name", a.cfg.Database.Name))
	return pg, func() { _ = pg.Close() }, nil
}

func (a *app) load(ctx context.Context, cmd, source string, args []string) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	dryRun := fs.Bool("dry-run", false, "Parse and derive without writing to the database")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return usageError("at least one input file is required")
	}

	st, closeStore, err := a.openStore(ctx, *dryRun)
	if err != nil {
		return err
	}
	defer closeStore()

	p := ingest.NewPipeline(st,
		ingest.WithLogger(a.log),
		ingest.WithMetrics(a.metrics),
		ingest.WithWorkers(a.cfg.Ingest.Workers),
		ingest.WithProgressInterval(a.cfg.Ingest.ProgressEvery),
	)
	var total ingest.Summary
	for _, path := range fs.Args() {
		sum, err := a.loadFile(ctx, p, source, path)
		total.Seen += sum.Seen
		total.Inserted += sum.Inserted
		total.Duplicates += sum.Duplicates
		total.Rejected += sum.Rejected
		total.Elapsed += sum.Elapsed
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		fmt.Fprintf(a.out, "%s: %s\n", path, sum)
	}
	if len(fs.Args()) > 1 {
		fmt.Fprintf(a.out, "total: %s\n", total)
	}
	return nil
}

func (a *app) loadFile(ctx context.Context, p *ingest.Pipeline, source, path string) (ingest.Summary, error) {
	rc, err := ingest.Open(path)
	if err != nil {
		return ingest.Summary{}, err
	}
	defer rc.Close()
	if source == ingest.SourceOMM {
		return p.IngestOMM(ctx, rc)
	}
	return p.IngestTLE(ctx, rc)
}

func (a *app) catalogService(ctx context.Context) (*catalog.Service, func(), error) {
	st, closeStore, err := a.openStore(ctx, false)
	if err != nil {
		return nil, nil, err
	}
	opts := []catalog.Option{catalog.WithLogger(a.log), catalog.WithMetrics(a.metrics)}
	closeAll := closeStore
	if r := a.cfg.Redis; r.Addr != "" {
		cache, err := store.OpenRedisTextCache(ctx, r.Addr, r.Password, r.DB, r.TTL)
		if err != nil {
			a.log.Warn(ctx, "text cache unavailable; continuing without it", logging.Err(err))
		} else {
			opts = append(opts, catalog.WithCache(cache))
			closeAll = func() {
				_ = cache.Close()
				closeStore()
			}
		}
	}
	return catalog.NewService(st, opts...), closeAll, nil
}

func (a *app) elementSet(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("tle", flag.ContinueOnError)
	propagate := fs.Bool("propagate", false, "Also report the SGP4 altitude at the requested time")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 || fs.NArg() > 2 {
		return usageError("expected a catalog id and an optional time")
	}
	ids, err := parseCatalogIDs(fs.Args()[:1])
	if err != nil {
		return err
	}
	at, err := parseInstant(fs.Arg(1), time.Now())
	if err != nil {
		return err
	}

	svc, closeAll, err := a.catalogService(ctx)
	if err != nil {
		return err
	}
	defer closeAll()

	set, err := svc.ElementSet(ctx, ids[0], at)
	if err != nil {
		return err
	}
	fmt.Fprint(a.out, set.String())

	if *propagate {
		prop, err := track.NewPropagator(set)
		if err != nil {
			return err
		}
		alt, err := prop.AltitudeAt(at)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "# altitude at %s: %.3f km\n", at.UTC().Format(time.RFC3339), alt)
	}
	return nil
}

func (a *app) altitude(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("altitude", flag.ContinueOnError)
	halfWidth := fs.Int("movmedian", 0, "Half width of the moving median filter (0 disables it)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return usageError("at least one catalog id is required")
	}
	if *halfWidth < 0 {
		return usageError("-movmedian must not be negative")
	}
	ids, err := parseCatalogIDs(fs.Args())
	if err != nil {
		return err
	}

	svc, closeAll, err := a.catalogService(ctx)
	if err != nil {
		return err
	}
	defer closeAll()

	for _, id := range ids {
		points, err := svc.AltitudeSeries(ctx, id, *halfWidth)
		if err != nil {
			return err
		}
		for _, pt := range points {
			fmt.Fprintf(a.out, "%d\t%s\t%.3f\n", pt.CatalogID, pt.Epoch.UTC().Format(time.RFC3339Nano), pt.AltitudeKm)
		}
	}
	return nil
}

func parseCatalogIDs(args []string) ([]int, error) {
	ids := make([]int, 0, len(args))
	for _, arg := range args {
		id, err := strconv.Atoi(strings.TrimSpace(arg))
		if err != nil || id <= 0 {
			return nil, usageError(fmt.Sprintf("%q is not a catalog id", arg))
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// parseInstant accepts RFC 3339 timestamps, plain dates, or "now"/"" for
// the given default.
func parseInstant(s string, now time.Time) (time.Time, error) {
	switch s = strings.TrimSpace(s); strings.ToLower(s) {
	case "", "now":
		return now.UTC(), nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, usageError(fmt.Sprintf("%q is not a time (want RFC 3339 or YYYY-MM-DD)", s))
}

func serveMetrics(addr string, collector *observability.IngestCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
