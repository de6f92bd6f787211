// Package ingest loads element sets from OMM documents and legacy text into
// the element store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/satdb/codec"
	"github.com/signalsfoundry/satdb/internal/logging"
	"github.com/signalsfoundry/satdb/internal/observability"
	"github.com/signalsfoundry/satdb/internal/store"
	"github.com/signalsfoundry/satdb/model"
)

// Source names used in logs and metrics.
const (
	SourceOMM = "omm"
	SourceTLE = "tle"
)

const (
	defaultWorkers       = 4
	defaultProgressEvery = 10 * time.Second
)

// MetricsRecorder receives per-record outcomes and run durations.
type MetricsRecorder interface {
	ObserveRecord(source, outcome string)
	ObserveIngest(source string, d time.Duration)
	WorkerBusy(delta int)
}

// Summary tallies one ingestion run.
type Summary struct {
	Seen       int
	Inserted   int
	Duplicates int
	Rejected   int
	Elapsed    time.Duration
}

func (s Summary) String() string {
	return fmt.Sprintf("%d seen, %d inserted, %d duplicates, %d rejected in %s",
		s.Seen, s.Inserted, s.Duplicates, s.Rejected, s.Elapsed.Round(time.Millisecond))
}

// Pipeline writes parsed records to a store on a bounded worker pool.
type Pipeline struct {
	store         store.Store
	log           logging.Logger
	metrics       MetricsRecorder
	tracer        trace.Tracer
	workers       int
	progressEvery time.Duration
	now           func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithWorkers bounds the number of records written concurrently.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithLogger sets the base logger; each run adds its run_id.
func WithLogger(l logging.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}

// WithMetrics records outcomes on m.
func WithMetrics(m MetricsRecorder) Option {
	return func(p *Pipeline) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithProgressInterval sets how often progress is logged. Zero or negative
// disables progress lines.
func WithProgressInterval(d time.Duration) Option {
	return func(p *Pipeline) { p.progressEvery = d }
}

// WithClock overrides the time source used for IngestedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPipeline constructs a pipeline writing to st.
func NewPipeline(st store.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:         st,
		log:           logging.Noop(),
		metrics:       noopMetrics{},
		tracer:        observability.Tracer("ingest"),
		workers:       defaultWorkers,
		progressEvery: defaultProgressEvery,
		now:           time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// item is one parsed record awaiting storage. Err marks a record the parser
// already rejected.
type item struct {
	where    string
	elements model.OrbitalElementRecord
	metadata model.ObjectMetadata
	err      error
}

// IngestOMM parses an OMM document and stores every usable segment. A
// document that is not well-formed XML fails before anything is written.
func (p *Pipeline) IngestOMM(ctx context.Context, r io.Reader) (Summary, error) {
	results, err := codec.ParseOMM(r)
	if err != nil {
		return Summary{}, fmt.Errorf("parse omm: %w", err)
	}
	items := make([]item, len(results))
	for i, res := range results {
		items[i] = item{
			where:    fmt.Sprintf("segment %d", res.Index+1),
			elements: res.Elements,
			metadata: res.Metadata,
			err:      res.Err,
		}
	}
	return p.run(ctx, SourceOMM, items)
}

// IngestTLE parses legacy three-line text and stores every usable set.
// Object metadata is limited to what the text carries.
func (p *Pipeline) IngestTLE(ctx context.Context, r io.Reader) (Summary, error) {
	results, err := codec.ReadTLE(r)
	if err != nil {
		return Summary{}, fmt.Errorf("read tle: %w", err)
	}
	items := make([]item, len(results))
	for i, res := range results {
		items[i] = item{
			where:    fmt.Sprintf("line %d", res.Line),
			elements: res.Elements,
			metadata: metadataFromElements(res.Elements),
			err:      res.Err,
		}
	}
	return p.run(ctx, SourceTLE, items)
}

func (p *Pipeline) run(ctx context.Context, source string, items []item) (Summary, error) {
	start := time.Now()
	ctx, log := logging.WithRunLogger(ctx, p.log)
	log = log.With(logging.String("source", source))
	ctx = logging.ContextWithLogger(ctx, log)
	ctx, span := p.tracer.Start(ctx, "ingest."+source, trace.WithAttributes(
		attribute.String("satdb.run_id", logging.RunIDFromContext(ctx)),
		attribute.Int("satdb.records", len(items)),
	))
	defer span.End()

	log.Info(ctx, "ingest started", logging.Int("records", len(items)), logging.Int("workers", p.workers))

	var inserted, duplicates, rejected, done atomic.Int64
	prog := newProgress(start, len(items), p.progressEvery)
	reject := func(it item, err error) {
		rejected.Add(1)
		p.metrics.ObserveRecord(source, observability.OutcomeRejected)
		log.Warn(ctx, "record rejected", logging.String("at", it.where), logging.Err(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, it := range items {
		if gctx.Err() != nil {
			break
		}
		if it.err != nil {
			reject(it, it.err)
			done.Add(1)
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p.metrics.WorkerBusy(1)
			defer p.metrics.WorkerBusy(-1)

			ok, err := p.storeOne(gctx, it)
			switch {
			case errors.Is(err, errRejected):
				reject(it, err)
			case err != nil:
				return fmt.Errorf("%s (catalog %d): %w", it.where, it.elements.CatalogID, err)
			case ok:
				inserted.Add(1)
				p.metrics.ObserveRecord(source, observability.OutcomeInserted)
			default:
				duplicates.Add(1)
				p.metrics.ObserveRecord(source, observability.OutcomeDuplicate)
			}
			if n := done.Add(1); prog.due(n) {
				log.Info(gctx, "ingest progress",
					logging.String("done", fmt.Sprintf("%d/%d", n, len(items))),
					logging.String("object", objectLabel(it.elements)),
					logging.Duration("eta", prog.eta(n)))
			}
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	summary := Summary{
		Seen:       len(items),
		Inserted:   int(inserted.Load()),
		Duplicates: int(duplicates.Load()),
		Rejected:   int(rejected.Load()),
		Elapsed:    time.Since(start),
	}
	p.metrics.ObserveIngest(source, summary.Elapsed)
	span.SetAttributes(
		attribute.Int("satdb.inserted", summary.Inserted),
		attribute.Int("satdb.duplicates", summary.Duplicates),
		attribute.Int("satdb.rejected", summary.Rejected),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ingest aborted")
		log.Error(ctx, "ingest aborted", logging.Err(err), logging.String("summary", summary.String()))
		return summary, err
	}
	log.Info(ctx, "ingest finished",
		logging.Int("inserted", summary.Inserted),
		logging.Int("duplicates", summary.Duplicates),
		logging.Int("rejected", summary.Rejected),
		logging.Duration("elapsed", summary.Elapsed))
	return summary, nil
}

// errRejected marks record-level failures that do not abort the run.
var errRejected = errors.New("record rejected")

// storeOne derives, stamps and writes one record. Derivation failures are
// reported as errRejected; store failures are returned as is.
func (p *Pipeline) storeOne(ctx context.Context, it item) (bool, error) {
	rec, err := codec.Derive(it.elements)
	if err != nil {
		return false, fmt.Errorf("%w: %w", errRejected, err)
	}
	rec.IngestedAt = p.now().UTC()

	if hasMetadata(it.metadata) {
		if _, err := p.store.SaveMetadata(ctx, it.metadata); err != nil {
			return false, fmt.Errorf("save metadata: %w", err)
		}
	}
	ok, err := p.store.InsertElements(ctx, rec)
	if err != nil {
		return false, fmt.Errorf("insert elements: %w", err)
	}
	return ok, nil
}

// metadataFromElements keeps the identity a legacy text block carries.
func metadataFromElements(rec model.OrbitalElementRecord) model.ObjectMetadata {
	return model.ObjectMetadata{
		CatalogID:      rec.CatalogID,
		ObjectName:     rec.ObjectName,
		ObjectID:       rec.ObjectID,
		IntlDesignator: rec.IntlDesignator,
		Classification: rec.Classification,
	}
}

// hasMetadata reports whether meta carries anything beyond the catalog id.
func hasMetadata(meta model.ObjectMetadata) bool {
	id := meta.CatalogID
	meta.CatalogID = 0
	return id > 0 && meta != (model.ObjectMetadata{})
}

func objectLabel(rec model.OrbitalElementRecord) string {
	name := rec.ObjectName.OrElse("?")
	if id, ok := rec.ObjectID.Get(); ok {
		return id + " (" + name + ")"
	}
	return fmt.Sprintf("%d (%s)", rec.CatalogID, name)
}

// progress decides when a progress line is due and estimates the time left.
type progress struct {
	mu    sync.Mutex
	start time.Time
	total int
	every time.Duration
	last  time.Time
}

func newProgress(start time.Time, total int, every time.Duration) *progress {
	return &progress{start: start, total: total, every: every, last: start}
}

func (p *progress) due(done int64) bool {
	if p.every <= 0 {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	if now.Sub(p.last) < p.every && int(done) != p.total {
		return false
	}
	p.last = now
	return true
}

// eta extrapolates the mean time per finished record over the rest.
func (p *progress) eta(done int64) time.Duration {
	if done <= 0 {
		return 0
	}
	perRecord := time.Since(p.start) / time.Duration(done)
	left := int64(p.total) - done
	if left < 0 {
		left = 0
	}
	return (perRecord * time.Duration(left)).Round(time.Second)
}

type noopMetrics struct{}

func (noopMetrics) ObserveRecord(string, string)        {}
func (noopMetrics) ObserveIngest(string, time.Duration) {}
func (noopMetrics) WorkerBusy(int)                      {}
