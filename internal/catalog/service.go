// Package catalog serves legacy element sets and altitude series out of the
// element store.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/satdb/codec"
	"github.com/signalsfoundry/satdb/internal/logging"
	"github.com/signalsfoundry/satdb/internal/observability"
	"github.com/signalsfoundry/satdb/internal/store"
	"github.com/signalsfoundry/satdb/model"
	"github.com/signalsfoundry/satdb/track"
)

// TextCache stores assembled element sets keyed by object and requested
// instant. Implementations must be safe for concurrent use.
type TextCache interface {
	Get(ctx context.Context, catalogID int, at time.Time) (codec.ElementSet, bool, error)
	Put(ctx context.Context, catalogID int, at time.Time, set codec.ElementSet) error
}

// MetricsRecorder receives lookup outcomes.
type MetricsRecorder interface {
	ObserveElementSet(outcome string)
	ObserveCacheLookup(result string)
}

// Service assembles element sets on demand.
type Service struct {
	store   store.Store
	cache   TextCache
	metrics MetricsRecorder
	log     logging.Logger
	tracer  trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithCache enables the text cache.
func WithCache(c TextCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithMetrics records lookup outcomes on m.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the service logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// NewService constructs a Service over st.
func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:   st,
		metrics: noopMetrics{},
		log:     logging.Noop(),
		tracer:  observability.Tracer("catalog"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// ElementSet returns the element set of catalogID whose epoch is closest to
// at. The text cache is consulted first and filled afterwards; cache
// failures are logged and otherwise ignored.
func (s *Service) ElementSet(ctx context.Context, catalogID int, at time.Time) (codec.ElementSet, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.ElementSet", trace.WithAttributes(
		attribute.Int("satdb.catalog_id", catalogID),
		attribute.String("satdb.at", at.UTC().Format(time.RFC3339)),
	))
	defer span.End()
	log := logging.LoggerFromContext(ctx, s.log).With(logging.Int("catalog_id", catalogID))

	if s.cache != nil {
		set, ok, err := s.cache.Get(ctx, catalogID, at)
		switch {
		case err != nil:
			s.metrics.ObserveCacheLookup("error")
			log.Warn(ctx, "text cache lookup failed", logging.Err(err))
		case ok:
			s.metrics.ObserveCacheLookup("hit")
			s.metrics.ObserveElementSet("cached")
			span.SetAttributes(attribute.Bool("satdb.cache_hit", true))
			return set, nil
		default:
			s.metrics.ObserveCacheLookup("miss")
		}
	}

	rec, err := s.store.NearestElements(ctx, catalogID, at)
	if err != nil {
		outcome := "error"
		if errors.Is(err, store.ErrNotFound) {
			outcome = "not_found"
		}
		s.metrics.ObserveElementSet(outcome)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		return codec.ElementSet{}, err
	}

	if err := s.fillIdentity(ctx, &rec); err != nil {
		log.Warn(ctx, "metadata lookup failed; assembling without it", logging.Err(err))
	}

	set, err := codec.Assemble(rec)
	if err != nil {
		s.metrics.ObserveElementSet("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "assemble")
		return codec.ElementSet{}, fmt.Errorf("assemble catalog %d at %s: %w", catalogID, rec.Epoch.Format(time.RFC3339), err)
	}
	s.metrics.ObserveElementSet("assembled")

	if s.cache != nil {
		if err := s.cache.Put(ctx, catalogID, at, set); err != nil {
			log.Warn(ctx, "text cache fill failed", logging.Err(err))
		}
	}
	log.Debug(ctx, "element set assembled", logging.String("epoch", rec.Epoch.Format(time.RFC3339Nano)))
	return set, nil
}

// fillIdentity completes the title, designator and classification from
// the object's metadata where the record itself lacks them.
func (s *Service) fillIdentity(ctx context.Context, rec *model.OrbitalElementRecord) error {
	if rec.ObjectName.IsSet() && rec.IntlDesignator.IsSet() && rec.Classification.IsSet() {
		return nil
	}
	meta, err := s.store.Metadata(ctx, rec.CatalogID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !rec.ObjectName.IsSet() {
		rec.ObjectName = meta.ObjectName
	}
	if !rec.IntlDesignator.IsSet() {
		rec.IntlDesignator = meta.IntlDesignator
	}
	if !rec.Classification.IsSet() {
		rec.Classification = meta.Classification
	}
	return nil
}

// AltitudeSeries returns the mean altitude history of catalogID, smoothed
// with a moving median of the given half width (0 disables smoothing).
func (s *Service) AltitudeSeries(ctx context.Context, catalogID, halfWidth int) ([]track.AltitudePoint, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.AltitudeSeries", trace.WithAttributes(
		attribute.Int("satdb.catalog_id", catalogID),
	))
	defer span.End()

	recs, err := s.store.ElementHistory(ctx, []int{catalogID})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("altitude history for catalog %d: %w", catalogID, store.ErrNotFound)
	}
	points, err := track.AltitudeHistory(recs)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if halfWidth > 0 {
		smoothed := track.MovingMedian(track.Altitudes(points), halfWidth)
		for i := range points {
			points[i].AltitudeKm = smoothed[i]
		}
	}
	return points, nil
}

type noopMetrics struct{}

func (noopMetrics) ObserveElementSet(string)  {}
func (noopMetrics) ObserveCacheLookup(string) {}
