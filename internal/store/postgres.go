package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/signalsfoundry/satdb/model"
)

// PostgresStore persists records in the orbelem and object_metadata tables.
// The expected schema is in testdata/schema.sql.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgres wraps an open database handle.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres opens and pings a lib/pq connection for dsn.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPostgres(db), nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// elementScan receives one orbelem row. Optional columns scan through
// sql.Null so that NULL stays distinguishable from zero.
type elementScan struct {
	rec            model.OrbitalElementRecord
	bstar          sql.Null[float64]
	ndot           sql.Null[float64]
	nddot          sql.Null[float64]
	elset          sql.Null[int]
	rev            sql.Null[int]
	ephemeris      sql.Null[int]
	classification sql.Null[string]
	name           sql.Null[string]
	objectID       sql.Null[string]
	designator     sql.Null[string]
	sma            sql.Null[float64]
	period         sql.Null[float64]
	apoapsis       sql.Null[float64]
	periapsis      sql.Null[float64]
	originator     sql.Null[string]
	created        sql.Null[time.Time]
	comment        sql.Null[string]
}

// elementColumn maps one record field onto one orbelem column in both
// directions.
type elementColumn struct {
	name string
	get  func(r *model.OrbitalElementRecord) any
	dest func(s *elementScan) any
}

var elementColumns = []elementColumn{
	{"norad_cat_id", func(r *model.OrbitalElementRecord) any { return r.CatalogID }, func(s *elementScan) any { return &s.rec.CatalogID }},
	{"epoch", func(r *model.OrbitalElementRecord) any { return r.Epoch.UTC() }, func(s *elementScan) any { return &s.rec.Epoch }},
	{"mean_motion", func(r *model.OrbitalElementRecord) any { return r.MeanMotion }, func(s *elementScan) any { return &s.rec.MeanMotion }},
	{"eccentricity", func(r *model.OrbitalElementRecord) any { return r.Eccentricity }, func(s *elementScan) any { return &s.rec.Eccentricity }},
	{"inclination", func(r *model.OrbitalElementRecord) any { return r.Inclination }, func(s *elementScan) any { return &s.rec.Inclination }},
	{"ra_of_asc_node", func(r *model.OrbitalElementRecord) any { return r.RAAN }, func(s *elementScan) any { return &s.rec.RAAN }},
	{"arg_of_pericenter", func(r *model.OrbitalElementRecord) any { return r.ArgOfPericenter }, func(s *elementScan) any { return &s.rec.ArgOfPericenter }},
	{"mean_anomaly", func(r *model.OrbitalElementRecord) any { return r.MeanAnomaly }, func(s *elementScan) any { return &s.rec.MeanAnomaly }},
	{"bstar", func(r *model.OrbitalElementRecord) any { return nullable(r.BStar) }, func(s *elementScan) any { return &s.bstar }},
	{"mean_motion_dot", func(r *model.OrbitalElementRecord) any { return nullable(r.MeanMotionDot) }, func(s *elementScan) any { return &s.ndot }},
	{"mean_motion_ddot", func(r *model.OrbitalElementRecord) any { return nullable(r.MeanMotionDDot) }, func(s *elementScan) any { return &s.nddot }},
	{"element_set_no", func(r *model.OrbitalElementRecord) any { return nullable(r.ElementSetNo) }, func(s *elementScan) any { return &s.elset }},
	{"rev_at_epoch", func(r *model.OrbitalElementRecord) any { return nullable(r.RevAtEpoch) }, func(s *elementScan) any { return &s.rev }},
	{"ephemeris_type", func(r *model.OrbitalElementRecord) any { return nullable(r.EphemerisType) }, func(s *elementScan) any { return &s.ephemeris }},
	{"classification_type", func(r *model.OrbitalElementRecord) any { return classificationValue(r.Classification) }, func(s *elementScan) any { return &s.classification }},
	{"object_name", func(r *model.OrbitalElementRecord) any { return nullable(r.ObjectName) }, func(s *elementScan) any { return &s.name }},
	{"object_id", func(r *model.OrbitalElementRecord) any { return nullable(r.ObjectID) }, func(s *elementScan) any { return &s.objectID }},
	{"id_short", func(r *model.OrbitalElementRecord) any { return nullable(r.IntlDesignator) }, func(s *elementScan) any { return &s.designator }},
	{"semimajor_axis", func(r *model.OrbitalElementRecord) any { return nullable(r.SemiMajorAxisKm) }, func(s *elementScan) any { return &s.sma }},
	{"period", func(r *model.OrbitalElementRecord) any { return nullable(r.PeriodMin) }, func(s *elementScan) any { return &s.period }},
	{"apoapsis", func(r *model.OrbitalElementRecord) any { return nullable(r.ApoapsisAltKm) }, func(s *elementScan) any { return &s.apoapsis }},
	{"periapsis", func(r *model.OrbitalElementRecord) any { return nullable(r.PeriapsisAltKm) }, func(s *elementScan) any { return &s.periapsis }},
	{"originator", func(r *model.OrbitalElementRecord) any { return nullable(r.Originator) }, func(s *elementScan) any { return &s.originator }},
	{"data_created", func(r *model.OrbitalElementRecord) any { return nullableTime(r.SourceCreatedAt) }, func(s *elementScan) any { return &s.created }},
	{"originator_comment", func(r *model.OrbitalElementRecord) any { return nullable(r.OriginatorComment) }, func(s *elementScan) any { return &s.comment }},
	{"ingested", func(r *model.OrbitalElementRecord) any { return ingestedAt(r.IngestedAt) }, func(s *elementScan) any { return &s.rec.IngestedAt }},
}

var (
	elementColumnList = columnList(elementColumns)

	insertElementsSQL = fmt.Sprintf(
		`INSERT INTO orbelem (%s) VALUES (%s) ON CONFLICT (norad_cat_id, epoch) DO NOTHING`,
		elementColumnList, placeholders(1, len(elementColumns)))

	nearestElementsSQL = fmt.Sprintf(`
		SELECT %s FROM orbelem
		WHERE norad_cat_id = $1
		ORDER BY abs(extract(epoch FROM (epoch - $2::timestamptz))), epoch
		LIMIT 1`, elementColumnList)

	elementHistorySQL = fmt.Sprintf(`
		SELECT %s FROM orbelem
		WHERE norad_cat_id = ANY($1)
		ORDER BY norad_cat_id, epoch`, elementColumnList)
)

// InsertElements writes rec with ON CONFLICT DO NOTHING.
func (s *PostgresStore) InsertElements(ctx context.Context, rec model.OrbitalElementRecord) (bool, error) {
	args := make([]any, len(elementColumns))
	for i, c := range elementColumns {
		args[i] = c.get(&rec)
	}
	res, err := s.db.ExecContext(ctx, insertElementsSQL, args...)
	if err != nil {
		return false, fmt.Errorf("insert elements %d at %s: %w", rec.CatalogID, rec.Epoch.Format(time.RFC3339Nano), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert elements: rows affected: %w", err)
	}
	return n == 1, nil
}

// NearestElements orders the object's rows by distance to at.
func (s *PostgresStore) NearestElements(ctx context.Context, catalogID int, at time.Time) (model.OrbitalElementRecord, error) {
	row := s.db.QueryRowContext(ctx, nearestElementsSQL, catalogID, at.UTC())
	rec, err := scanElements(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.OrbitalElementRecord{}, fmt.Errorf("elements for catalog %d: %w", catalogID, ErrNotFound)
	}
	if err != nil {
		return model.OrbitalElementRecord{}, fmt.Errorf("nearest elements %d: %w", catalogID, err)
	}
	return rec, nil
}

// ElementHistory fetches every row of the objects in one query.
func (s *PostgresStore) ElementHistory(ctx context.Context, catalogIDs []int) ([]model.OrbitalElementRecord, error) {
	ids := make([]int64, len(catalogIDs))
	for i, id := range catalogIDs {
		ids[i] = int64(id)
	}
	rows, err := s.db.QueryContext(ctx, elementHistorySQL, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("element history: %w", err)
	}
	defer rows.Close()

	var res []model.OrbitalElementRecord
	for rows.Next() {
		rec, err := scanElements(rows)
		if err != nil {
			return nil, fmt.Errorf("element history: %w", err)
		}
		res = append(res, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("element history: %w", err)
	}
	return res, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanElements(row rowScanner) (model.OrbitalElementRecord, error) {
	var s elementScan
	dest := make([]any, len(elementColumns))
	for i, c := range elementColumns {
		dest[i] = c.dest(&s)
	}
	if err := row.Scan(dest...); err != nil {
		return model.OrbitalElementRecord{}, err
	}
	rec := s.rec
	rec.Epoch = rec.Epoch.UTC()
	rec.IngestedAt = rec.IngestedAt.UTC()
	rec.BStar = optional(s.bstar)
	rec.MeanMotionDot = optional(s.ndot)
	rec.MeanMotionDDot = optional(s.nddot)
	rec.ElementSetNo = optional(s.elset)
	rec.RevAtEpoch = optional(s.rev)
	rec.EphemerisType = optional(s.ephemeris)
	rec.Classification = optionalClassification(s.classification)
	rec.ObjectName = optional(s.name)
	rec.ObjectID = optional(s.objectID)
	rec.IntlDesignator = optional(s.designator)
	rec.SemiMajorAxisKm = optional(s.sma)
	rec.PeriodMin = optional(s.period)
	rec.ApoapsisAltKm = optional(s.apoapsis)
	rec.PeriapsisAltKm = optional(s.periapsis)
	rec.Originator = optional(s.originator)
	if s.created.Valid {
		rec.SourceCreatedAt = model.Some(s.created.V.UTC())
	}
	rec.OriginatorComment = optional(s.comment)
	return rec, nil
}

var metadataColumns = []string{
	"norad_cat_id", "name", "object_id", "id_short", "center_name", "ref_frame",
	"mean_element_theory", "classification_type", "object_type", "rcs_size",
	"country_code", "launch_date", "site", "decay_date",
}

func metadataArgs(m *model.ObjectMetadata) []any {
	return []any{
		m.CatalogID,
		nullable(m.ObjectName),
		nullable(m.ObjectID),
		nullable(m.IntlDesignator),
		nullable(m.CenterName),
		nullable(m.RefFrame),
		nullable(m.MeanElementTheory),
		classificationValue(m.Classification),
		nullable(m.ObjectType),
		nullable(m.RCSSize),
		nullable(m.CountryCode),
		nullable(m.LaunchDate),
		nullable(m.Site),
		nullable(m.DecayDate),
	}
}

var (
	saveMetadataSQL = func() string {
		conds := make([]string, len(metadataColumns))
		for i, c := range metadataColumns {
			conds[i] = fmt.Sprintf("%s IS NOT DISTINCT FROM $%d", c, i+1)
		}
		return fmt.Sprintf(`
		INSERT INTO object_metadata (%s)
		SELECT %s
		WHERE NOT EXISTS (SELECT 1 FROM object_metadata WHERE %s)`,
			strings.Join(metadataColumns, ", "),
			castPlaceholders(),
			strings.Join(conds, " AND "))
	}()

	latestMetadataSQL = fmt.Sprintf(`
		SELECT %s FROM object_metadata
		WHERE norad_cat_id = $1
		ORDER BY id DESC
		LIMIT 1`, strings.Join(metadataColumns, ", "))
)

// SaveMetadata inserts meta when no identical row exists. NULLs compare
// equal. A per-object advisory lock serialises concurrent savers.
func (s *PostgresStore) SaveMetadata(ctx context.Context, meta model.ObjectMetadata) (inserted bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("save metadata: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(meta.CatalogID)); err != nil {
		return false, fmt.Errorf("save metadata %d: lock: %w", meta.CatalogID, err)
	}
	res, err := tx.ExecContext(ctx, saveMetadataSQL, metadataArgs(&meta)...)
	if err != nil {
		return false, fmt.Errorf("save metadata %d: %w", meta.CatalogID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("save metadata %d: rows affected: %w", meta.CatalogID, err)
	}
	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("save metadata %d: commit: %w", meta.CatalogID, err)
	}
	return n == 1, nil
}

// Metadata returns the newest object_metadata row.
func (s *PostgresStore) Metadata(ctx context.Context, catalogID int) (model.ObjectMetadata, error) {
	var (
		m    model.ObjectMetadata
		cols [13]sql.Null[string]
	)
	dest := []any{&m.CatalogID}
	for i := range cols {
		dest = append(dest, &cols[i])
	}
	err := s.db.QueryRowContext(ctx, latestMetadataSQL, catalogID).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ObjectMetadata{}, fmt.Errorf("metadata for catalog %d: %w", catalogID, ErrNotFound)
	}
	if err != nil {
		return model.ObjectMetadata{}, fmt.Errorf("metadata %d: %w", catalogID, err)
	}
	m.ObjectName = optional(cols[0])
	m.ObjectID = optional(cols[1])
	m.IntlDesignator = optional(cols[2])
	m.CenterName = optional(cols[3])
	m.RefFrame = optional(cols[4])
	m.MeanElementTheory = optional(cols[5])
	m.Classification = optionalClassification(cols[6])
	m.ObjectType = optional(cols[7])
	m.RCSSize = optional(cols[8])
	m.CountryCode = optional(cols[9])
	m.LaunchDate = optional(cols[10])
	m.Site = optional(cols[11])
	m.DecayDate = optional(cols[12])
	return m, nil
}

// nullable maps an unset Optional to SQL NULL.
func nullable[T any](o model.Optional[T]) any {
	if v, ok := o.Get(); ok {
		return v
	}
	return nil
}

func nullableTime(o model.Optional[time.Time]) any {
	if v, ok := o.Get(); ok {
		return v.UTC()
	}
	return nil
}

func classificationValue(o model.Optional[model.Classification]) any {
	if c, ok := o.Get(); ok {
		return c.String()
	}
	return nil
}

func optional[T any](n sql.Null[T]) model.Optional[T] {
	if !n.Valid {
		return model.None[T]()
	}
	return model.Some(n.V)
}

func optionalClassification(n sql.Null[string]) model.Optional[model.Classification] {
	if !n.Valid || len(n.V) != 1 {
		return model.None[model.Classification]()
	}
	return model.Some(model.Classification(n.V[0]))
}

func ingestedAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func columnList(cols []elementColumn) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.name
	}
	return strings.Join(names, ", ")
}

func placeholders(from, n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(ph, ", ")
}

// castPlaceholders gives each metadata parameter an explicit type; in
// INSERT ... SELECT the server cannot infer types from NULL parameters.
func castPlaceholders() string {
	ph := make([]string, len(metadataColumns))
	for i := range ph {
		typ := "text"
		if i == 0 {
			typ = "integer"
		}
		ph[i] = fmt.Sprintf("$%d::%s", i+1, typ)
	}
	return strings.Join(ph, ", ")
}
