//go:build integration

package store_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/signalsfoundry/satdb/internal/store"
	"github.com/signalsfoundry/satdb/model"
)

type PostgresStoreSuite struct {
	suite.Suite
	container *tcpostgres.PostgresContainer
	db        *sql.DB
	store     *store.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("spaceobjects"),
		tcpostgres.WithUsername("satdb"),
		tcpostgres.WithPassword("secret"),
		tcpostgres.WithInitScripts(filepath.Join("testdata", "schema.sql")),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	s.Require().NoError(err)
	pg, err := store.OpenPostgres(ctx, dsn)
	s.Require().NoError(err)
	s.store = pg

	s.db, err = sql.Open("postgres", dsn)
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) TearDownSuite() {
	if s.store != nil {
		_ = s.store.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
}

func (s *PostgresStoreSuite) SetupTest() {
	_, err := s.db.ExecContext(context.Background(), "TRUNCATE orbelem, object_metadata RESTART IDENTITY")
	s.Require().NoError(err)
}

var epoch = time.Date(2019, time.September, 6, 1, 10, 2, 796672000, time.UTC)

func issRecord(at time.Time) model.OrbitalElementRecord {
	return model.OrbitalElementRecord{
		CatalogID:       25544,
		Epoch:           at,
		MeanMotion:      15.50437522,
		Eccentricity:    0.0007999,
		Inclination:     51.6464,
		RAAN:            320.1755,
		ArgOfPericenter: 10.9066,
		MeanAnomaly:     53.2893,
		BStar:           model.Some(4.0858e-5),
		MeanMotionDot:   model.Some(1.909e-5),
		MeanMotionDDot:  model.Some(0.0),
		ElementSetNo:    model.Some(999),
		Classification:  model.Some(model.ClassificationUnclassified),
		ObjectName:      model.Some("ISS (ZARYA)"),
		IntlDesignator:  model.Some("98067A"),
		SemiMajorAxisKm: model.Some(6793.585),
		Originator:      model.Some("18 SPCS"),
		SourceCreatedAt: model.Some(time.Date(2019, time.September, 6, 4, 26, 11, 0, time.UTC)),
		IngestedAt:      time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (s *PostgresStoreSuite) TestRoundTripPreservesOptionals() {
	ctx := context.Background()
	rec := issRecord(epoch)

	inserted, err := s.store.InsertElements(ctx, rec)
	s.Require().NoError(err)
	s.True(inserted)

	got, err := s.store.NearestElements(ctx, 25544, epoch)
	s.Require().NoError(err)
	s.True(got.Epoch.Equal(epoch), "epoch %s", got.Epoch)
	s.Equal(rec.MeanMotion, got.MeanMotion)
	s.Equal(rec.BStar, got.BStar)
	s.Equal(rec.MeanMotionDDot, got.MeanMotionDDot, "set zero survives as zero")
	s.False(got.RevAtEpoch.IsSet(), "unset stays unset")
	s.False(got.PeriodMin.IsSet())
	s.Equal(rec.Classification, got.Classification)
	s.Equal(rec.IntlDesignator, got.IntlDesignator)
	created, _ := got.SourceCreatedAt.Get()
	s.True(created.Equal(time.Date(2019, time.September, 6, 4, 26, 11, 0, time.UTC)))
}

func (s *PostgresStoreSuite) TestInsertIgnoresDuplicates() {
	ctx := context.Background()
	inserted, err := s.store.InsertElements(ctx, issRecord(epoch))
	s.Require().NoError(err)
	s.True(inserted)

	inserted, err = s.store.InsertElements(ctx, issRecord(epoch))
	s.Require().NoError(err)
	s.False(inserted)
}

func (s *PostgresStoreSuite) TestNearestAndHistory() {
	ctx := context.Background()
	for _, h := range []int{48, 0, 24} {
		_, err := s.store.InsertElements(ctx, issRecord(epoch.Add(time.Duration(h)*time.Hour)))
		s.Require().NoError(err)
	}
	other := issRecord(epoch)
	other.CatalogID = 5
	_, err := s.store.InsertElements(ctx, other)
	s.Require().NoError(err)

	got, err := s.store.NearestElements(ctx, 25544, epoch.Add(30*time.Hour))
	s.Require().NoError(err)
	s.True(got.Epoch.Equal(epoch.Add(24 * time.Hour)))

	got, err = s.store.NearestElements(ctx, 25544, epoch.Add(12*time.Hour))
	s.Require().NoError(err)
	s.True(got.Epoch.Equal(epoch), "ties go to the earlier epoch")

	_, err = s.store.NearestElements(ctx, 43013, epoch)
	s.Require().ErrorIs(err, store.ErrNotFound)

	history, err := s.store.ElementHistory(ctx, []int{25544, 5})
	s.Require().NoError(err)
	s.Require().Len(history, 4)
	s.Equal(5, history[0].CatalogID)
	s.True(history[1].Epoch.Equal(epoch))
	s.True(history[3].Epoch.Equal(epoch.Add(48 * time.Hour)))
}

func (s *PostgresStoreSuite) TestMetadata() {
	ctx := context.Background()
	meta := model.ObjectMetadata{
		CatalogID:      25544,
		ObjectName:     model.Some("ISS (ZARYA)"),
		ObjectID:       model.Some("1998-067A"),
		Classification: model.Some(model.ClassificationUnclassified),
	}

	saved, err := s.store.SaveMetadata(ctx, meta)
	s.Require().NoError(err)
	s.True(saved)

	saved, err = s.store.SaveMetadata(ctx, meta)
	s.Require().NoError(err)
	s.False(saved, "NULL columns compare equal")

	updated := meta
	updated.ObjectType = model.Some("PAYLOAD")
	saved, err = s.store.SaveMetadata(ctx, updated)
	s.Require().NoError(err)
	s.True(saved)

	got, err := s.store.Metadata(ctx, 25544)
	s.Require().NoError(err)
	s.Equal(updated, got)

	_, err = s.store.Metadata(ctx, 1)
	s.Require().ErrorIs(err, store.ErrNotFound)
}

func (s *PostgresStoreSuite) TestConcurrentMetadataSaves() {
	ctx := context.Background()
	meta := model.ObjectMetadata{CatalogID: 44713, ObjectName: model.Some("STARLINK-1007")}

	const goroutines = 20
	var (
		wg    sync.WaitGroup
		saved atomic.Int32
	)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.store.SaveMetadata(ctx, meta)
			if err == nil && ok {
				saved.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(1), saved.Load(), "exactly one save should write")
}
