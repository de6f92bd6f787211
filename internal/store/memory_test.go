package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/signalsfoundry/satdb/model"
)

type MemoryStoreSuite struct {
	suite.Suite
	store *MemoryStore
	ctx   context.Context
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) SetupTest() {
	s.store = NewMemoryStore()
	s.ctx = context.Background()
}

var baseEpoch = time.Date(2019, time.September, 6, 0, 0, 0, 0, time.UTC)

func newRecord(id int, epoch time.Time) model.OrbitalElementRecord {
	return model.OrbitalElementRecord{
		CatalogID:       id,
		Epoch:           epoch,
		MeanMotion:      15.5,
		Eccentricity:    0.0008,
		Inclination:     51.6,
		RAAN:            320,
		ArgOfPericenter: 10,
		MeanAnomaly:     53,
		BStar:           model.Some(4.0858e-5),
		ObjectName:      model.Some("ISS (ZARYA)"),
	}
}

func (s *MemoryStoreSuite) TestInsertIgnoresDuplicateKeys() {
	inserted, err := s.store.InsertElements(s.ctx, newRecord(25544, baseEpoch))
	s.Require().NoError(err)
	s.True(inserted)

	dup := newRecord(25544, baseEpoch.In(time.FixedZone("CET", 3600)))
	dup.MeanMotion = 1
	inserted, err = s.store.InsertElements(s.ctx, dup)
	s.Require().NoError(err)
	s.False(inserted, "same instant in another zone is the same key")

	got, err := s.store.NearestElements(s.ctx, 25544, baseEpoch)
	s.Require().NoError(err)
	s.Equal(15.5, got.MeanMotion, "first write wins")
	s.Equal(1, s.store.Len())
}

func (s *MemoryStoreSuite) TestInsertRejectsInvalidCatalogID() {
	_, err := s.store.InsertElements(s.ctx, newRecord(0, baseEpoch))
	s.Require().Error(err)
}

func (s *MemoryStoreSuite) TestNearestElements() {
	for _, h := range []int{0, 24, 48} {
		_, err := s.store.InsertElements(s.ctx, newRecord(25544, baseEpoch.Add(time.Duration(h)*time.Hour)))
		s.Require().NoError(err)
	}

	s.Run("picks the closest epoch", func() {
		got, err := s.store.NearestElements(s.ctx, 25544, baseEpoch.Add(30*time.Hour))
		s.Require().NoError(err)
		s.True(got.Epoch.Equal(baseEpoch.Add(24 * time.Hour)))
	})

	s.Run("ties go to the earlier epoch", func() {
		got, err := s.store.NearestElements(s.ctx, 25544, baseEpoch.Add(12*time.Hour))
		s.Require().NoError(err)
		s.True(got.Epoch.Equal(baseEpoch))
	})

	s.Run("works outside the stored range", func() {
		got, err := s.store.NearestElements(s.ctx, 25544, baseEpoch.Add(-1000*time.Hour))
		s.Require().NoError(err)
		s.True(got.Epoch.Equal(baseEpoch))
	})

	s.Run("unknown object", func() {
		_, err := s.store.NearestElements(s.ctx, 5, baseEpoch)
		s.Require().ErrorIs(err, ErrNotFound)
	})
}

func (s *MemoryStoreSuite) TestElementHistoryIsOrdered() {
	inputs := []model.OrbitalElementRecord{
		newRecord(25544, baseEpoch.Add(2*time.Hour)),
		newRecord(5, baseEpoch.Add(time.Hour)),
		newRecord(25544, baseEpoch),
		newRecord(5, baseEpoch),
		newRecord(43013, baseEpoch),
	}
	for _, rec := range inputs {
		_, err := s.store.InsertElements(s.ctx, rec)
		s.Require().NoError(err)
	}

	got, err := s.store.ElementHistory(s.ctx, []int{25544, 5, 25544, 999})
	s.Require().NoError(err)
	s.Require().Len(got, 4)
	s.Equal(5, got[0].CatalogID)
	s.True(got[0].Epoch.Equal(baseEpoch))
	s.Equal(5, got[1].CatalogID)
	s.Equal(25544, got[2].CatalogID)
	s.True(got[3].Epoch.Equal(baseEpoch.Add(2 * time.Hour)))

	empty, err := s.store.ElementHistory(s.ctx, nil)
	s.Require().NoError(err)
	s.Empty(empty)
}

func (s *MemoryStoreSuite) TestMetadataHistory() {
	first := model.ObjectMetadata{CatalogID: 25544, ObjectName: model.Some("ISS (ZARYA)")}
	second := first
	second.DecayDate = model.Some("2031-01-01")

	saved, err := s.store.SaveMetadata(s.ctx, first)
	s.Require().NoError(err)
	s.True(saved)

	saved, err = s.store.SaveMetadata(s.ctx, first)
	s.Require().NoError(err)
	s.False(saved, "identical metadata is not stored twice")

	saved, err = s.store.SaveMetadata(s.ctx, second)
	s.Require().NoError(err)
	s.True(saved)

	got, err := s.store.Metadata(s.ctx, 25544)
	s.Require().NoError(err)
	s.Equal(second, got)

	_, err = s.store.Metadata(s.ctx, 1)
	s.Require().ErrorIs(err, ErrNotFound)
}

func (s *MemoryStoreSuite) TestCancelledContext() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()
	_, err := s.store.InsertElements(ctx, newRecord(1, baseEpoch))
	s.Require().ErrorIs(err, context.Canceled)
}

func (s *MemoryStoreSuite) TestConcurrentInsertsOfSameKey() {
	const goroutines = 50
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		wrote int
	)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.store.InsertElements(s.ctx, newRecord(25544, baseEpoch))
			if err == nil && ok {
				mu.Lock()
				wrote++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	s.Equal(1, wrote, "exactly one insert should succeed")
}
