package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/signalsfoundry/satdb/codec"
	"github.com/signalsfoundry/satdb/internal/logging"
	"github.com/signalsfoundry/satdb/internal/observability"
	"github.com/signalsfoundry/satdb/internal/store"
	"github.com/signalsfoundry/satdb/model"
)

const (
	issLine1 = "1 25544U 98067A   19249.04864348  .00001909  00000-0  40858-4 0  9990"
	issLine2 = "2 25544  51.6464 320.1755 0007999  10.9066  53.2893 15.50437522187805"
)

const segmentTemplate = `<segment>
  <metadata>
    <OBJECT_NAME>OBJECT %[1]d</OBJECT_NAME>
    <OBJECT_ID>2019-%03[1]dA</OBJECT_ID>
    <CENTER_NAME>EARTH</CENTER_NAME>
  </metadata>
  <data>
    <meanElements>
      <EPOCH>2019-09-06T01:10:02.796672</EPOCH>
      <MEAN_MOTION>15.2</MEAN_MOTION>
      <ECCENTRICITY>%[2]s</ECCENTRICITY>
      <INCLINATION>53.0</INCLINATION>
      <RA_OF_ASC_NODE>120.5</RA_OF_ASC_NODE>
      <ARG_OF_PERICENTER>90.1</ARG_OF_PERICENTER>
      <MEAN_ANOMALY>270.3</MEAN_ANOMALY>
    </meanElements>
    <tleParameters>
      <NORAD_CAT_ID>%[1]d</NORAD_CAT_ID>
      <BSTAR>0.0001</BSTAR>
    </tleParameters>
  </data>
</segment>
`

// ommDocument builds an ndm with one segment per catalog id. Ids listed in
// bad get an eccentricity the parser refuses.
func ommDocument(ids []int, bad ...int) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<ndm><omm id="CCSDS_OMM_VERS" version="2.0">
<header><ORIGINATOR>TEST</ORIGINATOR></header>
<body>
`)
	for _, id := range ids {
		ecc := "0.0012"
		for _, x := range bad {
			if x == id {
				ecc = "1.2"
			}
		}
		fmt.Fprintf(&b, segmentTemplate, id, ecc)
	}
	b.WriteString("</body></omm></ndm>\n")
	return b.String()
}

type countingMetrics struct {
	mu       sync.Mutex
	outcomes map[string]int
	runs     int
	busy     int
	maxBusy  int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{outcomes: map[string]int{}}
}

func (m *countingMetrics) ObserveRecord(source, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[source+"/"+outcome]++
}

func (m *countingMetrics) ObserveIngest(string, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs++
}

func (m *countingMetrics) WorkerBusy(delta int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.busy += delta
	m.maxBusy = max(m.maxBusy, m.busy)
}

var errBoom = errors.New("boom")

// failingStore fails every insert for one catalog id.
type failingStore struct {
	*store.MemoryStore
	failID int
}

func (s *failingStore) InsertElements(ctx context.Context, rec model.OrbitalElementRecord) (bool, error) {
	if rec.CatalogID == s.failID {
		return false, errBoom
	}
	return s.MemoryStore.InsertElements(ctx, rec)
}

type PipelineSuite struct {
	suite.Suite
	store   *store.MemoryStore
	metrics *countingMetrics
	stamp   time.Time
}

func TestPipelineSuite(t *testing.T) {
	suite.Run(t, new(PipelineSuite))
}

func (s *PipelineSuite) SetupTest() {
	s.store = store.NewMemoryStore()
	s.metrics = newCountingMetrics()
	s.stamp = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
}

func (s *PipelineSuite) pipeline(opts ...Option) *Pipeline {
	base := []Option{
		WithMetrics(s.metrics),
		WithLogger(logging.Noop()),
		WithClock(func() time.Time { return s.stamp }),
		WithWorkers(3),
	}
	return NewPipeline(s.store, append(base, opts...)...)
}

func (s *PipelineSuite) TestIngestOMMStoresDerivedRecords() {
	ctx := context.Background()
	doc := ommDocument([]int{1, 2, 3, 4}, 3)

	sum, err := s.pipeline().IngestOMM(ctx, strings.NewReader(doc))
	s.Require().NoError(err)
	s.Equal(4, sum.Seen)
	s.Equal(3, sum.Inserted)
	s.Equal(0, sum.Duplicates)
	s.Equal(1, sum.Rejected)
	s.Equal(3, s.store.Len())

	rec, err := s.store.NearestElements(ctx, 2, s.stamp)
	s.Require().NoError(err)
	s.True(rec.Derived(), "stored records carry derived parameters")
	s.True(rec.IngestedAt.Equal(s.stamp))
	s.Equal("TEST", rec.Originator.OrElse(""))

	meta, err := s.store.Metadata(ctx, 2)
	s.Require().NoError(err)
	s.Equal("OBJECT 2", meta.ObjectName.OrElse(""))
	s.Equal("19002A", meta.IntlDesignator.OrElse(""))

	_, err = s.store.NearestElements(ctx, 3, s.stamp)
	s.ErrorIs(err, store.ErrNotFound)

	s.Equal(3, s.metrics.outcomes["omm/"+observability.OutcomeInserted])
	s.Equal(1, s.metrics.outcomes["omm/"+observability.OutcomeRejected])
	s.Equal(1, s.metrics.runs)
	s.Zero(s.metrics.busy)
	s.LessOrEqual(s.metrics.maxBusy, 3)
}

func (s *PipelineSuite) TestReingestCountsDuplicates() {
	ctx := context.Background()
	doc := ommDocument([]int{10, 11, 12})
	p := s.pipeline()

	_, err := p.IngestOMM(ctx, strings.NewReader(doc))
	s.Require().NoError(err)
	sum, err := p.IngestOMM(ctx, strings.NewReader(doc))
	s.Require().NoError(err)
	s.Equal(Summary{Seen: 3, Duplicates: 3, Elapsed: sum.Elapsed}, sum)
	s.Equal(3, s.store.Len())
}

func (s *PipelineSuite) TestIngestOMMRejectsBrokenDocument() {
	sum, err := s.pipeline().IngestOMM(context.Background(), strings.NewReader("<ndm><omm>"))
	s.Require().ErrorIs(err, codec.ErrMalformedRecord)
	s.Zero(sum.Seen)
	s.Zero(s.store.Len())
}

func (s *PipelineSuite) TestIngestTLE() {
	ctx := context.Background()
	text := strings.Join([]string{
		"ISS (ZARYA)",
		issLine1,
		issLine2,
		"BROKEN",
		issLine1[:68] + "3",
		issLine2,
	}, "\n")

	sum, err := s.pipeline().IngestTLE(ctx, strings.NewReader(text))
	s.Require().NoError(err)
	s.Equal(2, sum.Seen)
	s.Equal(1, sum.Inserted)
	s.Equal(1, sum.Rejected)

	rec, err := s.store.NearestElements(ctx, 25544, s.stamp)
	s.Require().NoError(err)
	s.InDelta(6793.585, rec.SemiMajorAxisKm.OrElse(0), 0.01)

	meta, err := s.store.Metadata(ctx, 25544)
	s.Require().NoError(err)
	s.Equal("ISS (ZARYA)", meta.ObjectName.OrElse(""))
	s.Equal("1998-067A", meta.ObjectID.OrElse(""))
	s.Equal(1, s.metrics.outcomes["tle/"+observability.OutcomeRejected])
}

func (s *PipelineSuite) TestStoreFailureAbortsRun() {
	failing := &failingStore{MemoryStore: s.store, failID: 2}
	p := NewPipeline(failing, WithWorkers(1), WithMetrics(s.metrics))

	sum, err := p.IngestOMM(context.Background(), strings.NewReader(ommDocument([]int{1, 2, 3})))
	s.Require().ErrorIs(err, errBoom)
	s.Contains(err.Error(), "catalog 2")
	s.Equal(3, sum.Seen)
	s.Less(sum.Inserted, 3)
	s.Zero(s.metrics.busy)
}

func (s *PipelineSuite) TestCancelledContext() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sum, err := s.pipeline().IngestOMM(ctx, strings.NewReader(ommDocument([]int{1, 2})))
	s.Require().ErrorIs(err, context.Canceled)
	s.Zero(sum.Inserted)
	s.Zero(s.store.Len())
}

func TestHasMetadata(t *testing.T) {
	assert.False(t, hasMetadata(model.ObjectMetadata{CatalogID: 5}))
	assert.False(t, hasMetadata(model.ObjectMetadata{ObjectName: model.Some("X")}))
	assert.True(t, hasMetadata(model.ObjectMetadata{CatalogID: 5, ObjectName: model.Some("X")}))
}

func TestProgressETA(t *testing.T) {
	p := newProgress(time.Now().Add(-10*time.Second), 20, time.Second)
	eta := p.eta(10)
	require.InDelta(t, (10 * time.Second).Seconds(), eta.Seconds(), 1.5)
	require.Zero(t, p.eta(20))
	require.Zero(t, p.eta(0))

	require.True(t, p.due(1), "first call after the interval is due")
	require.False(t, p.due(2), "second call inside the interval is not")
	require.True(t, p.due(20), "the final record is always reported")

	require.False(t, newProgress(time.Now(), 5, 0).due(5))
}

func TestSummaryString(t *testing.T) {
	sum := Summary{Seen: 4, Inserted: 2, Duplicates: 1, Rejected: 1, Elapsed: 1500 * time.Millisecond}
	assert.Equal(t, "4 seen, 2 inserted, 1 duplicates, 1 rejected in 1.5s", sum.String())
}
