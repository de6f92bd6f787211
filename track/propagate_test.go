package track

import (
	"errors"
	"testing"
	"time"

	"github.com/signalsfoundry/satdb/codec"
	"github.com/signalsfoundry/satdb/model"
)

func issElementSet(t *testing.T) codec.ElementSet {
	t.Helper()
	rec := record(25544, time.Date(2019, time.September, 6, 1, 10, 2, 796672000, time.UTC), 15.50437522)
	rec.BStar = model.Some(4.0858e-5)
	rec.MeanMotionDot = model.Some(1.909e-5)
	rec.IntlDesignator = model.Some("98067A")
	rec.ElementSetNo = model.Some(999)
	rec.RevAtEpoch = model.Some(18780)
	set, err := codec.Assemble(rec)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	return set
}

// Exact positions belong to go-satellite; this checks that assembled lines
// are readable by it and land in a plausible low Earth orbit.
func TestPropagatorAltitudeOfAssembledISS(t *testing.T) {
	p, err := NewPropagator(issElementSet(t))
	if err != nil {
		t.Fatalf("NewPropagator: %v", err)
	}
	epoch := time.Date(2019, time.September, 6, 1, 10, 0, 0, time.UTC)
	for _, dt := range []time.Duration{0, 15 * time.Minute, 45 * time.Minute, 6 * time.Hour} {
		alt, err := p.AltitudeAt(epoch.Add(dt))
		if err != nil {
			t.Fatalf("AltitudeAt(+%s): %v", dt, err)
		}
		if alt < 390 || alt > 440 {
			t.Fatalf("altitude at +%s = %.1f km, want 390..440", dt, alt)
		}
	}
}

func TestPropagatorPositionChangesOverTime(t *testing.T) {
	p, err := NewPropagator(issElementSet(t))
	if err != nil {
		t.Fatalf("NewPropagator: %v", err)
	}
	t1 := time.Date(2019, time.September, 6, 2, 0, 0, 0, time.UTC)
	first, err := p.PositionECEF(t1)
	if err != nil {
		t.Fatalf("PositionECEF: %v", err)
	}
	second, err := p.PositionECEF(t1.Add(5 * time.Minute))
	if err != nil {
		t.Fatalf("PositionECEF: %v", err)
	}
	if first == second {
		t.Fatalf("expected position to change over time, got %+v at both times", first)
	}
	eci, _ := p.PositionECI(t1)
	if d := eci.Norm() - first.Norm(); d > 1e-6 || d < -1e-6 {
		t.Fatalf("frame rotation changed the radius by %v km", d)
	}
}

func TestNewPropagatorRejectsCorruptLines(t *testing.T) {
	set := issElementSet(t)
	set.Line2 = set.Line2[:68] + "0"
	if set.Line2 == issElementSet(t).Line2 {
		set.Line2 = set.Line2[:68] + "1"
	}
	if _, err := NewPropagator(set); !errors.Is(err, codec.ErrChecksumMismatch) {
		t.Fatalf("err = %v, want ErrChecksumMismatch", err)
	}
}
