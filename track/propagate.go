package track

import (
	"errors"
	"fmt"
	"math"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/satdb/codec"
)

// ErrPropagation is returned when SGP4 yields no usable state vector, e.g.
// after the modelled orbit has decayed.
var ErrPropagation = errors.New("propagation failed")

// Vector is a position in kilometres.
type Vector struct {
	X, Y, Z float64
}

// Norm returns the Euclidean length of v.
func (v Vector) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Propagator runs SGP4 on an assembled element set.
type Propagator struct {
	sat satellite.Satellite
}

// NewPropagator builds an SGP4 propagator (WGS72 constants) from set. Both
// data lines are checksum-verified first since the SGP4 reader does not
// validate its input.
func NewPropagator(set codec.ElementSet) (*Propagator, error) {
	for _, line := range []string{set.Line1, set.Line2} {
		if err := codec.VerifyChecksum(line); err != nil {
			return nil, err
		}
	}
	return &Propagator{sat: satellite.TLEToSat(set.Line1, set.Line2, satellite.GravityWGS72)}, nil
}

// PositionECI returns the TEME position at t, to whole-second resolution.
func (p *Propagator) PositionECI(t time.Time) (Vector, error) {
	t = t.UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	pos, _ := satellite.Propagate(p.sat, year, int(month), day, hour, min, sec)
	v := Vector{X: pos.X, Y: pos.Y, Z: pos.Z}
	if n := v.Norm(); n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return Vector{}, fmt.Errorf("%w at %s", ErrPropagation, t.Format(time.RFC3339))
	}
	return v, nil
}

// PositionECEF rotates the position at t into the Earth-fixed frame.
func (p *Propagator) PositionECEF(t time.Time) (Vector, error) {
	eci, err := p.PositionECI(t)
	if err != nil {
		return Vector{}, err
	}
	t = t.UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()
	gmst := satellite.ThetaG_JD(satellite.JDay(year, int(month), day, hour, min, sec))
	ecef := satellite.ECIToECEF(satellite.Vector3{X: eci.X, Y: eci.Y, Z: eci.Z}, gmst)
	return Vector{X: ecef.X, Y: ecef.Y, Z: ecef.Z}, nil
}

// AltitudeAt returns the geocentric distance at t minus the Earth's
// equatorial radius, in km.
func (p *Propagator) AltitudeAt(t time.Time) (float64, error) {
	pos, err := p.PositionECI(t)
	if err != nil {
		return 0, err
	}
	return pos.Norm() - codec.EarthRadiusKm, nil
}
