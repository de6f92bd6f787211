package codec

import (
	"fmt"
	"math"

	"github.com/signalsfoundry/satdb/model"
)

const (
	// EarthGM is Earth's standard gravitational parameter in m^3/s^2.
	EarthGM = 3.986004418e14
	// EarthRadiusKm is the equatorial radius used for apoapsis/periapsis
	// altitudes.
	EarthRadiusKm = 6378.137
)

var gmCubeRoot = math.Cbrt(EarthGM)

// Parameters are the secondary orbital quantities implied by mean motion and
// eccentricity.
type Parameters struct {
	SemiMajorAxisKm float64
	PeriodMin       float64
	ApoapsisAltKm   float64
	PeriapsisAltKm  float64
}

// DeriveParameters computes all four secondary parameters from mean motion
// (rev/day) and eccentricity.
func DeriveParameters(meanMotion, eccentricity model.Optional[float64]) (Parameters, error) {
	n, ok := meanMotion.Get()
	if !ok {
		return Parameters{}, fmt.Errorf("%w: mean motion", ErrMissingPrerequisite)
	}
	e, ok := eccentricity.Get()
	if !ok {
		return Parameters{}, fmt.Errorf("%w: eccentricity", ErrMissingPrerequisite)
	}
	if err := checkEccentricity(e); err != nil {
		return Parameters{}, err
	}
	if err := checkMeanMotion(n); err != nil {
		return Parameters{}, err
	}
	a := SemiMajorAxisKm(n)
	return Parameters{
		SemiMajorAxisKm: a,
		PeriodMin:       PeriodMin(a),
		ApoapsisAltKm:   ApoapsisAltKm(a, e),
		PeriapsisAltKm:  PeriapsisAltKm(a, e),
	}, nil
}

// SemiMajorAxisKm converts mean motion in rev/day to a semi-major axis in km.
func SemiMajorAxisKm(meanMotion float64) float64 {
	radPerSec := 2 * math.Pi * meanMotion / secondsPerDay
	return gmCubeRoot / math.Pow(radPerSec, 2.0/3.0) / 1000
}

// PeriodMin is the Keplerian period, in minutes, for a semi-major axis in km.
func PeriodMin(semiMajorAxisKm float64) float64 {
	a := semiMajorAxisKm * 1000
	return 2 * math.Pi * math.Sqrt(a*a*a/EarthGM) / 60
}

// ApoapsisAltKm is the apoapsis altitude above the equatorial radius.
func ApoapsisAltKm(semiMajorAxisKm, eccentricity float64) float64 {
	return semiMajorAxisKm*(1+eccentricity) - EarthRadiusKm
}

// PeriapsisAltKm is the periapsis altitude above the equatorial radius.
func PeriapsisAltKm(semiMajorAxisKm, eccentricity float64) float64 {
	return semiMajorAxisKm*(1-eccentricity) - EarthRadiusKm
}

// Derive returns a copy of rec with every unset derived parameter filled in.
// Values the source supplied are never replaced, and period, apoapsis and
// periapsis are computed from the record's semi-major axis whether it was
// supplied or derived. A record always carries mean motion, so zero is
// malformed rather than missing. rec itself is not modified; on error the
// returned record equals rec.
func Derive(rec model.OrbitalElementRecord) (model.OrbitalElementRecord, error) {
	if err := checkEccentricity(rec.Eccentricity); err != nil {
		return rec, err
	}
	if err := checkMeanMotion(rec.MeanMotion); err != nil {
		return rec, err
	}

	out := rec
	a, ok := rec.SemiMajorAxisKm.Get()
	if !ok {
		a = SemiMajorAxisKm(rec.MeanMotion)
		out.SemiMajorAxisKm = model.Some(a)
	}
	if !rec.PeriodMin.IsSet() {
		out.PeriodMin = model.Some(PeriodMin(a))
	}
	if !rec.ApoapsisAltKm.IsSet() {
		out.ApoapsisAltKm = model.Some(ApoapsisAltKm(a, rec.Eccentricity))
	}
	if !rec.PeriapsisAltKm.IsSet() {
		out.PeriapsisAltKm = model.Some(PeriapsisAltKm(a, rec.Eccentricity))
	}
	return out, nil
}

// MeanMotionFromSemiMajorAxis is the inverse of SemiMajorAxisKm.
func MeanMotionFromSemiMajorAxis(semiMajorAxisKm float64) (float64, error) {
	if !(semiMajorAxisKm > 0) || math.IsInf(semiMajorAxisKm, 0) {
		return 0, fmt.Errorf("%w: semi-major axis %v", ErrMalformedRecord, semiMajorAxisKm)
	}
	a := semiMajorAxisKm * 1000
	radPerSec := math.Sqrt(EarthGM / (a * a * a))
	return radPerSec * secondsPerDay / (2 * math.Pi), nil
}

func checkEccentricity(e float64) error {
	if math.IsNaN(e) || e < 0 || e >= 1 {
		return fmt.Errorf("%w: %v not in [0, 1)", ErrInvalidEccentricity, e)
	}
	return nil
}

func checkMeanMotion(n float64) error {
	if math.IsNaN(n) || math.IsInf(n, 0) || n <= 0 {
		return fmt.Errorf("%w: mean motion %v must be positive", ErrMalformedRecord, n)
	}
	return nil
}
