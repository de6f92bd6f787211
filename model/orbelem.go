package model

import "time"

// Classification is the security classification carried on line 1 of an
// element set.
type Classification byte

const (
	ClassificationUnclassified Classification = 'U'
	ClassificationClassified   Classification = 'C'
	ClassificationSecret       Classification = 'S'
)

// Valid reports whether c is one of U, C or S.
func (c Classification) Valid() bool {
	switch c {
	case ClassificationUnclassified, ClassificationClassified, ClassificationSecret:
		return true
	}
	return false
}

func (c Classification) String() string { return string(rune(c)) }

// OrbitalElementRecord is the canonical mean-element state of one catalogued
// object at one epoch. Records are keyed by (CatalogID, Epoch).
type OrbitalElementRecord struct {
	CatalogID int
	Epoch     time.Time // UTC, microsecond resolution

	// Mean elements. Angles are in degrees, mean motion in rev/day.
	MeanMotion      float64
	Eccentricity    float64
	Inclination     float64
	RAAN            float64
	ArgOfPericenter float64
	MeanAnomaly     float64

	BStar          Optional[float64]
	MeanMotionDot  Optional[float64]
	MeanMotionDDot Optional[float64]
	ElementSetNo   Optional[int]
	RevAtEpoch     Optional[int]
	EphemerisType  Optional[int]
	Classification Optional[Classification]

	// Identity used when rendering legacy text.
	ObjectName     Optional[string] // title line
	ObjectID       Optional[string] // e.g. 1998-067A
	IntlDesignator Optional[string] // e.g. 98067A

	SemiMajorAxisKm Optional[float64]
	PeriodMin       Optional[float64]
	ApoapsisAltKm   Optional[float64]
	PeriapsisAltKm  Optional[float64]

	Originator        Optional[string]
	SourceCreatedAt   Optional[time.Time]
	OriginatorComment Optional[string]
	IngestedAt        time.Time
}

// Key identifies a record for persistence.
type Key struct {
	CatalogID int
	Epoch     time.Time
}

// Key returns the (catalog id, epoch) identity of r.
func (r *OrbitalElementRecord) Key() Key {
	return Key{CatalogID: r.CatalogID, Epoch: r.Epoch.UTC()}
}

// Derived reports whether all four derived parameters are present.
func (r *OrbitalElementRecord) Derived() bool {
	return r.SemiMajorAxisKm.IsSet() && r.PeriodMin.IsSet() &&
		r.ApoapsisAltKm.IsSet() && r.PeriapsisAltKm.IsSet()
}

// ObjectMetadata describes a catalogued object independent of any epoch.
type ObjectMetadata struct {
	CatalogID int

	ObjectName        Optional[string]
	ObjectID          Optional[string]
	IntlDesignator    Optional[string]
	CenterName        Optional[string]
	RefFrame          Optional[string]
	MeanElementTheory Optional[string]
	Classification    Optional[Classification]

	ObjectType  Optional[string]
	RCSSize     Optional[string]
	CountryCode Optional[string]
	LaunchDate  Optional[string]
	Site        Optional[string]
	DecayDate   Optional[string]
}
