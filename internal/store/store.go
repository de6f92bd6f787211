// Package store persists orbital element records and object metadata.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/signalsfoundry/satdb/model"
)

// ErrNotFound is returned when no record matches a lookup.
var ErrNotFound = errors.New("not found")

// Store is the persistence contract shared by the in-memory and PostgreSQL
// implementations.
type Store interface {
	// InsertElements stores rec unless a record with the same catalog id and
	// epoch exists. It reports whether a row was written.
	InsertElements(ctx context.Context, rec model.OrbitalElementRecord) (bool, error)
	// NearestElements returns the record whose epoch is closest to at. Ties
	// go to the earlier epoch.
	NearestElements(ctx context.Context, catalogID int, at time.Time) (model.OrbitalElementRecord, error)
	// ElementHistory returns every record of the given objects ordered by
	// catalog id, then epoch.
	ElementHistory(ctx context.Context, catalogIDs []int) ([]model.OrbitalElementRecord, error)
	// SaveMetadata appends meta unless an identical entry already exists for
	// the object. It reports whether a row was written.
	SaveMetadata(ctx context.Context, meta model.ObjectMetadata) (bool, error)
	// Metadata returns the most recently saved metadata of an object.
	Metadata(ctx context.Context, catalogID int) (model.ObjectMetadata, error)
}

// closer reports whether epoch a is a better match for at than b.
func closer(a, b, at time.Time) bool {
	da, db := absDuration(a.Sub(at)), absDuration(b.Sub(at))
	if da != db {
		return da < db
	}
	return a.Before(b)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
