// Package track turns stored element histories into altitude series and
// propagates assembled element sets.
package track

import (
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/signalsfoundry/satdb/codec"
	"github.com/signalsfoundry/satdb/model"
)

// AltitudePoint is the mean altitude above the equatorial radius at an epoch.
type AltitudePoint struct {
	Epoch      time.Time
	AltitudeKm float64
	CatalogID  int
}

// AltitudeHistory maps records to mean altitude (semi-major axis minus the
// Earth's equatorial radius), sorted by epoch. Records without a stored
// semi-major axis are derived from their mean motion.
func AltitudeHistory(records []model.OrbitalElementRecord) ([]AltitudePoint, error) {
	points := make([]AltitudePoint, 0, len(records))
	for i := range records {
		rec := &records[i]
		a, ok := rec.SemiMajorAxisKm.Get()
		if !ok {
			derived, err := codec.Derive(*rec)
			if err != nil {
				return nil, fmt.Errorf("catalog %d at %s: %w", rec.CatalogID, rec.Epoch.Format(time.RFC3339), err)
			}
			a, _ = derived.SemiMajorAxisKm.Get()
		}
		points = append(points, AltitudePoint{
			Epoch:      rec.Epoch,
			AltitudeKm: a - codec.EarthRadiusKm,
			CatalogID:  rec.CatalogID,
		})
	}
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Epoch.Before(points[j].Epoch)
	})
	return points, nil
}

// MovingMedian replaces each value with the median of the window of
// halfWidth neighbours on either side. The window is clipped at both ends of
// the series. A halfWidth of zero returns a copy.
func MovingMedian(values []float64, halfWidth int) []float64 {
	out := make([]float64, len(values))
	if halfWidth <= 0 {
		copy(out, values)
		return out
	}
	window := make([]float64, 0, 2*halfWidth+1)
	for i := range values {
		lo := max(i-halfWidth, 0)
		hi := min(i+halfWidth, len(values)-1)
		window = append(window[:0], values[lo:hi+1]...)
		slices.Sort(window)
		n := len(window)
		if n%2 == 1 {
			out[i] = window[n/2]
		} else {
			out[i] = (window[n/2-1] + window[n/2]) / 2
		}
	}
	return out
}

// Altitudes extracts the altitude column of points.
func Altitudes(points []AltitudePoint) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.AltitudeKm
	}
	return out
}
