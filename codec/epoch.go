package codec

import (
	"fmt"
	"math"
	"time"
)

const secondsPerDay = 86400.0

// ToDayOfYear splits t into its UTC year and 1-based fractional day of year.
// January 1st 00:00:00 is day 1.0.
func ToDayOfYear(t time.Time) (int, float64) {
	t = t.UTC()
	boy := time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	return t.Year(), 1 + t.Sub(boy).Seconds()/secondsPerDay
}

// FromDayOfYear is the inverse of ToDayOfYear. The result is rounded to the
// microsecond, which is finer than the 8-decimal day fraction of the legacy
// format and coarse enough to absorb float noise.
func FromDayOfYear(year int, doy float64) (time.Time, error) {
	boy := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	days := float64(daysIn(year))
	if math.IsNaN(doy) || doy < 1 || doy >= days+1 {
		return time.Time{}, fmt.Errorf("%w: day of year %v outside [1, %v)", ErrMalformedRecord, doy, days+1)
	}
	micros := math.Round((doy - 1) * secondsPerDay * 1e6)
	return boy.Add(time.Duration(micros) * time.Microsecond), nil
}

// formatEpoch renders t as the YYDDD.DDDDDDDD field of line 1. The day is
// rounded to eight decimals first, so instants within 432 µs of the end of
// a year become day 1.00000000 of the next year.
func formatEpoch(t time.Time) (string, error) {
	year, doy := ToDayOfYear(t)
	doy = math.Round(doy*1e8) / 1e8
	if doy >= float64(daysIn(year)+1) {
		year++
		doy = 1
	}
	yy, err := TwoDigitYear(year)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%02d%012.8f", yy, doy), nil
}

// TwoDigitYear returns the two-digit year used on line 1. Only 1957 through
// 2056 can be represented unambiguously.
func TwoDigitYear(year int) (int, error) {
	if year < 1957 || year > 2056 {
		return 0, fmt.Errorf("%w: epoch year %d outside 1957-2056", ErrEncodingOverflow, year)
	}
	return year % 100, nil
}

// ExpandTwoDigitYear maps 57-99 to 19xx and 00-56 to 20xx.
func ExpandTwoDigitYear(yy int) int {
	if yy >= 57 {
		return 1900 + yy
	}
	return 2000 + yy
}

func daysIn(year int) int {
	return time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC).YearDay()
}
