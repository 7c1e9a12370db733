// Package timezone resolves the business timezone used to interpret calendar
// dates in collection queries.
package timezone

import (
	"time"

	"github.com/pkg/errors"
)

// TimezoneUTC is the default business timezone.
const TimezoneUTC = "UTC"

// ParseTimezone parses an IANA timezone identifier (e.g., "Europe/Paris").
// If the timezone is invalid, returns UTC and an error.
func ParseTimezone(tz string) (*time.Location, error) {
	if tz == "" || tz == TimezoneUTC {
		return time.UTC, nil
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC, errors.Wrapf(err, "invalid timezone %q", tz)
	}
	return loc, nil
}

// IsValidTimezone checks if a timezone identifier is valid.
func IsValidTimezone(tz string) bool {
	_, err := ParseTimezone(tz)
	return err == nil
}

// StartOfDay returns midnight of t's calendar day in tz.
func StartOfDay(t time.Time, tz *time.Location) time.Time {
	if tz == nil {
		tz = time.UTC
	}
	t = t.In(tz)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, tz)
}

// NextDay returns midnight of the day after t's calendar day in tz.
// Unlike adding 24h it stays on midnight across DST changes.
func NextDay(t time.Time, tz *time.Location) time.Time {
	start := StartOfDay(t, tz)
	return time.Date(start.Year(), start.Month(), start.Day()+1, 0, 0, 0, 0, start.Location())
}
