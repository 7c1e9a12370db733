// Package recurrence computes contract periods and renewal dates for recurring rentals.
package recurrence

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/hrygo/rentflow/internal/errors"
)

// Unit is the period granularity of a recurring contract.
type Unit string

const (
	Weekly  Unit = "weekly"
	Monthly Unit = "monthly"
	Yearly  Unit = "yearly"
)

// DefaultMaxOccurrences caps Occurrences when the caller passes no limit.
const DefaultMaxOccurrences = 500

// MaxInterval is the largest accepted interval. It keeps k*interval unit
// arithmetic far from int overflow.
const MaxInterval = 1000

// Renewal offsets per unit. They do not scale with the interval.
const (
	weeklyRenewal  = 7
	monthlyRenewal = 30
	yearlyRenewal  = 365
)

// ParseUnit parses a unit name, case-insensitively.
func ParseUnit(s string) (Unit, error) {
	u := Unit(strings.ToLower(strings.TrimSpace(s)))
	if !u.Valid() {
		return "", apperrors.Validation(fmt.Sprintf("unknown recurrence unit %q", s))
	}
	return u, nil
}

// Valid reports whether u is a known unit.
func (u Unit) Valid() bool {
	switch u {
	case Weekly, Monthly, Yearly:
		return true
	}
	return false
}

// Rule describes how a contract recurs from its anchor date.
type Rule struct {
	Unit     Unit      `json:"unit"`
	Interval int       `json:"interval"`
	Anchor   time.Time `json:"anchor"`
}

// Validate rejects rules that cannot be scheduled.
func (r Rule) Validate() error {
	if !r.Unit.Valid() {
		return apperrors.Validation(fmt.Sprintf("unknown recurrence unit %q", r.Unit))
	}
	if r.Interval < 1 {
		return apperrors.Validation(fmt.Sprintf("recurrence interval must be >= 1, got %d", r.Interval))
	}
	if r.Interval > MaxInterval {
		return intervalTooLarge(r.Interval)
	}
	if r.Anchor.IsZero() {
		return apperrors.Validation("recurrence anchor date is required")
	}
	return nil
}

// Schedule computes the rule's derived dates.
func (r Rule) Schedule() (Schedule, error) {
	return ComputeSchedule(r.Anchor, r.Unit, r.Interval)
}

// String renders the rule as "every 2 monthly from 2024-01-31".
func (r Rule) String() string {
	return fmt.Sprintf("every %d %s from %s", r.Interval, r.Unit, r.Anchor.Format(time.DateOnly))
}

// Schedule holds the dates derived from a rule.
type Schedule struct {
	// EndDate is the start advanced by interval units.
	EndDate time.Time `json:"endDate"`
	// NextOccurrenceDate is when the contract comes up for renewal: a fixed offset per unit.
	NextOccurrenceDate time.Time `json:"nextOccurrenceDate"`
}

// ComputeSchedule derives the end and renewal dates of a contract starting at start.
//
// A non-positive interval is clamped to 1; the clamped schedule is returned
// together with a VALIDATION error so callers can refuse to persist it.
// An interval above MaxInterval is rejected outright.
func ComputeSchedule(start time.Time, unit Unit, interval int) (Schedule, error) {
	if !unit.Valid() {
		return Schedule{}, apperrors.Validation(fmt.Sprintf("unknown recurrence unit %q", unit))
	}
	if interval > MaxInterval {
		return Schedule{}, intervalTooLarge(interval)
	}

	var clampErr error
	if interval < 1 {
		clampErr = apperrors.Validation(fmt.Sprintf("recurrence interval must be >= 1, got %d", interval)).
			WithContext("clamped_to", 1)
		interval = 1
	}

	return Schedule{
		EndDate:            advance(start, unit, interval),
		NextOccurrenceDate: renewal(start, unit),
	}, clampErr
}

func intervalTooLarge(interval int) error {
	return apperrors.Validation(fmt.Sprintf("recurrence interval must be <= %d, got %d", MaxInterval, interval))
}

// advance moves t forward by n units. Months and years keep the day of month,
// clamped to the last day of the target month.
func advance(t time.Time, unit Unit, n int) time.Time {
	switch unit {
	case Weekly:
		return t.AddDate(0, 0, n*7)
	case Monthly:
		return addMonths(t, n)
	case Yearly:
		return addMonths(t, n*12)
	}
	return t
}

func renewal(t time.Time, unit Unit) time.Time {
	switch unit {
	case Weekly:
		return t.AddDate(0, 0, weeklyRenewal)
	case Monthly:
		return t.AddDate(0, 0, monthlyRenewal)
	case Yearly:
		return t.AddDate(0, 0, yearlyRenewal)
	}
	return t
}

func addMonths(t time.Time, n int) time.Time {
	year, month, day := t.Date()
	hour, minute, sec := t.Clock()

	// Normalize through the first of the month so AddDate never overflows.
	first := time.Date(year, month, 1, 0, 0, 0, 0, t.Location()).AddDate(0, n, 0)
	if last := daysInMonth(first.Year(), first.Month()); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, hour, minute, sec, t.Nanosecond(), t.Location())
}

func daysInMonth(year int, month time.Month) int {
	switch month {
	case time.January, time.March, time.May, time.July, time.August, time.October, time.December:
		return 31
	case time.April, time.June, time.September, time.November:
		return 30
	case time.February:
		if isLeapYear(year) {
			return 29
		}
		return 28
	}
	return 30
}

func isLeapYear(year int) bool {
	if year%4 != 0 {
		return false
	}
	if year%100 != 0 {
		return true
	}
	return year%400 == 0
}

// Occurrence is one dated instance of a recurring contract.
type Occurrence struct {
	Index int       `json:"index"`
	Date  time.Time `json:"date"`
}

// Occurrences lists the rule's period starts falling in [from, to), at most limit of them.
//
// The k-th occurrence is the anchor advanced by k*interval units, always
// computed from the anchor so month-end clamping never drifts (Jan 31, Feb 29, Mar 31).
// A zero to means no upper bound; limit <= 0 selects DefaultMaxOccurrences.
func Occurrences(rule Rule, from, to time.Time, limit int) ([]Occurrence, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultMaxOccurrences
	}
	if to.IsZero() && from.IsZero() {
		from = rule.Anchor
	}

	var out []Occurrence
	for k := 0; len(out) < limit; k++ {
		date := advance(rule.Anchor, rule.Unit, k*rule.Interval)
		if !to.IsZero() && !date.Before(to) {
			break
		}
		if date.Before(from) {
			continue
		}
		out = append(out, Occurrence{Index: k, Date: date})
	}
	return out, nil
}
