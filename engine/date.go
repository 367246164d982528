/*
date.go - Calendar date type and occurrence date arithmetic

PURPOSE:
  Implements the occurrence date calculator and the first-occurrence
  resolver. All scheduling works on timezone-naive calendar days: callers
  normalize wall-clock timestamps to a local calendar day before invoking
  the engine, so a payment due "March 10" is March 10 regardless of the
  hour the engine runs.

THE OVERFLOW PROBLEM:
  Naive month/year addition on time.Time overflows when the source day
  exceeds the target month's length: Jan 30 + 1 month becomes Mar 2, which
  silently shifts every anchored date forward from then on. The calculator
  avoids the entire class of bug by pinning the day to 1 before adding
  months or years, then clamping the anchored day to the target month's
  length (Jan 30 + 1 month -> Feb 28, or Feb 29 in a leap year).

CADENCE RULES:
  DAILY:               +1 day
  WEEKLY / BIWEEKLY:   +7 / +14 days, then shift forward within the cycle
                       to the configured weekday (never backwards)
  MONTHLY / QUARTERLY: pin day 1, +1 / +3 months, clamp anchored day
  YEARLY:              pin day 1, +1 year, same month, clamp anchored day

SEE ALSO:
  - window.go: Bounded sequence generation using these primitives
  - materialize.go: Turns the sequence into persisted occurrences
*/
package engine

import (
	"fmt"
	"time"
)

// =============================================================================
// DATE - Timezone-naive calendar day
// =============================================================================

// Date is a calendar day. The embedded time.Time is always midnight in the
// local zone; comparisons and keys only ever look at year/month/day.
type Date struct {
	Time time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.Local)}
}

// DateOf truncates a wall-clock timestamp to its local calendar day.
func DateOf(t time.Time) Date {
	local := t.Local()
	return NewDate(local.Year(), local.Month(), local.Day())
}

func Today() Date {
	return DateOf(time.Now())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.ParseInLocation("2006-01-02", s, time.Local)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", s, err)
	}
	return Date{Time: t}, nil
}

// Comparison
func (d Date) Before(other Date) bool        { return d.normalize().Before(other.normalize()) }
func (d Date) After(other Date) bool         { return d.normalize().After(other.normalize()) }
func (d Date) Equal(other Date) bool         { return d.normalize().Equal(other.normalize()) }
func (d Date) BeforeOrEqual(other Date) bool { return !d.After(other) }
func (d Date) AfterOrEqual(other Date) bool  { return !d.Before(other) }

func (d Date) normalize() time.Time {
	return time.Date(d.Time.Year(), d.Time.Month(), d.Time.Day(), 0, 0, 0, 0, time.Local)
}

// Arithmetic
func (d Date) AddDays(n int) Date { return Date{Time: d.normalize().AddDate(0, 0, n)} }

// AddMonths uses native calendar addition and therefore overflows on long
// source days (Jan 31 + 1 month = Mar 3). It is only safe for horizon
// bounds; anchored cadence stepping goes through NextOccurrence instead.
func (d Date) AddMonths(n int) Date { return Date{Time: d.normalize().AddDate(0, n, 0)} }

// Properties
func (d Date) Year() int             { return d.Time.Year() }
func (d Date) Month() time.Month     { return d.Time.Month() }
func (d Date) Day() int              { return d.Time.Day() }
func (d Date) Weekday() time.Weekday { return d.Time.Weekday() }
func (d Date) IsZero() bool          { return d.Time.IsZero() }

// Key returns the canonical day key used for fingerprinting.
func (d Date) Key() string { return d.normalize().Format("2006-01-02") }

func (d Date) String() string { return d.Key() }

// MaxDate returns the later of two dates.
func MaxDate(a, b Date) Date {
	if a.After(b) {
		return a
	}
	return b
}

// MinDate returns the earlier of two dates.
func MinDate(a, b Date) Date {
	if a.Before(b) {
		return a
	}
	return b
}

// daysInMonth returns the number of days in a month (handles leap years).
func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.Local).Day()
}

func clampDay(day, year int, month time.Month) int {
	if max := daysInMonth(year, month); day > max {
		return max
	}
	return day
}

// =============================================================================
// ANCHOR - What pins a cadence to the calendar
// =============================================================================

// Anchor is the day-of-month or day-of-week that pins a recurrence's
// cadence. Which field matters depends on the frequency.
type Anchor struct {
	DayOfMonth int           // 1-31, for monthly/quarterly/yearly
	DayOfWeek  *time.Weekday // for weekly/biweekly
}

// ValidateSchedule checks a frequency/anchor combination before any date
// arithmetic or storage writes happen.
func ValidateSchedule(freq Frequency, anchor Anchor) error {
	switch freq {
	case FreqDaily:
		return nil
	case FreqWeekly, FreqBiweekly:
		if anchor.DayOfWeek != nil && (*anchor.DayOfWeek < time.Sunday || *anchor.DayOfWeek > time.Saturday) {
			return &ConfigurationError{Frequency: freq, Field: "dayOfWeek",
				Message: fmt.Sprintf("day of week %d out of range 0-6", int(*anchor.DayOfWeek))}
		}
		return nil
	case FreqMonthly, FreqQuarterly, FreqYearly:
		if anchor.DayOfMonth < 0 || anchor.DayOfMonth > 31 {
			return &ConfigurationError{Frequency: freq, Field: "dayOfMonth",
				Message: fmt.Sprintf("day of month %d out of range 1-31", anchor.DayOfMonth)}
		}
		return nil
	case FreqNone:
		return &ConfigurationError{Frequency: freq, Field: "frequency",
			Message: "a standalone entry has no cadence to generate"}
	default:
		return &ConfigurationError{Frequency: freq, Field: "frequency",
			Message: "unknown frequency"}
	}
}

// =============================================================================
// OCCURRENCE DATE CALCULATOR
// =============================================================================

// NextOccurrence returns the next occurrence date after current for the
// given cadence. Pure and total over valid inputs: any valid (date,
// frequency, anchor) triple produces exactly one next date.
func NextOccurrence(current Date, freq Frequency, anchor Anchor) (Date, error) {
	switch freq {
	case FreqDaily:
		return current.AddDays(1), nil

	case FreqWeekly:
		return nextByWeek(current, 7, anchor.DayOfWeek), nil

	case FreqBiweekly:
		return nextByWeek(current, 14, anchor.DayOfWeek), nil

	case FreqMonthly:
		return nextByMonth(current, 1, anchor.DayOfMonth), nil

	case FreqQuarterly:
		return nextByMonth(current, 3, anchor.DayOfMonth), nil

	case FreqYearly:
		return nextByYear(current, anchor.DayOfMonth), nil

	default:
		return Date{}, &ConfigurationError{Frequency: freq, Field: "frequency",
			Message: "cannot advance a non-recurring entry"}
	}
}

// nextByWeek advances by a whole cycle, then shifts forward within the
// cycle to the configured weekday. The shift is the minimal non-negative
// day delta, so the result is never before the naive advance.
func nextByWeek(current Date, step int, weekday *time.Weekday) Date {
	next := current.AddDays(step)
	if weekday == nil {
		return next
	}
	delta := (int(*weekday) - int(next.Weekday()) + 7) % 7
	return next.AddDays(delta)
}

// nextByMonth pins the day to 1 before adding months so native calendar
// overflow can never skip into the following month, then clamps the
// anchored day to the target month's length.
func nextByMonth(current Date, months int, dayOfMonth int) Date {
	day := dayOfMonth
	if day == 0 {
		day = current.Day()
	}
	base := NewDate(current.Year(), current.Month(), 1).AddMonths(months)
	return NewDate(base.Year(), base.Month(), clampDay(day, base.Year(), base.Month()))
}

// nextByYear uses the same overflow-safe technique: pin to day 1, add one
// year, keep the month, clamp the day. Handles Feb 29 in non-leap years.
func nextByYear(current Date, dayOfMonth int) Date {
	day := dayOfMonth
	if day == 0 {
		day = current.Day()
	}
	base := NewDate(current.Year(), current.Month(), 1).AddMonths(12)
	return NewDate(base.Year(), base.Month(), clampDay(day, base.Year(), base.Month()))
}

// =============================================================================
// FIRST-OCCURRENCE RESOLVER
// =============================================================================

// FirstOccurrence returns the first occurrence date for a recurrence
// starting at startDate. The result is never earlier than startDate: when
// anchoring within the start cycle would land before it, the resolver rolls
// to the next cycle.
func FirstOccurrence(startDate Date, freq Frequency, anchor Anchor) (Date, error) {
	switch freq {
	case FreqDaily:
		return startDate, nil

	case FreqWeekly, FreqBiweekly:
		if anchor.DayOfWeek == nil {
			return startDate, nil
		}
		// Shift forward within the start week to the configured weekday.
		delta := (int(*anchor.DayOfWeek) - int(startDate.Weekday()) + 7) % 7
		return startDate.AddDays(delta), nil

	case FreqMonthly, FreqQuarterly, FreqYearly:
		day := anchor.DayOfMonth
		if day == 0 {
			day = startDate.Day()
		}
		candidate := NewDate(startDate.Year(), startDate.Month(),
			clampDay(day, startDate.Year(), startDate.Month()))
		if candidate.Before(startDate) {
			// Anchor already passed this cycle; roll to the next one.
			return NextOccurrence(candidate, freq, anchor)
		}
		return candidate, nil

	default:
		return Date{}, &ConfigurationError{Frequency: freq, Field: "frequency",
			Message: "cannot resolve a first occurrence for a non-recurring entry"}
	}
}
