/*
window.go - Bounded occurrence date sequence generation

PURPOSE:
  Produces the ordered list of calendar dates a recurrence should
  materialize between its start date and a horizon. The window is the
  input to the materialization engine, which decides which of those dates
  still need an occurrence created.

BOUNDS:
  Effective upper bound = min(endDate ?? horizon, horizon). A template's
  own end date can tighten the horizon but never extend it.

TERMINATION:
  A hard cap of MaxWindowSize dates guarantees termination even under
  misconfiguration (a corrupt anchor producing a near-zero step). Hitting
  the cap is not an error; generation simply resumes on the next call.

SEE ALSO:
  - date.go: NextOccurrence / FirstOccurrence primitives
  - materialize.go: Consumes the window
*/
package engine

// MaxWindowSize caps how many dates a single window may contain.
const MaxWindowSize = 100

// Window returns the ordered occurrence dates for a cadence, starting at
// the first occurrence on/after startDate and ending at the effective
// upper bound. Returns an empty sequence when the first occurrence already
// exceeds the bound.
func Window(startDate Date, endDate *Date, freq Frequency, anchor Anchor, horizon Date) ([]Date, error) {
	if err := ValidateSchedule(freq, anchor); err != nil {
		return nil, err
	}

	bound := horizon
	if endDate != nil && endDate.Before(horizon) {
		bound = *endDate
	}

	current, err := FirstOccurrence(startDate, freq, anchor)
	if err != nil {
		return nil, err
	}
	if current.Before(startDate) {
		// The resolver guarantees this cannot happen; re-check anyway so a
		// regression can never emit a date before the template existed.
		current, err = NextOccurrence(current, freq, anchor)
		if err != nil {
			return nil, err
		}
	}

	var dates []Date
	for current.BeforeOrEqual(bound) && len(dates) < MaxWindowSize {
		dates = append(dates, current)
		current, err = NextOccurrence(current, freq, anchor)
		if err != nil {
			return nil, err
		}
	}
	return dates, nil
}
