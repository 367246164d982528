/*
Package engine provides the recurrence materialization core.

PURPOSE:
  This package contains the types and algorithms for turning recurring
  financial obligations (rent, salaries, subscriptions) into discrete,
  individually-payable ledger entries called occurrences. The engine
  computes occurrence dates, deduplicates against already-materialized
  entries, versions amount changes over time, and cleans up stale
  entries when a recurrence definition changes.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A monetary quantity with a currency (decimal-backed)
  - RecurrenceTemplate: The reusable definition of a recurring obligation
  - RecurrenceVersion: Append-only amount history for a template
  - Occurrence: One materialized, payable instance of a recurrence

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point errors
  2. Type Safety: Strong typing for IDs prevents mixing template/occurrence IDs
  3. Idempotency: Every generated occurrence carries a date-keyed instance key
  4. Non-destruction: Settled and user-overridden occurrences are immutable
     to the engine

USAGE:
  tmpl := engine.RecurrenceTemplate{
      Frequency:  engine.FreqMonthly,
      DayOfMonth: 5,
      BaseAmount: engine.NewAmount(1200, engine.CurrencyUSD),
  }

SEE ALSO:
  - date.go: Occurrence date calculator and first-occurrence resolver
  - materialize.go: Window materialization and deduplication
  - version.go: Amount versioning and the cascade
*/
package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Monetary quantity with currency
// =============================================================================

type Amount struct {
	Value    decimal.Decimal
	Currency Currency
}

type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyBRL Currency = "BRL"
)

func NewAmount(value float64, currency Currency) Amount {
	return Amount{Value: decimal.NewFromFloat(value), Currency: currency}
}

func NewAmountFromInt(value int, currency Currency) Amount {
	return Amount{Value: decimal.NewFromInt(int64(value)), Currency: currency}
}

func MustParseAmount(s string, currency Currency) Amount {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{Value: decimal.Zero, Currency: currency}
	}
	return Amount{Value: d, Currency: currency}
}

func (a Amount) Zero() Amount              { return Amount{Value: decimal.Zero, Currency: a.Currency} }
func (a Amount) Add(b Amount) Amount       { return Amount{Value: a.Value.Add(b.Value), Currency: a.Currency} }
func (a Amount) Sub(b Amount) Amount       { return Amount{Value: a.Value.Sub(b.Value), Currency: a.Currency} }
func (a Amount) Neg() Amount               { return Amount{Value: a.Value.Neg(), Currency: a.Currency} }
func (a Amount) IsZero() bool              { return a.Value.IsZero() }
func (a Amount) IsNegative() bool          { return a.Value.IsNegative() }
func (a Amount) Equal(b Amount) bool       { return a.Currency == b.Currency && a.Value.Equal(b.Value) }
func (a Amount) GreaterThan(b Amount) bool { return a.Value.GreaterThan(b.Value) }

func (a Amount) String() string {
	return fmt.Sprintf("%s %s", a.Value.String(), a.Currency)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CompanyID string
type RecurrenceID string
type OccurrenceID string
type VersionID string

// =============================================================================
// ENUMERATIONS
// =============================================================================

// EntryType distinguishes money coming in from money going out.
type EntryType string

const (
	EntryIncome  EntryType = "income"
	EntryExpense EntryType = "expense"
)

// Certainty expresses how reliable a recurring obligation is.
type Certainty string

const (
	CertaintyGuaranteed Certainty = "guaranteed" // contractual (rent, salary)
	CertaintyExpected   Certainty = "expected"   // reliable but not contractual
	CertaintyEstimated  Certainty = "estimated"  // variable (utilities)
)

// Frequency defines a recurrence cadence.
// FreqNone marks a standalone, non-recurring entry; it is never a valid
// cadence for a template.
type Frequency string

const (
	FreqNone      Frequency = "none"
	FreqDaily     Frequency = "daily"
	FreqWeekly    Frequency = "weekly"
	FreqBiweekly  Frequency = "biweekly"
	FreqMonthly   Frequency = "monthly"
	FreqQuarterly Frequency = "quarterly"
	FreqYearly    Frequency = "yearly"
)

// IsRecurring reports whether the frequency describes an actual cadence.
func (f Frequency) IsRecurring() bool {
	switch f {
	case FreqDaily, FreqWeekly, FreqBiweekly, FreqMonthly, FreqQuarterly, FreqYearly:
		return true
	}
	return false
}

// RecurrenceStatus is the lifecycle state of a template.
type RecurrenceStatus string

const (
	RecurrenceActive RecurrenceStatus = "active"
	RecurrencePaused RecurrenceStatus = "paused"
	RecurrenceEnded  RecurrenceStatus = "ended"
)

// OccurrenceStatus is the settlement state of a materialized entry.
type OccurrenceStatus string

const (
	OccurrencePending   OccurrenceStatus = "pending"
	OccurrenceSettled   OccurrenceStatus = "settled"
	OccurrenceCancelled OccurrenceStatus = "cancelled"
)

// =============================================================================
// COUNTERPARTY - The other side of an obligation (landlord, employee, vendor)
// =============================================================================

type Counterparty struct {
	ID   string
	Name string
}

func (c Counterparty) IsZero() bool { return c.ID == "" && c.Name == "" }

// =============================================================================
// RECURRENCE TEMPLATE - Reusable definition of a recurring obligation
// =============================================================================

// RecurrenceTemplate defines a recurring income or expense. The engine
// materializes it into Occurrence records over a rolling horizon.
//
// INVARIANTS:
//   - Frequency must be a real cadence (never FreqNone)
//   - DayOfMonth anchors monthly/quarterly/yearly cadences (1-31)
//   - DayOfWeek anchors weekly/biweekly cadences
//   - A template referenced by settled occurrences is never hard-deleted;
//     it transitions to RecurrenceEnded instead
type RecurrenceTemplate struct {
	ID        RecurrenceID
	CompanyID CompanyID

	Type         EntryType
	BaseAmount   Amount
	Category     string
	Counterparty Counterparty
	AccountID    string // settlement account, optional
	Certainty    Certainty
	Description  string

	Frequency  Frequency
	DayOfMonth int           // 1-31; monthly/quarterly/yearly anchor
	DayOfWeek  *time.Weekday // weekly/biweekly anchor

	StartDate     Date
	EndDate       *Date // nil = open-ended
	HorizonMonths int   // how far ahead to materialize; DefaultHorizonMonths if 0

	// Generation bookmarks, updated transactionally with occurrence creation.
	// Kept as explicit fields so materialization never has to re-scan the
	// full occurrence history to know where it left off.
	LastGeneratedDate  *Date
	NextOccurrenceDate *Date

	Status          RecurrenceStatus
	ActiveVersionID VersionID

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DefaultHorizonMonths is how far ahead occurrences are materialized when
// a template does not specify its own horizon.
const DefaultHorizonMonths = 6

// Horizon returns the template's generation horizon in months.
func (t *RecurrenceTemplate) Horizon() int {
	if t.HorizonMonths > 0 {
		return t.HorizonMonths
	}
	return DefaultHorizonMonths
}

// Anchor returns the template's cadence anchor.
func (t *RecurrenceTemplate) Anchor() Anchor {
	return Anchor{DayOfMonth: t.DayOfMonth, DayOfWeek: t.DayOfWeek}
}

// =============================================================================
// RECURRENCE VERSION - Append-only amount history
// =============================================================================

// RecurrenceVersion records one amount a template carried during a time
// partition. At most one version per template is active (EffectiveTo == nil).
// Versions are never edited; an amount change closes the active version and
// opens a new one atomically.
type RecurrenceVersion struct {
	ID            VersionID
	RecurrenceID  RecurrenceID
	Amount        Amount
	EffectiveFrom Date
	EffectiveTo   *Date // nil while active
	Number        int   // strictly increasing per recurrence
	Active        bool
	Reason        string
	Author        string
	CreatedAt     time.Time
}

// =============================================================================
// OCCURRENCE - One materialized, payable instance of a recurrence
// =============================================================================

// Occurrence is a single ledger entry. Entries generated by the engine carry
// a back-reference to their template and a date-keyed instance key used for
// deduplication. Standalone entries have an empty RecurrenceID.
//
// INVARIANTS:
//   - Overridden == true: the engine never amount-updates or deletes it
//   - Status == OccurrenceSettled: immutable to the engine
type Occurrence struct {
	ID           OccurrenceID
	CompanyID    CompanyID
	RecurrenceID RecurrenceID // empty = standalone entry
	VersionID    VersionID    // pricing provenance, optional

	DueDate      Date
	Amount       Amount
	Type         EntryType
	Category     string
	Counterparty Counterparty
	Certainty    Certainty
	Description  string

	Status OccurrenceStatus

	// Generated marks an entry materialized by the engine (as opposed to
	// entered by hand). Overridden marks an entry a user manually diverged
	// from its template; such entries are exempt from cascades and cleanup.
	Generated  bool
	Overridden bool

	// InstanceKey is the date-keyed dedup marker: recurrenceID + due day.
	// Empty for standalone entries. Legacy entries that predate strict
	// recurrence linkage carry a RecurrenceLabel instead.
	InstanceKey     string
	RecurrenceLabel Frequency

	CreatedAt time.Time
	UpdatedAt time.Time
}

// InstanceKeyFor builds the dedup marker for a recurrence + due day pair.
func InstanceKeyFor(id RecurrenceID, day Date) string {
	return string(id) + "@" + day.Key()
}

// Mutable reports whether the engine may amount-update or delete the entry.
func (o *Occurrence) Mutable() bool {
	return o.Status == OccurrencePending && !o.Overridden
}
