/*
store.go - Persistence interface between the engine and the database

PURPOSE:
  Defines what the engine needs from its storage collaborator: record
  reads by id, equality-filtered queries, and atomic multi-record batch
  writes. Different implementations can use SQLite, PostgreSQL, or
  in-memory storage.

KEY INTERFACES:
  Store:   Template, version, and occurrence persistence
  TxStore: Atomic multi-table operations (occurrence batch + bookmark
           update in one commit)

ATOMIC BATCHES:
  CreateOccurrences / UpdateOccurrences / DeleteOccurrences are
  all-or-nothing. When materialization creates 6 occurrences, either all
  6 exist afterwards or none do. Template bookmarks only advance inside
  the same logical step as a successful batch, so a bookmark can never
  point past undelivered occurrences.

DEDUP AT WRITE TIME:
  CreateOccurrences must reject a batch containing an instance key that
  already exists (ErrDuplicateInstance). This is the engine's only safety
  net against two concurrent materializations of the same recurrence.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - engine/store/memory.go: In-memory for testing

SEE ALSO:
  - materialize.go, version.go, regenerate.go: Consumers of this interface
*/
package engine

import "context"

// =============================================================================
// SIMILARITY KEY - Heuristic fingerprint for legacy, unlinked entries
// =============================================================================

// SimilarityKey matches occurrences that look like instances of a template
// without being linked to one: same company, entry type, counterparty, and
// base amount. Used to catch duplicates created before a recurrence link
// existed. Deliberately a separate, explicitly-named strategy so it can be
// audited or disabled independently of the primary instance-key check.
type SimilarityKey struct {
	CompanyID    CompanyID
	Type         EntryType
	Counterparty Counterparty
	Amount       Amount
}

// =============================================================================
// STORE - What the engine requires from persistence
// =============================================================================

type Store interface {
	// --- Recurrence templates ---

	// GetTemplate returns a template by id, or ErrRecurrenceNotFound.
	GetTemplate(ctx context.Context, id RecurrenceID) (*RecurrenceTemplate, error)

	// SaveTemplate inserts or fully replaces a template.
	SaveTemplate(ctx context.Context, tmpl *RecurrenceTemplate) error

	// ListTemplates returns all templates for a company.
	ListTemplates(ctx context.Context, companyID CompanyID) ([]RecurrenceTemplate, error)

	// Companies returns every company that owns at least one template.
	// Used by the horizon scheduler to sweep all tenants.
	Companies(ctx context.Context) ([]CompanyID, error)

	// --- Recurrence versions ---

	// ActiveVersion returns the version with EffectiveTo == nil, or nil
	// when the recurrence has no versions yet.
	ActiveVersion(ctx context.Context, id RecurrenceID) (*RecurrenceVersion, error)

	// Versions returns all versions for a recurrence ordered by Number.
	Versions(ctx context.Context, id RecurrenceID) ([]RecurrenceVersion, error)

	// SaveVersion inserts a new version or updates an existing one (used
	// to close the previously active version).
	SaveVersion(ctx context.Context, v *RecurrenceVersion) error

	// --- Occurrences ---

	// GetOccurrence returns an occurrence by id, or ErrOccurrenceNotFound.
	GetOccurrence(ctx context.Context, id OccurrenceID) (*Occurrence, error)

	// OccurrencesByRecurrence returns all occurrences linked to a
	// recurrence, scoped to the owning company, ordered by due date.
	OccurrencesByRecurrence(ctx context.Context, companyID CompanyID, id RecurrenceID) ([]Occurrence, error)

	// OccurrencesMatching returns occurrences matching the similarity key,
	// linked or not. Equality filters only; no ordering required.
	OccurrencesMatching(ctx context.Context, key SimilarityKey) ([]Occurrence, error)

	// OccurrencesByCompany returns all occurrences for a company. Used by
	// the similarity cascade, which filters in memory.
	OccurrencesByCompany(ctx context.Context, companyID CompanyID) ([]Occurrence, error)

	// CreateOccurrences persists a batch atomically. Fails the whole batch
	// with ErrDuplicateInstance if any instance key already exists.
	CreateOccurrences(ctx context.Context, occs []Occurrence) error

	// UpdateOccurrences persists amount/status/version changes atomically.
	UpdateOccurrences(ctx context.Context, occs []Occurrence) error

	// DeleteOccurrences removes a batch atomically.
	DeleteOccurrences(ctx context.Context, ids []OccurrenceID) error
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across record types
// =============================================================================

// TxStore wraps Store with transaction support. The engine uses it to
// commit an occurrence batch and the template bookmark update as one
// logical step.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// inTx runs fn transactionally when the store supports it, and directly
// otherwise (memory store tests exercise both paths).
func inTx(ctx context.Context, s Store, fn func(Store) error) error {
	if tx, ok := s.(TxStore); ok {
		return tx.WithTx(ctx, fn)
	}
	return fn(s)
}
