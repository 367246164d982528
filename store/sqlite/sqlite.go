/*
Package sqlite provides a SQLite-backed implementation of the storage
collaborator.

PURPOSE:
  Implements engine.Store and engine.TxStore using SQLite. In production
  the same patterns apply to PostgreSQL - only minor SQL dialect
  differences.

KEY TABLES:
  recurrences:         Recurrence templates with generation bookmarks
  recurrence_versions: Append-only amount history
  occurrences:         Materialized ledger entries

ATOMIC BATCHES:
  CreateOccurrences / UpdateOccurrences / DeleteOccurrences each run in a
  single database transaction: either every row in the batch lands or
  none do. WithTx exposes the same mechanism across record types so the
  engine can commit an occurrence batch and a bookmark update together.

DEDUP ENFORCEMENT:
  A unique index on occurrences.instance_key is the write-time re-check
  behind the engine's idempotency: two concurrent materializations of the
  same recurrence can both pass the read-side fingerprint check, but only
  one batch commits.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging): multiple readers don't
  block, a single writer at a time, better crash recovery.

USAGE:
  store, err := sqlite.New("./data/recurrence.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - engine/store.go: Interface definitions
  - engine/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/recurrence-engine/engine"
)

// Store implements engine.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Recurrence templates
	CREATE TABLE IF NOT EXISTS recurrences (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		entry_type TEXT NOT NULL,
		amount_value TEXT NOT NULL,
		amount_currency TEXT NOT NULL,
		category TEXT,
		counterparty_id TEXT,
		counterparty_name TEXT,
		account_id TEXT,
		certainty TEXT NOT NULL,
		description TEXT,
		frequency TEXT NOT NULL,
		day_of_month INTEGER DEFAULT 0,
		day_of_week INTEGER,
		start_date TEXT NOT NULL,
		end_date TEXT,
		horizon_months INTEGER DEFAULT 0,
		last_generated_date TEXT,
		next_occurrence_date TEXT,
		status TEXT NOT NULL,
		active_version_id TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_recurrences_company
		ON recurrences(company_id);
	CREATE INDEX IF NOT EXISTS idx_recurrences_status
		ON recurrences(status);

	-- Amount history (append-only; rows are only ever updated to be closed)
	CREATE TABLE IF NOT EXISTS recurrence_versions (
		id TEXT PRIMARY KEY,
		recurrence_id TEXT NOT NULL,
		amount_value TEXT NOT NULL,
		amount_currency TEXT NOT NULL,
		effective_from TEXT NOT NULL,
		effective_to TEXT,
		version_number INTEGER NOT NULL,
		active BOOLEAN NOT NULL DEFAULT FALSE,
		reason TEXT,
		author TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_versions_recurrence
		ON recurrence_versions(recurrence_id, version_number);

	-- At most one active version per recurrence
	CREATE UNIQUE INDEX IF NOT EXISTS idx_versions_active
		ON recurrence_versions(recurrence_id) WHERE active;

	-- Materialized ledger entries
	CREATE TABLE IF NOT EXISTS occurrences (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		recurrence_id TEXT,
		version_id TEXT,
		due_date TEXT NOT NULL,
		amount_value TEXT NOT NULL,
		amount_currency TEXT NOT NULL,
		entry_type TEXT NOT NULL,
		category TEXT,
		counterparty_id TEXT,
		counterparty_name TEXT,
		certainty TEXT,
		description TEXT,
		status TEXT NOT NULL,
		generated BOOLEAN NOT NULL DEFAULT FALSE,
		overridden BOOLEAN NOT NULL DEFAULT FALSE,
		instance_key TEXT,
		recurrence_label TEXT NOT NULL DEFAULT 'none',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- CRITICAL: the write-time dedup re-check. Two concurrent
	-- materializations of the same recurrence cannot both create an
	-- occurrence for the same day.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_occurrences_instance
		ON occurrences(instance_key) WHERE instance_key IS NOT NULL;

	CREATE INDEX IF NOT EXISTS idx_occurrences_recurrence
		ON occurrences(company_id, recurrence_id, due_date);
	CREATE INDEX IF NOT EXISTS idx_occurrences_company_date
		ON occurrences(company_id, due_date);
	CREATE INDEX IF NOT EXISTS idx_occurrences_similarity
		ON occurrences(company_id, entry_type, counterparty_id, counterparty_name);
	CREATE INDEX IF NOT EXISTS idx_occurrences_status
		ON occurrences(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// execer covers both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// TEMPLATES
// =============================================================================

func (s *Store) GetTemplate(ctx context.Context, id engine.RecurrenceID) (*engine.RecurrenceTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return getTemplate(ctx, s.db, id)
}

func getTemplate(ctx context.Context, db execer, id engine.RecurrenceID) (*engine.RecurrenceTemplate, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+templateColumns+`
		FROM recurrences WHERE id = ?
	`, id)

	tmpl, err := scanTemplate(row)
	if err == sql.ErrNoRows {
		return nil, engine.ErrRecurrenceNotFound
	}
	if err != nil {
		return nil, &engine.StorageError{Op: "get template", Err: err}
	}
	return tmpl, nil
}

func (s *Store) SaveTemplate(ctx context.Context, tmpl *engine.RecurrenceTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return saveTemplate(ctx, s.db, tmpl)
}

func saveTemplate(ctx context.Context, db execer, tmpl *engine.RecurrenceTemplate) error {
	query := `
		INSERT INTO recurrences
		(id, company_id, entry_type, amount_value, amount_currency, category,
		 counterparty_id, counterparty_name, account_id, certainty, description,
		 frequency, day_of_month, day_of_week, start_date, end_date,
		 horizon_months, last_generated_date, next_occurrence_date, status,
		 active_version_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			company_id = excluded.company_id,
			entry_type = excluded.entry_type,
			amount_value = excluded.amount_value,
			amount_currency = excluded.amount_currency,
			category = excluded.category,
			counterparty_id = excluded.counterparty_id,
			counterparty_name = excluded.counterparty_name,
			account_id = excluded.account_id,
			certainty = excluded.certainty,
			description = excluded.description,
			frequency = excluded.frequency,
			day_of_month = excluded.day_of_month,
			day_of_week = excluded.day_of_week,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			horizon_months = excluded.horizon_months,
			last_generated_date = excluded.last_generated_date,
			next_occurrence_date = excluded.next_occurrence_date,
			status = excluded.status,
			active_version_id = excluded.active_version_id,
			updated_at = excluded.updated_at
	`

	createdAt := tmpl.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	updatedAt := tmpl.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	_, err := db.ExecContext(ctx, query,
		tmpl.ID,
		tmpl.CompanyID,
		tmpl.Type,
		tmpl.BaseAmount.Value.String(),
		tmpl.BaseAmount.Currency,
		tmpl.Category,
		nullString(tmpl.Counterparty.ID),
		nullString(tmpl.Counterparty.Name),
		nullString(tmpl.AccountID),
		tmpl.Certainty,
		tmpl.Description,
		tmpl.Frequency,
		tmpl.DayOfMonth,
		nullWeekday(tmpl.DayOfWeek),
		tmpl.StartDate.Key(),
		nullDate(tmpl.EndDate),
		tmpl.HorizonMonths,
		nullDate(tmpl.LastGeneratedDate),
		nullDate(tmpl.NextOccurrenceDate),
		tmpl.Status,
		nullString(string(tmpl.ActiveVersionID)),
		createdAt.Format(time.RFC3339),
		updatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return &engine.StorageError{Op: "save template", Err: err}
	}
	return nil
}

func (s *Store) ListTemplates(ctx context.Context, companyID engine.CompanyID) ([]engine.RecurrenceTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return listTemplates(ctx, s.db, companyID)
}

func listTemplates(ctx context.Context, db execer, companyID engine.CompanyID) ([]engine.RecurrenceTemplate, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+templateColumns+`
		FROM recurrences WHERE company_id = ?
		ORDER BY created_at ASC, id ASC
	`, companyID)
	if err != nil {
		return nil, &engine.StorageError{Op: "list templates", Err: err}
	}
	defer rows.Close()

	var templates []engine.RecurrenceTemplate
	for rows.Next() {
		tmpl, err := scanTemplate(rows)
		if err != nil {
			return nil, &engine.StorageError{Op: "list templates", Err: err}
		}
		templates = append(templates, *tmpl)
	}
	return templates, rows.Err()
}

func (s *Store) Companies(ctx context.Context) ([]engine.CompanyID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return companies(ctx, s.db)
}

func companies(ctx context.Context, db execer) ([]engine.CompanyID, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT DISTINCT company_id FROM recurrences ORDER BY company_id ASC
	`)
	if err != nil {
		return nil, &engine.StorageError{Op: "list companies", Err: err}
	}
	defer rows.Close()

	var ids []engine.CompanyID
	for rows.Next() {
		var id engine.CompanyID
		if err := rows.Scan(&id); err != nil {
			return nil, &engine.StorageError{Op: "list companies", Err: err}
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const templateColumns = `id, company_id, entry_type, amount_value, amount_currency, category,
	counterparty_id, counterparty_name, account_id, certainty, description,
	frequency, day_of_month, day_of_week, start_date, end_date,
	horizon_months, last_generated_date, next_occurrence_date, status,
	active_version_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (*engine.RecurrenceTemplate, error) {
	var (
		tmpl            engine.RecurrenceTemplate
		amountValue     string
		amountCurrency  string
		category        sql.NullString
		cpID, cpName    sql.NullString
		accountID       sql.NullString
		description     sql.NullString
		dayOfWeek       sql.NullInt64
		startDate       string
		endDate         sql.NullString
		lastGenerated   sql.NullString
		nextOccurrence  sql.NullString
		activeVersionID sql.NullString
		createdAt       string
		updatedAt       string
	)

	err := row.Scan(
		&tmpl.ID, &tmpl.CompanyID, &tmpl.Type, &amountValue, &amountCurrency, &category,
		&cpID, &cpName, &accountID, &tmpl.Certainty, &description,
		&tmpl.Frequency, &tmpl.DayOfMonth, &dayOfWeek, &startDate, &endDate,
		&tmpl.HorizonMonths, &lastGenerated, &nextOccurrence, &tmpl.Status,
		&activeVersionID, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	tmpl.BaseAmount = parseAmount(amountValue, amountCurrency)
	tmpl.Category = category.String
	tmpl.Counterparty = engine.Counterparty{ID: cpID.String, Name: cpName.String}
	tmpl.AccountID = accountID.String
	tmpl.Description = description.String
	if dayOfWeek.Valid {
		wd := time.Weekday(dayOfWeek.Int64)
		tmpl.DayOfWeek = &wd
	}
	tmpl.StartDate = parseDate(startDate)
	tmpl.EndDate = parseNullDate(endDate)
	tmpl.LastGeneratedDate = parseNullDate(lastGenerated)
	tmpl.NextOccurrenceDate = parseNullDate(nextOccurrence)
	tmpl.ActiveVersionID = engine.VersionID(activeVersionID.String)
	tmpl.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	tmpl.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &tmpl, nil
}

// =============================================================================
// VERSIONS
// =============================================================================

func (s *Store) ActiveVersion(ctx context.Context, id engine.RecurrenceID) (*engine.RecurrenceVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return activeVersion(ctx, s.db, id)
}

func activeVersion(ctx context.Context, db execer, id engine.RecurrenceID) (*engine.RecurrenceVersion, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+versionColumns+`
		FROM recurrence_versions
		WHERE recurrence_id = ? AND active
	`, id)

	v, err := scanVersion(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &engine.StorageError{Op: "active version", Err: err}
	}
	return v, nil
}

func (s *Store) Versions(ctx context.Context, id engine.RecurrenceID) ([]engine.RecurrenceVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return listVersions(ctx, s.db, id)
}

func listVersions(ctx context.Context, db execer, id engine.RecurrenceID) ([]engine.RecurrenceVersion, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+versionColumns+`
		FROM recurrence_versions
		WHERE recurrence_id = ?
		ORDER BY version_number ASC
	`, id)
	if err != nil {
		return nil, &engine.StorageError{Op: "list versions", Err: err}
	}
	defer rows.Close()

	var versions []engine.RecurrenceVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, &engine.StorageError{Op: "list versions", Err: err}
		}
		versions = append(versions, *v)
	}
	return versions, rows.Err()
}

func (s *Store) SaveVersion(ctx context.Context, v *engine.RecurrenceVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return saveVersion(ctx, s.db, v)
}

func saveVersion(ctx context.Context, db execer, v *engine.RecurrenceVersion) error {
	query := `
		INSERT INTO recurrence_versions
		(id, recurrence_id, amount_value, amount_currency, effective_from,
		 effective_to, version_number, active, reason, author, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			effective_to = excluded.effective_to,
			active = excluded.active
	`

	createdAt := v.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := db.ExecContext(ctx, query,
		v.ID,
		v.RecurrenceID,
		v.Amount.Value.String(),
		v.Amount.Currency,
		v.EffectiveFrom.Key(),
		nullDate(v.EffectiveTo),
		v.Number,
		v.Active,
		v.Reason,
		v.Author,
		createdAt.Format(time.RFC3339),
	)
	if err != nil {
		return &engine.StorageError{Op: "save version", Err: err}
	}
	return nil
}

const versionColumns = `id, recurrence_id, amount_value, amount_currency, effective_from,
	effective_to, version_number, active, reason, author, created_at`

func scanVersion(row rowScanner) (*engine.RecurrenceVersion, error) {
	var (
		v              engine.RecurrenceVersion
		amountValue    string
		amountCurrency string
		effectiveFrom  string
		effectiveTo    sql.NullString
		reason         sql.NullString
		author         sql.NullString
		createdAt      string
	)

	err := row.Scan(
		&v.ID, &v.RecurrenceID, &amountValue, &amountCurrency, &effectiveFrom,
		&effectiveTo, &v.Number, &v.Active, &reason, &author, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	v.Amount = parseAmount(amountValue, amountCurrency)
	v.EffectiveFrom = parseDate(effectiveFrom)
	v.EffectiveTo = parseNullDate(effectiveTo)
	v.Reason = reason.String
	v.Author = author.String
	v.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &v, nil
}

// =============================================================================
// OCCURRENCES
// =============================================================================

func (s *Store) GetOccurrence(ctx context.Context, id engine.OccurrenceID) (*engine.Occurrence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT `+occurrenceColumns+`
		FROM occurrences WHERE id = ?
	`, id)

	occ, err := scanOccurrence(row)
	if err == sql.ErrNoRows {
		return nil, engine.ErrOccurrenceNotFound
	}
	if err != nil {
		return nil, &engine.StorageError{Op: "get occurrence", Err: err}
	}
	return occ, nil
}

func (s *Store) OccurrencesByRecurrence(ctx context.Context, companyID engine.CompanyID, id engine.RecurrenceID) ([]engine.Occurrence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryOccurrences(ctx, `
		SELECT `+occurrenceColumns+`
		FROM occurrences
		WHERE company_id = ? AND recurrence_id = ?
		ORDER BY due_date ASC, id ASC
	`, companyID, id)
}

func (s *Store) OccurrencesMatching(ctx context.Context, key engine.SimilarityKey) ([]engine.Occurrence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	occs, err := s.queryOccurrences(ctx, `
		SELECT `+occurrenceColumns+`
		FROM occurrences
		WHERE company_id = ? AND entry_type = ?
		  AND IFNULL(counterparty_id, '') = ? AND IFNULL(counterparty_name, '') = ?
		ORDER BY due_date ASC, id ASC
	`, key.CompanyID, key.Type, key.Counterparty.ID, key.Counterparty.Name)
	if err != nil {
		return nil, err
	}

	// Decimal equality is value-based ("500" == "500.00"), so the amount
	// filter happens here rather than as SQL string comparison.
	var matched []engine.Occurrence
	for _, o := range occs {
		if o.Amount.Equal(key.Amount) {
			matched = append(matched, o)
		}
	}
	return matched, nil
}

func (s *Store) OccurrencesByCompany(ctx context.Context, companyID engine.CompanyID) ([]engine.Occurrence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryOccurrences(ctx, `
		SELECT `+occurrenceColumns+`
		FROM occurrences
		WHERE company_id = ?
		ORDER BY due_date ASC, id ASC
	`, companyID)
}

// CreateOccurrences persists a batch in one database transaction.
func (s *Store) CreateOccurrences(ctx context.Context, occs []engine.Occurrence) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &engine.StorageError{Op: "begin batch", Err: err}
	}
	defer sqlTx.Rollback()

	if err := createOccurrences(ctx, sqlTx, occs); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return &engine.StorageError{Op: "commit batch", Err: err}
	}
	return nil
}

func createOccurrences(ctx context.Context, db execer, occs []engine.Occurrence) error {
	query := `
		INSERT INTO occurrences
		(id, company_id, recurrence_id, version_id, due_date, amount_value,
		 amount_currency, entry_type, category, counterparty_id, counterparty_name,
		 certainty, description, status, generated, overridden, instance_key,
		 recurrence_label, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	for _, o := range occs {
		createdAt := o.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		label := o.RecurrenceLabel
		if label == "" {
			label = engine.FreqNone
		}
		_, err := db.ExecContext(ctx, query,
			o.ID,
			o.CompanyID,
			nullString(string(o.RecurrenceID)),
			nullString(string(o.VersionID)),
			o.DueDate.Key(),
			o.Amount.Value.String(),
			o.Amount.Currency,
			o.Type,
			o.Category,
			nullString(o.Counterparty.ID),
			nullString(o.Counterparty.Name),
			o.Certainty,
			o.Description,
			o.Status,
			o.Generated,
			o.Overridden,
			nullString(o.InstanceKey),
			label,
			createdAt.Format(time.RFC3339),
			createdAt.Format(time.RFC3339),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return engine.ErrDuplicateInstance
			}
			return &engine.StorageError{Op: "create occurrence", Err: err}
		}
	}
	return nil
}

// UpdateOccurrences persists changes in one database transaction.
func (s *Store) UpdateOccurrences(ctx context.Context, occs []engine.Occurrence) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &engine.StorageError{Op: "begin batch", Err: err}
	}
	defer sqlTx.Rollback()

	if err := updateOccurrences(ctx, sqlTx, occs); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return &engine.StorageError{Op: "commit batch", Err: err}
	}
	return nil
}

func updateOccurrences(ctx context.Context, db execer, occs []engine.Occurrence) error {
	query := `
		UPDATE occurrences SET
			amount_value = ?, amount_currency = ?, version_id = ?,
			status = ?, overridden = ?, updated_at = ?
		WHERE id = ?
	`

	for _, o := range occs {
		result, err := db.ExecContext(ctx, query,
			o.Amount.Value.String(),
			o.Amount.Currency,
			nullString(string(o.VersionID)),
			o.Status,
			o.Overridden,
			time.Now().UTC().Format(time.RFC3339),
			o.ID,
		)
		if err != nil {
			return &engine.StorageError{Op: "update occurrence", Err: err}
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return engine.ErrOccurrenceNotFound
		}
	}
	return nil
}

// DeleteOccurrences removes a batch in one database transaction.
func (s *Store) DeleteOccurrences(ctx context.Context, ids []engine.OccurrenceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &engine.StorageError{Op: "begin batch", Err: err}
	}
	defer sqlTx.Rollback()

	if err := deleteOccurrences(ctx, sqlTx, ids); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return &engine.StorageError{Op: "commit batch", Err: err}
	}
	return nil
}

func deleteOccurrences(ctx context.Context, db execer, ids []engine.OccurrenceID) error {
	for _, id := range ids {
		if _, err := db.ExecContext(ctx, `DELETE FROM occurrences WHERE id = ?`, id); err != nil {
			return &engine.StorageError{Op: "delete occurrence", Err: err}
		}
	}
	return nil
}

func (s *Store) queryOccurrences(ctx context.Context, query string, args ...any) ([]engine.Occurrence, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &engine.StorageError{Op: "query occurrences", Err: err}
	}
	defer rows.Close()

	var occurrences []engine.Occurrence
	for rows.Next() {
		occ, err := scanOccurrence(rows)
		if err != nil {
			return nil, &engine.StorageError{Op: "scan occurrence", Err: err}
		}
		occurrences = append(occurrences, *occ)
	}
	return occurrences, rows.Err()
}

const occurrenceColumns = `id, company_id, recurrence_id, version_id, due_date, amount_value,
	amount_currency, entry_type, category, counterparty_id, counterparty_name,
	certainty, description, status, generated, overridden, instance_key,
	recurrence_label, created_at, updated_at`

func scanOccurrence(row rowScanner) (*engine.Occurrence, error) {
	var (
		o              engine.Occurrence
		recurrenceID   sql.NullString
		versionID      sql.NullString
		dueDate        string
		amountValue    string
		amountCurrency string
		category       sql.NullString
		cpID, cpName   sql.NullString
		certainty      sql.NullString
		description    sql.NullString
		instanceKey    sql.NullString
		createdAt      string
		updatedAt      string
	)

	err := row.Scan(
		&o.ID, &o.CompanyID, &recurrenceID, &versionID, &dueDate, &amountValue,
		&amountCurrency, &o.Type, &category, &cpID, &cpName,
		&certainty, &description, &o.Status, &o.Generated, &o.Overridden, &instanceKey,
		&o.RecurrenceLabel, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.RecurrenceID = engine.RecurrenceID(recurrenceID.String)
	o.VersionID = engine.VersionID(versionID.String)
	o.DueDate = parseDate(dueDate)
	o.Amount = parseAmount(amountValue, amountCurrency)
	o.Category = category.String
	o.Counterparty = engine.Counterparty{ID: cpID.String, Name: cpName.String}
	o.Certainty = engine.Certainty(certainty.String)
	o.Description = description.String
	o.InstanceKey = instanceKey.String
	o.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	o.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &o, nil
}

// =============================================================================
// TRANSACTIONAL STORE (engine.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store engine.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &engine.StorageError{Op: "begin tx", Err: err}
	}
	defer sqlTx.Rollback()

	txStore := &txStore{tx: sqlTx, parent: s}
	if err := fn(txStore); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return &engine.StorageError{Op: "commit tx", Err: err}
	}
	return nil
}

type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) GetTemplate(ctx context.Context, id engine.RecurrenceID) (*engine.RecurrenceTemplate, error) {
	return getTemplate(ctx, ts.tx, id)
}

func (ts *txStore) SaveTemplate(ctx context.Context, tmpl *engine.RecurrenceTemplate) error {
	return saveTemplate(ctx, ts.tx, tmpl)
}

func (ts *txStore) ListTemplates(ctx context.Context, companyID engine.CompanyID) ([]engine.RecurrenceTemplate, error) {
	return listTemplates(ctx, ts.tx, companyID)
}

func (ts *txStore) Companies(ctx context.Context) ([]engine.CompanyID, error) {
	return companies(ctx, ts.tx)
}

func (ts *txStore) ActiveVersion(ctx context.Context, id engine.RecurrenceID) (*engine.RecurrenceVersion, error) {
	return activeVersion(ctx, ts.tx, id)
}

func (ts *txStore) Versions(ctx context.Context, id engine.RecurrenceID) ([]engine.RecurrenceVersion, error) {
	return listVersions(ctx, ts.tx, id)
}

func (ts *txStore) SaveVersion(ctx context.Context, v *engine.RecurrenceVersion) error {
	return saveVersion(ctx, ts.tx, v)
}

func (ts *txStore) GetOccurrence(ctx context.Context, id engine.OccurrenceID) (*engine.Occurrence, error) {
	row := ts.tx.QueryRowContext(ctx, `
		SELECT `+occurrenceColumns+`
		FROM occurrences WHERE id = ?
	`, id)

	occ, err := scanOccurrence(row)
	if err == sql.ErrNoRows {
		return nil, engine.ErrOccurrenceNotFound
	}
	if err != nil {
		return nil, &engine.StorageError{Op: "get occurrence", Err: err}
	}
	return occ, nil
}

func (ts *txStore) OccurrencesByRecurrence(ctx context.Context, companyID engine.CompanyID, id engine.RecurrenceID) ([]engine.Occurrence, error) {
	return queryOccurrencesOn(ctx, ts.tx, `
		SELECT `+occurrenceColumns+`
		FROM occurrences
		WHERE company_id = ? AND recurrence_id = ?
		ORDER BY due_date ASC, id ASC
	`, companyID, id)
}

func (ts *txStore) OccurrencesMatching(ctx context.Context, key engine.SimilarityKey) ([]engine.Occurrence, error) {
	occs, err := queryOccurrencesOn(ctx, ts.tx, `
		SELECT `+occurrenceColumns+`
		FROM occurrences
		WHERE company_id = ? AND entry_type = ?
		  AND IFNULL(counterparty_id, '') = ? AND IFNULL(counterparty_name, '') = ?
		ORDER BY due_date ASC, id ASC
	`, key.CompanyID, key.Type, key.Counterparty.ID, key.Counterparty.Name)
	if err != nil {
		return nil, err
	}
	var matched []engine.Occurrence
	for _, o := range occs {
		if o.Amount.Equal(key.Amount) {
			matched = append(matched, o)
		}
	}
	return matched, nil
}

func (ts *txStore) OccurrencesByCompany(ctx context.Context, companyID engine.CompanyID) ([]engine.Occurrence, error) {
	return queryOccurrencesOn(ctx, ts.tx, `
		SELECT `+occurrenceColumns+`
		FROM occurrences
		WHERE company_id = ?
		ORDER BY due_date ASC, id ASC
	`, companyID)
}

func (ts *txStore) CreateOccurrences(ctx context.Context, occs []engine.Occurrence) error {
	return createOccurrences(ctx, ts.tx, occs)
}

func (ts *txStore) UpdateOccurrences(ctx context.Context, occs []engine.Occurrence) error {
	return updateOccurrences(ctx, ts.tx, occs)
}

func (ts *txStore) DeleteOccurrences(ctx context.Context, ids []engine.OccurrenceID) error {
	return deleteOccurrences(ctx, ts.tx, ids)
}

func queryOccurrencesOn(ctx context.Context, db execer, query string, args ...any) ([]engine.Occurrence, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &engine.StorageError{Op: "query occurrences", Err: err}
	}
	defer rows.Close()

	var occurrences []engine.Occurrence
	for rows.Next() {
		occ, err := scanOccurrence(rows)
		if err != nil {
			return nil, &engine.StorageError{Op: "scan occurrence", Err: err}
		}
		occurrences = append(occurrences, *occ)
	}
	return occurrences, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullDate(d *engine.Date) any {
	if d == nil {
		return nil
	}
	return d.Key()
}

func nullWeekday(wd *time.Weekday) any {
	if wd == nil {
		return nil
	}
	return int(*wd)
}

func parseDate(s string) engine.Date {
	d, _ := engine.ParseDate(s)
	return d
}

func parseNullDate(s sql.NullString) *engine.Date {
	if !s.Valid || s.String == "" {
		return nil
	}
	d := parseDate(s.String)
	return &d
}

func parseAmount(value, currency string) engine.Amount {
	d, err := decimal.NewFromString(value)
	if err != nil {
		d = decimal.Zero
	}
	return engine.Amount{Value: d, Currency: engine.Currency(currency)}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
