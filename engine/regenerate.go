/*
regenerate.go - Cleanup and horizon refill after a recurrence edit

PURPOSE:
  When an edit invalidates previously generated dates (frequency, anchor,
  start date, base amount, or horizon changed) or a template leaves the
  ACTIVE state, the previously materialized future is wrong. The
  regeneration controller deletes the future PENDING, non-overridden
  occurrences and, while the template stays ACTIVE, immediately re-invokes
  the materialization engine so the horizon is refilled under the new
  configuration.

WHAT IS NEVER TOUCHED:
  Settled occurrences (history) and user-overridden occurrences (manual
  divergence) survive every regeneration and every status transition,
  unconditionally.

AMOUNT EDITS:
  A base-amount edit routes through the version manager first, with the
  cascade disabled: the stale future entries are about to be deleted and
  regenerated, and the regenerated entries pick up the new version's
  pricing provenance on creation.

SIMILARITY CASCADE:
  CascadeBySimilarity is the best-effort fallback for occurrences that
  were never linked to a recurrence identity: given a source occurrence,
  it re-prices other pending, non-overridden entries that share company,
  entry type, counterparty, description, and a non-none recurrence label.
  Heuristic by design; only exists for data predating strict linkage.

SEE ALSO:
  - materialize.go: The refill step
  - version.go: The amount-edit step
*/
package engine

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// =============================================================================
// TEMPLATE EDIT - Partial update applied before regeneration
// =============================================================================

// TemplateEdit carries the changed fields of a recurrence edit. Nil
// pointers mean "unchanged".
type TemplateEdit struct {
	Frequency      *Frequency
	DayOfMonth     *int
	DayOfWeek      *time.Weekday
	ClearDayOfWeek bool
	StartDate      *Date
	EndDate        *Date
	ClearEndDate   bool
	BaseAmount     *Amount
	HorizonMonths  *int
	Status         *RecurrenceStatus

	// Cutoff bounds the cleanup: only occurrences due on/after it are
	// deleted. Zero value means today.
	Cutoff Date

	// Attribution for the version created by an amount edit.
	Reason string
	Author string
}

// =============================================================================
// REGENERATOR
// =============================================================================

// Regenerator orchestrates cleanup and refill around template edits.
type Regenerator struct {
	Store        Store
	Materializer *Materializer
	Versions     *VersionManager
	Logger       *slog.Logger
}

func NewRegenerator(store Store, logger *slog.Logger) *Regenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Regenerator{
		Store:        store,
		Materializer: NewMaterializer(store, logger),
		Versions:     NewVersionManager(store),
		Logger:       logger,
	}
}

// RegenerateResult reports what a regeneration did, for caller visibility
// and audit.
type RegenerateResult struct {
	DeletedCount   int
	GeneratedCount int
	SkippedCount   int
}

// Regenerate applies an edit to a template, deletes the now-stale future
// pending occurrences, and refills the horizon while the template remains
// ACTIVE.
func (r *Regenerator) Regenerate(ctx context.Context, id RecurrenceID, edit TemplateEdit) (*RegenerateResult, error) {
	tmpl, err := r.Store.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}

	amountChanged := applyEdit(tmpl, edit)
	if err := ValidateSchedule(tmpl.Frequency, tmpl.Anchor()); err != nil {
		return nil, err
	}
	tmpl.UpdatedAt = time.Now().UTC()
	if err := r.Store.SaveTemplate(ctx, tmpl); err != nil {
		return nil, err
	}

	if amountChanged {
		effective := cutoffOrToday(edit.Cutoff)
		active, err := r.Store.ActiveVersion(ctx, id)
		if err != nil {
			return nil, err
		}
		if active != nil && !effective.After(active.EffectiveFrom) {
			// An amount edit on (or before) the active version's effective
			// date still needs its own version; open it one day later to
			// keep the chain advancing.
			effective = active.EffectiveFrom.AddDays(1)
		}
		// Cascade disabled: the stale entries are deleted below and the
		// refill prices the new ones from the fresh version.
		if _, err := r.Versions.Apply(ctx, id, ApplyVersionInput{
			Amount:        tmpl.BaseAmount,
			EffectiveFrom: effective,
			Reason:        edit.Reason,
			Author:        edit.Author,
			Cascade:       false,
		}); err != nil {
			return nil, err
		}
		// Reload to pick up the new active version id for the refill.
		if tmpl, err = r.Store.GetTemplate(ctx, id); err != nil {
			return nil, err
		}
	}

	result := &RegenerateResult{}
	cutoff := cutoffOrToday(edit.Cutoff)

	linked, err := r.Store.OccurrencesByRecurrence(ctx, tmpl.CompanyID, id)
	if err != nil {
		return nil, err
	}
	var stale []OccurrenceID
	for _, o := range linked {
		if o.Mutable() && o.DueDate.AfterOrEqual(cutoff) {
			stale = append(stale, o.ID)
		}
	}
	if len(stale) > 0 {
		if err := r.Store.DeleteOccurrences(ctx, stale); err != nil {
			return nil, err
		}
		result.DeletedCount = len(stale)
		// The bookmark now points past entries that no longer exist;
		// reset it so the next pass recomputes from what survives.
		tmpl.LastGeneratedDate = nil
		tmpl.NextOccurrenceDate = nil
		if err := r.Store.SaveTemplate(ctx, tmpl); err != nil {
			return nil, err
		}
	}

	if tmpl.Status != RecurrenceActive {
		r.Logger.Info("recurrence left active state, horizon not refilled",
			"recurrence_id", id, "status", tmpl.Status, "deleted", result.DeletedCount)
		return result, nil
	}

	gen, err := r.Materializer.Materialize(ctx, tmpl, MaterializeInput{
		AsOf:         cutoff,
		SkipExisting: true,
	})
	if err != nil {
		return nil, err
	}
	result.GeneratedCount = len(gen.Created)
	result.SkippedCount = gen.SkippedCount
	return result, nil
}

// applyEdit mutates tmpl in place and reports whether the base amount
// changed.
func applyEdit(tmpl *RecurrenceTemplate, edit TemplateEdit) bool {
	if edit.Frequency != nil {
		tmpl.Frequency = *edit.Frequency
	}
	if edit.DayOfMonth != nil {
		tmpl.DayOfMonth = *edit.DayOfMonth
	}
	if edit.DayOfWeek != nil {
		tmpl.DayOfWeek = edit.DayOfWeek
	}
	if edit.ClearDayOfWeek {
		tmpl.DayOfWeek = nil
	}
	if edit.StartDate != nil {
		tmpl.StartDate = *edit.StartDate
	}
	if edit.EndDate != nil {
		tmpl.EndDate = edit.EndDate
	}
	if edit.ClearEndDate {
		tmpl.EndDate = nil
	}
	if edit.HorizonMonths != nil {
		tmpl.HorizonMonths = *edit.HorizonMonths
	}
	if edit.Status != nil {
		tmpl.Status = *edit.Status
	}

	amountChanged := false
	if edit.BaseAmount != nil && !edit.BaseAmount.Equal(tmpl.BaseAmount) {
		tmpl.BaseAmount = *edit.BaseAmount
		amountChanged = true
	}
	return amountChanged
}

func cutoffOrToday(cutoff Date) Date {
	if cutoff.IsZero() {
		return Today()
	}
	return cutoff
}

// =============================================================================
// SIMILARITY CASCADE - Amount propagation for unlinked legacy entries
// =============================================================================

// CascadeBySimilarity applies a new amount to the source occurrence and to
// every other pending, non-overridden occurrence that plausibly belongs to
// the same informal recurrence: same company, entry type, counterparty (by
// id, or case-insensitive name), description, and a non-none recurrence
// label, due on/after effectiveFrom. Returns how many occurrences were
// updated, source included.
func (r *Regenerator) CascadeBySimilarity(ctx context.Context, sourceID OccurrenceID, amount Amount, effectiveFrom Date) (int, error) {
	source, err := r.Store.GetOccurrence(ctx, sourceID)
	if err != nil {
		return 0, err
	}
	if !source.Mutable() {
		return 0, ErrImmutableOccurrence
	}
	if effectiveFrom.IsZero() {
		effectiveFrom = Today()
	}

	all, err := r.Store.OccurrencesByCompany(ctx, source.CompanyID)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	source.Amount = amount
	source.UpdatedAt = now
	updates := []Occurrence{*source}

	for _, o := range all {
		if o.ID == source.ID || !o.Mutable() {
			continue
		}
		if o.DueDate.Before(effectiveFrom) {
			continue
		}
		if o.Type != source.Type || o.Description != source.Description {
			continue
		}
		if o.RecurrenceLabel == FreqNone || o.RecurrenceLabel == "" {
			continue
		}
		if !sameCounterparty(o.Counterparty, source.Counterparty) {
			continue
		}
		o.Amount = amount
		o.UpdatedAt = now
		updates = append(updates, o)
	}

	if err := r.Store.UpdateOccurrences(ctx, updates); err != nil {
		return 0, err
	}
	r.Logger.Info("similarity cascade applied",
		"source_id", sourceID, "updated", len(updates), "effective_from", effectiveFrom.Key())
	return len(updates), nil
}

func sameCounterparty(a, b Counterparty) bool {
	if a.ID != "" && b.ID != "" {
		return a.ID == b.ID
	}
	return a.Name != "" && strings.EqualFold(a.Name, b.Name)
}
