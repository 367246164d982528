/*
materialize.go - Turning recurrence templates into ledger entries

PURPOSE:
  The materialization engine walks a template's occurrence window and
  creates a PENDING occurrence for every date that does not already have
  one. It is the only component that creates engine-generated entries.

IDEMPOTENCY:
  The window is always generated from the template's ORIGINAL start date,
  not from the last-generated bookmark. That re-scans history on every
  call, but it means a partial prior failure can never permanently lose an
  occurrence: whatever exists is skipped via fingerprints, whatever is
  missing is created. Calling Materialize twice with the same arguments
  creates nothing the second time.

FINGERPRINTS:
  Two independent dedup strategies, both scoped to the owning company:
  1. Instance fingerprint: occurrences already linked to this recurrence,
     keyed by calendar day. The primary, strict check.
  2. Similarity fingerprint: occurrences sharing counterparty, entry type,
     and base amount. A heuristic fallback that catches duplicates created
     before a recurrence link existed. See SimilarityKey in store.go.

ROLLING HORIZON:
  The horizon is anchored to the CURRENT call's as-of date, never to the
  bookmark, so each invocation extends coverage forward. Calling daily
  keeps a steady 6 months of future entries materialized.

ATOMICITY:
  Created occurrences and the bookmark update commit as one storage
  transaction. On failure nothing is written and the operation is safely
  retryable.

SEE ALSO:
  - window.go: The date sequence being materialized
  - regenerate.go: Invokes this engine after cleanup
*/
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// MATERIALIZER
// =============================================================================

// Materializer creates occurrences for a recurrence template over a
// rolling horizon.
type Materializer struct {
	Store  Store
	Logger *slog.Logger
}

func NewMaterializer(store Store, logger *slog.Logger) *Materializer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Materializer{Store: store, Logger: logger}
}

// MaterializeInput controls one generation pass.
type MaterializeInput struct {
	// AsOf anchors the horizon. Zero value means today.
	AsOf Date

	// HorizonMonths overrides the template's horizon when > 0.
	HorizonMonths int

	// SkipExisting enables the dedup fingerprints. Disabling it is only
	// safe on a recurrence known to have no occurrences (fresh template,
	// or right after a full cleanup).
	SkipExisting bool
}

// MaterializeResult reports what one generation pass did. Counts are
// always populated, even on a no-op, so callers can tell "nothing to do"
// from "failed silently".
type MaterializeResult struct {
	Created            []Occurrence
	SkippedCount       int
	LastGeneratedDate  Date
	NextOccurrenceDate Date
}

// CreatedDates returns the due dates of the created occurrences.
func (r *MaterializeResult) CreatedDates() []Date {
	dates := make([]Date, len(r.Created))
	for i, o := range r.Created {
		dates[i] = o.DueDate
	}
	return dates
}

// Materialize generates missing occurrences for tmpl up to the horizon.
//
// Steps:
//  1. Validate the schedule; a malformed frequency/anchor aborts before
//     any reads or writes.
//  2. Compute horizon = asOf + horizonMonths.
//  3. Generate the full window from the template's original start date.
//  4. Build the instance and similarity fingerprint sets; skip any window
//     date present in either.
//  5. Create PENDING occurrences for the remaining dates and advance the
//     template bookmarks, all in one atomic batch.
func (m *Materializer) Materialize(ctx context.Context, tmpl *RecurrenceTemplate, in MaterializeInput) (*MaterializeResult, error) {
	if err := ValidateSchedule(tmpl.Frequency, tmpl.Anchor()); err != nil {
		return nil, err
	}

	asOf := in.AsOf
	if asOf.IsZero() {
		asOf = Today()
	}
	months := in.HorizonMonths
	if months <= 0 {
		months = tmpl.Horizon()
	}
	horizon := asOf.AddMonths(months)

	window, err := Window(tmpl.StartDate, tmpl.EndDate, tmpl.Frequency, tmpl.Anchor(), horizon)
	if err != nil {
		return nil, err
	}

	result := &MaterializeResult{}
	if len(window) == 0 {
		return result, nil
	}

	existing := map[string]bool{}
	if in.SkipExisting {
		existing, err = m.fingerprints(ctx, tmpl)
		if err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	for _, day := range window {
		if existing[day.Key()] {
			result.SkippedCount++
			continue
		}
		result.Created = append(result.Created, Occurrence{
			ID:           OccurrenceID(uuid.NewString()),
			CompanyID:    tmpl.CompanyID,
			RecurrenceID: tmpl.ID,
			VersionID:    tmpl.ActiveVersionID,
			DueDate:      day,
			Amount:       tmpl.BaseAmount,
			Type:         tmpl.Type,
			Category:     tmpl.Category,
			Counterparty: tmpl.Counterparty,
			Certainty:    tmpl.Certainty,
			Description:  tmpl.Description,
			Status:       OccurrencePending,
			Generated:    true,
			InstanceKey:  InstanceKeyFor(tmpl.ID, day),
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}

	if len(result.Created) == 0 {
		// Nothing new; bookmarks stay where they are.
		if tmpl.LastGeneratedDate != nil {
			result.LastGeneratedDate = *tmpl.LastGeneratedDate
		}
		if tmpl.NextOccurrenceDate != nil {
			result.NextOccurrenceDate = *tmpl.NextOccurrenceDate
		}
		return result, nil
	}

	last := result.Created[len(result.Created)-1].DueDate
	next, err := NextOccurrence(last, tmpl.Frequency, tmpl.Anchor())
	if err != nil {
		return nil, err
	}
	result.LastGeneratedDate = last
	result.NextOccurrenceDate = next

	// Occurrence batch and bookmark update commit together: the bookmark
	// must never advance past undelivered occurrences.
	err = inTx(ctx, m.Store, func(s Store) error {
		if err := s.CreateOccurrences(ctx, result.Created); err != nil {
			return err
		}
		tmpl.LastGeneratedDate = &last
		tmpl.NextOccurrenceDate = &next
		tmpl.UpdatedAt = now
		return s.SaveTemplate(ctx, tmpl)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// fingerprints builds the set of day keys already covered by existing
// occurrences, from both dedup strategies.
func (m *Materializer) fingerprints(ctx context.Context, tmpl *RecurrenceTemplate) (map[string]bool, error) {
	days := make(map[string]bool)

	linked, err := m.Store.OccurrencesByRecurrence(ctx, tmpl.CompanyID, tmpl.ID)
	if err != nil {
		return nil, err
	}
	for _, o := range linked {
		days[o.DueDate.Key()] = true
	}

	// A bookmark claiming prior generation with zero linked occurrences
	// means the recurrence link is broken (occurrences deleted out of
	// band, or relinked elsewhere). Proceed and regenerate rather than
	// block, but leave a trace for operator review.
	if tmpl.LastGeneratedDate != nil && len(linked) == 0 {
		m.Logger.Warn("recurrence has a generation bookmark but no linked occurrences",
			"recurrence_id", tmpl.ID,
			"company_id", tmpl.CompanyID,
			"last_generated", tmpl.LastGeneratedDate.Key())
	}

	similar, err := m.Store.OccurrencesMatching(ctx, SimilarityKey{
		CompanyID:    tmpl.CompanyID,
		Type:         tmpl.Type,
		Counterparty: tmpl.Counterparty,
		Amount:       tmpl.BaseAmount,
	})
	if err != nil {
		return nil, err
	}
	for _, o := range similar {
		days[o.DueDate.Key()] = true
	}

	return days, nil
}
