/*
version.go - Amount versioning and the forward cascade

PURPOSE:
  Records amount changes over time for a recurrence as an append-only
  version chain, and cascades a new amount into the future, unsettled,
  non-overridden occurrences that should reflect it.

VERSION CHAIN INVARIANTS:
  - At most one version per recurrence is active (EffectiveTo == nil)
  - Version numbers are strictly increasing
  - EffectiveFrom of version n+1 exceeds EffectiveFrom of version n
  - Closing the old version and opening the new one commit atomically

CASCADE POLICY:
  An occurrence is re-priced only when ALL of:
  (a) status is PENDING, (b) not user-overridden, (c) due on/after the
  new version's effective date. Settled, cancelled, and overridden
  occurrences keep their historical amount regardless of date: versioning
  only affects unresolved future commitments.

SEE ALSO:
  - types.go: RecurrenceVersion
  - regenerate.go: Routes amount edits through here before refilling
*/
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// VERSION MANAGER
// =============================================================================

// VersionManager maintains the amount history of recurrence templates.
type VersionManager struct {
	Store Store
}

func NewVersionManager(store Store) *VersionManager {
	return &VersionManager{Store: store}
}

// ApplyVersionInput describes one amount change.
type ApplyVersionInput struct {
	Amount        Amount
	EffectiveFrom Date
	Reason        string
	Author        string

	// Cascade re-prices future pending, non-overridden occurrences.
	// Disabled when the caller will delete and regenerate them anyway.
	Cascade bool
}

// ApplyVersionResult reports the new version and how many occurrences
// were re-priced.
type ApplyVersionResult struct {
	Version            *RecurrenceVersion
	UpdatedOccurrences int
}

// Apply closes the active version, opens a new one, updates the
// template's base amount, and optionally cascades. The whole change is
// one storage transaction.
func (vm *VersionManager) Apply(ctx context.Context, id RecurrenceID, in ApplyVersionInput) (*ApplyVersionResult, error) {
	tmpl, err := vm.Store.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.EffectiveFrom.IsZero() {
		in.EffectiveFrom = Today()
	}

	active, err := vm.Store.ActiveVersion(ctx, id)
	if err != nil {
		return nil, err
	}
	if active != nil && !in.EffectiveFrom.After(active.EffectiveFrom) {
		return nil, fmt.Errorf("%w: active version effective from %s, new version from %s",
			ErrVersionOrder, active.EffectiveFrom, in.EffectiveFrom)
	}

	number := 1
	if active != nil {
		number = active.Number + 1
	} else if versions, err := vm.Store.Versions(ctx, id); err != nil {
		return nil, err
	} else if n := len(versions); n > 0 {
		// No active version but a closed history exists (recurrence was
		// ended and reactivated). Keep numbers strictly increasing.
		number = versions[n-1].Number + 1
	}

	now := time.Now().UTC()
	version := &RecurrenceVersion{
		ID:            VersionID(uuid.NewString()),
		RecurrenceID:  id,
		Amount:        in.Amount,
		EffectiveFrom: in.EffectiveFrom,
		Number:        number,
		Active:        true,
		Reason:        in.Reason,
		Author:        in.Author,
		CreatedAt:     now,
	}

	result := &ApplyVersionResult{Version: version}

	var cascade []Occurrence
	if in.Cascade {
		linked, err := vm.Store.OccurrencesByRecurrence(ctx, tmpl.CompanyID, id)
		if err != nil {
			return nil, err
		}
		for _, o := range linked {
			if !o.Mutable() || o.DueDate.Before(in.EffectiveFrom) {
				continue
			}
			o.Amount = in.Amount
			o.VersionID = version.ID
			o.UpdatedAt = now
			cascade = append(cascade, o)
		}
	}

	err = inTx(ctx, vm.Store, func(s Store) error {
		if active != nil {
			closed := *active
			dayBefore := in.EffectiveFrom.AddDays(-1)
			closed.EffectiveTo = &dayBefore
			closed.Active = false
			if err := s.SaveVersion(ctx, &closed); err != nil {
				return err
			}
		}
		if err := s.SaveVersion(ctx, version); err != nil {
			return err
		}

		tmpl.BaseAmount = in.Amount
		tmpl.ActiveVersionID = version.ID
		tmpl.UpdatedAt = now
		if err := s.SaveTemplate(ctx, tmpl); err != nil {
			return err
		}

		if len(cascade) > 0 {
			if err := s.UpdateOccurrences(ctx, cascade); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.UpdatedOccurrences = len(cascade)
	return result, nil
}
