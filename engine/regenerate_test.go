package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/recurrence-engine/engine"
	"github.com/warp/recurrence-engine/engine/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// regenFixture is a materialized template: monthly on the 15th, start
// Jan 15, 4-month horizon, occurrences Jan-Apr, Jan and Feb settled.
func regenFixture(t *testing.T) (*engine.Regenerator, *store.TxMemory, engine.RecurrenceID) {
	t.Helper()
	mem := store.NewTxMemory()
	ctx := context.Background()

	tmpl := &engine.RecurrenceTemplate{
		ID:            "rec-sub",
		CompanyID:     "co-1",
		Type:          engine.EntryExpense,
		BaseAmount:    engine.NewAmountFromInt(1000, engine.CurrencyUSD),
		Counterparty:  engine.Counterparty{Name: "CloudHost"},
		Certainty:     engine.CertaintyGuaranteed,
		Description:   "Hosting subscription",
		Frequency:     engine.FreqMonthly,
		DayOfMonth:    15,
		StartDate:     engine.NewDate(2025, time.January, 15),
		HorizonMonths: 4,
		Status:        engine.RecurrenceActive,
	}
	saveTemplate(t, mem, tmpl)

	vm := engine.NewVersionManager(mem)
	_, err := vm.Apply(ctx, tmpl.ID, engine.ApplyVersionInput{
		Amount:        tmpl.BaseAmount,
		EffectiveFrom: tmpl.StartDate,
	})
	require.NoError(t, err)
	tmpl, err = mem.GetTemplate(ctx, tmpl.ID)
	require.NoError(t, err)

	m := engine.NewMaterializer(mem, nil)
	result, err := m.Materialize(ctx, tmpl, engine.MaterializeInput{
		AsOf:         engine.NewDate(2025, time.January, 1),
		SkipExisting: true,
	})
	require.NoError(t, err)
	require.Len(t, result.Created, 4)

	setOccurrence(t, mem, tmpl.ID, "2025-01-15", func(o *engine.Occurrence) {
		o.Status = engine.OccurrenceSettled
	})
	setOccurrence(t, mem, tmpl.ID, "2025-02-15", func(o *engine.Occurrence) {
		o.Status = engine.OccurrenceSettled
	})

	return engine.NewRegenerator(mem, nil), mem, tmpl.ID
}

func intPtr(n int) *int { return &n }

// =============================================================================
// CLEANUP + REFILL
// =============================================================================

func TestRegenerate_AnchorChange_ReplacesFuturePending(t *testing.T) {
	// GIVEN: Occurrences on the 15th, Jan/Feb settled, Mar/Apr pending
	// WHEN: Moving the anchor to the 1st with a Mar 1 cutoff
	// THEN: The pending 15ths are deleted, the horizon refills on the 1st,
	//       and settled history is untouched

	r, mem, id := regenFixture(t)
	ctx := context.Background()

	result, err := r.Regenerate(ctx, id, engine.TemplateEdit{
		DayOfMonth: intPtr(1),
		Cutoff:     engine.NewDate(2025, time.March, 1),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.DeletedCount)
	assert.Equal(t, 6, result.GeneratedCount)

	occs, err := mem.OccurrencesByRecurrence(ctx, "co-1", id)
	require.NoError(t, err)

	var settled, onFirst, onFifteenthPending int
	for _, o := range occs {
		switch {
		case o.Status == engine.OccurrenceSettled:
			settled++
		case o.DueDate.Day() == 1:
			onFirst++
		case o.DueDate.Day() == 15:
			onFifteenthPending++
		}
	}
	assert.Equal(t, 2, settled, "settled history survives")
	assert.Equal(t, 6, onFirst, "horizon refilled on the new anchor")
	assert.Equal(t, 0, onFifteenthPending, "no stale pending 15ths remain")
}

func TestRegenerate_OverriddenOccurrence_Survives(t *testing.T) {
	// GIVEN: Mar 15 is user-overridden
	// WHEN: Regenerating with a new anchor
	// THEN: The override survives; only Apr 15 is deleted

	r, mem, id := regenFixture(t)
	ctx := context.Background()

	setOccurrence(t, mem, id, "2025-03-15", func(o *engine.Occurrence) {
		o.Overridden = true
	})

	result, err := r.Regenerate(ctx, id, engine.TemplateEdit{
		DayOfMonth: intPtr(1),
		Cutoff:     engine.NewDate(2025, time.March, 1),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.DeletedCount)

	o := occurrenceByDue(t, mem, id, "2025-03-15")
	assert.True(t, o.Overridden)
}

func TestRegenerate_Paused_CleansUpWithoutRefill(t *testing.T) {
	// GIVEN: A template leaving the active state
	// WHEN: Regenerating with status paused
	// THEN: Future pending entries are removed and nothing is refilled

	r, mem, id := regenFixture(t)
	ctx := context.Background()

	paused := engine.RecurrencePaused
	result, err := r.Regenerate(ctx, id, engine.TemplateEdit{
		Status: &paused,
		Cutoff: engine.NewDate(2025, time.March, 1),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.DeletedCount)
	assert.Equal(t, 0, result.GeneratedCount)

	tmpl, err := mem.GetTemplate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, engine.RecurrencePaused, tmpl.Status)

	occs, err := mem.OccurrencesByRecurrence(ctx, "co-1", id)
	require.NoError(t, err)
	assert.Len(t, occs, 2, "only settled history remains")
}

func TestRegenerate_AmountEdit_VersionsAndRepricesRefill(t *testing.T) {
	// GIVEN: A 1000/month subscription, v1 active
	// WHEN: Editing the amount to 2000 with a Mar 1 cutoff
	// THEN: A new version opens, stale pending entries are deleted, and the
	//       refilled entries carry the new amount and version

	r, mem, id := regenFixture(t)
	ctx := context.Background()

	newAmount := engine.NewAmountFromInt(2000, engine.CurrencyUSD)
	result, err := r.Regenerate(ctx, id, engine.TemplateEdit{
		BaseAmount: &newAmount,
		Cutoff:     engine.NewDate(2025, time.March, 1),
		Reason:     "plan upgrade",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.DeletedCount)
	assert.Equal(t, 4, result.GeneratedCount)
	assert.Equal(t, 2, result.SkippedCount)

	versions, err := mem.Versions(ctx, id)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	active := versions[1]
	assert.True(t, active.Active)
	assert.True(t, active.Amount.Equal(newAmount))

	for _, due := range []string{"2025-03-15", "2025-04-15", "2025-05-15", "2025-06-15"} {
		o := occurrenceByDue(t, mem, id, due)
		assert.True(t, o.Amount.Equal(newAmount), "refilled %s carries the new amount", due)
		assert.Equal(t, active.ID, o.VersionID)
	}

	jan := occurrenceByDue(t, mem, id, "2025-01-15")
	assert.True(t, jan.Amount.Equal(engine.NewAmountFromInt(1000, engine.CurrencyUSD)))
}

func TestRegenerate_AmountEdit_OnActiveVersionDate(t *testing.T) {
	// GIVEN: v1 effective Jan 15
	// WHEN: Editing the amount with a cutoff on that same date
	// THEN: The edit applies; the new version opens one day later instead
	//       of failing the ordering check

	r, mem, id := regenFixture(t)
	ctx := context.Background()

	newAmount := engine.NewAmountFromInt(1500, engine.CurrencyUSD)
	_, err := r.Regenerate(ctx, id, engine.TemplateEdit{
		BaseAmount: &newAmount,
		Cutoff:     engine.NewDate(2025, time.January, 15),
		Reason:     "correction on creation day",
	})
	require.NoError(t, err)

	versions, err := mem.Versions(ctx, id)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	active := versions[1]
	assert.True(t, active.Active)
	assert.True(t, active.Amount.Equal(newAmount))
	assert.Equal(t, "2025-01-16", active.EffectiveFrom.Key())

	mar := occurrenceByDue(t, mem, id, "2025-03-15")
	assert.True(t, mar.Amount.Equal(newAmount), "refill prices from the new version")
}

func TestRegenerate_InvalidEdit_Rejected(t *testing.T) {
	r, _, id := regenFixture(t)

	badFreq := engine.FreqNone
	_, err := r.Regenerate(context.Background(), id, engine.TemplateEdit{
		Frequency: &badFreq,
	})
	assert.ErrorIs(t, err, engine.ErrConfiguration)
}

func TestRegenerate_UnknownRecurrence(t *testing.T) {
	r := engine.NewRegenerator(store.NewTxMemory(), nil)
	_, err := r.Regenerate(context.Background(), "rec-missing", engine.TemplateEdit{})
	assert.ErrorIs(t, err, engine.ErrRecurrenceNotFound)
}

// =============================================================================
// SIMILARITY CASCADE
// =============================================================================

func cascadeEntry(id, due, desc string, label engine.Frequency, status engine.OccurrenceStatus) engine.Occurrence {
	d, _ := engine.ParseDate(due)
	return engine.Occurrence{
		ID:              engine.OccurrenceID(id),
		CompanyID:       "co-1",
		DueDate:         d,
		Amount:          engine.NewAmountFromInt(100, engine.CurrencyUSD),
		Type:            engine.EntryExpense,
		Counterparty:    engine.Counterparty{Name: "Acme"},
		Description:     desc,
		Status:          status,
		RecurrenceLabel: label,
	}
}

func TestCascadeBySimilarity_RepricesMatchingPendingEntries(t *testing.T) {
	// GIVEN: Legacy entries with no recurrence link, tagged with a label.
	//        One sibling matches, one is settled, one differs in
	//        description, one is due before the effective date, one is
	//        unlabeled.
	// WHEN: Cascading 900 from the Apr 10 source, effective Apr 1
	// THEN: Only the source and the matching sibling are re-priced

	mem := store.NewTxMemory()
	ctx := context.Background()
	r := engine.NewRegenerator(mem, nil)

	entries := []engine.Occurrence{
		cascadeEntry("occ-src", "2025-04-10", "Office rent", engine.FreqMonthly, engine.OccurrencePending),
		cascadeEntry("occ-sibling", "2025-05-10", "Office rent", engine.FreqMonthly, engine.OccurrencePending),
		cascadeEntry("occ-settled", "2025-06-10", "Office rent", engine.FreqMonthly, engine.OccurrenceSettled),
		cascadeEntry("occ-other-desc", "2025-05-10", "Parking", engine.FreqMonthly, engine.OccurrencePending),
		cascadeEntry("occ-too-early", "2025-03-10", "Office rent", engine.FreqMonthly, engine.OccurrencePending),
		cascadeEntry("occ-unlabeled", "2025-05-10", "Office rent", engine.FreqNone, engine.OccurrencePending),
	}
	require.NoError(t, mem.CreateOccurrences(ctx, entries))

	amount := engine.NewAmountFromInt(900, engine.CurrencyUSD)
	updated, err := r.CascadeBySimilarity(ctx, "occ-src", amount, engine.NewDate(2025, time.April, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, updated)

	src, err := mem.GetOccurrence(ctx, "occ-src")
	require.NoError(t, err)
	assert.True(t, src.Amount.Equal(amount))

	sibling, err := mem.GetOccurrence(ctx, "occ-sibling")
	require.NoError(t, err)
	assert.True(t, sibling.Amount.Equal(amount))

	for _, id := range []engine.OccurrenceID{"occ-settled", "occ-other-desc", "occ-too-early", "occ-unlabeled"} {
		o, err := mem.GetOccurrence(ctx, id)
		require.NoError(t, err)
		assert.True(t, o.Amount.Equal(engine.NewAmountFromInt(100, engine.CurrencyUSD)),
			"entry %s must keep its amount", id)
	}
}

func TestCascadeBySimilarity_MatchesCounterpartyByIDOverName(t *testing.T) {
	// GIVEN: Source and sibling share a counterparty id but spell the name
	//        differently; a third entry shares only the name of another id
	// THEN: Id equality wins when both sides carry ids

	mem := store.NewTxMemory()
	ctx := context.Background()
	r := engine.NewRegenerator(mem, nil)

	src := cascadeEntry("occ-src", "2025-04-10", "Cleaning", engine.FreqMonthly, engine.OccurrencePending)
	src.Counterparty = engine.Counterparty{ID: "cp-1", Name: "ACME Cleaning"}
	sibling := cascadeEntry("occ-sibling", "2025-05-10", "Cleaning", engine.FreqMonthly, engine.OccurrencePending)
	sibling.Counterparty = engine.Counterparty{ID: "cp-1", Name: "Acme Cleaning LLC"}
	stranger := cascadeEntry("occ-stranger", "2025-05-10", "Cleaning", engine.FreqMonthly, engine.OccurrencePending)
	stranger.Counterparty = engine.Counterparty{ID: "cp-2", Name: "ACME Cleaning"}

	require.NoError(t, mem.CreateOccurrences(ctx, []engine.Occurrence{src, sibling, stranger}))

	updated, err := r.CascadeBySimilarity(ctx, "occ-src",
		engine.NewAmountFromInt(900, engine.CurrencyUSD), engine.NewDate(2025, time.April, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, updated)
}

func TestCascadeBySimilarity_ImmutableSource_Rejected(t *testing.T) {
	mem := store.NewTxMemory()
	ctx := context.Background()
	r := engine.NewRegenerator(mem, nil)

	src := cascadeEntry("occ-src", "2025-04-10", "Office rent", engine.FreqMonthly, engine.OccurrenceSettled)
	require.NoError(t, mem.CreateOccurrences(ctx, []engine.Occurrence{src}))

	_, err := r.CascadeBySimilarity(ctx, "occ-src",
		engine.NewAmountFromInt(900, engine.CurrencyUSD), engine.Date{})
	assert.ErrorIs(t, err, engine.ErrImmutableOccurrence)
}
