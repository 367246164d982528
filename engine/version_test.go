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

// versionFixture is a materialized salary template: monthly on the 15th,
// start Jan 15, six occurrences Jan-Jun.
func versionFixture(t *testing.T) (*engine.VersionManager, *store.TxMemory, *engine.RecurrenceTemplate) {
	t.Helper()
	mem := store.NewTxMemory()
	ctx := context.Background()

	tmpl := &engine.RecurrenceTemplate{
		ID:           "rec-salary",
		CompanyID:    "co-1",
		Type:         engine.EntryExpense,
		BaseAmount:   engine.NewAmountFromInt(1000, engine.CurrencyUSD),
		Counterparty: engine.Counterparty{ID: "emp-9", Name: "Jordan Reyes"},
		Certainty:    engine.CertaintyGuaranteed,
		Description:  "Contractor salary",
		Frequency:    engine.FreqMonthly,
		DayOfMonth:   15,
		StartDate:    engine.NewDate(2025, time.January, 15),
		Status:       engine.RecurrenceActive,
	}
	saveTemplate(t, mem, tmpl)

	vm := engine.NewVersionManager(mem)
	_, err := vm.Apply(ctx, tmpl.ID, engine.ApplyVersionInput{
		Amount:        tmpl.BaseAmount,
		EffectiveFrom: tmpl.StartDate,
		Reason:        "initial amount",
	})
	require.NoError(t, err)

	tmpl, err = mem.GetTemplate(ctx, tmpl.ID)
	require.NoError(t, err)

	m := engine.NewMaterializer(mem, nil)
	result, err := m.Materialize(ctx, tmpl, engine.MaterializeInput{
		AsOf:          engine.NewDate(2025, time.January, 1),
		HorizonMonths: 6,
		SkipExisting:  true,
	})
	require.NoError(t, err)
	require.Len(t, result.Created, 6)

	return vm, mem, tmpl
}

func setOccurrence(t *testing.T, mem *store.TxMemory, id engine.RecurrenceID, dueKey string, mutate func(*engine.Occurrence)) {
	t.Helper()
	ctx := context.Background()
	occs, err := mem.OccurrencesByRecurrence(ctx, "co-1", id)
	require.NoError(t, err)
	for _, o := range occs {
		if o.DueDate.Key() == dueKey {
			mutate(&o)
			require.NoError(t, mem.UpdateOccurrences(ctx, []engine.Occurrence{o}))
			return
		}
	}
	t.Fatalf("no occurrence due %s", dueKey)
}

func occurrenceByDue(t *testing.T, mem *store.TxMemory, id engine.RecurrenceID, dueKey string) engine.Occurrence {
	t.Helper()
	occs, err := mem.OccurrencesByRecurrence(context.Background(), "co-1", id)
	require.NoError(t, err)
	for _, o := range occs {
		if o.DueDate.Key() == dueKey {
			return o
		}
	}
	t.Fatalf("no occurrence due %s", dueKey)
	return engine.Occurrence{}
}

// =============================================================================
// VERSION CHAIN
// =============================================================================

func TestVersionManager_FirstVersion_OpensChain(t *testing.T) {
	// GIVEN: A template with no version history
	// WHEN: Applying the first amount
	// THEN: Version 1 is active and the template points at it

	mem := store.NewTxMemory()
	ctx := context.Background()
	tmpl := rentTemplate()
	saveTemplate(t, mem, tmpl)

	vm := engine.NewVersionManager(mem)
	result, err := vm.Apply(ctx, tmpl.ID, engine.ApplyVersionInput{
		Amount:        engine.NewAmountFromInt(1200, engine.CurrencyUSD),
		EffectiveFrom: engine.NewDate(2025, time.January, 5),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Version.Number)
	assert.True(t, result.Version.Active)
	assert.Nil(t, result.Version.EffectiveTo)

	stored, err := mem.GetTemplate(ctx, tmpl.ID)
	require.NoError(t, err)
	assert.Equal(t, result.Version.ID, stored.ActiveVersionID)
}

func TestVersionManager_NewVersion_ClosesPrevious(t *testing.T) {
	// GIVEN: An active version effective Jan 15
	// WHEN: Applying a new amount effective Mar 1
	// THEN: v1 closes at Feb 28, v2 opens active, exactly one active version

	vm, mem, tmpl := versionFixture(t)
	ctx := context.Background()

	result, err := vm.Apply(ctx, tmpl.ID, engine.ApplyVersionInput{
		Amount:        engine.NewAmountFromInt(500, engine.CurrencyUSD),
		EffectiveFrom: engine.NewDate(2025, time.March, 1),
		Reason:        "rate renegotiated",
		Author:        "finance",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Version.Number)

	versions, err := mem.Versions(ctx, tmpl.ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)

	v1, v2 := versions[0], versions[1]
	assert.False(t, v1.Active)
	require.NotNil(t, v1.EffectiveTo)
	assert.Equal(t, "2025-02-28", v1.EffectiveTo.Key())
	assert.True(t, v2.Active)
	assert.Nil(t, v2.EffectiveTo)

	stored, err := mem.GetTemplate(ctx, tmpl.ID)
	require.NoError(t, err)
	assert.Equal(t, v2.ID, stored.ActiveVersionID)
	assert.True(t, stored.BaseAmount.Equal(v2.Amount))
}

func TestVersionManager_EffectiveFromMustAdvance(t *testing.T) {
	// GIVEN: An active version effective Jan 15
	// WHEN: Applying a version effective on or before that date
	// THEN: Rejected with the ordering error, chain untouched

	vm, mem, tmpl := versionFixture(t)
	ctx := context.Background()

	_, err := vm.Apply(ctx, tmpl.ID, engine.ApplyVersionInput{
		Amount:        engine.NewAmountFromInt(500, engine.CurrencyUSD),
		EffectiveFrom: engine.NewDate(2025, time.January, 15),
	})
	assert.ErrorIs(t, err, engine.ErrVersionOrder)

	_, err = vm.Apply(ctx, tmpl.ID, engine.ApplyVersionInput{
		Amount:        engine.NewAmountFromInt(500, engine.CurrencyUSD),
		EffectiveFrom: engine.NewDate(2024, time.December, 1),
	})
	assert.ErrorIs(t, err, engine.ErrVersionOrder)

	versions, err := mem.Versions(ctx, tmpl.ID)
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestVersionManager_UnknownRecurrence(t *testing.T) {
	vm := engine.NewVersionManager(store.NewTxMemory())
	_, err := vm.Apply(context.Background(), "rec-missing", engine.ApplyVersionInput{
		Amount: engine.NewAmountFromInt(10, engine.CurrencyUSD),
	})
	assert.ErrorIs(t, err, engine.ErrRecurrenceNotFound)
}

// =============================================================================
// FORWARD CASCADE
// =============================================================================

func TestVersionManager_Cascade_OnlyMutableFutureOccurrences(t *testing.T) {
	// GIVEN: Six materialized occurrences Jan-Jun at 1000.
	//        Jan and Feb are settled; Apr is user-overridden.
	// WHEN: Applying 500 effective Mar 1 with cascade on
	// THEN: Exactly Mar, May, Jun are re-priced and re-linked to v2.
	//       Settled history and the override keep their amounts.

	vm, mem, tmpl := versionFixture(t)
	ctx := context.Background()

	setOccurrence(t, mem, tmpl.ID, "2025-01-15", func(o *engine.Occurrence) {
		o.Status = engine.OccurrenceSettled
	})
	setOccurrence(t, mem, tmpl.ID, "2025-02-15", func(o *engine.Occurrence) {
		o.Status = engine.OccurrenceSettled
	})
	setOccurrence(t, mem, tmpl.ID, "2025-04-15", func(o *engine.Occurrence) {
		o.Overridden = true
	})

	result, err := vm.Apply(ctx, tmpl.ID, engine.ApplyVersionInput{
		Amount:        engine.NewAmountFromInt(500, engine.CurrencyUSD),
		EffectiveFrom: engine.NewDate(2025, time.March, 1),
		Cascade:       true,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.UpdatedOccurrences)

	newAmount := engine.NewAmountFromInt(500, engine.CurrencyUSD)
	oldAmount := engine.NewAmountFromInt(1000, engine.CurrencyUSD)

	for _, due := range []string{"2025-03-15", "2025-05-15", "2025-06-15"} {
		o := occurrenceByDue(t, mem, tmpl.ID, due)
		assert.True(t, o.Amount.Equal(newAmount), "occurrence %s should carry the new amount", due)
		assert.Equal(t, result.Version.ID, o.VersionID)
	}
	for _, due := range []string{"2025-01-15", "2025-02-15", "2025-04-15"} {
		o := occurrenceByDue(t, mem, tmpl.ID, due)
		assert.True(t, o.Amount.Equal(oldAmount), "occurrence %s must keep its amount", due)
	}
}

func TestVersionManager_CascadeDisabled_OccurrencesUntouched(t *testing.T) {
	// GIVEN: The same materialized chain
	// WHEN: Applying a version with cascade off
	// THEN: The chain advances but no occurrence changes

	vm, mem, tmpl := versionFixture(t)
	ctx := context.Background()

	result, err := vm.Apply(ctx, tmpl.ID, engine.ApplyVersionInput{
		Amount:        engine.NewAmountFromInt(500, engine.CurrencyUSD),
		EffectiveFrom: engine.NewDate(2025, time.March, 1),
		Cascade:       false,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.UpdatedOccurrences)

	oldAmount := engine.NewAmountFromInt(1000, engine.CurrencyUSD)
	occs, err := mem.OccurrencesByRecurrence(ctx, tmpl.CompanyID, tmpl.ID)
	require.NoError(t, err)
	for _, o := range occs {
		assert.True(t, o.Amount.Equal(oldAmount))
	}
}

func TestVersionManager_Cascade_RespectsEffectiveFromBoundary(t *testing.T) {
	// GIVEN: Occurrences on the 15th of each month
	// WHEN: A version becomes effective exactly Mar 15
	// THEN: Mar 15 is included (due >= effective-from), Feb 15 is not

	vm, mem, tmpl := versionFixture(t)
	ctx := context.Background()

	result, err := vm.Apply(ctx, tmpl.ID, engine.ApplyVersionInput{
		Amount:        engine.NewAmountFromInt(750, engine.CurrencyUSD),
		EffectiveFrom: engine.NewDate(2025, time.March, 15),
		Cascade:       true,
	})
	require.NoError(t, err)
	// Mar, Apr, May, Jun
	assert.Equal(t, 4, result.UpdatedOccurrences)

	feb := occurrenceByDue(t, mem, tmpl.ID, "2025-02-15")
	assert.True(t, feb.Amount.Equal(engine.NewAmountFromInt(1000, engine.CurrencyUSD)))
	mar := occurrenceByDue(t, mem, tmpl.ID, "2025-03-15")
	assert.True(t, mar.Amount.Equal(engine.NewAmountFromInt(750, engine.CurrencyUSD)))
}
