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

func newTestMaterializer(t *testing.T) (*engine.Materializer, *store.TxMemory) {
	t.Helper()
	mem := store.NewTxMemory()
	return engine.NewMaterializer(mem, nil), mem
}

func rentTemplate() *engine.RecurrenceTemplate {
	return &engine.RecurrenceTemplate{
		ID:         "rec-rent",
		CompanyID:  "co-1",
		Type:       engine.EntryExpense,
		BaseAmount: engine.NewAmountFromInt(1200, engine.CurrencyUSD),
		Category:   "facilities",
		Counterparty: engine.Counterparty{
			Name: "Acme Properties",
		},
		Certainty:   engine.CertaintyGuaranteed,
		Description: "Office rent",
		Frequency:   engine.FreqMonthly,
		DayOfMonth:  5,
		StartDate:   engine.NewDate(2025, time.January, 5),
		Status:      engine.RecurrenceActive,
	}
}

func saveTemplate(t *testing.T, s engine.Store, tmpl *engine.RecurrenceTemplate) {
	t.Helper()
	require.NoError(t, s.SaveTemplate(context.Background(), tmpl))
}

// =============================================================================
// BASIC GENERATION
// =============================================================================

func TestMaterialize_FreshTemplate_CreatesFullWindow(t *testing.T) {
	// GIVEN: A fresh monthly template (5th of month, start Jan 5)
	// WHEN: Materializing as of Jan 1 with a 3-month horizon
	// THEN: Jan 5, Feb 5, Mar 5 are created as PENDING, engine-generated

	m, mem := newTestMaterializer(t)
	ctx := context.Background()
	tmpl := rentTemplate()
	saveTemplate(t, mem, tmpl)

	result, err := m.Materialize(ctx, tmpl, engine.MaterializeInput{
		AsOf:          engine.NewDate(2025, time.January, 1),
		HorizonMonths: 3,
		SkipExisting:  true,
	})
	require.NoError(t, err)

	require.Len(t, result.Created, 3)
	assert.Equal(t, []string{"2025-01-05", "2025-02-05", "2025-03-05"}, keys(result.CreatedDates()))
	assert.Equal(t, 0, result.SkippedCount)

	for _, o := range result.Created {
		assert.Equal(t, engine.OccurrencePending, o.Status)
		assert.True(t, o.Generated)
		assert.False(t, o.Overridden)
		assert.Equal(t, engine.RecurrenceID("rec-rent"), o.RecurrenceID)
		assert.Equal(t, engine.InstanceKeyFor("rec-rent", o.DueDate), o.InstanceKey)
		assert.True(t, o.Amount.Equal(tmpl.BaseAmount))
	}
}

func TestMaterialize_BookmarksAdvanceWithBatch(t *testing.T) {
	// GIVEN: A successful generation pass
	// THEN: The stored template's bookmarks point at the last created date
	//       and the next date due after it

	m, mem := newTestMaterializer(t)
	ctx := context.Background()
	tmpl := rentTemplate()
	saveTemplate(t, mem, tmpl)

	result, err := m.Materialize(ctx, tmpl, engine.MaterializeInput{
		AsOf:          engine.NewDate(2025, time.January, 1),
		HorizonMonths: 3,
		SkipExisting:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, "2025-03-05", result.LastGeneratedDate.Key())
	assert.Equal(t, "2025-04-05", result.NextOccurrenceDate.Key())

	stored, err := mem.GetTemplate(ctx, tmpl.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastGeneratedDate)
	require.NotNil(t, stored.NextOccurrenceDate)
	assert.Equal(t, "2025-03-05", stored.LastGeneratedDate.Key())
	assert.Equal(t, "2025-04-05", stored.NextOccurrenceDate.Key())
}

// =============================================================================
// IDEMPOTENCY
// =============================================================================

func TestMaterialize_SecondPass_CreatesNothing(t *testing.T) {
	// GIVEN: A template already materialized for the window
	// WHEN: Running the identical pass again
	// THEN: Zero created, everything skipped, bookmarks unchanged

	m, mem := newTestMaterializer(t)
	ctx := context.Background()
	tmpl := rentTemplate()
	saveTemplate(t, mem, tmpl)

	in := engine.MaterializeInput{
		AsOf:          engine.NewDate(2025, time.January, 1),
		HorizonMonths: 3,
		SkipExisting:  true,
	}
	first, err := m.Materialize(ctx, tmpl, in)
	require.NoError(t, err)
	require.Len(t, first.Created, 3)

	stored, err := mem.GetTemplate(ctx, tmpl.ID)
	require.NoError(t, err)

	second, err := m.Materialize(ctx, stored, in)
	require.NoError(t, err)
	assert.Empty(t, second.Created)
	assert.Equal(t, 3, second.SkippedCount)
	assert.Equal(t, "2025-03-05", second.LastGeneratedDate.Key())

	occs, err := mem.OccurrencesByRecurrence(ctx, tmpl.CompanyID, tmpl.ID)
	require.NoError(t, err)
	assert.Len(t, occs, 3)
}

func TestMaterialize_RollingHorizon_ExtendsForward(t *testing.T) {
	// GIVEN: Jan 1 pass covered Jan/Feb/Mar
	// WHEN: Running again as of Mar 1 with the same 3-month horizon
	// THEN: Only Apr 5 and May 5 are new; the window always starts from the
	//       original start date and existing days are skipped

	m, mem := newTestMaterializer(t)
	ctx := context.Background()
	tmpl := rentTemplate()
	saveTemplate(t, mem, tmpl)

	_, err := m.Materialize(ctx, tmpl, engine.MaterializeInput{
		AsOf:          engine.NewDate(2025, time.January, 1),
		HorizonMonths: 3,
		SkipExisting:  true,
	})
	require.NoError(t, err)

	stored, err := mem.GetTemplate(ctx, tmpl.ID)
	require.NoError(t, err)

	result, err := m.Materialize(ctx, stored, engine.MaterializeInput{
		AsOf:          engine.NewDate(2025, time.March, 1),
		HorizonMonths: 3,
		SkipExisting:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-04-05", "2025-05-05"}, keys(result.CreatedDates()))
	assert.Equal(t, 3, result.SkippedCount)
}

// =============================================================================
// SIMILARITY FINGERPRINT
// =============================================================================

func TestMaterialize_SimilarUnlinkedEntry_Skipped(t *testing.T) {
	// GIVEN: A hand-entered Feb 5 expense matching the template's
	//        counterparty, type, and amount, with no recurrence link
	// WHEN: Materializing
	// THEN: Feb 5 is not duplicated; the similarity fingerprint caught it

	m, mem := newTestMaterializer(t)
	ctx := context.Background()
	tmpl := rentTemplate()
	saveTemplate(t, mem, tmpl)

	manual := engine.Occurrence{
		ID:           "occ-manual",
		CompanyID:    tmpl.CompanyID,
		DueDate:      engine.NewDate(2025, time.February, 5),
		Amount:       tmpl.BaseAmount,
		Type:         tmpl.Type,
		Counterparty: tmpl.Counterparty,
		Description:  "rent paid by hand",
		Status:       engine.OccurrencePending,
	}
	require.NoError(t, mem.CreateOccurrences(ctx, []engine.Occurrence{manual}))

	result, err := m.Materialize(ctx, tmpl, engine.MaterializeInput{
		AsOf:          engine.NewDate(2025, time.January, 1),
		HorizonMonths: 3,
		SkipExisting:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-05", "2025-03-05"}, keys(result.CreatedDates()))
	assert.Equal(t, 1, result.SkippedCount)
}

func TestMaterialize_DifferentAmount_NotSimilar(t *testing.T) {
	// GIVEN: A same-day entry with a different amount
	// THEN: It does not fingerprint the day; the template's entry is created

	m, mem := newTestMaterializer(t)
	ctx := context.Background()
	tmpl := rentTemplate()
	saveTemplate(t, mem, tmpl)

	other := engine.Occurrence{
		ID:           "occ-other",
		CompanyID:    tmpl.CompanyID,
		DueDate:      engine.NewDate(2025, time.February, 5),
		Amount:       engine.NewAmountFromInt(999, engine.CurrencyUSD),
		Type:         tmpl.Type,
		Counterparty: tmpl.Counterparty,
		Status:       engine.OccurrencePending,
	}
	require.NoError(t, mem.CreateOccurrences(ctx, []engine.Occurrence{other}))

	result, err := m.Materialize(ctx, tmpl, engine.MaterializeInput{
		AsOf:          engine.NewDate(2025, time.January, 1),
		HorizonMonths: 3,
		SkipExisting:  true,
	})
	require.NoError(t, err)
	assert.Len(t, result.Created, 3)
}

// =============================================================================
// FAILURE MODES
// =============================================================================

func TestMaterialize_InvalidSchedule_NoWrites(t *testing.T) {
	// GIVEN: A template with no cadence
	// WHEN: Materializing
	// THEN: Configuration error before any storage writes

	m, mem := newTestMaterializer(t)
	ctx := context.Background()
	tmpl := rentTemplate()
	tmpl.Frequency = engine.FreqNone
	saveTemplate(t, mem, tmpl)

	_, err := m.Materialize(ctx, tmpl, engine.MaterializeInput{SkipExisting: true})
	assert.ErrorIs(t, err, engine.ErrConfiguration)

	occs, err := mem.OccurrencesByRecurrence(ctx, tmpl.CompanyID, tmpl.ID)
	require.NoError(t, err)
	assert.Empty(t, occs)
}

func TestMaterialize_DuplicateInstance_RollsBackWholeBatch(t *testing.T) {
	// GIVEN: Occurrences already exist for the window
	// WHEN: Materializing with the dedup fingerprints disabled
	// THEN: The instance-key re-check rejects the batch; nothing is written
	//       and the stored bookmarks are untouched

	m, mem := newTestMaterializer(t)
	ctx := context.Background()
	tmpl := rentTemplate()
	saveTemplate(t, mem, tmpl)

	in := engine.MaterializeInput{
		AsOf:          engine.NewDate(2025, time.January, 1),
		HorizonMonths: 3,
	}
	in.SkipExisting = true
	_, err := m.Materialize(ctx, tmpl, in)
	require.NoError(t, err)

	stored, err := mem.GetTemplate(ctx, tmpl.ID)
	require.NoError(t, err)

	in.SkipExisting = false
	_, err = m.Materialize(ctx, stored, in)
	assert.ErrorIs(t, err, engine.ErrDuplicateInstance)

	occs, err := mem.OccurrencesByRecurrence(ctx, tmpl.CompanyID, tmpl.ID)
	require.NoError(t, err)
	assert.Len(t, occs, 3)

	after, err := mem.GetTemplate(ctx, tmpl.ID)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-05", after.LastGeneratedDate.Key())
}

func TestMaterialize_BrokenBookmark_RegeneratesAnyway(t *testing.T) {
	// GIVEN: A bookmark claiming prior generation but zero linked entries
	//        (deleted out of band)
	// WHEN: Materializing
	// THEN: The engine logs a warning and regenerates rather than blocking

	m, mem := newTestMaterializer(t)
	ctx := context.Background()
	tmpl := rentTemplate()
	last := engine.NewDate(2025, time.March, 5)
	tmpl.LastGeneratedDate = &last
	saveTemplate(t, mem, tmpl)

	result, err := m.Materialize(ctx, tmpl, engine.MaterializeInput{
		AsOf:          engine.NewDate(2025, time.January, 1),
		HorizonMonths: 3,
		SkipExisting:  true,
	})
	require.NoError(t, err)
	assert.Len(t, result.Created, 3)
}

func TestMaterialize_EndedWindow_NothingPastEndDate(t *testing.T) {
	// GIVEN: A template ending Feb 28
	// THEN: Only Jan 5 and Feb 5 materialize regardless of horizon

	m, mem := newTestMaterializer(t)
	ctx := context.Background()
	tmpl := rentTemplate()
	end := engine.NewDate(2025, time.February, 28)
	tmpl.EndDate = &end
	saveTemplate(t, mem, tmpl)

	result, err := m.Materialize(ctx, tmpl, engine.MaterializeInput{
		AsOf:          engine.NewDate(2025, time.January, 1),
		HorizonMonths: 6,
		SkipExisting:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-05", "2025-02-05"}, keys(result.CreatedDates()))
}
