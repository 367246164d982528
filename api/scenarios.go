/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built scenarios that populate the store with realistic
  recurrence data for testing and demos. Each scenario creates templates,
  versions, and materialized occurrences that demonstrate specific engine
  behavior.

AVAILABLE SCENARIOS:
  startup-basics:    Rent, payroll, hosting, quarterly consulting income
  price-change:      A subscription with a mid-stream amount change
  month-end-anchors: Day-31 and day-30 anchors across short months

HOW SCENARIOS WORK:
  1. Mint a fresh demo company id (no reset needed; demo data is isolated
     per load)
  2. Create recurrence templates
  3. Record their initial amount versions
  4. Materialize the horizon
  5. Optionally apply amount changes to show the cascade

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "price-change"}

ADDING NEW SCENARIOS:
  1. Add to the 'scenarios' slice with ID, name, description
  2. Create loader function: loadXxxScenario(ctx, h, companyID)
  3. Add case to LoadScenario

SEE ALSO:
  - handlers.go: The production creation path this mirrors
  - engine/materialize.go: What the scenarios exercise
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/warp/recurrence-engine/engine"
)

// =============================================================================
// SCENARIO CATALOG
// =============================================================================

// ScenarioDTO describes one loadable demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// LoadScenarioResponse reports what a scenario load created.
type LoadScenarioResponse struct {
	ScenarioID    string   `json:"scenario_id"`
	CompanyID     string   `json:"company_id"`
	RecurrenceIDs []string `json:"recurrence_ids"`
}

var scenarios = []ScenarioDTO{
	{
		ID:          "startup-basics",
		Name:        "Startup basics",
		Description: "Monthly rent, biweekly payroll, a hosting subscription, and quarterly consulting income",
	},
	{
		ID:          "price-change",
		Name:        "Price change",
		Description: "A subscription whose price rises mid-stream, cascading into future pending entries",
	},
	{
		ID:          "month-end-anchors",
		Name:        "Month-end anchors",
		Description: "Day-31 and day-30 anchors clamping through February and short months",
	},
}

// ListScenarios returns the demo scenario catalog.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario populates the store with a demo scenario under a freshly
// minted company id.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	companyID := engine.CompanyID("demo-" + uuid.NewString()[:8])

	var (
		ids []engine.RecurrenceID
		err error
	)
	switch req.ScenarioID {
	case "startup-basics":
		ids, err = loadStartupBasics(r.Context(), h, companyID)
	case "price-change":
		ids, err = loadPriceChange(r.Context(), h, companyID)
	case "month-end-anchors":
		ids, err = loadMonthEndAnchors(r.Context(), h, companyID)
	default:
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("Unknown scenario %q", req.ScenarioID), nil)
		return
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}

	resp := LoadScenarioResponse{
		ScenarioID: req.ScenarioID,
		CompanyID:  string(companyID),
	}
	for _, id := range ids {
		resp.RecurrenceIDs = append(resp.RecurrenceIDs, string(id))
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// seedRecurrence creates, versions, and materializes one template. This is
// the same sequence CreateRecurrence performs.
func seedRecurrence(ctx context.Context, h *Handler, tmpl *engine.RecurrenceTemplate) error {
	tmpl.Status = engine.RecurrenceActive
	tmpl.CreatedAt = time.Now().UTC()
	tmpl.UpdatedAt = tmpl.CreatedAt

	if err := engine.ValidateSchedule(tmpl.Frequency, tmpl.Anchor()); err != nil {
		return err
	}
	if err := h.Store.SaveTemplate(ctx, tmpl); err != nil {
		return err
	}
	if _, err := h.Versions.Apply(ctx, tmpl.ID, engine.ApplyVersionInput{
		Amount:        tmpl.BaseAmount,
		EffectiveFrom: tmpl.StartDate,
		Reason:        "initial amount",
	}); err != nil {
		return err
	}
	tmpl, err := h.Store.GetTemplate(ctx, tmpl.ID)
	if err != nil {
		return err
	}
	_, err = h.Materializer.Materialize(ctx, tmpl, engine.MaterializeInput{SkipExisting: true})
	return err
}

func loadStartupBasics(ctx context.Context, h *Handler, companyID engine.CompanyID) ([]engine.RecurrenceID, error) {
	friday := time.Friday
	start := engine.Today().AddMonths(-2)

	templates := []*engine.RecurrenceTemplate{
		{
			ID:           engine.RecurrenceID(uuid.NewString()),
			CompanyID:    companyID,
			Type:         engine.EntryExpense,
			BaseAmount:   engine.NewAmountFromInt(4500, engine.CurrencyUSD),
			Category:     "facilities",
			Counterparty: engine.Counterparty{Name: "Hudson Street Properties"},
			Certainty:    engine.CertaintyGuaranteed,
			Description:  "Office rent",
			Frequency:    engine.FreqMonthly,
			DayOfMonth:   1,
			StartDate:    start,
		},
		{
			ID:           engine.RecurrenceID(uuid.NewString()),
			CompanyID:    companyID,
			Type:         engine.EntryExpense,
			BaseAmount:   engine.NewAmountFromInt(8200, engine.CurrencyUSD),
			Category:     "payroll",
			Counterparty: engine.Counterparty{Name: "Payroll run"},
			Certainty:    engine.CertaintyGuaranteed,
			Description:  "Biweekly payroll",
			Frequency:    engine.FreqBiweekly,
			DayOfWeek:    &friday,
			StartDate:    start,
		},
		{
			ID:           engine.RecurrenceID(uuid.NewString()),
			CompanyID:    companyID,
			Type:         engine.EntryExpense,
			BaseAmount:   engine.NewAmountFromInt(320, engine.CurrencyUSD),
			Category:     "infrastructure",
			Counterparty: engine.Counterparty{Name: "CloudHost"},
			Certainty:    engine.CertaintyGuaranteed,
			Description:  "Hosting subscription",
			Frequency:    engine.FreqMonthly,
			DayOfMonth:   28,
			StartDate:    start,
		},
		{
			ID:           engine.RecurrenceID(uuid.NewString()),
			CompanyID:    companyID,
			Type:         engine.EntryIncome,
			BaseAmount:   engine.NewAmountFromInt(15000, engine.CurrencyUSD),
			Category:     "revenue",
			Counterparty: engine.Counterparty{Name: "Meridian Consulting"},
			Certainty:    engine.CertaintyExpected,
			Description:  "Quarterly consulting retainer",
			Frequency:    engine.FreqQuarterly,
			DayOfMonth:   15,
			StartDate:    start,
		},
	}

	var ids []engine.RecurrenceID
	for _, tmpl := range templates {
		if err := seedRecurrence(ctx, h, tmpl); err != nil {
			return nil, err
		}
		ids = append(ids, tmpl.ID)
	}
	return ids, nil
}

func loadPriceChange(ctx context.Context, h *Handler, companyID engine.CompanyID) ([]engine.RecurrenceID, error) {
	start := engine.Today().AddMonths(-3)

	tmpl := &engine.RecurrenceTemplate{
		ID:           engine.RecurrenceID(uuid.NewString()),
		CompanyID:    companyID,
		Type:         engine.EntryExpense,
		BaseAmount:   engine.NewAmountFromInt(200, engine.CurrencyUSD),
		Category:     "software",
		Counterparty: engine.Counterparty{Name: "Datastream Analytics"},
		Certainty:    engine.CertaintyGuaranteed,
		Description:  "Analytics subscription",
		Frequency:    engine.FreqMonthly,
		DayOfMonth:   10,
		StartDate:    start,
	}
	if err := seedRecurrence(ctx, h, tmpl); err != nil {
		return nil, err
	}

	// The vendor raises the price effective next month; future pending
	// entries re-price, history keeps the old amount.
	if _, err := h.Versions.Apply(ctx, tmpl.ID, engine.ApplyVersionInput{
		Amount:        engine.NewAmountFromInt(260, engine.CurrencyUSD),
		EffectiveFrom: engine.Today().AddMonths(1),
		Reason:        "vendor price increase",
		Author:        "demo",
		Cascade:       true,
	}); err != nil {
		return nil, err
	}

	return []engine.RecurrenceID{tmpl.ID}, nil
}

func loadMonthEndAnchors(ctx context.Context, h *Handler, companyID engine.CompanyID) ([]engine.RecurrenceID, error) {
	// Anchored before February so the demo always shows a clamped entry.
	start := engine.NewDate(engine.Today().Year(), time.January, 31)

	templates := []*engine.RecurrenceTemplate{
		{
			ID:           engine.RecurrenceID(uuid.NewString()),
			CompanyID:    companyID,
			Type:         engine.EntryExpense,
			BaseAmount:   engine.NewAmountFromInt(3100, engine.CurrencyUSD),
			Category:     "facilities",
			Counterparty: engine.Counterparty{Name: "Last-Day Leasing"},
			Certainty:    engine.CertaintyGuaranteed,
			Description:  "Rent due on the 31st",
			Frequency:    engine.FreqMonthly,
			DayOfMonth:   31,
			StartDate:    start,
		},
		{
			ID:           engine.RecurrenceID(uuid.NewString()),
			CompanyID:    companyID,
			Type:         engine.EntryIncome,
			BaseAmount:   engine.NewAmountFromInt(900, engine.CurrencyUSD),
			Category:     "revenue",
			Counterparty: engine.Counterparty{Name: "Thirty Day Services"},
			Certainty:    engine.CertaintyExpected,
			Description:  "Invoice due on the 30th",
			Frequency:    engine.FreqMonthly,
			DayOfMonth:   30,
			StartDate:    start,
		},
	}

	var ids []engine.RecurrenceID
	for _, tmpl := range templates {
		if err := seedRecurrence(ctx, h, tmpl); err != nil {
			return nil, err
		}
		ids = append(ids, tmpl.ID)
	}
	return ids, nil
}
