/*
handlers.go - HTTP API handlers for the recurrence engine

PURPOSE:
  Exposes the recurrence materialization engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Recurrences:
    GET    /api/recurrences                    List templates (by company)
    POST   /api/recurrences                    Create template + initial generation
    GET    /api/recurrences/{id}               Get template
    PUT    /api/recurrences/{id}               Edit template (regenerates)
    DELETE /api/recurrences/{id}               End template, clean up future
    POST   /api/recurrences/{id}/generate      Materialize the horizon
    POST   /api/recurrences/{id}/versions      Record an amount change
    GET    /api/recurrences/{id}/versions      Amount history
    POST   /api/recurrences/{id}/regenerate    Edit + cleanup + refill
    GET    /api/recurrences/{id}/occurrences   Materialized entries

  Occurrences:
    GET    /api/occurrences/{id}               Get one entry
    POST   /api/occurrences/{id}/cascade       Similarity-based re-pricing
    POST   /api/occurrences/{id}/override      Mark user-diverged

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (materializer, version manager, regenerator)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Configuration errors, version ordering, immutable occurrences
  - 404: Recurrence or occurrence not found
  - 409: Duplicate instance (concurrent generation lost the race)
  - 500: Storage errors (safely retryable)

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/recurrence-engine/engine"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store        engine.TxStore
	Materializer *engine.Materializer
	Versions     *engine.VersionManager
	Regenerator  *engine.Regenerator
	Logger       *slog.Logger
}

// NewHandler creates a new handler with the given store.
func NewHandler(store engine.TxStore, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Store:        store,
		Materializer: engine.NewMaterializer(store, logger),
		Versions:     engine.NewVersionManager(store),
		Regenerator:  engine.NewRegenerator(store, logger),
		Logger:       logger,
	}
}

// =============================================================================
// RECURRENCE HANDLERS
// =============================================================================

// ListRecurrences returns all templates for a company.
// GET /api/recurrences?company_id=...
func (h *Handler) ListRecurrences(w http.ResponseWriter, r *http.Request) {
	companyID := r.URL.Query().Get("company_id")
	if companyID == "" {
		writeError(w, http.StatusBadRequest, "company_id query parameter is required", nil)
		return
	}

	templates, err := h.Store.ListTemplates(r.Context(), engine.CompanyID(companyID))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	dtos := make([]RecurrenceDTO, len(templates))
	for i, t := range templates {
		dtos[i] = toRecurrenceDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetRecurrence returns a single template.
func (h *Handler) GetRecurrence(w http.ResponseWriter, r *http.Request) {
	id := engine.RecurrenceID(chi.URLParam(r, "id"))

	tmpl, err := h.Store.GetTemplate(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecurrenceDTO(*tmpl))
}

// CreateRecurrence creates a template, records its first amount version,
// and materializes the initial horizon.
func (h *Handler) CreateRecurrence(w http.ResponseWriter, r *http.Request) {
	var req CreateRecurrenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.CompanyID == "" {
		writeError(w, http.StatusBadRequest, "company_id is required", nil)
		return
	}

	amount, err := parseAmountDTO(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	startDate, err := engine.ParseDate(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date", err)
		return
	}
	var endDate *engine.Date
	if req.EndDate != nil {
		d, err := engine.ParseDate(*req.EndDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid end_date", err)
			return
		}
		endDate = &d
	}

	certainty := engine.Certainty(req.Certainty)
	if certainty == "" {
		certainty = engine.CertaintyExpected
	}

	tmpl := &engine.RecurrenceTemplate{
		ID:         engine.RecurrenceID(uuid.NewString()),
		CompanyID:  engine.CompanyID(req.CompanyID),
		Type:       engine.EntryType(req.Type),
		BaseAmount: amount,
		Category:   req.Category,
		Counterparty: engine.Counterparty{
			ID:   req.CounterpartyID,
			Name: req.CounterpartyName,
		},
		AccountID:     req.AccountID,
		Certainty:     certainty,
		Description:   req.Description,
		Frequency:     engine.Frequency(req.Frequency),
		DayOfMonth:    req.DayOfMonth,
		DayOfWeek:     weekdayPtr(req.DayOfWeek),
		StartDate:     startDate,
		EndDate:       endDate,
		HorizonMonths: req.HorizonMonths,
		Status:        engine.RecurrenceActive,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}

	if err := engine.ValidateSchedule(tmpl.Frequency, tmpl.Anchor()); err != nil {
		writeEngineError(w, err)
		return
	}
	if err := h.Store.SaveTemplate(r.Context(), tmpl); err != nil {
		writeEngineError(w, err)
		return
	}

	// Record version 1 so every generated occurrence carries pricing
	// provenance from day one.
	if _, err := h.Versions.Apply(r.Context(), tmpl.ID, engine.ApplyVersionInput{
		Amount:        amount,
		EffectiveFrom: startDate,
		Reason:        "initial amount",
	}); err != nil {
		writeEngineError(w, err)
		return
	}
	tmpl, err = h.Store.GetTemplate(r.Context(), tmpl.ID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	if _, err := h.Materializer.Materialize(r.Context(), tmpl, engine.MaterializeInput{
		SkipExisting: true,
	}); err != nil {
		writeEngineError(w, err)
		return
	}

	// Reload so the response carries the generation bookmarks.
	tmpl, err = h.Store.GetTemplate(r.Context(), tmpl.ID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toRecurrenceDTO(*tmpl))
}

// UpdateRecurrence edits a template. Generation-relevant changes delete
// stale future entries and refill the horizon.
func (h *Handler) UpdateRecurrence(w http.ResponseWriter, r *http.Request) {
	id := engine.RecurrenceID(chi.URLParam(r, "id"))

	var req UpdateRecurrenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	edit, err := toTemplateEdit(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid edit", err)
		return
	}

	if _, err := h.Regenerator.Regenerate(r.Context(), id, edit); err != nil {
		writeEngineError(w, err)
		return
	}

	tmpl, err := h.Store.GetTemplate(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecurrenceDTO(*tmpl))
}

// DeleteRecurrence ends a template. Settled history survives; future
// pending entries are removed. Templates are never hard-deleted.
func (h *Handler) DeleteRecurrence(w http.ResponseWriter, r *http.Request) {
	id := engine.RecurrenceID(chi.URLParam(r, "id"))

	ended := engine.RecurrenceEnded
	if _, err := h.Regenerator.Regenerate(r.Context(), id, engine.TemplateEdit{
		Status: &ended,
	}); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Generate materializes occurrences up to the horizon.
// POST /api/recurrences/{id}/generate
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	id := engine.RecurrenceID(chi.URLParam(r, "id"))

	var req GenerateRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	in := engine.MaterializeInput{
		HorizonMonths: req.HorizonMonths,
		SkipExisting:  true,
	}
	if req.SkipExisting != nil {
		in.SkipExisting = *req.SkipExisting
	}
	if req.AsOfDate != "" {
		asOf, err := engine.ParseDate(req.AsOfDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid as_of_date", err)
			return
		}
		in.AsOf = asOf
	}

	tmpl, err := h.Store.GetTemplate(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	result, err := h.Materializer.Materialize(r.Context(), tmpl, in)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	resp := GenerateResponse{
		GeneratedCount: len(result.Created),
		SkippedCount:   result.SkippedCount,
		OccurrenceIDs:  make([]string, len(result.Created)),
	}
	for i, o := range result.Created {
		resp.OccurrenceIDs[i] = string(o.ID)
	}
	if !result.LastGeneratedDate.IsZero() {
		resp.LastGeneratedDate = result.LastGeneratedDate.Key()
	}
	if !result.NextOccurrenceDate.IsZero() {
		resp.NextOccurrenceDate = result.NextOccurrenceDate.Key()
	}
	writeJSON(w, http.StatusOK, resp)
}

// ApplyVersion records an amount change and cascades it forward.
// POST /api/recurrences/{id}/versions
func (h *Handler) ApplyVersion(w http.ResponseWriter, r *http.Request) {
	id := engine.RecurrenceID(chi.URLParam(r, "id"))

	var req ApplyVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := parseAmountDTO(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	in := engine.ApplyVersionInput{
		Amount:  amount,
		Reason:  req.Reason,
		Author:  req.Author,
		Cascade: true,
	}
	if req.Cascade != nil {
		in.Cascade = *req.Cascade
	}
	if req.EffectiveFrom != "" {
		from, err := engine.ParseDate(req.EffectiveFrom)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid effective_from", err)
			return
		}
		in.EffectiveFrom = from
	}

	result, err := h.Versions.Apply(r.Context(), id, in)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ApplyVersionResponse{
		Version:                toVersionDTO(*result.Version),
		UpdatedOccurrenceCount: result.UpdatedOccurrences,
	})
}

// ListVersions returns the amount history of a recurrence.
func (h *Handler) ListVersions(w http.ResponseWriter, r *http.Request) {
	id := engine.RecurrenceID(chi.URLParam(r, "id"))

	if _, err := h.Store.GetTemplate(r.Context(), id); err != nil {
		writeEngineError(w, err)
		return
	}
	versions, err := h.Store.Versions(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	dtos := make([]VersionDTO, len(versions))
	for i, v := range versions {
		dtos[i] = toVersionDTO(v)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Regenerate applies a template edit, deletes stale future entries, and
// refills the horizon. Same machinery as PUT, but reports counts.
// POST /api/recurrences/{id}/regenerate
func (h *Handler) Regenerate(w http.ResponseWriter, r *http.Request) {
	id := engine.RecurrenceID(chi.URLParam(r, "id"))

	var req UpdateRecurrenceRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	edit, err := toTemplateEdit(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid edit", err)
		return
	}

	result, err := h.Regenerator.Regenerate(r.Context(), id, edit)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, RegenerateResponse{
		DeletedCount:   result.DeletedCount,
		GeneratedCount: result.GeneratedCount,
		SkippedCount:   result.SkippedCount,
	})
}

// ListOccurrences returns the materialized entries of a recurrence.
func (h *Handler) ListOccurrences(w http.ResponseWriter, r *http.Request) {
	id := engine.RecurrenceID(chi.URLParam(r, "id"))

	tmpl, err := h.Store.GetTemplate(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	occs, err := h.Store.OccurrencesByRecurrence(r.Context(), tmpl.CompanyID, id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOccurrenceDTOs(occs))
}

// =============================================================================
// OCCURRENCE HANDLERS
// =============================================================================

// GetOccurrence returns a single ledger entry.
func (h *Handler) GetOccurrence(w http.ResponseWriter, r *http.Request) {
	id := engine.OccurrenceID(chi.URLParam(r, "id"))

	occ, err := h.Store.GetOccurrence(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOccurrenceDTO(*occ))
}

// CascadeOccurrence re-prices entries similar to the source occurrence.
// This is the fallback for legacy entries with no recurrence link.
// POST /api/occurrences/{id}/cascade
func (h *Handler) CascadeOccurrence(w http.ResponseWriter, r *http.Request) {
	id := engine.OccurrenceID(chi.URLParam(r, "id"))

	var req CascadeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := parseAmountDTO(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	var effectiveFrom engine.Date
	if req.EffectiveFrom != "" {
		if effectiveFrom, err = engine.ParseDate(req.EffectiveFrom); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid effective_from", err)
			return
		}
	}

	updated, err := h.Regenerator.CascadeBySimilarity(r.Context(), id, amount, effectiveFrom)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CascadeResponse{UpdatedCount: updated})
}

// OverrideOccurrence marks an entry as user-diverged, exempting it from
// future cascades and cleanup. Optionally changes its amount or status.
// POST /api/occurrences/{id}/override
func (h *Handler) OverrideOccurrence(w http.ResponseWriter, r *http.Request) {
	id := engine.OccurrenceID(chi.URLParam(r, "id"))

	var req OverrideRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	occ, err := h.Store.GetOccurrence(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if occ.Status == engine.OccurrenceSettled {
		writeEngineError(w, engine.ErrImmutableOccurrence)
		return
	}

	if req.Amount != nil {
		amount, err := parseAmountDTO(*req.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid amount", err)
			return
		}
		occ.Amount = amount
	}
	if req.Status != nil {
		occ.Status = engine.OccurrenceStatus(*req.Status)
	}
	occ.Overridden = true
	occ.UpdatedAt = time.Now().UTC()

	if err := h.Store.UpdateOccurrences(r.Context(), []engine.Occurrence{*occ}); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOccurrenceDTO(*occ))
}

// =============================================================================
// HELPERS
// =============================================================================

func parseAmountDTO(dto AmountDTO) (engine.Amount, error) {
	value, err := decimal.NewFromString(dto.Value)
	if err != nil {
		return engine.Amount{}, err
	}
	currency := engine.Currency(dto.Currency)
	if currency == "" {
		currency = engine.CurrencyUSD
	}
	return engine.Amount{Value: value, Currency: currency}, nil
}

func weekdayPtr(n *int) *time.Weekday {
	if n == nil {
		return nil
	}
	wd := time.Weekday(*n)
	return &wd
}

func toTemplateEdit(req UpdateRecurrenceRequest) (engine.TemplateEdit, error) {
	edit := engine.TemplateEdit{
		ClearEndDate: req.ClearEndDate,
		Reason:       req.Reason,
		Author:       req.Author,
	}
	if req.Frequency != nil {
		f := engine.Frequency(*req.Frequency)
		edit.Frequency = &f
	}
	edit.DayOfMonth = req.DayOfMonth
	edit.DayOfWeek = weekdayPtr(req.DayOfWeek)
	if req.StartDate != nil {
		d, err := engine.ParseDate(*req.StartDate)
		if err != nil {
			return edit, err
		}
		edit.StartDate = &d
	}
	if req.EndDate != nil {
		d, err := engine.ParseDate(*req.EndDate)
		if err != nil {
			return edit, err
		}
		edit.EndDate = &d
	}
	if req.Amount != nil {
		amount, err := parseAmountDTO(*req.Amount)
		if err != nil {
			return edit, err
		}
		edit.BaseAmount = &amount
	}
	edit.HorizonMonths = req.HorizonMonths
	if req.Status != nil {
		s := engine.RecurrenceStatus(*req.Status)
		edit.Status = &s
	}
	if req.Cutoff != "" {
		d, err := engine.ParseDate(req.Cutoff)
		if err != nil {
			return edit, err
		}
		edit.Cutoff = d
	}
	return edit, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps domain errors onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrDuplicateInstance):
		writeError(w, http.StatusConflict, "Occurrence already exists", err)
	case engine.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case engine.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
