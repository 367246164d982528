/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

DATES ON THE WIRE:
  All dates are YYYY-MM-DD strings. The engine works in local calendar
  days; timestamps (created_at) are RFC3339.

AMOUNTS ON THE WIRE:
  Decimal strings ("1200.00"), never JSON numbers. Parsing happens in
  handlers via decimal.NewFromString.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - engine/types.go: The domain model behind them
*/
package api

import (
	"time"

	"github.com/warp/recurrence-engine/engine"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// AmountDTO carries a monetary value as a decimal string.
type AmountDTO struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

// RecurrenceDTO represents a recurrence template in API responses.
type RecurrenceDTO struct {
	ID                 string    `json:"id"`
	CompanyID          string    `json:"company_id"`
	Type               string    `json:"type"`
	Amount             AmountDTO `json:"amount"`
	Category           string    `json:"category,omitempty"`
	CounterpartyID     string    `json:"counterparty_id,omitempty"`
	CounterpartyName   string    `json:"counterparty_name,omitempty"`
	AccountID          string    `json:"account_id,omitempty"`
	Certainty          string    `json:"certainty"`
	Description        string    `json:"description,omitempty"`
	Frequency          string    `json:"frequency"`
	DayOfMonth         int       `json:"day_of_month,omitempty"`
	DayOfWeek          *int      `json:"day_of_week,omitempty"`
	StartDate          string    `json:"start_date"`
	EndDate            *string   `json:"end_date,omitempty"`
	HorizonMonths      int       `json:"horizon_months,omitempty"`
	LastGeneratedDate  *string   `json:"last_generated_date,omitempty"`
	NextOccurrenceDate *string   `json:"next_occurrence_date,omitempty"`
	Status             string    `json:"status"`
	ActiveVersionID    string    `json:"active_version_id,omitempty"`
	CreatedAt          string    `json:"created_at,omitempty"`
}

// CreateRecurrenceRequest is the request to create a recurrence template.
type CreateRecurrenceRequest struct {
	CompanyID        string    `json:"company_id"`
	Type             string    `json:"type"`
	Amount           AmountDTO `json:"amount"`
	Category         string    `json:"category,omitempty"`
	CounterpartyID   string    `json:"counterparty_id,omitempty"`
	CounterpartyName string    `json:"counterparty_name,omitempty"`
	AccountID        string    `json:"account_id,omitempty"`
	Certainty        string    `json:"certainty,omitempty"`
	Description      string    `json:"description,omitempty"`
	Frequency        string    `json:"frequency"`
	DayOfMonth       int       `json:"day_of_month,omitempty"`
	DayOfWeek        *int      `json:"day_of_week,omitempty"`
	StartDate        string    `json:"start_date"`
	EndDate          *string   `json:"end_date,omitempty"`
	HorizonMonths    int       `json:"horizon_months,omitempty"`
}

// UpdateRecurrenceRequest is the request to edit a template. Absent fields
// are unchanged. Changing a generation-relevant field (frequency, anchor,
// start date, amount, horizon, status) triggers regeneration.
type UpdateRecurrenceRequest struct {
	Frequency     *string    `json:"frequency,omitempty"`
	DayOfMonth    *int       `json:"day_of_month,omitempty"`
	DayOfWeek     *int       `json:"day_of_week,omitempty"`
	StartDate     *string    `json:"start_date,omitempty"`
	EndDate       *string    `json:"end_date,omitempty"`
	ClearEndDate  bool       `json:"clear_end_date,omitempty"`
	Amount        *AmountDTO `json:"amount,omitempty"`
	HorizonMonths *int       `json:"horizon_months,omitempty"`
	Status        *string    `json:"status,omitempty"`

	// Cutoff bounds the cleanup of stale future entries. Defaults to today.
	Cutoff string `json:"cutoff,omitempty"`
	Reason string `json:"reason,omitempty"`
	Author string `json:"author,omitempty"`
}

// GenerateRequest controls one materialization pass.
type GenerateRequest struct {
	AsOfDate      string `json:"as_of_date,omitempty"`
	HorizonMonths int    `json:"horizon_months,omitempty"`
	SkipExisting  *bool  `json:"skip_existing,omitempty"` // default true
}

// GenerateResponse reports what a materialization pass did.
type GenerateResponse struct {
	GeneratedCount     int      `json:"generated_count"`
	SkippedCount       int      `json:"skipped_count"`
	OccurrenceIDs      []string `json:"occurrence_ids"`
	LastGeneratedDate  string   `json:"last_generated_date,omitempty"`
	NextOccurrenceDate string   `json:"next_occurrence_date,omitempty"`
}

// ApplyVersionRequest is the request to record an amount change.
type ApplyVersionRequest struct {
	Amount        AmountDTO `json:"amount"`
	EffectiveFrom string    `json:"effective_from,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	Author        string    `json:"author,omitempty"`
	Cascade       *bool     `json:"cascade,omitempty"` // default true
}

// VersionDTO represents one entry of a recurrence's amount history.
type VersionDTO struct {
	ID            string    `json:"id"`
	RecurrenceID  string    `json:"recurrence_id"`
	Amount        AmountDTO `json:"amount"`
	EffectiveFrom string    `json:"effective_from"`
	EffectiveTo   *string   `json:"effective_to,omitempty"`
	Number        int       `json:"number"`
	Active        bool      `json:"active"`
	Reason        string    `json:"reason,omitempty"`
	Author        string    `json:"author,omitempty"`
	CreatedAt     string    `json:"created_at,omitempty"`
}

// ApplyVersionResponse reports the new version and cascade size.
type ApplyVersionResponse struct {
	Version                VersionDTO `json:"version"`
	UpdatedOccurrenceCount int        `json:"updated_occurrence_count"`
}

// RegenerateResponse reports a cleanup + refill.
type RegenerateResponse struct {
	DeletedCount   int `json:"deleted_count"`
	GeneratedCount int `json:"generated_count"`
	SkippedCount   int `json:"skipped_count"`
}

// OccurrenceDTO represents a materialized ledger entry.
type OccurrenceDTO struct {
	ID               string    `json:"id"`
	CompanyID        string    `json:"company_id"`
	RecurrenceID     string    `json:"recurrence_id,omitempty"`
	VersionID        string    `json:"version_id,omitempty"`
	DueDate          string    `json:"due_date"`
	Amount           AmountDTO `json:"amount"`
	Type             string    `json:"type"`
	Category         string    `json:"category,omitempty"`
	CounterpartyID   string    `json:"counterparty_id,omitempty"`
	CounterpartyName string    `json:"counterparty_name,omitempty"`
	Certainty        string    `json:"certainty,omitempty"`
	Description      string    `json:"description,omitempty"`
	Status           string    `json:"status"`
	Generated        bool      `json:"generated"`
	Overridden       bool      `json:"overridden"`
	CreatedAt        string    `json:"created_at,omitempty"`
}

// CascadeRequest is the request for a similarity-based amount cascade.
type CascadeRequest struct {
	Amount        AmountDTO `json:"amount"`
	EffectiveFrom string    `json:"effective_from,omitempty"`
}

// CascadeResponse reports how many entries the cascade re-priced.
type CascadeResponse struct {
	UpdatedCount int `json:"updated_count"`
}

// OverrideRequest marks an occurrence as user-diverged, optionally with a
// new amount.
type OverrideRequest struct {
	Amount *AmountDTO `json:"amount,omitempty"`
	Status *string    `json:"status,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toAmountDTO(a engine.Amount) AmountDTO {
	return AmountDTO{Value: a.Value.String(), Currency: string(a.Currency)}
}

func toRecurrenceDTO(t engine.RecurrenceTemplate) RecurrenceDTO {
	dto := RecurrenceDTO{
		ID:               string(t.ID),
		CompanyID:        string(t.CompanyID),
		Type:             string(t.Type),
		Amount:           toAmountDTO(t.BaseAmount),
		Category:         t.Category,
		CounterpartyID:   t.Counterparty.ID,
		CounterpartyName: t.Counterparty.Name,
		AccountID:        t.AccountID,
		Certainty:        string(t.Certainty),
		Description:      t.Description,
		Frequency:        string(t.Frequency),
		DayOfMonth:       t.DayOfMonth,
		StartDate:        t.StartDate.Key(),
		HorizonMonths:    t.HorizonMonths,
		Status:           string(t.Status),
		ActiveVersionID:  string(t.ActiveVersionID),
		CreatedAt:        t.CreatedAt.Format(time.RFC3339),
	}
	if t.DayOfWeek != nil {
		wd := int(*t.DayOfWeek)
		dto.DayOfWeek = &wd
	}
	dto.EndDate = dateKeyPtr(t.EndDate)
	dto.LastGeneratedDate = dateKeyPtr(t.LastGeneratedDate)
	dto.NextOccurrenceDate = dateKeyPtr(t.NextOccurrenceDate)
	return dto
}

func toVersionDTO(v engine.RecurrenceVersion) VersionDTO {
	return VersionDTO{
		ID:            string(v.ID),
		RecurrenceID:  string(v.RecurrenceID),
		Amount:        toAmountDTO(v.Amount),
		EffectiveFrom: v.EffectiveFrom.Key(),
		EffectiveTo:   dateKeyPtr(v.EffectiveTo),
		Number:        v.Number,
		Active:        v.Active,
		Reason:        v.Reason,
		Author:        v.Author,
		CreatedAt:     v.CreatedAt.Format(time.RFC3339),
	}
}

func toOccurrenceDTO(o engine.Occurrence) OccurrenceDTO {
	return OccurrenceDTO{
		ID:               string(o.ID),
		CompanyID:        string(o.CompanyID),
		RecurrenceID:     string(o.RecurrenceID),
		VersionID:        string(o.VersionID),
		DueDate:          o.DueDate.Key(),
		Amount:           toAmountDTO(o.Amount),
		Type:             string(o.Type),
		Category:         o.Category,
		CounterpartyID:   o.Counterparty.ID,
		CounterpartyName: o.Counterparty.Name,
		Certainty:        string(o.Certainty),
		Description:      o.Description,
		Status:           string(o.Status),
		Generated:        o.Generated,
		Overridden:       o.Overridden,
		CreatedAt:        o.CreatedAt.Format(time.RFC3339),
	}
}

func toOccurrenceDTOs(occs []engine.Occurrence) []OccurrenceDTO {
	dtos := make([]OccurrenceDTO, len(occs))
	for i, o := range occs {
		dtos[i] = toOccurrenceDTO(o)
	}
	return dtos
}

func dateKeyPtr(d *engine.Date) *string {
	if d == nil {
		return nil
	}
	k := d.Key()
	return &k
}
