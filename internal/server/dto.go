package server

import (
	"encoding/json"

	"uptimeline/internal/domain"
)

// Request payloads

type RegisterDomainRequest struct {
	DomainID        string `json:"domain_id" minLength:"1" maxLength:"253"`
	IntervalSeconds int64  `json:"interval_seconds" minimum:"1"`
	Stake           int64  `json:"stake" minimum:"0"`
}

type AmountRequest struct {
	Amount int64 `json:"amount"`
}

type IntervalRequest struct {
	IntervalSeconds int64 `json:"interval_seconds"`
}

type CompleteJobRequest struct {
	// JobID of zero completes the caller's oldest pending job for the domain.
	JobID int64 `json:"job_id,omitempty"`
}

type SubmitResultRequest struct {
	IsUp           bool   `json:"is_up"`
	StatusCode     int    `json:"status_code,omitempty"`
	ResponseTimeMs int64  `json:"response_time_ms,omitempty" minimum:"0"`
	Signature      string `json:"signature,omitempty"`
}

type PerformUpkeepRequest struct {
	DomainID string `json:"domain_id,omitempty"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
	Network string `json:"network,omitempty"`
}

// Response payloads

type DevLoginResponse struct {
	Token string `json:"token"`
}

type WhoAmIResponse struct {
	ActorID string `json:"actor_id"`
	Network string `json:"network,omitempty"`
	Source  string `json:"source"`
}

type CreateAPIKeyResponse struct {
	ID      string `json:"id"`
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
	// Key is shown once.
	Key       string `json:"key"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type CheckDueResponse struct {
	DomainID string `json:"domain_id"`
	Due      bool   `json:"due"`
}

type PoolResponse struct {
	Balance int64 `json:"balance"`
}

type DomainList struct {
	Items []domain.Domain `json:"items"`
}

type ValidatorList struct {
	Items []domain.Validator `json:"items"`
}

type JobList struct {
	Items []domain.Job `json:"items"`
}

type CycleList struct {
	Items []domain.Cycle `json:"items"`
}

type SubmissionList struct {
	Items []domain.Submission `json:"items"`
}

type TransferList struct {
	Items []domain.Transfer `json:"items"`
}

type APIKeyList struct {
	Items []domain.APIKey `json:"items"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func eventResponse(e domain.Event) EventResponse {
	payload := map[string]any{}
	if e.Payload != "" {
		_ = json.Unmarshal([]byte(e.Payload), &payload)
	}
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    payload,
	}
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
