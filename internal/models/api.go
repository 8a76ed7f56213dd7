package models

import (
	"time"

	"github.com/fieldgrid/servicedesk/internal/domain"
)

// CreateRequestRequest opens a new service request.
type CreateRequestRequest struct {
	WorkflowType string            `json:"workflowType"`
	ClientID     int64             `json:"clientId"`
	Priority     string            `json:"priority,omitempty"`
	Description  string            `json:"description,omitempty"`
	Data         map[string]string `json:"data,omitempty"`
	// InitialRole starts a staff-created request at a later step than the
	// definition's default. Staff identity comes from the API key, not the
	// payload.
	InitialRole string `json:"initialRole,omitempty"`
	Comments    string `json:"comments,omitempty"`
}

type CreateRequestResponse struct {
	ID string `json:"id"`
}

// TransitionRequest executes one workflow action on behalf of actorRole.
type TransitionRequest struct {
	Action    string                 `json:"action"`
	ActorRole string                 `json:"actorRole"`
	ActorID   string                 `json:"actorId,omitempty"`
	Data      map[string]string      `json:"data,omitempty"`
	Equipment []domain.EquipmentItem `json:"equipment,omitempty"`
	Comments  string                 `json:"comments,omitempty"`
}

type TransitionResponse struct {
	OK bool `json:"ok"`
}

// CompleteRequest closes a request with client feedback.
type CompleteRequest struct {
	ActorID  string            `json:"actorId,omitempty"`
	Rating   *int              `json:"rating,omitempty"`
	Feedback string            `json:"feedback,omitempty"`
	Data     map[string]string `json:"data,omitempty"`
}

// CancelRequest cancels a request from its current state.
type CancelRequest struct {
	ActorRole string            `json:"actorRole"`
	ActorID   string            `json:"actorId,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
	Comments  string            `json:"comments,omitempty"`
}

// ServiceRequestResponse is the API projection of a stored request.
type ServiceRequestResponse struct {
	ID               string                 `json:"id"`
	WorkflowType     string                 `json:"workflowType"`
	ClientID         int64                  `json:"clientId"`
	RoleCurrent      string                 `json:"roleCurrent"`
	Status           string                 `json:"status"`
	Priority         string                 `json:"priority"`
	Description      string                 `json:"description"`
	StateData        map[string]string      `json:"stateData"`
	EquipmentUsed    []domain.EquipmentItem `json:"equipmentUsed"`
	InventoryUpdated bool                   `json:"inventoryUpdated"`
	CreatedByStaff   bool                   `json:"createdByStaff"`
	CreationSource   string                 `json:"creationSource"`
	CompletionRating *int64                 `json:"completionRating,omitempty"`
	FeedbackComments string                 `json:"feedbackComments,omitempty"`
	Created          time.Time              `json:"created"`
	Modified         time.Time              `json:"modified"`
}

// TransitionHistoryEntry is one audit record in a history response.
type TransitionHistoryEntry struct {
	ID       int64             `json:"id"`
	FromRole string            `json:"fromRole,omitempty"`
	ToRole   string            `json:"toRole"`
	Action   string            `json:"action"`
	ActorID  string            `json:"actorId,omitempty"`
	Data     map[string]string `json:"data,omitempty"`
	Comments string            `json:"comments,omitempty"`
	Created  time.Time         `json:"created"`
}

type HistoryResponse struct {
	RequestID   string                   `json:"requestId"`
	Transitions []TransitionHistoryEntry `json:"transitions"`
}

// RecoverRequest applies one admin recovery action.
type RecoverRequest struct {
	Action string            `json:"action"`
	Data   map[string]string `json:"data,omitempty"`
}

type RecoverResponse struct {
	OK bool `json:"ok"`
}
