package controllers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/fieldgrid/servicedesk/internal/domain"
	"github.com/fieldgrid/servicedesk/internal/engine"
	"github.com/fieldgrid/servicedesk/internal/models"
	"github.com/fieldgrid/servicedesk/internal/util"
	"github.com/fieldgrid/servicedesk/internal/workflow"
)

// RequestsController holds dependencies for the service-request endpoints.
type RequestsController struct {
	AuthController
	Engine *engine.Engine
}

func NewRequestsController(eng *engine.Engine, staffRepo StaffRepo) *RequestsController {
	return &RequestsController{Engine: eng, AuthController: AuthController{StaffRepo: staffRepo}}
}

func (c *RequestsController) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.CreateRequestRequest](r)
	if err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if req.WorkflowType == "" || req.ClientID == 0 {
		http.Error(w, "workflowType and clientId are required", http.StatusBadRequest)
		return
	}

	in := engine.InitiateInput{
		ClientID:    req.ClientID,
		Priority:    domain.Priority(req.Priority),
		Description: req.Description,
		Data:        domain.StateData(req.Data),
		ActorID:     username(r.Context()),
		Comments:    req.Comments,
	}

	// A non-client caller is creating on behalf of the client.
	if role := staffRole(r.Context()); role != "" && role != domain.RoleClient {
		in.CreatedByStaff = true
		in.StaffCreatorID = staffID(r.Context())
		in.StaffCreatorRole = role
		if req.InitialRole != "" {
			initial, err := domain.ParseRole(req.InitialRole)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			in.InitialRole = initial
		}
	} else if req.InitialRole != "" {
		http.Error(w, "initialRole requires a staff API key", http.StatusForbidden)
		return
	}

	id, err := c.Engine.Initiate(r.Context(), domain.WorkflowType(req.WorkflowType), in)
	if err != nil {
		var unknown workflow.ErrUnknownWorkflowType
		if errors.As(err, &unknown) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		slog.Error("Failed to initiate request", "error", err)
		http.Error(w, "failed to create request", http.StatusInternalServerError)
		return
	}

	util.WriteJSONResponse(w, http.StatusCreated, models.CreateRequestResponse{ID: id})
}

func (c *RequestsController) handleTransition(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	req, err := util.DecodeJSONBody[models.TransitionRequest](r)
	if err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if req.Action == "" || req.ActorRole == "" {
		http.Error(w, "action and actorRole are required", http.StatusBadRequest)
		return
	}
	actorRole, err := domain.ParseRole(req.ActorRole)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ok, err := c.Engine.Transition(r.Context(), id, domain.Action(req.Action), actorRole, engine.TransitionInput{
		Data:      domain.StateData(req.Data),
		Equipment: domain.EquipmentList(req.Equipment),
		ActorID:   actorID(r, req.ActorID),
		Comments:  req.Comments,
	})
	if err != nil {
		if errors.Is(err, engine.ErrRequestNotFound) {
			http.Error(w, "request not found", http.StatusNotFound)
			return
		}
		slog.Error("Transition failed", "requestId", id, "action", req.Action, "error", err)
		http.Error(w, "failed to execute transition", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "transition not allowed", http.StatusConflict)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, models.TransitionResponse{OK: true})
}

func (c *RequestsController) handleComplete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	req, err := util.DecodeJSONBody[models.CompleteRequest](r)
	if err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	ok, err := c.Engine.Complete(r.Context(), id, engine.CompletionInput{
		Action:   domain.ActionSubmitFeedback,
		ActorID:  actorID(r, req.ActorID),
		Rating:   req.Rating,
		Feedback: req.Feedback,
		Data:     domain.StateData(req.Data),
	})
	if err != nil {
		if errors.Is(err, engine.ErrRequestNotFound) {
			http.Error(w, "request not found", http.StatusNotFound)
			return
		}
		slog.Error("Completion failed", "requestId", id, "error", err)
		http.Error(w, "failed to complete request", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "request already terminal", http.StatusConflict)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, models.TransitionResponse{OK: true})
}

func (c *RequestsController) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	req, err := util.DecodeJSONBody[models.CancelRequest](r)
	if err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if req.ActorRole == "" {
		http.Error(w, "actorRole is required", http.StatusBadRequest)
		return
	}
	actorRole, err := domain.ParseRole(req.ActorRole)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ok, err := c.Engine.Cancel(r.Context(), id, actorRole, engine.TransitionInput{
		Data:     domain.StateData(req.Data),
		ActorID:  actorID(r, req.ActorID),
		Comments: req.Comments,
	})
	if err != nil {
		if errors.Is(err, engine.ErrRequestNotFound) {
			http.Error(w, "request not found", http.StatusNotFound)
			return
		}
		slog.Error("Cancellation failed", "requestId", id, "error", err)
		http.Error(w, "failed to cancel request", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "cancellation not allowed", http.StatusConflict)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, models.TransitionResponse{OK: true})
}

func (c *RequestsController) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	req, err := c.Engine.GetRequest(r.Context(), id)
	if err != nil {
		slog.Error("Failed to load request", "requestId", id, "error", err)
		http.Error(w, "failed to load request", http.StatusInternalServerError)
		return
	}
	if req == nil {
		http.Error(w, "request not found", http.StatusNotFound)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, mapRequestToAPI(req))
}

func (c *RequestsController) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	req, err := c.Engine.GetRequest(r.Context(), id)
	if err != nil {
		slog.Error("Failed to load request", "requestId", id, "error", err)
		http.Error(w, "failed to load history", http.StatusInternalServerError)
		return
	}
	if req == nil {
		http.Error(w, "request not found", http.StatusNotFound)
		return
	}
	history, err := c.Engine.History(r.Context(), id)
	if err != nil {
		slog.Error("Failed to load history", "requestId", id, "error", err)
		http.Error(w, "failed to load history", http.StatusInternalServerError)
		return
	}

	entries := make([]models.TransitionHistoryEntry, 0, len(history))
	for _, t := range history {
		entries = append(entries, models.TransitionHistoryEntry{
			ID:       t.ID,
			FromRole: string(t.FromRoleOrEmpty()),
			ToRole:   string(t.ToRole),
			Action:   string(t.Action),
			ActorID:  t.ActorID,
			Data:     t.TransitionData,
			Comments: t.Comments,
			Created:  t.Created,
		})
	}
	util.WriteJSONResponse(w, http.StatusOK, models.HistoryResponse{RequestID: id, Transitions: entries})
}

func mapRequestToAPI(req *domain.ServiceRequest) models.ServiceRequestResponse {
	out := models.ServiceRequestResponse{
		ID:               req.ID,
		WorkflowType:     string(req.WorkflowType),
		ClientID:         req.ClientID,
		RoleCurrent:      string(req.RoleCurrent),
		Status:           string(req.Status),
		Priority:         string(req.Priority),
		Description:      req.Description,
		StateData:        req.StateData,
		EquipmentUsed:    req.EquipmentUsed,
		InventoryUpdated: req.InventoryUpdated,
		CreatedByStaff:   req.CreatedByStaff,
		CreationSource:   req.CreationSource,
		Created:          req.Created,
		Modified:         req.Modified,
	}
	if req.CompletionRating.Valid {
		rating := req.CompletionRating.Int64
		out.CompletionRating = &rating
	}
	if req.FeedbackComments.Valid {
		out.FeedbackComments = req.FeedbackComments.String
	}
	return out
}

// actorID prefers the authenticated username over the payload value.
func actorID(r *http.Request, fromBody string) string {
	if name := username(r.Context()); name != "" {
		return name
	}
	return fromBody
}
