package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fieldgrid/servicedesk/internal/core"
	"github.com/fieldgrid/servicedesk/internal/domain"
	"github.com/fieldgrid/servicedesk/internal/recovery"
	"github.com/fieldgrid/servicedesk/internal/workflow"
)

// ErrRequestNotFound is returned when an operation references an id that has
// no stored request.
var ErrRequestNotFound = errors.New("request not found")

// Engine orchestrates service-request workflows: it seeds new requests,
// validates and executes role-to-role transitions, appends the immutable
// history, and coordinates the notification and inventory side effects.
type Engine struct {
	registry    *workflow.Registry
	validator   *workflow.Validator
	requests    RequestStore
	transitions TransitionStore
	notifier    NotificationSender
	retries     RetryQueue
	inventory   InventoryManager
	alerter     recovery.Alerter
	clock       core.Clock
	locks       *core.KeyedMutex
}

func New(registry *workflow.Registry, requests RequestStore, transitions TransitionStore,
	notifier NotificationSender, retries RetryQueue, inventory InventoryManager,
	alerter recovery.Alerter, clock core.Clock, locks *core.KeyedMutex) *Engine {
	if clock == nil {
		clock = core.NewRealClock()
	}
	if locks == nil {
		locks = core.NewKeyedMutex()
	}
	if alerter == nil {
		alerter = recovery.LogAlerter{}
	}
	return &Engine{
		registry:    registry,
		validator:   workflow.NewValidator(registry),
		requests:    requests,
		transitions: transitions,
		notifier:    notifier,
		retries:     retries,
		inventory:   inventory,
		alerter:     alerter,
		clock:       clock,
		locks:       locks,
	}
}

// GetDefinition exposes the registry lookup for handler layers.
func (e *Engine) GetDefinition(t domain.WorkflowType) (*workflow.Definition, error) {
	return e.registry.Get(t)
}

// History returns the full transition history for a request.
func (e *Engine) History(ctx context.Context, requestID string) ([]domain.StateTransition, error) {
	return e.transitions.History(ctx, requestID)
}

// GetRequest loads a request, (nil, nil) when absent.
func (e *Engine) GetRequest(ctx context.Context, requestID string) (*domain.ServiceRequest, error) {
	return e.requests.FindByID(ctx, requestID)
}

// InitiateInput carries everything needed to seed a new request.
type InitiateInput struct {
	ClientID    int64
	Priority    domain.Priority
	Description string
	Data        domain.StateData
	// InitialRole overrides the definition's initial role, used when staff
	// create on behalf of a client and the request should not start with
	// the client step.
	InitialRole      domain.Role
	CreatedByStaff   bool
	StaffCreatorID   int64
	StaffCreatorRole domain.Role
	ActorID          string
	Comments         string
}

// Initiate seeds a new request and appends the synthetic created transition.
// There is no dedup key: duplicate submissions create duplicate requests and
// must be prevented by the caller.
func (e *Engine) Initiate(ctx context.Context, workflowType domain.WorkflowType, in InitiateInput) (string, error) {
	def, err := e.registry.Get(workflowType)
	if err != nil {
		return "", err
	}

	role := def.InitialRole
	if in.InitialRole != "" {
		if _, ok := def.StepFor(in.InitialRole); !ok {
			return "", fmt.Errorf("role %q is not a step of workflow %q", in.InitialRole, workflowType)
		}
		role = in.InitialRole
	}

	now := e.clock.Now().UTC()
	req := &domain.ServiceRequest{
		ID:           newRequestID(),
		WorkflowType: workflowType,
		ClientID:     in.ClientID,
		RoleCurrent:  role,
		Status:       domain.StatusCreated,
		Priority:     in.Priority,
		Description:  in.Description,
		StateData:    domain.StateData{}.Merge(in.Data),
		Created:      now,
		Modified:     now,
	}
	if req.Priority == "" {
		req.Priority = domain.PriorityMedium
	}
	if in.CreatedByStaff {
		req.CreatedByStaff = true
		req.StaffCreatorID = sql.NullInt64{Int64: in.StaffCreatorID, Valid: true}
		req.StaffCreatorRole = sql.NullString{String: string(in.StaffCreatorRole), Valid: true}
		req.CreationSource = domain.CreationSourceStaff
	} else {
		req.CreationSource = domain.CreationSourceClient
	}

	txn := recovery.NewTxn("initiate_workflow")
	txn.Add("save_request",
		func(ctx context.Context) error { return e.requests.Save(ctx, req) },
		func(ctx context.Context) error { return e.requests.Delete(ctx, req.ID) },
	)
	txn.Add("append_created_transition",
		func(ctx context.Context) error {
			_, err := e.transitions.Append(ctx, &domain.StateTransition{
				RequestID:      req.ID,
				ToRole:         role,
				Action:         domain.ActionCreateRequest,
				ActorID:        in.ActorID,
				TransitionData: in.Data,
				Comments:       in.Comments,
				Created:        now,
			})
			return err
		},
		nil,
	)
	if err := txn.Commit(ctx); err != nil {
		recovery.Surface(e.alerter, err)
		return "", err
	}

	slog.InfoContext(ctx, "Workflow initiated",
		"request_id", req.ID, "workflow_type", string(workflowType), "role_current", string(role))

	// Staff-created requests start with a staff role that needs to know
	// about its new assignment; client-started ones ping nobody.
	e.notifyAssignment(ctx, role, req.ID, workflowType)

	return req.ID, nil
}

// TransitionInput carries the per-step working data.
type TransitionInput struct {
	Data      domain.StateData
	Equipment domain.EquipmentList
	ActorID   string
	Comments  string
}

// Transition validates and executes one action by actorRole on the request.
// It returns (false, nil) for ordinary denials (wrong actor, invalid action,
// terminal state, missing data) so callers can answer "not allowed" without
// special-casing errors; errors are reserved for infrastructure failures.
func (e *Engine) Transition(ctx context.Context, requestID string, action domain.Action, actorRole domain.Role, in TransitionInput) (bool, error) {
	unlock := e.locks.Lock(requestID)
	defer unlock()

	req, err := e.requests.FindByID(ctx, requestID)
	if err != nil {
		return false, recovery.Transient("transition_workflow", err)
	}
	if req == nil {
		return false, ErrRequestNotFound
	}

	decision, err := e.validator.Validate(req, action, actorRole, in.Data)
	if err != nil {
		return false, err
	}
	if !decision.Allowed {
		slog.InfoContext(ctx, "Transition denied",
			"request_id", requestID, "action", string(action), "actor_role", string(actorRole),
			"reason", string(decision.Reason), "missing_field", decision.MissingField)
		return false, nil
	}

	if action == domain.ActionCancelRequest {
		return e.cancelLocked(ctx, req, actorRole, in)
	}
	if decision.Completes {
		return e.completeLocked(ctx, req, CompletionInput{
			Action:   action,
			ActorID:  in.ActorID,
			Feedback: in.Comments,
			Rating:   ratingFrom(in.Data),
			Data:     in.Data,
		})
	}

	snapshot := req.Snapshot()
	now := e.clock.Now().UTC()

	fromRole := req.RoleCurrent
	req.StateData = req.StateData.Merge(in.Data)
	if len(in.Equipment) > 0 {
		req.EquipmentUsed = append(req.EquipmentUsed, in.Equipment...)
	}
	roleChanged := false
	if decision.NextRole != nil && *decision.NextRole != req.RoleCurrent {
		req.RoleCurrent = *decision.NextRole
		roleChanged = true
	}
	if req.Status == domain.StatusCreated {
		req.Status = domain.StatusInProgress
	}
	req.Modified = now

	txn := recovery.NewTxn("transition_workflow")
	txn.Add("update_request",
		func(ctx context.Context) error { return e.requests.UpdateState(ctx, req) },
		func(ctx context.Context) error { return e.requests.UpdateState(ctx, snapshot) },
	)
	txn.Add("append_transition",
		func(ctx context.Context) error {
			_, err := e.transitions.Append(ctx, &domain.StateTransition{
				RequestID:      req.ID,
				FromRole:       sql.NullString{String: string(fromRole), Valid: true},
				ToRole:         req.RoleCurrent,
				Action:         action,
				ActorID:        in.ActorID,
				TransitionData: in.Data,
				Comments:       in.Comments,
				Created:        now,
			})
			return err
		},
		nil,
	)
	if err := txn.Commit(ctx); err != nil {
		recovery.Surface(e.alerter, err)
		return false, err
	}

	slog.InfoContext(ctx, "Transition executed",
		"request_id", req.ID, "action", string(action),
		"from_role", string(fromRole), "to_role", string(req.RoleCurrent))

	// Side effects run after the commit: a failure here never unwinds the
	// already-recorded transition.
	if len(in.Equipment) > 0 {
		e.reserveEquipment(ctx, req, in.Equipment)
	}
	if roleChanged {
		e.notifyAssignment(ctx, req.RoleCurrent, req.ID, req.WorkflowType)
	}

	return true, nil
}

// CompletionInput carries the final feedback for the happy-path close.
type CompletionInput struct {
	Action   domain.Action
	ActorID  string
	Rating   *int
	Feedback string
	Data     domain.StateData
}

// Complete marks a request completed. This is the only happy-path route to a
// terminal state; forced admin completion lives in the recovery manager.
func (e *Engine) Complete(ctx context.Context, requestID string, in CompletionInput) (bool, error) {
	unlock := e.locks.Lock(requestID)
	defer unlock()

	req, err := e.requests.FindByID(ctx, requestID)
	if err != nil {
		return false, recovery.Transient("complete_workflow", err)
	}
	if req == nil {
		return false, ErrRequestNotFound
	}
	if req.Status.Terminal() {
		slog.InfoContext(ctx, "Completion denied, request already terminal",
			"request_id", requestID, "status", string(req.Status))
		return false, nil
	}
	return e.completeLocked(ctx, req, in)
}

func (e *Engine) completeLocked(ctx context.Context, req *domain.ServiceRequest, in CompletionInput) (bool, error) {
	snapshot := req.Snapshot()
	now := e.clock.Now().UTC()

	action := in.Action
	if action == "" {
		action = domain.ActionCompleteWorkflow
	}

	req.StateData = req.StateData.Merge(in.Data)
	req.Status = domain.StatusCompleted
	if in.Rating != nil {
		req.CompletionRating = sql.NullInt64{Int64: int64(*in.Rating), Valid: true}
	}
	if in.Feedback != "" {
		req.FeedbackComments = sql.NullString{String: in.Feedback, Valid: true}
	}
	req.Modified = now

	txn := recovery.NewTxn("complete_workflow")
	txn.Add("update_request",
		func(ctx context.Context) error { return e.requests.UpdateState(ctx, req) },
		func(ctx context.Context) error { return e.requests.UpdateState(ctx, snapshot) },
	)
	txn.Add("append_final_transition",
		func(ctx context.Context) error {
			_, err := e.transitions.Append(ctx, &domain.StateTransition{
				RequestID:      req.ID,
				FromRole:       sql.NullString{String: string(snapshot.RoleCurrent), Valid: true},
				ToRole:         req.RoleCurrent,
				Action:         action,
				ActorID:        in.ActorID,
				TransitionData: in.Data,
				Comments:       in.Feedback,
				Created:        now,
			})
			return err
		},
		nil,
	)
	if err := txn.Commit(ctx); err != nil {
		recovery.Surface(e.alerter, err)
		return false, err
	}

	slog.InfoContext(ctx, "Workflow completed", "request_id", req.ID, "action", string(action))

	e.consumeInventory(ctx, req)

	return true, nil
}

// Cancel marks a request cancelled. Available to the current owner from any
// non-terminal state.
func (e *Engine) Cancel(ctx context.Context, requestID string, actorRole domain.Role, in TransitionInput) (bool, error) {
	unlock := e.locks.Lock(requestID)
	defer unlock()

	req, err := e.requests.FindByID(ctx, requestID)
	if err != nil {
		return false, recovery.Transient("cancel_workflow", err)
	}
	if req == nil {
		return false, ErrRequestNotFound
	}

	decision, err := e.validator.Validate(req, domain.ActionCancelRequest, actorRole, in.Data)
	if err != nil {
		return false, err
	}
	if !decision.Allowed {
		slog.InfoContext(ctx, "Cancellation denied",
			"request_id", requestID, "actor_role", string(actorRole), "reason", string(decision.Reason))
		return false, nil
	}
	return e.cancelLocked(ctx, req, actorRole, in)
}

func (e *Engine) cancelLocked(ctx context.Context, req *domain.ServiceRequest, actorRole domain.Role, in TransitionInput) (bool, error) {
	snapshot := req.Snapshot()
	now := e.clock.Now().UTC()

	req.StateData = req.StateData.Merge(in.Data)
	req.Status = domain.StatusCancelled
	req.Modified = now

	txn := recovery.NewTxn("cancel_workflow")
	txn.Add("update_request",
		func(ctx context.Context) error { return e.requests.UpdateState(ctx, req) },
		func(ctx context.Context) error { return e.requests.UpdateState(ctx, snapshot) },
	)
	txn.Add("append_cancel_transition",
		func(ctx context.Context) error {
			_, err := e.transitions.Append(ctx, &domain.StateTransition{
				RequestID:      req.ID,
				FromRole:       sql.NullString{String: string(actorRole), Valid: true},
				ToRole:         req.RoleCurrent,
				Action:         domain.ActionCancelRequest,
				ActorID:        in.ActorID,
				TransitionData: in.Data,
				Comments:       in.Comments,
				Created:        now,
			})
			return err
		},
		nil,
	)
	if err := txn.Commit(ctx); err != nil {
		recovery.Surface(e.alerter, err)
		return false, err
	}

	slog.InfoContext(ctx, "Workflow cancelled", "request_id", req.ID, "by_role", string(actorRole))
	return true, nil
}

func ratingFrom(data domain.StateData) *int {
	s, ok := data["rating"]
	if !ok {
		return nil
	}
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return nil
	}
	return &n
}

// newRequestID produces an opaque unique identifier.
func newRequestID() string {
	b := make([]byte, 10)
	_, _ = rand.Read(b)
	return "SR-" + hex.EncodeToString(b)
}
