package recovery

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fieldgrid/servicedesk/internal/core"
	"github.com/fieldgrid/servicedesk/internal/domain"
	"github.com/fieldgrid/servicedesk/internal/workflow"
)

// DefaultStuckThreshold is how stale a non-terminal request must be before
// it is flagged for admin attention.
const DefaultStuckThreshold = 24 * time.Hour

// Sentinel errors for caller-side classification with errors.Is.
var (
	ErrRequestNotFound       = errors.New("request not found")
	ErrUnknownRecoveryAction = errors.New("unknown recovery action")
	ErrInvalidRecoveryTarget = errors.New("invalid recovery target")
)

// RequestStore is the slice of request persistence the recovery manager
// needs. The repository satisfies both this and the engine's contract.
type RequestStore interface {
	FindByID(ctx context.Context, id string) (*domain.ServiceRequest, error)
	UpdateState(ctx context.Context, req *domain.ServiceRequest) error
	FindStale(ctx context.Context, before time.Time, limit int) ([]domain.ServiceRequest, error)
}

// TransitionStore is the history slice the recovery manager needs.
type TransitionStore interface {
	Append(ctx context.Context, t *domain.StateTransition) (int64, error)
	History(ctx context.Context, requestID string) ([]domain.StateTransition, error)
}

// StuckRequest is one flagged request in an admin report.
type StuckRequest struct {
	ID           string              `json:"id"`
	WorkflowType domain.WorkflowType `json:"workflowType"`
	RoleCurrent  domain.Role         `json:"roleCurrent"`
	Status       domain.Status       `json:"status"`
	Modified     time.Time           `json:"modified"`
	AgeHours     float64             `json:"ageHours"`
}

// RecoveryOption describes one admin action applicable to a request.
type RecoveryOption struct {
	Action      domain.Action `json:"action"`
	Description string        `json:"description"`
	Params      []string      `json:"params,omitempty"`
}

// Manager implements admin-driven recovery for stuck requests. Every
// recovery action appends its own StateTransition with the admin as actor,
// so even override paths stay fully audited.
type Manager struct {
	requests    RequestStore
	transitions TransitionStore
	registry    *workflow.Registry
	clock       core.Clock
	locks       *core.KeyedMutex
	alerter     Alerter
}

func NewManager(requests RequestStore, transitions TransitionStore, registry *workflow.Registry,
	clock core.Clock, locks *core.KeyedMutex, alerter Alerter) *Manager {
	if clock == nil {
		clock = core.NewRealClock()
	}
	if locks == nil {
		locks = core.NewKeyedMutex()
	}
	if alerter == nil {
		alerter = LogAlerter{}
	}
	return &Manager{
		requests:    requests,
		transitions: transitions,
		registry:    registry,
		clock:       clock,
		locks:       locks,
		alerter:     alerter,
	}
}

// DetectStuck lists non-terminal requests untouched for longer than the
// threshold.
func (m *Manager) DetectStuck(ctx context.Context, threshold time.Duration, limit int) ([]StuckRequest, error) {
	if threshold <= 0 {
		threshold = DefaultStuckThreshold
	}
	now := m.clock.Now().UTC()
	stale, err := m.requests.FindStale(ctx, now.Add(-threshold), limit)
	if err != nil {
		return nil, Transient("detect_stuck_workflows", err)
	}
	out := make([]StuckRequest, 0, len(stale))
	for _, req := range stale {
		out = append(out, StuckRequest{
			ID:           req.ID,
			WorkflowType: req.WorkflowType,
			RoleCurrent:  req.RoleCurrent,
			Status:       req.Status,
			Modified:     req.Modified,
			AgeHours:     now.Sub(req.Modified).Hours(),
		})
	}
	return out, nil
}

// RecoveryOptions lists the actions an admin may take on a request.
func (m *Manager) RecoveryOptions(ctx context.Context, requestID string) ([]RecoveryOption, error) {
	req, err := m.requests.FindByID(ctx, requestID)
	if err != nil {
		return nil, Transient("get_recovery_options", err)
	}
	if req == nil {
		return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, requestID)
	}
	if req.Status.Terminal() {
		return []RecoveryOption{}, nil
	}
	options := []RecoveryOption{
		{
			Action:      domain.ActionForceTransition,
			Description: "Override role_current directly, bypassing transition validation",
			Params:      []string{"target_role"},
		},
		{
			Action:      domain.ActionCompleteWorkflow,
			Description: "Force the request to completed with an admin-supplied rating",
			Params:      []string{"rating"},
		},
		{
			Action:      domain.ActionReassignRole,
			Description: "Log a reassignment to a different actor within the same role",
			Params:      []string{"assignee"},
		},
	}
	history, err := m.transitions.History(ctx, requestID)
	if err != nil {
		return nil, Transient("get_recovery_options", err)
	}
	if previousRole(history) != "" {
		options = append(options, RecoveryOption{
			Action:      domain.ActionResetToPrevious,
			Description: "Replay the previous transition's from_role as the current owner",
		})
	}
	return options, nil
}

// Recover executes one admin recovery action. Returns (false, nil) when the
// action does not apply (terminal request, no previous state, bad target).
func (m *Manager) Recover(ctx context.Context, requestID string, action domain.Action, adminID string, data domain.StateData) (bool, error) {
	unlock := m.locks.Lock(requestID)
	defer unlock()

	req, err := m.requests.FindByID(ctx, requestID)
	if err != nil {
		return false, Transient("recover_workflow", err)
	}
	if req == nil {
		return false, fmt.Errorf("%w: %s", ErrRequestNotFound, requestID)
	}
	if req.Status.Terminal() {
		slog.InfoContext(ctx, "Recovery denied, request already terminal",
			"request_id", requestID, "status", string(req.Status))
		return false, nil
	}

	switch action {
	case domain.ActionForceTransition:
		return m.forceTransition(ctx, req, adminID, data)
	case domain.ActionResetToPrevious:
		return m.resetToPrevious(ctx, req, adminID)
	case domain.ActionCompleteWorkflow:
		return m.forceComplete(ctx, req, adminID, data)
	case domain.ActionReassignRole:
		return m.reassignRole(ctx, req, adminID, data)
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownRecoveryAction, action)
	}
}

// forceTransition is the explicit escape hatch: it moves ownership without
// consulting the validator. The target must at least be a defined step of
// the request's workflow so the single-owner invariant stays meaningful.
func (m *Manager) forceTransition(ctx context.Context, req *domain.ServiceRequest, adminID string, data domain.StateData) (bool, error) {
	target, err := domain.ParseRole(data["target_role"])
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidRecoveryTarget, err)
	}
	def, err := m.registry.Get(req.WorkflowType)
	if err != nil {
		return false, err
	}
	if _, ok := def.StepFor(target); !ok {
		return false, fmt.Errorf("%w: role %q is not a step of workflow %q", ErrInvalidRecoveryTarget, target, req.WorkflowType)
	}

	fromRole := req.RoleCurrent
	comment := fmt.Sprintf("admin override: forced transition from %s to %s", fromRole, target)
	apply := func(r *domain.ServiceRequest) {
		r.RoleCurrent = target
		if r.Status == domain.StatusCreated {
			r.Status = domain.StatusInProgress
		}
	}
	return m.applyRecovery(ctx, req, domain.ActionForceTransition, adminID, fromRole, comment, apply)
}

// resetToPrevious replays the from_role of the last real transition.
func (m *Manager) resetToPrevious(ctx context.Context, req *domain.ServiceRequest, adminID string) (bool, error) {
	history, err := m.transitions.History(ctx, req.ID)
	if err != nil {
		return false, Transient("reset_to_previous_state", err)
	}
	prev := previousRole(history)
	if prev == "" {
		slog.InfoContext(ctx, "Reset denied, no previous state to replay", "request_id", req.ID)
		return false, nil
	}
	fromRole := req.RoleCurrent
	comment := fmt.Sprintf("admin override: reset from %s to previous role %s", fromRole, prev)
	apply := func(r *domain.ServiceRequest) { r.RoleCurrent = prev }
	return m.applyRecovery(ctx, req, domain.ActionResetToPrevious, adminID, fromRole, comment, apply)
}

// forceComplete terminates the request with an admin-supplied (or default)
// rating, distinct from the engine's happy-path completion.
func (m *Manager) forceComplete(ctx context.Context, req *domain.ServiceRequest, adminID string, data domain.StateData) (bool, error) {
	rating := int64(3)
	if s, ok := data["rating"]; ok {
		var n int64
		if _, err := fmt.Sscanf(s, "%d", &n); err == nil {
			rating = n
		}
	}
	fromRole := req.RoleCurrent
	comment := "admin override: forced completion"
	apply := func(r *domain.ServiceRequest) {
		r.Status = domain.StatusCompleted
		if !r.CompletionRating.Valid {
			r.CompletionRating = sql.NullInt64{Int64: rating, Valid: true}
		}
	}
	return m.applyRecovery(ctx, req, domain.ActionCompleteWorkflow, adminID, fromRole, comment, apply)
}

// reassignRole changes nothing on the request itself: same role, different
// actor. Only the audit record is written.
func (m *Manager) reassignRole(ctx context.Context, req *domain.ServiceRequest, adminID string, data domain.StateData) (bool, error) {
	now := m.clock.Now().UTC()
	comment := fmt.Sprintf("admin override: reassigned %s to %s", req.RoleCurrent, data["assignee"])
	_, err := m.transitions.Append(ctx, &domain.StateTransition{
		RequestID:      req.ID,
		FromRole:       sql.NullString{String: string(req.RoleCurrent), Valid: true},
		ToRole:         req.RoleCurrent,
		Action:         domain.ActionReassignRole,
		ActorID:        adminID,
		TransitionData: data,
		Comments:       comment,
		Created:        now,
	})
	if err != nil {
		return false, Transient("reassign_role", err)
	}
	slog.InfoContext(ctx, "Role reassigned", "request_id", req.ID, "role", string(req.RoleCurrent), "admin", adminID)
	return true, nil
}

// applyRecovery runs the shared transactional shape of the state-changing
// recovery actions: mutate under rollback protection, append the override
// transition.
func (m *Manager) applyRecovery(ctx context.Context, req *domain.ServiceRequest, action domain.Action,
	adminID string, fromRole domain.Role, comment string, apply func(*domain.ServiceRequest)) (bool, error) {

	snapshot := req.Snapshot()
	now := m.clock.Now().UTC()
	apply(req)
	req.Modified = now

	txn := NewTxn("recover_workflow")
	txn.Add("update_request",
		func(ctx context.Context) error { return m.requests.UpdateState(ctx, req) },
		func(ctx context.Context) error { return m.requests.UpdateState(ctx, snapshot) },
	)
	txn.Add("append_override_transition",
		func(ctx context.Context) error {
			_, err := m.transitions.Append(ctx, &domain.StateTransition{
				RequestID: req.ID,
				FromRole:  sql.NullString{String: string(fromRole), Valid: true},
				ToRole:    req.RoleCurrent,
				Action:    action,
				ActorID:   adminID,
				Comments:  comment,
				Created:   now,
			})
			return err
		},
		nil,
	)
	if err := txn.Commit(ctx); err != nil {
		Surface(m.alerter, err)
		return false, err
	}
	slog.WarnContext(ctx, "Recovery action applied",
		"request_id", req.ID, "action", string(action), "admin", adminID,
		"from_role", string(fromRole), "to_role", string(req.RoleCurrent))
	return true, nil
}

// RunStuckScan periodically reports stuck requests; recovery itself stays
// admin-driven.
func (m *Manager) RunStuckScan(ctx context.Context, interval, threshold time.Duration) {
	slog.Info("Stuck workflow scanner started", "interval", interval.String(), "threshold", threshold.String())
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Stuck workflow scanner stopping due to context cancel")
			return
		case <-m.clock.After(interval):
			stuck, err := m.DetectStuck(ctx, threshold, 100)
			if err != nil {
				Surface(m.alerter, err)
				continue
			}
			for _, s := range stuck {
				slog.Warn("Stuck workflow detected",
					"request_id", s.ID, "workflow_type", string(s.WorkflowType),
					"role_current", string(s.RoleCurrent), "age_hours", s.AgeHours)
			}
		}
	}
}

// previousRole walks history backwards for the from_role of the latest
// record that actually changed roles, skipping audit-only entries.
func previousRole(history []domain.StateTransition) domain.Role {
	for i := len(history) - 1; i >= 0; i-- {
		t := history[i]
		from := t.FromRoleOrEmpty()
		if from != "" && from != t.ToRole {
			return from
		}
	}
	return ""
}
