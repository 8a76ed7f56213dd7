package recovery

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/fieldgrid/servicedesk/internal/domain"
	"github.com/fieldgrid/servicedesk/internal/workflow"
)

type MockRecoveryRequestStore struct {
	reqs    map[string]*domain.ServiceRequest
	updated []*domain.ServiceRequest
}

func newMockRecoveryRequestStore() *MockRecoveryRequestStore {
	return &MockRecoveryRequestStore{reqs: map[string]*domain.ServiceRequest{}}
}

func (m *MockRecoveryRequestStore) FindByID(ctx context.Context, id string) (*domain.ServiceRequest, error) {
	return m.reqs[id], nil
}

func (m *MockRecoveryRequestStore) UpdateState(ctx context.Context, req *domain.ServiceRequest) error {
	cp := *req
	m.updated = append(m.updated, &cp)
	m.reqs[req.ID] = req
	return nil
}

func (m *MockRecoveryRequestStore) FindStale(ctx context.Context, before time.Time, limit int) ([]domain.ServiceRequest, error) {
	var out []domain.ServiceRequest
	for _, r := range m.reqs {
		if !r.Status.Terminal() && r.Modified.Before(before) {
			out = append(out, *r)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

type MockHistoryStore struct {
	history  map[string][]domain.StateTransition
	appended []*domain.StateTransition
}

func newMockHistoryStore() *MockHistoryStore {
	return &MockHistoryStore{history: map[string][]domain.StateTransition{}}
}

func (m *MockHistoryStore) Append(ctx context.Context, t *domain.StateTransition) (int64, error) {
	m.appended = append(m.appended, t)
	m.history[t.RequestID] = append(m.history[t.RequestID], *t)
	return int64(len(m.appended)), nil
}

func (m *MockHistoryStore) History(ctx context.Context, requestID string) ([]domain.StateTransition, error) {
	return m.history[requestID], nil
}

func from(role domain.Role) sql.NullString {
	return sql.NullString{String: string(role), Valid: true}
}

func stuckManager(reqs *MockRecoveryRequestStore, hist *MockHistoryStore, clock *fakeClock) *Manager {
	return NewManager(reqs, hist, workflow.NewRegistry(), clock, nil, nil)
}

func TestDetectStuckFlagsOnlyStaleNonTerminal(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))
	reqs := newMockRecoveryRequestStore()
	now := clock.Now()

	reqs.reqs["SR-old"] = &domain.ServiceRequest{
		ID: "SR-old", WorkflowType: domain.WorkflowConnectionRequest,
		RoleCurrent: domain.RoleManager, Status: domain.StatusInProgress,
		Modified: now.Add(-48 * time.Hour),
	}
	reqs.reqs["SR-fresh"] = &domain.ServiceRequest{
		ID: "SR-fresh", WorkflowType: domain.WorkflowConnectionRequest,
		RoleCurrent: domain.RoleManager, Status: domain.StatusInProgress,
		Modified: now.Add(-1 * time.Hour),
	}
	reqs.reqs["SR-done"] = &domain.ServiceRequest{
		ID: "SR-done", WorkflowType: domain.WorkflowConnectionRequest,
		RoleCurrent: domain.RoleClient, Status: domain.StatusCompleted,
		Modified: now.Add(-72 * time.Hour),
	}

	m := stuckManager(reqs, newMockHistoryStore(), clock)
	stuck, err := m.DetectStuck(context.Background(), 24*time.Hour, 100)
	if err != nil {
		t.Fatalf("DetectStuck returned error: %v", err)
	}
	if len(stuck) != 1 || stuck[0].ID != "SR-old" {
		t.Fatalf("expected only SR-old, got %+v", stuck)
	}
	if stuck[0].AgeHours < 47.9 || stuck[0].AgeHours > 48.1 {
		t.Errorf("expected ~48h age, got %f", stuck[0].AgeHours)
	}
}

func TestRecoveryOptionsIncludeResetOnlyWithHistory(t *testing.T) {
	clock := newFakeClock(time.Now())
	reqs := newMockRecoveryRequestStore()
	hist := newMockHistoryStore()
	reqs.reqs["SR-1"] = &domain.ServiceRequest{
		ID: "SR-1", WorkflowType: domain.WorkflowConnectionRequest,
		RoleCurrent: domain.RoleManager, Status: domain.StatusInProgress,
	}
	m := stuckManager(reqs, hist, clock)

	options, err := m.RecoveryOptions(context.Background(), "SR-1")
	if err != nil {
		t.Fatalf("RecoveryOptions returned error: %v", err)
	}
	if hasOption(options, domain.ActionResetToPrevious) {
		t.Error("reset must not be offered without a prior role change")
	}
	for _, want := range []domain.Action{domain.ActionForceTransition, domain.ActionCompleteWorkflow, domain.ActionReassignRole} {
		if !hasOption(options, want) {
			t.Errorf("missing option %s", want)
		}
	}

	hist.history["SR-1"] = []domain.StateTransition{
		{RequestID: "SR-1", FromRole: from(domain.RoleClient), ToRole: domain.RoleManager, Action: domain.ActionSubmitRequest},
	}
	options, err = m.RecoveryOptions(context.Background(), "SR-1")
	if err != nil {
		t.Fatalf("RecoveryOptions returned error: %v", err)
	}
	if !hasOption(options, domain.ActionResetToPrevious) {
		t.Error("reset must be offered once history has a role change")
	}
}

func TestRecoveryOptionsEmptyForTerminal(t *testing.T) {
	clock := newFakeClock(time.Now())
	reqs := newMockRecoveryRequestStore()
	reqs.reqs["SR-1"] = &domain.ServiceRequest{
		ID: "SR-1", WorkflowType: domain.WorkflowConnectionRequest,
		RoleCurrent: domain.RoleClient, Status: domain.StatusCancelled,
	}
	m := stuckManager(reqs, newMockHistoryStore(), clock)

	options, err := m.RecoveryOptions(context.Background(), "SR-1")
	if err != nil {
		t.Fatalf("RecoveryOptions returned error: %v", err)
	}
	if len(options) != 0 {
		t.Errorf("terminal requests have no recovery options, got %+v", options)
	}
}

func TestForceTransitionMovesOwnershipAndAudits(t *testing.T) {
	clock := newFakeClock(time.Now())
	reqs := newMockRecoveryRequestStore()
	hist := newMockHistoryStore()
	reqs.reqs["SR-1"] = &domain.ServiceRequest{
		ID: "SR-1", WorkflowType: domain.WorkflowConnectionRequest,
		RoleCurrent: domain.RoleManager, Status: domain.StatusInProgress,
		StateData: domain.StateData{},
	}
	m := stuckManager(reqs, hist, clock)

	ok, err := m.Recover(context.Background(), "SR-1", domain.ActionForceTransition, "admin-1",
		domain.StateData{"target_role": "technician"})
	if err != nil || !ok {
		t.Fatalf("expected recovery to apply, ok=%v err=%v", ok, err)
	}
	if reqs.reqs["SR-1"].RoleCurrent != domain.RoleTechnician {
		t.Errorf("expected technician, got %s", reqs.reqs["SR-1"].RoleCurrent)
	}
	if len(hist.appended) != 1 {
		t.Fatalf("expected an override audit record, got %d", len(hist.appended))
	}
	tr := hist.appended[0]
	if tr.Action != domain.ActionForceTransition || tr.ActorID != "admin-1" {
		t.Errorf("wrong audit record: %+v", tr)
	}
	if tr.FromRoleOrEmpty() != domain.RoleManager || tr.ToRole != domain.RoleTechnician {
		t.Errorf("audit hop wrong: %s -> %s", tr.FromRoleOrEmpty(), tr.ToRole)
	}
}

func TestForceTransitionRejectsForeignRole(t *testing.T) {
	clock := newFakeClock(time.Now())
	reqs := newMockRecoveryRequestStore()
	reqs.reqs["SR-1"] = &domain.ServiceRequest{
		ID: "SR-1", WorkflowType: domain.WorkflowTechnicalService,
		RoleCurrent: domain.RoleController, Status: domain.StatusInProgress,
	}
	m := stuckManager(reqs, newMockHistoryStore(), clock)

	// manager is not a step of technical_service
	_, err := m.Recover(context.Background(), "SR-1", domain.ActionForceTransition, "admin-1",
		domain.StateData{"target_role": "manager"})
	if !errors.Is(err, ErrInvalidRecoveryTarget) {
		t.Fatalf("expected ErrInvalidRecoveryTarget for role outside the workflow, got %v", err)
	}
}

func TestRecoverErrorsCarrySentinels(t *testing.T) {
	clock := newFakeClock(time.Now())
	reqs := newMockRecoveryRequestStore()
	reqs.reqs["SR-1"] = &domain.ServiceRequest{
		ID: "SR-1", WorkflowType: domain.WorkflowConnectionRequest,
		RoleCurrent: domain.RoleManager, Status: domain.StatusInProgress,
	}
	m := stuckManager(reqs, newMockHistoryStore(), clock)

	if _, err := m.RecoveryOptions(context.Background(), "SR-missing"); !errors.Is(err, ErrRequestNotFound) {
		t.Errorf("RecoveryOptions: expected ErrRequestNotFound, got %v", err)
	}
	if _, err := m.Recover(context.Background(), "SR-missing", domain.ActionForceTransition, "admin-1", nil); !errors.Is(err, ErrRequestNotFound) {
		t.Errorf("Recover: expected ErrRequestNotFound, got %v", err)
	}
	if _, err := m.Recover(context.Background(), "SR-1", domain.Action("defrag"), "admin-1", nil); !errors.Is(err, ErrUnknownRecoveryAction) {
		t.Errorf("Recover: expected ErrUnknownRecoveryAction, got %v", err)
	}
	if _, err := m.Recover(context.Background(), "SR-1", domain.ActionForceTransition, "admin-1",
		domain.StateData{"target_role": "janitor"}); !errors.Is(err, ErrInvalidRecoveryTarget) {
		t.Errorf("Recover: expected ErrInvalidRecoveryTarget for unparseable role, got %v", err)
	}
}

func TestResetToPreviousReplaysLastRoleChange(t *testing.T) {
	clock := newFakeClock(time.Now())
	reqs := newMockRecoveryRequestStore()
	hist := newMockHistoryStore()
	reqs.reqs["SR-1"] = &domain.ServiceRequest{
		ID: "SR-1", WorkflowType: domain.WorkflowConnectionRequest,
		RoleCurrent: domain.RoleTechnician, Status: domain.StatusInProgress,
	}
	hist.history["SR-1"] = []domain.StateTransition{
		{RequestID: "SR-1", ToRole: domain.RoleClient, Action: domain.ActionCreateRequest},
		{RequestID: "SR-1", FromRole: from(domain.RoleClient), ToRole: domain.RoleManager, Action: domain.ActionSubmitRequest},
		{RequestID: "SR-1", FromRole: from(domain.RoleController), ToRole: domain.RoleTechnician, Action: domain.ActionAssignToTechnician},
		// audit-only entry; must be skipped when walking back
		{RequestID: "SR-1", FromRole: from(domain.RoleTechnician), ToRole: domain.RoleTechnician, Action: domain.ActionReassignRole},
	}
	m := stuckManager(reqs, hist, clock)

	ok, err := m.Recover(context.Background(), "SR-1", domain.ActionResetToPrevious, "admin-1", nil)
	if err != nil || !ok {
		t.Fatalf("expected reset to apply, ok=%v err=%v", ok, err)
	}
	if reqs.reqs["SR-1"].RoleCurrent != domain.RoleController {
		t.Errorf("expected controller, got %s", reqs.reqs["SR-1"].RoleCurrent)
	}
}

func TestResetToPreviousWithoutHistoryIsRefused(t *testing.T) {
	clock := newFakeClock(time.Now())
	reqs := newMockRecoveryRequestStore()
	reqs.reqs["SR-1"] = &domain.ServiceRequest{
		ID: "SR-1", WorkflowType: domain.WorkflowConnectionRequest,
		RoleCurrent: domain.RoleClient, Status: domain.StatusCreated,
	}
	m := stuckManager(reqs, newMockHistoryStore(), clock)

	ok, err := m.Recover(context.Background(), "SR-1", domain.ActionResetToPrevious, "admin-1", nil)
	if err != nil {
		t.Fatalf("refusal must not be an error: %v", err)
	}
	if ok {
		t.Fatal("reset without history must be refused")
	}
}

func TestForceCompleteTerminatesWithDefaultRating(t *testing.T) {
	clock := newFakeClock(time.Now())
	reqs := newMockRecoveryRequestStore()
	hist := newMockHistoryStore()
	reqs.reqs["SR-1"] = &domain.ServiceRequest{
		ID: "SR-1", WorkflowType: domain.WorkflowConnectionRequest,
		RoleCurrent: domain.RoleWarehouse, Status: domain.StatusInProgress,
	}
	m := stuckManager(reqs, hist, clock)

	ok, err := m.Recover(context.Background(), "SR-1", domain.ActionCompleteWorkflow, "admin-1", nil)
	if err != nil || !ok {
		t.Fatalf("expected forced completion, ok=%v err=%v", ok, err)
	}
	req := reqs.reqs["SR-1"]
	if req.Status != domain.StatusCompleted {
		t.Errorf("expected completed, got %s", req.Status)
	}
	if !req.CompletionRating.Valid || req.CompletionRating.Int64 != 3 {
		t.Errorf("expected default rating 3, got %+v", req.CompletionRating)
	}
}

func TestReassignRoleIsAuditOnly(t *testing.T) {
	clock := newFakeClock(time.Now())
	reqs := newMockRecoveryRequestStore()
	hist := newMockHistoryStore()
	reqs.reqs["SR-1"] = &domain.ServiceRequest{
		ID: "SR-1", WorkflowType: domain.WorkflowConnectionRequest,
		RoleCurrent: domain.RoleTechnician, Status: domain.StatusInProgress,
	}
	m := stuckManager(reqs, hist, clock)

	ok, err := m.Recover(context.Background(), "SR-1", domain.ActionReassignRole, "admin-1",
		domain.StateData{"assignee": "tech-9"})
	if err != nil || !ok {
		t.Fatalf("expected reassignment, ok=%v err=%v", ok, err)
	}
	if len(reqs.updated) != 0 {
		t.Error("reassignment must not touch the request row")
	}
	if len(hist.appended) != 1 {
		t.Fatalf("expected one audit record, got %d", len(hist.appended))
	}
	tr := hist.appended[0]
	if tr.FromRoleOrEmpty() != domain.RoleTechnician || tr.ToRole != domain.RoleTechnician {
		t.Error("reassignment audit must keep the same role on both sides")
	}
}

func TestRecoverTerminalRequestRefused(t *testing.T) {
	clock := newFakeClock(time.Now())
	reqs := newMockRecoveryRequestStore()
	reqs.reqs["SR-1"] = &domain.ServiceRequest{
		ID: "SR-1", WorkflowType: domain.WorkflowConnectionRequest,
		RoleCurrent: domain.RoleClient, Status: domain.StatusCompleted,
	}
	m := stuckManager(reqs, newMockHistoryStore(), clock)

	ok, err := m.Recover(context.Background(), "SR-1", domain.ActionForceTransition, "admin-1",
		domain.StateData{"target_role": "manager"})
	if err != nil {
		t.Fatalf("terminal refusal must not be an error: %v", err)
	}
	if ok {
		t.Fatal("terminal requests must absorb recovery actions")
	}
}

func hasOption(options []RecoveryOption, action domain.Action) bool {
	for _, o := range options {
		if o.Action == action {
			return true
		}
	}
	return false
}
