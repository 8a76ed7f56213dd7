package domain

import "fmt"

// Role is the closed set of staff/client roles that can own a request.
// RoleCurrent on a request is always exactly one of these.
type Role string

const (
	RoleClient               Role = "client"
	RoleManager              Role = "manager"
	RoleJuniorManager        Role = "junior_manager"
	RoleController           Role = "controller"
	RoleTechnician           Role = "technician"
	RoleWarehouse            Role = "warehouse"
	RoleCallCenter           Role = "call_center"
	RoleCallCenterSupervisor Role = "call_center_supervisor"
	RoleAdmin                Role = "admin"
)

var allRoles = map[Role]struct{}{
	RoleClient:               {},
	RoleManager:              {},
	RoleJuniorManager:        {},
	RoleController:           {},
	RoleTechnician:           {},
	RoleWarehouse:            {},
	RoleCallCenter:           {},
	RoleCallCenterSupervisor: {},
	RoleAdmin:                {},
}

func (r Role) Valid() bool {
	_, ok := allRoles[r]
	return ok
}

func (r Role) String() string { return string(r) }

// ParseRole converts a wire-level string into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role: %q", s)
	}
	return r, nil
}

// Action is the closed set of named actions a role can perform on a request.
type Action string

const (
	ActionCreateRequest        Action = "create_request"
	ActionSubmitRequest        Action = "submit_request"
	ActionReturnToClient       Action = "return_to_client"
	ActionApproveRequest       Action = "approve_request"
	ActionAssignToController   Action = "assign_to_controller"
	ActionAssignToTechnician   Action = "assign_to_technician"
	ActionStartDiagnostics     Action = "start_diagnostics"
	ActionAddWorkNotes         Action = "add_work_notes"
	ActionCompleteWork         Action = "complete_work"
	ActionIssueEquipment       Action = "issue_equipment"
	ActionConfirmMaterials     Action = "confirm_materials"
	ActionAddCallNotes         Action = "add_call_notes"
	ActionEscalateToSupervisor Action = "escalate_to_supervisor"
	ActionApproveEscalation    Action = "approve_escalation"
	ActionResolveDirectly      Action = "resolve_directly"
	ActionSubmitFeedback       Action = "submit_feedback"
	ActionCancelRequest        Action = "cancel_request"
	ActionCompleteWorkflow     Action = "complete_workflow"

	// Admin recovery actions. These bypass the validator and are only
	// reachable through the recovery layer.
	ActionForceTransition Action = "force_transition"
	ActionResetToPrevious Action = "reset_to_previous_state"
	ActionReassignRole    Action = "reassign_role"
)

func (a Action) String() string { return string(a) }

// WorkflowType selects which workflow definition a request follows.
type WorkflowType string

const (
	WorkflowConnectionRequest WorkflowType = "connection_request"
	WorkflowTechnicalService  WorkflowType = "technical_service"
	WorkflowCallCenterDirect  WorkflowType = "call_center_direct"
)

func (w WorkflowType) Valid() bool {
	switch w {
	case WorkflowConnectionRequest, WorkflowTechnicalService, WorkflowCallCenterDirect:
		return true
	}
	return false
}

func (w WorkflowType) String() string { return string(w) }

// Status is the coarse lifecycle status of a request.
type Status string

const (
	StatusCreated    Status = "created"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusOnHold     Status = "on_hold"
)

// Terminal reports whether the status is a sink: no further transitions
// are ever accepted once a request reaches it.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s Status) String() string { return string(s) }

// Priority of a request.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}
