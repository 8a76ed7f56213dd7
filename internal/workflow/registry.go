package workflow

import (
	"fmt"

	"github.com/fieldgrid/servicedesk/internal/domain"
)

// ErrUnknownWorkflowType is returned when a workflow type has no definition.
type ErrUnknownWorkflowType struct {
	Type domain.WorkflowType
}

func (e ErrUnknownWorkflowType) Error() string {
	return fmt.Sprintf("unknown workflow type: %q", string(e.Type))
}

// Registry is the immutable catalog of workflow definitions, loaded once at
// process start and shared by reference.
type Registry struct {
	definitions map[domain.WorkflowType]*Definition
}

// NewRegistry builds the shipped catalog.
func NewRegistry() *Registry {
	defs := []*Definition{
		connectionRequest(),
		technicalService(),
		callCenterDirect(),
	}
	m := make(map[domain.WorkflowType]*Definition, len(defs))
	for _, d := range defs {
		m[d.Name] = d
	}
	return &Registry{definitions: m}
}

// Get returns the definition for a workflow type.
func (r *Registry) Get(t domain.WorkflowType) (*Definition, error) {
	d, ok := r.definitions[t]
	if !ok {
		return nil, ErrUnknownWorkflowType{Type: t}
	}
	return d, nil
}

// Types lists the registered workflow types.
func (r *Registry) Types() []domain.WorkflowType {
	out := make([]domain.WorkflowType, 0, len(r.definitions))
	for t := range r.definitions {
		out = append(out, t)
	}
	return out
}

// connectionRequest: a new subscriber hookup. The chain runs
// client -> manager -> junior_manager -> controller -> technician ->
// warehouse -> back to client for feedback.
func connectionRequest() *Definition {
	return &Definition{
		Name:        domain.WorkflowConnectionRequest,
		Description: "New connection request routed through the full approval and installation chain",
		InitialRole: domain.RoleClient,
		Steps: map[domain.Role]Step{
			domain.RoleClient: {
				Role:    domain.RoleClient,
				Actions: []domain.Action{domain.ActionSubmitRequest, domain.ActionSubmitFeedback},
				NextSteps: map[domain.Action]domain.Role{
					domain.ActionSubmitRequest: domain.RoleManager,
				},
				RequiredData: []string{"address"},
				OptionalData: []string{"tariff_plan", "contact_phone"},
			},
			domain.RoleManager: {
				Role:    domain.RoleManager,
				Actions: []domain.Action{domain.ActionApproveRequest, domain.ActionReturnToClient},
				NextSteps: map[domain.Action]domain.Role{
					domain.ActionApproveRequest: domain.RoleJuniorManager,
					domain.ActionReturnToClient: domain.RoleClient,
				},
			},
			domain.RoleJuniorManager: {
				Role:    domain.RoleJuniorManager,
				Actions: []domain.Action{domain.ActionAssignToController},
				NextSteps: map[domain.Action]domain.Role{
					domain.ActionAssignToController: domain.RoleController,
				},
			},
			domain.RoleController: {
				Role:    domain.RoleController,
				Actions: []domain.Action{domain.ActionAssignToTechnician},
				NextSteps: map[domain.Action]domain.Role{
					domain.ActionAssignToTechnician: domain.RoleTechnician,
				},
				RequiredData: []string{"technician_id"},
			},
			domain.RoleTechnician: {
				Role:    domain.RoleTechnician,
				Actions: []domain.Action{domain.ActionStartDiagnostics, domain.ActionCompleteWork},
				NextSteps: map[domain.Action]domain.Role{
					domain.ActionCompleteWork: domain.RoleWarehouse,
				},
				OptionalData: []string{"diagnostics_result", "cable_meters"},
			},
			domain.RoleWarehouse: {
				Role:    domain.RoleWarehouse,
				Actions: []domain.Action{domain.ActionIssueEquipment},
				NextSteps: map[domain.Action]domain.Role{
					domain.ActionIssueEquipment: domain.RoleClient,
				},
			},
		},
		CompletionActions: []domain.Action{domain.ActionSubmitFeedback},
	}
}

// technicalService: a fault/service visit on an existing line. Shorter chain,
// no junior manager leg.
func technicalService() *Definition {
	return &Definition{
		Name:        domain.WorkflowTechnicalService,
		Description: "Technical service visit for an existing subscriber",
		InitialRole: domain.RoleClient,
		Steps: map[domain.Role]Step{
			domain.RoleClient: {
				Role:    domain.RoleClient,
				Actions: []domain.Action{domain.ActionSubmitRequest, domain.ActionSubmitFeedback},
				NextSteps: map[domain.Action]domain.Role{
					domain.ActionSubmitRequest: domain.RoleController,
				},
				RequiredData: []string{"problem_description"},
			},
			domain.RoleController: {
				Role:    domain.RoleController,
				Actions: []domain.Action{domain.ActionAssignToTechnician},
				NextSteps: map[domain.Action]domain.Role{
					domain.ActionAssignToTechnician: domain.RoleTechnician,
				},
				RequiredData: []string{"technician_id"},
			},
			domain.RoleTechnician: {
				Role: domain.RoleTechnician,
				Actions: []domain.Action{
					domain.ActionStartDiagnostics,
					domain.ActionAddWorkNotes,
					domain.ActionCompleteWork,
				},
				NextSteps: map[domain.Action]domain.Role{
					domain.ActionCompleteWork: domain.RoleWarehouse,
				},
				OptionalData: []string{"diagnostics_result", "work_notes"},
			},
			domain.RoleWarehouse: {
				Role:    domain.RoleWarehouse,
				Actions: []domain.Action{domain.ActionConfirmMaterials},
				NextSteps: map[domain.Action]domain.Role{
					domain.ActionConfirmMaterials: domain.RoleClient,
				},
			},
		},
		CompletionActions: []domain.Action{domain.ActionSubmitFeedback},
	}
}

// callCenterDirect: created by a call-center operator on the phone. The
// operator either resolves directly or escalates through the supervisor.
func callCenterDirect() *Definition {
	return &Definition{
		Name:        domain.WorkflowCallCenterDirect,
		Description: "Call-center originated request, resolved directly or escalated to field work",
		InitialRole: domain.RoleCallCenter,
		Steps: map[domain.Role]Step{
			domain.RoleCallCenter: {
				Role: domain.RoleCallCenter,
				Actions: []domain.Action{
					domain.ActionAddCallNotes,
					domain.ActionEscalateToSupervisor,
					domain.ActionResolveDirectly,
				},
				NextSteps: map[domain.Action]domain.Role{
					domain.ActionEscalateToSupervisor: domain.RoleCallCenterSupervisor,
					domain.ActionResolveDirectly:      domain.RoleClient,
				},
				OptionalData: []string{"call_notes"},
			},
			domain.RoleCallCenterSupervisor: {
				Role: domain.RoleCallCenterSupervisor,
				Actions: []domain.Action{
					domain.ActionApproveEscalation,
					domain.ActionResolveDirectly,
				},
				NextSteps: map[domain.Action]domain.Role{
					domain.ActionApproveEscalation: domain.RoleController,
					domain.ActionResolveDirectly:   domain.RoleClient,
				},
			},
			domain.RoleController: {
				Role:    domain.RoleController,
				Actions: []domain.Action{domain.ActionAssignToTechnician},
				NextSteps: map[domain.Action]domain.Role{
					domain.ActionAssignToTechnician: domain.RoleTechnician,
				},
				RequiredData: []string{"technician_id"},
			},
			domain.RoleTechnician: {
				Role:    domain.RoleTechnician,
				Actions: []domain.Action{domain.ActionStartDiagnostics, domain.ActionCompleteWork},
				NextSteps: map[domain.Action]domain.Role{
					domain.ActionCompleteWork: domain.RoleClient,
				},
			},
			domain.RoleClient: {
				Role:    domain.RoleClient,
				Actions: []domain.Action{domain.ActionSubmitFeedback},
			},
		},
		CompletionActions: []domain.Action{domain.ActionSubmitFeedback},
	}
}
