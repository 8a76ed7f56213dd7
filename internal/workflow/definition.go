package workflow

import (
	"github.com/fieldgrid/servicedesk/internal/domain"
)

// Step describes what one role may do while it owns a request. NextSteps is
// the single source of truth for "what role comes next"; an action present in
// Actions but absent from NextSteps is a stay-in-role sub-action that still
// produces a history record but no reassignment.
type Step struct {
	Role         domain.Role
	Actions      []domain.Action
	NextSteps    map[domain.Action]domain.Role
	RequiredData []string
	OptionalData []string
}

// Allows reports whether the step permits the given action.
func (s Step) Allows(action domain.Action) bool {
	for _, a := range s.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// Definition is the static configuration for one workflow type. Definitions
// are built once at startup and never mutated.
type Definition struct {
	Name              domain.WorkflowType
	Description       string
	InitialRole       domain.Role
	Steps             map[domain.Role]Step
	CompletionActions []domain.Action
}

// StepFor returns the step owned by role, if the role is part of this
// workflow at all.
func (d *Definition) StepFor(role domain.Role) (Step, bool) {
	s, ok := d.Steps[role]
	return s, ok
}

// IsCompletionAction reports whether the action closes the workflow on the
// happy path.
func (d *Definition) IsCompletionAction(action domain.Action) bool {
	for _, a := range d.CompletionActions {
		if a == action {
			return true
		}
	}
	return false
}
