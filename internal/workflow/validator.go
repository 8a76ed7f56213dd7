package workflow

import (
	"github.com/fieldgrid/servicedesk/internal/domain"
)

// DenyReason says why a transition was refused. Denials are ordinary business
// outcomes, not errors: callers branch on the Decision and show a friendly
// message.
type DenyReason string

const (
	DenyNone          DenyReason = ""
	DenyTerminalState DenyReason = "terminal_state"
	DenyInvalidActor  DenyReason = "invalid_actor"
	DenyInvalidAction DenyReason = "invalid_action"
	DenyMissingData   DenyReason = "missing_data"
)

// Decision is the validator verdict for one requested transition.
type Decision struct {
	Allowed bool
	Reason  DenyReason
	// NextRole is set when the action moves ownership to another role.
	// Nil means a stay-in-role sub-action: history is still recorded but
	// no reassignment or notification happens.
	NextRole *domain.Role
	// Completes is set when the action is a happy-path completion action.
	Completes bool
	// MissingField names the first required field absent from the
	// transition data, when Reason is DenyMissingData.
	MissingField string
}

func deny(reason DenyReason) Decision { return Decision{Allowed: false, Reason: reason} }

// Validator checks transition legality against the definition registry.
type Validator struct {
	registry *Registry
}

func NewValidator(registry *Registry) *Validator {
	return &Validator{registry: registry}
}

// Validate decides whether actorRole may perform action on the request in
// its current state, and resolves the next owning role when it may.
//
// cancel_request is a standing escape available to the current owner from
// any non-terminal step, so it is accepted without consulting the step's
// action list.
func (v *Validator) Validate(req *domain.ServiceRequest, action domain.Action, actorRole domain.Role, data domain.StateData) (Decision, error) {
	def, err := v.registry.Get(req.WorkflowType)
	if err != nil {
		return Decision{}, err
	}

	if req.Status.Terminal() {
		return deny(DenyTerminalState), nil
	}
	if actorRole != req.RoleCurrent {
		return deny(DenyInvalidActor), nil
	}

	if action == domain.ActionCancelRequest {
		return Decision{Allowed: true}, nil
	}

	step, ok := def.StepFor(actorRole)
	if !ok {
		// Role is not a step of this workflow at all; can only happen
		// after a bad force_transition, treat as actor mismatch.
		return deny(DenyInvalidActor), nil
	}
	if !step.Allows(action) {
		return deny(DenyInvalidAction), nil
	}

	for _, field := range step.RequiredData {
		if _, ok := data[field]; !ok {
			d := deny(DenyMissingData)
			d.MissingField = field
			return d, nil
		}
	}

	decision := Decision{Allowed: true, Completes: def.IsCompletionAction(action)}
	if next, ok := step.NextSteps[action]; ok {
		decision.NextRole = &next
	}
	return decision, nil
}
