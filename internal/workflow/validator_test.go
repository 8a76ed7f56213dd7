package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldgrid/servicedesk/internal/domain"
)

func newRequest(wt domain.WorkflowType, role domain.Role, status domain.Status) *domain.ServiceRequest {
	return &domain.ServiceRequest{
		ID:           "SR-test",
		WorkflowType: wt,
		ClientID:     7,
		RoleCurrent:  role,
		Status:       status,
		StateData:    domain.StateData{},
	}
}

func TestValidateHappyPathMovesOwnership(t *testing.T) {
	v := NewValidator(NewRegistry())
	req := newRequest(domain.WorkflowConnectionRequest, domain.RoleClient, domain.StatusCreated)

	d, err := v.Validate(req, domain.ActionSubmitRequest, domain.RoleClient,
		domain.StateData{"address": "12 Main St"})
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.NotNil(t, d.NextRole)
	assert.Equal(t, domain.RoleManager, *d.NextRole)
	assert.False(t, d.Completes)
}

func TestValidateWrongActorDenied(t *testing.T) {
	v := NewValidator(NewRegistry())
	req := newRequest(domain.WorkflowConnectionRequest, domain.RoleManager, domain.StatusInProgress)

	d, err := v.Validate(req, domain.ActionApproveRequest, domain.RoleTechnician, nil)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, DenyInvalidActor, d.Reason)
}

func TestValidateUnknownActionDenied(t *testing.T) {
	v := NewValidator(NewRegistry())
	req := newRequest(domain.WorkflowConnectionRequest, domain.RoleManager, domain.StatusInProgress)

	d, err := v.Validate(req, domain.ActionIssueEquipment, domain.RoleManager, nil)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, DenyInvalidAction, d.Reason)
}

func TestValidateTerminalStateAbsorbs(t *testing.T) {
	v := NewValidator(NewRegistry())
	for _, status := range []domain.Status{domain.StatusCompleted, domain.StatusCancelled} {
		req := newRequest(domain.WorkflowConnectionRequest, domain.RoleClient, status)

		d, err := v.Validate(req, domain.ActionSubmitRequest, domain.RoleClient,
			domain.StateData{"address": "12 Main St"})
		require.NoError(t, err)
		assert.False(t, d.Allowed, "status %s must absorb", status)
		assert.Equal(t, DenyTerminalState, d.Reason)
	}
}

func TestValidateMissingRequiredData(t *testing.T) {
	v := NewValidator(NewRegistry())
	req := newRequest(domain.WorkflowConnectionRequest, domain.RoleController, domain.StatusInProgress)

	d, err := v.Validate(req, domain.ActionAssignToTechnician, domain.RoleController, domain.StateData{})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, DenyMissingData, d.Reason)
	assert.Equal(t, "technician_id", d.MissingField)

	d, err = v.Validate(req, domain.ActionAssignToTechnician, domain.RoleController,
		domain.StateData{"technician_id": "42"})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestValidateStayInRoleAction(t *testing.T) {
	v := NewValidator(NewRegistry())
	req := newRequest(domain.WorkflowConnectionRequest, domain.RoleTechnician, domain.StatusInProgress)

	d, err := v.Validate(req, domain.ActionStartDiagnostics, domain.RoleTechnician, nil)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	assert.Nil(t, d.NextRole, "stay-in-role action must not resolve a next role")
}

func TestValidateCancelAllowedForOwnerAnywhere(t *testing.T) {
	v := NewValidator(NewRegistry())

	// Owner may cancel regardless of the step's action list.
	req := newRequest(domain.WorkflowConnectionRequest, domain.RoleWarehouse, domain.StatusInProgress)
	d, err := v.Validate(req, domain.ActionCancelRequest, domain.RoleWarehouse, nil)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	// Non-owners may not.
	d, err = v.Validate(req, domain.ActionCancelRequest, domain.RoleClient, nil)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, DenyInvalidActor, d.Reason)

	// Terminal requests stay terminal even for cancel.
	done := newRequest(domain.WorkflowConnectionRequest, domain.RoleClient, domain.StatusCompleted)
	d, err = v.Validate(done, domain.ActionCancelRequest, domain.RoleClient, nil)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, DenyTerminalState, d.Reason)
}

func TestValidateCompletionAction(t *testing.T) {
	v := NewValidator(NewRegistry())
	req := newRequest(domain.WorkflowConnectionRequest, domain.RoleClient, domain.StatusInProgress)
	req.StateData = domain.StateData{"address": "12 Main St"}

	d, err := v.Validate(req, domain.ActionSubmitFeedback, domain.RoleClient,
		domain.StateData{"address": "12 Main St", "rating": "5"})
	require.NoError(t, err)
	require.True(t, d.Allowed)
	assert.True(t, d.Completes)
}

func TestValidateUnknownWorkflowType(t *testing.T) {
	v := NewValidator(NewRegistry())
	req := newRequest("mystery_workflow", domain.RoleClient, domain.StatusCreated)

	_, err := v.Validate(req, domain.ActionSubmitRequest, domain.RoleClient, nil)
	require.Error(t, err)
}
