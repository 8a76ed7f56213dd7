package engine

import (
	"context"
	"time"

	"github.com/fieldgrid/servicedesk/internal/domain"
)

// RequestStore is the persistence contract for service requests. Concrete
// storage lives in internal/repository; the engine only depends on this.
type RequestStore interface {
	Save(ctx context.Context, req *domain.ServiceRequest) error
	// FindByID returns (nil, nil) when the request does not exist.
	FindByID(ctx context.Context, id string) (*domain.ServiceRequest, error)
	UpdateState(ctx context.Context, req *domain.ServiceRequest) error
	// Delete is rollback-only: it exists so a failed initiate can undo its
	// insert, never as a user-facing operation.
	Delete(ctx context.Context, id string) error
	// FindStale lists non-terminal requests whose modified timestamp is
	// older than the cutoff.
	FindStale(ctx context.Context, before time.Time, limit int) ([]domain.ServiceRequest, error)
}

// TransitionStore is the append-only history contract.
type TransitionStore interface {
	Append(ctx context.Context, t *domain.StateTransition) (int64, error)
	History(ctx context.Context, requestID string) ([]domain.StateTransition, error)
}

// NotificationSender delivers an assignment ping to the role that just became
// responsible. Returns false on delivery failure so the engine can queue a
// retry; it never blocks or fails the transition itself.
type NotificationSender interface {
	SendAssignmentNotification(ctx context.Context, role domain.Role, requestID string, workflowType domain.WorkflowType) bool
}

// RetryQueue accepts failed notifications for later redelivery.
type RetryQueue interface {
	EnqueueNotification(ctx context.Context, role domain.Role, requestID string, workflowType domain.WorkflowType) error
}

// InventoryManager reserves equipment when a transition attaches a list and
// consumes the reservation on completion. Both are best-effort from the
// engine's point of view; bookkeeping drift is the reconciler's job.
type InventoryManager interface {
	ReserveEquipment(ctx context.Context, requestID string, items domain.EquipmentList) bool
	ConsumeReserved(ctx context.Context, requestID string) bool
}
