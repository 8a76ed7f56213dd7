package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fieldgrid/servicedesk/internal/domain"
	"github.com/fieldgrid/servicedesk/internal/recovery"
)

// Roles that never receive direct assignment pings: clients and admins get
// summary-style messages elsewhere. Fixed policy, not configurable per call.
var excludedNotifyRoles = map[domain.Role]struct{}{
	domain.RoleClient: {},
	domain.RoleAdmin:  {},
}

// notifyAssignment pings the role that just became responsible. Delivery is
// best-effort: a failed send is queued for retry and never fails the
// transition that triggered it.
func (e *Engine) notifyAssignment(ctx context.Context, role domain.Role, requestID string, workflowType domain.WorkflowType) {
	if e.notifier == nil {
		return
	}
	if _, excluded := excludedNotifyRoles[role]; excluded {
		return
	}
	if e.notifier.SendAssignmentNotification(ctx, role, requestID, workflowType) {
		slog.InfoContext(ctx, "Assignment notification sent",
			"request_id", requestID, "role", string(role))
		return
	}
	recovery.Surface(e.alerter, recovery.Notification("send_assignment_notification",
		fmt.Errorf("delivery failed for request %s role %s", requestID, role)))
	if e.retries == nil {
		return
	}
	if err := e.retries.EnqueueNotification(ctx, role, requestID, workflowType); err != nil {
		recovery.Surface(e.alerter, recovery.System("enqueue_notification_retry", err))
	}
}

// reserveEquipment runs post-commit; a failed reservation is a bookkeeping
// discrepancy for the reconciler, not a transition failure.
func (e *Engine) reserveEquipment(ctx context.Context, req *domain.ServiceRequest, items domain.EquipmentList) {
	if e.inventory == nil {
		return
	}
	if e.inventory.ReserveEquipment(ctx, req.ID, items) {
		slog.InfoContext(ctx, "Equipment reserved", "request_id", req.ID, "items", len(items))
		return
	}
	recovery.Surface(e.alerter, recovery.Inventory(recovery.SeverityLow, "reserve_equipment",
		fmt.Errorf("reservation failed for request %s", req.ID)))
}

// consumeInventory converts the reservation into consumption on completion
// and flips the inventory_updated tracking flag. When the flag update fails
// the reconciler's orphaned-consumption sweep repairs it later.
func (e *Engine) consumeInventory(ctx context.Context, req *domain.ServiceRequest) {
	if e.inventory == nil || len(req.EquipmentUsed) == 0 || req.InventoryUpdated {
		return
	}
	if !e.inventory.ConsumeReserved(ctx, req.ID) {
		recovery.Surface(e.alerter, recovery.Inventory(recovery.SeverityMedium, "consume_reserved",
			fmt.Errorf("consumption failed for request %s", req.ID)))
		return
	}
	req.InventoryUpdated = true
	if err := e.requests.UpdateState(ctx, req); err != nil {
		recovery.Surface(e.alerter, recovery.Inventory(recovery.SeverityLow, "mark_inventory_updated", err))
	}
}
