package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/fieldgrid/servicedesk/internal/domain"
)

const requestColumns = ` id, workflow_type, client_id, role_current, current_status, priority,
		description, state_data, equipment_used, inventory_updated,
		created_by_staff, staff_creator_id, staff_creator_role, creation_source,
		completion_rating, feedback_comments, created, modified `

// RequestRepository persists ServiceRequest aggregates. It satisfies both
// the engine's RequestStore and the recovery manager's narrower contracts.
type RequestRepository struct {
	db      *sqlx.DB
	dialect Dialect
}

func NewRequestRepository(db *sqlx.DB, dialect Dialect) *RequestRepository {
	return &RequestRepository{db: db, dialect: dialect}
}

func (r *RequestRepository) Save(ctx context.Context, req *domain.ServiceRequest) error {
	query := r.db.Rebind(`
		INSERT INTO service_request (` + requestColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := r.db.ExecContext(ctx, query,
		req.ID, req.WorkflowType, req.ClientID, req.RoleCurrent, req.Status, req.Priority,
		req.Description, req.StateData, req.EquipmentUsed, req.InventoryUpdated,
		req.CreatedByStaff, req.StaffCreatorID, req.StaffCreatorRole, req.CreationSource,
		req.CompletionRating, req.FeedbackComments,
		r.dialect.bindTime(req.Created), r.dialect.bindTime(req.Modified),
	)
	return err
}

// FindByID returns (nil, nil) when the request does not exist.
func (r *RequestRepository) FindByID(ctx context.Context, id string) (*domain.ServiceRequest, error) {
	query := r.db.Rebind(`SELECT ` + requestColumns + ` FROM service_request WHERE id = ?`)
	var req domain.ServiceRequest
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &req, nil
}

// UpdateState writes the mutable fields of the aggregate. The immutable
// creation fields are deliberately not part of the statement.
func (r *RequestRepository) UpdateState(ctx context.Context, req *domain.ServiceRequest) error {
	query := r.db.Rebind(`
		UPDATE service_request
		SET role_current = ?, current_status = ?, priority = ?, state_data = ?,
		    equipment_used = ?, inventory_updated = ?,
		    completion_rating = ?, feedback_comments = ?, modified = ?
		WHERE id = ?
	`)
	_, err := r.db.ExecContext(ctx, query,
		req.RoleCurrent, req.Status, req.Priority, req.StateData,
		req.EquipmentUsed, req.InventoryUpdated,
		req.CompletionRating, req.FeedbackComments,
		r.dialect.bindTime(req.Modified), req.ID,
	)
	return err
}

// Delete removes a request. Rollback-only: the engine uses it to undo a
// failed initiate, nothing else may call it.
func (r *RequestRepository) Delete(ctx context.Context, id string) error {
	query := r.db.Rebind(`DELETE FROM service_request WHERE id = ?`)
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

// FindStale lists non-terminal requests last touched before the cutoff.
func (r *RequestRepository) FindStale(ctx context.Context, before time.Time, limit int) ([]domain.ServiceRequest, error) {
	query := r.db.Rebind(`
		SELECT ` + requestColumns + `
		FROM service_request
		WHERE current_status NOT IN (?, ?)
		  AND modified < ?
		ORDER BY modified ASC
		LIMIT ?
	`)
	var out []domain.ServiceRequest
	err := r.db.SelectContext(ctx, &out, query,
		domain.StatusCompleted, domain.StatusCancelled, r.dialect.bindTime(before), limit)
	return out, err
}

// MarkInventoryUpdated flips the tracking flag; used by the reconciler when
// it finds consumption the completing transition failed to record.
func (r *RequestRepository) MarkInventoryUpdated(ctx context.Context, requestID string) error {
	query := r.db.Rebind(`UPDATE service_request SET inventory_updated = ? WHERE id = ?`)
	_, err := r.db.ExecContext(ctx, query, true, requestID)
	return err
}
