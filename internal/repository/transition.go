package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/fieldgrid/servicedesk/internal/domain"
)

const transitionColumns = ` id, request_id, from_role, to_role, action, actor_id,
		transition_data, comments, created `

// TransitionRepository persists the append-only history. Rows are never
// updated or deleted; compensating records are appended instead.
type TransitionRepository struct {
	db      *sqlx.DB
	dialect Dialect
}

func NewTransitionRepository(db *sqlx.DB, dialect Dialect) *TransitionRepository {
	return &TransitionRepository{db: db, dialect: dialect}
}

func (r *TransitionRepository) Append(ctx context.Context, t *domain.StateTransition) (int64, error) {
	base := `
		INSERT INTO state_transition (request_id, from_role, to_role, action, actor_id,
			transition_data, comments, created)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	args := []interface{}{
		t.RequestID, t.FromRole, t.ToRole, t.Action, t.ActorID,
		t.TransitionData, t.Comments, r.dialect.bindTime(t.Created),
	}
	if r.dialect.supportsReturning() {
		query := r.db.Rebind(base + " RETURNING id")
		if err := r.db.QueryRowContext(ctx, query, args...).Scan(&t.ID); err != nil {
			return 0, err
		}
		return t.ID, nil
	}
	res, err := r.db.ExecContext(ctx, r.db.Rebind(base), args...)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	t.ID = id
	return id, nil
}

// History returns all transitions for a request in creation order.
func (r *TransitionRepository) History(ctx context.Context, requestID string) ([]domain.StateTransition, error) {
	query := r.db.Rebind(`
		SELECT ` + transitionColumns + `
		FROM state_transition
		WHERE request_id = ?
		ORDER BY id ASC
	`)
	var out []domain.StateTransition
	err := r.db.SelectContext(ctx, &out, query, requestID)
	return out, err
}
