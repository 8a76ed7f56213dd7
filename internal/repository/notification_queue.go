package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/fieldgrid/servicedesk/internal/recovery"
)

const queueColumns = ` id, request_id, role, workflow_type, retry_count, next_retry_at,
		status, last_error, created, modified `

// NotificationQueueRepository backs the retry worker's persistent queue.
type NotificationQueueRepository struct {
	db      *sqlx.DB
	dialect Dialect
}

func NewNotificationQueueRepository(db *sqlx.DB, dialect Dialect) *NotificationQueueRepository {
	return &NotificationQueueRepository{db: db, dialect: dialect}
}

func (r *NotificationQueueRepository) Enqueue(ctx context.Context, n *recovery.QueuedNotification) (int64, error) {
	base := `
		INSERT INTO notification_queue (request_id, role, workflow_type, retry_count,
			next_retry_at, status, last_error, created, modified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	args := []interface{}{
		n.RequestID, n.Role, n.WorkflowType, n.RetryCount,
		r.dialect.bindTime(n.NextRetryAt), n.Status, n.LastError,
		r.dialect.bindTime(n.Created), r.dialect.bindTime(n.Modified),
	}
	if r.dialect.supportsReturning() {
		query := r.db.Rebind(base + " RETURNING id")
		if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n.ID); err != nil {
			return 0, err
		}
		return n.ID, nil
	}
	res, err := r.db.ExecContext(ctx, r.db.Rebind(base), args...)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	n.ID = id
	return id, nil
}

func (r *NotificationQueueRepository) FindDue(ctx context.Context, now time.Time, limit int) ([]recovery.QueuedNotification, error) {
	query := r.db.Rebind(`
		SELECT ` + queueColumns + `
		FROM notification_queue
		WHERE status = ? AND next_retry_at <= ?
		ORDER BY next_retry_at ASC
		LIMIT ?
	`)
	var out []recovery.QueuedNotification
	err := r.db.SelectContext(ctx, &out, query,
		recovery.QueueStatusPending, r.dialect.bindTime(now), limit)
	return out, err
}

func (r *NotificationQueueRepository) MarkDelivered(ctx context.Context, id int64, now time.Time) error {
	query := r.db.Rebind(`UPDATE notification_queue SET status = ?, modified = ? WHERE id = ?`)
	_, err := r.db.ExecContext(ctx, query, recovery.QueueStatusDelivered, r.dialect.bindTime(now), id)
	return err
}

func (r *NotificationQueueRepository) Reschedule(ctx context.Context, id int64, retryCount int, nextRetryAt time.Time, lastError string) error {
	query := r.db.Rebind(`
		UPDATE notification_queue
		SET retry_count = ?, next_retry_at = ?, last_error = ?, modified = ?
		WHERE id = ?
	`)
	_, err := r.db.ExecContext(ctx, query,
		retryCount, r.dialect.bindTime(nextRetryAt), lastError, r.dialect.bindTime(time.Now().UTC()), id)
	return err
}

func (r *NotificationQueueRepository) MarkExhausted(ctx context.Context, id int64, lastError string, now time.Time) error {
	query := r.db.Rebind(`
		UPDATE notification_queue SET status = ?, last_error = ?, modified = ? WHERE id = ?
	`)
	_, err := r.db.ExecContext(ctx, query, recovery.QueueStatusExhausted, lastError, r.dialect.bindTime(now), id)
	return err
}

func (r *NotificationQueueRepository) CountPending(ctx context.Context) (int, error) {
	query := r.db.Rebind(`SELECT COUNT(*) FROM notification_queue WHERE status = ?`)
	var n int
	err := r.db.GetContext(ctx, &n, query, recovery.QueueStatusPending)
	return n, err
}
