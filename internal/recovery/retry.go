package recovery

import (
	"context"
	"database/sql"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/fieldgrid/servicedesk/internal/core"
	"github.com/fieldgrid/servicedesk/internal/domain"
)

// Notification queue row statuses.
const (
	QueueStatusPending   = "pending"
	QueueStatusDelivered = "delivered"
	QueueStatusExhausted = "exhausted"
)

// QueuedNotification is one failed assignment notification awaiting
// redelivery.
type QueuedNotification struct {
	ID           int64               `db:"id"`
	RequestID    string              `db:"request_id"`
	Role         domain.Role         `db:"role"`
	WorkflowType domain.WorkflowType `db:"workflow_type"`
	RetryCount   int                 `db:"retry_count"`
	NextRetryAt  time.Time           `db:"next_retry_at"`
	Status       string              `db:"status"`
	LastError    sql.NullString      `db:"last_error"`
	Created      time.Time           `db:"created"`
	Modified     time.Time           `db:"modified"`
}

// NotificationQueueStore persists the retry queue so pending redeliveries
// survive a restart and stay observable.
type NotificationQueueStore interface {
	Enqueue(ctx context.Context, n *QueuedNotification) (int64, error)
	FindDue(ctx context.Context, now time.Time, limit int) ([]QueuedNotification, error)
	MarkDelivered(ctx context.Context, id int64, now time.Time) error
	Reschedule(ctx context.Context, id int64, retryCount int, nextRetryAt time.Time, lastError string) error
	MarkExhausted(ctx context.Context, id int64, lastError string, now time.Time) error
	CountPending(ctx context.Context) (int, error)
}

// Sender matches the engine's notification contract without importing it.
type Sender interface {
	SendAssignmentNotification(ctx context.Context, role domain.Role, requestID string, workflowType domain.WorkflowType) bool
}

// RetryPolicy computes the exponential backoff schedule.
type RetryPolicy struct {
	BaseDelay         time.Duration
	BackoffMultiplier float64
	MaxDelay          time.Duration
	MaxRetries        int
	Jitter            bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:         30 * time.Second,
		BackoffMultiplier: 2.0,
		MaxDelay:          time.Hour,
		MaxRetries:        5,
		Jitter:            true,
	}
}

// Delay returns base*multiplier^(retryCount-1) with an optional ±10% jitter.
// MaxDelay is a hard cap applied after jitter.
func (p RetryPolicy) Delay(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	d := float64(p.BaseDelay) * math.Pow(p.BackoffMultiplier, float64(retryCount-1))
	if p.Jitter {
		d += d * (rand.Float64()*0.2 - 0.1)
	}
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d)
}

// NotificationRetrier owns the failed-notification queue: the engine enqueues
// into it and the background worker drains it on the retry schedule.
// Exhaustion is logged and alerted but never fails the transition that
// produced the notification.
type NotificationRetrier struct {
	store   NotificationQueueStore
	sender  Sender
	policy  RetryPolicy
	clock   core.Clock
	alerter Alerter
	batch   int
}

func NewNotificationRetrier(store NotificationQueueStore, sender Sender, policy RetryPolicy, clock core.Clock, alerter Alerter) *NotificationRetrier {
	if clock == nil {
		clock = core.NewRealClock()
	}
	if alerter == nil {
		alerter = LogAlerter{}
	}
	return &NotificationRetrier{
		store:   store,
		sender:  sender,
		policy:  policy,
		clock:   clock,
		alerter: alerter,
		batch:   50,
	}
}

// EnqueueNotification implements the engine's RetryQueue contract. The first
// redelivery attempt is scheduled one base delay out.
func (r *NotificationRetrier) EnqueueNotification(ctx context.Context, role domain.Role, requestID string, workflowType domain.WorkflowType) error {
	now := r.clock.Now().UTC()
	n := &QueuedNotification{
		RequestID:    requestID,
		Role:         role,
		WorkflowType: workflowType,
		RetryCount:   1,
		NextRetryAt:  now.Add(r.policy.Delay(1)),
		Status:       QueueStatusPending,
		Created:      now,
		Modified:     now,
	}
	id, err := r.store.Enqueue(ctx, n)
	if err != nil {
		return System("enqueue_notification", err)
	}
	slog.InfoContext(ctx, "Notification queued for retry",
		"queue_id", id, "request_id", requestID, "role", string(role), "next_retry_at", n.NextRetryAt)
	return nil
}

// ProcessDue attempts every queued notification whose retry time has passed
// and returns how many it handled. Kept separate from the run loop so tests
// can step time with a fake clock instead of sleeping.
func (r *NotificationRetrier) ProcessDue(ctx context.Context) int {
	now := r.clock.Now().UTC()
	due, err := r.store.FindDue(ctx, now, r.batch)
	if err != nil {
		Surface(r.alerter, Transient("find_due_notifications", err))
		return 0
	}
	for _, n := range due {
		r.attempt(ctx, n)
	}
	return len(due)
}

func (r *NotificationRetrier) attempt(ctx context.Context, n QueuedNotification) {
	now := r.clock.Now().UTC()
	if r.sender.SendAssignmentNotification(ctx, n.Role, n.RequestID, n.WorkflowType) {
		if err := r.store.MarkDelivered(ctx, n.ID, now); err != nil {
			Surface(r.alerter, Transient("mark_notification_delivered", err))
		}
		slog.InfoContext(ctx, "Queued notification delivered",
			"queue_id", n.ID, "request_id", n.RequestID, "attempt", n.RetryCount)
		return
	}

	next := n.RetryCount + 1
	if next > r.policy.MaxRetries {
		if err := r.store.MarkExhausted(ctx, n.ID, "max retries reached", now); err != nil {
			Surface(r.alerter, Transient("mark_notification_exhausted", err))
		}
		slog.Warn("Notification retries exhausted, delivery abandoned",
			"queue_id", n.ID, "request_id", n.RequestID, "role", string(n.Role), "attempts", n.RetryCount)
		return
	}
	nextAt := now.Add(r.policy.Delay(next))
	if err := r.store.Reschedule(ctx, n.ID, next, nextAt, "delivery failed"); err != nil {
		Surface(r.alerter, Transient("reschedule_notification", err))
		return
	}
	slog.InfoContext(ctx, "Notification retry rescheduled",
		"queue_id", n.ID, "request_id", n.RequestID, "attempt", next, "next_retry_at", nextAt)
}

// Run drains the queue on a fixed interval until the context is cancelled.
func (r *NotificationRetrier) Run(ctx context.Context, interval time.Duration) {
	slog.Info("Notification retry worker started", "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Notification retry worker stopping due to context cancel")
			return
		case <-r.clock.After(interval):
			r.ProcessDue(ctx)
		}
	}
}
