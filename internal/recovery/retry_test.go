package recovery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fieldgrid/servicedesk/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock { return &fakeClock{now: start} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}
func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	return ch
}
func (c *fakeClock) Sleep(d time.Duration) {}
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type MockQueueStore struct {
	rows   []QueuedNotification
	nextID int64

	delivered []int64
	exhausted []int64
}

func (m *MockQueueStore) Enqueue(ctx context.Context, n *QueuedNotification) (int64, error) {
	m.nextID++
	n.ID = m.nextID
	m.rows = append(m.rows, *n)
	return n.ID, nil
}

func (m *MockQueueStore) FindDue(ctx context.Context, now time.Time, limit int) ([]QueuedNotification, error) {
	var due []QueuedNotification
	for _, n := range m.rows {
		if n.Status == QueueStatusPending && !n.NextRetryAt.After(now) {
			due = append(due, n)
			if len(due) == limit {
				break
			}
		}
	}
	return due, nil
}

func (m *MockQueueStore) MarkDelivered(ctx context.Context, id int64, now time.Time) error {
	m.delivered = append(m.delivered, id)
	m.setStatus(id, QueueStatusDelivered)
	return nil
}

func (m *MockQueueStore) Reschedule(ctx context.Context, id int64, retryCount int, nextRetryAt time.Time, lastError string) error {
	for i := range m.rows {
		if m.rows[i].ID == id {
			m.rows[i].RetryCount = retryCount
			m.rows[i].NextRetryAt = nextRetryAt
		}
	}
	return nil
}

func (m *MockQueueStore) MarkExhausted(ctx context.Context, id int64, lastError string, now time.Time) error {
	m.exhausted = append(m.exhausted, id)
	m.setStatus(id, QueueStatusExhausted)
	return nil
}

func (m *MockQueueStore) CountPending(ctx context.Context) (int, error) {
	count := 0
	for _, n := range m.rows {
		if n.Status == QueueStatusPending {
			count++
		}
	}
	return count, nil
}

func (m *MockQueueStore) setStatus(id int64, status string) {
	for i := range m.rows {
		if m.rows[i].ID == id {
			m.rows[i].Status = status
		}
	}
}

type MockSender struct {
	results  []bool
	attempts int
}

func (m *MockSender) SendAssignmentNotification(ctx context.Context, role domain.Role, requestID string, workflowType domain.WorkflowType) bool {
	m.attempts++
	if len(m.results) == 0 {
		return true
	}
	ok := m.results[0]
	m.results = m.results[1:]
	return ok
}

func testPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:         30 * time.Second,
		BackoffMultiplier: 2.0,
		MaxDelay:          time.Hour,
		MaxRetries:        5,
		Jitter:            false,
	}
}

func TestRetryPolicyBackoffSchedule(t *testing.T) {
	p := testPolicy()

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{4, 4 * time.Minute},
		{5, 8 * time.Minute},
		{10, time.Hour}, // capped
	}
	for _, c := range cases {
		if got := p.Delay(c.attempt); got != c.want {
			t.Errorf("Delay(%d) = %s, want %s", c.attempt, got, c.want)
		}
	}
}

func TestRetryPolicyJitterStaysWithinBounds(t *testing.T) {
	p := testPolicy()
	p.Jitter = true

	for i := 0; i < 50; i++ {
		d := p.Delay(2)
		if d < 54*time.Second || d > 66*time.Second {
			t.Fatalf("jittered delay %s outside +-10%% of 60s", d)
		}
	}
}

func TestRetryPolicyMaxDelayIsHardCap(t *testing.T) {
	p := testPolicy()
	p.Jitter = true

	for i := 0; i < 50; i++ {
		if d := p.Delay(10); d > p.MaxDelay {
			t.Fatalf("delay %s exceeds cap %s", d, p.MaxDelay)
		}
	}
}

func TestEnqueueSchedulesFirstRetry(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := &MockQueueStore{}
	r := NewNotificationRetrier(store, &MockSender{}, testPolicy(), clock, nil)

	err := r.EnqueueNotification(context.Background(), domain.RoleManager, "SR-1", domain.WorkflowConnectionRequest)
	if err != nil {
		t.Fatalf("EnqueueNotification returned error: %v", err)
	}
	if len(store.rows) != 1 {
		t.Fatalf("expected 1 queued row, got %d", len(store.rows))
	}
	row := store.rows[0]
	if row.RetryCount != 1 {
		t.Errorf("expected retry_count 1, got %d", row.RetryCount)
	}
	want := clock.Now().Add(30 * time.Second)
	if !row.NextRetryAt.Equal(want) {
		t.Errorf("expected next retry at %s, got %s", want, row.NextRetryAt)
	}
}

func TestProcessDueDeliversAndMarks(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := &MockQueueStore{}
	sender := &MockSender{}
	r := NewNotificationRetrier(store, sender, testPolicy(), clock, nil)

	_ = r.EnqueueNotification(context.Background(), domain.RoleManager, "SR-1", domain.WorkflowConnectionRequest)

	// Nothing is due before the first backoff elapses.
	if n := r.ProcessDue(context.Background()); n != 0 {
		t.Fatalf("expected nothing due yet, processed %d", n)
	}

	clock.Advance(31 * time.Second)
	if n := r.ProcessDue(context.Background()); n != 1 {
		t.Fatalf("expected 1 due, processed %d", n)
	}
	if len(store.delivered) != 1 {
		t.Errorf("expected row marked delivered, got %v", store.delivered)
	}
	if sender.attempts != 1 {
		t.Errorf("expected 1 send attempt, got %d", sender.attempts)
	}
}

func TestProcessDueReschedulesWithBackoff(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := &MockQueueStore{}
	sender := &MockSender{results: []bool{false, true}}
	r := NewNotificationRetrier(store, sender, testPolicy(), clock, nil)

	_ = r.EnqueueNotification(context.Background(), domain.RoleManager, "SR-1", domain.WorkflowConnectionRequest)

	clock.Advance(31 * time.Second)
	r.ProcessDue(context.Background()) // fails, rescheduled as attempt 2

	row := store.rows[0]
	if row.RetryCount != 2 {
		t.Fatalf("expected retry_count 2, got %d", row.RetryCount)
	}
	want := clock.Now().Add(time.Minute)
	if !row.NextRetryAt.Equal(want) {
		t.Errorf("expected second retry at %s, got %s", want, row.NextRetryAt)
	}

	clock.Advance(61 * time.Second)
	r.ProcessDue(context.Background()) // succeeds
	if len(store.delivered) != 1 {
		t.Error("expected eventual delivery")
	}
}

func TestProcessDueExhaustsAfterMaxRetries(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := &MockQueueStore{}
	sender := &MockSender{results: []bool{false, false, false, false, false}}
	r := NewNotificationRetrier(store, sender, testPolicy(), clock, nil)

	_ = r.EnqueueNotification(context.Background(), domain.RoleTechnician, "SR-2", domain.WorkflowTechnicalService)

	// Walk the whole schedule; attempts 1..4 reschedule, attempt 5 exhausts.
	for i := 0; i < 5; i++ {
		clock.Advance(10 * time.Minute)
		r.ProcessDue(context.Background())
	}

	if len(store.exhausted) != 1 {
		t.Fatalf("expected row exhausted, got %v", store.exhausted)
	}
	if sender.attempts != 5 {
		t.Errorf("expected exactly 5 attempts, got %d", sender.attempts)
	}
	pending, _ := store.CountPending(context.Background())
	if pending != 0 {
		t.Errorf("expected no pending rows, got %d", pending)
	}
}
