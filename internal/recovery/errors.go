package recovery

import (
	"errors"
	"fmt"
	"log/slog"
)

// Category classifies a failure by what can be done about it.
type Category string

const (
	CategoryTransient     Category = "transient"     // network/db timeout, auto-retryable
	CategoryData          Category = "data"          // validation/missing field, needs user correction
	CategoryBusinessLogic Category = "business"      // permission/invalid transition, not retryable
	CategorySystem        Category = "system"        // db corruption/unavailability, needs operator
	CategoryInventory     Category = "inventory"     // stock discrepancy, reconcilable
	CategoryNotification  Category = "notification"  // delivery failure, retryable and non-blocking
)

// Severity is orthogonal to Category; together they decide whether a failure
// is auto-recovered, queued, or surfaced.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Error is a categorized failure flowing out of engine operations.
type Error struct {
	Category Category
	Severity Severity
	Op       string
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s/%s", e.Op, e.Category, e.Severity)
	}
	return fmt.Sprintf("%s: %s/%s: %v", e.Op, e.Category, e.Severity, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(category Category, severity Severity, op string, err error) *Error {
	return &Error{Category: category, Severity: severity, Op: op, Err: err}
}

func Transient(op string, err error) *Error {
	return NewError(CategoryTransient, SeverityMedium, op, err)
}

func System(op string, err error) *Error {
	return NewError(CategorySystem, SeverityCritical, op, err)
}

func Inventory(severity Severity, op string, err error) *Error {
	return NewError(CategoryInventory, severity, op, err)
}

func Notification(op string, err error) *Error {
	return NewError(CategoryNotification, SeverityLow, op, err)
}

// Retryable reports whether the failure may be retried automatically.
func Retryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Category == CategoryTransient || e.Category == CategoryNotification
}

// CategoryOf extracts the category, defaulting to system for uncategorized
// failures so that nothing slips through unclassified.
func CategoryOf(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return CategorySystem
}

// Alerter receives critical failures. Dispatch must not block the caller.
type Alerter interface {
	CriticalAlert(op string, err error)
}

// LogAlerter is the default Alerter: a structured error line, fired on its
// own goroutine so the failing operation is never delayed by alerting.
type LogAlerter struct{}

func (LogAlerter) CriticalAlert(op string, err error) {
	go slog.Error("CRITICAL alert", "op", op, "error", err)
}

// Surface logs a categorized error and raises an alert when it is critical.
func Surface(alerter Alerter, err error) {
	var e *Error
	if !errors.As(err, &e) {
		slog.Error("Unclassified error", "error", err)
		return
	}
	slog.Error("Categorized error", "op", e.Op, "category", string(e.Category), "severity", string(e.Severity), "error", e.Err)
	if e.Severity == SeverityCritical && alerter != nil {
		alerter.CriticalAlert(e.Op, e.Err)
	}
}
