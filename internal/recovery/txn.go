package recovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"
)

// Op is one forward step of a transactional state change.
type Op func(ctx context.Context) error

// Txn records forward operations paired with their rollback counterparts and
// executes them as a unit: all forward ops in order, or, on the first
// failure, the rollbacks of the already-applied ops in reverse order. The
// request therefore never ends up partially updated.
type Txn struct {
	name      string
	ops       []txnOp
	committed bool
}

type txnOp struct {
	name     string
	forward  Op
	rollback Op
}

func NewTxn(name string) *Txn {
	return &Txn{name: name}
}

// Add records a forward operation and its inverse. A nil rollback means the
// op needs no compensation (e.g. appending to an append-only table whose row
// is unreachable once the owning insert is rolled back).
func (t *Txn) Add(name string, forward, rollback Op) {
	t.ops = append(t.ops, txnOp{name: name, forward: forward, rollback: rollback})
}

// Commit runs the recorded ops in order. On failure it unwinds in reverse
// and returns a categorized error carrying the original failure; rollback
// failures are aggregated onto it.
func (t *Txn) Commit(ctx context.Context) error {
	if t.committed {
		return System(t.name, fmt.Errorf("transaction already committed"))
	}
	t.committed = true

	for i, op := range t.ops {
		if err := op.forward(ctx); err != nil {
			slog.Error("Transaction op failed, rolling back",
				"txn", t.name, "op", op.name, "applied_ops", i, "error", err)
			result := fmt.Errorf("%s: op %s: %w", t.name, op.name, err)
			if rbErr := t.rollback(ctx, i-1); rbErr != nil {
				result = multierror.Append(result, rbErr)
				return System(t.name, result)
			}
			return Transient(t.name, result)
		}
	}
	return nil
}

// rollback unwinds ops[0..last] in reverse order, collecting every failure
// rather than stopping at the first one.
func (t *Txn) rollback(ctx context.Context, last int) error {
	var result *multierror.Error
	for i := last; i >= 0; i-- {
		op := t.ops[i]
		if op.rollback == nil {
			continue
		}
		if err := op.rollback(ctx); err != nil {
			slog.Error("Rollback op failed", "txn", t.name, "op", op.name, "error", err)
			result = multierror.Append(result, fmt.Errorf("rollback %s: %w", op.name, err))
		}
	}
	return result.ErrorOrNil()
}
