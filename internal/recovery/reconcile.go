package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fieldgrid/servicedesk/internal/core"
)

// Inventory transaction kinds.
const (
	InventoryKindReserve = "reserve"
	InventoryKindConsume = "consume"
	InventoryKindAdjust  = "adjust"
)

// StockRow is one inventory item with its on-hand and reserved quantities.
type StockRow struct {
	Item     string `db:"item"`
	Quantity int    `db:"quantity"`
	Reserved int    `db:"reserved"`
}

// InventoryTransaction is one bookkeeping movement against stock.
type InventoryTransaction struct {
	ID        int64     `db:"id"`
	RequestID string    `db:"request_id"`
	Item      string    `db:"item"`
	Quantity  int       `db:"quantity"`
	Kind      string    `db:"kind"`
	Comment   string    `db:"comment"`
	Created   time.Time `db:"created"`
}

// InventoryStore is the reconciler's view of inventory persistence.
type InventoryStore interface {
	FindNegativeStock(ctx context.Context) ([]StockRow, error)
	SetStockQuantity(ctx context.Context, item string, quantity int) error
	RecordTransaction(ctx context.Context, t *InventoryTransaction) error
	// FindOrphanedConsumptions lists consume transactions whose owning
	// request never got its inventory_updated flag set.
	FindOrphanedConsumptions(ctx context.Context, limit int) ([]InventoryTransaction, error)
}

// RequestFlagStore is the narrow slice of the request store the reconciler
// needs to repair tracking flags.
type RequestFlagStore interface {
	MarkInventoryUpdated(ctx context.Context, requestID string) error
}

// ReconcileReport summarizes one sweep.
type ReconcileReport struct {
	NegativeFixed    int
	NegativeReported int
	OrphansFlagged   int
}

// Reconciler periodically repairs inventory bookkeeping drift. Low and
// medium severity discrepancies are fixed in place with a compensating
// adjustment; high severity ones are only reported.
type Reconciler struct {
	inventory InventoryStore
	requests  RequestFlagStore
	clock     core.Clock
	alerter   Alerter
	// highThreshold is the negative magnitude above which a discrepancy is
	// considered high severity and left for an operator.
	highThreshold int
}

func NewReconciler(inventory InventoryStore, requests RequestFlagStore, clock core.Clock, alerter Alerter) *Reconciler {
	if clock == nil {
		clock = core.NewRealClock()
	}
	if alerter == nil {
		alerter = LogAlerter{}
	}
	return &Reconciler{
		inventory:     inventory,
		requests:      requests,
		clock:         clock,
		alerter:       alerter,
		highThreshold: 100,
	}
}

// Sweep runs one reconciliation pass.
func (r *Reconciler) Sweep(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport

	negatives, err := r.inventory.FindNegativeStock(ctx)
	if err != nil {
		return report, Transient("find_negative_stock", err)
	}
	for _, row := range negatives {
		deficit := -row.Quantity
		if deficit > r.highThreshold {
			report.NegativeReported++
			Surface(r.alerter, Inventory(SeverityHigh, "negative_stock",
				fmt.Errorf("item %s at %d, beyond auto-fix threshold", row.Item, row.Quantity)))
			continue
		}
		if err := r.inventory.SetStockQuantity(ctx, row.Item, 0); err != nil {
			Surface(r.alerter, Transient("zero_negative_stock", err))
			continue
		}
		adj := &InventoryTransaction{
			Item:     row.Item,
			Quantity: deficit,
			Kind:     InventoryKindAdjust,
			Comment:  fmt.Sprintf("reconciliation: zeroed negative stock of %d", row.Quantity),
			Created:  r.clock.Now().UTC(),
		}
		if err := r.inventory.RecordTransaction(ctx, adj); err != nil {
			Surface(r.alerter, Transient("record_compensating_adjustment", err))
			continue
		}
		report.NegativeFixed++
		slog.Warn("Reconciled negative stock", "item", row.Item, "was", row.Quantity)
	}

	orphans, err := r.inventory.FindOrphanedConsumptions(ctx, 100)
	if err != nil {
		return report, Transient("find_orphaned_consumptions", err)
	}
	flagged := make(map[string]struct{})
	for _, t := range orphans {
		if _, done := flagged[t.RequestID]; done {
			continue
		}
		if err := r.requests.MarkInventoryUpdated(ctx, t.RequestID); err != nil {
			Surface(r.alerter, Transient("flag_orphaned_consumption", err))
			continue
		}
		flagged[t.RequestID] = struct{}{}
		report.OrphansFlagged++
		slog.Warn("Flagged orphaned inventory consumption", "request_id", t.RequestID, "item", t.Item)
	}

	return report, nil
}

// Run sweeps on a fixed interval until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	slog.Info("Inventory reconciler started", "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Inventory reconciler stopping due to context cancel")
			return
		case <-r.clock.After(interval):
			if report, err := r.Sweep(ctx); err != nil {
				Surface(r.alerter, err)
			} else if report.NegativeFixed+report.NegativeReported+report.OrphansFlagged > 0 {
				slog.Info("Reconciliation sweep finished",
					"negative_fixed", report.NegativeFixed,
					"negative_reported", report.NegativeReported,
					"orphans_flagged", report.OrphansFlagged)
			}
		}
	}
}
