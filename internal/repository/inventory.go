package repository

import (
	"context"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/fieldgrid/servicedesk/internal/core"
	"github.com/fieldgrid/servicedesk/internal/domain"
	"github.com/fieldgrid/servicedesk/internal/recovery"
)

// InventoryRepository holds stock levels and the bookkeeping transactions
// against them. It serves both the engine's reserve/consume side effects and
// the reconciler's repair sweep.
type InventoryRepository struct {
	db      *sqlx.DB
	dialect Dialect
	clock   core.Clock
}

func NewInventoryRepository(db *sqlx.DB, dialect Dialect, clock core.Clock) *InventoryRepository {
	if clock == nil {
		clock = core.NewRealClock()
	}
	return &InventoryRepository{db: db, dialect: dialect, clock: clock}
}

// ReserveEquipment puts a hold on stock for every item on the list. Returns
// false when any line could not be reserved; lines reserved before the
// failing one stay reserved and are picked up by reconciliation.
func (r *InventoryRepository) ReserveEquipment(ctx context.Context, requestID string, items domain.EquipmentList) bool {
	ok := true
	for _, item := range items {
		if !r.reserveOne(ctx, requestID, item) {
			ok = false
		}
	}
	return ok
}

func (r *InventoryRepository) reserveOne(ctx context.Context, requestID string, item domain.EquipmentItem) bool {
	query := r.db.Rebind(`
		UPDATE inventory_stock
		SET reserved = reserved + ?
		WHERE item = ? AND quantity - reserved >= ?
	`)
	res, err := r.db.ExecContext(ctx, query, item.Quantity, item.Name, item.Quantity)
	if err != nil {
		slog.Error("Reserve failed", "request_id", requestID, "item", item.Name, "error", err)
		return false
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		slog.Warn("Insufficient stock for reservation",
			"request_id", requestID, "item", item.Name, "quantity", item.Quantity)
		return false
	}
	if err := r.RecordTransaction(ctx, &recovery.InventoryTransaction{
		RequestID: requestID,
		Item:      item.Name,
		Quantity:  item.Quantity,
		Kind:      recovery.InventoryKindReserve,
		Created:   r.clock.Now().UTC(),
	}); err != nil {
		slog.Error("Failed to record reserve transaction", "request_id", requestID, "item", item.Name, "error", err)
	}
	return true
}

// ConsumeReserved converts every open reservation of the request into
// consumption.
func (r *InventoryRepository) ConsumeReserved(ctx context.Context, requestID string) bool {
	reservations, err := r.openReservations(ctx, requestID)
	if err != nil {
		slog.Error("Failed to load reservations", "request_id", requestID, "error", err)
		return false
	}
	ok := true
	for _, res := range reservations {
		if !r.consumeOne(ctx, requestID, res) {
			ok = false
		}
	}
	return ok
}

// openReservations aggregates reserved minus already-consumed quantities per
// item for the request.
func (r *InventoryRepository) openReservations(ctx context.Context, requestID string) ([]recovery.InventoryTransaction, error) {
	query := r.db.Rebind(`
		SELECT item,
		       SUM(CASE WHEN kind = ? THEN quantity ELSE -quantity END) AS quantity
		FROM inventory_transaction
		WHERE request_id = ? AND kind IN (?, ?)
		GROUP BY item
		HAVING SUM(CASE WHEN kind = ? THEN quantity ELSE -quantity END) > 0
	`)
	rows, err := r.db.QueryContext(ctx, query,
		recovery.InventoryKindReserve, requestID,
		recovery.InventoryKindReserve, recovery.InventoryKindConsume,
		recovery.InventoryKindReserve)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []recovery.InventoryTransaction
	for rows.Next() {
		var t recovery.InventoryTransaction
		if err := rows.Scan(&t.Item, &t.Quantity); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *InventoryRepository) consumeOne(ctx context.Context, requestID string, res recovery.InventoryTransaction) bool {
	query := r.db.Rebind(`
		UPDATE inventory_stock
		SET quantity = quantity - ?, reserved = reserved - ?
		WHERE item = ?
	`)
	if _, err := r.db.ExecContext(ctx, query, res.Quantity, res.Quantity, res.Item); err != nil {
		slog.Error("Consume failed", "request_id", requestID, "item", res.Item, "error", err)
		return false
	}
	if err := r.RecordTransaction(ctx, &recovery.InventoryTransaction{
		RequestID: requestID,
		Item:      res.Item,
		Quantity:  res.Quantity,
		Kind:      recovery.InventoryKindConsume,
		Created:   r.clock.Now().UTC(),
	}); err != nil {
		slog.Error("Failed to record consume transaction", "request_id", requestID, "item", res.Item, "error", err)
	}
	return true
}

func (r *InventoryRepository) FindNegativeStock(ctx context.Context) ([]recovery.StockRow, error) {
	var out []recovery.StockRow
	err := r.db.SelectContext(ctx, &out,
		`SELECT item, quantity, reserved FROM inventory_stock WHERE quantity < 0`)
	return out, err
}

func (r *InventoryRepository) SetStockQuantity(ctx context.Context, item string, quantity int) error {
	query := r.db.Rebind(`UPDATE inventory_stock SET quantity = ? WHERE item = ?`)
	_, err := r.db.ExecContext(ctx, query, quantity, item)
	return err
}

func (r *InventoryRepository) RecordTransaction(ctx context.Context, t *recovery.InventoryTransaction) error {
	query := r.db.Rebind(`
		INSERT INTO inventory_transaction (request_id, item, quantity, kind, comment, created)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	_, err := r.db.ExecContext(ctx, query,
		t.RequestID, t.Item, t.Quantity, t.Kind, t.Comment, r.dialect.bindTime(t.Created))
	return err
}

// FindOrphanedConsumptions lists consume transactions whose owning request
// never had its inventory_updated flag set.
func (r *InventoryRepository) FindOrphanedConsumptions(ctx context.Context, limit int) ([]recovery.InventoryTransaction, error) {
	query := r.db.Rebind(`
		SELECT t.id, t.request_id, t.item, t.quantity, t.kind, t.comment, t.created
		FROM inventory_transaction t
		JOIN service_request r ON r.id = t.request_id
		WHERE t.kind = ? AND r.inventory_updated = ?
		ORDER BY t.id ASC
		LIMIT ?
	`)
	var out []recovery.InventoryTransaction
	err := r.db.SelectContext(ctx, &out, query, recovery.InventoryKindConsume, false, limit)
	return out, err
}

// UpsertStock seeds or adjusts a stock line; used by provisioning and tests.
func (r *InventoryRepository) UpsertStock(ctx context.Context, item string, quantity int) error {
	update := r.db.Rebind(`UPDATE inventory_stock SET quantity = ? WHERE item = ?`)
	res, err := r.db.ExecContext(ctx, update, quantity, item)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected > 0 {
		return nil
	}
	insert := r.db.Rebind(`INSERT INTO inventory_stock (item, quantity, reserved) VALUES (?, ?, 0)`)
	_, err = r.db.ExecContext(ctx, insert, item, quantity)
	return err
}
