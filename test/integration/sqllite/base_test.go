package sqllite

import (
	"fmt"
	"os"
	"sync/atomic"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/fieldgrid/servicedesk/internal/migrations"
)

var fileCounter int32 = 9018

// openTestDB opens a throwaway sqlite database file and applies the schema.
func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	n := atomic.AddInt32(&fileCounter, 1)
	filename := fmt.Sprintf("servicedesk-test-%d.db", n)

	db, err := sqlx.Open("sqlite3", filename)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
		os.Remove(filename)
	})

	schema, err := migrations.FS.ReadFile("sqllite3/0001_init.up.sql")
	if err != nil {
		t.Fatalf("Failed to read migration: %v", err)
	}
	if _, err := db.Exec(string(schema)); err != nil {
		t.Fatalf("Failed to apply schema: %v", err)
	}
	return db
}

func stockQuantity(t *testing.T, db *sqlx.DB, item string) (quantity, reserved int) {
	t.Helper()
	row := db.QueryRow(`SELECT quantity, reserved FROM inventory_stock WHERE item = ?`, item)
	if err := row.Scan(&quantity, &reserved); err != nil {
		t.Fatalf("Failed to read stock for %s: %v", item, err)
	}
	return quantity, reserved
}
