package database

import (
	"context"
	"testing"
)

func TestOpenSQLite(t *testing.T) {
	db, err := OpenSQL(context.Background(), "sqlite", ":memory:")
	if err != nil {
		t.Fatalf("OpenSQL: %v", err)
	}
	defer db.Close()

	if got := db.Rebind("SELECT ? WHERE ? = 1"); got != "SELECT ? WHERE ? = 1" {
		t.Errorf("Rebind = %q", got)
	}
	if db.PgxPoolStats() != nil {
		t.Error("sqlite should not report pgx pool stats")
	}
	var n int
	if err := db.GetContext(context.Background(), &n, "SELECT 1"); err != nil || n != 1 {
		t.Errorf("SELECT 1 = %d, %v", n, err)
	}
}

func TestOpenSQLUnknownDriver(t *testing.T) {
	if _, err := OpenSQL(context.Background(), "oracle", "x"); err == nil {
		t.Fatal("expected error")
	}
}
