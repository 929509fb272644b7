package migrate

import (
	"context"
	"testing"

	"gigline/internal/db"
)

func TestMigrateIsRepeatable(t *testing.T) {
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	ctx := context.Background()
	if v, err := Version(ctx, conn); err != nil || v != 0 {
		t.Fatalf("fresh version = %d, %v", v, err)
	}
	for i := 0; i < 2; i++ {
		if err := Migrate(ctx, conn, dialect); err != nil {
			t.Fatalf("migrate run %d: %v", i, err)
		}
	}
	v, err := Version(ctx, conn)
	if err != nil || v != 1 {
		t.Fatalf("version = %d, %v", v, err)
	}
	for _, table := range []string{"missions", "contracts", "payments", "webhook_events", "events", "api_keys", "legal_consents"} {
		var n int
		if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
			t.Fatalf("table %s: %v", table, err)
		}
	}
}

func TestBothDialectsShipSameVersions(t *testing.T) {
	lite, err := loadMigrations(db.SQLite)
	if err != nil {
		t.Fatal(err)
	}
	pg, err := loadMigrations(db.Postgres)
	if err != nil {
		t.Fatal(err)
	}
	if len(lite) != len(pg) {
		t.Fatalf("sqlite has %d migrations, postgres %d", len(lite), len(pg))
	}
	for i := range lite {
		if lite[i].Version != pg[i].Version {
			t.Fatalf("version mismatch at %d: %d vs %d", i, lite[i].Version, pg[i].Version)
		}
	}
}

func TestStatementsSplit(t *testing.T) {
	got := statements("CREATE TABLE a(x INT);\n\nCREATE INDEX a_x ON a(x);\n")
	if len(got) != 2 || got[1] != "CREATE INDEX a_x ON a(x)" {
		t.Fatalf("statements = %#v", got)
	}
}
