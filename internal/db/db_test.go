package db

import (
	"os"
	"testing"
)

func TestRebind(t *testing.T) {
	q := `UPDATE missions SET status=? WHERE id=? AND status=?`
	if got := SQLite.Rebind(q); got != q {
		t.Fatalf("sqlite rebind changed query: %s", got)
	}
	want := `UPDATE missions SET status=$1 WHERE id=$2 AND status=$3`
	if got := Postgres.Rebind(q); got != want {
		t.Fatalf("postgres rebind = %s", got)
	}
}

func TestOpenSQLiteCreatesWorkspace(t *testing.T) {
	dir := t.TempDir()
	conn, dialect, err := Open(Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if dialect != SQLite {
		t.Fatalf("dialect = %s", dialect)
	}
	if err := conn.Ping(); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if _, err := os.Stat(Path(dir)); err != nil {
		t.Fatalf("db file missing: %v", err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, _, err := Open(Config{Driver: "mysql"}); err == nil {
		t.Fatalf("expected error")
	}
}
