package dbopen_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hazyhaar/pagesnap/dbopen"
)

func pragma(t *testing.T, db *sql.DB, name string) int {
	t.Helper()
	var v int
	if err := db.QueryRow("PRAGMA " + name).Scan(&v); err != nil {
		t.Fatal(err)
	}
	return v
}

func TestOpenDefaults(t *testing.T) {
	db := dbopen.OpenMemory(t)
	if fk := pragma(t, db, "foreign_keys"); fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}
	if s := pragma(t, db, "synchronous"); s != 1 {
		t.Errorf("synchronous = %d, want 1 (NORMAL)", s)
	}
	if bt := pragma(t, db, "busy_timeout"); bt != 10_000 {
		t.Errorf("busy_timeout = %d, want 10000", bt)
	}
}

func TestOptions(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithBusyTimeout(5000), dbopen.WithSynchronous("FULL"))
	if bt := pragma(t, db, "busy_timeout"); bt != 5000 {
		t.Errorf("busy_timeout = %d, want 5000", bt)
	}
	if s := pragma(t, db, "synchronous"); s != 2 {
		t.Errorf("synchronous = %d, want 2 (FULL)", s)
	}
}

func TestWithSchema(t *testing.T) {
	db := dbopen.OpenMemory(t,
		dbopen.WithSchema(`CREATE TABLE IF NOT EXISTS a (id TEXT PRIMARY KEY)`),
		dbopen.WithSchema(`CREATE TABLE IF NOT EXISTS b (id TEXT PRIMARY KEY REFERENCES a(id))`),
	)
	if _, err := db.Exec(`INSERT INTO b (id) VALUES ('x')`); err == nil {
		t.Error("foreign key not enforced")
	}
	if _, err := db.Exec(`INSERT INTO a (id) VALUES ('x')`); err != nil {
		t.Fatal(err)
	}
}

func TestBadSchema(t *testing.T) {
	if _, err := dbopen.Open(dbopen.Memory, dbopen.WithSchema(`CREATE NONSENSE`)); err == nil {
		t.Error("invalid schema accepted")
	}
}

func TestWithMkdirAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "deep", "pagesnap.db")
	db, err := dbopen.Open(path, dbopen.WithMkdirAll())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Fatalf("directory not created: %v", err)
	}
}

func TestIsBusy(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("no such table"), false},
		{errors.New("prefix: SQLITE_BUSY (5)"), true},
		{errors.New("database is locked"), true},
		{errors.New("database table is locked"), true},
	}
	for _, tt := range tests {
		if got := dbopen.IsBusy(tt.err); got != tt.want {
			t.Errorf("IsBusy(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestRunTx(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(`CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)`))
	ctx := context.Background()

	if err := dbopen.RunTx(ctx, db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO kv VALUES ('a', '1')`)
		return err
	}); err != nil {
		t.Fatal(err)
	}

	sentinel := errors.New("rollback")
	err := dbopen.RunTx(ctx, db, func(tx *sql.Tx) error {
		tx.Exec(`INSERT INTO kv VALUES ('b', '2')`)
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want sentinel", err)
	}

	var n int
	db.QueryRow(`SELECT COUNT(*) FROM kv`).Scan(&n)
	if n != 1 {
		t.Errorf("rows = %d, want 1 after rollback", n)
	}
}

func TestExec(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(`CREATE TABLE kv (k TEXT PRIMARY KEY)`))
	res, err := dbopen.Exec(context.Background(), db, `INSERT INTO kv VALUES (?)`, "a")
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		t.Errorf("rows affected = %d", n)
	}
}

func TestRunTxCancelled(t *testing.T) {
	db := dbopen.OpenMemory(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := dbopen.RunTx(ctx, db, func(*sql.Tx) error { return nil }); err == nil {
		t.Fatal("expected error on cancelled context")
	}
}
