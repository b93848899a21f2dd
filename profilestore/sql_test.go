package profilestore

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"
)

func TestDDLPerDriver(t *testing.T) {
	pg := ddlFor("postgres")
	if !strings.Contains(pg, "TIMESTAMPTZ") || strings.Contains(pg, "DATETIME") {
		t.Fatalf("unexpected postgres ddl: %s", pg)
	}
	my := ddlFor("mysql")
	if !strings.Contains(my, "DATETIME(6)") || strings.Contains(my, "TIMESTAMPTZ") {
		t.Fatalf("unexpected mysql ddl: %s", my)
	}
	for _, col := range strings.Split(profileColumns, ",") {
		col = strings.TrimSpace(col)
		if !strings.Contains(pg, col+" ") {
			t.Fatalf("ddl missing column %q", col)
		}
	}
}

func TestRebindPlaceholders(t *testing.T) {
	q := `SELECT subject_id FROM profiles WHERE subject_id = ?`
	if got := sqlx.NewDb(nil, "postgres").Rebind(q); !strings.Contains(got, "$1") {
		t.Fatalf("postgres rebind: %s", got)
	}
	if got := sqlx.NewDb(nil, "mysql").Rebind(q); !strings.Contains(got, "?") {
		t.Fatalf("mysql rebind: %s", got)
	}
}

func TestOpenSQLRejectsUnknownDriver(t *testing.T) {
	if _, err := OpenSQL(context.Background(), "sqlite3", "file::memory:"); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}

func TestUniqueViolation(t *testing.T) {
	cases := []struct {
		msg  string
		want bool
	}{
		{`pq: duplicate key value violates unique constraint "profiles_pkey"`, true},
		{"ERROR: 23505", true},
		{"Error 1062 (23000): Duplicate entry 'u1' for key 'PRIMARY'", true},
		{"connection refused", false},
	}
	for _, tc := range cases {
		if got := isUniqueViolation(errors.New(tc.msg)); got != tc.want {
			t.Fatalf("isUniqueViolation(%q) = %v, want %v", tc.msg, got, tc.want)
		}
	}
}

// TestSQLContract runs against a live database when GATE_TEST_SQL_DRIVER and
// GATE_TEST_SQL_DSN are set.
func TestSQLContract(t *testing.T) {
	driver, dsn := os.Getenv("GATE_TEST_SQL_DRIVER"), os.Getenv("GATE_TEST_SQL_DSN")
	if driver == "" || dsn == "" {
		t.Skip("GATE_TEST_SQL_DRIVER / GATE_TEST_SQL_DSN not set")
	}
	ctx := context.Background()
	s, err := OpenSQL(ctx, driver, dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.db.Close()
	if err := s.EnsureTable(ctx); err != nil {
		t.Fatalf("ensure table: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM profiles`); err != nil {
		t.Fatalf("reset: %v", err)
	}
	runContract(t, s)
}
