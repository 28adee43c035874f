package db

import (
	"database/sql"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

func TestRebindPostgres(t *testing.T) {
	got := DialectPostgres.Rebind("SELECT * FROM t WHERE a = ? AND b = '?' AND c = ?")
	want := "SELECT * FROM t WHERE a = $1 AND b = '?' AND c = $2"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if DialectMySQL.Rebind("a = ?") != "a = ?" {
		t.Fatalf("mysql queries must not be rewritten")
	}
}

func TestUniqueViolation(t *testing.T) {
	myErr := fmt.Errorf("insert: %w", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'x' for key 'submissions.PRIMARY'"})
	if key, ok := UniqueViolation(myErr); !ok || key != "submissions.PRIMARY" {
		t.Fatalf("unexpected mysql result %q %v", key, ok)
	}
	pqErr := &pq.Error{Code: "23505", Constraint: "submissions_pkey"}
	if key, ok := UniqueViolation(pqErr); !ok || key != "submissions_pkey" {
		t.Fatalf("unexpected postgres result %q %v", key, ok)
	}
	if _, ok := UniqueViolation(sql.ErrNoRows); ok {
		t.Fatalf("ErrNoRows is not a duplicate")
	}
	if !IsNoRows(fmt.Errorf("wrap: %w", sql.ErrNoRows)) {
		t.Fatalf("expected wrapped no rows")
	}
}

func TestDialectFor(t *testing.T) {
	cases := map[string]Dialect{"": DialectMySQL, "MySQL": DialectMySQL, "postgresql": DialectPostgres, "pg": DialectPostgres}
	for in, want := range cases {
		if got, ok := dialectFor(in); !ok || got != want {
			t.Fatalf("dialectFor(%q) = %q %v", in, got, ok)
		}
	}
	if _, ok := dialectFor("sqlite"); ok {
		t.Fatalf("sqlite should be rejected")
	}
	if _, err := Open("sqlite", PoolConfig{DSN: "x"}); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}
