package db

import (
	"path/filepath"
	"testing"
)

func TestSQLitePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"./data/onetimeview.db", "./data/onetimeview.db"},
		{"./data/onetimeview.db?_pragma=busy_timeout(5000)", "./data/onetimeview.db"},
		{"file:/var/lib/otv/otv.db?_time_format=sqlite", "/var/lib/otv/otv.db"},
	}
	for _, tt := range tests {
		if got := sqlitePath(tt.in); got != tt.want {
			t.Errorf("sqlitePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestInitAndMigrate(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "nested", "test.db") + "?_pragma=busy_timeout(5000)&_time_format=sqlite"

	database, err := Init("sqlite", dsn)
	if err != nil {
		t.Fatalf("Init() error: %v", err)
	}
	defer Close(database)

	if err := RunMigrations(database.DB, "sqlite"); err != nil {
		t.Fatalf("RunMigrations() error: %v", err)
	}

	for _, table := range []string{"secrets", "handoffs"} {
		var n int
		err := database.Get(&n, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = $1`, table)
		if err != nil {
			t.Fatalf("lookup %s: %v", table, err)
		}
		if n != 1 {
			t.Errorf("table %s missing after migrations", table)
		}
	}

	// Re-running is a no-op
	if err := RunMigrations(database.DB, "sqlite"); err != nil {
		t.Fatalf("second RunMigrations() error: %v", err)
	}

	if err := MigrateDown(database.DB, "sqlite"); err != nil {
		t.Fatalf("MigrateDown() error: %v", err)
	}
	var n int
	if err := database.Get(&n, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'handoffs'`); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Error("handoffs table still present after MigrateDown")
	}
}
