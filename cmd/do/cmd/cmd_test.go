package cmd

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func setupEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("APP_ENV", "development")
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("STORE_DRIVER", "sql")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_CONNECTION", filepath.Join(dir, "test.db")+"?_pragma=busy_timeout(5000)&_time_format=sqlite")
	t.Setenv("STORAGE_DRIVER", "local")
	t.Setenv("UPLOAD_DIR", filepath.Join(dir, "uploads"))
	t.Setenv("DOWNLOAD_SIGNING_KEY", strings.Repeat("k", 32))
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := Root()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootCommands(t *testing.T) {
	root := Root()
	for _, path := range [][]string{
		{"migrate", "up"},
		{"migrate", "down"},
		{"migrate", "status"},
		{"sweep"},
	} {
		found, _, err := root.Find(path)
		if err != nil || found.Name() != path[len(path)-1] {
			t.Errorf("command %v not registered (err %v)", path, err)
		}
	}
}

func TestMigrateThenSweep(t *testing.T) {
	setupEnv(t)

	if _, err := run(t, "migrate", "up"); err != nil {
		t.Fatalf("migrate up: %v", err)
	}

	out, err := run(t, "sweep")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !strings.Contains(out, "removed 0 secrets, 0 download links, 0 files") {
		t.Errorf("sweep output = %q", out)
	}
}

func TestMigrateRequiresSQLStore(t *testing.T) {
	setupEnv(t)
	t.Setenv("STORE_DRIVER", "redis")

	_, err := run(t, "migrate", "status")
	if err == nil || !strings.Contains(err.Error(), "STORE_DRIVER") {
		t.Errorf("err = %v, want STORE_DRIVER error", err)
	}
}
