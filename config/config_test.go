package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/multierr"
)

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestFromEnvDefaults(t *testing.T) {
	c, err := FromEnv(env(nil))
	if err != nil {
		t.Fatal(err)
	}
	if c.Port != 8080 || c.MaxBound != 1_000_000 || c.ChunkSize != 4096 {
		t.Errorf("unexpected defaults: %+v", c)
	}
	if c.MaxConcurrent < 1 {
		t.Errorf("expected positive default concurrency, got %d", c.MaxConcurrent)
	}
	if c.JobTimeout != 0 {
		t.Errorf("expected no job timeout by default, got %s", c.JobTimeout)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	c, err := FromEnv(env(map[string]string{
		"PORT":                  "9090",
		"DEBUG":                 "true",
		"PRIMES_MAX_BOUND":      "5000000",
		"PRIMES_CHUNK_SIZE":     "128",
		"PRIMES_MAX_CONCURRENT": "3",
		"PRIMES_MEMORY_BUDGET":  "1048576",
		"PRIMES_JOB_TIMEOUT":    "2s",
		"PRIMES_DB_PATH":        "",
		"RATE_LIMIT":            "2.5",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if c.Port != 9090 || !c.Debug || c.MaxBound != 5_000_000 || c.ChunkSize != 128 {
		t.Errorf("overrides not applied: %+v", c)
	}
	if c.MaxConcurrent != 3 || c.MemoryBudget != 1<<20 || c.JobTimeout != 2*time.Second || c.RateLimit != 2.5 {
		t.Errorf("overrides not applied: %+v", c)
	}
	// Empty values keep the default.
	if c.DBPath != "primeworks.db" {
		t.Errorf("expected default db path, got %q", c.DBPath)
	}
}

func TestFromEnvReportsEveryError(t *testing.T) {
	_, err := FromEnv(env(map[string]string{
		"PORT":               "eighty",
		"PRIMES_CHUNK_SIZE":  "1.5",
		"PRIMES_JOB_TIMEOUT": "soon",
	}))
	if err == nil {
		t.Fatal("expected an error")
	}
	if n := len(multierr.Errors(err)); n != 3 {
		t.Errorf("expected 3 errors, got %d: %v", n, err)
	}
}

func TestValidate(t *testing.T) {
	c := Default()
	c.MaxBound = 1
	c.ChunkSize = 0
	err := c.Validate()
	if len(multierr.Errors(err)) != 2 {
		t.Fatalf("expected 2 errors, got %v", err)
	}
	if !strings.Contains(err.Error(), "PRIMES_MAX_BOUND") || !strings.Contains(err.Error(), "PRIMES_CHUNK_SIZE") {
		t.Errorf("unexpected error text: %v", err)
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("PRIMES_CHUNK_SIZE=77\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	wd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd)
	defer os.Unsetenv("PRIMES_CHUNK_SIZE")

	c, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if c.ChunkSize != 77 {
		t.Errorf("expected chunk size from .env, got %d", c.ChunkSize)
	}
}

func TestDefaultCredentials(t *testing.T) {
	c := Default()
	got := c.DefaultCredentials()
	if strings.Join(got, ",") != "JWT_SECRET,API_KEY,API_SECRET" {
		t.Errorf("expected every credential reported, got %v", got)
	}

	c, err := FromEnv(env(map[string]string{
		"JWT_SECRET": "s3cret",
		"API_KEY":    "ops",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if got := c.DefaultCredentials(); len(got) != 1 || got[0] != "API_SECRET" {
		t.Errorf("expected only API_SECRET, got %v", got)
	}
}
