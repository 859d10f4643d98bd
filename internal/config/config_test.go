package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestLoadFileResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "signalgate.yaml")
	content := `signalsets: sets
testCases: /abs/cases
concurrency: 3
years: [2019, 2021]
logs:
  directory: logs
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Signalsets != filepath.Join(dir, "sets") {
		t.Fatalf("Signalsets = %s", cfg.Signalsets)
	}
	if cfg.TestCases != "/abs/cases" {
		t.Fatalf("TestCases = %s", cfg.TestCases)
	}
	if cfg.Concurrency != 3 || !reflect.DeepEqual(cfg.Years, []int{2019, 2021}) {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Logs.Directory != filepath.Join(dir, "logs") || cfg.Logs.Level != "debug" {
		t.Fatalf("unexpected logs %+v", cfg.Logs)
	}
	if cfg.Logs.MaxSizeMB != 25 || cfg.Logs.MaxBackups != 5 {
		t.Fatalf("log defaults not applied: %+v", cfg.Logs)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(path, []byte("concurrency: 2\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	t.Setenv("SIGNALGATE_CONCURRENCY", "9")
	t.Setenv("SIGNALGATE_YEARS", "2018,2020")
	t.Setenv("SIGNALGATE_LOG_LEVEL", "warn")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Concurrency != 9 {
		t.Fatalf("Concurrency = %d, want 9", cfg.Concurrency)
	}
	if !reflect.DeepEqual(cfg.Years, []int{2018, 2020}) {
		t.Fatalf("Years = %v", cfg.Years)
	}
	if cfg.LogOptions().Level != "warn" {
		t.Fatalf("log level = %s", cfg.LogOptions().Level)
	}
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("Chdir failed: %v", err)
	}
	t.Cleanup(func() { os.Chdir(wd) })

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Signalsets != filepath.Join("signalsets", "v3") || cfg.TestCases != filepath.Join("tests", "test_cases") {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Concurrency <= 0 {
		t.Fatalf("Concurrency default not applied")
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("explicit missing file should fail")
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("unknownKey: 1\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("unknown key should fail")
	}
	t.Setenv("SIGNALGATE_CONCURRENCY", "many")
	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("err = %v, want parse env error", err)
	}
}
