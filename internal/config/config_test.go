package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Iterations() != 10000 {
		t.Errorf("Iterations = %d, want 10000", cfg.Iterations())
	}
	if cfg.ProgressInterval() != 1000 {
		t.Errorf("ProgressInterval = %d, want 1000", cfg.ProgressInterval())
	}
	if cfg.Progress() != "steps" {
		t.Errorf("Progress = %q, want steps", cfg.Progress())
	}
	if cfg.ProfileDir() != "run.profile" {
		t.Errorf("ProfileDir = %q, want run.profile", cfg.ProfileDir())
	}
	if cfg.MemorySize() != 4<<20 {
		t.Errorf("MemorySize = %d, want 4 MiB", cfg.MemorySize())
	}
	if cfg.LogLevel() != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want info", cfg.LogLevel())
	}
	if cfg.TraceFile != "" || cfg.BaselineDB != "" {
		t.Errorf("optional outputs enabled by default: %+v", cfg)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rvbench.yml")
	data := `
iterations: 50
progress_interval: 10
progress: bar
profile_dir: out
trace_file: trace.bin
baseline_db: base.db
memory_size: 8388608
log_level: debug
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Iterations() != 50 || cfg.ProgressInterval() != 10 {
		t.Errorf("iterations/interval = %d/%d", cfg.Iterations(), cfg.ProgressInterval())
	}
	if cfg.Progress() != "bar" || cfg.ProfileDir() != "out" {
		t.Errorf("progress/profile = %q/%q", cfg.Progress(), cfg.ProfileDir())
	}
	if cfg.TraceFile != "trace.bin" || cfg.BaselineDB != "base.db" {
		t.Errorf("trace/baseline = %q/%q", cfg.TraceFile, cfg.BaselineDB)
	}
	if cfg.MemorySize() != 8<<20 {
		t.Errorf("MemorySize = %d", cfg.MemorySize())
	}
	if cfg.LogLevel() != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want debug", cfg.LogLevel())
	}
}

func TestLoadFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rvbench.yml")
	if err := os.WriteFile(path, []byte("iterations: 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvVar, path)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Iterations() != 3 {
		t.Fatalf("Iterations = %d, want 3", cfg.Iterations())
	}
}

func TestInvalidConfigs(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"progress mode", "progress: spinner\n", "unknown progress mode"},
		{"log level", "log_level: loud\n", "unknown log level"},
		{"negative iterations", "iterations: -1\n", "must not be negative"},
		{"bad yaml", "iterations: [1\n", "parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
