package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tinyrange/rvbench/internal/baseline"
	"github.com/tinyrange/rvbench/internal/config"
	"github.com/tinyrange/rvbench/internal/guest"
	"github.com/tinyrange/rvbench/internal/program"
	"github.com/tinyrange/rvbench/internal/rvm"
	"github.com/tinyrange/rvbench/internal/timeslice"
)

type testEnv struct {
	dir    string
	stdout *os.File
	stderr *os.File
}

func newTestEnv(t *testing.T, extra string) *testEnv {
	t.Helper()
	dir := t.TempDir()

	cfg := fmt.Sprintf(`iterations: 3
progress_interval: 2
profile_dir: %s
trace_file: %s
baseline_db: %s
%s`,
		filepath.Join(dir, "run.profile"),
		filepath.Join(dir, "trace.bin"),
		filepath.Join(dir, "baseline.db"),
		extra)
	cfgPath := filepath.Join(dir, "rvbench.yml")
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(config.EnvVar, cfgPath)

	env := &testEnv{dir: dir}
	var err error
	if env.stdout, err = os.Create(filepath.Join(dir, "stdout")); err != nil {
		t.Fatal(err)
	}
	if env.stderr, err = os.Create(filepath.Join(dir, "stderr")); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		env.stdout.Close()
		env.stderr.Close()
	})
	return env
}

func (e *testEnv) output(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(e.dir, name))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func writeGuest(t *testing.T, dir string, compress bool) (string, []byte) {
	t.Helper()
	image, err := guest.Echo()
	if err != nil {
		t.Fatalf("Echo: %v", err)
	}
	data := image
	if compress {
		if data, err = program.Compress(image); err != nil {
			t.Fatalf("Compress: %v", err)
		}
	}
	path := filepath.Join(dir, "echo.elf")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path, image
}

func TestRunEcho(t *testing.T) {
	env := newTestEnv(t, "")
	path, _ := writeGuest(t, env.dir, true)

	status := run([]string{path, "hi", "there"}, env.stdout, env.stderr)
	if status != 2 {
		t.Fatalf("status = %d, want 2; stderr:\n%s", status, env.output(t, "stderr"))
	}

	stdout := env.output(t, "stdout")
	want := "\"hi\"\n\"there\"\nStep: 0\n\"hi\"\n\"there\"\n\"hi\"\n\"there\"\nStep: 2\nasm exit=Ok(2) cycles="
	if !strings.HasPrefix(stdout, want) {
		t.Fatalf("stdout = %q, want prefix %q", stdout, want)
	}
	if !strings.Contains(stdout, " r[a1]=7\nAverage runtime: ") {
		t.Fatalf("stdout %q lacks the summary", stdout)
	}

	if _, err := os.Stat(filepath.Join(env.dir, "run.profile", "cpu.pprof")); err != nil {
		t.Fatalf("cpu profile: %v", err)
	}

	f, err := os.Open(filepath.Join(env.dir, "trace.bin"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	stats, err := timeslice.ReadAll(f)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	runs := 0
	for _, s := range stats {
		if s.Name == "bench::run" {
			runs = s.Count
		}
	}
	if runs != 3 {
		t.Fatalf("trace has %d runs, want 3", runs)
	}

	// a second process agrees with the stored baseline
	if status := run([]string{path, "hi", "there"}, env.stdout, env.stderr); status != 2 {
		t.Fatalf("second run status = %d; stderr:\n%s", status, env.output(t, "stderr"))
	}
	if !strings.Contains(env.output(t, "stderr"), "baseline matches") {
		t.Fatalf("stderr lacks the baseline verdict:\n%s", env.output(t, "stderr"))
	}
}

func TestRunBaselineMismatch(t *testing.T) {
	env := newTestEnv(t, "")
	path, image := writeGuest(t, env.dir, false)

	cfg := rvm.DefaultConfig()
	cfg.MemorySize = config.DefaultMemorySize
	store, err := baseline.Open(filepath.Join(env.dir, "baseline.db"))
	if err != nil {
		t.Fatal(err)
	}
	key := baseline.Key{
		Program: program.Digest(image),
		Config:  cfg.Hash().String(),
		Args:    baseline.ArgsDigest(nil),
	}
	if err := store.Put(key, "exit=Ok(0) cycles=1 r[a1]=0"); err != nil {
		t.Fatal(err)
	}
	store.Close()

	if status := run([]string{path}, env.stdout, env.stderr); status != 1 {
		t.Fatalf("status = %d, want 1", status)
	}
	stderr := env.output(t, "stderr")
	if !strings.Contains(stderr, "failed to run benchmark: baseline: result differs") {
		t.Fatalf("stderr = %q", stderr)
	}
}

func TestRunInvalidProgram(t *testing.T) {
	env := newTestEnv(t, "")
	path := filepath.Join(env.dir, "bad.elf")
	if err := os.WriteFile(path, []byte("not an elf"), 0o644); err != nil {
		t.Fatal(err)
	}

	if status := run([]string{path}, env.stdout, env.stderr); status != 1 {
		t.Fatalf("status = %d, want 1", status)
	}
	if stdout := env.output(t, "stdout"); strings.Contains(stdout, "asm exit=") {
		t.Fatalf("a result was printed for an unloadable program: %q", stdout)
	}
	if stderr := env.output(t, "stderr"); !strings.Contains(stderr, "invalid program") {
		t.Fatalf("stderr = %q", stderr)
	}
	// the profile session is stopped on the failure path too
	if _, err := os.Stat(filepath.Join(env.dir, "run.profile", "cpu.pprof")); err != nil {
		t.Fatalf("cpu profile: %v", err)
	}
}

func TestRunBadConfig(t *testing.T) {
	env := newTestEnv(t, "progress: spinner\n")
	path, _ := writeGuest(t, env.dir, false)

	if status := run([]string{path}, env.stdout, env.stderr); status != 1 {
		t.Fatalf("status = %d, want 1", status)
	}
	if stderr := env.output(t, "stderr"); !strings.Contains(stderr, "unknown progress mode") {
		t.Fatalf("stderr = %q", stderr)
	}
}

func TestRunUsage(t *testing.T) {
	env := newTestEnv(t, "")
	if status := run(nil, env.stdout, env.stderr); status != 1 {
		t.Fatalf("status = %d, want 1", status)
	}
	if stderr := env.output(t, "stderr"); !strings.HasPrefix(stderr, "usage:") {
		t.Fatalf("stderr = %q", stderr)
	}
}
