// Command runner10000 runs a RISC-V guest program many times from a cold
// start, checks that every run is identical and reports the average
// wall-clock time per run.
//
//	runner10000 <program> [guest args...]
//
// Settings are read from the YAML file named by $RVBENCH_CONFIG.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/tinyrange/rvbench/internal/baseline"
	"github.com/tinyrange/rvbench/internal/bench"
	"github.com/tinyrange/rvbench/internal/config"
	"github.com/tinyrange/rvbench/internal/profile"
	"github.com/tinyrange/rvbench/internal/program"
	"github.com/tinyrange/rvbench/internal/rvm"
	"github.com/tinyrange/rvbench/internal/syscalls"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr *os.File) int {
	if len(args) == 0 {
		fmt.Fprintf(stderr, "usage: runner10000 <program> [guest args...]\n")
		return 1
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(stderr, "failed to run benchmark: %v\n", err)
		return 1
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.LogLevel()})))

	status, err := benchmark(cfg, args[0], args[1:], stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "failed to run benchmark: %v\n", err)
		return 1
	}
	return status
}

func benchmark(cfg *config.Config, path string, guestArgs []string, stdout, stderr *os.File) (status int, err error) {
	prog, err := program.Read(path)
	if err != nil {
		return 1, err
	}

	args := make([][]byte, len(guestArgs))
	for i, a := range guestArgs {
		args[i] = []byte(a)
	}

	machineCfg := rvm.DefaultConfig()
	machineCfg.MemorySize = cfg.MemorySize()
	if err := machineCfg.Validate(); err != nil {
		return 1, err
	}
	fingerprint := machineCfg.Hash().String()

	progress, err := bench.NewProgress(cfg.Progress(), cfg.Iterations(), cfg.ProgressInterval(), stdout, stderr)
	if err != nil {
		return 1, err
	}

	session, err := profile.Start(profile.Options{Dir: cfg.ProfileDir(), TraceFile: cfg.TraceFile})
	if err != nil {
		return 1, err
	}
	defer func() {
		if stopErr := session.Stop(); stopErr != nil && err == nil {
			status, err = 1, fmt.Errorf("stop profiling: %w", stopErr)
		}
	}()

	slog.Info("starting benchmark",
		"program", path,
		"digest", prog.Digest(),
		"compressed", prog.Compressed,
		"fingerprint", fingerprint,
		"iterations", cfg.Iterations(),
		"profile", cfg.ProfileDir(),
	)

	h := &bench.Harness{
		Factory: bench.RVMFactory(machineCfg, rvm.EstimateCycles, func() rvm.Syscalls {
			return syscalls.NewDebug(stdout)
		}),
		Program:        prog.Image,
		Args:           args,
		Iterations:     cfg.Iterations(),
		ResultRegister: rvm.A1,
		Fatal:          syscalls.IsHostAbort,
	}

	sum, err := h.Run(progress)
	if err != nil {
		return 1, err
	}

	fmt.Fprintf(stdout, "asm %s\n", sum.Last)
	fmt.Fprintf(stdout, "Average runtime: %s\n", sum.Average())

	if cfg.BaselineDB != "" {
		key := baseline.Key{Program: prog.Digest(), Config: fingerprint, Args: baseline.ArgsDigest(args)}
		if err := checkBaseline(cfg.BaselineDB, key, sum.Last.String()); err != nil {
			return 1, err
		}
	}

	return sum.ExitStatus()
}

func checkBaseline(path string, key baseline.Key, result string) error {
	store, err := baseline.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	stored, err := store.Check(key, result)
	if err != nil {
		return err
	}
	if stored {
		slog.Info("baseline recorded", "db", path, "session", store.Session())
	} else {
		slog.Info("baseline matches", "db", path)
	}
	return nil
}
