// Command tracesandbox is the minimal harness that exercises the
// tracing core end-to-end: a config file and a handful of flags drive
// childproc.Spawner and supervisor.Supervisor, and the resulting
// ExitStat is printed to stdout. It is not the judge or build
// isolator a real CI system would put in front of this package — just
// enough wiring to run one traced program and see what came out.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/zqzqsb/tracesandbox/childproc"
	"github.com/zqzqsb/tracesandbox/config"
	"github.com/zqzqsb/tracesandbox/supervisor"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tracesandbox: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var verbose bool

	flagSet := pflag.NewFlagSet("tracesandbox", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to the run's YAML config file (required)")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "enable debug-level diagnostics")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}
	if configPath == "" {
		return fmt.Errorf("--config is required")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(verbose)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()
	sink := supervisor.NewZapSink(logger)

	stat, err := runOnce(cfg, sink)
	if err != nil {
		return err
	}

	fmt.Printf("status=%#x runtime_us=%d vm_peak_bytes=%d killed=%t exit_code=%d message=%q\n",
		stat.Status, stat.RuntimeUs, stat.VMPeak, stat.Killed(), stat.ExitCode(), stat.Message)
	return nil
}

// runOnce locks the calling goroutine to its OS thread for the
// duration of the fork, matching childproc.Spawner.Start's own
// requirement (fork only duplicates the calling thread).
func runOnce(cfg *config.Config, sink supervisor.Sink) (supervisor.ExitStat, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	env := cfg.Env
	if len(env) == 0 {
		env = os.Environ()
	}

	spawner := &childproc.Spawner{
		Args:    cfg.Exec,
		Env:     env,
		WorkDir: cfg.WorkDir,
		Stdin:   int(os.Stdin.Fd()),
		Stdout:  int(os.Stdout.Fd()),
		Stderr:  int(os.Stderr.Fd()),
		RLimits: cfg.ToRLimits(),
	}

	pid, errReadFD, err := spawner.Start()
	if err != nil {
		return supervisor.ExitStat{}, fmt.Errorf("spawning tracee: %w", err)
	}

	sup := supervisor.New(sink)
	return sup.Supervise(pid, errReadFD, supervisor.Options{
		TimeLimitUs:   cfg.TimeLimitUs(),
		OpenAllowList: cfg.OpenAllowList,
	})
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}
