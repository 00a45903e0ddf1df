// Package config loads a single run's Options from a YAML document:
// the open allow-list, time/memory limits, working directory and
// resource limits that supervisor.Options and childproc.Spawner need,
// gathered in one place for cmd/tracesandbox to point at a file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/zqzqsb/tracesandbox/pkg/rlimit"
)

// Config is the on-disk shape of a run's configuration.
type Config struct {
	// Exec is the program and arguments to run under the sandbox.
	Exec []string `yaml:"exec"`

	// WorkDir is the working directory the tracee is chdir'd into
	// before execve; empty leaves the caller's own cwd.
	WorkDir string `yaml:"work_dir"`

	// TimeLimitMs is the wall-clock limit in milliseconds; 0 disables
	// the timer.
	TimeLimitMs uint64 `yaml:"time_limit_ms"`

	// OpenAllowList is the literal pathname allow-list consulted by
	// the policy engine's open() check.
	OpenAllowList []string `yaml:"open_allow_list"`

	// Env, if non-empty, replaces the tracee's environment outright;
	// empty means "inherit the caller's own environment".
	Env []string `yaml:"env"`

	// MemoryLimitBytes is the Options record's memory_limit_b: the
	// RLIMIT_AS ceiling applied to the tracee, with RLIMIT_CORE forced
	// to zero alongside it. 0 disables rlimit enforcement entirely.
	MemoryLimitBytes uint64 `yaml:"memory_limit_bytes"`
}

// ToRLimits converts the YAML-facing memory limit to rlimit.RLimits.
func (c *Config) ToRLimits() *rlimit.RLimits {
	return &rlimit.RLimits{AddressSpace: c.MemoryLimitBytes}
}

// TimeLimitUs converts the configured millisecond limit to the
// microsecond unit walltimer.Start and supervisor.Options use.
func (c *Config) TimeLimitUs() uint64 {
	return c.TimeLimitMs * 1000
}

// Load reads and parses a YAML config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the fields Load cannot leave to zero-value
// defaults: a run with nothing to exec isn't a run.
func (c *Config) Validate() error {
	if len(c.Exec) == 0 {
		return fmt.Errorf("config: exec must name at least the program to run")
	}
	return nil
}
