// Package childproc implements the traced process's bringup (C7):
// forking a child that redirects its standard streams, applies
// resource limits, enables ptrace, and execs the target program —
// synchronized with the parent through the childio error channel.
//
// The approach — raw clone via the runtime's fork hooks rather than
// os/exec — follows the same forkexec pattern used elsewhere in this
// codebase's history, trimmed down to the one thing this sandbox's
// child actually needs to do: no mount namespaces, no credentials, no
// cgroups.
package childproc

import (
	"fmt"
	"syscall"
	_ "unsafe"

	"github.com/zqzqsb/tracesandbox/childio"
	"github.com/zqzqsb/tracesandbox/pkg/rlimit"
)

//go:linkname beforeFork syscall.runtime_BeforeFork
func beforeFork()

//go:linkname afterFork syscall.runtime_AfterFork
func afterFork()

//go:linkname afterForkInChild syscall.runtime_AfterForkInChild
func afterForkInChild()

// Spawner describes the one process childproc knows how to start: an
// argv/envp pair, a working directory, redirected standard streams,
// and the resource limits to apply before execve.
type Spawner struct {
	Args    []string
	Env     []string
	WorkDir string

	// Stdin, Stdout, Stderr are dup'd onto fds 0, 1, 2 of the child;
	// a negative value closes the corresponding fd instead.
	Stdin, Stdout, Stderr int

	RLimits *rlimit.RLimits
}

// Start forks and execs the configured program. It does not wait for
// the child at all: the caller (supervisor.Supervise) owns the first
// waitpid and, only if that shows the child exited or was signalled
// before reaching execve, reads errReadFD for the reason. On a
// successful handoff the child is stopped by the kernel's own
// ptrace-on-exec trap, waiting for that same first waitpid.
//
// The OS thread must be locked by the caller for the duration of
// Start: fork only duplicates the calling thread, so the goroutine
// driving it must not migrate to another OS thread mid-call.
func (s *Spawner) Start() (pid int, errReadFD int, err error) {
	argv0, err := syscall.BytePtrFromString(s.Args[0])
	if err != nil {
		return 0, -1, fmt.Errorf("childproc: argv0: %w", err)
	}
	argv, err := syscall.SlicePtrFromStrings(s.Args)
	if err != nil {
		return 0, -1, fmt.Errorf("childproc: argv: %w", err)
	}
	envv, err := syscall.SlicePtrFromStrings(s.Env)
	if err != nil {
		return 0, -1, fmt.Errorf("childproc: envp: %w", err)
	}
	var workdir *byte
	if s.WorkDir != "" {
		workdir, err = syscall.BytePtrFromString(s.WorkDir)
		if err != nil {
			return 0, -1, fmt.Errorf("childproc: workdir: %w", err)
		}
	}

	limits := []rlimit.RLimit(nil)
	if s.RLimits != nil {
		limits = s.RLimits.PrepareRLimit()
	}

	errPipe, err := childio.NewPipe()
	if err != nil {
		return 0, -1, err
	}

	syscall.ForkLock.Lock()
	beforeFork()
	rawPid, _, errno := syscall.RawSyscall6(syscall.SYS_CLONE, uintptr(syscall.SIGCHLD), 0, 0, 0, 0, 0)
	if errno != 0 {
		afterFork()
		syscall.ForkLock.Unlock()
		errPipe.CloseRead()
		errPipe.CloseWrite()
		return 0, -1, fmt.Errorf("childproc: clone: %w", errno)
	}
	if rawPid == 0 {
		// Child. No heap allocation, no calls to non-assembly Go
		// functions from here until execve replaces this image.
		afterForkInChild()
		childMain(argv0, argv, envv, workdir, s.Stdin, s.Stdout, s.Stderr, limits, errPipe.WriteFD)
		panic("childproc: childMain returned")
	}

	afterFork()
	syscall.ForkLock.Unlock()
	errPipe.CloseWrite()

	return int(rawPid), errPipe.ReadFD, nil
}
