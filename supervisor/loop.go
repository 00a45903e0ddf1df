// Package supervisor implements the master ptrace state machine (C9)
// and the verdict it produces (C10): Spawned, Configured, Run, Kill,
// Report, exactly the loop the original classic-ptrace sandbox ran
// before this codebase's teacher moved to seccomp+ptrace.
package supervisor

import (
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/zqzqsb/tracesandbox/arch"
	"github.com/zqzqsb/tracesandbox/childio"
	"github.com/zqzqsb/tracesandbox/policy"
	"github.com/zqzqsb/tracesandbox/regs"
	"github.com/zqzqsb/tracesandbox/vmsampler"
	"github.com/zqzqsb/tracesandbox/walltimer"
)

// Options configures a single run, matching the Options record of
// the external interface: fd redirection and the memory rlimit are
// the caller's concern (handled by childproc.Spawner before Supervise
// is ever called); what's left here is everything the supervisor
// itself consults during the run.
type Options struct {
	TimeLimitUs   uint64
	OpenAllowList []string
}

// Supervisor drives one tracee from its first stop to termination.
type Supervisor struct {
	sink Sink
}

// New returns a Supervisor; sink may be nil for a no-op diagnostic
// handle.
func New(sink Sink) *Supervisor {
	return &Supervisor{sink: sinkOrNoop(sink)}
}

// errPipeFD, if non-negative, is read for a bringup-failure frame
// when the tracee dies before its first stop.
type errPipeFD = int

// ptraceOExitkill mirrors PTRACE_O_EXITKILL (0x100000), which the
// syscall package does not export on this architecture.
const ptraceOExitkill = 0x100000

// Supervise runs the full state machine for a tracee that childproc
// has already forked and that is stopped at its post-exec ptrace
// trap (or has already exited, reporting a bringup failure via
// errPipe). It does not return until the tracee is dead and reaped.
func (s *Supervisor) Supervise(pid int, errPipe errPipeFD, opts Options) (ExitStat, error) {
	spawnedAt := time.Now()
	defer func() { _ = syscall.Close(errPipe) }()

	// --- Spawned: first blocking wait ---
	var ws syscall.WaitStatus
	if _, err := syscall.Wait4(pid, &ws, 0, nil); err != nil {
		return ExitStat{}, fmt.Errorf("supervisor: initial wait4: %w", err)
	}
	if ws.Exited() || ws.Signaled() {
		frame, hadFrame, _ := childio.ReadFrame(errPipe)
		msg := ""
		if hadFrame {
			msg = frame.Error()
		}
		runtimeUs := uint64(time.Since(spawnedAt) / time.Microsecond)
		return ExitStat{Status: int(ws), RuntimeUs: runtimeUs, Message: msg}, nil
	}

	// --- Configured ---
	if err := syscall.PtraceSetOptions(pid, syscall.PTRACE_O_TRACESYSGOOD|ptraceOExitkill); err != nil {
		s.killAndReap(pid)
		return ExitStat{}, fmt.Errorf("supervisor: PTRACE_SETOPTIONS: %w", err)
	}

	tag, err := arch.Detect(pid)
	if err != nil {
		s.killAndReap(pid)
		return ExitStat{}, fmt.Errorf("supervisor: architecture probe: %w", err)
	}

	sampler := vmsampler.New(pid)
	timer := walltimer.Start(pid, opts.TimeLimitUs)
	engine := policy.NewEngine(tag, opts.OpenAllowList)

	traceeDeadAndReaped := false
	killAndWaitTracee := func() {
		if !traceeDeadAndReaped {
			_ = syscall.Kill(pid, syscall.SIGKILL)
			waitUntilDead(pid)
			traceeDeadAndReaped = true
		}
	}
	defer killAndWaitTracee()

	// --- Run ---
	for {
		dead, exitWs := s.waitForSyscall(pid)
		if dead {
			traceeDeadAndReaped = true
			return s.report(timer, sampler, int(exitWs), ""), nil
		}

		syscallNo, err := regs.PeekSyscallNumber(pid, tag)
		if err != nil {
			if isESRCH(err) {
				status := lastStatus(pid)
				traceeDeadAndReaped = true
				return s.report(timer, sampler, status, ""), nil
			}
			return ExitStat{}, fmt.Errorf("supervisor: peek syscall number: %w", err)
		}

		if engine.OnEntry(pid, syscallNo) != policy.Allow {
			return s.killForPolicy(pid, timer, sampler, tag, syscallNo, engine), nil
		}

		dead, exitWs = s.waitForSyscall(pid)
		if dead {
			traceeDeadAndReaped = true
			return s.report(timer, sampler, int(exitWs), ""), nil
		}

		if policy.MemChanging(tag, syscallNo) {
			if _, err := sampler.Sample(); err != nil {
				s.sink.Debugf("vmsampler: sample failed: %v", err)
			}
		}

		if engine.OnExit(pid, syscallNo) != policy.Allow {
			return s.killForPolicy(pid, timer, sampler, tag, syscallNo, engine), nil
		}
	}
}

// waitForSyscall issues PTRACE_SYSCALL and waits, swallowing benign
// stop signals and re-injecting everything else via PTRACE_CONT,
// until it observes either a syscall-stop or the tracee's death.
// Returns dead=true with the terminal wait status in that case.
//
// The PTRACE_SYSCALL call at the top of the loop is reissued
// unconditionally on every iteration, including right after a
// PTRACE_CONT re-injection; it can fail with ESRCH when the tracee
// isn't currently stopped yet, which is expected and ignored — the
// following wait4 is what actually observes the next stop.
func (s *Supervisor) waitForSyscall(pid int) (dead bool, status syscall.WaitStatus) {
	for {
		_ = syscall.PtraceSyscall(pid, 0)

		var ws syscall.WaitStatus
		_, err := syscall.Wait4(pid, &ws, 0, nil)
		if err == syscall.EINTR {
			continue
		}
		if err != nil {
			return true, ws
		}
		if ws.Exited() || ws.Signaled() {
			return true, ws
		}
		if !ws.Stopped() {
			continue
		}

		switch sig := ws.StopSignal(); sig {
		case syscall.SIGTRAP | 0x80:
			return false, ws
		case syscall.SIGSTOP, syscall.SIGTRAP, syscall.SIGCONT:
			continue
		default:
			_ = syscall.PtraceCont(pid, int(sig))
		}
	}
}

func (s *Supervisor) killForPolicy(pid int, timer *walltimer.Timer, sampler *vmsampler.Sampler, tag arch.Tag, syscallNo int, engine *policy.Engine) ExitStat {
	_ = syscall.Kill(pid, syscall.SIGKILL)
	status := waitUntilDead(pid)

	msg := engine.ErrorMessage()
	if msg == "" {
		msg = fmt.Sprintf("forbidden syscall %d: %s()", syscallNo, policy.SyscallName(tag, syscallNo))
	}
	return s.report(timer, sampler, status, msg)
}

func (s *Supervisor) report(timer *walltimer.Timer, sampler *vmsampler.Sampler, status int, message string) ExitStat {
	return ExitStat{
		Status:    status,
		RuntimeUs: timer.StopAndGetRuntime(),
		VMPeak:    sampler.Peak(),
		Message:   message,
	}
}

// killAndReap is used only for setup-phase failures, before the
// Run-loop's own deferred cleanup takes over.
func (s *Supervisor) killAndReap(pid int) {
	_ = syscall.Kill(pid, syscall.SIGKILL)
	waitUntilDead(pid)
}

// waitUntilDead loops wait4 until the tracee has exited or been
// signalled, returning the raw status word.
func waitUntilDead(pid int) int {
	var ws syscall.WaitStatus
	for {
		_, err := syscall.Wait4(pid, &ws, 0, nil)
		if err == syscall.EINTR {
			continue
		}
		if err != nil {
			return int(ws)
		}
		if ws.Exited() || ws.Signaled() {
			return int(ws)
		}
	}
}

// lastStatus is used on the ESRCH recovery path, where the tracee is
// already dying by the time we notice: it kills it (harmless if it is
// already gone), reaps it and returns its final status word.
func lastStatus(pid int) int {
	_ = syscall.Kill(pid, syscall.SIGKILL)
	return waitUntilDead(pid)
}

func isESRCH(err error) bool {
	return errors.Is(err, syscall.ESRCH)
}
