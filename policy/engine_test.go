package policy

import (
	"os/exec"
	"runtime"
	"syscall"
	"testing"

	"github.com/zqzqsb/tracesandbox/arch"
	"github.com/zqzqsb/tracesandbox/regs"
)

func testTag() arch.Tag {
	if runtime.GOARCH == "386" {
		return arch.I386
	}
	return arch.X8664
}

func attachStopped(t *testing.T) (pid int, cleanup func()) {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("ptrace is Linux-only")
	}
	cmd := exec.Command("sleep", "5")
	if err := cmd.Start(); err != nil {
		t.Fatalf("starting sleep: %v", err)
	}
	pid = cmd.Process.Pid
	if err := syscall.PtraceAttach(pid); err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		t.Fatalf("PtraceAttach: %v", err)
	}
	var ws syscall.WaitStatus
	if _, err := syscall.Wait4(pid, &ws, 0, nil); err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		t.Fatalf("wait4 after attach: %v", err)
	}
	return pid, func() {
		_ = syscall.Kill(pid, syscall.SIGKILL)
		cmd.Wait()
	}
}

func TestOnEntryAllowList(t *testing.T) {
	tag := testTag()
	e := NewEngine(tag, nil)
	n := allowedX8664[0]
	if tag == arch.I386 {
		n = allowedI386[0]
	}
	if d := e.OnEntry(0, n); d != Allow {
		t.Errorf("OnEntry(%d) = %v, want Allow (unconditional allow-list entry)", n, d)
	}
}

func TestOnEntryUnknownSyscallDenied(t *testing.T) {
	e := NewEngine(testTag(), nil)
	if d := e.OnEntry(0, 999999); d != Deny {
		t.Errorf("OnEntry(999999) = %v, want Deny", d)
	}
}

func TestOnEntryBoundedExhaustion(t *testing.T) {
	tag := testTag()
	e := NewEngine(tag, nil)
	execveNo := sysExecveTestNumber(tag)

	if d := e.OnEntry(0, execveNo); d != Allow {
		t.Fatalf("first execve call: got %v, want Allow (1 call budgeted)", d)
	}
	if d := e.OnEntry(0, execveNo); d != Deny {
		t.Fatalf("second execve call: got %v, want Deny (budget exhausted)", d)
	}
}

// sysExecveTestNumber returns the syscall number of a syscall known to
// be in the bounded-count table with a budget of exactly one call, so
// the exhaustion test above is architecture-independent.
func sysExecveTestNumber(tag arch.Tag) int {
	if tag == arch.I386 {
		return 11 // execve
	}
	return 59 // execve
}

func TestOnExitNonBrkAlwaysAllowed(t *testing.T) {
	e := NewEngine(testTag(), nil)
	// pid 0 would make regs.Get fail, but OnExit must never touch
	// registers for a non-brk syscall.
	if d := e.OnExit(0, 12345); d != Allow {
		t.Errorf("OnExit(non-brk) = %v, want Allow", d)
	}
}

func TestCheckTgkillSelfAllowedForeignDenied(t *testing.T) {
	pid, cleanup := attachStopped(t)
	defer cleanup()
	tag := testTag()
	e := NewEngine(tag, nil)
	tgkillNo := sysTgkillX8664
	if tag == arch.I386 {
		tgkillNo = sysTgkillI386
	}

	if err := regs.ClobberArg(pid, tag, 1, uint64(pid)); err != nil {
		t.Fatalf("ClobberArg(tgid): %v", err)
	}
	if err := regs.ClobberArg(pid, tag, 2, uint64(pid)); err != nil {
		t.Fatalf("ClobberArg(tid): %v", err)
	}
	if d := e.OnEntry(pid, tgkillNo); d != Allow {
		t.Errorf("tgkill(self, self) = %v, want Allow", d)
	}

	if err := regs.ClobberArg(pid, tag, 2, uint64(pid)+1); err != nil {
		t.Fatalf("ClobberArg(foreign tid): %v", err)
	}
	if d := e.OnEntry(pid, tgkillNo); d != Deny {
		t.Errorf("tgkill(self, foreign) = %v, want Deny", d)
	}
	if e.ErrorMessage() == "" {
		t.Error("a foreign tgkill denial should set an error message")
	}
}

func TestCheckLseekStdStreamsDenied(t *testing.T) {
	pid, cleanup := attachStopped(t)
	defer cleanup()
	tag := testTag()
	e := NewEngine(tag, nil)
	lseekNo := sysLseekX8664
	if tag == arch.I386 {
		lseekNo = sysLseekI386
	}

	for _, fd := range []uint64{0, 1, 2} {
		if err := regs.ClobberArg(pid, tag, 1, fd); err != nil {
			t.Fatalf("ClobberArg(fd=%d): %v", fd, err)
		}
		if d := e.OnEntry(pid, lseekNo); d != Deny {
			t.Errorf("lseek(fd=%d) = %v, want Deny (standard stream)", fd, d)
		}
	}
}

func TestCheckLseekOtherFdClobberedToNegativeOne(t *testing.T) {
	pid, cleanup := attachStopped(t)
	defer cleanup()
	tag := testTag()
	e := NewEngine(tag, nil)
	lseekNo := sysLseekX8664
	if tag == arch.I386 {
		lseekNo = sysLseekI386
	}

	if err := regs.ClobberArg(pid, tag, 1, 5); err != nil {
		t.Fatalf("ClobberArg(fd=5): %v", err)
	}
	if d := e.OnEntry(pid, lseekNo); d != Allow {
		t.Errorf("lseek(fd=5) = %v, want Allow (neutered to fail with EBADF)", d)
	}
	snap, err := regs.Get(pid, tag)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if snap.Arg(1) != -1 {
		t.Errorf("lseek fd arg after clobber = %d, want -1", snap.Arg(1))
	}
}

func TestCheckOpenUnreadablePathDenied(t *testing.T) {
	pid, cleanup := attachStopped(t)
	defer cleanup()
	tag := testTag()
	e := NewEngine(tag, nil)
	openNo := sysOpenX8664
	if tag == arch.I386 {
		openNo = sysOpenI386
	}

	if err := regs.ClobberArg(pid, tag, 1, 0); err != nil { // NULL pathname
		t.Fatalf("ClobberArg: %v", err)
	}
	if d := e.OnEntry(pid, openNo); d != Deny {
		t.Errorf("open(NULL) = %v, want Deny", d)
	}
}
