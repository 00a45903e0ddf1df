package childproc

import (
	"runtime"
	"syscall"
	"testing"

	"github.com/zqzqsb/tracesandbox/childio"
)

// waitAndMaybeReadFrame mirrors the first step of
// supervisor.Supervisor.Supervise: block for the tracee's first stop
// and, only if it already died, consult the error channel.
func waitAndMaybeReadFrame(t *testing.T, pid, errReadFD int) (ws syscall.WaitStatus, frame childio.Frame, hadFrame bool) {
	t.Helper()
	if _, err := syscall.Wait4(pid, &ws, 0, nil); err != nil {
		t.Fatalf("wait4: %v", err)
	}
	if ws.Exited() || ws.Signaled() {
		var readErr error
		frame, hadFrame, readErr = childio.ReadFrame(errReadFD)
		if readErr != nil {
			t.Fatalf("ReadFrame: %v", readErr)
		}
	}
	return ws, frame, hadFrame
}

func TestStartSuccessStopsAtExecTrap(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	s := &Spawner{
		Args:   []string{"/bin/sleep", "5"},
		Env:    []string{"PATH=/usr/bin:/bin"},
		Stdin:  -1,
		Stdout: -1,
		Stderr: -1,
	}
	pid, errReadFD, err := s.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer syscall.Close(errReadFD)

	ws, _, hadFrame := waitAndMaybeReadFrame(t, pid, errReadFD)
	defer func() {
		syscall.Kill(pid, syscall.SIGKILL)
		syscall.Wait4(pid, nil, 0, nil)
	}()

	if hadFrame {
		t.Fatalf("unexpected bringup failure for /bin/sleep")
	}
	if !ws.Stopped() {
		t.Fatalf("expected the tracee to be stopped at its post-exec ptrace trap, got %v", ws)
	}
}

func TestStartExecFailureReportsFrame(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	s := &Spawner{
		Args:   []string{"/no/such/binary-ever"},
		Env:    []string{"PATH=/usr/bin:/bin"},
		Stdin:  -1,
		Stdout: -1,
		Stderr: -1,
	}
	pid, errReadFD, err := s.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer syscall.Close(errReadFD)

	_, frame, hadFrame := waitAndMaybeReadFrame(t, pid, errReadFD)
	syscall.Wait4(pid, nil, 0, nil)

	if !hadFrame {
		t.Fatal("expected a bringup-failure frame for a nonexistent binary")
	}
	if frame.Stage != childio.StageExecve {
		t.Errorf("frame.Stage = %v, want %v", frame.Stage, childio.StageExecve)
	}
	if frame.Errno != syscall.ENOENT {
		t.Errorf("frame.Errno = %v, want ENOENT", frame.Errno)
	}
}
