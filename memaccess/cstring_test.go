package memaccess

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"syscall"
	"testing"
)

// attachStopped starts a real child, attaches to it and waits for the
// resulting stop.
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

	cleanup = func() {
		_ = syscall.Kill(pid, syscall.SIGKILL)
		cmd.Wait()
	}
	return pid, cleanup
}

func findReadableAddr(t *testing.T, pid int) uintptr {
	t.Helper()
	maps, err := os.ReadFile(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		t.Fatalf("reading maps: %v", err)
	}
	for _, line := range bytes.Split(maps, []byte{'\n'}) {
		if bytes.Contains(line, []byte("r-x")) {
			var start uint64
			fmt.Sscanf(string(line), "%x-", &start)
			return uintptr(start)
		}
	}
	t.Fatal("no readable region found")
	return 0
}

func TestReadCStringReadableRegion(t *testing.T) {
	pid, cleanup := attachStopped(t)
	defer cleanup()

	addr := findReadableAddr(t, pid)
	_, ok := ReadCString(pid, addr, PathMax)
	if !ok {
		t.Error("ReadCString should succeed reading a mapped, readable region")
	}
}

func TestReadCStringNullAddr(t *testing.T) {
	pid, cleanup := attachStopped(t)
	defer cleanup()

	if _, ok := ReadCString(pid, 0, PathMax); ok {
		t.Error("ReadCString(addr=0) should fail")
	}
}

func TestReadCStringUnmappedAddr(t *testing.T) {
	pid, cleanup := attachStopped(t)
	defer cleanup()

	// Below the default mmap_min_addr: never mapped for an
	// unprivileged process.
	if _, ok := ReadCString(pid, 0x2000, PathMax); ok {
		t.Error("ReadCString on an unmapped address should fail")
	}
}
