package supervisor

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zqzqsb/tracesandbox/childproc"
)

// A real dynamically-linked binary makes a handful of startup syscalls
// (set_tid_address, set_robust_list, rseq, ...) that sit outside this
// sandbox's deliberately narrow allow-list, so every test below that
// runs an existing binary expects the run to be killed rather than to
// complete cleanly (the missing-binary test instead expects a bringup
// failure); that is itself
// the forbidden-syscall scenario, exercised end to end through the
// full Spawner+Supervise pipeline instead of through the policy engine
// in isolation.

func superviseBinary(t *testing.T, args []string, opts Options) ExitStat {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("ptrace is Linux-only")
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	s := &childproc.Spawner{
		Args:   args,
		Env:    []string{"PATH=/usr/bin:/bin"},
		Stdin:  -1,
		Stdout: -1,
		Stderr: -1,
	}
	pid, errReadFD, err := s.Start()
	require.NoError(t, err)

	stat, err := New(nil).Supervise(pid, errReadFD, opts)
	require.NoError(t, err)
	return stat
}

func TestSuperviseKillsOnForbiddenSyscall(t *testing.T) {
	stat := superviseBinary(t, []string{"/bin/true"}, Options{TimeLimitUs: 5_000_000})

	require.True(t, stat.Killed(), "a plain dynamic binary should trip the allow-list, got status %#x", stat.Status)
	require.Contains(t, stat.Message, "forbidden syscall")
	require.Greater(t, stat.RuntimeUs, uint64(0))
}

func TestSuperviseBringupFailureForMissingBinary(t *testing.T) {
	stat := superviseBinary(t, []string{"/no/such/binary-ever"}, Options{})

	require.True(t, stat.Killed() || stat.ExitCode() != 0, "missing binary must not report a clean exit")
	require.Contains(t, stat.Message, "no such file")
}

func TestSuperviseSleepKilledByAllowListBeforeTimeLimit(t *testing.T) {
	// /bin/sleep is denied almost immediately by the allow-list (it is
	// a dynamically linked binary, same as /bin/true above), well
	// inside the 5s time limit, so this exercises the Run loop's early
	// termination path rather than the walltimer firing; a genuine
	// compute-bound fixture immune to the allow-list isn't constructible
	// without a toolchain to build one.
	stat := superviseBinary(t, []string{"/bin/sleep", "5"}, Options{TimeLimitUs: 5_000_000})

	require.True(t, stat.Killed())
	require.Less(t, stat.RuntimeUs, uint64(5_000_000))
}

func TestSuperviseOpenAllowListDoesNotPanicOnEmptyList(t *testing.T) {
	stat := superviseBinary(t, []string{"/bin/true"}, Options{OpenAllowList: nil})
	require.True(t, stat.Killed())
}
