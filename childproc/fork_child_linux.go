package childproc

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/zqzqsb/tracesandbox/childio"
	"github.com/zqzqsb/tracesandbox/pkg/rlimit"
)

// childMain runs entirely in the forked child between
// afterForkInChild and execve. No heap allocation, no calls into
// anything but raw syscalls: the Go runtime considers this thread a
// single-threaded fork survivor until exec replaces it.
//
//go:norace
//go:nosplit
func childMain(argv0 *byte, argv, envv []*byte, workdir *byte, stdin, stdout, stderr int, limits []rlimit.RLimit, errFD int) {
	var errno syscall.Errno

	if workdir != nil {
		_, _, errno = syscall.RawSyscall(syscall.SYS_CHDIR, uintptr(unsafe.Pointer(workdir)), 0, 0)
		if errno != 0 {
			childExitError(errFD, childio.StageChdir, errno)
		}
	}

	for _, rl := range limits {
		_, _, errno = syscall.RawSyscall6(syscall.SYS_PRLIMIT64, 0, uintptr(rl.Res),
			uintptr(unsafe.Pointer(&rl.Rlim)), 0, 0, 0)
		if errno != 0 {
			childExitError(errFD, childio.StageRlimit, errno)
		}
	}

	if errno = redirectStdFD(stdin, 0); errno != 0 {
		childExitError(errFD, childio.StageDup2, errno)
	}
	if errno = redirectStdFD(stdout, 1); errno != 0 {
		childExitError(errFD, childio.StageDup2, errno)
	}
	if errno = redirectStdFD(stderr, 2); errno != 0 {
		childExitError(errFD, childio.StageDup2, errno)
	}

	_, _, errno = syscall.RawSyscall(syscall.SYS_PTRACE, uintptr(syscall.PTRACE_TRACEME), 0, 0)
	if errno != 0 {
		childExitError(errFD, childio.StagePtraceMe, errno)
	}

	_, _, errno = syscall.RawSyscall(unix.SYS_EXECVE, uintptr(unsafe.Pointer(argv0)),
		uintptr(unsafe.Pointer(&argv[0])), uintptr(unsafe.Pointer(&envv[0])))

	for i := 0; i < etxtbsyMaxRetries && errno == syscall.ETXTBSY; i++ {
		syscall.RawSyscall(unix.SYS_NANOSLEEP, uintptr(unsafe.Pointer(&etxtbsyRetryInterval)), 0, 0)
		_, _, errno = syscall.RawSyscall(unix.SYS_EXECVE, uintptr(unsafe.Pointer(argv0)),
			uintptr(unsafe.Pointer(&argv[0])), uintptr(unsafe.Pointer(&envv[0])))
	}
	childExitError(errFD, childio.StageExecve, errno)
}

// redirectStdFD implements the fd < 0 ⇒ close convention: a
// non-negative source is dup3'd onto target, a negative source closes
// target outright (e.g. a tracee that should have no stdin at all).
//
//go:nosplit
func redirectStdFD(source, target int) syscall.Errno {
	if source < 0 {
		_, _, errno := syscall.RawSyscall(syscall.SYS_CLOSE, uintptr(target), 0, 0)
		if errno != 0 && errno != syscall.EBADF {
			return errno
		}
		return 0
	}
	if source == target {
		return 0
	}
	_, _, errno := syscall.RawSyscall(syscall.SYS_DUP3, uintptr(source), uintptr(target), 0)
	return errno
}

// childExitError writes a single failure frame to the error channel
// with a raw write syscall and terminates the child with _exit, never
// returning, in the same shape as forkexec's own childExitError, minus
// the mount and capability stages this sandbox's bringup never reaches.
//
//go:nosplit
func childExitError(fd int, stage childio.Stage, errno syscall.Errno) {
	var buf [5]byte
	buf[0] = byte(stage)
	buf[1] = byte(errno)
	buf[2] = byte(errno >> 8)
	buf[3] = byte(errno >> 16)
	buf[4] = byte(errno >> 24)
	syscall.RawSyscall(syscall.SYS_WRITE, uintptr(fd), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	for {
		syscall.RawSyscall(syscall.SYS_EXIT, uintptr(errno), 0, 0)
	}
}
