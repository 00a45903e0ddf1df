package regs

import (
	"syscall"
	"unsafe"

	unix "golang.org/x/sys/unix"
)

// The sizes of the two register layouts, used to size the
// PTRACE_GETREGSET/SETREGSET iovec. Get does not check how many bytes
// the kernel actually filled in.
const (
	i386Size  = 17 * 4
	amd64Size = 27 * 8
)

// ntPrstatus is the NT_PRSTATUS note type passed to
// ptrace(PTRACE_GETREGSET/PTRACE_SETREGSET, ...).
const (
	ntPrstatus = 1
)

// getRegSet performs PTRACE_GETREGSET(NT_PRSTATUS) into the struct
// pointed to by buf, sized size bytes.
func getRegSet(pid int, buf unsafe.Pointer, size uintptr) error {
	iov := unix.Iovec{Base: (*byte)(buf), Len: uint64(size)}
	_, _, errno := syscall.Syscall6(unix.SYS_PTRACE, unix.PTRACE_GETREGSET,
		uintptr(pid), ntPrstatus, uintptr(unsafe.Pointer(&iov)), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// setRegSet performs PTRACE_SETREGSET(NT_PRSTATUS) from the struct
// pointed to by buf.
func setRegSet(pid int, buf unsafe.Pointer, size uintptr) error {
	iov := unix.Iovec{Base: (*byte)(buf), Len: uint64(size)}
	_, _, errno := syscall.Syscall6(unix.SYS_PTRACE, unix.PTRACE_SETREGSET,
		uintptr(pid), ntPrstatus, uintptr(unsafe.Pointer(&iov)), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// origEaxOffset and origRaxOffset are the byte offsets of orig_eax /
// orig_rax within struct user_regs_struct, for the two architectures.
// PTRACE_PEEKUSER reads a single word at one of these offsets, cheaper
// than a full GETREGSET when the supervisor only needs the syscall
// number at entry stop.
const (
	origEaxOffset = 11 * 4
	origRaxOffset = 15 * 8
)

// peekUser issues the raw PTRACE_PEEKUSR syscall, which stores the
// word it reads at the address passed as its data argument.
func peekUser(pid int, offset uintptr) (uintptr, error) {
	var word uintptr
	_, _, errno := syscall.Syscall6(unix.SYS_PTRACE, unix.PTRACE_PEEKUSR,
		uintptr(pid), offset, uintptr(unsafe.Pointer(&word)), 0, 0)
	if errno != 0 {
		return 0, errno
	}
	return word, nil
}
