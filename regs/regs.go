// Package regs implements the arch-tagged register view (C2): reading
// and writing a tracee's general-purpose registers through the kernel
// tracing interface, and typed accessors for syscall dispatch.
//
// A 64-bit tracer observing a 32-bit (compat) tracee gets back the
// compat register layout, not the native one — PTRACE_GETREGSET picks
// the layout based on the traced task's own bitness, not the tracer's.
// Snapshot therefore carries both possible layouts and the arch tag
// says which one is populated.
package regs

import (
	"fmt"
	"unsafe"

	"github.com/zqzqsb/tracesandbox/arch"
)

// I386 mirrors struct user_regs_struct as the kernel lays it out for a
// 32-bit (compat) tracee.
type I386 struct {
	Ebx, Ecx, Edx, Esi, Edi, Ebp    uint32
	Eax                             uint32
	Xds, Xes, Xfs, Xgs              uint32
	OrigEax                         uint32
	Eip                             uint32
	Xcs                             uint32
	Eflags                          uint32
	Esp                             uint32
	Xss                             uint32
}

// X8664 mirrors struct user_regs_struct for a native 64-bit tracee.
type X8664 struct {
	R15, R14, R13, R12 uint64
	Rbp, Rbx           uint64
	R11, R10, R9, R8   uint64
	Rax                uint64
	Rcx, Rdx, Rsi, Rdi uint64
	OrigRax            uint64
	Rip                uint64
	Cs                 uint64
	Eflags             uint64
	Rsp                uint64
	Ss                 uint64
	FsBase, GsBase     uint64
	Ds, Es, Fs, Gs     uint64
}

// Snapshot is a read copy of a tracee's general-purpose registers,
// tagged with the architecture it was read as. Only SetArg changes it,
// and only Set, which writes the whole snapshot back in one call,
// carries such a change to the tracee.
type Snapshot struct {
	Tag   arch.Tag
	i386  I386
	amd64 X8664
}

// Get reads the tracee's full register set in one PTRACE_GETREGSET
// call. A failure here means the tracee is considered lost: the
// caller should treat it as a fatal tracing error, not retry.
func Get(pid int, tag arch.Tag) (Snapshot, error) {
	var s Snapshot
	s.Tag = tag
	switch tag {
	case arch.I386:
		if err := getRegSet(pid, unsafe.Pointer(&s.i386), i386Size); err != nil {
			return Snapshot{}, fmt.Errorf("regs: get (i386) pid %d: %w", pid, err)
		}
	case arch.X8664:
		if err := getRegSet(pid, unsafe.Pointer(&s.amd64), amd64Size); err != nil {
			return Snapshot{}, fmt.Errorf("regs: get (x86_64) pid %d: %w", pid, err)
		}
	default:
		return Snapshot{}, fmt.Errorf("regs: get: invalid arch tag %v", tag)
	}
	return s, nil
}

// Set writes a previously fetched (and possibly mutated) snapshot back
// to the tracee via PTRACE_SETREGSET.
func (s *Snapshot) Set(pid int) error {
	switch s.Tag {
	case arch.I386:
		return setRegSet(pid, unsafe.Pointer(&s.i386), i386Size)
	case arch.X8664:
		return setRegSet(pid, unsafe.Pointer(&s.amd64), amd64Size)
	default:
		return fmt.Errorf("regs: set: invalid arch tag %v", s.Tag)
	}
}

// PeekSyscallNumber reads only the orig_eax/orig_rax word via
// PTRACE_PEEKUSER, without fetching the full register set. This is
// the cheap path the supervisor uses at syscall-entry stop, before it
// knows whether the decision will need the rest of the registers.
func PeekSyscallNumber(pid int, tag arch.Tag) (int, error) {
	switch tag {
	case arch.I386:
		w, err := peekUser(pid, origEaxOffset)
		if err != nil {
			return 0, fmt.Errorf("regs: peek syscall number (i386) pid %d: %w", pid, err)
		}
		return int(int32(uint32(w))), nil
	case arch.X8664:
		w, err := peekUser(pid, origRaxOffset)
		if err != nil {
			return 0, fmt.Errorf("regs: peek syscall number (x86_64) pid %d: %w", pid, err)
		}
		return int(int64(w)), nil
	default:
		return 0, fmt.Errorf("regs: peek syscall number: invalid arch tag %v", tag)
	}
}

// SyscallNumber returns the "original" syscall-number register
// (orig_eax / orig_rax), which survives across the call unlike the
// return-value register.
func (s *Snapshot) SyscallNumber() uint64 {
	if s.Tag == arch.I386 {
		return uint64(s.i386.OrigEax)
	}
	return s.amd64.OrigRax
}

// Arg returns syscall argument i (1..6), sign-extended to int64 for
// uniform downstream handling regardless of the tracee's word size.
func (s *Snapshot) Arg(i int) int64 {
	if s.Tag == arch.I386 {
		switch i {
		case 1:
			return int64(int32(s.i386.Ebx))
		case 2:
			return int64(int32(s.i386.Ecx))
		case 3:
			return int64(int32(s.i386.Edx))
		case 4:
			return int64(int32(s.i386.Esi))
		case 5:
			return int64(int32(s.i386.Edi))
		case 6:
			return int64(int32(s.i386.Ebp))
		}
		return 0
	}
	switch i {
	case 1:
		return int64(s.amd64.Rdi)
	case 2:
		return int64(s.amd64.Rsi)
	case 3:
		return int64(s.amd64.Rdx)
	case 4:
		return int64(s.amd64.R10)
	case 5:
		return int64(s.amd64.R8)
	case 6:
		return int64(s.amd64.R9)
	}
	return 0
}

// ArgUint returns syscall argument i as an unsigned value, for callers
// dereferencing it as a pointer (e.g. a pathname address).
func (s *Snapshot) ArgUint(i int) uintptr {
	return uintptr(uint64(s.Arg(i)))
}

// ReturnValue returns the syscall's return-value register at
// syscall-exit.
func (s *Snapshot) ReturnValue() int64 {
	if s.Tag == arch.I386 {
		return int64(int32(s.i386.Eax))
	}
	return int64(s.amd64.Rax)
}

// ProgramCounter returns the instruction pointer.
func (s *Snapshot) ProgramCounter() uint64 {
	if s.Tag == arch.I386 {
		return uint64(s.i386.Eip)
	}
	return s.amd64.Rip
}

// SetArg overwrites argument register i in the in-memory snapshot;
// the caller must follow with Set to push it to the tracee.
func (s *Snapshot) SetArg(i int, v uint64) {
	if s.Tag == arch.I386 {
		switch i {
		case 1:
			s.i386.Ebx = uint32(v)
		case 2:
			s.i386.Ecx = uint32(v)
		case 3:
			s.i386.Edx = uint32(v)
		case 4:
			s.i386.Esi = uint32(v)
		case 5:
			s.i386.Edi = uint32(v)
		case 6:
			s.i386.Ebp = uint32(v)
		}
		return
	}
	switch i {
	case 1:
		s.amd64.Rdi = v
	case 2:
		s.amd64.Rsi = v
	case 3:
		s.amd64.Rdx = v
	case 4:
		s.amd64.R10 = v
	case 5:
		s.amd64.R8 = v
	case 6:
		s.amd64.R9 = v
	}
}

// ClobberArg reads the full regset, overwrites argument i, and writes
// it straight back — the single-register "clobber" the policy engine
// uses to neutralise a disallowed open/lseek argument in place.
func ClobberArg(pid int, tag arch.Tag, i int, v uint64) error {
	s, err := Get(pid, tag)
	if err != nil {
		return err
	}
	s.SetArg(i, v)
	return s.Set(pid)
}
