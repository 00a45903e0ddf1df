// Package rlimit builds the setrlimit(2) argument list applied to a
// tracee before execve. This core only ever bounds one resource — the
// address space, per the memory_limit_b field of the Options record —
// and disables core dumps in lockstep with it, so the whole package is
// two small helpers rather than a general resource-limit library.
package rlimit

import (
	"fmt"
	"syscall"
)

// RLimits is the memory rlimit applied to a tracee before execve. A
// zero AddressSpace means "no rlimit applied at all", matching the
// Options record's memory_limit_b convention: the tracee is left free
// to allocate without bound, and core dumps are left at whatever the
// caller's own limit already was.
type RLimits struct {
	AddressSpace uint64 // RLIMIT_AS ceiling, bytes; 0 disables enforcement
}

// RLimit is one setrlimit(2) call: a resource identifier and the
// soft/hard pair to apply to it.
type RLimit struct {
	// Res is the resource, e.g. syscall.RLIMIT_AS.
	Res int
	// Rlim is the soft/hard limit pair applied to Res.
	Rlim syscall.Rlimit
}

// PrepareRLimit expands r into the setrlimit calls the child must make
// before execve: RLIMIT_AS at the configured ceiling, and RLIMIT_CORE
// forced to zero alongside it so a killed tracee never leaves a core
// file behind. Returns nil when AddressSpace is unset.
func (r *RLimits) PrepareRLimit() []RLimit {
	if r == nil || r.AddressSpace == 0 {
		return nil
	}
	return []RLimit{
		{Res: syscall.RLIMIT_AS, Rlim: syscall.Rlimit{Cur: r.AddressSpace, Max: r.AddressSpace}},
		{Res: syscall.RLIMIT_CORE, Rlim: syscall.Rlimit{Cur: 0, Max: 0}},
	}
}

// String formats a single RLimit for diagnostic logging.
func (r RLimit) String() string {
	switch r.Res {
	case syscall.RLIMIT_AS:
		return fmt.Sprintf("AddressSpace[%d]", r.Rlim.Cur)
	case syscall.RLIMIT_CORE:
		return fmt.Sprintf("Core[%d]", r.Rlim.Cur)
	default:
		return fmt.Sprintf("Resource(%d)[%d]", r.Res, r.Rlim.Cur)
	}
}
