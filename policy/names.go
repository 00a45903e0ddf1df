package policy

import (
	"fmt"

	ssbpfarch "github.com/elastic/go-seccomp-bpf/arch"

	"github.com/zqzqsb/tracesandbox/arch"
)

// nameTable holds a per-architecture syscall-number -> name mapping,
// used only to compose the human-readable "forbidden syscall N:
// name()" verdict message (C10). It is never consulted for policy
// decisions — those are table lookups against the allow/bounded lists
// in tables.go.
type nameTable struct {
	byNumber map[int]string
}

var (
	namesI386  = loadNameTable("386")
	namesX8664 = loadNameTable("amd64")
)

// loadNameTable asks go-seccomp-bpf's arch package for the syscall
// table of the named GOARCH. A lookup failure degrades to an empty
// table rather than a fatal error — the caller falls back to
// "syscall_N" when a name is unavailable.
func loadNameTable(goArch string) nameTable {
	info, err := ssbpfarch.GetInfo(goArch)
	if err != nil {
		return nameTable{byNumber: map[int]string{}}
	}
	return nameTable{byNumber: info.SyscallNumbers}
}

func (t nameTable) name(n int) (string, bool) {
	s, ok := t.byNumber[n]
	return s, ok
}

// SyscallName returns the best-effort name of syscall number n on the
// given architecture, e.g. "socket" or "syscall_9999" if unknown.
func SyscallName(tag arch.Tag, n int) string {
	table := namesX8664
	if tag == arch.I386 {
		table = namesI386
	}
	if name, ok := table.name(n); ok {
		return name
	}
	return fmt.Sprintf("syscall_%d", n)
}
