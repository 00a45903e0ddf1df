package policy

import (
	"fmt"

	"github.com/zqzqsb/tracesandbox/arch"
	"github.com/zqzqsb/tracesandbox/memaccess"
	"github.com/zqzqsb/tracesandbox/regs"
)

// Decision is the outcome of a single on_entry/on_exit consultation.
type Decision int

const (
	// Deny is the zero value so a forgotten assignment fails closed.
	Deny Decision = iota
	Allow
)

// Engine is the default policy: an unconditional allow-list, a
// bounded-count list, and argument-checked specials for open,
// lseek/llseek and tgkill, scoped to a single run.
//
// Engine is not safe for concurrent use; the supervisor consults it
// from a single goroutine between syscall-stop transitions, which is
// the only ordering guarantee it needs (spec §5).
type Engine struct {
	tag arch.Tag

	bounded []boundedEntry

	openAllowList    []string
	unsuccessfulBrk  int
	lastErrorMessage string
}

// NewEngine builds a policy engine for the given architecture with the
// given literal `open` allow-list, matched by exact string against the
// pathname argument. The architecture tag must be set exactly once,
// after the tracee's first stop, before any decision is requested.
func NewEngine(tag arch.Tag, openAllowList []string) *Engine {
	e := &Engine{tag: tag, openAllowList: openAllowList}
	if tag == arch.I386 {
		e.bounded = newBoundedI386()
	} else {
		e.bounded = newBoundedX8664()
	}
	return e
}

// ErrorMessage returns the message associated with the most recent
// Deny, or "" if none has occurred yet.
func (e *Engine) ErrorMessage() string {
	return e.lastErrorMessage
}

func (e *Engine) setError(format string, args ...interface{}) {
	e.lastErrorMessage = fmt.Sprintf(format, args...)
}

func (e *Engine) allowedTable() []int {
	if e.tag == arch.I386 {
		return allowedI386
	}
	return allowedX8664
}

func (e *Engine) openSyscall() int {
	if e.tag == arch.I386 {
		return sysOpenI386
	}
	return sysOpenX8664
}

func (e *Engine) lseekSyscall() int {
	if e.tag == arch.I386 {
		return sysLseekI386
	}
	return sysLseekX8664
}

func (e *Engine) tgkillSyscall() int {
	if e.tag == arch.I386 {
		return sysTgkillI386
	}
	return sysTgkillX8664
}

func (e *Engine) brkSyscall() int {
	if e.tag == arch.I386 {
		return sysBrkI386
	}
	return sysBrkX8664
}

// OnEntry implements the on_entry decision of §4.7, steps 1-6. It
// fetches the full register set itself, and only when one of the
// argument-sensitive checks actually needs it — the syscall-number
// peek that got it here was already the cheap path.
func (e *Engine) OnEntry(pid int, syscallNo int) Decision {
	if binarySearch(e.allowedTable(), syscallNo) {
		return Allow
	}

	for i := range e.bounded {
		if e.bounded[i].syscall == syscallNo {
			e.bounded[i].remaining--
			if e.bounded[i].remaining >= 0 {
				return Allow
			}
			return Deny
		}
	}

	switch {
	case syscallNo == e.openSyscall():
		return e.checkOpen(pid)
	case syscallNo == e.lseekSyscall() || (e.tag == arch.I386 && syscallNo == sysLlseekI386):
		return e.checkLseek(pid)
	case syscallNo == e.tgkillSyscall():
		return e.checkTgkill(pid)
	}

	return Deny
}

// OnExit implements the on_exit decision of §4.7: only brk is
// inspected, counting unsuccessful exits (return value == requested
// argument, the kernel's way of signalling brk failure).
func (e *Engine) OnExit(pid int, syscallNo int) Decision {
	if syscallNo != e.brkSyscall() {
		return Allow
	}

	snapshot, err := regs.Get(pid, e.tag)
	if err != nil {
		return Allow
	}
	if snapshot.ReturnValue() == snapshot.Arg(1) {
		e.unsuccessfulBrk++
		if e.unsuccessfulBrk > unsuccessfulBrkLimit {
			e.setError("brk failed too many times")
			return Deny
		}
	}
	return Allow
}

// checkOpen implements the `open` rule: the pathname must be an exact
// member of the allow-list (literal string match, no realpath
// resolution, so a symlink or relative-path alias of an allowed file
// is not itself allowed). An unreadable pathname denies the call
// outright; a readable-but-disallowed
// pathname is neutralised (arg1 clobbered to NULL) and allowed to run
// and fail on its own, rather than killing the tracee.
func (e *Engine) checkOpen(pid int) Decision {
	snapshot, err := regs.Get(pid, e.tag)
	if err != nil {
		return Deny
	}
	path, ok := memaccess.ReadCString(pid, snapshot.ArgUint(1), memaccess.PathMax)
	if !ok {
		return Deny
	}
	for _, allowed := range e.openAllowList {
		if path == allowed {
			return Allow
		}
	}
	if err := regs.ClobberArg(pid, e.tag, 1, 0); err != nil {
		return Deny
	}
	return Allow
}

// checkLseek implements the lseek/_llseek rule: seeking on one of the
// standard streams kills the tracee outright; any other fd is allowed
// to proceed, but only after its fd argument is clobbered to -1 so the
// kernel fails the call with EBADF rather than actually seeking.
// _llseek on i386 shares this exact rule (Open Question 4).
func (e *Engine) checkLseek(pid int) Decision {
	snapshot, err := regs.Get(pid, e.tag)
	if err != nil {
		return Deny
	}
	fd := snapshot.Arg(1)
	if fd == 0 || fd == 1 || fd == 2 {
		return Deny
	}
	if err := regs.ClobberArg(pid, e.tag, 1, ^uint64(0)); err != nil {
		return Deny
	}
	return Allow
}

// checkTgkill implements the tgkill rule: allowed only when both tgid
// and tid name the tracee itself.
func (e *Engine) checkTgkill(pid int) Decision {
	snapshot, err := regs.Get(pid, e.tag)
	if err != nil {
		return Deny
	}
	tgid := snapshot.Arg(1)
	tid := snapshot.Arg(2)
	if int(tgid) == pid && int(tid) == pid {
		return Allow
	}
	e.setError("tgkill to foreign process")
	return Deny
}
