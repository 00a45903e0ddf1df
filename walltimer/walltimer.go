// Package walltimer implements the wall-clock limit enforcer (C5): an
// optional one-shot watchdog that SIGKILLs a tracee if it runs past
// its configured limit, and reports the elapsed runtime regardless of
// whether it ever fired.
package walltimer

import (
	"sync"
	"syscall"
	"time"
)

// Timer is a single run's wall-clock watchdog. Its zero value is not
// usable; construct with Start.
type Timer struct {
	pid      int
	start    time.Time
	mu       sync.Mutex
	stopped  bool
	fired    bool
	runtime  time.Duration
	internal *time.Timer
}

// Start begins timing pid immediately. If limitUs is zero the timer is
// inert: it never fires, and StopAndGetRuntime still reports elapsed
// wall time for the verdict.
func Start(pid int, limitUs uint64) *Timer {
	t := &Timer{pid: pid, start: time.Now()}
	if limitUs == 0 {
		return t
	}
	t.internal = time.AfterFunc(time.Duration(limitUs)*time.Microsecond, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.stopped {
			return
		}
		t.fired = true
		// Best-effort: the tracee may already be exiting on its own,
		// in which case this kill races harmlessly against a pid
		// that's already gone.
		_ = syscall.Kill(t.pid, syscall.SIGKILL)
	})
	return t
}

// Fired reports whether the watchdog kill actually ran.
func (t *Timer) Fired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fired
}

// StopAndGetRuntime disarms the watchdog (if armed) and returns the
// elapsed wall-clock runtime in microseconds. Safe to call more than
// once; later calls return the same runtime value frozen at first
// stop.
func (t *Timer) StopAndGetRuntime() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.stopped {
		if t.internal != nil {
			t.internal.Stop()
		}
		t.runtime = time.Since(t.start)
		t.stopped = true
	}
	return uint64(t.runtime / time.Microsecond)
}
