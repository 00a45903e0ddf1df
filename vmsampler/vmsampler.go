// Package vmsampler implements the virtual-memory size sampler (C4): a
// peak tracker fed by repeated reads of a tracee's /proc/<pid>/statm,
// read raw here instead of through cgroup accounting since no cgroup
// exists for this tracee (Non-goal: no cgroup isolation).
package vmsampler

import (
	"fmt"
	"os"
	"strconv"
)

// pageSize is assumed 4096, true on every Linux target this sandbox
// ships for (x86, x86_64). /proc/<pid>/statm reports page counts, not
// bytes, and there is no portable syscall-free way to ask the kernel
// for its own page size at this call site.
const pageSize = 4096

// Sampler reads a single tracee's /proc/<pid>/statm and tracks the
// largest VmSize observed across the run.
type Sampler struct {
	pid  int
	peak uint64
}

// New returns a sampler for pid. No read happens until Sample is
// called.
func New(pid int) *Sampler {
	return &Sampler{pid: pid}
}

// Sample reads the current VmSize (first field of statm, in pages),
// converts it to bytes, and folds it into the running peak. An error
// here means the tracee has already exited or /proc has gone away;
// the caller (the supervisor) treats that as "nothing more to sample",
// not as a run failure, since it can only happen after the tracee is
// already dead.
func (s *Sampler) Sample() (uint64, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/statm", s.pid))
	if err != nil {
		return s.peak, err
	}

	pages, err := leadingInt(data)
	if err != nil {
		return s.peak, err
	}

	cur := uint64(pages * pageSize)
	if cur > s.peak {
		s.peak = cur
	}
	return s.peak, nil
}

// Peak returns the largest size observed across all calls to Sample
// so far.
func (s *Sampler) Peak() uint64 {
	return s.peak
}

// leadingInt parses the first whitespace-delimited decimal field of
// data, the VmSize-in-pages column of /proc/<pid>/statm.
func leadingInt(data []byte) (uint64, error) {
	i := 0
	for i < len(data) && data[i] >= '0' && data[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, fmt.Errorf("vmsampler: no leading integer in statm")
	}
	return strconv.ParseUint(string(data[:i]), 10, 64)
}
