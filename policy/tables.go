// Package policy implements the architecture-aware syscall classifier
// (C8): an unconditional allow-list, a per-call decrement counter for
// bounded-frequency calls, and argument-sensitive rules for open,
// lseek/llseek and tgkill.
package policy

import "github.com/zqzqsb/tracesandbox/arch"

// Syscall numbers referenced by the argument-sensitive rules below.
// Bit-exact per spec, each pair is {i386, x86_64}.
const (
	sysOpenI386, sysOpenX8664     = 5, 2
	sysLseekI386, sysLseekX8664   = 19, 8
	sysLlseekI386                 = 140
	sysTgkillI386, sysTgkillX8664 = 270, 234
	sysBrkI386, sysBrkX8664       = 45, 12
)

const unsuccessfulBrkLimit = 128

// allowedI386 is the i386 unconditional allow-list (78 entries),
// sorted ascending, bit-exact per spec §6.
var allowedI386 = []int{
	1, 3, 4, 6, 13, 20, 24, 27, 29, 45, 47, 49, 50, 67, 72, 73, 76, 77, 78, 82,
	90, 91, 100, 108, 118, 125, 142, 143, 144, 145, 146, 148, 150, 151, 152,
	153, 162, 163, 168, 174, 175, 176, 177, 179, 180, 181, 184, 187, 191, 192,
	197, 199, 200, 201, 202, 219, 224, 231, 232, 239, 240, 244, 250, 252, 265,
	266, 267, 269, 272, 308, 309, 312, 323, 328, 333, 334, 355, 376,
}

// allowedX8664 is the x86_64 unconditional allow-list (64 entries).
var allowedX8664 = []int{
	0, 1, 3, 5, 7, 9, 10, 11, 12, 13, 14, 17, 18, 19, 20, 23, 25, 26, 28, 34,
	35, 37, 39, 40, 60, 73, 74, 75, 96, 97, 98, 102, 104, 107, 108, 125, 127,
	128, 130, 138, 149, 150, 151, 152, 186, 193, 196, 201, 202, 211, 221, 228,
	229, 230, 231, 270, 271, 274, 284, 290, 295, 296, 318, 325,
}

// memChangingI386 and memChangingX8664 are the address-space-mutating
// syscall sets consulted by the supervisor around syscall exit (§4.8).
var memChangingI386 = map[int]bool{45: true, 90: true, 163: true, 192: true}   // brk, mmap, mremap, mmap2
var memChangingX8664 = map[int]bool{9: true, 12: true, 25: true}              // mmap, brk, mremap

// MemChanging reports whether syscall number n mutates the tracee's
// address space on the given architecture and so warrants a VM-size
// sample at syscall exit.
func MemChanging(tag arch.Tag, n int) bool {
	if tag == arch.I386 {
		return memChangingI386[n]
	}
	return memChangingX8664[n]
}

// isSortedAscending is asserted by the table tests; kept here as a
// tiny helper so the invariant lives next to the data it checks.
func isSortedAscending(xs []int) bool {
	for i := 1; i < len(xs); i++ {
		if xs[i] <= xs[i-1] {
			return false
		}
	}
	return true
}

// binarySearch reports whether n is present in the sorted slice xs.
func binarySearch(xs []int, n int) bool {
	lo, hi := 0, len(xs)
	for lo < hi {
		mid := (lo + hi) / 2
		switch {
		case xs[mid] == n:
			return true
		case xs[mid] < n:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return false
}

// boundedEntry is one (syscall_number, remaining_calls) pair.
type boundedEntry struct {
	syscall   int
	remaining int
}

// newBoundedI386 and newBoundedX8664 return a fresh copy of each
// arch's bounded-count table (the counters are run-scoped and must
// never be shared between runs).
func newBoundedI386() []boundedEntry {
	return []boundedEntry{
		{11, 1},  // execve
		{33, 1},  // access
		{85, 1},  // readlink
		{122, 1}, // uname
		{243, 1}, // set_thread_area
	}
}

func newBoundedX8664() []boundedEntry {
	return []boundedEntry{
		{21, 1},  // access
		{59, 1},  // execve
		{63, 1},  // uname
		{89, 1},  // readlink
		{158, 1}, // arch_prctl
		{205, 1}, // set_thread_area
	}
}
