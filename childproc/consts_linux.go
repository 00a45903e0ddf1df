package childproc

import "golang.org/x/sys/unix"

// etxtbsyRetryInterval is a brief sleep between retries of an execve
// that failed with ETXTBSY, which can happen if the target binary was
// only just finished being written.
var etxtbsyRetryInterval = unix.Timespec{Sec: 0, Nsec: 1_000_000}

const etxtbsyMaxRetries = 50
