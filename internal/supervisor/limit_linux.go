//go:build linux

package supervisor

import "golang.org/x/sys/unix"

// MemoryLimitSupported reports whether Spec.MemoryBytes is enforced on this
// platform.
const MemoryLimitSupported = true

// applyMemoryLimit caps the committed writable memory (RLIMIT_DATA) of a
// running process.
func applyMemoryLimit(pid int, limit uint64) error {
	rl := unix.Rlimit{Cur: limit, Max: limit}
	return unix.Prlimit(pid, unix.RLIMIT_DATA, &rl, nil)
}
