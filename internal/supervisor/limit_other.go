//go:build !linux

package supervisor

import "errors"

// MemoryLimitSupported reports whether Spec.MemoryBytes is enforced on this
// platform.
const MemoryLimitSupported = false

func applyMemoryLimit(int, uint64) error {
	return errors.New("memory limits are not supported on this platform")
}
