package supervisor

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// ParseMemoryLimit converts a human size such as "512m", "1g", "256MiB" or
// "1.5 GB" into bytes. Single-letter suffixes (k, m, g, t) are binary units,
// matching the usual ulimit and container conventions. An empty string
// means no limit.
func ParseMemoryLimit(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	norm := strings.ToLower(s)
	if n := len(norm); n > 1 && strings.ContainsRune("kmgt", rune(norm[n-1])) {
		norm += "ib"
	}
	b, err := humanize.ParseBytes(norm)
	if err != nil {
		return 0, fmt.Errorf("parse memory limit %q: %w", s, err)
	}
	if b == 0 {
		return 0, fmt.Errorf("parse memory limit %q: must be positive", s)
	}
	return b, nil
}
