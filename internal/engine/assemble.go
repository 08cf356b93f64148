package engine

import (
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"

	"github.com/Wangjien/snippetsHub/internal/model"
	"github.com/Wangjien/snippetsHub/internal/supervisor"
)

// assemble maps a supervised outcome to the public result. extra is time
// spent before the process, such as a compile step.
func assemble(res supervisor.Result, extra time.Duration) model.ExecutionResult {
	exitCode := res.ExitCode
	if res.Outcome != model.OutcomeCompleted {
		exitCode = model.ExitCodeTerminated
	}
	return model.ExecutionResult{
		Success:    res.Outcome == model.OutcomeCompleted && exitCode == 0,
		Stdout:     decodeText(res.Stdout),
		Stderr:     decodeText(res.Stderr),
		ExitCode:   exitCode,
		DurationMS: (res.Duration + extra).Milliseconds(),
	}
}

// decodeText returns b as UTF-8, replacing ill-formed sequences with U+FFFD.
func decodeText(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	out, _, err := transform.Bytes(runes.ReplaceIllFormed(), b)
	if err != nil {
		return strings.ToValidUTF8(string(b), string(utf8.RuneError))
	}
	return string(out)
}
