//go:build !unix

package supervisor

import (
	"errors"
	"os"
	"os/exec"

	"github.com/Wangjien/snippetsHub/internal/model"
)

func setProcessGroup(*exec.Cmd) {}

// killProcessGroup kills only the direct child; process groups are not
// available on this platform.
func killProcessGroup(p *os.Process) error {
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func exitCode(state *os.ProcessState) int {
	if state == nil {
		return model.ExitCodeTerminated
	}
	return state.ExitCode()
}
