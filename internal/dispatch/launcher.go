package dispatch

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/gyredev/gyre/internal/backend"
)

// Launcher starts a worker process and returns its PID.
type Launcher interface {
	Launch(inv backend.Invocation) (pid int, err error)
}

// ProcessLauncher starts workers detached in their own session. The
// child stays a child of the scheduler so it can be reaped with Wait4,
// but Setsid keeps scheduler signals (Ctrl-C included) from reaching it.
type ProcessLauncher struct{}

func (ProcessLauncher) Launch(inv backend.Invocation) (int, error) {
	cmd := exec.Command(inv.Path, inv.Args...)
	cmd.Dir = inv.WorkDir
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Env = os.Environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("starting %s: %w", inv.Path, err)
	}
	return cmd.Process.Pid, nil
}
