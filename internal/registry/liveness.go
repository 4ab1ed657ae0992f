package registry

import (
	"os"
	"syscall"
)

// Prober answers whether a PID names a live process. The coordinator polls
// a stored handle rather than waiting synchronously; injecting the prober
// keeps tick logic testable without real processes.
type Prober interface {
	Alive(pid int) bool
}

// ProcessProber probes real processes with signal 0.
type ProcessProber struct{}

// Alive reports whether the process exists. Signal 0 performs the full
// existence and permission check without delivering anything.
func (ProcessProber) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// EPERM means the process exists but belongs to someone else.
	return err == syscall.EPERM
}
