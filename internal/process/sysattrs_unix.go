//go:build !windows

package process

import (
	"os"
	"os/exec"
	"syscall"
)

// configureSysProcAttr places the child in a new process group so signals also
// reach the helper processes browsers fork.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup delivers sig to the process group, falling back to the process.
func signalGroup(proc *os.Process, sig os.Signal) {
	if s, ok := sig.(syscall.Signal); ok {
		if err := syscall.Kill(-proc.Pid, s); err == nil {
			return
		}
	}
	_ = proc.Signal(sig)
}
