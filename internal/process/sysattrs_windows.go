//go:build windows

package process

import (
	"os"
	"os/exec"
	"syscall"
)

func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

// signalGroup terminates the process; Windows has no graceful signal delivery
// for arbitrary children.
func signalGroup(proc *os.Process, _ os.Signal) {
	_ = proc.Kill()
}
