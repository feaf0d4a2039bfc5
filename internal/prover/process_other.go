//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd && !dragonfly

package prover

import (
	"os"
	"syscall"
)

func configureTerminal(*os.File) error { return nil }

func sessionAttr() *syscall.SysProcAttr { return nil }

func killProcessGroup(process *os.Process) error { return process.Kill() }
