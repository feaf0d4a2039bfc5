//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package prover

import (
	"errors"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// configureTerminal turns off echo and canonical line editing on the slave
// side, so requests are neither echoed back nor limited by the line
// discipline's buffer. Output processing is left untouched.
func configureTerminal(tty *os.File) error {
	fd := int(tty.Fd())
	termios, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		return err
	}
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON
	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0
	return unix.IoctlSetTermios(fd, ioctlSetTermios, termios)
}

// sessionAttr makes the child a session leader with the PTY as its
// controlling terminal.
func sessionAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true, Setctty: true}
}

// killProcessGroup kills the child and anything it spawned (lake runs lean
// as a grandchild).
func killProcessGroup(process *os.Process) error {
	err := unix.Kill(-process.Pid, unix.SIGKILL)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	if err != nil {
		return process.Kill()
	}
	return nil
}
