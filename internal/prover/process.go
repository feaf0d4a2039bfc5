package prover

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// ExitCodeOutOfMemory is the exit status reported when the kernel OOM killer
// (SIGKILL, 128+9) terminates the process.
const ExitCodeOutOfMemory = 137

// exitGrace bounds the wait for the waiter goroutine to reap a process whose
// PTY has already hung up.
const exitGrace = time.Second

// Command describes the process to spawn.
type Command struct {
	Name string
	Args []string
	// Dir is the working directory; empty means the current directory.
	Dir string
	// Env is appended to the current environment.
	Env []string
	// Prompt overrides DefaultPrompt for the frame reader.
	Prompt string
}

// String renders the command line for logs.
func (c Command) String() string {
	s := c.Name
	for _, arg := range c.Args {
		s += " " + arg
	}
	return s
}

// Process owns one prover child process attached to a pseudo-terminal. It
// is not safe for concurrent use.
type Process struct {
	run    *run
	ptm    *os.File
	reader *Reader
}

// run tracks one spawned child. state is written once, before done closes.
type run struct {
	cmd   *exec.Cmd
	done  chan struct{}
	state *os.ProcessState
}

// NewProcess returns a Process that owns nothing until Start is called.
func NewProcess() *Process {
	return &Process{}
}

// Start spawns cmd on a fresh PTY, stopping any process already owned. Reads
// made through Next time out after timeout.
func (p *Process) Start(command Command, timeout time.Duration) error {
	if err := p.Stop(); err != nil {
		slog.Warn("failed to stop previous prover process", "error", err)
	}

	ptm, pts, err := pty.Open()
	if err != nil {
		return fmt.Errorf("failed to open pty: %w", err)
	}
	// Match the dimensions of a default terminal
	if err := pty.Setsize(ptm, &pty.Winsize{Rows: 24, Cols: 80}); err != nil {
		_ = pts.Close()
		_ = ptm.Close()
		return fmt.Errorf("failed to set pty size: %w", err)
	}
	if err := configureTerminal(pts); err != nil {
		_ = pts.Close()
		_ = ptm.Close()
		return fmt.Errorf("failed to configure pty: %w", err)
	}

	cmd := exec.Command(command.Name, command.Args...)
	cmd.Dir = command.Dir
	cmd.Env = append(os.Environ(), command.Env...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = pts, pts, pts
	cmd.SysProcAttr = sessionAttr()

	if err := cmd.Start(); err != nil {
		_ = pts.Close()
		_ = ptm.Close()
		return fmt.Errorf("failed to start %s: %w", command.Name, err)
	}
	// The child holds its own copy of the slave side.
	_ = pts.Close()

	r := &run{cmd: cmd, done: make(chan struct{})}
	p.run = r
	p.ptm = ptm
	p.reader = NewReader(ptm,
		WithPrompt(command.Prompt),
		WithTimeout(timeout),
		WithLivenessCheck(p.CheckAlive),
	)

	go func() {
		_ = cmd.Wait()
		r.state = cmd.ProcessState
		close(r.done)
	}()

	slog.Debug("started prover process", "command", command.String(), "pid", cmd.Process.Pid)
	return nil
}

// IsAlive reports whether the process has been started and not yet exited.
func (p *Process) IsAlive() bool {
	if p.run == nil {
		return false
	}
	select {
	case <-p.run.done:
		return false
	default:
		return true
	}
}

// ExitCode returns the exit status of an exited process, -1 if none is owned
// and 0 while it is running. Death by signal is reported as 128 plus
// the signal number, the way a shell would.
func (p *Process) ExitCode() int {
	if p.run == nil {
		return -1
	}
	select {
	case <-p.run.done:
	default:
		return 0
	}
	return exitStatus(p.run.state)
}

func exitStatus(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}

// CheckAlive returns nil while the process runs and a *CrashError describing
// how it ended otherwise.
func (p *Process) CheckAlive() error {
	if p.IsAlive() {
		return nil
	}
	return classifyExit(p.ExitCode())
}

func classifyExit(code int) error {
	if code == ExitCodeOutOfMemory {
		return &CrashError{Kind: CrashOutOfMemory, ExitCode: code}
	}
	return &CrashError{Kind: CrashUnexpectedExit, ExitCode: code}
}

// SendLine writes text followed by a newline. Callers should CheckAlive
// first.
func (p *Process) SendLine(text string) error {
	if p.ptm == nil {
		return errors.New("prover process not started")
	}
	if _, err := p.ptm.WriteString(text + "\n"); err != nil {
		return fmt.Errorf("failed to write to prover: %w", err)
	}
	return nil
}

// Next reads the next frame from the process output. When the output ends
// because the process died, the exit is classified like CheckAlive does;
// a clean exit is left as io.EOF.
func (p *Process) Next() (Frame, error) {
	if p.reader == nil {
		return Frame{}, &CrashError{Kind: CrashUnexpectedExit, ExitCode: -1}
	}
	frame, err := p.reader.Next()
	if errors.Is(err, io.EOF) && p.run != nil {
		select {
		case <-p.run.done:
			if code := exitStatus(p.run.state); code != 0 {
				return Frame{}, classifyExit(code)
			}
		case <-time.After(exitGrace):
		}
	}
	return frame, err
}

// Stop kills the process group, reaps the process and releases the PTY. It
// is safe to call repeatedly, and before Start.
func (p *Process) Stop() error {
	var errs []error

	if p.IsAlive() {
		if err := killProcessGroup(p.run.cmd.Process); err != nil {
			errs = append(errs, fmt.Errorf("failed to kill prover: %w", err))
		}
		select {
		case <-p.run.done:
		case <-time.After(5 * time.Second):
			errs = append(errs, errors.New("timed out waiting for prover to exit"))
		}
	}
	if p.reader != nil {
		p.reader.Close()
	}
	if p.ptm != nil {
		if err := p.ptm.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close pty: %w", err))
		}
	}

	p.ptm = nil
	p.reader = nil
	p.run = nil
	return errors.Join(errs...)
}
