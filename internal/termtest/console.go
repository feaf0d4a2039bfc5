//go:build linux || darwin

// Package termtest drives a command attached to a pseudo-terminal, for tests
// of interactive behaviour that only appears when stdin is a TTY.
package termtest

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"
)

// Options configures a Console.
type Options struct {
	Name string
	Args []string
	// Env is appended to the current environment.
	Env []string
	Dir string
	// Timeout is the default wait for Expect. Defaults to 30s.
	Timeout time.Duration
}

// Console is a running command with captured terminal output.
type Console struct {
	cmd     *exec.Cmd
	ptm     *os.File
	timeout time.Duration
	done    chan struct{}
	waitErr error

	mu     sync.Mutex
	output strings.Builder
}

// Start runs the command on a fresh 80x24 PTY.
func Start(opts Options) (*Console, error) {
	cmd := exec.Command(opts.Name, opts.Args...)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	cmd.Env = append(cmd.Env, opts.Env...)
	cmd.Dir = opts.Dir

	ptm, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 24, Cols: 80})
	if err != nil {
		return nil, fmt.Errorf("failed to start command with pty: %w", err)
	}

	c := &Console{
		cmd:     cmd,
		ptm:     ptm,
		timeout: opts.Timeout,
		done:    make(chan struct{}),
	}
	if c.timeout <= 0 {
		c.timeout = 30 * time.Second
	}
	go c.readOutput()
	go func() {
		c.waitErr = cmd.Wait()
		close(c.done)
	}()
	return c, nil
}

func (c *Console) readOutput() {
	buffer := make([]byte, 4096)
	for {
		n, err := c.ptm.Read(buffer)
		if n > 0 {
			c.mu.Lock()
			c.output.Write(buffer[:n])
			c.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// SendLine writes input, then Enter as a separate keystroke.
func (c *Console) SendLine(input string) error {
	if input != "" {
		if err := c.SendKeys(input); err != nil {
			return err
		}
		time.Sleep(keystrokeDelay)
	}
	return c.SendKeys("\n")
}

// SendKeys writes raw bytes, such as an escape sequence, to the terminal.
func (c *Console) SendKeys(keys string) error {
	if _, err := c.ptm.WriteString(keys); err != nil {
		return fmt.Errorf("failed to write input: %w", err)
	}
	return nil
}

// Common key sequences for SendKeys.
const (
	KeyUp    = "\x1b[A"
	KeyDown  = "\x1b[B"
	KeyTab   = "\t"
	KeyCtrlD = "\x04"
)

const keystrokeDelay = 20 * time.Millisecond

// Output returns everything captured so far.
func (c *Console) Output() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.output.String()
}

// OutputLen is an offset for ExpectSince. Capture it before sending input.
func (c *Console) OutputLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.output.Len()
}

// Expect waits for text anywhere in the output.
func (c *Console) Expect(text string, timeout ...time.Duration) error {
	return c.ExpectSince(text, 0, timeout...)
}

// ExpectSince waits for text in the output produced after offset start.
func (c *Console) ExpectSince(text string, start int, timeout ...time.Duration) error {
	wait := c.timeout
	if len(timeout) > 0 {
		wait = timeout[0]
	}
	deadline := time.Now().Add(wait)
	for {
		output := c.Output()
		if start <= len(output) && strings.Contains(output[start:], text) {
			return nil
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("expected text %q not found in output after %v: %q", text, wait, output)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// ExpectExitCode waits for the command to exit with code.
func (c *Console) ExpectExitCode(code int, timeout ...time.Duration) error {
	wait := c.timeout
	if len(timeout) > 0 {
		wait = timeout[0]
	}
	select {
	case <-c.done:
	case <-time.After(wait):
		return fmt.Errorf("command did not exit after %v", wait)
	}
	actual := 0
	if c.waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(c.waitErr, &exitErr) {
			return c.waitErr
		}
		actual = exitErr.ExitCode()
	}
	if actual != code {
		return fmt.Errorf("expected exit code %d, got %d", code, actual)
	}
	return nil
}

// Close kills the command if it is still running and releases the PTY.
func (c *Console) Close() error {
	select {
	case <-c.done:
	default:
		_ = c.cmd.Process.Kill()
		<-c.done
	}
	if err := c.ptm.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("failed to close ptm: %w", err)
	}
	return nil
}
