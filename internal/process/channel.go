package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// ErrNotStarted is returned by operations that need a running child process.
var ErrNotStarted = errors.New("process not started")

// Config describes how the supervised server is launched
type Config struct {
	Executable string
	Args       []string
	WorkingDir string
	Env        []string
}

// Channel owns the child process and its standard streams. Stdout and stderr
// are merged into a single line stream read by exactly one caller; stdin
// writes are serialized so lines from different goroutines never interleave.
type Channel struct {
	cfg Config

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	output *os.File
	reader *bufio.Reader

	writeMu     sync.Mutex
	inputClosed bool

	mu         sync.Mutex
	outputSeen chan struct{}
	lastOutput time.Time

	done      chan struct{}
	exitCode  int
	waitErr   error
	startedAt time.Time
}

// NewChannel creates a channel for the given launch configuration
func NewChannel(cfg Config) *Channel {
	return &Channel{
		cfg:        cfg,
		outputSeen: make(chan struct{}),
		done:       make(chan struct{}),
		exitCode:   -1,
	}
}

// Start launches the child process
func (c *Channel) Start() error {
	if c.cmd != nil {
		return fmt.Errorf("process already started")
	}

	cmd := exec.Command(c.cfg.Executable, c.cfg.Args...)
	cmd.Dir = c.cfg.WorkingDir
	if len(c.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), c.cfg.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdin pipe: %w", err)
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("failed to open output pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		stdin.Close()
		pr.Close()
		pw.Close()
		return fmt.Errorf("failed to start %s: %w", c.cfg.Executable, err)
	}
	// The child holds its own copy of the write end; EOF arrives once it exits.
	pw.Close()

	c.cmd = cmd
	c.stdin = stdin
	c.output = pr
	c.reader = bufio.NewReader(pr)
	c.startedAt = time.Now()

	go c.reap()

	log.Printf("[Process] Started %s (pid %d)", c.cfg.Executable, cmd.Process.Pid)
	return nil
}

func (c *Channel) reap() {
	err := c.cmd.Wait()
	c.mu.Lock()
	c.waitErr = err
	if c.cmd.ProcessState != nil {
		c.exitCode = c.cmd.ProcessState.ExitCode()
	}
	c.mu.Unlock()
	close(c.done)
}

// SendLine writes text followed by a newline to the child's input
func (c *Channel) SendLine(text string) error {
	if c.cmd == nil {
		return ErrNotStarted
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.inputClosed {
		return fmt.Errorf("failed to send line: %w", os.ErrClosed)
	}

	line := strings.TrimRight(text, "\r\n") + "\n"
	if _, err := io.WriteString(c.stdin, line); err != nil {
		return fmt.Errorf("failed to send line: %w", err)
	}
	return nil
}

// ReadLine blocks until a full line of output is available. It returns
// io.EOF once the output stream is closed and drained.
func (c *Channel) ReadLine() (string, error) {
	if c.cmd == nil {
		return "", ErrNotStarted
	}

	line, err := c.reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			c.markOutput()
			return strings.TrimRight(line, "\r\n"), nil
		}
		if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
			return "", io.EOF
		}
		return "", fmt.Errorf("failed to read output: %w", err)
	}

	c.markOutput()
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *Channel) markOutput() {
	c.mu.Lock()
	close(c.outputSeen)
	c.outputSeen = make(chan struct{})
	c.lastOutput = time.Now()
	c.mu.Unlock()
}

// WaitForOutput blocks until the next output line is read, the timeout
// elapses, the context is cancelled or the process exits. It reports whether
// output was observed.
func (c *Channel) WaitForOutput(ctx context.Context, timeout time.Duration) bool {
	c.mu.Lock()
	seen := c.outputSeen
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-seen:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	case <-c.done:
		return false
	}
}

// CloseInput closes the child's stdin. Further SendLine calls fail.
func (c *Channel) CloseInput() error {
	if c.cmd == nil {
		return ErrNotStarted
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.inputClosed {
		return nil
	}
	c.inputClosed = true

	if err := c.stdin.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("failed to close stdin: %w", err)
	}
	return nil
}

// Alive reports whether the child process is still running
func (c *Channel) Alive() bool {
	if c.cmd == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Done is closed once the child process has exited and been reaped
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the child exits and returns its exit code. A process
// killed by a signal reports -1.
func (c *Channel) Wait() (int, error) {
	if c.cmd == nil {
		return -1, ErrNotStarted
	}

	<-c.done

	if c.output != nil {
		c.output.Close()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var exitErr *exec.ExitError
	if c.waitErr != nil && !errors.As(c.waitErr, &exitErr) {
		return c.exitCode, c.waitErr
	}
	return c.exitCode, nil
}

// Kill forcefully terminates the child process
func (c *Channel) Kill() error {
	if c.cmd == nil || c.cmd.Process == nil {
		return ErrNotStarted
	}
	if !c.Alive() {
		return nil
	}
	if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill process: %w", err)
	}
	return nil
}

// Pid returns the child's process ID, or 0 if not started
func (c *Channel) Pid() int {
	if c.cmd == nil || c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

// StartedAt returns when the child was launched
func (c *Channel) StartedAt() time.Time {
	return c.startedAt
}

// LastOutput returns when the last output line was read
func (c *Channel) LastOutput() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastOutput
}
