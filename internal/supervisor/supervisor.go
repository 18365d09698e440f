package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"time"

	"github.com/TheGojiOG/worldkeeper/internal/logging"
	"github.com/TheGojiOG/worldkeeper/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// Channel is the child process as seen by the supervisor
type Channel interface {
	Start() error
	ReadLine() (string, error)
	SendLine(text string) error
	CloseInput() error
	Alive() bool
	Done() <-chan struct{}
	Wait() (int, error)
	Kill() error
}

// Router handles operator console lines and chat lines from the server
type Router interface {
	HandleOperatorLine(ctx context.Context, line string) error
	HandleChatLine(ctx context.Context, line string) error
}

// Scheduler runs until its context is cancelled
type Scheduler interface {
	Run(ctx context.Context) error
}

// Sink receives every line of server output
type Sink interface {
	Write(line string) error
}

// Options configures a Supervisor
type Options struct {
	Input       io.Reader // operator console; nil disables it
	Output      io.Writer
	StopCommand string
	StopTimeout time.Duration
}

// Supervisor owns the lifetime of the game server. It runs three
// activities: output reading in the caller's goroutine, operator input and
// backup scheduling. All of them end once the server exits.
type Supervisor struct {
	channel   Channel
	router    Router
	scheduler Scheduler
	sink      Sink
	opts      Options
	logger    *slog.Logger
}

// New creates a supervisor
func New(channel Channel, router Router, scheduler Scheduler, sink Sink, opts Options) *Supervisor {
	if opts.Output == nil {
		opts.Output = io.Discard
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 60 * time.Second
	}
	return &Supervisor{
		channel:   channel,
		router:    router,
		scheduler: scheduler,
		sink:      sink,
		opts:      opts,
		logger:    logging.Component("supervisor"),
	}
}

// Run starts the server and blocks until it exits, returning its exit code.
// Cancelling ctx asks the server to stop gracefully and kills it after the
// stop timeout. An error is returned only if the server could not start or
// its output could not be read.
func (s *Supervisor) Run(ctx context.Context) (int, error) {
	if err := s.channel.Start(); err != nil {
		return -1, fmt.Errorf("failed to start server: %w", err)
	}
	metrics.SetServerUp(true)
	defer metrics.SetServerUp(false)

	stopWatch := context.AfterFunc(ctx, s.stop)
	defer stopWatch()

	shutdown, cancel := context.WithCancel(context.Background())
	defer cancel()

	group, groupCtx := errgroup.WithContext(shutdown)
	group.Go(func() error {
		if err := s.scheduler.Run(groupCtx); err != nil {
			return fmt.Errorf("backup scheduler: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return s.readInput(groupCtx)
	})

	readErr := s.readOutput(groupCtx)
	if readErr != nil {
		s.logger.Error("server output failed, stopping server", "error", readErr)
		if err := s.channel.Kill(); err != nil {
			s.logger.Warn("failed to kill server", "error", err)
		}
	}

	if err := s.channel.CloseInput(); err != nil {
		s.logger.Warn("failed to close server input", "error", err)
	}
	code, waitErr := s.channel.Wait()
	log.Printf("[Supervisor] Server exited with code %d", code)

	cancel()
	groupErr := group.Wait()

	switch {
	case readErr != nil:
		return code, readErr
	case waitErr != nil:
		return code, fmt.Errorf("failed to wait for server: %w", waitErr)
	case groupErr != nil:
		return code, groupErr
	}
	return code, nil
}

// readOutput consumes server output until the stream ends. Lines are pumped
// from a separate reader so output keeps draining while a command runs, which
// also lets a snapshot observe the server's reply to its pre-commands.
func (s *Supervisor) readOutput(ctx context.Context) error {
	lines := make(chan string, 256)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		for {
			line, err := s.channel.ReadLine()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					readErr <- err
				}
				return
			}
			lines <- line
		}
	}()

	for line := range lines {
		if err := s.sink.Write(line); err != nil {
			s.logger.Warn("failed to record server output", "error", err)
		}
		if err := s.router.HandleChatLine(ctx, line); err != nil {
			s.logger.Warn("chat command failed", "error", err)
		}
	}

	select {
	case err := <-readErr:
		return fmt.Errorf("failed to read server output: %w", err)
	default:
	}

	// The stream can close before the process does; the exit code is only
	// meaningful once it has been reaped.
	if s.channel.Alive() {
		s.logger.Info("server closed its output, waiting for exit")
		<-s.channel.Done()
	}
	return nil
}

// stop asks the server to shut down and kills it if it has not exited
// within the stop timeout.
func (s *Supervisor) stop() {
	if !s.channel.Alive() {
		return
	}

	if s.opts.StopCommand != "" {
		log.Printf("[Supervisor] Sending stop command: %s", s.opts.StopCommand)
		if err := s.channel.SendLine(s.opts.StopCommand); err != nil {
			s.logger.Warn("failed to send stop command", "error", err)
		}
	}

	log.Printf("[Supervisor] Waiting for graceful shutdown (timeout: %v)...", s.opts.StopTimeout)
	timer := time.NewTimer(s.opts.StopTimeout)
	defer timer.Stop()

	select {
	case <-s.channel.Done():
		return
	case <-timer.C:
	}

	log.Printf("[Supervisor] Graceful shutdown timeout, killing server")
	if err := s.channel.Kill(); err != nil {
		s.logger.Warn("failed to kill server", "error", err)
	}
}
