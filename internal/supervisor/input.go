package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// readInput forwards operator console lines to the router until the
// operator types q or quit, the console closes or ctx is cancelled. Ending
// console input leaves the server running.
func (s *Supervisor) readInput(ctx context.Context) error {
	if s.opts.Input == nil {
		return nil
	}

	lines := make(chan string)
	done := make(chan struct{})
	defer close(done)

	// The pump may stay blocked on a read after we return; it exits on the
	// next line or when the console closes.
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(s.opts.Input)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
		if err := scanner.Err(); err != nil {
			s.logger.Warn("operator console read failed", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				s.logger.Info("operator console closed")
				return nil
			}
			if isQuit(line) {
				fmt.Fprintln(s.opts.Output, "Console input closed; the server keeps running")
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if err := s.router.HandleOperatorLine(ctx, line); err != nil {
				s.logger.Warn("operator command failed", "error", err)
			}
		}
	}
}

func isQuit(line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "q", "quit":
		return true
	}
	return false
}
