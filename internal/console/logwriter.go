package console

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/TheGojiOG/worldkeeper/internal/metrics"
)

// Match all ANSI/VT100 escape sequences including CSI, OSC, and other control sequences
var ansiEscapePattern = regexp.MustCompile(`\x1b(\[[0-9;?!]*[A-Za-z>hp]|\][^\x07]*\x07|\([B0]|[=>])`)

// Sanitize strips escape sequences and control characters except tabs
func Sanitize(line string) string {
	if line == "" {
		return ""
	}
	stripped := ansiEscapePattern.ReplaceAllString(line, "")
	return strings.Map(func(r rune) rune {
		if r == '\t' {
			return r
		}
		if r < 32 || r == 0x7f {
			return -1
		}
		return r
	}, stripped)
}

// LogWriter appends server output to one file per calendar day:
// <dir>/<YYYY-MM-DD>_logs.txt
type LogWriter struct {
	dir  string
	now  func() time.Time
	mu   sync.Mutex
	day  string
	file *os.File
}

// NewLogWriter creates the log directory if needed
func NewLogWriter(dir string) (*LogWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &LogWriter{dir: dir, now: time.Now}, nil
}

// WriteLine appends line to today's file, switching files at midnight
func (lw *LogWriter) WriteLine(line string) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	day := lw.now().Format("2006-01-02")
	if lw.file == nil || day != lw.day {
		if err := lw.openLocked(day); err != nil {
			return err
		}
	}

	if _, err := io.WriteString(lw.file, line+"\n"); err != nil {
		return fmt.Errorf("failed to write log: %w", err)
	}
	return nil
}

func (lw *LogWriter) openLocked(day string) error {
	if lw.file != nil {
		lw.file.Close()
		lw.file = nil
	}

	path := filepath.Join(lw.dir, day+"_logs.txt")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	lw.file = file
	lw.day = day
	return nil
}

// Path returns the file currently written to, or "" before the first line
func (lw *LogWriter) Path() string {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if lw.file == nil {
		return ""
	}
	return lw.file.Name()
}

// Close closes the log file
func (lw *LogWriter) Close() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if lw.file == nil {
		return nil
	}
	err := lw.file.Close()
	lw.file = nil
	return err
}

// Sink fans each server output line out to the daily log, the ring buffer
// and the operator's terminal
type Sink struct {
	writer *LogWriter
	buffer *RingBuffer
	echo   io.Writer
	now    func() time.Time
}

// NewSink creates a sink; any of its outputs may be nil
func NewSink(writer *LogWriter, buffer *RingBuffer, echo io.Writer) *Sink {
	return &Sink{writer: writer, buffer: buffer, echo: echo, now: time.Now}
}

// Write records one line of server output
func (s *Sink) Write(line string) error {
	metrics.RecordConsoleLine()

	clean := Sanitize(line)
	if s.buffer != nil {
		s.buffer.Add(clean)
	}
	if s.echo != nil {
		fmt.Fprintf(s.echo, "Server@%s: %s\n", s.now().Format("2006-01-02"), clean)
	}
	if s.writer != nil {
		return s.writer.WriteLine(line)
	}
	return nil
}
