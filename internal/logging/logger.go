package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/TheGojiOG/worldkeeper/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger    *slog.Logger
	initOnce  sync.Once
	logCloser io.Closer
)

// Init configures the global logger singleton. Supervisor logs go to stderr so
// that stdout stays reserved for the operator console.
func Init(cfg config.LoggingConfig) (*slog.Logger, error) {
	initOnce.Do(func() {
		output, closer := buildOutput(cfg)
		logCloser = closer
		logger = New(output, cfg)
		slog.SetDefault(logger)
		log.SetFlags(0)
		log.SetOutput(slogWriter{logger: logger})
	})

	return logger, nil
}

// New builds a logger writing to w without touching the global state.
func New(w io.Writer, cfg config.LoggingConfig) *slog.Logger {
	options := &slog.HandlerOptions{Level: parseLevel(cfg.Level), AddSource: true}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, options)
	} else {
		handler = slog.NewTextHandler(w, options)
	}
	return slog.New(handler)
}

// L returns the configured logger, or a no-op logger if not initialized.
func L() *slog.Logger {
	if logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return logger
}

// Component returns a child logger tagged with a component name.
func Component(name string) *slog.Logger {
	return L().With("component", name)
}

// Close flushes and closes any logger resources.
func Close() error {
	if logCloser != nil {
		return logCloser.Close()
	}
	return nil
}

type slogWriter struct {
	logger *slog.Logger
}

func (w slogWriter) Write(p []byte) (int, error) {
	msg := strings.TrimSpace(string(p))
	if msg == "" {
		return len(p), nil
	}
	w.logger.Info(msg)
	return len(p), nil
}

func buildOutput(cfg config.LoggingConfig) (io.Writer, io.Closer) {
	if strings.TrimSpace(cfg.File) == "" {
		return os.Stderr, nil
	}

	fileLogger := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   true,
	}

	return io.MultiWriter(os.Stderr, fileLogger), fileLogger
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
