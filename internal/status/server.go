package status

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/TheGojiOG/worldkeeper/internal/backup"
	"github.com/TheGojiOG/worldkeeper/internal/console"
	"github.com/TheGojiOG/worldkeeper/internal/metrics"
	"github.com/TheGojiOG/worldkeeper/internal/state"
	"github.com/gin-gonic/gin"
)

// Process is the read-only view of the supervised server
type Process interface {
	Alive() bool
	Pid() int
	StartedAt() time.Time
	LastOutput() time.Time
}

// Backups is the read-only view of the snapshotter
type Backups interface {
	Last() (backup.Record, bool)
	InProgress() bool
}

// Schedule reports when the next snapshot is due
type Schedule interface {
	NextRun() time.Time
}

// Deps are the components the status server reads from. History and
// Console may be nil.
type Deps struct {
	Process  Process
	Store    *state.Store
	Backups  Backups
	Schedule Schedule
	History  backup.History
	Console  *console.RingBuffer
	Debug    bool
}

// NewRouter builds the read-only HTTP surface
func NewRouter(deps Deps) *gin.Engine {
	if deps.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())
	router.Use(securityHeaders())

	h := &handler{deps: deps}
	router.GET("/health", h.health)
	router.GET("/status", h.status)
	router.GET("/backups", h.backups)
	router.GET("/console", h.console)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	return router
}

// Server serves the status router until its context is cancelled
type Server struct {
	httpServer *http.Server
}

// NewServer creates a status server listening on addr
func NewServer(addr string, deps Deps) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(deps),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Run listens until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve is Run on an existing listener
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("[Status] Listening on %s", listener.Addr())
		errCh <- s.httpServer.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down status server: %w", err)
	}
	return nil
}

type handler struct {
	deps Deps
}

func (h *handler) health(c *gin.Context) {
	up := h.deps.Process != nil && h.deps.Process.Alive()
	code := http.StatusOK
	if !up {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": "ok", "server_up": up})
}

func (h *handler) status(c *gin.Context) {
	response := gin.H{}

	if p := h.deps.Process; p != nil {
		server := gin.H{"alive": p.Alive(), "pid": p.Pid()}
		if started := p.StartedAt(); !started.IsZero() {
			server["started_at"] = started
			server["uptime_seconds"] = int64(time.Since(started).Seconds())
		}
		if last := p.LastOutput(); !last.IsZero() {
			server["last_output_at"] = last
		}
		response["server"] = server
	}

	if h.deps.Store != nil {
		policy := h.deps.Store.Policy()
		response["policy"] = gin.H{
			"interval_seconds": int64(policy.Interval.Seconds()),
			"compress":         policy.Compress,
			"schedule":         policy.Schedule,
		}
		// Names stay on the operator console; only the count is published.
		response["super_user_count"] = len(h.deps.Store.SuperUsers())
	}

	backupInfo := gin.H{}
	if b := h.deps.Backups; b != nil {
		backupInfo["in_progress"] = b.InProgress()
		if last, ok := b.Last(); ok {
			backupInfo["last"] = last
		}
	}
	if s := h.deps.Schedule; s != nil {
		if next := s.NextRun(); !next.IsZero() {
			backupInfo["next_run"] = next
		}
	}
	response["backup"] = backupInfo

	c.JSON(http.StatusOK, response)
}

func (h *handler) backups(c *gin.Context) {
	if h.deps.History == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "backup history is disabled"})
		return
	}

	limit, err := queryInt(c, "limit", 50)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	records, err := h.deps.History.List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load backup history"})
		return
	}
	if records == nil {
		records = []backup.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"backups": records})
}

func (h *handler) console(c *gin.Context) {
	if h.deps.Console == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "console capture is disabled"})
		return
	}

	lines, err := queryInt(c, "lines", 100)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	filter, err := console.NewOutputFilter(c.Query("filter"), c.Query("q"), c.Query("case") == "true")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	output := filter.FilterLines(h.deps.Console.GetLines())
	if lines > 0 && len(output) > lines {
		output = output[len(output)-lines:]
	}
	c.JSON(http.StatusOK, gin.H{"lines": output})
}

func queryInt(c *gin.Context, name string, fallback int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return value, nil
}
