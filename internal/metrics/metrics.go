package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// backupsTotal counts finished snapshots by result and trigger
	backupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worldkeeper_backups_total",
			Help: "Total world snapshots by result and trigger",
		},
		[]string{"result", "trigger"},
	)

	backupDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "worldkeeper_backup_duration_seconds",
			Help:    "Time spent taking a world snapshot",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
	)

	// snapshotBytes is the uncompressed size of the last successful snapshot
	snapshotBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "worldkeeper_snapshot_bytes",
			Help: "Uncompressed size of the most recent successful snapshot",
		},
	)

	commandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worldkeeper_commands_total",
			Help: "Privileged commands dispatched by kind and source",
		},
		[]string{"kind", "source"},
	)

	// deniedCommands counts chat commands from users without rights
	deniedCommands = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "worldkeeper_denied_commands_total",
			Help: "Chat commands ignored because the sender is not a super user",
		},
	)

	consoleLines = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "worldkeeper_console_lines_total",
			Help: "Output lines read from the server process",
		},
	)

	childUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "worldkeeper_server_up",
			Help: "Whether the supervised server process is running",
		},
	)
)

// RecordBackup records the outcome of a snapshot
func RecordBackup(result, trigger string, duration time.Duration, size int64) {
	backupsTotal.WithLabelValues(result, trigger).Inc()
	backupDuration.Observe(duration.Seconds())
	if result == "success" {
		snapshotBytes.Set(float64(size))
	}
}

// RecordCommand increments the dispatched command counter
func RecordCommand(kind, source string) {
	commandsTotal.WithLabelValues(kind, source).Inc()
}

// RecordDenied increments the denied chat command counter
func RecordDenied() {
	deniedCommands.Inc()
}

// RecordConsoleLine increments the console line counter
func RecordConsoleLine() {
	consoleLines.Inc()
}

// SetServerUp updates the process liveness gauge
func SetServerUp(up bool) {
	if up {
		childUp.Set(1)
		return
	}
	childUp.Set(0)
}

// Handler exposes the default registry in the Prometheus text format
func Handler() http.Handler {
	return promhttp.Handler()
}
