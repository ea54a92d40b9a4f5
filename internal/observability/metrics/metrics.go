package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "tpvfleet_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	commandsQueued  prometheus.Counter
	commandSends    *prometheus.CounterVec
	commandResults  *prometheus.CounterVec
	commandLatency  *prometheus.HistogramVec
	deliverySkips   prometheus.Counter
	bulkOperations  *prometheus.CounterVec
	sweepRuns       *prometheus.CounterVec
	observerPushes  *prometheus.CounterVec
	deviceEventLag  prometheus.Gauge
	queueDepthGauge *prometheus.GaugeVec
)

// Init registers command orchestration metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		commandsQueued = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "commands_queued_total",
				Help: "Total commands accepted into the queue",
			},
		)
		commandSends = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "command_sends_total",
				Help: "Total delivery attempts by result",
			},
			[]string{"result"},
		)
		commandResults = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "command_results_total",
				Help: "Total resolved commands by terminal status",
			},
			[]string{"status"},
		)
		commandLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "command_resolution_seconds",
				Help:    "Queue-to-resolution latency in seconds",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
			},
			[]string{"status"},
		)
		deliverySkips = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "delivery_skips_total",
				Help: "Deliveries skipped because attempts reached max",
			},
		)
		bulkOperations = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "bulk_operations_total",
				Help: "Bulk operations by final status",
			},
			[]string{"status"},
		)
		sweepRuns = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "sweep_runs_total",
				Help: "Sweep executions by kind and result",
			},
			[]string{"kind", "result"},
		)
		observerPushes = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "observer_pushes_total",
				Help: "Observer notifications by sink and result",
			},
			[]string{"sink", "result"},
		)
		deviceEventLag = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "device_event_lag_seconds",
				Help: "Age of the last consumed device lifecycle event",
			},
		)
		queueDepthGauge = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "queue_depth",
				Help: "Commands currently in a non-terminal status",
			},
			[]string{"status"},
		)

		prometheus.MustRegister(
			commandsQueued,
			commandSends,
			commandResults,
			commandLatency,
			deliverySkips,
			bulkOperations,
			sweepRuns,
			observerPushes,
			deviceEventLag,
			queueDepthGauge,
		)

		if db != nil {
			registerQueueDepth(db, logger)
		}
	})
}

// IncCommandQueued increments the queued command counter.
func IncCommandQueued() {
	if commandsQueued != nil {
		commandsQueued.Inc()
	}
}

// IncCommandSend records one delivery attempt.
func IncCommandSend(result string) {
	if result == "" {
		result = resultSuccess
	}
	if commandSends != nil {
		commandSends.WithLabelValues(result).Inc()
	}
}

// IncCommandResult increments the resolved command counter.
func IncCommandResult(status string) {
	if status == "" {
		status = "unknown"
	}
	if commandResults != nil {
		commandResults.WithLabelValues(status).Inc()
	}
}

// ObserveCommandResolution records queue-to-resolution latency.
func ObserveCommandResolution(status string, elapsed time.Duration) {
	if status == "" {
		status = "unknown"
	}
	if commandLatency != nil && elapsed >= 0 {
		commandLatency.WithLabelValues(status).Observe(elapsed.Seconds())
	}
}

// IncDeliverySkip counts a send skipped at the max-attempts bound.
func IncDeliverySkip() {
	if deliverySkips != nil {
		deliverySkips.Inc()
	}
}

// IncBulkOperation increments the bulk operation counter.
func IncBulkOperation(status string) {
	if status == "" {
		status = "unknown"
	}
	if bulkOperations != nil {
		bulkOperations.WithLabelValues(status).Inc()
	}
}

// IncSweepRun records one sweep execution.
func IncSweepRun(kind, result string) {
	if kind == "" {
		kind = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if sweepRuns != nil {
		sweepRuns.WithLabelValues(kind, result).Inc()
	}
}

// IncObserverPush records an observer notification outcome.
func IncObserverPush(sink, result string) {
	if sink == "" {
		sink = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if observerPushes != nil {
		observerPushes.WithLabelValues(sink, result).Inc()
	}
}

// SetDeviceEventLag sets the device event consumer lag.
func SetDeviceEventLag(lag time.Duration) {
	if lag < 0 {
		lag = 0
	}
	if deviceEventLag != nil {
		deviceEventLag.Set(lag.Seconds())
	}
}

func registerQueueDepth(db *sql.DB, logger *log.Logger) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			rows, err := db.Query(`
SELECT status, COUNT(*)
FROM commands
WHERE status IN ('pending', 'queued', 'sent', 'received', 'executing')
GROUP BY status`)
			if err != nil {
				if logger != nil {
					logger.Printf("queue depth query error: %v", err)
				}
				continue
			}
			depths := map[string]float64{}
			for rows.Next() {
				var status string
				var count float64
				if err := rows.Scan(&status, &count); err == nil {
					depths[status] = count
				}
			}
			_ = rows.Close()
			for _, status := range []string{"pending", "queued", "sent", "received", "executing"} {
				queueDepthGauge.WithLabelValues(status).Set(depths[status])
			}
		}
	}()
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
