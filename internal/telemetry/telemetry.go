// Package telemetry carries the structured logging and Prometheus metrics
// that every component of hydra reports through, in the style of
// go/runtime's logrus.WithFields(...) call sites and promauto metric
// registration.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

// Logger wraps a *logrus.Entry pre-populated with the application name and
// worker id, so every log line a component emits carries them without
// each call site having to repeat itself.
type Logger struct {
	*logrus.Entry
}

// NewLogger returns a Logger scoped to the given application and worker.
func NewLogger(applicationName, workerID string) *Logger {
	return &Logger{
		Entry: logrus.WithFields(logrus.Fields{
			"application_name": applicationName,
			"worker_id":        workerID,
		}),
	}
}

// With returns a derived Logger with additional fields, matching the
// logrus.WithFields(logrus.Fields{...}) idiom used throughout the teacher's
// runtime package.
func (l *Logger) With(fields logrus.Fields) *Logger {
	return &Logger{Entry: l.Entry.WithFields(fields)}
}

var (
	// HeartbeatsTotal counts registration heartbeats by result (ok|error).
	HeartbeatsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hydra_heartbeats_total",
		Help: "count of client registry heartbeat attempts, by result",
	}, []string{"result"})

	// RebalancePassesTotal counts rebalance ticks by result (ok|error).
	RebalancePassesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hydra_rebalance_passes_total",
		Help: "count of rebalance passes, by result",
	}, []string{"result"})

	// OwnedShards reports the current count of shards owned by this worker.
	OwnedShards = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hydra_owned_shards",
		Help: "number of shards currently owned by this worker",
	})

	// LivePeers reports the current count of live peers observed by the
	// last rebalance pass.
	LivePeers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hydra_live_peers",
		Help: "number of live peers observed in the last rebalance pass",
	})

	// OutputChannelDepth reports the current depth of the bounded output
	// channel.
	OutputChannelDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hydra_output_channel_depth",
		Help: "current number of buffered records in the output channel",
	})

	// RebalanceDuration measures the wall time of a rebalance pass.
	RebalanceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hydra_rebalance_duration_seconds",
		Help:    "wall time of a rebalance pass",
		Buckets: prometheus.DefBuckets,
	})
)
