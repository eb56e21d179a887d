// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"sync"
	"time"

	"github.com/crewforge/crewd/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	initOnce sync.Once

	runsTotalCounter         *prometheus.CounterVec
	nodeExecutionDurationVec *prometheus.HistogramVec
	runEventsAppendedCounter *prometheus.CounterVec
	deltaFlushesCounter      prometheus.Counter
	workerClaimLatencyHist   prometheus.Histogram
)

// Init registers metrics on the default Prometheus registry exactly once.
func Init() {
	initOnce.Do(func() {
		runsTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runs_total",
				Help: "Total number of run status transitions by status.",
			},
			[]string{"status"},
		)

		nodeExecutionDurationVec = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "node_execution_duration_seconds",
				Help:    "Duration of workflow node executions in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"node"},
		)

		runEventsAppendedCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "run_events_appended_total",
				Help: "Total number of run events appended by type.",
			},
			[]string{"type"},
		)

		deltaFlushesCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "delta_flushes_total",
				Help: "Total number of coalesced streaming delta flushes.",
			},
		)

		workerClaimLatencyHist = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "worker_claim_latency_seconds",
				Help:    "Latency of worker run claim queries in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		)

		prometheus.MustRegister(
			runsTotalCounter,
			nodeExecutionDurationVec,
			runEventsAppendedCounter,
			deltaFlushesCounter,
			workerClaimLatencyHist,
		)

		// Ensure counter vectors are visible at /metrics before first increment.
		for _, status := range []domain.RunStatus{
			domain.RunQueued,
			domain.RunRunning,
			domain.RunPaused,
			domain.RunSucceeded,
			domain.RunFailed,
			domain.RunCanceled,
		} {
			runsTotalCounter.WithLabelValues(string(status))
		}
	})
}

func IncRunStatus(status string) {
	Init()
	runsTotalCounter.WithLabelValues(status).Inc()
}

func ObserveNodeDuration(node string, d time.Duration) {
	Init()
	nodeExecutionDurationVec.WithLabelValues(node).Observe(d.Seconds())
}

func IncEventAppended(eventType string) {
	Init()
	runEventsAppendedCounter.WithLabelValues(eventType).Inc()
}

func IncDeltaFlush() {
	Init()
	deltaFlushesCounter.Inc()
}

func ObserveWorkerClaimLatency(d time.Duration) {
	Init()
	workerClaimLatencyHist.Observe(d.Seconds())
}
