package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the ingestion process.
type Metrics struct {
	RecordsConsumed prometheus.Counter
	RecordsWritten  prometheus.Counter
	DecodeFailures  prometheus.Counter
	WriteFailures   prometheus.Counter
	Commits         prometheus.Counter
	LastPoll        prometheus.Gauge
	ConsumerLag     prometheus.Gauge
}

// New creates all metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in the binary; tests use a fresh
// registry per case.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RecordsConsumed: factory.NewCounter(prometheus.CounterOpts{
			Name: "spectralog_siphon_records_consumed_total",
			Help: "Total number of records fetched from the event log",
		}),
		RecordsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "spectralog_siphon_records_written_total",
			Help: "Total number of records durably written to a destination store",
		}),
		DecodeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "spectralog_siphon_decode_failures_total",
			Help: "Total number of records parked in the error stream after a decode failure",
		}),
		WriteFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "spectralog_siphon_write_failures_total",
			Help: "Total number of failed destination write attempts",
		}),
		Commits: factory.NewCounter(prometheus.CounterOpts{
			Name: "spectralog_siphon_commits_total",
			Help: "Total number of offsets committed back to the event log",
		}),
		LastPoll: factory.NewGauge(prometheus.GaugeOpts{
			Name: "spectralog_siphon_last_poll_unix_seconds",
			Help: "Unix time of the most recent consumer poll, as a liveness heartbeat",
		}),
		ConsumerLag: factory.NewGauge(prometheus.GaugeOpts{
			Name: "spectralog_siphon_consumer_lag_records",
			Help: "Records between the group's committed offsets and the log end",
		}),
	}
}
