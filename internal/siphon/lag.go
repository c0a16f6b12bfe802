package siphon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

// LagMonitor periodically publishes the group's total record lag. It
// shares the consumer's client, so a broker outage surfaces in the
// sample error rather than a second connection pool.
type LagMonitor struct {
	admin    *kadm.Client
	group    string
	topics   []string
	interval time.Duration
	gauge    prometheus.Gauge
	logger   *slog.Logger
}

func NewLagMonitor(client *kgo.Client, group string, topics []string, interval time.Duration, gauge prometheus.Gauge, logger *slog.Logger) *LagMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &LagMonitor{
		admin:    kadm.NewClient(client),
		group:    group,
		topics:   topics,
		interval: interval,
		gauge:    gauge,
		logger:   logger,
	}
}

// Run samples on a fixed interval until ctx ends. Sample failures are
// logged and skipped; the gauge keeps its last good value.
func (m *LagMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			lag, err := m.sample(ctx)
			if err != nil {
				m.logger.Warn("consumer lag sample failed", "group", m.group, "error", err)
				continue
			}
			m.gauge.Set(float64(lag))
		}
	}
}

// sample sums, across all partitions of the monitored topics, the
// distance between the group's committed offset and the log end. A
// partition the group has not committed yet counts from offset zero.
func (m *LagMonitor) sample(ctx context.Context) (int64, error) {
	committed, err := m.admin.FetchOffsets(ctx, m.group)
	if err != nil {
		return 0, fmt.Errorf("fetch committed offsets: %w", err)
	}
	ends, err := m.admin.ListEndOffsets(ctx, m.topics...)
	if err != nil {
		return 0, fmt.Errorf("list end offsets: %w", err)
	}

	var total int64
	for topic, partitions := range ends {
		for partition, end := range partitions {
			if end.Err != nil {
				continue
			}
			var at int64
			if resp, ok := committed.Lookup(topic, partition); ok && resp.Err == nil && resp.At > 0 {
				at = resp.At
			}
			if end.Offset > at {
				total += end.Offset - at
			}
		}
	}
	return total, nil
}
