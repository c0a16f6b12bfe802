package siphon

//go:generate mockgen -source=engine.go -destination=mocks/mocks.go -package=mocks CorrStore,EventStore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"spectralog/internal/corrstore"
	"spectralog/internal/jsonlog"
	"spectralog/internal/platform/kafka/consumer"
	"spectralog/internal/platform/metrics"
)

// CorrStore receives correlated entries.
type CorrStore interface {
	Append(ctx context.Context, e *corrstore.Entry) error
}

// EventStore receives event records and parked error records.
type EventStore interface {
	Append(ctx context.Context, ev jsonlog.Event) error
	AppendError(ctx context.Context, rec jsonlog.ErrorRecord) error
}

// parkNamespace keys error-record ids off a record's coordinates, so a
// redelivered record parks onto the row it already produced.
var parkNamespace = uuid.MustParse("1b4e2f76-9c1d-4a57-8e42-6d05c2a0b9f1")

// writeAttemptTimeout bounds a single store write. An attempt already
// in flight during shutdown runs to this bound; the retry loop itself
// stops at cancellation.
const writeAttemptTimeout = 30 * time.Second

// Config tunes the engine.
type Config struct {
	// StructuredTopic decodes into correlated entries; every other
	// topic decodes into event records.
	StructuredTopic string
	BackoffMin      time.Duration
	BackoffMax      time.Duration
}

// Engine is the per-record pipeline: decode by topic, write to the
// matching store, park what cannot decode. It implements
// consumer.Handler; the consumer loop owns polling and commits, so a
// nil return here is what advances the partition.
type Engine struct {
	cfg     Config
	corr    CorrStore
	events  EventStore
	decoder *Decoder
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewEngine(cfg Config, corr CorrStore, events EventStore, m *metrics.Metrics, logger *slog.Logger) (*Engine, error) {
	if corr == nil {
		return nil, fmt.Errorf("correlated store is required")
	}
	if events == nil {
		return nil, fmt.Errorf("event store is required")
	}
	if cfg.StructuredTopic == "" {
		return nil, fmt.Errorf("structured topic is required")
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = 200 * time.Millisecond
	}
	if cfg.BackoffMax < cfg.BackoffMin {
		cfg.BackoffMax = 30 * time.Second
	}
	return &Engine{
		cfg:     cfg,
		corr:    corr,
		events:  events,
		decoder: NewDecoder(logger),
		metrics: m,
		logger:  logger,
	}, nil
}

// Handle moves one record through decode, route, write. Decode failures
// park the record and return nil so consumption advances; write
// failures block in writeWithRetry instead, which is the backpressure
// that stops the loop from polling past an unavailable store.
func (e *Engine) Handle(ctx context.Context, msg *consumer.Message) error {
	e.metrics.RecordsConsumed.Inc()

	if msg.Topic == e.cfg.StructuredTopic {
		entry, err := e.decoder.Inquiry(msg)
		if err != nil {
			return e.park(ctx, msg, err)
		}
		return e.writeWithRetry(ctx, msg, func(ctx context.Context) error {
			return e.corr.Append(ctx, entry)
		})
	}

	ev, err := e.decoder.Generic(msg)
	if err != nil {
		return e.park(ctx, msg, err)
	}
	return e.writeWithRetry(ctx, msg, func(ctx context.Context) error {
		return e.events.Append(ctx, *ev)
	})
}

// park records a decode failure in the error stream. The park is itself
// a destination write and must land before the record is acknowledged.
func (e *Engine) park(ctx context.Context, msg *consumer.Message, cause error) error {
	e.metrics.DecodeFailures.Inc()
	e.logger.Warn("record failed to decode, parking",
		"topic", msg.Topic,
		"partition", msg.Partition,
		"offset", msg.Offset,
		"error", cause,
	)

	ts := msg.Timestamp.UTC()
	if ts.IsZero() || ts.Unix() <= 0 {
		ts = time.Now().UTC()
	}
	rec := jsonlog.ErrorRecord{
		ID:      parkID(msg),
		Time:    ts,
		Topic:   msg.Topic,
		Source:  fmt.Sprintf("%s@%d", msg.Topic, msg.Partition),
		Payload: append([]byte(nil), msg.Value...),
		Error:   cause.Error(),
	}
	return e.writeWithRetry(ctx, msg, func(ctx context.Context) error {
		return e.events.AppendError(ctx, rec)
	})
}

// parkID derives a stable id from the record's coordinates so a
// redelivered record lands on its existing error row.
func parkID(msg *consumer.Message) uuid.UUID {
	return uuid.NewSHA1(parkNamespace, []byte(fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)))
}

// writeWithRetry blocks until the write lands or ctx ends, backing off
// exponentially between attempts up to the configured cap. An attempt
// already started is allowed to finish during shutdown.
func (e *Engine) writeWithRetry(ctx context.Context, msg *consumer.Message, write func(context.Context) error) error {
	backoff := e.cfg.BackoffMin
	for attempt := 1; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeAttemptTimeout)
		err := write(attemptCtx)
		cancel()
		if err == nil {
			if attempt > 1 {
				e.logger.Info("destination write recovered",
					"topic", msg.Topic,
					"partition", msg.Partition,
					"offset", msg.Offset,
					"attempts", attempt,
				)
			}
			e.metrics.RecordsWritten.Inc()
			return nil
		}

		e.metrics.WriteFailures.Inc()
		e.logger.Error("destination write failed",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > e.cfg.BackoffMax {
			backoff = e.cfg.BackoffMax
		}
	}
}
