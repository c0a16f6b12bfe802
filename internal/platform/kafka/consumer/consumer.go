// Package consumer wraps a franz-go group consumer behind a small
// handler interface with manual, write-then-acknowledge offset commits.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// commitTimeout bounds the post-write offset commit.
const commitTimeout = 10 * time.Second

// Message is one record handed to a Handler. Offsets for it are
// committed only after the handler returns nil.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
}

// Handler processes one message. Returning nil acknowledges the record;
// returning an error stops the consumer without committing, so the
// record is redelivered. Handlers decide internally which failures are
// worth parking versus blocking on.
type Handler interface {
	Handle(ctx context.Context, msg *Message) error
}

// Config selects the brokers, group, and topic set to consume.
type Config struct {
	Brokers  []string
	Group    string
	Topics   []string
	ClientID string
}

// Option adjusts consumer construction.
type Option func(*Consumer)

// WithPollHook registers a callback invoked after every poll with the
// number of fetched records, including zero. Used for liveness gauges.
func WithPollHook(fn func(records int)) Option {
	return func(c *Consumer) { c.pollHook = fn }
}

// WithCommitHook registers a callback invoked after every successful
// offset commit.
func WithCommitHook(fn func()) Option {
	return func(c *Consumer) { c.commitHook = fn }
}

// Consumer is a single-loop group consumer. Records are handled one at
// a time in partition order; the loop does not poll further while a
// handler blocks, which is the intended backpressure.
type Consumer struct {
	client     *kgo.Client
	handler    Handler
	logger     *slog.Logger
	pollHook   func(int)
	commitHook func()
}

// New connects a group consumer with auto-commit disabled.
func New(cfg Config, handler Handler, logger *slog.Logger, opts ...Option) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers configured")
	}
	if len(cfg.Topics) == 0 {
		return nil, fmt.Errorf("no topics configured")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.ClientID(cfg.ClientID),
		kgo.DisableAutoCommit(),
		kgo.BlockRebalanceOnPoll(),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	c := &Consumer{
		client:  client,
		handler: handler,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Client exposes the underlying client for admin use (lag monitoring).
func (c *Consumer) Client() *kgo.Client { return c.client }

// Run polls and dispatches until ctx is canceled or a handler fails.
// Each record is committed individually right after its handler returns
// nil, so a crash never acknowledges an unwritten record.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.client.Close()

	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			c.logger.Warn("fetch error",
				"topic", topic,
				"partition", partition,
				"error", err,
			)
		})

		if c.pollHook != nil {
			c.pollHook(fetches.NumRecords())
		}

		for iter := fetches.RecordIter(); !iter.Done(); {
			rec := iter.Next()

			// Stop between records on shutdown; only the record whose
			// handling already began gets to finish.
			if err := ctx.Err(); err != nil {
				return err
			}

			msg := Message{
				Topic:     rec.Topic,
				Partition: rec.Partition,
				Offset:    rec.Offset,
				Key:       rec.Key,
				Value:     rec.Value,
				Timestamp: rec.Timestamp,
			}

			if err := c.handler.Handle(ctx, &msg); err != nil {
				return fmt.Errorf("handle %s[%d]@%d: %w", rec.Topic, rec.Partition, rec.Offset, err)
			}

			// The commit outlives cancellation, bounded: a record the
			// handler already wrote must not be left unacknowledged by
			// a shutdown race. Redelivery would be harmless, this just
			// avoids it.
			commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
			err := c.client.CommitRecords(commitCtx, rec)
			cancel()
			if err != nil {
				return fmt.Errorf("commit %s[%d]@%d: %w", rec.Topic, rec.Partition, rec.Offset, err)
			}
			if c.commitHook != nil {
				c.commitHook()
			}
		}

		c.client.AllowRebalance()
	}
}
