package kafka

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// handlerAttempts bounds retries of a failing handler before the message is
// committed and skipped.
const handlerAttempts = 3

type Handler func(ctx context.Context, event *Event) error

type ConsumerConfig struct {
	Brokers  []string
	GroupID  string
	Topic    string
	MinBytes int
	MaxBytes int
}

type Consumer struct {
	reader    *kafka.Reader
	handler   Handler
	logger    *slog.Logger
	topic     string
	group     string
	closeOnce sync.Once
	backoff   time.Duration
}

func NewConsumer(cfg ConsumerConfig, handler Handler, logger *slog.Logger) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			GroupID:  cfg.GroupID,
			Topic:    cfg.Topic,
			MinBytes: cfg.MinBytes,
			MaxBytes: cfg.MaxBytes,
		}),
		handler: handler,
		logger:  logger,
		topic:   cfg.Topic,
		group:   cfg.GroupID,
		backoff: 100 * time.Millisecond,
	}
}

// Start consumes until ctx is canceled.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started", slog.String("topic", c.topic), slog.String("group", c.group))

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", slog.String("topic", c.topic))
				return c.Close()
			}
			c.logger.Error("fetch message failed", slog.String("error", err.Error()))
			continue
		}
		consumerReceived.WithLabelValues(c.topic, c.group).Inc()

		c.process(ctx, msg.Value)

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("commit message failed",
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.String("error", err.Error()),
			)
		}
	}
}

// process decodes and handles one payload. It never returns an error: bad
// payloads and handlers that keep failing are logged and skipped.
func (c *Consumer) process(ctx context.Context, payload []byte) {
	event, err := UnmarshalEvent(payload)
	if err != nil {
		consumerFailed.WithLabelValues(c.topic, c.group).Inc()
		c.logger.Error("undecodable message skipped", slog.String("topic", c.topic), slog.String("error", err.Error()))
		return
	}

	start := time.Now()
	defer func() {
		consumerDuration.WithLabelValues(c.topic, c.group).Observe(time.Since(start).Seconds())
	}()

	for attempt := 1; attempt <= handlerAttempts; attempt++ {
		err = c.handler(ctx, event)
		if err == nil {
			consumerProcessed.WithLabelValues(c.topic, c.group).Inc()
			return
		}
		c.logger.Warn("handler failed",
			slog.String("event_type", event.EventType),
			slog.String("aggregate_id", event.AggregateID),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		if attempt == handlerAttempts {
			break
		}
		t := time.NewTimer(time.Duration(attempt) * c.backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}

	consumerFailed.WithLabelValues(c.topic, c.group).Inc()
	c.logger.Error("handler gave up, skipping message",
		slog.String("event_id", event.EventID),
		slog.String("event_type", event.EventType),
		slog.String("error", err.Error()),
	)
}

func (c *Consumer) Close() error {
	var err error
	c.closeOnce.Do(func() { err = c.reader.Close() })
	return err
}
