// Package nats ingests captured agent bus messages from a NATS JetStream
// durable consumer.
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/tjfontaine/a2a-lens/internal/core/domain"
)

// Config holds the JetStream connection and consumer settings.
type Config struct {
	URL     string
	Token   string
	Stream  string
	Subject string
	Durable string
	AckWait time.Duration
}

// RawPublisher decodes and stores one captured message.
type RawPublisher interface {
	PublishRaw(ctx context.Context, data []byte) (*domain.Event, error)
}

type disposition int

const (
	dispositionAck disposition = iota
	dispositionNak
	dispositionTerm
)

func (d disposition) String() string {
	switch d {
	case dispositionAck:
		return "ack"
	case dispositionNak:
		return "nak"
	default:
		return "term"
	}
}

// Consumer feeds JetStream messages into a RawPublisher.
type Consumer struct {
	cfg       Config
	publisher RawPublisher
	logger    *slog.Logger

	conn *nats.Conn
	js   jetstream.JetStream
	cc   jetstream.ConsumeContext
}

// Connect establishes a connection to the NATS server.
func Connect(cfg Config, publisher RawPublisher, logger *slog.Logger) (*Consumer, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts := []nats.Option{
		nats.Name("a2a-lens"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	return &Consumer{cfg: cfg, publisher: publisher, logger: logger, conn: nc, js: js}, nil
}

// Start ensures the stream and durable consumer exist and begins
// consuming. Messages are handled with ctx until Close is called.
func (c *Consumer) Start(ctx context.Context) error {
	stream, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        c.cfg.Stream,
		Subjects:    []string{c.cfg.Subject},
		Retention:   jetstream.LimitsPolicy,
		Storage:     jetstream.FileStorage,
		Description: "Captured A2A agent bus messages",
	})
	if err != nil {
		return fmt.Errorf("failed to ensure stream %s: %w", c.cfg.Stream, err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       c.cfg.Durable,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       c.cfg.AckWait,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		FilterSubject: c.cfg.Subject,
	})
	if err != nil {
		return fmt.Errorf("failed to ensure consumer %s: %w", c.cfg.Durable, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		d := c.process(ctx, msg.Subject(), msg.Data())
		var ackErr error
		switch d {
		case dispositionAck:
			ackErr = msg.Ack()
		case dispositionNak:
			ackErr = msg.Nak()
		case dispositionTerm:
			ackErr = msg.Term()
		}
		if ackErr != nil {
			c.logger.Warn("failed to acknowledge message",
				slog.String("subject", msg.Subject()),
				slog.String("disposition", d.String()),
				slog.String("error", ackErr.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	c.cc = cc

	c.logger.Info("NATS ingest started",
		slog.String("stream", c.cfg.Stream),
		slog.String("subject", c.cfg.Subject),
		slog.String("durable", c.cfg.Durable))
	return nil
}

// process stores one message and decides how to acknowledge it: a message
// that cannot be decoded will never succeed and is terminated, while a
// storage failure is redelivered.
func (c *Consumer) process(ctx context.Context, subject string, data []byte) disposition {
	ev, err := c.publisher.PublishRaw(ctx, data)
	switch {
	case err == nil:
		c.logger.Debug("ingested message",
			slog.String("subject", subject),
			slog.String("event_id", ev.EventID),
			slog.String("task_id", ev.TaskID))
		return dispositionAck
	case errors.Is(err, domain.ErrMalformedEvent):
		c.logger.Warn("dropping malformed message",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
		return dispositionTerm
	default:
		c.logger.Error("failed to store message",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
		return dispositionNak
	}
}

// Close stops consuming and drains the connection.
func (c *Consumer) Close() error {
	if c.cc != nil {
		c.cc.Stop()
	}
	if c.conn != nil {
		return c.conn.Drain()
	}
	return nil
}
