// Package amqp publishes stored audit entries to RabbitMQ so that review
// tooling can consume them without reading the audit table.
//
// The sink is fed by the engine's audit dispatcher after each entry is
// durably stored. A failed publish is logged and counted; it never affects
// the audited operation.
package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/MrEthical07/authcore"
)

// DefaultQueue is declared when Config.Queue is empty.
const DefaultQueue = "authcore_audit_events"

// Publisher is the subset of *amqp.Channel the sink needs.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Config selects where entries go. With an empty Exchange entries are
// published to Queue through the default exchange; otherwise the routing key
// is "audit.<action>.<severity>".
type Config struct {
	URL            string
	Exchange       string
	Queue          string
	PublishTimeout time.Duration
}

// Sink implements authcore.AuditSink.
type Sink struct {
	pub       Publisher
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
	published atomic.Uint64
	failed    atomic.Uint64
	closer    func() error
}

var _ authcore.AuditSink = (*Sink)(nil)

// NewSink wraps an existing channel.
func NewSink(pub Publisher, cfg Config, logger *slog.Logger) *Sink {
	if cfg.Queue == "" {
		cfg.Queue = DefaultQueue
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{pub: pub, cfg: cfg, logger: logger, now: time.Now}
}

// Dial connects to cfg.URL, declares the durable queue (or topic exchange)
// and returns a sink owning the connection.
func Dial(cfg Config, logger *slog.Logger) (*Sink, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("amqp: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp: channel: %w", err)
	}
	s := NewSink(ch, cfg, logger)
	if err := s.declare(ch); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	s.closer = func() error {
		_ = ch.Close()
		return conn.Close()
	}
	return s, nil
}

func (s *Sink) declare(ch *amqp.Channel) error {
	if s.cfg.Exchange != "" {
		if err := ch.ExchangeDeclare(s.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("amqp: declare exchange: %w", err)
		}
	}
	if _, err := ch.QueueDeclare(s.cfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("amqp: declare queue: %w", err)
	}
	if s.cfg.Exchange != "" {
		if err := ch.QueueBind(s.cfg.Queue, "audit.#", s.cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("amqp: bind queue: %w", err)
		}
	}
	return nil
}

func (s *Sink) routingKey(e authcore.AuditEntry) string {
	if s.cfg.Exchange == "" {
		return s.cfg.Queue
	}
	return "audit." + e.Action + "." + string(e.Severity)
}

// Emit publishes e as a persistent JSON message.
func (s *Sink) Emit(ctx context.Context, e authcore.AuditEntry) {
	body, err := json.Marshal(e)
	if err != nil {
		s.failed.Add(1)
		s.logger.Error("audit publish encode failed", "audit_id", e.ID, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.PublishTimeout)
	defer cancel()

	err = s.pub.PublishWithContext(ctx, s.cfg.Exchange, s.routingKey(e), false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    e.ID,
		Type:         e.Action,
		Timestamp:    s.now(),
		Body:         body,
	})
	if err != nil {
		s.failed.Add(1)
		s.logger.Warn("audit publish failed", "audit_id", e.ID, "action", e.Action, "error", err)
		return
	}
	s.published.Add(1)
}

// Published and Failed count Emit outcomes.
func (s *Sink) Published() uint64 { return s.published.Load() }
func (s *Sink) Failed() uint64    { return s.failed.Load() }

// Close releases the connection opened by Dial. It is a no-op for sinks
// built with NewSink.
func (s *Sink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
