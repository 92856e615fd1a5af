package publisher

import (
	"context"
	"log/slog"
	"time"

	"github.com/fjod/storefront/internal/metrics"
	"github.com/fjod/storefront/internal/repository"
	"github.com/fjod/storefront/pkg/circuitbreaker"
	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker/v2"
)

const DefaultTopic = "storefront-orders"

type OutboxStore interface {
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*repository.OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id int64) error
	DeleteProcessedEvents(ctx context.Context, before time.Time) (int64, error)
}

// messageWriter is the part of *kafka.Writer the poller uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Config struct {
	EventTick   time.Duration
	CleanupTick time.Duration
	// processed events older than this are deleted
	Retention time.Duration
	BatchSize int
	// per write
	Timeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		EventTick:   time.Second,
		CleanupTick: time.Hour,
		Retention:   7 * 24 * time.Hour,
		BatchSize:   100,
		Timeout:     5 * time.Second,
	}
}

// OutboxPoller publishes order events written by the services to Kafka, keyed by order id
// so that events of one order stay in one partition.
type OutboxPoller struct {
	cfg     Config
	repo    OutboxStore
	writer  messageWriter
	breaker *gobreaker.CircuitBreaker[struct{}]
	metrics *metrics.Metrics
	log     *slog.Logger
}

func NewKafkaWriter(topic string, brokers ...string) *kafka.Writer {
	if topic == "" {
		topic = DefaultTopic
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll,
	}
}

func NewOutboxPoller(repo OutboxStore, writer messageWriter, cfg Config, m *metrics.Metrics, log *slog.Logger) *OutboxPoller {
	def := DefaultConfig()
	if cfg.EventTick <= 0 {
		cfg.EventTick = def.EventTick
	}
	if cfg.CleanupTick <= 0 {
		cfg.CleanupTick = def.CleanupTick
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	log = log.With("component", "outbox")
	return &OutboxPoller{
		cfg:     cfg,
		repo:    repo,
		writer:  writer,
		breaker: circuitbreaker.New[struct{}](circuitbreaker.DefaultConfig("kafka-outbox"), log),
		metrics: m,
		log:     log,
	}
}

func (p *OutboxPoller) Run(ctx context.Context) {
	eventTicker := time.NewTicker(p.cfg.EventTick)
	cleanupTicker := time.NewTicker(p.cfg.CleanupTick)
	defer eventTicker.Stop()
	defer cleanupTicker.Stop()

	p.log.Info("outbox poller started", "interval", p.cfg.EventTick.String())
	for {
		select {
		case <-eventTicker.C:
			p.processUnpublishedEvents(ctx)
		case <-cleanupTicker.C:
			p.cleanup(ctx)
		case <-ctx.Done():
			p.log.Info("outbox poller stopped")
			return
		}
	}
}

func (p *OutboxPoller) Close() error {
	return p.writer.Close()
}

func (p *OutboxPoller) processUnpublishedEvents(ctx context.Context) {
	events, err := p.repo.GetUnprocessedEvents(ctx, p.cfg.BatchSize)
	if err != nil {
		p.log.ErrorContext(ctx, "failed to fetch events", "error", err)
		return
	}

	for _, event := range events {
		if err := p.publish(ctx, event); err != nil {
			p.record(event.EventType, "error")
			if circuitbreaker.IsOpen(err) {
				p.log.WarnContext(ctx, "kafka unavailable, pausing outbox", "event_id", event.ID)
			} else {
				p.log.ErrorContext(ctx, "failed to publish event", "event_id", event.ID, "error", err)
			}
			// stop the batch so later events of the same order never overtake this one
			return
		}

		if err := p.repo.MarkEventAsProcessed(ctx, event.ID); err != nil {
			// published twice at worst; consumers dedupe on event_id
			p.log.ErrorContext(ctx, "failed to mark event as processed", "event_id", event.ID, "error", err)
			return
		}
		p.record(event.EventType, "published")
	}
}

func (p *OutboxPoller) publish(ctx context.Context, event *repository.OutboxEvent) error {
	_, err := p.breaker.Execute(func() (struct{}, error) {
		ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()

		return struct{}{}, p.writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(event.AggregateId), // order id for ordering
			Value: event.Payload,             // already JSON from database
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(event.EventType)},
				{Key: "event_id", Value: []byte(event.EventID.String())},
			},
			Time: event.CreatedAt,
		})
	})
	return err
}

func (p *OutboxPoller) cleanup(ctx context.Context) {
	n, err := p.repo.DeleteProcessedEvents(ctx, time.Now().Add(-p.cfg.Retention))
	if err != nil {
		p.log.ErrorContext(ctx, "failed to prune outbox", "error", err)
		return
	}
	if n > 0 {
		p.log.InfoContext(ctx, "outbox pruned", "deleted", n)
	}
}

func (p *OutboxPoller) record(eventType, result string) {
	if p.metrics != nil {
		p.metrics.OutboxPublished.WithLabelValues(eventType, result).Inc()
	}
}
