package outbox

import (
	"context"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
)

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type RelayConfig struct {
	PollEvery time.Duration
	BatchSize int
}

// Relay polls unpublished records and writes them to Kafka, one topic per
// event type, keyed by appointment id so per-appointment order holds.
type Relay struct {
	db        db.DB
	repo      *Repository
	writer    MessageWriter
	logger    *zap.Logger
	metrics   *metrics.SchedulingMetrics
	pollEvery time.Duration
	batchSize int
}

func NewRelay(conn db.DB, repo *Repository, writer MessageWriter, logger *zap.Logger, m *metrics.SchedulingMetrics, cfg RelayConfig) *Relay {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		db:        conn,
		repo:      repo,
		writer:    writer,
		logger:    logger,
		metrics:   m,
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
	}
}

// NewKafkaWriter builds a writer for a comma separated broker list.
func NewKafkaWriter(brokers string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(SplitBrokers(brokers)...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.pollEvery)
	defer ticker.Stop()

	r.logger.Info("outbox relay started", zap.Duration("interval", r.pollEvery), zap.Int("batch", r.batchSize))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopping")
			return
		case <-ticker.C:
			n, err := r.PublishBatch(ctx)
			if err != nil {
				r.metrics.ObserveOutbox("error", 1)
				r.logger.Error("outbox publish failed", zap.Error(err))
				continue
			}
			if n > 0 {
				r.logger.Debug("outbox batch published", zap.Int("count", n))
			}
		}
	}
}

// PublishBatch relays one batch inside a transaction. Records are marked
// published only after Kafka accepted all of them; a failure leaves the
// whole batch for the next tick.
func (r *Relay) PublishBatch(ctx context.Context) (int, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	records, err := r.repo.FetchUnpublished(ctx, tx, r.batchSize)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, tx.Commit(ctx)
	}

	msgs := make([]kafka.Message, 0, len(records))
	ids := make([]int64, 0, len(records))
	for _, rec := range records {
		msg := kafka.Message{
			Topic: rec.EventType,
			Key:   []byte(rec.AggregateID.String()),
			Value: rec.Payload,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(rec.EventType)},
				{Key: "tenant_id", Value: []byte(rec.TenantID.String())},
			},
		}
		msg.Headers = injectTraceHeaders(ctx, msg.Headers)
		msgs = append(msgs, msg)
		ids = append(ids, rec.ID)
	}

	if err := r.writer.WriteMessages(ctx, msgs...); err != nil {
		return 0, err
	}
	if err := r.repo.MarkPublished(ctx, tx, ids); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	r.metrics.ObserveOutbox("ok", len(records))
	return len(records), nil
}

type headerCarrier struct {
	headers []kafka.Header
}

func (c *headerCarrier) Get(key string) string {
	for _, h := range c.headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Set(key, value string) {
	c.headers = append(c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.headers))
	for _, h := range c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}

var _ propagation.TextMapCarrier = (*headerCarrier)(nil)

func injectTraceHeaders(ctx context.Context, headers []kafka.Header) []kafka.Header {
	carrier := &headerCarrier{headers: headers}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return carrier.headers
}
