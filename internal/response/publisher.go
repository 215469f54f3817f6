package response

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/secops-platform/secops-core/pkg/logger"
)

// PublisherConfig configures the Kafka report/escalation publisher.
type PublisherConfig struct {
	Brokers         []string
	ReportTopic     string
	EscalationTopic string
}

// Publisher emits finished reports and fired escalations onto Kafka for
// downstream consumers. It also satisfies EscalationSink.
type Publisher struct {
	client *kgo.Client
	cfg    PublisherConfig
	logger *logger.Logger
}

// NewPublisher connects a Kafka producer.
func NewPublisher(cfg PublisherConfig, log *logger.Logger) (*Publisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return &Publisher{
		client: client,
		cfg:    cfg,
		logger: log.WithComponent("report_publisher"),
	}, nil
}

// PublishReport emits a report keyed by execution ID.
func (p *Publisher) PublishReport(ctx context.Context, report *Report) error {
	value, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	record := &kgo.Record{
		Topic: p.cfg.ReportTopic,
		Key:   []byte(report.ExecutionID),
		Value: value,
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce report: %w", err)
	}
	p.logger.Debug("report published",
		"report_id", report.ID, "topic", p.cfg.ReportTopic)
	return nil
}

// OnEscalation emits the fired escalation. Delivery is best-effort; a
// broker outage is logged and must not stall the sweep.
func (p *Publisher) OnEscalation(ctx context.Context, event *EscalationEvent) {
	value, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("marshal escalation", "error", err)
		return
	}
	record := &kgo.Record{
		Topic: p.cfg.EscalationTopic,
		Key:   []byte(event.ExecutionID),
		Value: value,
	}
	p.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			p.logger.Error("produce escalation", "error", err)
		}
	})
}

// Close flushes and shuts down the producer.
func (p *Publisher) Close() {
	p.client.Close()
}
