// Package ingest consumes raw security events from Kafka and feeds the
// SOAR engine.
package ingest

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/secops-platform/secops-core/internal/model"
	apperrors "github.com/secops-platform/secops-core/pkg/errors"
	"github.com/secops-platform/secops-core/pkg/logger"
)

// Config holds Kafka topics and consumer-group settings.
type Config struct {
	Brokers  []string
	GroupID  string
	Topic    string
	DLQTopic string
}

// EventSink receives decoded events. The SOAR engine implements it.
type EventSink interface {
	SubmitEvent(event *model.SecurityEvent) error
}

// Consumer reads the raw event topic. Records that fail to decode or
// are rejected by a saturated queue go to the DLQ with an error header;
// the consumer itself never stops on bad input.
type Consumer struct {
	cfg      Config
	client   *kgo.Client
	producer *kgo.Client
	sink     EventSink
	log      *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	consumed  atomic.Uint64
	submitted atomic.Uint64
	dlq       atomic.Uint64
}

func NewConsumer(cfg Config, sink EventSink, log *logger.Logger) (*Consumer, error) {
	ctx, cancel := context.WithCancel(context.Background())

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
		kgo.FetchMaxWait(100*time.Millisecond),
		kgo.FetchMaxBytes(10*1024*1024),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		cancel()
		return nil, err
	}

	producer, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ProducerLinger(10*time.Millisecond),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		client.Close()
		cancel()
		return nil, err
	}

	return &Consumer{
		cfg:      cfg,
		client:   client,
		producer: producer,
		sink:     sink,
		log:      log.WithComponent("event-consumer"),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start launches the consume loop.
func (c *Consumer) Start() {
	c.log.Info("starting event consumer",
		"topic", c.cfg.Topic,
		"group", c.cfg.GroupID)
	c.wg.Add(1)
	go c.consumeLoop()
}

// Stop drains and closes the clients.
func (c *Consumer) Stop() {
	c.cancel()
	c.wg.Wait()
	c.client.Close()
	c.producer.Close()
	c.log.Info("event consumer stopped")
}

// Stats returns consumer counters.
func (c *Consumer) Stats() map[string]uint64 {
	return map[string]uint64{
		"consumed":  c.consumed.Load(),
		"submitted": c.submitted.Load(),
		"dlq":       c.dlq.Load(),
	}
}

func (c *Consumer) consumeLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		fetches := c.client.PollFetches(c.ctx)
		if fetches.IsClientClosed() {
			return
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, err := range errs {
				c.log.Error("fetch error",
					"topic", err.Topic,
					"partition", err.Partition,
					"error", err.Err)
			}
			continue
		}

		var records []*kgo.Record
		var dlqRecords []*kgo.Record

		fetches.EachRecord(func(r *kgo.Record) {
			records = append(records, r)
			c.consumed.Add(1)

			if dlqRec := c.handleRecord(r); dlqRec != nil {
				dlqRecords = append(dlqRecords, dlqRec)
			}
		})

		if len(dlqRecords) > 0 {
			results := c.producer.ProduceSync(c.ctx, dlqRecords...)
			for _, r := range results {
				if r.Err != nil {
					c.log.Error("failed to produce to DLQ", "error", r.Err)
				} else {
					c.dlq.Add(1)
				}
			}
		}

		if len(records) > 0 {
			if err := c.client.CommitRecords(c.ctx, records...); err != nil {
				c.log.Error("failed to commit offsets", "error", err)
			}
		}
	}
}

// handleRecord decodes and submits one record, returning a DLQ record
// on failure.
func (c *Consumer) handleRecord(r *kgo.Record) *kgo.Record {
	var event model.SecurityEvent
	if err := json.Unmarshal(r.Value, &event); err != nil {
		c.log.Warn("failed to unmarshal event", "error", err)
		return c.dlqRecord(r, "unmarshal_error: "+err.Error())
	}

	if err := c.sink.SubmitEvent(&event); err != nil {
		if apperrors.Is(err, apperrors.CodeQueueSaturated) {
			c.log.Warn("queue saturated, event to DLQ", "event_id", event.ID)
		} else {
			c.log.Warn("event rejected", "event_id", event.ID, "error", err)
		}
		return c.dlqRecord(r, "submit_error: "+err.Error())
	}

	c.submitted.Add(1)
	return nil
}

func (c *Consumer) dlqRecord(r *kgo.Record, reason string) *kgo.Record {
	return &kgo.Record{
		Topic: c.cfg.DLQTopic,
		Key:   r.Key,
		Value: r.Value,
		Headers: []kgo.RecordHeader{
			{Key: "error", Value: []byte(reason)},
			{Key: "source_topic", Value: []byte(c.cfg.Topic)},
		},
	}
}
