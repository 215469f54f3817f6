package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/secops-platform/secops-core/internal/model"
	"github.com/secops-platform/secops-core/internal/zerotrust"
	"github.com/secops-platform/secops-core/pkg/logger"
)

// ClickHouseConfig holds ClickHouse connection configuration.
type ClickHouseConfig struct {
	Hosts         []string      `json:"hosts" yaml:"hosts"`
	Database      string        `json:"database" yaml:"database"`
	Username      string        `json:"username" yaml:"username"`
	Password      string        `json:"password" yaml:"password"`
	DialTimeout   time.Duration `json:"dial_timeout" yaml:"dial_timeout"`
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval"`
	BatchSize     int           `json:"batch_size" yaml:"batch_size"`
}

func DefaultClickHouseConfig() ClickHouseConfig {
	return ClickHouseConfig{
		Hosts:         []string{"localhost:9000"},
		Database:      "secops",
		Username:      "secops_app",
		DialTimeout:   10 * time.Second,
		FlushInterval: 5 * time.Second,
		BatchSize:     1000,
	}
}

const auditTableDDL = `
CREATE TABLE IF NOT EXISTS access_audit (
	request_id  String,
	user_id     String,
	device_id   String,
	resource    String,
	action      String,
	decision    LowCardinality(String),
	reason      LowCardinality(String),
	policy_id   LowCardinality(String),
	trust_score Float64,
	risk_score  Float64,
	source_ip   String,
	ts          DateTime64(3)
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(ts)
ORDER BY (ts, user_id)
`

const eventTableDDL = `
CREATE TABLE IF NOT EXISTS security_events (
	id         String,
	ts         DateTime64(3),
	severity   LowCardinality(String),
	event_type LowCardinality(String),
	source     String,
	indicators Array(String),
	context    String
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(ts)
ORDER BY (ts, event_type)
`

// ClickHouseStore batches access audit records and archived events into
// ClickHouse. Writes are buffered and flushed on size or interval;
// flush failures are logged and the batch retried on the next tick.
type ClickHouseStore struct {
	conn driver.Conn
	cfg  ClickHouseConfig
	log  *logger.Logger

	mu     sync.Mutex
	audit  []*zerotrust.AuditRecord
	events []*model.SecurityEvent

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewClickHouseStore(cfg ClickHouseConfig, log *logger.Logger) (*ClickHouseStore, error) {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Hosts,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression:     &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
		DialTimeout:     cfg.DialTimeout,
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse connection: %w", err)
	}

	ctx, cancelPing := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancelPing()
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	for _, ddl := range []string{auditTableDDL, eventTableDDL} {
		if err := conn.Exec(ctx, ddl); err != nil {
			return nil, fmt.Errorf("failed to ensure clickhouse table: %w", err)
		}
	}

	return &ClickHouseStore{
		conn: conn,
		cfg:  cfg,
		log:  log.WithComponent("clickhouse-store"),
	}, nil
}

// Start launches the periodic flush loop.
func (s *ClickHouseStore) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.FlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				if err := s.Flush(loopCtx); err != nil {
					s.log.Warn("flush failed, will retry", "error", err)
				}
			}
		}
	}()
}

// Close flushes remaining rows and releases the connection.
func (s *ClickHouseStore) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DialTimeout)
	defer cancel()
	if err := s.Flush(ctx); err != nil {
		s.log.Warn("final flush failed", "error", err)
	}
	return s.conn.Close()
}

func (s *ClickHouseStore) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

func (s *ClickHouseStore) RecordAccessDecision(ctx context.Context, rec *zerotrust.AuditRecord) {
	s.mu.Lock()
	s.audit = append(s.audit, rec)
	full := len(s.audit) >= s.cfg.BatchSize
	s.mu.Unlock()
	if full {
		if err := s.Flush(ctx); err != nil {
			s.log.Warn("flush on full audit batch failed", "error", err)
		}
	}
}

func (s *ClickHouseStore) ArchiveEvent(ctx context.Context, event *model.SecurityEvent) error {
	s.mu.Lock()
	s.events = append(s.events, event)
	full := len(s.events) >= s.cfg.BatchSize
	s.mu.Unlock()
	if full {
		return s.Flush(ctx)
	}
	return nil
}

// Flush writes both pending batches. Rows are returned to the buffer on
// failure so nothing is dropped.
func (s *ClickHouseStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	audit := s.audit
	events := s.events
	s.audit = nil
	s.events = nil
	s.mu.Unlock()

	if err := s.flushAudit(ctx, audit); err != nil {
		s.mu.Lock()
		s.audit = append(audit, s.audit...)
		s.mu.Unlock()
		return err
	}
	if err := s.flushEvents(ctx, events); err != nil {
		s.mu.Lock()
		s.events = append(events, s.events...)
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *ClickHouseStore) flushAudit(ctx context.Context, rows []*zerotrust.AuditRecord) error {
	if len(rows) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO access_audit")
	if err != nil {
		return fmt.Errorf("failed to prepare audit batch: %w", err)
	}
	for _, r := range rows {
		if err := batch.Append(
			r.RequestID, r.UserID, r.DeviceID, r.Resource, r.Action,
			r.Decision, r.Reason, r.PolicyID, r.TrustScore, r.RiskScore,
			r.SourceIP, r.Timestamp,
		); err != nil {
			return fmt.Errorf("failed to append audit row: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send audit batch: %w", err)
	}
	s.log.Debug("audit batch flushed", "rows", len(rows))
	return nil
}

func (s *ClickHouseStore) flushEvents(ctx context.Context, rows []*model.SecurityEvent) error {
	if len(rows) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO security_events")
	if err != nil {
		return fmt.Errorf("failed to prepare event batch: %w", err)
	}
	for _, e := range rows {
		contextJSON, err := json.Marshal(e.Context)
		if err != nil {
			contextJSON = []byte("{}")
		}
		if err := batch.Append(
			e.ID, e.Timestamp, string(e.Severity), e.Type, e.Source,
			e.Indicators, string(contextJSON),
		); err != nil {
			return fmt.Errorf("failed to append event row: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send event batch: %w", err)
	}
	s.log.Debug("event batch flushed", "rows", len(rows))
	return nil
}
