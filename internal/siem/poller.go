package siem

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/secops-platform/secops-core/internal/model"
	"github.com/secops-platform/secops-core/pkg/logger"
)

// EventSink receives converted events.
type EventSink interface {
	SubmitEvent(event *model.SecurityEvent) error
}

// Poller drives each configured alert source on its own interval. One
// source failing never affects the others; the watermark only advances
// after a successful fetch.
type Poller struct {
	sources []pollerSource
	sink    EventSink
	log     *logger.Logger

	fetched   atomic.Uint64
	submitted atomic.Uint64
	errors    atomic.Uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type pollerSource struct {
	source   AlertSource
	interval time.Duration
}

func NewPoller(sink EventSink, log *logger.Logger) *Poller {
	return &Poller{
		sink: sink,
		log:  log.WithComponent("siem-poller"),
	}
}

// AddSource registers a source with its poll interval.
func (p *Poller) AddSource(source AlertSource, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	p.sources = append(p.sources, pollerSource{source: source, interval: interval})
}

// Start launches one poll loop per source.
func (p *Poller) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for _, ps := range p.sources {
		p.wg.Add(1)
		go p.pollLoop(loopCtx, ps)
	}
	p.log.Info("siem poller started", "sources", len(p.sources))
}

// Stop halts all poll loops.
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// Stats returns poller counters.
func (p *Poller) Stats() map[string]uint64 {
	return map[string]uint64{
		"alerts_fetched":   p.fetched.Load(),
		"events_submitted": p.submitted.Load(),
		"errors":           p.errors.Load(),
	}
}

func (p *Poller) pollLoop(ctx context.Context, ps pollerSource) {
	defer p.wg.Done()

	watermark := time.Now().UTC()
	ticker := time.NewTicker(ps.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			next := time.Now().UTC()
			alerts, err := ps.source.FetchAlerts(ctx, watermark)
			if err != nil {
				p.errors.Add(1)
				p.log.Warn("alert fetch failed",
					"source", ps.source.Name(), "error", err)
				continue
			}
			watermark = next

			for _, alert := range alerts {
				p.fetched.Add(1)
				event := ToEvent(alert, ps.source.Name())
				if err := p.sink.SubmitEvent(event); err != nil {
					p.errors.Add(1)
					p.log.Warn("event submit failed",
						"source", ps.source.Name(),
						"alert_id", alert.ID,
						"error", err)
					continue
				}
				p.submitted.Add(1)
			}
			if len(alerts) > 0 {
				p.log.Debug("alerts ingested",
					"source", ps.source.Name(), "count", len(alerts))
			}
		}
	}
}
