package response

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	apperrors "github.com/secops-platform/secops-core/pkg/errors"
	"github.com/secops-platform/secops-core/pkg/logger"
)

// Channel delivers one notification over a single medium.
type Channel interface {
	Name() string
	Send(ctx context.Context, subject, message string) error
}

// NotifyManager fans a notification out across channels. Channel failures
// are isolated: one outage never blocks the others, and each channel
// retries independently.
type NotifyManager struct {
	mu       sync.RWMutex
	channels map[string]Channel
	retries  int
	logger   *logger.Logger
}

// NewNotifyManager creates an empty notification manager.
func NewNotifyManager(log *logger.Logger) *NotifyManager {
	return &NotifyManager{
		channels: make(map[string]Channel),
		retries:  2,
		logger:   log.WithComponent("notify_manager"),
	}
}

// AddChannel registers a delivery channel.
func (m *NotifyManager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

// Dispatch sends over one named channel with retries.
func (m *NotifyManager) Dispatch(ctx context.Context, channel, subject, message string) error {
	m.mu.RLock()
	ch, ok := m.channels[channel]
	m.mu.RUnlock()
	if !ok {
		return apperrors.NotFound(fmt.Sprintf("notification channel %s", channel))
	}
	return m.sendWithRetry(ctx, ch, subject, message)
}

// Broadcast sends over every registered channel concurrently and returns
// the per-channel failures. Delivery over the remaining channels proceeds
// regardless of individual outages.
func (m *NotifyManager) Broadcast(ctx context.Context, subject, message string) map[string]error {
	m.mu.RLock()
	channels := make([]Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		channels = append(channels, ch)
	}
	m.mu.RUnlock()

	failures := make(map[string]error)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, ch := range channels {
		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()
			if err := m.sendWithRetry(ctx, ch, subject, message); err != nil {
				mu.Lock()
				failures[ch.Name()] = err
				mu.Unlock()
			}
		}(ch)
	}
	wg.Wait()
	return failures
}

func (m *NotifyManager) sendWithRetry(ctx context.Context, ch Channel, subject, message string) error {
	var lastErr error
	for attempt := 0; attempt <= m.retries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
		if err := ch.Send(ctx, subject, message); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	m.logger.Warn("notification delivery failed",
		"channel", ch.Name(), "error", lastErr)
	return apperrors.Wrap(lastErr, apperrors.CodeEscalation,
		fmt.Sprintf("delivery over %s failed", ch.Name()))
}

// WebhookChannel posts JSON payloads to a webhook URL. Email, Slack and
// Teams deliveries all go through their respective webhook bridges.
type WebhookChannel struct {
	name       string
	url        string
	httpClient *http.Client
}

// NewWebhookChannel creates a webhook-backed channel.
func NewWebhookChannel(name, url string) *WebhookChannel {
	return &WebhookChannel{
		name:       name,
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Name returns the channel name.
func (c *WebhookChannel) Name() string { return c.name }

// Send posts the notification payload.
func (c *WebhookChannel) Send(ctx context.Context, subject, message string) error {
	payload, err := json.Marshal(map[string]string{
		"subject": subject,
		"text":    message,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
