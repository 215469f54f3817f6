package connector

import (
	"context"
	"fmt"
	"time"
)

// NotificationDispatcher delivers a message over one named channel.
// The response package's channel manager satisfies this.
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, channel, subject, message string) error
}

// NotificationConnector exposes notification dispatch as a playbook
// action.
type NotificationConnector struct {
	*BaseConnector
	dispatcher NotificationDispatcher
}

// NewNotificationConnector creates the notification connector.
func NewNotificationConnector(dispatcher NotificationDispatcher, timeout time.Duration) *NotificationConnector {
	c := &NotificationConnector{
		BaseConnector: NewBaseConnector("notifications", "notification", timeout),
		dispatcher:    dispatcher,
	}
	c.RegisterAction(ActionDefinition{
		Name:        "send_notification",
		Description: "Send a message over a notification channel",
		Category:    "notification",
		RiskLevel:   "low",
		Parameters: []ParameterDef{
			{Name: "channel", Type: "string", Required: true},
			{Name: "message", Type: "string", Required: true},
			{Name: "subject", Type: "string", Required: false},
		},
	}, c.sendNotification)
	return c
}

func (c *NotificationConnector) sendNotification(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	channel := stringParam(params, "channel")
	message := stringParam(params, "message")
	subject := stringParam(params, "subject")
	if subject == "" {
		subject = "Security Operations Notification"
	}

	if err := c.dispatcher.Dispatch(ctx, channel, subject, message); err != nil {
		return nil, fmt.Errorf("dispatch to %s: %w", channel, err)
	}
	return map[string]interface{}{
		"action":  "send_notification",
		"channel": channel,
		"sent_at": time.Now().UTC().Format(time.RFC3339),
	}, nil
}
