package connector

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// EmailSecurityConnector covers mail-gateway actions used by phishing
// response playbooks.
type EmailSecurityConnector struct {
	*BaseConnector

	mu             sync.Mutex
	blockedSenders map[string]time.Time
}

// NewEmailSecurityConnector creates the mail gateway connector.
func NewEmailSecurityConnector(timeout time.Duration) *EmailSecurityConnector {
	c := &EmailSecurityConnector{
		BaseConnector:  NewBaseConnector("email-security", "email", timeout),
		blockedSenders: make(map[string]time.Time),
	}
	c.registerActions()
	return c
}

func (c *EmailSecurityConnector) registerActions() {
	c.RegisterAction(ActionDefinition{
		Name:        "quarantine_email",
		Description: "Pull a message into quarantine across mailboxes",
		Category:    "containment",
		RiskLevel:   "low",
		Parameters: []ParameterDef{
			{Name: "message_id", Type: "string", Required: true},
		},
	}, c.quarantineEmail)

	c.RegisterAction(ActionDefinition{
		Name:        "block_sender",
		Description: "Block a sender address at the gateway",
		Category:    "eradication",
		RiskLevel:   "low",
		Parameters: []ParameterDef{
			{Name: "sender", Type: "string", Required: true},
		},
	}, c.blockSender)
}

func (c *EmailSecurityConnector) quarantineEmail(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	messageID := stringParam(params, "message_id")
	if messageID == "" {
		return nil, fmt.Errorf("message_id parameter is empty")
	}
	return map[string]interface{}{
		"action":     "quarantine_email",
		"message_id": messageID,
	}, nil
}

func (c *EmailSecurityConnector) blockSender(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	sender := stringParam(params, "sender")
	if sender == "" {
		return nil, fmt.Errorf("sender parameter is empty")
	}

	c.mu.Lock()
	c.blockedSenders[sender] = time.Now().UTC()
	c.mu.Unlock()

	return map[string]interface{}{"action": "block_sender", "sender": sender}, nil
}
