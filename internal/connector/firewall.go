package connector

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// FirewallConnector manages network-level blocks. State is kept
// in-process; a production deployment points Execute at the firewall
// management API instead.
type FirewallConnector struct {
	*BaseConnector

	mu         sync.Mutex
	blockedIPs map[string]time.Time
}

// NewFirewallConnector creates the firewall connector.
func NewFirewallConnector(timeout time.Duration) *FirewallConnector {
	c := &FirewallConnector{
		BaseConnector: NewBaseConnector("firewall", "network", timeout),
		blockedIPs:    make(map[string]time.Time),
	}
	c.registerActions()
	return c
}

func (c *FirewallConnector) registerActions() {
	c.RegisterAction(ActionDefinition{
		Name:        "block_ip",
		Description: "Block inbound and outbound traffic for an IP address",
		Category:    "containment",
		RiskLevel:   "medium",
		Parameters: []ParameterDef{
			{Name: "ip", Type: "string", Required: true, Description: "IP address to block"},
			{Name: "duration", Type: "string", Required: false, Description: "Block duration, permanent when absent"},
		},
	}, c.blockIP)

	c.RegisterAction(ActionDefinition{
		Name:        "unblock_ip",
		Description: "Remove an IP block",
		Category:    "recovery",
		RiskLevel:   "low",
		Parameters: []ParameterDef{
			{Name: "ip", Type: "string", Required: true},
		},
	}, c.unblockIP)
}

func (c *FirewallConnector) blockIP(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	ip := stringParam(params, "ip")
	if ip == "" {
		return nil, fmt.Errorf("ip parameter is empty")
	}

	c.mu.Lock()
	c.blockedIPs[ip] = time.Now().UTC()
	c.mu.Unlock()

	return map[string]interface{}{
		"action":     "block_ip",
		"ip":         ip,
		"rule_id":    fmt.Sprintf("fw-block-%s", ip),
		"blocked_at": time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (c *FirewallConnector) unblockIP(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	ip := stringParam(params, "ip")

	c.mu.Lock()
	_, wasBlocked := c.blockedIPs[ip]
	delete(c.blockedIPs, ip)
	c.mu.Unlock()

	if !wasBlocked {
		return nil, fmt.Errorf("ip %s is not blocked", ip)
	}
	return map[string]interface{}{"action": "unblock_ip", "ip": ip}, nil
}

// IsBlocked reports whether an IP currently has an active block.
func (c *FirewallConnector) IsBlocked(ip string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.blockedIPs[ip]
	return ok
}
