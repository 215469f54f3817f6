package connector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EDRConnector covers endpoint containment and forensic actions.
type EDRConnector struct {
	*BaseConnector

	mu               sync.Mutex
	isolatedHosts    map[string]time.Time
	quarantinedFiles map[string]time.Time
	disabledAccounts map[string]time.Time
}

// NewEDRConnector creates the endpoint connector.
func NewEDRConnector(timeout time.Duration) *EDRConnector {
	c := &EDRConnector{
		BaseConnector:    NewBaseConnector("edr", "endpoint", timeout),
		isolatedHosts:    make(map[string]time.Time),
		quarantinedFiles: make(map[string]time.Time),
		disabledAccounts: make(map[string]time.Time),
	}
	c.registerActions()
	return c
}

func (c *EDRConnector) registerActions() {
	c.RegisterAction(ActionDefinition{
		Name:        "isolate_host",
		Description: "Network-isolate an endpoint",
		Category:    "containment",
		RiskLevel:   "high",
		Parameters: []ParameterDef{
			{Name: "host", Type: "string", Required: true},
		},
	}, c.isolateHost)

	c.RegisterAction(ActionDefinition{
		Name:        "unisolate_host",
		Description: "Restore an endpoint's network access",
		Category:    "recovery",
		RiskLevel:   "medium",
		Parameters: []ParameterDef{
			{Name: "host", Type: "string", Required: true},
		},
	}, c.unisolateHost)

	c.RegisterAction(ActionDefinition{
		Name:        "quarantine_file",
		Description: "Quarantine a file by hash across managed endpoints",
		Category:    "eradication",
		RiskLevel:   "medium",
		Parameters: []ParameterDef{
			{Name: "hash", Type: "string", Required: true},
		},
	}, c.quarantineFile)

	c.RegisterAction(ActionDefinition{
		Name:        "collect_forensics",
		Description: "Capture a forensic snapshot from an endpoint",
		Category:    "investigation",
		RiskLevel:   "low",
		Timeout:     2 * time.Minute,
		Parameters: []ParameterDef{
			{Name: "host", Type: "string", Required: false},
			{Name: "target", Type: "string", Required: false},
		},
	}, c.collectForensics)

	c.RegisterAction(ActionDefinition{
		Name:        "disable_account",
		Description: "Disable a user account",
		Category:    "containment",
		RiskLevel:   "high",
		Parameters: []ParameterDef{
			{Name: "user", Type: "string", Required: true},
		},
	}, c.disableAccount)

	c.RegisterAction(ActionDefinition{
		Name:        "terminate_sessions",
		Description: "Terminate all active sessions for a user",
		Category:    "containment",
		RiskLevel:   "medium",
		Parameters: []ParameterDef{
			{Name: "user", Type: "string", Required: true},
		},
	}, c.terminateSessions)

	c.RegisterAction(ActionDefinition{
		Name:        "apply_patch",
		Description: "Trigger emergency patch deployment on a host",
		Category:    "eradication",
		RiskLevel:   "medium",
		Timeout:     5 * time.Minute,
		Parameters: []ParameterDef{
			{Name: "host", Type: "string", Required: true},
			{Name: "patch_id", Type: "string", Required: false},
		},
	}, c.applyPatch)
}

func (c *EDRConnector) isolateHost(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	host := stringParam(params, "host")
	if host == "" {
		return nil, fmt.Errorf("host parameter is empty")
	}

	c.mu.Lock()
	c.isolatedHosts[host] = time.Now().UTC()
	c.mu.Unlock()

	return map[string]interface{}{
		"action":      "isolate_host",
		"host":        host,
		"isolated_at": time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (c *EDRConnector) unisolateHost(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	host := stringParam(params, "host")

	c.mu.Lock()
	_, wasIsolated := c.isolatedHosts[host]
	delete(c.isolatedHosts, host)
	c.mu.Unlock()

	if !wasIsolated {
		return nil, fmt.Errorf("host %s is not isolated", host)
	}
	return map[string]interface{}{"action": "unisolate_host", "host": host}, nil
}

func (c *EDRConnector) quarantineFile(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	hash := stringParam(params, "hash")
	if hash == "" {
		return nil, fmt.Errorf("hash parameter is empty")
	}

	c.mu.Lock()
	c.quarantinedFiles[hash] = time.Now().UTC()
	c.mu.Unlock()

	return map[string]interface{}{
		"action": "quarantine_file",
		"hash":   hash,
	}, nil
}

func (c *EDRConnector) collectForensics(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	target := stringParam(params, "host")
	if target == "" {
		target = stringParam(params, "target")
	}
	return map[string]interface{}{
		"action":       "collect_forensics",
		"target":       target,
		"capture_id":   uuid.New().String(),
		"collected_at": time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (c *EDRConnector) disableAccount(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	user := stringParam(params, "user")
	if user == "" {
		return nil, fmt.Errorf("user parameter is empty")
	}

	c.mu.Lock()
	c.disabledAccounts[user] = time.Now().UTC()
	c.mu.Unlock()

	return map[string]interface{}{"action": "disable_account", "user": user}, nil
}

func (c *EDRConnector) terminateSessions(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	user := stringParam(params, "user")
	if user == "" {
		return nil, fmt.Errorf("user parameter is empty")
	}
	return map[string]interface{}{"action": "terminate_sessions", "user": user}, nil
}

func (c *EDRConnector) applyPatch(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	host := stringParam(params, "host")
	if host == "" {
		return nil, fmt.Errorf("host parameter is empty")
	}
	return map[string]interface{}{
		"action":   "apply_patch",
		"host":     host,
		"patch_id": stringParam(params, "patch_id"),
	}, nil
}

// IsIsolated reports whether a host is currently isolated.
func (c *EDRConnector) IsIsolated(host string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.isolatedHosts[host]
	return ok
}

// IsQuarantined reports whether a file hash is quarantined.
func (c *EDRConnector) IsQuarantined(hash string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.quarantinedFiles[hash]
	return ok
}
