// Package connector provides the action connector framework used by
// playbook steps and autonomous defense.
package connector

import (
	"context"
	"fmt"
	"time"
)

// ActionConnector executes named actions against one class of security
// tooling.
type ActionConnector interface {
	// Name returns the connector name.
	Name() string

	// Type returns the connector type.
	Type() string

	// Execute runs an action with parameters.
	Execute(ctx context.Context, action string, params map[string]interface{}) (map[string]interface{}, error)

	// AvailableActions returns the actions this connector offers.
	AvailableActions() []ActionDefinition

	// Health checks the connector health.
	Health(ctx context.Context) (*HealthStatus, error)

	// Close releases connector resources.
	Close() error
}

// ActionDefinition describes one available action.
type ActionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Category    string         `json:"category"`
	Parameters  []ParameterDef `json:"parameters"`
	Timeout     time.Duration  `json:"timeout,omitempty"`
	RiskLevel   string         `json:"risk_level"` // low, medium, high, critical
}

// ParameterDef describes an action parameter.
type ParameterDef struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// HealthStatus reports connector health.
type HealthStatus struct {
	Status    string    `json:"status"` // healthy, degraded, unhealthy
	Message   string    `json:"message,omitempty"`
	LastCheck time.Time `json:"last_check"`
}

// ActionHandler implements one action.
type ActionHandler func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error)

// BaseConnector carries the shared action table and validation for
// concrete connectors.
type BaseConnector struct {
	name       string
	connType   string
	timeout    time.Duration
	actions    map[string]ActionHandler
	actionDefs []ActionDefinition
}

// NewBaseConnector creates a base connector.
func NewBaseConnector(name, connType string, timeout time.Duration) *BaseConnector {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &BaseConnector{
		name:     name,
		connType: connType,
		timeout:  timeout,
		actions:  make(map[string]ActionHandler),
	}
}

// Name returns the connector name.
func (c *BaseConnector) Name() string { return c.name }

// Type returns the connector type.
func (c *BaseConnector) Type() string { return c.connType }

// RegisterAction registers an action handler with its definition.
func (c *BaseConnector) RegisterAction(def ActionDefinition, handler ActionHandler) {
	c.actions[def.Name] = handler
	c.actionDefs = append(c.actionDefs, def)
}

// Execute validates parameters and runs the action under the connector
// timeout.
func (c *BaseConnector) Execute(ctx context.Context, action string, params map[string]interface{}) (map[string]interface{}, error) {
	handler, exists := c.actions[action]
	if !exists {
		return nil, fmt.Errorf("action not found: %s", action)
	}
	if err := c.validateParams(action, params); err != nil {
		return nil, fmt.Errorf("parameter validation failed: %w", err)
	}

	timeout := c.timeout
	for _, def := range c.actionDefs {
		if def.Name == action && def.Timeout > 0 {
			timeout = def.Timeout
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return handler(ctx, params)
}

func (c *BaseConnector) validateParams(action string, params map[string]interface{}) error {
	for _, def := range c.actionDefs {
		if def.Name != action {
			continue
		}
		for _, param := range def.Parameters {
			if !param.Required {
				continue
			}
			value, exists := params[param.Name]
			if !exists || value == nil || value == "" {
				return fmt.Errorf("required parameter missing: %s", param.Name)
			}
		}
		return nil
	}
	return nil
}

// AvailableActions returns the registered action definitions.
func (c *BaseConnector) AvailableActions() []ActionDefinition {
	return c.actionDefs
}

// Health reports healthy by default; concrete connectors override when
// they hold real sessions.
func (c *BaseConnector) Health(ctx context.Context) (*HealthStatus, error) {
	return &HealthStatus{Status: "healthy", LastCheck: time.Now().UTC()}, nil
}

// Close releases nothing by default.
func (c *BaseConnector) Close() error { return nil }

func stringParam(params map[string]interface{}, key string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprintf("%v", v)
	}
	return ""
}
