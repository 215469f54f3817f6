package connector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/secops-platform/secops-core/pkg/logger"
)

// Registry holds the active connectors and routes action names to the
// connector that offers them. It satisfies the playbook executor's
// ActionExecutor contract.
type Registry struct {
	mu          sync.RWMutex
	connectors  map[string]ActionConnector
	actionIndex map[string]string // action name -> connector name
	healthCache map[string]*HealthStatus
	logger      *logger.Logger
}

// NewRegistry creates an empty connector registry.
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		connectors:  make(map[string]ActionConnector),
		actionIndex: make(map[string]string),
		healthCache: make(map[string]*HealthStatus),
		logger:      log.WithComponent("connector_registry"),
	}
}

// Register adds a connector and indexes its actions. A duplicate action
// name across connectors is a wiring error.
func (r *Registry) Register(conn ActionConnector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connectors[conn.Name()]; exists {
		return fmt.Errorf("connector %s already registered", conn.Name())
	}
	for _, def := range conn.AvailableActions() {
		if owner, taken := r.actionIndex[def.Name]; taken {
			return fmt.Errorf("action %s already provided by connector %s", def.Name, owner)
		}
	}

	r.connectors[conn.Name()] = conn
	for _, def := range conn.AvailableActions() {
		r.actionIndex[def.Name] = conn.Name()
	}
	r.logger.Info("connector registered",
		"connector", conn.Name(), "type", conn.Type(),
		"actions", len(conn.AvailableActions()))
	return nil
}

// Execute routes a playbook action to its connector. String parameters
// are widened to the connector parameter type.
func (r *Registry) Execute(ctx context.Context, action string, params map[string]string) (map[string]interface{}, error) {
	r.mu.RLock()
	owner, ok := r.actionIndex[action]
	var conn ActionConnector
	if ok {
		conn = r.connectors[owner]
	}
	r.mu.RUnlock()

	if conn == nil {
		return nil, fmt.Errorf("no connector provides action %s", action)
	}

	widened := make(map[string]interface{}, len(params))
	for k, v := range params {
		widened[k] = v
	}
	return conn.Execute(ctx, action, widened)
}

// Get returns a connector by name.
func (r *Registry) Get(name string) (ActionConnector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connectors[name]
	return conn, ok
}

// Actions returns every routable action name.
func (r *Registry) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.actionIndex))
	for action := range r.actionIndex {
		out = append(out, action)
	}
	return out
}

// HealthCheck probes every connector concurrently and caches the results.
func (r *Registry) HealthCheck(ctx context.Context) map[string]*HealthStatus {
	r.mu.RLock()
	connectors := make(map[string]ActionConnector, len(r.connectors))
	for name, conn := range r.connectors {
		connectors[name] = conn
	}
	r.mu.RUnlock()

	results := make(map[string]*HealthStatus)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for name, conn := range connectors {
		wg.Add(1)
		go func(name string, conn ActionConnector) {
			defer wg.Done()
			status, err := conn.Health(ctx)
			if err != nil {
				status = &HealthStatus{
					Status:    "unhealthy",
					Message:   err.Error(),
					LastCheck: time.Now().UTC(),
				}
			}
			mu.Lock()
			results[name] = status
			mu.Unlock()
		}(name, conn)
	}
	wg.Wait()

	r.mu.Lock()
	for name, status := range results {
		r.healthCache[name] = status
	}
	r.mu.Unlock()
	return results
}

// Close closes every connector.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lastErr error
	for name, conn := range r.connectors {
		if err := conn.Close(); err != nil {
			lastErr = fmt.Errorf("close connector %s: %w", name, err)
		}
	}
	r.connectors = make(map[string]ActionConnector)
	r.actionIndex = make(map[string]string)
	return lastErr
}
