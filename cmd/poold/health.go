// health.go - Component health tracking for the pool daemon
package main

import (
	"sync"
	"time"
)

// HealthStatus represents the health of a component
type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Degraded  HealthStatus = "degraded"
	Unhealthy HealthStatus = "unhealthy"
)

// ComponentHealth is the last observed state of one component
type ComponentHealth struct {
	Name      string        `json:"name"`
	Status    HealthStatus  `json:"status"`
	Message   string        `json:"message"`
	LastCheck time.Time     `json:"last_check"`
	Latency   time.Duration `json:"latency,omitempty"`
}

// SystemHealth aggregates all components
type SystemHealth struct {
	OverallStatus HealthStatus      `json:"overall_status"`
	Timestamp     time.Time         `json:"timestamp"`
	Components    []ComponentHealth `json:"components"`
	Uptime        time.Duration     `json:"uptime"`
	Version       string            `json:"version"`
}

// HealthChecker runs registered component checks on demand
type HealthChecker struct {
	mu         sync.Mutex
	components map[string]*ComponentHealth
	checkers   map[string]func() error
	order      []string
	startTime  time.Time
	version    string
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		components: make(map[string]*ComponentHealth),
		checkers:   make(map[string]func() error),
		startTime:  time.Now(),
		version:    version,
	}
}

// RegisterComponent registers a health check for a component
func (hc *HealthChecker) RegisterComponent(name string, checker func() error) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	if _, exists := hc.components[name]; !exists {
		hc.order = append(hc.order, name)
	}
	hc.components[name] = &ComponentHealth{
		Name:      name,
		Status:    Healthy,
		Message:   "registered",
		LastCheck: time.Now(),
	}
	hc.checkers[name] = checker
}

// UpdateComponent overrides the recorded state of a component, for events
// observed outside the checker functions.
func (hc *HealthChecker) UpdateComponent(name string, status HealthStatus, message string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	if component, exists := hc.components[name]; exists {
		component.Status = status
		component.Message = message
		component.LastCheck = time.Now()
	}
}

// CheckHealth runs every registered checker and returns the aggregate.
// A component without a checker keeps its last recorded state.
func (hc *HealthChecker) CheckHealth() *SystemHealth {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	overall := Healthy
	components := make([]ComponentHealth, 0, len(hc.components))

	for _, name := range hc.order {
		component := hc.components[name]
		if checker, exists := hc.checkers[name]; exists && checker != nil {
			start := time.Now()
			err := checker()
			component.Latency = time.Since(start)
			component.LastCheck = time.Now()
			if err != nil {
				component.Status = Unhealthy
				component.Message = err.Error()
			} else {
				component.Status = Healthy
				component.Message = "OK"
			}
		}

		if component.Status == Unhealthy {
			overall = Unhealthy
		} else if component.Status == Degraded && overall == Healthy {
			overall = Degraded
		}
		components = append(components, *component)
	}

	return &SystemHealth{
		OverallStatus: overall,
		Timestamp:     time.Now(),
		Components:    components,
		Uptime:        time.Since(hc.startTime),
		Version:       hc.version,
	}
}
