// health.go - Health monitoring for the pool daemon
package api

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Degraded  HealthStatus = "degraded"
	Unhealthy HealthStatus = "unhealthy"
)

// ComponentHealth represents the health of a specific component
type ComponentHealth struct {
	Name      string        `json:"name"`
	Status    HealthStatus  `json:"status"`
	Message   string        `json:"message"`
	LastCheck time.Time     `json:"last_check"`
	Latency   time.Duration `json:"latency,omitempty"`
}

// SystemHealth represents the overall system health
type SystemHealth struct {
	OverallStatus HealthStatus      `json:"overall_status"`
	Timestamp     time.Time         `json:"timestamp"`
	Components    []ComponentHealth `json:"components"`
	Uptime        time.Duration     `json:"uptime"`
	Version       string            `json:"version"`
}

// ErrDegraded marks a component as degraded rather than unhealthy when a check returns it wrapped.
var ErrDegraded = errors.New("degraded")

// CheckFunc checks one component. A non-nil error marks it unhealthy.
type CheckFunc func(ctx context.Context) error

// HealthChecker runs the registered component checks.
type HealthChecker struct {
	mu         sync.Mutex
	clock      clock.PassiveClock
	components map[string]*ComponentHealth
	checkers   map[string]CheckFunc
	startTime  time.Time
	version    string
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(version string, clk clock.PassiveClock) *HealthChecker {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &HealthChecker{
		clock:      clk,
		components: make(map[string]*ComponentHealth),
		checkers:   make(map[string]CheckFunc),
		startTime:  clk.Now(),
		version:    version,
	}
}

// RegisterComponent registers a health check for a component
func (hc *HealthChecker) RegisterComponent(name string, check CheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	hc.components[name] = &ComponentHealth{
		Name:      name,
		Status:    Healthy,
		Message:   "Component registered",
		LastCheck: hc.clock.Now(),
	}
	hc.checkers[name] = check
}

// CheckHealth checks every registered component and returns the aggregate.
func (hc *HealthChecker) CheckHealth(ctx context.Context) *SystemHealth {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	names := make([]string, 0, len(hc.components))
	for name := range hc.components {
		names = append(names, name)
	}
	sort.Strings(names)

	overall := Healthy
	components := make([]ComponentHealth, 0, len(names))
	for _, name := range names {
		component := hc.components[name]
		if check := hc.checkers[name]; check != nil {
			start := hc.clock.Now()
			err := check(ctx)
			switch {
			case errors.Is(err, ErrDegraded):
				component.Status = Degraded
				component.Message = err.Error()
			case err != nil:
				component.Status = Unhealthy
				component.Message = err.Error()
			default:
				component.Status = Healthy
				component.Message = "OK"
			}
			component.LastCheck = hc.clock.Now()
			component.Latency = hc.clock.Since(start)
		}

		switch {
		case component.Status == Unhealthy:
			overall = Unhealthy
		case component.Status == Degraded && overall == Healthy:
			overall = Degraded
		}
		components = append(components, *component)
	}

	return &SystemHealth{
		OverallStatus: overall,
		Timestamp:     hc.clock.Now(),
		Components:    components,
		Uptime:        hc.clock.Since(hc.startTime),
		Version:       hc.version,
	}
}
