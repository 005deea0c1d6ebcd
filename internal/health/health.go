// Package health tracks the health of the sensing components
package health

import (
	"context"
	"sync"
	"time"
)

// Overall states
const (
	StatusOK        = "ok"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Status represents overall system health
type Status struct {
	Status        string           `json:"status"` // ok, degraded, unhealthy
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Components    map[string]Check `json:"components"`
}

// Check represents a component health check
type Check struct {
	Healthy   bool      `json:"healthy"`
	Critical  bool      `json:"critical"`
	Message   string    `json:"message,omitempty"`
	LastCheck time.Time `json:"last_check"`
}

// Probe reports the current health of one component
type Probe func() (healthy bool, message string)

type registration struct {
	probe    Probe
	critical bool
}

// Checker tracks health of system components. Components are either set
// directly or registered with a probe that Refresh evaluates.
type Checker struct {
	mu         sync.RWMutex
	version    string
	startTime  time.Time
	components map[string]Check
	probes     map[string]registration
}

// NewChecker creates a new health checker
func NewChecker(version string) *Checker {
	return &Checker{
		version:    version,
		startTime:  time.Now(),
		components: make(map[string]Check),
		probes:     make(map[string]registration),
	}
}

// Register adds a probed component. A failing critical component makes
// the whole system unhealthy; any other failure only degrades it.
func (c *Checker) Register(name string, critical bool, probe Probe) {
	c.mu.Lock()
	c.probes[name] = registration{probe: probe, critical: critical}
	c.mu.Unlock()

	c.refresh(name)
}

// SetComponent updates a component's health status
func (c *Checker) SetComponent(name string, healthy bool, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.components[name] = Check{
		Healthy:   healthy,
		Critical:  c.probes[name].critical,
		Message:   message,
		LastCheck: time.Now(),
	}
}

// Refresh evaluates every registered probe
func (c *Checker) Refresh() {
	c.mu.RLock()
	names := make([]string, 0, len(c.probes))
	for name := range c.probes {
		names = append(names, name)
	}
	c.mu.RUnlock()

	for _, name := range names {
		c.refresh(name)
	}
}

func (c *Checker) refresh(name string) {
	c.mu.RLock()
	reg, ok := c.probes[name]
	c.mu.RUnlock()

	if !ok || reg.probe == nil {
		return
	}

	// Probes run without the lock held
	healthy, message := reg.probe()
	c.SetComponent(name, healthy, message)
}

// Run refreshes the probes every interval until ctx ends
func (c *Checker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Refresh()
		}
	}
}

// GetStatus returns the overall health status
func (c *Checker) GetStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := StatusOK
	for _, check := range c.components {
		if check.Healthy {
			continue
		}
		if check.Critical {
			status = StatusUnhealthy
			break
		}
		status = StatusDegraded
	}

	// Copy components map
	components := make(map[string]Check, len(c.components))
	for k, v := range c.components {
		components[k] = v
	}

	return Status{
		Status:        status,
		Version:       c.version,
		UptimeSeconds: int64(time.Since(c.startTime).Seconds()),
		Components:    components,
	}
}

// IsHealthy returns true if all components are healthy
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, check := range c.components {
		if !check.Healthy {
			return false
		}
	}
	return true
}
