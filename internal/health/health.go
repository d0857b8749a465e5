// Package health tracks component health for the status endpoint
package health

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Component names reported by go-portal
const (
	ComponentCapture    = "capture"
	ComponentPose       = "pose"
	ComponentAsset      = "asset"
	ComponentProjection = "projection"
)

// Status represents overall system health
type Status struct {
	Status        string           `json:"status"` // ok, degraded
	Version       string           `json:"version"`
	SessionID     string           `json:"session_id"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Components    map[string]Check `json:"components"`
}

// Check represents a component health check
type Check struct {
	Healthy   bool      `json:"healthy"`
	Message   string    `json:"message,omitempty"`
	LastCheck time.Time `json:"last_check"`
}

// Probe reports a component's current health when polled
type Probe func() (healthy bool, message string)

// Checker tracks health of system components. Components are either set
// explicitly or polled through a probe on every status read.
type Checker struct {
	mu         sync.RWMutex
	version    string
	sessionID  string
	startTime  time.Time
	components map[string]Check
	probes     map[string]Probe
}

// NewChecker creates a new health checker with a fresh session id
func NewChecker(version string) *Checker {
	return &Checker{
		version:    version,
		sessionID:  uuid.New().String(),
		startTime:  time.Now(),
		components: make(map[string]Check),
		probes:     make(map[string]Probe),
	}
}

// SessionID identifies this process run
func (c *Checker) SessionID() string { return c.sessionID }

// SetComponent updates a component's health status
func (c *Checker) SetComponent(name string, healthy bool, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.components[name] = Check{
		Healthy:   healthy,
		Message:   message,
		LastCheck: time.Now(),
	}
}

// Watch registers a probe polled on every status read
func (c *Checker) Watch(name string, probe Probe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes[name] = probe
}

// refresh polls every probe
func (c *Checker) refresh() {
	c.mu.RLock()
	probes := make(map[string]Probe, len(c.probes))
	for name, p := range c.probes {
		probes[name] = p
	}
	c.mu.RUnlock()

	for name, p := range probes {
		healthy, msg := p()
		c.SetComponent(name, healthy, msg)
	}
}

// GetStatus returns the overall health status
func (c *Checker) GetStatus() Status {
	c.refresh()

	c.mu.RLock()
	defer c.mu.RUnlock()

	status := "ok"
	components := make(map[string]Check, len(c.components))
	for k, v := range c.components {
		components[k] = v
		if !v.Healthy {
			status = "degraded"
		}
	}

	return Status{
		Status:        status,
		Version:       c.version,
		SessionID:     c.sessionID,
		UptimeSeconds: int64(time.Since(c.startTime).Seconds()),
		Components:    components,
	}
}

// Unhealthy returns the sorted names of failing components
func (c *Checker) Unhealthy() []string {
	c.refresh()

	c.mu.RLock()
	defer c.mu.RUnlock()

	var names []string
	for name, check := range c.components {
		if !check.Healthy {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// IsHealthy returns true if all components are healthy
func (c *Checker) IsHealthy() bool {
	return len(c.Unhealthy()) == 0
}

// Uptime returns the time since the checker was created
func (c *Checker) Uptime() time.Duration {
	return time.Since(c.startTime)
}
