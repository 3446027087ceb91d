// Package health runs named dependency probes concurrently and serves the
// aggregate result as liveness and readiness endpoints.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status is the state of one dependency or of the whole service.
type Status string

const (
	StatusUp   Status = "up"
	StatusDown Status = "down"
)

// Probe checks one dependency. A nil error means the dependency is up.
type Probe func(ctx context.Context) error

// ComponentHealth is the outcome of a single probe.
type ComponentHealth struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency"`
}

// Report aggregates every probe. Status is down if any component is down.
type Report struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  string                     `json:"timestamp"`
}

// Checker runs the registered probes.
type Checker struct {
	mu     sync.RWMutex
	probes map[string]Probe
	logger *slog.Logger
}

// NewChecker returns a Checker with no probes.
func NewChecker() *Checker {
	return &Checker{
		probes: make(map[string]Probe),
		logger: slog.Default().With("component", "health"),
	}
}

// Register adds or replaces the probe for name.
func (c *Checker) Register(name string, probe Probe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes[name] = probe
}

// Names returns the registered probe names in sorted order.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.probes))
	for name := range c.probes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes all probes concurrently.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	probes := make(map[string]Probe, len(c.probes))
	for name, p := range c.probes {
		probes[name] = p
	}
	c.mu.RUnlock()

	report := Report{
		Status:     StatusUp,
		Components: make(map[string]ComponentHealth, len(probes)),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for name, probe := range probes {
		wg.Go(func() {
			start := time.Now()
			err := probe(ctx)
			result := ComponentHealth{
				Status:  StatusUp,
				Latency: time.Since(start).Round(time.Millisecond).String(),
			}
			if err != nil {
				result.Status = StatusDown
				result.Message = err.Error()
			}
			mu.Lock()
			report.Components[name] = result
			mu.Unlock()
		})
	}
	wg.Wait()

	for name, comp := range report.Components {
		if comp.Status == StatusDown {
			report.Status = StatusDown
			c.logger.Warn("dependency down", "dependency", name, "message", comp.Message)
		}
	}
	return report
}

// LiveHandler always reports alive; it only proves the process serves HTTP.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

// ReadyHandler runs every probe under a five second timeout.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		report := c.Run(ctx)
		status := http.StatusOK
		if report.Status != StatusUp {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
