// Package health serves liveness and readiness for the geo service.
// Readiness combines dependency checks (record sources, brokers, the index)
// with named gates such as the initial record load, which stay down until
// resolved.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// rank orders statuses from best to worst.
func (s Status) rank() int {
	switch s {
	case StatusUp:
		return 0
	case StatusDegraded:
		return 1
	}
	return 2
}

// Check probes one component.
type Check func(ctx context.Context) ComponentHealth

type ComponentHealth struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

type Report struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  string                     `json:"timestamp"`
}

// gate is a readiness condition resolved once by the owner.
type gate struct {
	resolved bool
	err      error
}

// Checker holds checks and readiness gates.
type Checker struct {
	// CheckTimeout bounds each check within Run.
	CheckTimeout time.Duration

	mu     sync.RWMutex
	checks map[string]Check
	gates  map[string]*gate
	logger *slog.Logger
}

func NewChecker() *Checker {
	return &Checker{
		CheckTimeout: 2 * time.Second,
		checks:       make(map[string]Check),
		gates:        make(map[string]*gate),
		logger:       slog.Default().With("component", "health"),
	}
}

func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Await adds a gate that keeps readiness down until Resolve is called for
// name.
func (c *Checker) Await(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gates[name] = &gate{}
}

// Resolve settles a gate. A non-nil err keeps readiness down and is reported
// as the gate's message.
func (c *Checker) Resolve(name string, err error) {
	c.mu.Lock()
	c.gates[name] = &gate{resolved: true, err: err}
	c.mu.Unlock()
	if err != nil {
		c.logger.Warn("readiness gate failed", "gate", name, "error", err)
		return
	}
	c.logger.Info("readiness gate resolved", "gate", name)
}

// Ready reports whether every gate resolved without error.
func (c *Checker) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, g := range c.gates {
		if !g.resolved || g.err != nil {
			return false
		}
	}
	return true
}

// PingCheck reports down when ping fails, e.g. a postgres or redis source.
func PingCheck(ping func(ctx context.Context) error) Check {
	return func(ctx context.Context) ComponentHealth {
		if err := ping(ctx); err != nil {
			return ComponentHealth{Status: StatusDown, Message: err.Error()}
		}
		return ComponentHealth{Status: StatusUp}
	}
}

// IndexCheck describes the serving index. With expectRecords set (a record
// source is configured) an empty index is reported degraded: queries still
// answer, just with nothing.
func IndexCheck(stats func() (records int, backing string), expectRecords bool) Check {
	return func(context.Context) ComponentHealth {
		n, backing := stats()
		h := ComponentHealth{Status: StatusUp, Message: fmt.Sprintf("%d records in %s index", n, backing)}
		if n == 0 && expectRecords {
			h.Status = StatusDegraded
		}
		return h
	}
}

// Run executes every check concurrently and folds in the gates. The overall
// status is the worst component status.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	checks := make(map[string]Check, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	report := Report{
		Status:     StatusUp,
		Components: make(map[string]ComponentHealth, len(checks)+len(c.gates)),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	for name, g := range c.gates {
		switch {
		case !g.resolved:
			report.Components[name] = ComponentHealth{Status: StatusDown, Message: "pending"}
		case g.err != nil:
			report.Components[name] = ComponentHealth{Status: StatusDown, Message: g.err.Error()}
		default:
			report.Components[name] = ComponentHealth{Status: StatusUp}
		}
	}
	c.mu.RUnlock()

	type result struct {
		name string
		ComponentHealth
	}
	results := make(chan result, len(checks))
	for name, check := range checks {
		go func() {
			cctx, cancel := context.WithTimeout(ctx, c.CheckTimeout)
			defer cancel()
			start := time.Now()
			h := check(cctx)
			h.Latency = time.Since(start).Round(time.Millisecond).String()
			results <- result{name, h}
		}()
	}
	for range checks {
		r := <-results
		report.Components[r.name] = r.ComponentHealth
	}

	for _, comp := range report.Components {
		if comp.Status.rank() > report.Status.rank() {
			report.Status = comp.Status
		}
	}
	return report
}

func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeReport(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

// ReadyHandler answers 200 only when every check is up and every gate has
// resolved. A degraded component still reports 200 so the instance keeps
// taking traffic.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := c.Run(r.Context())
		status := http.StatusOK
		if report.Status == StatusDown {
			status = http.StatusServiceUnavailable
		}
		writeReport(w, status, report)
	}
}

func writeReport(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
