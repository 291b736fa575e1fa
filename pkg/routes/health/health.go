package health

import (
	"context"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// Pinger is anything the checker can probe: the database, Redis, the target.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }

// Checker handles health check endpoints
type Checker struct {
	checks    map[string]Pinger
	version   string
	timeout   time.Duration
	startTime time.Time
	ready     atomic.Bool
}

// NewChecker creates a new health checker
func NewChecker(version string) *Checker {
	return &Checker{
		checks:    make(map[string]Pinger),
		version:   version,
		timeout:   2 * time.Second,
		startTime: time.Now(),
	}
}

// Add registers a dependency probe. Nil pingers are ignored so optional
// dependencies can be passed unconditionally.
func (c *Checker) Add(name string, p Pinger) *Checker {
	if p != nil {
		c.checks[name] = p
	}
	return c
}

// SetReady sets the readiness state
func (c *Checker) SetReady(ready bool) {
	c.ready.Store(ready)
}

// RegisterRoutes registers health check endpoints
func (c *Checker) RegisterRoutes(e *echo.Echo) {
	e.GET("/api/v1/health", c.Health)
	e.GET("/api/v1/health/live", c.Live)
	e.GET("/api/v1/health/ready", c.Ready)
}

// HealthStatus represents the health check response
type HealthStatus struct {
	Status     string                  `json:"status"`
	Version    string                  `json:"version"`
	Uptime     string                  `json:"uptime"`
	Checks     map[string]*CheckResult `json:"checks"`
	ReportedAt time.Time               `json:"reported_at"`
}

// CheckResult represents an individual check result
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Health returns the overall health status
func (c *Checker) Health(ctx echo.Context) error {
	status := &HealthStatus{
		Status:     "healthy",
		Version:    c.version,
		Uptime:     time.Since(c.startTime).Round(time.Second).String(),
		Checks:     make(map[string]*CheckResult, len(c.checks)),
		ReportedAt: time.Now(),
	}

	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		result := c.probe(ctx.Request().Context(), c.checks[name])
		if result.Status != "healthy" {
			status.Status = "unhealthy"
		}
		status.Checks[name] = result
	}

	httpStatus := http.StatusOK
	if status.Status == "unhealthy" {
		httpStatus = http.StatusServiceUnavailable
	}

	return ctx.JSON(httpStatus, status)
}

func (c *Checker) probe(ctx context.Context, p Pinger) *CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	if err := p.PingContext(ctx); err != nil {
		return &CheckResult{Status: "unhealthy", Message: err.Error()}
	}
	return &CheckResult{Status: "healthy", Latency: time.Since(start).String()}
}

// Live reports that the process is up.
func (c *Checker) Live(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]string{"status": "alive"})
}

// Ready reports whether startup finished and the API can take traffic.
func (c *Checker) Ready(ctx echo.Context) error {
	if !c.ready.Load() {
		return ctx.JSON(http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
	}
	return ctx.JSON(http.StatusOK, map[string]string{"status": "ready"})
}
