package handler

import (
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

// Pinger is anything that can report liveness of a dependency.
type Pinger interface {
	Ping() error
}

// HealthDeps lists the dependencies the readiness probe checks. Nil
// entries are skipped.
type HealthDeps struct {
	Database Pinger
	Redis    Pinger
	Chain    Pinger
}

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	ready atomic.Bool
	deps  *HealthDeps
}

// NewHealthHandler creates the probe handler. Readiness starts false
// and is flipped once startup wiring completes.
func NewHealthHandler(deps *HealthDeps) *HealthHandler {
	h := &HealthHandler{deps: deps}
	h.ready.Store(false)
	return h
}

// SetReady flips the readiness gate.
func (h *HealthHandler) SetReady(ready bool) {
	h.ready.Store(ready)
}

// Live answers the liveness probe.
// GET /health/live
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready answers the readiness probe, checking every registered
// dependency.
// GET /health/ready
func (h *HealthHandler) Ready(c *gin.Context) {
	if !h.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": "service initializing",
		})
		return
	}

	checks := make(map[string]string)
	allOK := true
	check := func(name string, p Pinger) {
		if p == nil {
			return
		}
		if err := p.Ping(); err != nil {
			checks[name] = err.Error()
			allOK = false
			return
		}
		checks[name] = "ok"
	}

	if h.deps != nil {
		check("database", h.deps.Database)
		check("redis", h.deps.Redis)
		check("chain", h.deps.Chain)
	}

	status := http.StatusOK
	body := gin.H{"status": "ok", "checks": checks}
	if !allOK {
		status = http.StatusServiceUnavailable
		body["status"] = "unhealthy"
	}
	c.JSON(status, body)
}
