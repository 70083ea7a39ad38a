package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

var startTime = time.Now()

// HealthChecker tracks liveness facts fed in by the live bot and serves them
// as a /health endpoint.
type HealthChecker struct {
	mu          sync.RWMutex
	lastTick    time.Time
	lastSignal  time.Time
	isConnected bool
	errors      []string
}

// HealthStatus is the /health response body.
type HealthStatus struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	LastTick    time.Time `json:"last_tick"`
	LastSignal  time.Time `json:"last_signal"`
	IsConnected bool      `json:"is_connected"`
	Uptime      string    `json:"uptime"`
	Errors      []string  `json:"errors,omitempty"`
}

// NewHealthChecker creates an empty health tracker.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		errors: make([]string, 0),
	}
}

// SetConnected records the bridge connection state.
func (h *HealthChecker) SetConnected(connected bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.isConnected = connected
}

// TickSeen records the time of the latest processed tick.
func (h *HealthChecker) TickSeen(at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastTick = at
}

// SignalSeen records the time of the latest emitted signal.
func (h *HealthChecker) SignalSeen(at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastSignal = at
}

// AddError appends a persistent error message, keeping the last five.
func (h *HealthChecker) AddError(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, msg)
	if len(h.errors) > 5 {
		h.errors = h.errors[len(h.errors)-5:]
	}
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	if !h.isConnected || time.Since(h.lastTick) > 5*time.Minute {
		status = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if len(h.errors) > 0 {
		status = "unhealthy"
		w.WriteHeader(http.StatusInternalServerError)
	}

	health := HealthStatus{
		Status:      status,
		Timestamp:   time.Now(),
		LastTick:    h.lastTick,
		LastSignal:  h.lastSignal,
		IsConnected: h.isConnected,
		Uptime:      time.Since(startTime).String(),
		Errors:      h.errors,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}
