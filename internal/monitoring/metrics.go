package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ticksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playbook_bot_ticks_total",
			Help: "Total number of ticks processed",
		},
		[]string{"symbol"},
	)

	barClosesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playbook_bot_bar_closes_total",
			Help: "Total number of bar closes detected",
		},
		[]string{"symbol", "timeframe"},
	)

	signalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playbook_bot_signals_total",
			Help: "Total number of trade signals emitted",
		},
		[]string{"playbook", "direction"},
	)

	currentPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "playbook_bot_current_price",
			Help: "Latest bid price per symbol",
		},
		[]string{"symbol"},
	)

	breakersOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "playbook_bot_circuit_breakers_open",
			Help: "Number of playbook instances with a tripped circuit breaker",
		},
	)

	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playbook_bot_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(ticksTotal)
	prometheus.MustRegister(barClosesTotal)
	prometheus.MustRegister(signalsTotal)
	prometheus.MustRegister(currentPrice)
	prometheus.MustRegister(breakersOpen)
	prometheus.MustRegister(errorsTotal)
}

// MetricsHandler serves the Prometheus metrics endpoint.
type MetricsHandler struct{}

// NewMetricsHandler creates a new metrics handler.
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

func (m *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// RecordTick counts a processed tick and updates the price gauge.
func RecordTick(symbol string, bid float64) {
	ticksTotal.WithLabelValues(symbol).Inc()
	currentPrice.WithLabelValues(symbol).Set(bid)
}

// RecordBarClose counts a detected bar close.
func RecordBarClose(symbol, timeframe string) {
	barClosesTotal.WithLabelValues(symbol, timeframe).Inc()
}

// RecordSignal counts an emitted trade signal.
func RecordSignal(playbook, direction string) {
	signalsTotal.WithLabelValues(playbook, direction).Inc()
}

// SetBreakersOpen publishes the number of tripped instance breakers.
func SetBreakersOpen(n int) {
	breakersOpen.Set(float64(n))
}

// RecordError counts an error by type ("bridge", "order", "expression", ...).
func RecordError(errorType string) {
	errorsTotal.WithLabelValues(errorType).Inc()
}
