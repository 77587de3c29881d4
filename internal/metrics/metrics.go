package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CheckoutMetrics counts payment attempts and wallet candidate probes.
type CheckoutMetrics struct {
	Attempts     *prometheus.CounterVec
	WalletProbes *prometheus.CounterVec
}

func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefront",
		Subsystem: "checkout",
		Name:      "attempts_total",
		Help:      "Total number of payment attempts.",
	}, []string{"method", "outcome"})
	probes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefront",
		Subsystem: "checkout",
		Name:      "wallet_probes_total",
		Help:      "Total number of wallet redirect candidate probes.",
	}, []string{"outcome"})

	reg.MustRegister(attempts, probes)
	return &CheckoutMetrics{Attempts: attempts, WalletProbes: probes}
}

// ObserveAttempt is nil-safe so the orchestrator can run without metrics.
func (m *CheckoutMetrics) ObserveAttempt(method, outcome string) {
	if m == nil {
		return
	}
	m.Attempts.WithLabelValues(method, outcome).Inc()
}

func (m *CheckoutMetrics) ObserveWalletProbe(outcome string) {
	if m == nil {
		return
	}
	m.WalletProbes.WithLabelValues(outcome).Inc()
}

func Handler() http.Handler {
	return promhttp.Handler()
}
