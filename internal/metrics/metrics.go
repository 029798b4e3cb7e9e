// Package metrics exposes gatekeeper counters in the Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Recorder struct {
	registry          *prometheus.Registry
	rateLimitDecision *prometheus.CounterVec
	authFailures      *prometheus.CounterVec
	tokensIssued      prometheus.Counter
	tokensRevoked     prometheus.Counter
	sweptEntries      *prometheus.CounterVec
}

// New registers the gatekeeper collectors on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		rateLimitDecision: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_ratelimit_decisions_total",
			Help: "Rate limit admission decisions by deciding scope.",
		}, []string{"scope", "decision"}),
		authFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_auth_failures_total",
			Help: "Rejected authorizations by error kind.",
		}, []string{"kind"}),
		tokensIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "gatekeeper_tokens_issued_total",
			Help: "Service tokens issued.",
		}),
		tokensRevoked: factory.NewCounter(prometheus.CounterOpts{
			Name: "gatekeeper_tokens_revoked_total",
			Help: "Service tokens revoked.",
		}),
		sweptEntries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_swept_entries_total",
			Help: "Stale entries removed by the background sweeper.",
		}, []string{"store"}),
	}
}

func (r *Recorder) RateLimitDecision(scope string, allowed bool) {
	decision := "denied"
	if allowed {
		decision = "allowed"
	}
	r.rateLimitDecision.WithLabelValues(scope, decision).Inc()
}

func (r *Recorder) AuthFailure(kind string) {
	r.authFailures.WithLabelValues(kind).Inc()
}

func (r *Recorder) TokenIssued() { r.tokensIssued.Inc() }

func (r *Recorder) TokenRevoked() { r.tokensRevoked.Inc() }

func (r *Recorder) Swept(store string, n int) {
	r.sweptEntries.WithLabelValues(store).Add(float64(n))
}

// Handler serves the registry.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}
