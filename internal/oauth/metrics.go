package oauth

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	refreshSuccess = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "particle_oauth_refresh_success_total",
			Help: "Successful OAuth refreshes",
		},
		[]string{"provider"},
	)
	refreshFailure = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "particle_oauth_refresh_failure_total",
			Help: "Failed OAuth refreshes",
		},
		[]string{"provider"},
	)
	tokenValid = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "particle_oauth_token_valid",
			Help: "OAuth access token validity (1=valid, 0=invalid)",
		},
		[]string{"provider"},
	)
	remotePersistOK = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "particle_oauth_remote_persist_ok",
			Help: "Remote blob persistence health (1=ok, 0=error)",
		},
		[]string{"provider"},
	)
	tokenExpiry = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "particle_oauth_access_token_expiry_timestamp_seconds",
			Help: "Expiry of the cached Particle access token (epoch seconds)",
		},
		[]string{"provider"},
	)
	refreshDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "particle_oauth_refresh_duration_seconds",
			Help:    "Latency of refresh-token grants against the Particle token endpoint",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"provider", "outcome"},
	)
	scopeMismatch = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "particle_oauth_scope_mismatch_total",
			Help: "Scope mismatches between declaration and state",
		},
		[]string{"provider"},
	)
)

// MetricsCollectors returns collectors for token refresh and state mirroring.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		refreshSuccess,
		refreshFailure,
		tokenValid,
		remotePersistOK,
		tokenExpiry,
		refreshDuration,
		scopeMismatch,
	}
}

func observeRefresh(provider string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	refreshDuration.WithLabelValues(provider, outcome).Observe(time.Since(start).Seconds())
}

// recordExpiry publishes the access token expiry. A state without an access
// token reports 0.
func recordExpiry(provider string, expiresAt time.Time) {
	if expiresAt.IsZero() {
		tokenExpiry.WithLabelValues(provider).Set(0)
		return
	}
	tokenExpiry.WithLabelValues(provider).Set(float64(expiresAt.Unix()))
}
