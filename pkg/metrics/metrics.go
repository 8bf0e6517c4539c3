package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the service's Prometheus collectors. A nil *Metrics is a no-op.
type Metrics struct {
	RealmsProvisioned    prometheus.Counter
	ProvisioningFailures *prometheus.CounterVec
	UsersProvisioned     *prometheus.CounterVec
	TokenValidations     *prometheus.CounterVec
	ValidationDuration   prometheus.Histogram
	JWKSFetches          *prometheus.CounterVec
	Logins               *prometheus.CounterVec
}

// New registers collectors with reg. Pass prometheus.DefaultRegisterer in
// binaries and prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RealmsProvisioned: f.NewCounter(prometheus.CounterOpts{
			Name: "realmauth_realms_provisioned_total",
			Help: "Company realms fully provisioned",
		}),
		ProvisioningFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "realmauth_provisioning_failures_total",
			Help: "Provisioning workflows aborted, by failing step",
		}, []string{"step"}),
		UsersProvisioned: f.NewCounterVec(prometheus.CounterOpts{
			Name: "realmauth_users_provisioned_total",
			Help: "Users created in realms, by flow",
		}, []string{"flow"}),
		TokenValidations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "realmauth_token_validations_total",
			Help: "Bearer token validations by outcome and final stage",
		}, []string{"outcome", "stage"}),
		ValidationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "realmauth_token_validation_duration_seconds",
			Help:    "Time spent validating a bearer token",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		JWKSFetches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "realmauth_jwks_fetches_total",
			Help: "Key set fetches by result (ok, error, rate_limited)",
		}, []string{"result"}),
		Logins: f.NewCounterVec(prometheus.CounterOpts{
			Name: "realmauth_logins_total",
			Help: "Credential exchanges by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) IncRealmProvisioned() {
	if m != nil {
		m.RealmsProvisioned.Inc()
	}
}

func (m *Metrics) IncProvisioningFailure(step string) {
	if m != nil {
		m.ProvisioningFailures.WithLabelValues(step).Inc()
	}
}

func (m *Metrics) IncUserProvisioned(flow string) {
	if m != nil {
		m.UsersProvisioned.WithLabelValues(flow).Inc()
	}
}

func (m *Metrics) ObserveValidation(outcome, stage string, start time.Time) {
	if m == nil {
		return
	}
	m.TokenValidations.WithLabelValues(outcome, stage).Inc()
	m.ValidationDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncJWKSFetch(result string) {
	if m != nil {
		m.JWKSFetches.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) IncLogin(outcome string) {
	if m != nil {
		m.Logins.WithLabelValues(outcome).Inc()
	}
}
