package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics agrupa los contadores de resultados de autenticacion.
// Un *Metrics nil es valido y no registra nada.
type Metrics struct {
	Logins        *prometheus.CounterVec
	Registrations prometheus.Counter
	Refreshes     *prometheus.CounterVec
	TwoFactor     *prometheus.CounterVec
	RateLimited   *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Logins: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_auth_logins_total",
			Help: "Login attempts by result",
		}, []string{"result"}),
		Registrations: factory.NewCounter(prometheus.CounterOpts{
			Name: "crm_auth_registrations_total",
			Help: "Accounts registered with email and password",
		}),
		Refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_auth_refresh_total",
			Help: "Refresh token exchanges by result",
		}, []string{"result"}),
		TwoFactor: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_auth_two_factor_total",
			Help: "Two-factor verifications by result",
		}, []string{"result"}),
		RateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_auth_rate_limited_total",
			Help: "Requests rejected by rate limiting, by scope",
		}, []string{"scope"}),
	}
}

func (m *Metrics) Login(result string) {
	if m == nil {
		return
	}
	m.Logins.WithLabelValues(result).Inc()
}

func (m *Metrics) Registered() {
	if m == nil {
		return
	}
	m.Registrations.Inc()
}

func (m *Metrics) Refresh(result string) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) TwoFactorCheck(result string) {
	if m == nil {
		return
	}
	m.TwoFactor.WithLabelValues(result).Inc()
}

func (m *Metrics) Limited(scope string) {
	if m == nil {
		return
	}
	m.RateLimited.WithLabelValues(scope).Inc()
}
