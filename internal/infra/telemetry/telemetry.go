package telemetry

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// AuthMetrics counts login and refresh outcomes.
type AuthMetrics struct {
	login   *prometheus.CounterVec
	refresh *prometheus.CounterVec
}

// NewAuthMetrics registers the auth outcome counters. Counters already
// registered on reg are reused.
func NewAuthMetrics(reg prometheus.Registerer) (*AuthMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	login := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dota",
		Subsystem: "auth",
		Name:      "login_total",
		Help:      "Login attempts partitioned by result",
	}, []string{"result"})

	refresh := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dota",
		Subsystem: "auth",
		Name:      "refresh_total",
		Help:      "Refresh token rotations partitioned by result",
	}, []string{"result"})

	var err error
	if login, err = registerCounterVec(reg, login); err != nil {
		return nil, err
	}
	if refresh, err = registerCounterVec(reg, refresh); err != nil {
		return nil, err
	}

	return &AuthMetrics{login: login, refresh: refresh}, nil
}

// ObserveLogin increments the login counter for result.
func (m *AuthMetrics) ObserveLogin(result string) {
	if m == nil {
		return
	}
	m.login.WithLabelValues(result).Inc()
}

// ObserveRefresh increments the refresh counter for result.
func (m *AuthMetrics) ObserveRefresh(result string) {
	if m == nil {
		return
	}
	m.refresh.WithLabelValues(result).Inc()
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return vec, nil
}
