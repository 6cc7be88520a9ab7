package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Métricas del core. Viven en un paquete propio para que profile, auth,
// payment y http las compartan sin ciclos de import.

var (
	ProfileResolutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sokoni_profile_resolutions_total",
		Help: "Perfiles resueltos por grado de completitud (stored, full, minimal, id_only, synthetic)",
	}, []string{"completeness"})

	ProfileWriteAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sokoni_profile_write_attempts_total",
		Help: "Intentos de escritura del ladder de perfiles por peldaño y resultado",
	}, []string{"rung", "kind"})

	AuthActions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sokoni_auth_actions_total",
		Help: "Acciones de auth (signin, signup, signout, demo) por resultado",
	}, []string{"action", "outcome"})

	Payments = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sokoni_payments_total",
		Help: "Pagos procesados por proveedor y resultado",
	}, []string{"provider", "outcome"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sokoni_http_request_duration_ms",
		Help:    "Latencia de requests HTTP en milisegundos",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	}, []string{"route", "status"})
)

// Register registra las métricas en reg (o el default si es nil).
// Registrar dos veces no es un error.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{
		ProfileResolutions,
		ProfileWriteAttempts,
		AuthActions,
		Payments,
		HTTPRequestDuration,
	} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}
	return nil
}
