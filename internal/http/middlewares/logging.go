package middlewares

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dropDatabas3/sokoni/internal/metrics"
	"github.com/dropDatabas3/sokoni/internal/observability/logger"
)

// statusRecorder captura el status code y bytes escritos de la respuesta.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.wroteHeader {
		return
	}
	s.status = code
	s.wroteHeader = true
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if !s.wroteHeader {
		s.WriteHeader(http.StatusOK)
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

// WithLogging registra cada request e inyecta en el contexto un logger con
// request_id, method y path. El nivel depende del status.
//
//	{"level":"info","msg":"request completed","request_id":"...","method":"POST","path":"/v1/auth/signin","status":200,"duration":0.045}
func WithLogging(proxies *ProxyTrust) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			reqLog := logger.L().With(
				logger.RequestID(GetRequestID(r.Context())),
				logger.Method(r.Method),
				logger.Path(r.URL.Path),
				logger.ClientIP(proxies.ClientIP(r)),
			)
			ctx := logger.ToContext(r.Context(), reqLog)
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r.WithContext(ctx))

			fields := []zap.Field{logger.Status(rec.status), logger.Int("bytes", rec.bytes), logger.Duration(time.Since(start))}
			switch {
			case rec.status >= 500:
				reqLog.Error("request failed", fields...)
			case rec.status >= 400:
				reqLog.Warn("request completed with client error", fields...)
			default:
				reqLog.Info("request completed", fields...)
			}
		})
	}
}

// WithMetrics observa la latencia por patrón de ruta de chi (no por path
// crudo, para no explotar la cardinalidad).
func WithMetrics() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					route = p
				}
			}
			metrics.HTTPRequestDuration.
				WithLabelValues(route, strconv.Itoa(rec.status)).
				Observe(float64(time.Since(start).Milliseconds()))
		})
	}
}

// ClientIP retorna la IP del peer directo. No mira X-Forwarded-For; para eso
// está ProxyTrust.ClientIP.
func ClientIP(r *http.Request) string {
	return (*ProxyTrust)(nil).ClientIP(r)
}
