// Package http expone el core de sesión y los pagos como una API JSON local.
package http

import (
	"context"
	"errors"
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dropDatabas3/sokoni/internal/auth"
	"github.com/dropDatabas3/sokoni/internal/cache"
	"github.com/dropDatabas3/sokoni/internal/http/middlewares"
	"github.com/dropDatabas3/sokoni/internal/notify"
	"github.com/dropDatabas3/sokoni/internal/observability/logger"
	"github.com/dropDatabas3/sokoni/internal/payment"
	"github.com/dropDatabas3/sokoni/internal/rate"
)

// Deps son las piezas ya cableadas que sirve la API.
type Deps struct {
	Gateway  *auth.Gateway
	Payments *payment.Flow // nil deshabilita /v1/payments
	Notices  *notify.Buffer
	// SignInLimiter limita POST /v1/auth/signin por IP. nil = sin límite.
	SignInLimiter rate.Limiter
	// Ready lo usa /readyz (ej: ping al adapter). nil = siempre listo.
	Ready func(ctx context.Context) error
	// Cache se reporta en /readyz. nil = no se reporta.
	Cache    cache.Client
	Gatherer prometheus.Gatherer
	// AllowedOrigins para CORS. Vacío = sin CORS.
	AllowedOrigins []string
	// Proxies decide cuándo creer en X-Forwarded-For. nil = solo RemoteAddr.
	Proxies *middlewares.ProxyTrust
}

// NewRouter arma el router con la cadena de middlewares estándar.
func NewRouter(d Deps) stdhttp.Handler {
	h := &handlers{deps: d}

	r := chi.NewRouter()
	r.Use(
		middlewares.WithRecover(),
		middlewares.WithRequestID(),
		middlewares.WithLogging(d.Proxies),
		middlewares.WithMetrics(),
		middlewares.WithSecurityHeaders(),
	)
	if len(d.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   d.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
			AllowCredentials: true,
			MaxAge:           600,
		}))
	}
	r.NotFound(func(w stdhttp.ResponseWriter, _ *stdhttp.Request) { writeErr(w, errNotFound) })
	r.MethodNotAllowed(func(w stdhttp.ResponseWriter, _ *stdhttp.Request) { writeErr(w, errMethodNotAllowed) })

	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)

	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Method(stdhttp.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Use(middlewares.WithNoStore())
		r.Get("/state", h.state)

		r.Route("/auth", func(r chi.Router) {
			r.With(middlewares.WithRateLimit(middlewares.RateLimitConfig{
				Limiter: d.SignInLimiter,
				KeyFunc: d.Proxies.RateKey,
			})).Post("/signin", h.signIn)
			r.Post("/signup", h.signUp)
			r.Post("/signout", h.signOut)
			r.Post("/demo", h.demo)
		})

		if d.Payments != nil {
			r.Post("/payments", h.pay)
		}
	})
	return r
}

// Server envuelve stdhttp.Server con apagado ordenado.
type Server struct {
	srv             *stdhttp.Server
	shutdownTimeout time.Duration
}

func NewServer(addr string, handler stdhttp.Handler) *Server {
	return &Server{
		srv: &stdhttp.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      30 * time.Second,
		},
		shutdownTimeout: 10 * time.Second,
	}
}

// Run sirve hasta que ctx termine y después apaga esperando los requests en curso.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		logger.L().Info("http server listening", logger.String("addr", s.srv.Addr))
		errc <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, stdhttp.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(sctx); err != nil {
		return err
	}
	logger.L().Info("http server stopped")
	return nil
}
