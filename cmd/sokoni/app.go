package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/sokoni/internal/audit"
	"github.com/dropDatabas3/sokoni/internal/auth"
	"github.com/dropDatabas3/sokoni/internal/cache"
	"github.com/dropDatabas3/sokoni/internal/config"
	"github.com/dropDatabas3/sokoni/internal/http/middlewares"
	"github.com/dropDatabas3/sokoni/internal/domain/types"
	"github.com/dropDatabas3/sokoni/internal/notify"
	"github.com/dropDatabas3/sokoni/internal/observability/logger"
	"github.com/dropDatabas3/sokoni/internal/payment"
	"github.com/dropDatabas3/sokoni/internal/profile"
	"github.com/dropDatabas3/sokoni/internal/rate"
	"github.com/dropDatabas3/sokoni/internal/session"
	store "github.com/dropDatabas3/sokoni/internal/store"
	"github.com/dropDatabas3/sokoni/internal/store/adapters/noop"
	migrations "github.com/dropDatabas3/sokoni/migrations/postgres"

	// Adapters registrados vía init()
	_ "github.com/dropDatabas3/sokoni/internal/store/adapters/memory"
	_ "github.com/dropDatabas3/sokoni/internal/store/adapters/pg"
	_ "github.com/dropDatabas3/sokoni/internal/store/adapters/rest"
)

// app agrupa las piezas cableadas a partir de la config.
type app struct {
	cfg      *config.Config
	cache    cache.Client
	stores   *store.Stores
	manager  *session.Manager
	gateway  *auth.Gateway
	notices  *notify.Buffer
	mailer   *notify.Mailer
	payments *payment.Flow
	limiter  rate.Limiter
	proxies  *middlewares.ProxyTrust
	pool     *pgxpool.Pool // solo si el audit a postgres abrió su propio pool
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log := logger.From(ctx)
	a := &app{cfg: cfg}

	proxies, err := middlewares.NewProxyTrust(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	a.proxies = proxies

	c, err := cache.New(ctx, cache.Config{
		Driver:     cfg.Cache.Kind,
		Addr:       cfg.Cache.Redis.Addr,
		Password:   cfg.Cache.Redis.Password,
		DB:         cfg.Cache.Redis.DB,
		Prefix:     cfg.Cache.Redis.Prefix,
		DefaultTTL: config.Dur(cfg.Cache.Memory.DefaultTTL, 720*time.Hour),
	})
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	a.cache = c

	a.stores = openStores(ctx, cfg, c)
	if cfg.Storage.Migrate {
		if err := migrate(ctx, a.stores); err != nil {
			log.Warn("migrations failed", logger.Err(err))
		}
	}

	ph := cfg.Profile.Placeholder
	resolver := profile.NewResolver(a.stores.Tables, profile.Config{
		Table:             cfg.Profile.Table,
		OrganizationTable: cfg.Profile.OrganizationTable,
		WriteTimeout:      config.Dur(cfg.Profile.WriteTimeout, 10*time.Second),
		Placeholder: profile.Placeholder{
			FirstName: ph.FirstName,
			LastName:  ph.LastName,
			UserType:  types.UserType(ph.UserType),
			County:    ph.County,
			Town:      ph.Town,
		},
	})
	a.manager = session.NewManager(a.stores.Auth, session.NewStore(), resolver)

	sink, err := a.auditSink(ctx)
	if err != nil {
		log.Warn("audit sink unavailable, falling back to log", logger.Err(err))
		sink = audit.LogSink{}
	}

	a.notices = notify.NewBuffer(100)
	sinks := []notify.Sink{notify.LogSink{}, a.notices}
	if cfg.SMTP.Host != "" {
		a.mailer = &notify.Mailer{
			Sender:  notify.NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.From, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.TLS),
			AppName: "Sokoni",
		}
		sinks = append(sinks, a.mailer)
	}

	a.gateway = auth.NewGateway(a.stores.Auth, a.manager, auth.Options{
		MinPasswordLength: cfg.Auth.MinPasswordLength,
		Audit:             sink,
		AuditKey:          cfg.Auth.AuditKey,
		Notify:            notify.Fanout(sinks...),
	})

	a.limiter = rate.Nop{}
	if cfg.Rate.Enabled {
		a.limiter = rate.New(c, "rl:signin", cfg.Rate.SignIn.Limit, config.Dur(cfg.Rate.SignIn.Window, time.Minute))
	}

	a.payments = &payment.Flow{
		Registry:        payment.NewRegistry(paymentProviders(cfg)...),
		DefaultCurrency: cfg.Payments.Currency,
		Timeout:         45 * time.Second,
	}
	return a, nil
}

// openStores nunca falla: si el backend no responde se usa el adapter noop y
// cada acción remota termina en "service unavailable".
func openStores(ctx context.Context, cfg *config.Config, c cache.Client) *store.Stores {
	authCfg := store.AdapterConfig{
		Name:         cfg.Backend.Adapter,
		URL:          cfg.Backend.URL,
		AnonKey:      cfg.Backend.AnonKey,
		DemoPath:     cfg.Backend.DemoPath,
		Timeout:      config.Dur(cfg.Backend.Timeout, 15*time.Second),
		SessionCache: c,
		JWTSecret:    cfg.Backend.JWTSecret,
	}
	var tablesCfg *store.AdapterConfig
	if cfg.Backend.Adapter == "postgres" {
		// auth sigue siendo el servicio rest; las tablas van directo a postgres
		authCfg.Name = "rest"
		tablesCfg = &store.AdapterConfig{
			Name:         "postgres",
			DSN:          cfg.Storage.DSN,
			MaxOpenConns: cfg.Storage.Postgres.MaxOpenConns,
			MaxIdleConns: cfg.Storage.Postgres.MaxIdleConns,
		}
	}

	s, err := store.OpenStores(ctx, authCfg, tablesCfg)
	if err == nil {
		logger.From(ctx).Info("backend connected",
			logger.Adapter(s.AuthConn.Name()),
			logger.String("tables", s.TablesConn.Name()),
		)
		return s
	}
	logger.From(ctx).Error("backend unavailable, running degraded", logger.Adapter(authCfg.Name), logger.Err(err))
	conn, _ := noop.New().Connect(ctx, authCfg)
	return store.StoresFrom(conn)
}

func migrate(ctx context.Context, s *store.Stores) error {
	mc, ok := s.TablesConn.(store.MigratableConnection)
	if !ok {
		return nil
	}
	res, err := store.NewMigrator(migrations.FS, migrations.Dir).Run(ctx, mc.GetMigrationExecutor())
	if err != nil {
		return err
	}
	logger.From(ctx).Info("migrations applied",
		logger.Int("applied", len(res.Applied)),
		logger.Int("skipped", len(res.Skipped)),
		logger.Duration(res.Duration),
	)
	return nil
}

func (a *app) auditSink(ctx context.Context) (audit.Sink, error) {
	switch a.cfg.Auth.AuditSink {
	case "none":
		return audit.Nop{}, nil
	case "table":
		return audit.Multi{audit.LogSink{}, audit.TableSink{Tables: a.stores.Tables}}, nil
	case "postgres":
		if pc, ok := a.stores.TablesConn.(interface{ Pool() *pgxpool.Pool }); ok {
			return audit.Multi{audit.LogSink{}, audit.PGSink{DB: pc.Pool()}}, nil
		}
		pool, err := pgxpool.New(ctx, a.cfg.Storage.DSN)
		if err != nil {
			return nil, err
		}
		a.pool = pool
		return audit.Multi{audit.LogSink{}, audit.PGSink{DB: pool}}, nil
	default:
		return audit.LogSink{}, nil
	}
}

func paymentProviders(cfg *config.Config) []payment.Provider {
	var out []payment.Provider
	if m := cfg.Payments.Mpesa; m.Enabled {
		out = append(out, payment.NewMpesa(payment.MpesaConfig{
			Environment:    m.Environment,
			ShortCode:      m.ShortCode,
			Passkey:        m.Passkey,
			ConsumerKey:    m.ConsumerKey,
			ConsumerSecret: m.ConsumerSecret,
			CallbackURL:    m.CallbackURL,
			BaseURL:        m.BaseURL,
		}))
	}
	if h := cfg.Payments.Hosted; h.Enabled {
		out = append(out, payment.NewHosted(payment.HostedConfig{
			BaseURL:     h.BaseURL,
			SecretKey:   h.SecretKey,
			RedirectURL: h.RedirectURL,
		}))
	}
	return out
}

// Close libera todo en orden inverso al armado.
func (a *app) Close() {
	a.manager.Teardown()
	if a.mailer != nil {
		a.mailer.Wait()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if err := a.stores.Close(); err != nil {
		logger.L().Warn("close stores", logger.Err(err))
	}
	if err := a.cache.Close(); err != nil {
		logger.L().Warn("close cache", logger.Err(err))
	}
}
