package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/sokoni/internal/config"
	"github.com/dropDatabas3/sokoni/internal/domain/types"
	sokonihttp "github.com/dropDatabas3/sokoni/internal/http"
	"github.com/dropDatabas3/sokoni/internal/metrics"
	"github.com/dropDatabas3/sokoni/internal/observability/logger"
	"github.com/dropDatabas3/sokoni/internal/payment"
	"github.com/dropDatabas3/sokoni/internal/store/adapters/rest"
)

var version = "dev"

func main() {
	var (
		cfgPath = envOr("SOKONI_CONFIG", "")
		envFile = ".env"
		cfg     *config.Config
	)

	root := &cobra.Command{
		Use:           "sokoni",
		Short:         "Core de sesión y perfiles del marketplace Sokoni",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("load %s: %w", envFile, err)
			}
			c, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			logEnv := "dev"
			if c.App.Env == "prod" {
				logEnv = "prod"
			}
			logger.Init(logger.Config{Env: logEnv, Level: c.Log.Level, ServiceName: "sokoni", Version: version})
			for _, w := range c.Warnings() {
				logger.L().Warn(w)
			}
			cfg = c
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) { _ = logger.Sync() },
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", cfgPath, "Archivo YAML de configuración (env SOKONI_CONFIG)")
	root.PersistentFlags().StringVar(&envFile, "env-file", envFile, "Archivo .env a cargar si existe")

	// withApp arma la app, inicializa la sesión y corre fn.
	withApp := func(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx = logger.ToContext(ctx, logger.L())

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()
		a.manager.Initialize(ctx)
		return fn(ctx, a)
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Levanta la API HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				reg := prometheus.NewRegistry()
				if err := metrics.Register(reg); err != nil {
					return err
				}
				router := sokonihttp.NewRouter(sokonihttp.Deps{
					Gateway:        a.gateway,
					Payments:       a.payments,
					Notices:        a.notices,
					SignInLimiter:  a.limiter,
					Ready:          a.stores.Ping,
					Cache:          a.cache,
					Gatherer:       reg,
					AllowedOrigins: a.cfg.Server.CORSAllowedOrigins,
					Proxies:        a.proxies,
				})

				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error { return sokonihttp.NewServer(a.cfg.Server.Addr, router).Run(gctx) })
				if rc, ok := a.stores.AuthConn.(*rest.Connection); ok {
					margin := config.Dur(a.cfg.Auth.RefreshMargin, time.Minute)
					g.Go(func() error {
						rc.StartAutoRefresh(gctx, 30*time.Second, margin)
						return nil
					})
				}
				return g.Wait()
			})
		},
	}

	var email, password string
	signInCmd := &cobra.Command{
		Use:   "signin",
		Short: "Inicia sesión con email y password",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if _, err := a.gateway.SignIn(ctx, email, password); err != nil {
					return err
				}
				return printState(a)
			})
		},
	}
	signInCmd.Flags().StringVar(&email, "email", "", "Email")
	signInCmd.Flags().StringVar(&password, "password", envOr("SOKONI_PASSWORD", ""), "Password (env SOKONI_PASSWORD)")

	var su types.SignUpFields
	var suType string
	signUpCmd := &cobra.Command{
		Use:   "signup",
		Short: "Registra una cuenta nueva",
		RunE: func(cmd *cobra.Command, args []string) error {
			su.UserType = types.UserType(suType)
			return withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.gateway.SignUp(ctx, su)
				if err != nil {
					return err
				}
				if res.NeedsConfirmation {
					fmt.Println("Check your email to confirm the account.")
					return nil
				}
				return printState(a)
			})
		},
	}
	fl := signUpCmd.Flags()
	fl.StringVar(&su.Email, "email", "", "Email")
	fl.StringVar(&su.Password, "password", envOr("SOKONI_PASSWORD", ""), "Password (env SOKONI_PASSWORD)")
	fl.StringVar(&su.FirstName, "first-name", "", "Nombre")
	fl.StringVar(&su.LastName, "last-name", "", "Apellido")
	fl.StringVar(&su.Phone, "phone", "", "Teléfono")
	fl.StringVar(&suType, "user-type", "retailer", "Tipo de usuario: "+userTypeList())
	fl.StringVar(&su.BusinessName, "business-name", "", "Nombre del negocio")
	fl.StringVar(&su.BusinessType, "business-type", "", "Rubro del negocio")
	fl.StringVar(&su.Location.County, "county", "", "Condado")
	fl.StringVar(&su.Location.Town, "town", "", "Ciudad")
	fl.StringVar(&su.MpesaPhone, "mpesa-phone", "", "Teléfono M-Pesa")
	fl.StringVar(&su.ReferredBy, "referred-by", "", "Código de referido")

	signOutCmd := &cobra.Command{
		Use:   "signout",
		Short: "Cierra la sesión vigente",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				_ = a.gateway.SignOut(ctx)
				fmt.Println("signed out")
				return nil
			})
		},
	}

	demoCmd := &cobra.Command{
		Use:   "demo <user-type>",
		Short: "Entra con una cuenta demo (" + userTypeList() + ")",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if _, err := a.gateway.DemoLogin(ctx, args[0]); err != nil {
					return err
				}
				return printState(a)
			})
		},
	}

	whoamiCmd := &cobra.Command{
		Use:   "whoami",
		Short: "Muestra la sesión y el perfil vigentes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				a.manager.Wait()
				return printState(a)
			})
		},
	}

	var payProvider, payPhone string
	var payReq payment.Request
	payCmd := &cobra.Command{
		Use:   "pay",
		Short: "Cobra una orden con el proveedor indicado",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				st := a.gateway.State()
				if st.Session == nil {
					return errors.New("sign in first")
				}
				if payReq.CustomerID == "" {
					payReq.CustomerID = st.Session.ActorID()
				}
				res, err := a.payments.Pay(ctx, payProvider, payReq, payment.MethodDetails{"phone": payPhone})
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
	pf := payCmd.Flags()
	pf.StringVar(&payProvider, "provider", "mpesa", "Proveedor: mpesa | hosted")
	pf.Float64Var(&payReq.Amount, "amount", 0, "Monto")
	pf.StringVar(&payReq.Currency, "currency", "", "Moneda ISO 4217 (default: payments.currency)")
	pf.StringVar(&payReq.OrderID, "order", "", "ID de la orden")
	pf.StringVar(&payReq.Description, "description", "", "Descripción")
	pf.StringVar(&payPhone, "phone", "", "Teléfono para mobile money")

	root.AddCommand(serveCmd, signInCmd, signUpCmd, signOutCmd, demoCmd, whoamiCmd, payCmd)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func printState(a *app) error {
	st := a.gateway.State()
	out := map[string]any{"authenticated": st.Session != nil}
	if st.Session != nil {
		out["user"] = st.Session.User
		out["demo"] = st.Session.Demo
	}
	if st.Profile != nil {
		out["profile"] = st.Profile
		out["display_name"] = st.Profile.DisplayName()
	}
	return printJSON(out)
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func userTypeList() string {
	names := make([]string, 0, len(types.UserTypes))
	for _, t := range types.UserTypes {
		names = append(names, string(t))
	}
	return strings.Join(names, "|")
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
