package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env string `yaml:"app_env"`
	} `yaml:"app"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Server struct {
		Addr               string   `yaml:"addr"`
		CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
		// TrustedProxies (IPs o CIDRs) cuyo X-Forwarded-For se acepta.
		TrustedProxies []string `yaml:"trusted_proxies"`
	} `yaml:"server"`

	// Backend remoto (auth + tablas).
	Backend struct {
		// rest | postgres | memory
		Adapter  string `yaml:"adapter"`
		URL      string `yaml:"url"`
		AnonKey  string `yaml:"anon_key"`
		DemoPath string `yaml:"demo_path"`
		Timeout  string `yaml:"timeout"`
		// JWTSecret firma los tokens locales del adapter memory.
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"backend"`

	Storage struct {
		DSN      string `yaml:"dsn"`
		Postgres struct {
			MaxOpenConns int `yaml:"max_open_conns"`
			MaxIdleConns int `yaml:"max_idle_conns"`
		} `yaml:"postgres"`
		Migrate bool `yaml:"migrate"`
	} `yaml:"storage"`

	// Cache donde se persiste la sesión entre ejecuciones.
	Cache struct {
		Kind  string `yaml:"kind"` // memory | redis
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
		Memory struct {
			DefaultTTL string `yaml:"default_ttl"`
		} `yaml:"memory"`
	} `yaml:"cache"`

	Profile struct {
		Table             string `yaml:"table"`
		OrganizationTable string `yaml:"organization_table"`
		WriteTimeout      string `yaml:"write_timeout"`
		Placeholder       struct {
			FirstName string `yaml:"first_name"`
			LastName  string `yaml:"last_name"`
			UserType  string `yaml:"user_type"`
			County    string `yaml:"county"`
			Town      string `yaml:"town"`
		} `yaml:"placeholder"`
	} `yaml:"profile"`

	Auth struct {
		MinPasswordLength int    `yaml:"min_password_length"`
		AuditSink         string `yaml:"audit_sink"` // log | postgres | table | none
		AuditKey          string `yaml:"audit_key"`
		RefreshMargin     string `yaml:"refresh_margin"`
	} `yaml:"auth"`

	Rate struct {
		Enabled bool `yaml:"enabled"`
		SignIn  struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"signin"`
	} `yaml:"rate"`

	SMTP struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		From     string `yaml:"from"`
		TLS      string `yaml:"tls"` // auto | starttls | ssl | none
	} `yaml:"smtp"`

	Payments struct {
		Currency string `yaml:"currency"`
		Mpesa    struct {
			Enabled        bool   `yaml:"enabled"`
			Environment    string `yaml:"environment"` // sandbox | production
			ShortCode      string `yaml:"short_code"`
			Passkey        string `yaml:"passkey"`
			ConsumerKey    string `yaml:"consumer_key"`
			ConsumerSecret string `yaml:"consumer_secret"`
			CallbackURL    string `yaml:"callback_url"`
			BaseURL        string `yaml:"base_url"` // override, útil en tests
		} `yaml:"mpesa"`
		Hosted struct {
			Enabled     bool   `yaml:"enabled"`
			BaseURL     string `yaml:"base_url"`
			SecretKey   string `yaml:"secret_key"`
			RedirectURL string `yaml:"redirect_url"`
		} `yaml:"hosted"`
	} `yaml:"payments"`
}

// Load lee el YAML (si path no está vacío), aplica defaults, overrides por env y valida.
func Load(path string) (*Config, error) {
	var c Config
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, err
		}
	}

	c.applyDefaults()

	// Overrides por env
	c.applyEnvOverrides()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8080"
	}
	if c.Backend.Adapter == "" {
		c.Backend.Adapter = "rest"
	}
	if c.Backend.DemoPath == "" {
		c.Backend.DemoPath = "/functions/v1/demo-login"
	}
	if c.Backend.Timeout == "" {
		c.Backend.Timeout = "15s"
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Cache.Redis.Prefix == "" {
		c.Cache.Redis.Prefix = "sokoni"
	}
	if c.Cache.Memory.DefaultTTL == "" {
		c.Cache.Memory.DefaultTTL = "720h"
	}
	if c.Profile.Table == "" {
		c.Profile.Table = "profiles"
	}
	if c.Profile.OrganizationTable == "" {
		c.Profile.OrganizationTable = "organizations"
	}
	if c.Profile.WriteTimeout == "" {
		c.Profile.WriteTimeout = "10s"
	}
	ph := &c.Profile.Placeholder
	if ph.FirstName == "" {
		ph.FirstName = "New"
	}
	if ph.LastName == "" {
		ph.LastName = "User"
	}
	if ph.UserType == "" {
		ph.UserType = "retailer"
	}
	if ph.County == "" {
		ph.County = "Nairobi"
	}
	if ph.Town == "" {
		ph.Town = "Nairobi"
	}
	if c.Auth.MinPasswordLength == 0 {
		c.Auth.MinPasswordLength = 6
	}
	if c.Auth.AuditSink == "" {
		c.Auth.AuditSink = "log"
	}
	if c.Auth.RefreshMargin == "" {
		c.Auth.RefreshMargin = "60s"
	}
	if c.Rate.SignIn.Limit == 0 {
		c.Rate.SignIn.Limit = 10
	}
	if c.Rate.SignIn.Window == "" {
		c.Rate.SignIn.Window = "1m"
	}
	if c.SMTP.TLS == "" {
		c.SMTP.TLS = "auto"
	}
	if c.Payments.Currency == "" {
		c.Payments.Currency = "KES"
	}
	if c.Payments.Mpesa.Environment == "" {
		c.Payments.Mpesa.Environment = "sandbox"
	}
}

// Validate chequea combinaciones inválidas y duraciones mal formadas.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		return fmt.Errorf("config: server.addr: %w", err)
	}
	for _, p := range c.Server.TrustedProxies {
		if _, _, err := net.ParseCIDR(p); err != nil && net.ParseIP(p) == nil {
			return fmt.Errorf("config: server.trusted_proxies: invalid entry %q", p)
		}
	}

	switch c.Backend.Adapter {
	case "rest":
		if strings.TrimSpace(c.Backend.URL) == "" {
			return fmt.Errorf("config: backend.url is required for adapter rest")
		}
	case "postgres":
		if strings.TrimSpace(c.Backend.URL) == "" {
			return fmt.Errorf("config: backend.url is required (auth) for adapter postgres")
		}
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return fmt.Errorf("config: storage.dsn is required for adapter postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("config: unknown backend.adapter %q", c.Backend.Adapter)
	}

	switch c.Cache.Kind {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: unknown cache.kind %q", c.Cache.Kind)
	}
	if c.Cache.Kind == "redis" && strings.TrimSpace(c.Cache.Redis.Addr) == "" {
		return fmt.Errorf("config: cache.redis.addr is required for cache.kind redis")
	}

	switch c.Auth.AuditSink {
	case "log", "postgres", "table", "none":
	default:
		return fmt.Errorf("config: unknown auth.audit_sink %q", c.Auth.AuditSink)
	}
	if c.Auth.AuditSink == "postgres" && strings.TrimSpace(c.Storage.DSN) == "" {
		return fmt.Errorf("config: storage.dsn is required for auth.audit_sink postgres")
	}

	// La política mínima de password no se puede relajar por debajo de 6.
	if c.Auth.MinPasswordLength < 6 {
		return fmt.Errorf("config: auth.min_password_length must be >= 6")
	}

	durations := map[string]string{
		"backend.timeout":          c.Backend.Timeout,
		"cache.memory.default_ttl": c.Cache.Memory.DefaultTTL,
		"profile.write_timeout":    c.Profile.WriteTimeout,
		"auth.refresh_margin":      c.Auth.RefreshMargin,
		"rate.signin.window":       c.Rate.SignIn.Window,
	}
	for name, v := range durations {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	if len(c.Payments.Currency) != 3 {
		return fmt.Errorf("config: payments.currency must be an ISO 4217 code")
	}
	return nil
}

// Warnings lista configuraciones válidas pero riesgosas. Se loguean una vez
// inicializado el logger.
func (c *Config) Warnings() []string {
	var out []string
	host, _, _ := net.SplitHostPort(c.Server.Addr)
	if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
		out = append(out, fmt.Sprintf("server.addr %q is not loopback: /v1 has no authentication of its own", c.Server.Addr))
	}
	return out
}

// Dur parsea una duración ya validada; retorna def si está vacía.
func Dur(s string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
		return d
	}
	return def
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}
func getEnvCSV(key string) ([]string, bool) {
	if s, ok := getEnvStr(key); ok {
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out, true
	}
	return nil, false
}

// applyEnvOverrides pisa config.yaml con variables de entorno.
func (c *Config) applyEnvOverrides() {
	// APP / LOG
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = v
	}

	// SERVER
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvCSV("SERVER_CORS_ALLOWED_ORIGINS"); ok {
		c.Server.CORSAllowedOrigins = v
	}
	if v, ok := getEnvCSV("SERVER_TRUSTED_PROXIES"); ok {
		c.Server.TrustedProxies = v
	}

	// BACKEND
	if v, ok := getEnvStr("BACKEND_ADAPTER"); ok {
		c.Backend.Adapter = strings.ToLower(v)
	}
	if v, ok := getEnvStr("BACKEND_URL"); ok {
		c.Backend.URL = v
	}
	if v, ok := getEnvStr("BACKEND_ANON_KEY"); ok {
		c.Backend.AnonKey = v
	}
	if v, ok := getEnvStr("BACKEND_DEMO_PATH"); ok {
		c.Backend.DemoPath = v
	}
	if v, ok := getEnvStr("BACKEND_TIMEOUT"); ok {
		c.Backend.Timeout = v
	}
	if v, ok := getEnvStr("BACKEND_JWT_SECRET"); ok {
		c.Backend.JWTSecret = v
	}

	// STORAGE
	if v, ok := getEnvStr("STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}
	if v, ok := getEnvInt("POSTGRES_MAX_OPEN_CONNS"); ok {
		c.Storage.Postgres.MaxOpenConns = v
	}
	if v, ok := getEnvInt("POSTGRES_MAX_IDLE_CONNS"); ok {
		c.Storage.Postgres.MaxIdleConns = v
	}
	if v, ok := getEnvBool("STORAGE_MIGRATE"); ok {
		c.Storage.Migrate = v
	}

	// CACHE
	if v, ok := getEnvStr("CACHE_KIND"); ok {
		c.Cache.Kind = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
	}
	if v, ok := getEnvStr("REDIS_PASSWORD"); ok {
		c.Cache.Redis.Password = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Cache.Redis.DB = v
	}
	if v, ok := getEnvStr("REDIS_PREFIX"); ok {
		c.Cache.Redis.Prefix = v
	}

	// PROFILE
	if v, ok := getEnvStr("PROFILE_TABLE"); ok {
		c.Profile.Table = v
	}
	if v, ok := getEnvStr("PROFILE_WRITE_TIMEOUT"); ok {
		c.Profile.WriteTimeout = v
	}

	// AUTH
	if v, ok := getEnvInt("AUTH_MIN_PASSWORD_LENGTH"); ok {
		c.Auth.MinPasswordLength = v
	}
	if v, ok := getEnvStr("AUTH_AUDIT_SINK"); ok {
		c.Auth.AuditSink = strings.ToLower(v)
	}
	if v, ok := getEnvStr("AUTH_AUDIT_KEY"); ok {
		c.Auth.AuditKey = v
	}

	// RATE
	if v, ok := getEnvBool("RATE_ENABLED"); ok {
		c.Rate.Enabled = v
	}
	if v, ok := getEnvInt("RATE_SIGNIN_LIMIT"); ok {
		c.Rate.SignIn.Limit = v
	}
	if v, ok := getEnvStr("RATE_SIGNIN_WINDOW"); ok {
		c.Rate.SignIn.Window = v
	}

	// SMTP
	if v, ok := getEnvStr("SMTP_HOST"); ok {
		c.SMTP.Host = v
	}
	if v, ok := getEnvInt("SMTP_PORT"); ok {
		c.SMTP.Port = v
	}
	if v, ok := getEnvStr("SMTP_USERNAME"); ok {
		c.SMTP.Username = v
	}
	if v, ok := getEnvStr("SMTP_PASSWORD"); ok {
		c.SMTP.Password = v
	}
	if v, ok := getEnvStr("SMTP_FROM"); ok {
		c.SMTP.From = v
	}
	if v, ok := getEnvStr("SMTP_TLS"); ok {
		c.SMTP.TLS = strings.ToLower(v)
	}

	// PAYMENTS
	if v, ok := getEnvStr("PAYMENTS_CURRENCY"); ok {
		c.Payments.Currency = strings.ToUpper(v)
	}
	if v, ok := getEnvBool("MPESA_ENABLED"); ok {
		c.Payments.Mpesa.Enabled = v
	}
	if v, ok := getEnvStr("MPESA_ENVIRONMENT"); ok {
		c.Payments.Mpesa.Environment = strings.ToLower(v)
	}
	if v, ok := getEnvStr("MPESA_SHORT_CODE"); ok {
		c.Payments.Mpesa.ShortCode = v
	}
	if v, ok := getEnvStr("MPESA_PASSKEY"); ok {
		c.Payments.Mpesa.Passkey = v
	}
	if v, ok := getEnvStr("MPESA_CONSUMER_KEY"); ok {
		c.Payments.Mpesa.ConsumerKey = v
	}
	if v, ok := getEnvStr("MPESA_CONSUMER_SECRET"); ok {
		c.Payments.Mpesa.ConsumerSecret = v
	}
	if v, ok := getEnvStr("MPESA_CALLBACK_URL"); ok {
		c.Payments.Mpesa.CallbackURL = v
	}
	if v, ok := getEnvBool("HOSTED_ENABLED"); ok {
		c.Payments.Hosted.Enabled = v
	}
	if v, ok := getEnvStr("HOSTED_BASE_URL"); ok {
		c.Payments.Hosted.BaseURL = v
	}
	if v, ok := getEnvStr("HOSTED_SECRET_KEY"); ok {
		c.Payments.Hosted.SecretKey = v
	}
	if v, ok := getEnvStr("HOSTED_REDIRECT_URL"); ok {
		c.Payments.Hosted.RedirectURL = v
	}
}
