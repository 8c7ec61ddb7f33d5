// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes settings for the
// HTTP server, logging, persistence, the shared key/value store, webhook
// ingestion, background jobs, flow execution, outbound dispatch, and
// observability.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "chatflow-gateway")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DBConfig selects the gorm driver and its connection string.
type DBConfig struct {
	Driver string // sqlite|postgres|mysql
	DSN    string // postgres/mysql DSN
	Path   string // sqlite file path
}

// RedisConfig configures the shared key/value store. An empty Addr selects
// the in-process store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// WebhookConfig holds inbound callback settings.
type WebhookConfig struct {
	AppSecret        string        // WHATSAPP_APP_SECRET, fallback HMAC secret
	VerifyToken      string        // WHATSAPP_VERIFY_TOKEN, fallback handshake token
	RequireSignature bool          // WEBHOOK_REQUIRE_SIGNATURE (default true)
	RateLimit        int           // requests per window per source IP
	RateWindow       time.Duration // fixed window length
	DedupTTL         time.Duration // idempotency key retention
	MaxBodyBytes     int64
}

// JobsConfig configures the background job runner.
type JobsConfig struct {
	Workers      int
	PollInterval time.Duration
	MaxAttempts  int
	LockTTL      time.Duration
}

// FlowConfig configures the flow engine.
type FlowConfig struct {
	StepTimeout time.Duration // bound on a single advance (also lock TTL basis)
	MaxSteps    int           // cycle guard per advance
	SweepSpec   string        // cron spec for the wait-timeout sweeper
}

// DispatchConfig configures outbound provider calls.
type DispatchConfig struct {
	Timeout          time.Duration
	RPS              float64 // per-connection outbound rate
	Burst            int
	WhatsAppAPIBase  string
	TwilioAccountSID string
	TwilioAuthToken  string
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test
	TrustedProxies    []string      // IPs/CIDRs whose X-Forwarded-For is honored; empty trusts none

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	DB       DBConfig
	Redis    RedisConfig
	Webhook  WebhookConfig
	Jobs     JobsConfig
	Flow     FlowConfig
	Dispatch DispatchConfig

	// Admin API bearer secret (HS256). Empty disables the admin routes.
	AdminJWTSecret  string
	AdminRateLimit  int           // requests per window per subject; 0 disables
	AdminRateWindow time.Duration // fixed window length

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		DB: DBConfig{
			Driver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			DSN:    getenv("DB_DSN", ""),
			Path:   getenv("DB_PATH", "chatflow.db"),
		},
		Redis: RedisConfig{
			Addr:     getenv("REDIS_ADDR", ""),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getint("REDIS_DB", 0),
		},
		Webhook: WebhookConfig{
			AppSecret:        getenv("WHATSAPP_APP_SECRET", ""),
			VerifyToken:      getenv("WHATSAPP_VERIFY_TOKEN", ""),
			RequireSignature: getbool("WEBHOOK_REQUIRE_SIGNATURE", true),
			RateLimit:        getint("WEBHOOK_RATE_LIMIT", 120),
			RateWindow:       getdur("WEBHOOK_RATE_WINDOW", time.Minute),
			DedupTTL:         getdur("DEDUP_TTL", 10*time.Minute),
			MaxBodyBytes:     int64(getint("MAX_BODY_BYTES", 1<<20)),
		},
		Jobs: JobsConfig{
			Workers:      getint("JOB_WORKERS", 4),
			PollInterval: getdur("JOB_POLL_INTERVAL", time.Second),
			MaxAttempts:  getint("JOB_MAX_ATTEMPTS", 5),
			LockTTL:      getdur("JOB_LOCK_TTL", 2*time.Minute),
		},
		Flow: FlowConfig{
			StepTimeout: getdur("FLOW_STEP_TIMEOUT", 30*time.Second),
			MaxSteps:    getint("FLOW_MAX_STEPS", 100),
			SweepSpec:   getenv("FLOW_SWEEP_SPEC", "@every 1s"),
		},
		Dispatch: DispatchConfig{
			Timeout:          getdur("DISPATCH_TIMEOUT", 10*time.Second),
			RPS:              getfloat("DISPATCH_RPS", 20),
			Burst:            getint("DISPATCH_BURST", 40),
			WhatsAppAPIBase:  strings.TrimRight(getenv("WHATSAPP_API_BASE", "https://graph.facebook.com"), "/"),
			TwilioAccountSID: getenv("TWILIO_ACCOUNT_SID", ""),
			TwilioAuthToken:  getenv("TWILIO_AUTH_TOKEN", ""),
		},

		TrustedProxies: splitCSV(getenv("TRUSTED_PROXIES", "")),

		AdminJWTSecret:  getenv("ADMIN_JWT_SECRET", ""),
		AdminRateLimit:  getint("ADMIN_RATE_LIMIT", 600),
		AdminRateWindow: getdur("ADMIN_RATE_WINDOW", time.Minute),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "chatflow-gateway"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.DB.Driver == "postgresql" {
		cfg.DB.Driver = "postgres"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.DB.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.DB.Path) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres", "mysql":
		if strings.TrimSpace(cfg.DB.DSN) == "" {
			return cfg, errors.New("DB_DSN must not be empty for " + cfg.DB.Driver)
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres, mysql")
	}
	if cfg.Webhook.RateLimit < 1 {
		return cfg, errors.New("WEBHOOK_RATE_LIMIT must be >= 1")
	}
	if cfg.Webhook.RateWindow <= 0 {
		return cfg, errors.New("WEBHOOK_RATE_WINDOW must be > 0")
	}
	if cfg.Webhook.DedupTTL <= 0 {
		return cfg, errors.New("DEDUP_TTL must be > 0")
	}
	if cfg.Webhook.MaxBodyBytes <= 0 {
		return cfg, errors.New("MAX_BODY_BYTES must be > 0")
	}
	if cfg.Jobs.Workers < 1 {
		return cfg, errors.New("JOB_WORKERS must be >= 1")
	}
	if cfg.Jobs.PollInterval <= 0 || cfg.Jobs.LockTTL <= 0 {
		return cfg, errors.New("JOB_POLL_INTERVAL and JOB_LOCK_TTL must be > 0")
	}
	if cfg.Jobs.MaxAttempts < 1 {
		return cfg, errors.New("JOB_MAX_ATTEMPTS must be >= 1")
	}
	if cfg.Flow.StepTimeout <= 0 {
		return cfg, errors.New("FLOW_STEP_TIMEOUT must be > 0")
	}
	if cfg.Flow.MaxSteps < 1 {
		return cfg, errors.New("FLOW_MAX_STEPS must be >= 1")
	}
	if strings.TrimSpace(cfg.Flow.SweepSpec) == "" {
		return cfg, errors.New("FLOW_SWEEP_SPEC must not be empty")
	}
	if cfg.Dispatch.Timeout <= 0 {
		return cfg, errors.New("DISPATCH_TIMEOUT must be > 0")
	}
	if cfg.Dispatch.Timeout >= cfg.Flow.StepTimeout {
		return cfg, errors.New("DISPATCH_TIMEOUT must be shorter than FLOW_STEP_TIMEOUT")
	}
	if cfg.Dispatch.RPS < 0 {
		return cfg, errors.New("DISPATCH_RPS must be >= 0")
	}
	if cfg.Dispatch.Burst < 1 {
		return cfg, errors.New("DISPATCH_BURST must be >= 1")
	}
	for _, p := range cfg.TrustedProxies {
		if net.ParseIP(p) == nil {
			if _, _, err := net.ParseCIDR(p); err != nil {
				return cfg, fmt.Errorf("TRUSTED_PROXIES: %q is not an IP or CIDR", p)
			}
		}
	}
	if cfg.AdminRateLimit < 0 {
		return cfg, errors.New("ADMIN_RATE_LIMIT must be >= 0")
	}
	if cfg.AdminRateWindow <= 0 {
		return cfg, errors.New("ADMIN_RATE_WINDOW must be > 0")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
