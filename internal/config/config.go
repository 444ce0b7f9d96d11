// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, store connections, retry budgets, and
// observability.
package config

import (
	"errors"
	"fmt"
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
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "zhaosheng")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DurableConfig selects and locates the system of record.
type DurableConfig struct {
	Driver        string // DB_DRIVER: sqlite|mongo
	Path          string // DB_PATH (sqlite)
	MongoURI      string // MONGO_URI
	MongoDatabase string // MONGO_DATABASE
}

// RedisConfig locates the cache tier.
type RedisConfig struct {
	Addr     string // REDIS_ADDR (host:port)
	Password string // REDIS_PASSWORD
	DB       int    // REDIS_DB
}

// StorageConfig holds TTLs, per-call timeouts and retry budgets of the
// storage service.
type StorageConfig struct {
	CacheTimeout       time.Duration // CACHE_TIMEOUT, must be < DURABLE_TIMEOUT
	DurableTimeout     time.Duration // DURABLE_TIMEOUT
	ProfileCacheTTL    time.Duration // PROFILE_CACHE_TTL
	TranscriptCacheTTL time.Duration // TRANSCRIPT_CACHE_TTL
	SessionTTL         time.Duration // SESSION_TTL
	WriteRetries       int           // WRITE_RETRIES
	WriteRetryDelay    time.Duration // WRITE_RETRY_DELAY
	ReadAttempts       int           // READ_ATTEMPTS
	ReadBackoff        time.Duration // READ_BACKOFF (attempt n waits n*READ_BACKOFF)
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

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Stores
	Durable DurableConfig
	Redis   RedisConfig
	Storage StorageConfig

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

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
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api")),

		// Stores
		Durable: DurableConfig{
			Driver:        strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			Path:          getenv("DB_PATH", "zhaosheng.db"),
			MongoURI:      getenv("MONGO_URI", "mongodb://localhost:27017"),
			MongoDatabase: getenv("MONGO_DATABASE", "zhaosheng"),
		},
		Redis: RedisConfig{
			Addr:     getenv("REDIS_ADDR", "localhost:6379"),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getint("REDIS_DB", 0),
		},
		Storage: StorageConfig{
			CacheTimeout:       getdur("CACHE_TIMEOUT", 2*time.Second),
			DurableTimeout:     getdur("DURABLE_TIMEOUT", 5*time.Second),
			ProfileCacheTTL:    getdur("PROFILE_CACHE_TTL", time.Hour),
			TranscriptCacheTTL: getdur("TRANSCRIPT_CACHE_TTL", 24*time.Hour),
			SessionTTL:         getdur("SESSION_TTL", 24*time.Hour),
			WriteRetries:       getint("WRITE_RETRIES", 2),
			WriteRetryDelay:    getdur("WRITE_RETRY_DELAY", time.Second),
			ReadAttempts:       getint("READ_ATTEMPTS", 3),
			ReadBackoff:        getdur("READ_BACKOFF", time.Second),
		},

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "zhaosheng"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	if c.LogLevel == "warning" {
		c.LogLevel = "warn"
	}
	switch c.GinMode {
	case "debug", "release", "test":
	default:
		c.GinMode = "release"
	}
}

// validate returns the first problem found, checking server settings before
// the stores and the storage budgets.
func (c Config) validate() error {
	checks := []func() error{
		c.validateServer,
		c.Durable.validate,
		c.Redis.validate,
		c.Storage.validate,
		c.validateWeb,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (c Config) validateServer() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error, fatal, panic", c.LogLevel)
	}
	if blank(c.Port) {
		return errors.New("PORT is empty")
	}
	for name, d := range map[string]time.Duration{
		"READ_TIMEOUT":        c.ReadTimeout,
		"READ_HEADER_TIMEOUT": c.ReadHeaderTimeout,
		"WRITE_TIMEOUT":       c.WriteTimeout,
		"IDLE_TIMEOUT":        c.IdleTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be a positive duration, got %s", name, d)
		}
	}
	if c.MaxHeaderBytes <= 0 {
		return fmt.Errorf("MAX_HEADER_BYTES must be positive, got %d", c.MaxHeaderBytes)
	}
	return nil
}

func (d DurableConfig) validate() error {
	switch d.Driver {
	case "sqlite":
		if blank(d.Path) {
			return errors.New("DB_PATH is empty")
		}
	case "mongo":
		if blank(d.MongoURI) || blank(d.MongoDatabase) {
			return errors.New("MONGO_URI and MONGO_DATABASE are required for the mongo driver")
		}
	default:
		return fmt.Errorf("DB_DRIVER %q is not one of sqlite, mongo", d.Driver)
	}
	return nil
}

func (r RedisConfig) validate() error {
	if blank(r.Addr) {
		return errors.New("REDIS_ADDR is empty")
	}
	if r.DB < 0 {
		return fmt.Errorf("REDIS_DB must not be negative, got %d", r.DB)
	}
	return nil
}

func (s StorageConfig) validate() error {
	switch {
	case s.CacheTimeout <= 0 || s.DurableTimeout <= 0:
		return errors.New("CACHE_TIMEOUT and DURABLE_TIMEOUT must be positive")
	case s.CacheTimeout >= s.DurableTimeout:
		return fmt.Errorf("CACHE_TIMEOUT (%s) must be shorter than DURABLE_TIMEOUT (%s)", s.CacheTimeout, s.DurableTimeout)
	case s.ProfileCacheTTL <= 0 || s.TranscriptCacheTTL <= 0 || s.SessionTTL <= 0:
		return errors.New("PROFILE_CACHE_TTL, TRANSCRIPT_CACHE_TTL and SESSION_TTL must be positive")
	case s.WriteRetries < 0:
		return fmt.Errorf("WRITE_RETRIES must not be negative, got %d", s.WriteRetries)
	case s.ReadAttempts < 1:
		return fmt.Errorf("READ_ATTEMPTS must be at least 1, got %d", s.ReadAttempts)
	case s.WriteRetryDelay < 0 || s.ReadBackoff < 0:
		return errors.New("WRITE_RETRY_DELAY and READ_BACKOFF must not be negative")
	}
	return nil
}

func (c Config) validateWeb() error {
	if c.Security.HSTSMaxAge < 0 {
		return errors.New("HSTS_MAX_AGE must not be negative")
	}
	if r := c.OTEL.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("OTEL_TRACES_SAMPLER_ARG must be within [0,1], got %g", r)
	}
	return nil
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

// lookup returns the parsed value of env var k, or def when it is unset,
// empty or unparsable.
func lookup[T any](k string, def T, parse func(string) (T, error)) T {
	v, ok := os.LookupEnv(k)
	if !ok || v == "" {
		return def
	}
	out, err := parse(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return out
}

func getenv(k, def string) string {
	return lookup(k, def, func(v string) (string, error) { return v, nil })
}

func getint(k string, def int) int { return lookup(k, def, strconv.Atoi) }

func getdur(k string, def time.Duration) time.Duration { return lookup(k, def, time.ParseDuration) }

func getfloat(k string, def float64) float64 {
	return lookup(k, def, func(v string) (float64, error) { return strconv.ParseFloat(v, 64) })
}

func getbool(k string, def bool) bool {
	return lookup(k, def, func(v string) (bool, error) {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "y", "on":
			return true, nil
		case "0", "false", "no", "n", "off":
			return false, nil
		}
		return false, fmt.Errorf("not a boolean: %q", v)
	})
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath returns p with exactly one leading slash and no trailing
// slash, or "/" for an empty path.
func normalizeBasePath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	return "/" + p
}
