package app

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime configuration for the application.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"60s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"45s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	BackendURL           string        `envconfig:"BACKEND_URL" required:"true"`
	BackendAuthorization string        `envconfig:"BACKEND_AUTHORIZATION"`
	BackendCookie        string        `envconfig:"BACKEND_COOKIE"`
	BackendTimeout       time.Duration `envconfig:"BACKEND_TIMEOUT" default:"30s"`

	// Empty PGDSN keeps import history in memory.
	PGDSN      string `envconfig:"PG_DSN"`
	PGMaxConns int32  `envconfig:"PG_MAX_CONNS" default:"4"`

	// Empty RedisAddr keeps sessions and events in process; jobs then are unavailable.
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	ImportSessionTTL       time.Duration `envconfig:"IMPORT_SESSION_TTL" default:"30m"`
	ImportMaxUploadBytes   int64         `envconfig:"IMPORT_MAX_UPLOAD_BYTES" default:"10485760"`
	ImportUploadsPerMinute int           `envconfig:"IMPORT_UPLOADS_PER_MINUTE" default:"10"`

	EventsChannel string `envconfig:"EVENTS_CHANNEL" default:"products_imported"`

	GotenbergURL string `envconfig:"GOTENBERG_URL"`

	UploadDir         string `envconfig:"UPLOAD_DIR" default:"./var/uploads"`
	WorkerConcurrency int    `envconfig:"WORKER_CONCURRENCY" default:"4"`
	WorkerMetricsAddr string `envconfig:"WORKER_METRICS_ADDR" default:":9091"`
}

// LoadConfig reads configuration from environment variables, after loading
// .env.local and .env when present. Existing variables are never overridden.
func LoadConfig() (*Config, error) {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("app: load %s: %w", file, err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	u, err := url.Parse(strings.TrimSpace(c.BackendURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("app: BACKEND_URL must be an absolute URL, got %q", c.BackendURL)
	}
	if c.ImportMaxUploadBytes <= 0 {
		return errors.New("app: IMPORT_MAX_UPLOAD_BYTES must be positive")
	}
	if c.ImportSessionTTL <= 0 {
		return errors.New("app: IMPORT_SESSION_TTL must be positive")
	}
	return nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}
