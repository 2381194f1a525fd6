package config

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all configuration for the try-on server.
type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Database DatabaseConfig
	Gateway  GatewayConfig
	Storage  StorageConfig
	Worker   WorkerConfig
}

type ServerConfig struct {
	Port            int `validate:"min=1,max=65535"`
	Env             string
	ShutdownTimeout time.Duration `validate:"gt=0"`
	RateLimitPerMin int           `validate:"min=0"`
	UploadMaxBytes  int64         `validate:"min=0"`
	MultipartMemory int64         `validate:"gt=0"`
}

// RedisConfig describes the status store connection. URL takes precedence
// over the discrete host/port/password/TLS fields.
type RedisConfig struct {
	URL       string
	Host      string `validate:"required_without=URL"`
	Port      int    `validate:"min=1,max=65535"`
	Password  string
	TLS       bool
	StatusTTL time.Duration `validate:"min=0"`
}

// Addr returns host:port for the discrete connection fields.
func (c RedisConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// DatabaseConfig is optional; an empty URL disables the task history.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int `validate:"min=1"`
	MaxIdleConns    int `validate:"min=0"`
	ConnMaxLifetime time.Duration
	MigrationsDir   string
}

// Enabled reports whether a history database is configured.
func (c DatabaseConfig) Enabled() bool {
	return c.URL != ""
}

type GatewayConfig struct {
	Provider string        `validate:"required"`
	Timeout  time.Duration `validate:"gt=0"`
	Gradio   GradioConfig
}

type GradioConfig struct {
	BaseURL   string
	APIPrefix string
	APIName   string
	Token     string
}

type StorageConfig struct {
	UploadDir string `validate:"required"`
	StaticDir string `validate:"required"`
}

// ResultDir is the public directory result artifacts are moved into.
func (c StorageConfig) ResultDir() string {
	return filepath.Join(c.StaticDir, "results")
}

type WorkerConfig struct {
	Count     int `validate:"min=1"`
	QueueSize int `validate:"min=1"`

	// CancelGrace bounds how long shutdown waits for cancelled tasks to
	// record their outcome.
	CancelGrace time.Duration `validate:"gt=0"`
}

var validProviders = map[string]bool{
	"gradio": true,
}

// Load reads configuration from environment variables (and the optional YAML
// file named by TRYON_CONFIG_FILE) and returns a validated Config.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	if path := v.GetString("TRYON_CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            v.GetInt("TRYON_PORT"),
			Env:             v.GetString("TRYON_ENV"),
			ShutdownTimeout: v.GetDuration("SHUTDOWN_TIMEOUT"),
			RateLimitPerMin: v.GetInt("RATE_LIMIT_PER_MIN"),
			UploadMaxBytes:  v.GetInt64("UPLOAD_MAX_BYTES"),
			MultipartMemory: v.GetInt64("MULTIPART_MEMORY_BYTES"),
		},
		Redis: RedisConfig{
			URL:       v.GetString("REDIS_URL"),
			Host:      v.GetString("REDIS_HOST"),
			Port:      v.GetInt("REDIS_PORT"),
			Password:  v.GetString("REDIS_PASSWORD"),
			TLS:       v.GetBool("REDIS_SSL"),
			StatusTTL: v.GetDuration("STATUS_TTL"),
		},
		Database: DatabaseConfig{
			URL:             v.GetString("DATABASE_URL"),
			MaxOpenConns:    v.GetInt("DATABASE_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DATABASE_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DATABASE_CONN_MAX_LIFETIME"),
			MigrationsDir:   v.GetString("DATABASE_MIGRATIONS_DIR"),
		},
		Gateway: GatewayConfig{
			Provider: v.GetString("GATEWAY_PROVIDER"),
			Timeout:  v.GetDuration("GATEWAY_TIMEOUT"),
			Gradio: GradioConfig{
				BaseURL:   strings.TrimRight(v.GetString("GRADIO_BASE_URL"), "/"),
				APIPrefix: v.GetString("GRADIO_API_PREFIX"),
				APIName:   strings.Trim(v.GetString("GRADIO_API_NAME"), "/"),
				Token:     v.GetString("GRADIO_TOKEN"),
			},
		},
		Storage: StorageConfig{
			UploadDir: v.GetString("UPLOAD_DIR"),
			StaticDir: v.GetString("STATIC_DIR"),
		},
		Worker: WorkerConfig{
			Count:       v.GetInt("WORKER_COUNT"),
			QueueSize:   v.GetInt("WORKER_QUEUE_SIZE"),
			CancelGrace: v.GetDuration("WORKER_CANCEL_GRACE"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("TRYON_PORT", 5000)
	v.SetDefault("TRYON_ENV", "development")
	v.SetDefault("SHUTDOWN_TIMEOUT", 30*time.Second)
	v.SetDefault("RATE_LIMIT_PER_MIN", 0)
	v.SetDefault("UPLOAD_MAX_BYTES", 0)
	v.SetDefault("MULTIPART_MEMORY_BYTES", 32<<20)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_SSL", false)
	v.SetDefault("STATUS_TTL", time.Duration(0))

	v.SetDefault("DATABASE_MAX_OPEN_CONNS", 10)
	v.SetDefault("DATABASE_MAX_IDLE_CONNS", 2)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute)
	v.SetDefault("DATABASE_MIGRATIONS_DIR", "migrations")

	v.SetDefault("GATEWAY_PROVIDER", "gradio")
	v.SetDefault("GATEWAY_TIMEOUT", 5*time.Minute)
	v.SetDefault("GRADIO_BASE_URL", "https://yisol-idm-vton.hf.space")
	v.SetDefault("GRADIO_API_PREFIX", "/gradio_api")
	v.SetDefault("GRADIO_API_NAME", "tryon")

	v.SetDefault("UPLOAD_DIR", "tmp")
	v.SetDefault("STATIC_DIR", "static")

	v.SetDefault("WORKER_COUNT", 4)
	v.SetDefault("WORKER_QUEUE_SIZE", 64)
	v.SetDefault("WORKER_CANCEL_GRACE", 5*time.Second)
}

var validate = validator.New()

func (c *Config) validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s fails %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Redis.URL != "" && !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("REDIS_URL must start with redis:// or rediss://, got %q", c.Redis.URL)
	}

	if !validProviders[c.Gateway.Provider] {
		return fmt.Errorf("GATEWAY_PROVIDER must be one of gradio; got %q", c.Gateway.Provider)
	}

	if c.Gateway.Provider == "gradio" {
		g := c.Gateway.Gradio
		if !strings.HasPrefix(g.BaseURL, "http://") && !strings.HasPrefix(g.BaseURL, "https://") {
			return fmt.Errorf("GRADIO_BASE_URL must start with http:// or https://, got %q", g.BaseURL)
		}
		if g.APIName == "" {
			return fmt.Errorf("GRADIO_API_NAME is required when GATEWAY_PROVIDER is gradio")
		}
	}

	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("DATABASE_MAX_IDLE_CONNS (%d) must not exceed DATABASE_MAX_OPEN_CONNS (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if filepath.Clean(c.Storage.UploadDir) == filepath.Clean(c.Storage.ResultDir()) {
		return fmt.Errorf("UPLOAD_DIR must differ from the result directory %q", c.Storage.ResultDir())
	}

	return nil
}
