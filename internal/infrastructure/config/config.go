package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Mailbox       MailboxConfig       `mapstructure:"mailbox"`
	Fiscal        FiscalConfig        `mapstructure:"fiscal"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Auth          AuthConfig          `mapstructure:"auth"`
	InstanceID    string              `mapstructure:"instance_id"`
}

type ServerConfig struct {
	Port               int           `mapstructure:"port"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	IdleTimeout        time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute"`
	CORS               CORSConfig    `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	ConnectRetries  uint          `mapstructure:"connect_retries"`
}

type RedisConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	DB                int           `mapstructure:"db"`
	Password          string        `mapstructure:"password"`
	ConnectRetries    int           `mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
}

// MailboxConfig locates the three directories shared with the fiscal driver.
type MailboxConfig struct {
	InboxDir       string        `mapstructure:"inbox_dir"`
	SuccessDir     string        `mapstructure:"success_dir"`
	ErrorDir       string        `mapstructure:"error_dir"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	MaxTimeout     time.Duration `mapstructure:"max_timeout"`
}

// FiscalConfig holds the driver protocol settings. CashCode and CardCode must
// match the payment codes documented for the installed driver.
type FiscalConfig struct {
	Mode            string        `mapstructure:"mode"`
	FiscalCode      string        `mapstructure:"fiscal_code"`
	VATCode         string        `mapstructure:"vat_code"`
	CashCode        string        `mapstructure:"cash_code"`
	CardCode        string        `mapstructure:"card_code"`
	ReportCommand   string        `mapstructure:"report_command"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
}

type WorkerConfig struct {
	OutboxPollInterval         time.Duration `mapstructure:"outbox_poll_interval"`
	OutboxBatchSize            int           `mapstructure:"outbox_batch_size"`
	ReconcileInterval          time.Duration `mapstructure:"reconcile_interval"`
	ReconcileWindow            time.Duration `mapstructure:"reconcile_window"`
	ReconcileBatch             int           `mapstructure:"reconcile_batch"`
	IdempotencyTTL             time.Duration `mapstructure:"idempotency_ttl"`
	IdempotencyLockTTL         time.Duration `mapstructure:"idempotency_lock_ttl"`
	IdempotencyCleanupInterval time.Duration `mapstructure:"idempotency_cleanup_interval"`
	LockTTL                    time.Duration `mapstructure:"lock_ttl"`
}

type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	EnableMetrics  bool   `mapstructure:"enable_metrics"`
	EnableTracing  bool   `mapstructure:"enable_tracing"`
}

func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix("FISCALBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read from config file if exists
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/fiscalbridge")

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.read_timeout must be positive"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.write_timeout must be positive"))
	}
	if c.Database.Host == "" {
		errs = append(errs, fmt.Errorf("database.host is required"))
	}
	if c.Database.Port <= 0 {
		errs = append(errs, fmt.Errorf("database.port must be positive"))
	}
	if c.Redis.Port <= 0 {
		errs = append(errs, fmt.Errorf("redis.port must be positive"))
	}

	errs = append(errs, c.Mailbox.validate()...)

	// A request must be able to wait out the longest correlation.
	if c.Server.WriteTimeout > 0 && c.Mailbox.MaxTimeout > 0 && c.Server.WriteTimeout <= c.Mailbox.MaxTimeout {
		errs = append(errs, fmt.Errorf("server.write_timeout (%s) must exceed mailbox.max_timeout (%s)",
			c.Server.WriteTimeout, c.Mailbox.MaxTimeout))
	}

	errs = append(errs, c.Fiscal.validate()...)

	if c.Worker.LockTTL <= 0 {
		errs = append(errs, fmt.Errorf("worker.lock_ttl must be positive"))
	}
	// The API refreshes the key lock every third of its TTL.
	if c.Worker.IdempotencyLockTTL < time.Second {
		errs = append(errs, fmt.Errorf("worker.idempotency_lock_ttl must be at least 1s, got %s", c.Worker.IdempotencyLockTTL))
	}
	if c.Worker.ReconcileBatch <= 0 {
		errs = append(errs, fmt.Errorf("worker.reconcile_batch must be positive"))
	}

	// Production environment checks
	env := os.Getenv("ENV")
	if env == "production" || env == "prod" {
		if c.Database.Password == "" {
			errs = append(errs, fmt.Errorf("database.password required in production"))
		}
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, fmt.Errorf("auth.jwt_secret must be at least 32 characters"))
	}

	return errors.Join(errs...)
}

func (m MailboxConfig) validate() []error {
	var errs []error

	dirs := map[string]string{
		"mailbox.inbox_dir":   m.InboxDir,
		"mailbox.success_dir": m.SuccessDir,
		"mailbox.error_dir":   m.ErrorDir,
	}
	seen := make(map[string]string, len(dirs))
	for _, key := range []string{"mailbox.inbox_dir", "mailbox.success_dir", "mailbox.error_dir"} {
		dir := dirs[key]
		if dir == "" {
			errs = append(errs, fmt.Errorf("%s is required", key))
			continue
		}
		clean := filepath.Clean(dir)
		if other, ok := seen[clean]; ok {
			errs = append(errs, fmt.Errorf("%s must differ from %s", key, other))
			continue
		}
		seen[clean] = key
	}

	if m.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("mailbox.poll_interval must be positive"))
	}
	if m.DefaultTimeout <= 0 {
		errs = append(errs, fmt.Errorf("mailbox.default_timeout must be positive"))
	}
	if m.MaxTimeout < m.DefaultTimeout {
		errs = append(errs, fmt.Errorf("mailbox.max_timeout must be at least mailbox.default_timeout"))
	}
	return errs
}

func (f FiscalConfig) validate() []error {
	var errs []error

	if f.Mode != "live" && f.Mode != "test" {
		errs = append(errs, fmt.Errorf("fiscal.mode must be live or test, got %q", f.Mode))
	}
	if f.CashCode == "" || f.CardCode == "" {
		errs = append(errs, fmt.Errorf("fiscal.cash_code and fiscal.card_code are required"))
	} else if f.CashCode == f.CardCode {
		errs = append(errs, fmt.Errorf("fiscal.cash_code and fiscal.card_code must differ"))
	}
	if f.VATCode == "" {
		errs = append(errs, fmt.Errorf("fiscal.vat_code is required"))
	}
	if strings.TrimSpace(f.ReportCommand) == "" {
		errs = append(errs, fmt.Errorf("fiscal.report_command is required"))
	}
	if strings.ContainsAny(f.FiscalCode, ";\r\n") {
		errs = append(errs, fmt.Errorf("fiscal.fiscal_code cannot contain ';' or line breaks"))
	}
	if f.BreakerFailures == 0 {
		errs = append(errs, fmt.Errorf("fiscal.breaker_failures must be positive"))
	}
	return errs
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "150s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "150s")
	v.SetDefault("server.rate_limit_per_minute", 120)
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("server.cors.allow_credentials", false)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "fiscalbridge")
	v.SetDefault("database.database", "fiscalbridge")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.min_connections", 2)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.connect_retries", 5)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.connect_retries", 5)
	v.SetDefault("redis.connect_retry_delay", "1s")

	// Mailbox defaults
	v.SetDefault("mailbox.inbox_dir", "./mailbox/inbox")
	v.SetDefault("mailbox.success_dir", "./mailbox/success")
	v.SetDefault("mailbox.error_dir", "./mailbox/error")
	v.SetDefault("mailbox.poll_interval", "200ms")
	v.SetDefault("mailbox.default_timeout", "30s")
	v.SetDefault("mailbox.max_timeout", "120s")

	// Fiscal defaults
	v.SetDefault("fiscal.mode", "test")
	v.SetDefault("fiscal.fiscal_code", "")
	v.SetDefault("fiscal.vat_code", "1")
	v.SetDefault("fiscal.cash_code", "0")
	v.SetDefault("fiscal.card_code", "1")
	v.SetDefault("fiscal.report_command", "Z;1")
	v.SetDefault("fiscal.breaker_failures", 5)
	v.SetDefault("fiscal.breaker_cooldown", "30s")

	// Worker defaults
	v.SetDefault("worker.outbox_poll_interval", "2s")
	v.SetDefault("worker.outbox_batch_size", 10)
	v.SetDefault("worker.reconcile_interval", "30s")
	v.SetDefault("worker.reconcile_window", "24h")
	v.SetDefault("worker.reconcile_batch", 50)
	v.SetDefault("worker.idempotency_ttl", "24h")
	v.SetDefault("worker.idempotency_lock_ttl", "30s")
	v.SetDefault("worker.idempotency_cleanup_interval", "1h")
	v.SetDefault("worker.lock_ttl", "30s")

	// Observability defaults
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.enable_tracing", false)

	// Instance ID
	v.SetDefault("instance_id", "fiscalbridge-1")
}

func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// DatabaseURL returns the URL form used by golang-migrate.
func (c *DatabaseConfig) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
