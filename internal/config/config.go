// Package config loads conrisk configuration from a YAML file, a .env file
// and the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/opensource-finance/conrisk/internal/domain"
)

// EnvPrefix prefixes every environment override, e.g. CONRISK_SERVER_PORT.
const EnvPrefix = "CONRISK"

// legacyEnv maps the plain variables of older deployments to config keys.
var legacyEnv = map[string]string{
	"auth.jwt_secret":     "JWT_SECRET",
	"server.frontend_url": "FRONTEND_URL",
	"server.port":         "PORT",
	"server.host":         "HOST",
}

// Load reads configuration. path may name a config file; when empty,
// config.yaml is searched in the working directory and /etc/conrisk.
// A missing file is not an error: defaults and environment still apply.
func Load(path string) (*domain.Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, err
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/conrisk/")
	}

	v.SetDefault("tier", string(domain.TierCommunity))
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		slog.Debug("no config file found, using defaults")
	}

	base := domain.DefaultConfig()
	if domain.Tier(v.GetString("tier")) == domain.TierPro {
		base = domain.ProConfig()
	}
	setDefaults(v, base)

	cfg := &domain.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if url := strings.TrimRight(cfg.Server.FrontendURL, "/"); url != "" && !slices.Contains(cfg.Server.AllowedOrigins, url) {
		cfg.Server.AllowedOrigins = append(cfg.Server.AllowedOrigins, url)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings the server cannot start without.
func Validate(cfg *domain.Config) error {
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required (set JWT_SECRET)")
	}
	if cfg.Tier != domain.TierCommunity && cfg.Tier != domain.TierPro {
		return fmt.Errorf("unknown tier %q", cfg.Tier)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", cfg.Server.Port)
	}
	if cfg.Upload.MaxFileSize <= 0 {
		return errors.New("upload.max_file_size must be positive")
	}
	if cfg.Analysis.AlertLevel.Rank() == 0 {
		return fmt.Errorf("invalid analysis.alert_level %q", cfg.Analysis.AlertLevel)
	}
	return nil
}

// NewLogger builds the process logger from the logging settings.
func NewLogger(cfg domain.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// setDefaults registers every key so that environment overrides apply
// even when the config file does not mention it.
func setDefaults(v *viper.Viper, d *domain.Config) {
	v.SetDefault("tier", string(d.Tier))

	// Server
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)
	v.SetDefault("server.frontend_url", d.Server.FrontendURL)
	v.SetDefault("server.rate_limit", d.Server.RateLimit)
	v.SetDefault("server.rate_burst", d.Server.RateBurst)

	// Auth
	v.SetDefault("auth.jwt_secret", d.Auth.JWTSecret)
	v.SetDefault("auth.token_ttl", d.Auth.TokenTTL)
	v.SetDefault("auth.bcrypt_cost", d.Auth.BcryptCost)
	v.SetDefault("auth.max_login_fails", d.Auth.MaxLoginFails)
	v.SetDefault("auth.lockout_window", d.Auth.LockoutWindow)

	v.SetDefault("upload.max_file_size", d.Upload.MaxFileSize)

	// Analysis
	v.SetDefault("analysis.async", d.Analysis.Async)
	v.SetDefault("analysis.worker_count", d.Analysis.WorkerCount)
	v.SetDefault("analysis.alert_level", string(d.Analysis.AlertLevel))
	v.SetDefault("analysis.tenants", d.Analysis.Tenants)

	// Repository
	v.SetDefault("repository.driver", d.Repository.Driver)
	v.SetDefault("repository.sqlite_path", d.Repository.SQLitePath)
	v.SetDefault("repository.postgres_host", d.Repository.PostgresHost)
	v.SetDefault("repository.postgres_port", d.Repository.PostgresPort)
	v.SetDefault("repository.postgres_user", d.Repository.PostgresUser)
	v.SetDefault("repository.postgres_password", d.Repository.PostgresPassword)
	v.SetDefault("repository.postgres_db", d.Repository.PostgresDB)
	v.SetDefault("repository.postgres_sslmode", d.Repository.PostgresSSLMode)
	v.SetDefault("repository.max_open_conns", d.Repository.MaxOpenConns)
	v.SetDefault("repository.max_idle_conns", d.Repository.MaxIdleConns)
	v.SetDefault("repository.conn_max_lifetime", d.Repository.ConnMaxLifetime)

	// Cache
	v.SetDefault("cache.type", d.Cache.Type)
	v.SetDefault("cache.local_max_size", d.Cache.LocalMaxSize)
	v.SetDefault("cache.local_ttl", d.Cache.LocalTTL)
	v.SetDefault("cache.redis_addr", d.Cache.RedisAddr)
	v.SetDefault("cache.redis_password", d.Cache.RedisPassword)
	v.SetDefault("cache.redis_db", d.Cache.RedisDB)
	v.SetDefault("cache.enable_two_phase", d.Cache.EnableTwoPhase)

	// Event bus
	v.SetDefault("eventbus.type", d.EventBus.Type)
	v.SetDefault("eventbus.channel_buffer_size", d.EventBus.ChannelBufferSize)
	v.SetDefault("eventbus.nats_url", d.EventBus.NATSUrl)
	v.SetDefault("eventbus.nats_token", d.EventBus.NATSToken)
	v.SetDefault("eventbus.nats_max_reconnects", d.EventBus.NATSMaxReconnects)
	v.SetDefault("eventbus.nats_reconnect_wait", d.EventBus.NATSReconnectWait)
	v.SetDefault("eventbus.nats_queue_group", d.EventBus.NATSQueueGroup)

	// Storage
	v.SetDefault("storage.type", d.Storage.Type)
	v.SetDefault("storage.upload_dir", d.Storage.UploadDir)
	v.SetDefault("storage.minio_endpoint", d.Storage.MinIOEndpoint)
	v.SetDefault("storage.minio_access_key", d.Storage.MinIOAccessKey)
	v.SetDefault("storage.minio_secret_key", d.Storage.MinIOSecretKey)
	v.SetDefault("storage.minio_bucket", d.Storage.MinIOBucket)
	v.SetDefault("storage.minio_use_ssl", d.Storage.MinIOUseSSL)

	// Scheduler
	v.SetDefault("scheduler.enabled", d.Scheduler.Enabled)
	v.SetDefault("scheduler.expire_spec", d.Scheduler.ExpireSpec)
	v.SetDefault("scheduler.reminder_spec", d.Scheduler.ReminderSpec)
	v.SetDefault("scheduler.reminder_days", d.Scheduler.ReminderDays)

	// Observability
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
}
