package domain

import "time"

// Config holds the complete conrisk configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Tier determines which backends are used
	Tier Tier `json:"tier" mapstructure:"tier"`

	Auth     AuthConfig     `json:"auth" mapstructure:"auth"`
	Upload   UploadConfig   `json:"upload" mapstructure:"upload"`
	Analysis AnalysisConfig `json:"analysis" mapstructure:"analysis"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" mapstructure:"repository"`
	Cache      CacheConfig      `json:"cache" mapstructure:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" mapstructure:"eventbus"`
	Storage    StorageConfig    `json:"storage" mapstructure:"storage"`
	Scheduler  SchedulerConfig  `json:"scheduler" mapstructure:"scheduler"`

	// Observability
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string   `json:"host" mapstructure:"host"`
	Port           int      `json:"port" mapstructure:"port"`
	ReadTimeout    int      `json:"readTimeout" mapstructure:"read_timeout"`   // seconds
	WriteTimeout   int      `json:"writeTimeout" mapstructure:"write_timeout"` // seconds
	AllowedOrigins []string `json:"allowedOrigins" mapstructure:"allowed_origins"`
	FrontendURL    string   `json:"frontendUrl" mapstructure:"frontend_url"`

	// RateLimit is the sustained requests per second allowed on upload and
	// analysis routes; RateBurst is the bucket size.
	RateLimit float64 `json:"rateLimit" mapstructure:"rate_limit"`
	RateBurst int     `json:"rateBurst" mapstructure:"rate_burst"`
}

// AuthConfig holds token and login settings.
type AuthConfig struct {
	JWTSecret     string        `json:"-" mapstructure:"jwt_secret"`
	TokenTTL      time.Duration `json:"tokenTtl" mapstructure:"token_ttl"`
	BcryptCost    int           `json:"bcryptCost" mapstructure:"bcrypt_cost"`
	MaxLoginFails int           `json:"maxLoginFails" mapstructure:"max_login_fails"`
	LockoutWindow time.Duration `json:"lockoutWindow" mapstructure:"lockout_window"`
}

// UploadConfig limits contract uploads.
type UploadConfig struct {
	MaxFileSize int64 `json:"maxFileSize" mapstructure:"max_file_size"` // bytes
}

// AnalysisConfig tunes the analysis pipeline.
type AnalysisConfig struct {
	// Async hands persisted analyses to the worker instead of running inline.
	Async       bool `json:"async" mapstructure:"async"`
	WorkerCount int  `json:"workerCount" mapstructure:"worker_count"`

	// Patterns overrides the trigger phrases of a category, keyed by category name.
	Patterns map[string][]string `json:"patterns,omitempty" mapstructure:"patterns"`

	// AlertLevel is the overall level at which a summary is flagged ALERT.
	AlertLevel RiskLevel `json:"alertLevel" mapstructure:"alert_level"`

	// Tenants served by the worker; empty means the global subscription.
	Tenants []string `json:"tenants,omitempty" mapstructure:"tenants"`
}

// SchedulerConfig controls the periodic jobs.
type SchedulerConfig struct {
	Enabled      bool   `json:"enabled" mapstructure:"enabled"`
	ExpireSpec   string `json:"expireSpec" mapstructure:"expire_spec"`
	ReminderSpec string `json:"reminderSpec" mapstructure:"reminder_spec"`
	ReminderDays int    `json:"reminderDays" mapstructure:"reminder_days"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName string `json:"serviceName" mapstructure:"service_name"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite, channels, local disk and an in-process cache
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL, NATS, MinIO and Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "localhost",
			Port:         3000,
			ReadTimeout:  30,
			WriteTimeout: 60,
			AllowedOrigins: []string{
				"http://localhost:5173",
				"http://conrisk.zlinks.cc:5173",
				"http://conrisk.zlinks.cc:3000",
			},
			RateLimit: 5,
			RateBurst: 10,
		},
		Tier: TierCommunity,
		Auth: AuthConfig{
			TokenTTL:      24 * time.Hour,
			BcryptCost:    10,
			MaxLoginFails: 5,
			LockoutWindow: 15 * time.Minute,
		},
		Upload: UploadConfig{
			MaxFileSize: 10 * 1024 * 1024, // 10MB
		},
		Analysis: AnalysisConfig{
			WorkerCount: 4,
			AlertLevel:  RiskHigh,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./data/conrisk.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Storage: StorageConfig{
			Type:      "local",
			UploadDir: "./uploads",
		},
		Scheduler: SchedulerConfig{
			Enabled:      true,
			ExpireSpec:   "0 0 2 * * *",
			ReminderSpec: "0 0 8 * * *",
			ReminderDays: 7,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "conrisk",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "conrisk",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Storage = StorageConfig{
		Type:           "minio",
		MinIOEndpoint:  "127.0.0.1:9000",
		MinIOAccessKey: "minioadmin",
		MinIOSecretKey: "minioadmin",
		MinIOBucket:    "contracts",
	}
	cfg.Analysis.Async = true
	cfg.Tracing.Enabled = true
	return cfg
}
