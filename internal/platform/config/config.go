// Package config loads the engine configuration from INI files and the
// environment. APP_ENV selects the file under configs/ (dev, prod, local,
// test); MINIFLOW_-prefixed environment variables override file values.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

// Config holds all configuration for a service.
type Config struct {
	Service          ServiceConfig          `mapstructure:"service"`
	HTTP             HTTPConfig             `mapstructure:"http"`
	Logger           LoggerConfig           `mapstructure:"logger"`
	Database         DatabaseConfig         `mapstructure:"database"`
	Redis            RedisConfig            `mapstructure:"redis"`
	Kafka            KafkaConfig            `mapstructure:"kafka"`
	InputHandler     HandlerConfig          `mapstructure:"input_handler"`
	OutputHandler    HandlerConfig          `mapstructure:"output_handler"`
	SchedulerService SchedulerServiceConfig `mapstructure:"scheduler_service"`
	Storage          StorageConfig          `mapstructure:"storage"`
	Encryption       EncryptionConfig       `mapstructure:"encryption"`
	Telemetry        TelemetryConfig        `mapstructure:"telemetry"`
	Version          string                 `mapstructure:"version"`
}

// ServiceConfig holds service identity.
type ServiceConfig struct {
	Name        string `mapstructure:"name" envconfig:"SERVICE_NAME"`
	Environment string `mapstructure:"environment" envconfig:"APP_ENV" default:"dev"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port         int           `mapstructure:"port" envconfig:"HTTP_PORT" default:"8080"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" envconfig:"HTTP_READ_TIMEOUT" default:"10s"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" envconfig:"HTTP_WRITE_TIMEOUT" default:"10s"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" envconfig:"HTTP_IDLE_TIMEOUT" default:"120s"`
}

// LoggerConfig holds logger configuration.
type LoggerConfig struct {
	Level      string `mapstructure:"level" envconfig:"LOG_LEVEL" default:"info"`
	Format     string `mapstructure:"format" envconfig:"LOG_FORMAT" default:"json"`
	OutputPath string `mapstructure:"output_path" envconfig:"LOG_OUTPUT_PATH" default:"stdout"`
}

// DatabaseConfig holds the engine-store database configuration.
type DatabaseConfig struct {
	Type            string        `mapstructure:"type" envconfig:"DB_TYPE" default:"postgresql"`
	Host            string        `mapstructure:"host" envconfig:"DB_HOST" default:"localhost"`
	Port            int           `mapstructure:"port" envconfig:"DB_PORT" default:"5432"`
	User            string        `mapstructure:"user" envconfig:"DB_USER" default:"postgres"`
	Password        string        `mapstructure:"password" envconfig:"DB_PASSWORD" default:"postgres"`
	Database        string        `mapstructure:"database" envconfig:"DB_NAME" default:"miniflow"`
	SSLMode         string        `mapstructure:"ssl_mode" envconfig:"DB_SSL_MODE" default:"disable"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" envconfig:"DB_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" envconfig:"DB_CONN_MAX_LIFETIME" default:"5m"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" envconfig:"DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// RedisConfig holds the engine queue transport configuration.
type RedisConfig struct {
	Host           string        `mapstructure:"host" envconfig:"REDIS_HOST" default:"localhost"`
	Port           int           `mapstructure:"port" envconfig:"REDIS_PORT" default:"6379"`
	Password       string        `mapstructure:"password" envconfig:"REDIS_PASSWORD"`
	DB             int           `mapstructure:"db" envconfig:"REDIS_DB" default:"0"`
	PoolSize       int           `mapstructure:"pool_size" envconfig:"REDIS_POOL_SIZE" default:"10"`
	MinIdleConns   int           `mapstructure:"min_idle_conns" envconfig:"REDIS_MIN_IDLE_CONNS" default:"5"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout" envconfig:"REDIS_DIAL_TIMEOUT" default:"5s"`
	KeyPrefix      string        `mapstructure:"key_prefix" envconfig:"REDIS_KEY_PREFIX" default:"miniflow"`
	TaskQueueKey   string        `mapstructure:"task_queue_key" envconfig:"REDIS_TASK_QUEUE_KEY" default:"miniflow:tasks"`
	ResultQueueKey string        `mapstructure:"result_queue_key" envconfig:"REDIS_RESULT_QUEUE_KEY" default:"miniflow:results"`
}

// KafkaConfig holds the lifecycle event publisher configuration.
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled" envconfig:"KAFKA_ENABLED"`
	Brokers []string `mapstructure:"brokers" envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	Topic   string   `mapstructure:"topic" envconfig:"KAFKA_TOPIC" default:"execution-events"`
}

// HandlerConfig is the shared shape of the input and output handler loops.
type HandlerConfig struct {
	BatchSize          int           `mapstructure:"batch_size" default:"50"`
	WorkerThreads      int           `mapstructure:"worker_threads" default:"4"`
	MaxRetries         int           `mapstructure:"max_retries" default:"3"`
	ContextTimeout     time.Duration `mapstructure:"context_timeout" default:"30s"`
	EngineTimeout      time.Duration `mapstructure:"engine_timeout" default:"60s"`
	PollTimeout        time.Duration `mapstructure:"poll_timeout" default:"1s"`
	MinPollingInterval time.Duration `mapstructure:"min_polling_interval" default:"100ms"`
	MaxPollingInterval time.Duration `mapstructure:"max_polling_interval" default:"5s"`
	RetryDelay         time.Duration `mapstructure:"retry_delay" default:"1s"`
	AdaptivePolling    bool          `mapstructure:"adaptive_polling" default:"true"`
	ParallelContext    bool          `mapstructure:"parallel_context" default:"true"`
}

// SchedulerServiceConfig holds resolver alias sets and trigger scheduling.
type SchedulerServiceConfig struct {
	AcceptedTrueValues     []string      `mapstructure:"accepted_true_values" envconfig:"ACCEPTED_TRUE_VALUES" default:"true,1,yes,on"`
	AcceptedFalseValues    []string      `mapstructure:"accepted_false_values" envconfig:"ACCEPTED_FALSE_VALUES" default:"false,0,no,off"`
	TriggerRefreshInterval time.Duration `mapstructure:"trigger_refresh_interval" envconfig:"TRIGGER_REFRESH_INTERVAL" default:"1m"`
}

// StorageConfig holds script and file storage configuration.
type StorageConfig struct {
	BaseDir     string `mapstructure:"base_dir" envconfig:"STORAGE_BASE_DIR" default:"resources"`
	S3Enabled   bool   `mapstructure:"s3_enabled" envconfig:"STORAGE_S3_ENABLED"`
	S3Bucket    string `mapstructure:"s3_bucket" envconfig:"STORAGE_S3_BUCKET"`
	S3Region    string `mapstructure:"s3_region" envconfig:"STORAGE_S3_REGION" default:"us-east-1"`
	S3AccessKey string `mapstructure:"s3_access_key" envconfig:"STORAGE_S3_ACCESS_KEY"`
	S3SecretKey string `mapstructure:"s3_secret_key" envconfig:"STORAGE_S3_SECRET_KEY"`
	S3Endpoint  string `mapstructure:"s3_endpoint" envconfig:"STORAGE_S3_ENDPOINT"`
}

// EncryptionConfig holds the secret-decryption key material.
type EncryptionConfig struct {
	Key        string `mapstructure:"key" envconfig:"ENCRYPTION_KEY"`
	KeyType    string `mapstructure:"key_type" envconfig:"ENCRYPTION_KEY_TYPE" default:"passphrase"`
	Salt       string `mapstructure:"salt" envconfig:"ENCRYPTION_SALT"`
	Iterations int    `mapstructure:"iterations" envconfig:"ENCRYPTION_ITERATIONS" default:"100000"`
}

// TelemetryConfig holds tracing and metrics configuration.
type TelemetryConfig struct {
	MetricsEnabled bool   `mapstructure:"metrics_enabled" envconfig:"METRICS_ENABLED" default:"true"`
	TracingEnabled bool   `mapstructure:"tracing_enabled" envconfig:"TRACING_ENABLED"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint" envconfig:"JAEGER_ENDPOINT" default:"http://localhost:14268/api/traces"`
	ServiceName    string `mapstructure:"service_name" envconfig:"TELEMETRY_SERVICE_NAME"`
}

var knownEnvironments = map[string]bool{"dev": true, "prod": true, "local": true, "test": true}

// Load loads configuration for a service. The file configs/<APP_ENV>.ini is
// read when present; environment variables override file values.
func Load(serviceName string) (*Config, error) {
	var cfg Config

	cfg.Service.Name = serviceName

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}
	if !knownEnvironments[env] {
		return nil, fmt.Errorf("unknown APP_ENV %q (expected dev, prod, local, or test)", env)
	}

	v := viper.New()
	v.SetConfigName(env)
	v.SetConfigType("ini")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/miniflow")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No file for this environment; env vars and defaults apply.
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := envconfig.Process("miniflow", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env vars: %w", err)
	}

	cfg.Service.Environment = env
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = serviceName
	}
	if version := os.Getenv("VERSION"); version != "" {
		cfg.Version = version
	} else if cfg.Version == "" {
		cfg.Version = "dev"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "postgresql", "postgres", "mysql":
	case "sqlite":
		return fmt.Errorf("DB_TYPE sqlite is not supported by the engine build; use postgresql or mysql")
	default:
		return fmt.Errorf("unknown DB_TYPE %q", c.Database.Type)
	}

	for name, h := range map[string]HandlerConfig{"input_handler": c.InputHandler, "output_handler": c.OutputHandler} {
		if h.BatchSize <= 0 {
			return fmt.Errorf("%s.batch_size must be positive", name)
		}
		if h.WorkerThreads <= 0 {
			return fmt.Errorf("%s.worker_threads must be positive", name)
		}
		if h.MinPollingInterval <= 0 || h.MaxPollingInterval < h.MinPollingInterval {
			return fmt.Errorf("%s polling interval bounds are invalid", name)
		}
	}
	return nil
}

// DriverName maps the configured database type onto a database/sql driver.
func (c *DatabaseConfig) DriverName() string {
	if c.Type == "mysql" {
		return "mysql"
	}
	return "postgres"
}

// DSN returns the database connection string for the configured driver.
func (c *DatabaseConfig) DSN() string {
	if c.Type == "mysql" {
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			c.User, c.Password, c.Host, c.Port, c.Database)
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// Addr returns the Redis address.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
