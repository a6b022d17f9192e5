package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config structure represents the application configuration
type Config struct {
	Server struct {
		Port         string `yaml:"port" env:"SERVER_PORT"`
		Mode         string `yaml:"mode" env:"SERVER_MODE"`
		ReadTimeout  string `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
		WriteTimeout string `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	} `yaml:"server"`

	Database struct {
		Host            string `yaml:"host" env:"DB_HOST"`
		Port            string `yaml:"port" env:"DB_PORT"`
		User            string `yaml:"user" env:"DB_USER"`
		Password        string `yaml:"password" env:"DB_PASSWORD"`
		DBName          string `yaml:"dbname" env:"DB_NAME"`
		SSLMode         string `yaml:"sslmode" env:"DB_SSLMODE"`
		MaxIdleConns    int    `yaml:"max_idle_conns" env:"DB_MAX_IDLE_CONNS"`
		MaxOpenConns    int    `yaml:"max_open_conns" env:"DB_MAX_OPEN_CONNS"`
		ConnMaxLifetime string `yaml:"conn_max_lifetime" env:"DB_CONN_MAX_LIFETIME"`
		MigrationsDir   string `yaml:"migrations_dir" env:"DB_MIGRATIONS_DIR"`
	} `yaml:"database"`

	Redis struct {
		Addr     string `yaml:"addr" env:"REDIS_ADDR"`
		Password string `yaml:"password" env:"REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"REDIS_DB"`
		// UnreadTTL bounds how long an idle unread counter is cached
		UnreadTTL string `yaml:"unread_ttl" env:"REDIS_UNREAD_TTL"`
	} `yaml:"redis"`

	Kafka struct {
		Brokers   string `yaml:"brokers" env:"KAFKA_BOOTSTRAP_SERVERS"`
		PushTopic string `yaml:"push_topic" env:"KAFKA_TOPIC_PUSH"`
	} `yaml:"kafka"`

	Storage struct {
		Endpoint      string `yaml:"endpoint" env:"S3_ENDPOINT"`
		AccessKey     string `yaml:"access_key" env:"S3_ACCESS_KEY"`
		SecretKey     string `yaml:"secret_key" env:"S3_SECRET_KEY"`
		UseSSL        bool   `yaml:"use_ssl" env:"S3_USE_SSL"`
		Bucket        string `yaml:"bucket" env:"S3_BUCKET"`
		PublicBaseURL string `yaml:"public_base_url" env:"S3_PUBLIC_BASE_URL"`
		MaxUploadMB   int    `yaml:"max_upload_mb" env:"S3_MAX_UPLOAD_MB"`
	} `yaml:"storage"`

	JWT struct {
		Secret string `yaml:"secret" env:"JWT_SECRET"`
		Issuer string `yaml:"issuer" env:"JWT_ISSUER"`
	} `yaml:"jwt"`

	Chat struct {
		EphemeralPlaceholder string `yaml:"ephemeral_placeholder" env:"CHAT_EPHEMERAL_PLACEHOLDER"`
		SweepInterval        string `yaml:"sweep_interval" env:"CHAT_SWEEP_INTERVAL"`
		FanoutConcurrency    int    `yaml:"fanout_concurrency" env:"CHAT_FANOUT_CONCURRENCY"`
		FanoutTimeout        string `yaml:"fanout_timeout" env:"CHAT_FANOUT_TIMEOUT"`
		PageSize             int    `yaml:"page_size" env:"CHAT_PAGE_SIZE"`
	} `yaml:"chat"`

	Telemetry struct {
		Enabled     bool    `yaml:"enabled" env:"OTEL_ENABLED"`
		Endpoint    string  `yaml:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
		ServiceName string  `yaml:"service_name" env:"OTEL_SERVICE_NAME"`
		SampleRatio float64 `yaml:"sample_ratio" env:"OTEL_TRACES_SAMPLER_ARG"`
		Environment string  `yaml:"environment" env:"ENV"`
	} `yaml:"telemetry"`

	Logging struct {
		Level  string `yaml:"level" env:"LOG_LEVEL"`
		Format string `yaml:"format" env:"LOG_FORMAT"`
	} `yaml:"logging"`
}

// LoadConfig loads configuration from a file, an optional .env file and environment variables
func LoadConfig(configPath string, envFiles ...string) (*Config, error) {
	// Load default config with sane defaults
	config := &Config{}
	setDefaults(config)

	// Try to read config file if it exists
	if _, err := os.Stat(configPath); err == nil {
		file, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(file, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	// .env files only populate variables that are not already set
	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}

	// Override with environment variables
	if err := processStructFields(config); err != nil {
		return nil, fmt.Errorf("failed to load from environment: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func loadEnvFiles(envFiles []string) error {
	for _, path := range envFiles {
		if path == "" {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load env file %s: %w", path, err)
		}
	}
	return nil
}

// setDefaults sets default values for the configuration
func setDefaults(config *Config) {
	// Server defaults
	config.Server.Port = "8080"
	config.Server.Mode = "development"
	config.Server.ReadTimeout = "10s"
	config.Server.WriteTimeout = "30s"

	// Database defaults
	config.Database.Host = "localhost"
	config.Database.Port = "5432"
	config.Database.User = "postgres"
	config.Database.Password = "postgres"
	config.Database.DBName = "clubchat"
	config.Database.SSLMode = "disable"
	config.Database.MaxIdleConns = 5
	config.Database.MaxOpenConns = 20
	config.Database.ConnMaxLifetime = "1h"
	config.Database.MigrationsDir = "migrations"

	// Redis defaults
	config.Redis.Addr = "localhost:6379"
	config.Redis.UnreadTTL = "168h"

	// Kafka defaults
	config.Kafka.Brokers = "localhost:9092"
	config.Kafka.PushTopic = "push.outbound"

	// Storage defaults
	config.Storage.Endpoint = "localhost:9000"
	config.Storage.Bucket = "chat-media"
	config.Storage.MaxUploadMB = 25

	// JWT defaults
	config.JWT.Issuer = "clubchat.app"

	// Chat defaults
	config.Chat.EphemeralPlaceholder = "⏱ This media has expired"
	config.Chat.SweepInterval = "1m"
	config.Chat.FanoutConcurrency = 16
	config.Chat.FanoutTimeout = "30s"
	config.Chat.PageSize = 50

	// Telemetry defaults
	config.Telemetry.Endpoint = "localhost:4318"
	config.Telemetry.ServiceName = "clubchat"
	config.Telemetry.SampleRatio = 1.0
	config.Telemetry.Environment = "local"

	// Logging defaults
	config.Logging.Level = "info"
	config.Logging.Format = "json"
}

// validateConfig ensures that the configuration is valid
func validateConfig(config *Config) error {
	if config.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if config.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}

	if config.Storage.Bucket == "" {
		return fmt.Errorf("storage bucket is required")
	}

	if config.Chat.FanoutConcurrency <= 0 {
		return fmt.Errorf("chat fanout concurrency must be positive")
	}

	if config.Telemetry.SampleRatio < 0 || config.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry sample ratio must be within [0, 1]")
	}

	durations := map[string]string{
		"server read timeout":  config.Server.ReadTimeout,
		"server write timeout": config.Server.WriteTimeout,
		"db conn max lifetime": config.Database.ConnMaxLifetime,
		"redis unread ttl":     config.Redis.UnreadTTL,
		"chat sweep interval":  config.Chat.SweepInterval,
		"chat fanout timeout":  config.Chat.FanoutTimeout,
	}
	for name, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s format: %w", name, err)
		}
	}

	return nil
}

// GetPostgresConnectionString returns postgres connection string
func (c *Config) GetPostgresConnectionString() string {
	sslMode := c.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.DBName,
		sslMode,
	)
}

// KafkaBrokers splits the comma separated broker list
func (c *Config) KafkaBrokers() []string {
	var brokers []string
	for _, broker := range strings.Split(c.Kafka.Brokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}
