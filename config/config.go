package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	AppName                       string   `yaml:"app_name" env:"APP_NAME" env-default:"data-migrator"`
	Port                          int      `yaml:"port" env:"PORT" env-default:"3004"`
	LogLevel                      string   `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `yaml:"pretty_logs" env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `yaml:"http_server_write_timeout_seconds" env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerReadTimeoutSeconds  int      `yaml:"http_server_read_timeout_seconds" env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `yaml:"http_server_idle_timeout_seconds" env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int      `yaml:"http_server_max_header_bytes" env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int      `yaml:"http_server_read_header_timeout_seconds" env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	AllowOrigins                  []string `yaml:"http_server_allow_origins" env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string `yaml:"http_server_allow_methods" env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST"`
	StartupMaxAttempts            int      `yaml:"startup_max_attempts" env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// PostgreSQL (ledger, quarantine and run state)
	DatabaseDriver                string        `yaml:"db_driver" env:"DB_DRIVER" env-default:"postgres"`
	DatabaseHost                  string        `yaml:"db_host" env:"DB_HOST" env-default:""`
	DatabasePort                  string        `yaml:"db_port" env:"DB_PORT" env-default:"5432"`
	DatabaseUserName              string        `yaml:"db_user_name" env:"DB_USER_NAME" env-default:""`
	DatabasePassword              string        `yaml:"-" env:"DB_PASSWORD" env-default:""`
	DatabaseName                  string        `yaml:"db_name" env:"DB_NAME" env-default:"migrator"`
	DatabaseSSLMode               string        `yaml:"db_ssl_mode" env:"DB_SSL_MODE" env-default:"disable"`
	DatabaseMaxOpenConns          int           `yaml:"db_max_open_conns" env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	DatabaseMaxIdleConns          int           `yaml:"db_max_idle_conns" env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DatabaseConnMaxLifetime       time.Duration `yaml:"db_conn_max_lifetime" env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	DatabaseMigrationFolderPath   string        `yaml:"db_migration_folder_path" env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	DatabaseMigrationVersion      int           `yaml:"db_migration_version" env:"DB_MIGRATION_VERSION" env-default:"0"`
	DatabaseMigrationForce        int           `yaml:"db_migration_force" env:"DB_MIGRATION_FORCE" env-default:"0"`
	DatabaseMigrationAutoRollback bool          `yaml:"db_migration_auto_rollback" env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Redis (natural-key locks shared across processes)
	RedisHost      string        `yaml:"redis_host" env:"REDIS_HOST" env-default:""`
	RedisPort      int           `yaml:"redis_port" env:"REDIS_PORT" env-default:"6379"`
	RedisPassword  string        `yaml:"-" env:"REDIS_PASSWORD" env-default:""`
	RedisDB        int           `yaml:"redis_db" env:"REDIS_DB" env-default:"0"`
	RedisKeyPrefix string        `yaml:"redis_key_prefix" env:"REDIS_KEY_PREFIX" env-default:"migrator:lock:"`
	LockTTL        time.Duration `yaml:"lock_ttl" env:"LOCK_TTL" env-default:"30s"`
	LockWait       time.Duration `yaml:"lock_wait" env:"LOCK_WAIT" env-default:"10s"`

	// Kafka Producer (record outcome, quarantine and run events)
	KafkaEnabled      bool     `yaml:"kafka_enabled" env:"KAFKA_ENABLED" env-default:"false"`
	KafkaBrokers      []string `yaml:"kafka_brokers" env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaOutputTopic  string   `yaml:"kafka_output_topic" env:"KAFKA_OUTPUT_TOPIC" env-default:"migration-events"`
	KafkaBatchSize    int      `yaml:"kafka_batch_size" env:"KAFKA_BATCH_SIZE" env-default:"100"`
	KafkaBatchTimeout int      `yaml:"kafka_batch_timeout_ms" env:"KAFKA_BATCH_TIMEOUT_MS" env-default:"100"`
	KafkaRequiredAcks int      `yaml:"kafka_required_acks" env:"KAFKA_REQUIRED_ACKS" env-default:"1"`
	KafkaCompression  string   `yaml:"kafka_compression" env:"KAFKA_COMPRESSION" env-default:"snappy"`

	// Tracing
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT" env-default:""`
	OTLPProtocol string `yaml:"otlp_protocol" env:"OTEL_EXPORTER_OTLP_PROTOCOL" env-default:"grpc"`
	OTLPInsecure bool   `yaml:"otlp_insecure" env:"OTEL_EXPORTER_OTLP_INSECURE" env-default:"true"`

	// Target system
	TargetAdapter         string        `yaml:"target_adapter" env:"TARGET_ADAPTER" env-default:"odoo" validate:"oneof=odoo memory"`
	TargetSnapshotPath    string        `yaml:"target_snapshot_path" env:"TARGET_SNAPSHOT_PATH" env-default:""`
	OdooURL               string        `yaml:"odoo_url" env:"ODOO_URL" env-default:"http://localhost:8069"`
	OdooDatabase          string        `yaml:"odoo_database" env:"ODOO_DATABASE" env-default:""`
	OdooUsername          string        `yaml:"odoo_username" env:"ODOO_USERNAME" env-default:""`
	OdooPassword          string        `yaml:"-" env:"ODOO_PASSWORD" env-default:""`
	OdooTimeout           time.Duration `yaml:"odoo_timeout" env:"ODOO_TIMEOUT" env-default:"30s"`
	OdooRequestsPerSecond float64       `yaml:"odoo_requests_per_second" env:"ODOO_REQUESTS_PER_SECOND" env-default:"20"`
	OdooBreakerFailures   int           `yaml:"odoo_breaker_failures" env:"ODOO_BREAKER_FAILURES" env-default:"5"`
	OdooBreakerTimeout    time.Duration `yaml:"odoo_breaker_timeout" env:"ODOO_BREAKER_TIMEOUT" env-default:"30s"`
	OdooPageSize          int           `yaml:"odoo_page_size" env:"ODOO_PAGE_SIZE" env-default:"500"`

	// Processing
	EntityTypesPath      string        `yaml:"entity_types_path" env:"ENTITY_TYPES_PATH" env-default:"config/entity_types.yaml"`
	Workers              int           `yaml:"workers" env:"WORKERS" env-default:"8" validate:"gte=1"`
	MaxRetries           int           `yaml:"max_retries" env:"MAX_RETRIES" env-default:"3" validate:"gte=0"`
	RetryInitialBackoff  time.Duration `yaml:"retry_initial_backoff" env:"RETRY_INITIAL_BACKOFF" env-default:"100ms"`
	RetryMaxBackoff      time.Duration `yaml:"retry_max_backoff" env:"RETRY_MAX_BACKOFF" env-default:"2s"`
	WriteTimeout         time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT" env-default:"30s"`
	BatchTimeout         time.Duration `yaml:"batch_timeout" env:"BATCH_TIMEOUT" env-default:"1h"`
	AutoMatchThreshold   float64       `yaml:"auto_match_threshold" env:"AUTO_MATCH_THRESHOLD" env-default:"0.85" validate:"gte=0,lte=1"`
	LowConfidenceBound   float64       `yaml:"low_confidence_bound" env:"LOW_CONFIDENCE_BOUND" env-default:"0.6" validate:"gte=0,lte=1"`
	CollisionMargin      float64       `yaml:"collision_margin" env:"COLLISION_MARGIN" env-default:"0.02" validate:"gte=0,lte=1"`
	MaxSuggestions       int           `yaml:"max_suggestions" env:"MAX_SUGGESTIONS" env-default:"5"`
	DefaultPhoneRegion   string        `yaml:"default_phone_region" env:"DEFAULT_PHONE_REGION" env-default:"US"`
	DefaultBucketDays    int           `yaml:"default_bucket_days" env:"DEFAULT_BUCKET_DAYS" env-default:"1"`
	PostLoadSampleSize   int           `yaml:"post_load_sample_size" env:"POST_LOAD_SAMPLE_SIZE" env-default:"50"`
	StrictPostLoad       bool          `yaml:"strict_post_load" env:"STRICT_POST_LOAD" env-default:"false"`
	SeedIndexFromTarget  bool          `yaml:"seed_index_from_target" env:"SEED_INDEX_FROM_TARGET" env-default:"true"`
}

// DotEnvFiles are loaded, when present, before the environment is read.
var DotEnvFiles = []string{".env", ".env.local"}

// Load reads path (optional YAML) with environment overrides. Variables from
// .env files never override ones already set in the process environment.
func Load(path string) (*Config, error) {
	var present []string
	for _, f := range DotEnvFiles {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) > 0 {
		if err := godotenv.Load(present...); err != nil {
			return nil, fmt.Errorf("failed to load %v: %w", present, err)
		}
	}

	cfg := &Config{}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cleanenv.ReadConfig(path, cfg); err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", path, err)
			}
			return cfg, cfg.validate()
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.LowConfidenceBound > c.AutoMatchThreshold {
		return fmt.Errorf("invalid configuration: LOW_CONFIDENCE_BOUND %.2f is above AUTO_MATCH_THRESHOLD %.2f", c.LowConfidenceBound, c.AutoMatchThreshold)
	}
	return nil
}

// UsesDatabase reports whether durable state lives in Postgres. Without a
// database host the ledger, quarantine and runs are kept in memory.
func (c *Config) UsesDatabase() bool {
	return c.DatabaseHost != ""
}
