package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. TECHNOSHIELD_LOGGING_LEVEL
const EnvPrefix = "TECHNOSHIELD"

// Config is the complete application configuration
type Config struct {
	Pipeline    PipelineConfig  `mapstructure:"pipeline"`
	Detection   DetectionConfig `mapstructure:"detection"`
	DataSources []DataSource    `mapstructure:"data_sources" validate:"dive"`
	Logging     LoggingConfig   `mapstructure:"logging"`
	Storage     StorageConfig   `mapstructure:"storage"`
	Metrics     MetricsConfig   `mapstructure:"metrics"`
	Secrets     SecretsConfig   `mapstructure:"secrets"`
}

// PipelineConfig controls how a run is executed
type PipelineConfig struct {
	// IntervalSeconds is advisory for external schedulers; a CLI invocation runs one cycle
	IntervalSeconds   int           `mapstructure:"interval_seconds" validate:"gte=1"`
	ParallelDetectors bool          `mapstructure:"parallel_detectors"`
	RunTimeout        time.Duration `mapstructure:"run_timeout" validate:"gte=0"`
	CollectTimeout    time.Duration `mapstructure:"collect_timeout" validate:"gte=0"`
	StoreEvents       bool          `mapstructure:"store_events"`
}

// DetectionConfig tunes the built-in detectors
type DetectionConfig struct {
	AuthFailureThreshold  int      `mapstructure:"auth_failure_threshold" validate:"gte=1"`
	PortScanThreshold     int      `mapstructure:"port_scan_threshold" validate:"gte=1"`
	LargeTransferBytes    int64    `mapstructure:"large_transfer_bytes" validate:"gte=0"`
	OffHoursTransferBytes int64    `mapstructure:"off_hours_transfer_bytes" validate:"gte=0"`
	OffHoursStart         int      `mapstructure:"off_hours_start" validate:"gte=0,lte=23"`
	OffHoursEnd           int      `mapstructure:"off_hours_end" validate:"gte=0,lte=23"`
	TrustedDomains        []string `mapstructure:"trusted_domains"`
	SensitiveKeywords     []string `mapstructure:"sensitive_keywords"`
	MalwareKeywords       []string `mapstructure:"malware_keywords"`
	AuthFailureTerms      []string `mapstructure:"auth_failure_terms"`
	KeywordFile           string   `mapstructure:"keyword_file"`
}

// DataSource describes one collector input
type DataSource struct {
	Name     string `mapstructure:"name" validate:"required"`
	Type     string `mapstructure:"type" validate:"required"`
	Disabled bool   `mapstructure:"disabled"`

	// api
	URL            string            `mapstructure:"url" validate:"required_if=Type api,omitempty,url"`
	Method         string            `mapstructure:"method" validate:"omitempty,oneof=GET POST"`
	Headers        map[string]string `mapstructure:"headers"`
	Params         map[string]string `mapstructure:"params"`
	Auth           SourceAuth        `mapstructure:"auth"`
	EventsPath     string            `mapstructure:"events_path"`
	TimeoutSeconds int               `mapstructure:"timeout_seconds" validate:"gte=0"`
	RateLimit      float64           `mapstructure:"rate_limit" validate:"gte=0"`

	// file and syslog
	Path       string   `mapstructure:"path" validate:"required_if=Type file,required_if=Type syslog"`
	Format     string   `mapstructure:"format" validate:"omitempty,oneof=json csv log msgpack"`
	Pattern    string   `mapstructure:"pattern"`
	FieldNames []string `mapstructure:"field_names"`
}

// SourceAuth holds API credentials. SecretKey names a secret resolved through
// the configured SecretManager into Token (bearer) or Password (basic).
type SourceAuth struct {
	Type      string `mapstructure:"type" validate:"omitempty,oneof=basic bearer"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	Token     string `mapstructure:"token"`
	SecretKey string `mapstructure:"secret_key"`
}

// LoggingConfig configures the zap logger
type LoggingConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

// StorageConfig enables the alert and event sinks
type StorageConfig struct {
	SQLite     SQLiteConfig     `mapstructure:"sqlite"`
	ClickHouse ClickHouseConfig `mapstructure:"clickhouse"`
	MongoDB    MongoDBConfig    `mapstructure:"mongodb"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Redis      RedisConfig      `mapstructure:"redis"`
}

// SQLiteConfig configures the local alert/event store
type SQLiteConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path" validate:"required_if=Enabled true"`
	// EventRetentionDays and AlertRetentionDays prune older rows after each
	// cycle; zero keeps everything
	EventRetentionDays int `mapstructure:"event_retention_days" validate:"gte=0"`
	AlertRetentionDays int `mapstructure:"alert_retention_days" validate:"gte=0"`
}

// ClickHouseConfig configures the event archive
type ClickHouseConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Addr     []string `mapstructure:"addr" validate:"required_if=Enabled true"`
	Database string   `mapstructure:"database"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	TLS      bool     `mapstructure:"tls"`
}

// MongoDBConfig configures the alert document store
type MongoDBConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	URI        string `mapstructure:"uri" validate:"required_if=Enabled true"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

// KafkaConfig configures the alert stream publisher
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers" validate:"required_if=Enabled true"`
	Topic   string   `mapstructure:"topic" validate:"required_if=Enabled true"`
}

// RedisConfig configures cross-run alert suppression
type RedisConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Addr           string        `mapstructure:"addr" validate:"required_if=Enabled true"`
	Password       string        `mapstructure:"password"`
	DB             int           `mapstructure:"db" validate:"gte=0"`
	SuppressionTTL time.Duration `mapstructure:"suppression_ttl" validate:"gte=0"`
}

// MetricsConfig configures metrics export
type MetricsConfig struct {
	// TextfilePath, when set, receives the metrics after every cycle
	TextfilePath string `mapstructure:"textfile_path"`
}

// SecretsConfig selects where source credentials come from
type SecretsConfig struct {
	Provider string            `mapstructure:"provider" validate:"omitempty,oneof=env vault aws"`
	Vault    VaultSecretConfig `mapstructure:"vault"`
	AWS      AWSSecretConfig   `mapstructure:"aws"`
}

// VaultSecretConfig configures the Vault provider
type VaultSecretConfig struct {
	Address string `mapstructure:"address"`
	Token   string `mapstructure:"token"`
	Path    string `mapstructure:"path"`
}

// AWSSecretConfig configures the AWS Secrets Manager provider
type AWSSecretConfig struct {
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	SecretID  string `mapstructure:"secret_id"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("pipeline.interval_seconds", 300)
	v.SetDefault("pipeline.parallel_detectors", true)
	v.SetDefault("pipeline.run_timeout", 2*time.Minute)
	v.SetDefault("pipeline.collect_timeout", time.Minute)
	v.SetDefault("pipeline.store_events", true)

	v.SetDefault("detection.auth_failure_threshold", 3)
	v.SetDefault("detection.port_scan_threshold", 5)
	v.SetDefault("detection.large_transfer_bytes", 10000000)
	v.SetDefault("detection.off_hours_transfer_bytes", 1000000)
	v.SetDefault("detection.off_hours_start", 22)
	v.SetDefault("detection.off_hours_end", 6)
	v.SetDefault("detection.trusted_domains", []string{"company.com", "partner.org", "vendor.net"})
	v.SetDefault("detection.sensitive_keywords", []string{})
	v.SetDefault("detection.malware_keywords", []string{})
	v.SetDefault("detection.auth_failure_terms", []string{})
	v.SetDefault("detection.keyword_file", "")

	v.SetDefault("data_sources", []map[string]interface{}{})

	v.SetDefault("logging.level", "info")

	v.SetDefault("storage.sqlite.enabled", true)
	v.SetDefault("storage.sqlite.path", "./data/technoshield.db")
	v.SetDefault("storage.sqlite.event_retention_days", 30)
	v.SetDefault("storage.sqlite.alert_retention_days", 0)
	v.SetDefault("storage.clickhouse.enabled", false)
	v.SetDefault("storage.clickhouse.addr", []string{"localhost:9000"})
	v.SetDefault("storage.clickhouse.database", "technoshield")
	v.SetDefault("storage.clickhouse.username", "default")
	v.SetDefault("storage.clickhouse.password", "")
	v.SetDefault("storage.clickhouse.tls", false)
	v.SetDefault("storage.mongodb.enabled", false)
	v.SetDefault("storage.mongodb.uri", "mongodb://localhost:27017")
	v.SetDefault("storage.mongodb.database", "technoshield")
	v.SetDefault("storage.mongodb.collection", "alerts")
	v.SetDefault("storage.kafka.enabled", false)
	v.SetDefault("storage.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("storage.kafka.topic", "technoshield.alerts")
	v.SetDefault("storage.redis.enabled", false)
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.suppression_ttl", 24*time.Hour)

	v.SetDefault("metrics.textfile_path", "")

	v.SetDefault("secrets.provider", "env")
	v.SetDefault("secrets.vault.address", "http://127.0.0.1:8200")
	v.SetDefault("secrets.vault.token", "")
	v.SetDefault("secrets.vault.path", "secret/technoshield")
	v.SetDefault("secrets.aws.region", "us-east-1")
	v.SetDefault("secrets.aws.access_key", "")
	v.SetDefault("secrets.aws.secret_key", "")
	v.SetDefault("secrets.aws.secret_id", "technoshield/secrets")
}

// loadFromEnv sets up environment variable loading. The short PIPELINE_*
// names of earlier deployments are still honoured after the prefixed ones.
func loadFromEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("pipeline.interval_seconds", EnvPrefix+"_PIPELINE_INTERVAL_SECONDS", "PIPELINE_INTERVAL_SECONDS")
	_ = v.BindEnv("logging.level", EnvPrefix+"_LOGGING_LEVEL", "PIPELINE_LOG_LEVEL")
	_ = v.BindEnv("detection.auth_failure_threshold", EnvPrefix+"_DETECTION_AUTH_FAILURE_THRESHOLD", "PIPELINE_AUTH_FAILURES_THRESHOLD")
	_ = v.BindEnv("detection.port_scan_threshold", EnvPrefix+"_DETECTION_PORT_SCAN_THRESHOLD", "PIPELINE_PORT_SCAN_THRESHOLD")
	_ = v.BindEnv("storage.sqlite.path", EnvPrefix+"_SQLITE_PATH")
}

// LoadConfig reads configuration from path, or from config.yaml in . or
// ./config when path is empty. A missing default file is not an error;
// defaults and environment variables apply.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	loadFromEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	normalize(&config)

	if err := Validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &config, nil
}

func normalize(c *Config) {
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	for i := range c.DataSources {
		ds := &c.DataSources[i]
		ds.Type = strings.ToLower(strings.TrimSpace(ds.Type))
		ds.Format = strings.ToLower(strings.TrimSpace(ds.Format))
		ds.Method = strings.ToUpper(strings.TrimSpace(ds.Method))
		ds.Auth.Type = strings.ToLower(strings.TrimSpace(ds.Auth.Type))
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags and cross-field rules
func Validate(c *Config) error {
	var errs []error
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("%s: failed %q check", fe.Namespace(), fe.Tag()))
			}
		} else {
			errs = append(errs, err)
		}
	}

	seen := make(map[string]struct{}, len(c.DataSources))
	for _, ds := range c.DataSources {
		if _, dup := seen[ds.Name]; dup {
			errs = append(errs, fmt.Errorf("data source %q is defined more than once", ds.Name))
		}
		seen[ds.Name] = struct{}{}
		if ds.Auth.Type == "bearer" && ds.Auth.Token == "" && ds.Auth.SecretKey == "" {
			errs = append(errs, fmt.Errorf("data source %q: bearer auth needs token or secret_key", ds.Name))
		}
	}
	return errors.Join(errs...)
}
