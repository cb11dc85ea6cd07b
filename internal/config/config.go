// Package config loads finance-advisor settings from defaults, an optional
// YAML file, and FINADVISOR_ environment overrides.
package config

import (
	"errors"
	"net"
	"strings"
	"time"

	finerr "github.com/dvloznov/finance-advisor/pkg/errors"
	"github.com/spf13/viper"
)

const (
	StorageBigQuery = "bigquery"
	StorageSQLite   = "sqlite"

	VectorPgvector = "pgvector"
	VectorChromem  = "chromem"

	EmbeddingGemini = "gemini"
	EmbeddingOllama = "ollama"
)

// Config is the top-level configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Vector    VectorConfig    `mapstructure:"vector"`
	GCS       GCSConfig       `mapstructure:"gcs"`
	Models    ModelsConfig    `mapstructure:"models"`
	Ingestion IngestionConfig `mapstructure:"ingestion"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Tools     ToolsConfig     `mapstructure:"tools"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Listen         string        `mapstructure:"listen"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
}

// AuthConfig configures bearer-token verification. AllowHeaderTenant lets
// local setups pass X-User-ID instead of a token.
type AuthConfig struct {
	JWTSecret         string `mapstructure:"jwt_secret"`
	AllowHeaderTenant bool   `mapstructure:"allow_header_tenant"`
}

type StorageConfig struct {
	Backend  string         `mapstructure:"backend"`
	BigQuery BigQueryConfig `mapstructure:"bigquery"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
}

type BigQueryConfig struct {
	Project string `mapstructure:"project"`
	Dataset string `mapstructure:"dataset"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type VectorConfig struct {
	Backend  string         `mapstructure:"backend"`
	Pgvector PgvectorConfig `mapstructure:"pgvector"`
	Chromem  ChromemConfig  `mapstructure:"chromem"`
}

type PgvectorConfig struct {
	DSN        string `mapstructure:"dsn"`
	Table      string `mapstructure:"table"`
	Dimensions int    `mapstructure:"dimensions"`
}

// ChromemConfig points at a persistent chromem directory; an empty path keeps it in memory.
type ChromemConfig struct {
	Path       string `mapstructure:"path"`
	Collection string `mapstructure:"collection"`
}

// GCSConfig enables archiving raw uploads when Bucket is set.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

type ModelsConfig struct {
	APIKey             string        `mapstructure:"api_key"`
	ChatModel          string        `mapstructure:"chat_model"`
	StructuringModel   string        `mapstructure:"structuring_model"`
	EmbeddingProvider  string        `mapstructure:"embedding_provider"`
	EmbeddingModel     string        `mapstructure:"embedding_model"`
	OllamaURL          string        `mapstructure:"ollama_url"`
	RequestsPerSecond  float64       `mapstructure:"requests_per_second"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	EmbeddingTimeout   time.Duration `mapstructure:"embedding_timeout"`
	ExtractionMaxBytes int64         `mapstructure:"extraction_max_bytes"`
}

type IngestionConfig struct {
	Workers     int           `mapstructure:"workers"`
	QueueSize   int           `mapstructure:"queue_size"`
	StepTimeout time.Duration `mapstructure:"step_timeout"`
	JobTimeout  time.Duration `mapstructure:"job_timeout"`
}

type AgentConfig struct {
	MaxRounds     int           `mapstructure:"max_rounds"`
	DecideTimeout time.Duration `mapstructure:"decide_timeout"`
	ToolTimeout   time.Duration `mapstructure:"tool_timeout"`
	ParallelTools int           `mapstructure:"parallel_tools"`
}

type ToolsConfig struct {
	SearchK            int     `mapstructure:"search_k"`
	RecurringMinAmount float64 `mapstructure:"recurring_min_amount"`
	MaxRows            int     `mapstructure:"max_rows"`
}

type ReconcileConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Repair   bool          `mapstructure:"repair"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix FINADVISOR_).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FINADVISOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The API historically read the bucket from GCS_BUCKET.
	_ = v.BindEnv("gcs.bucket", "FINADVISOR_GCS_BUCKET", "GCS_BUCKET")
	_ = v.BindEnv("models.api_key", "FINADVISOR_MODELS_API_KEY", "GEMINI_API_KEY")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, finerr.Errorf(finerr.CodeConfigValidateInvalidValue, "reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, finerr.Errorf(finerr.CodeConfigValidateInvalidValue, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, finerr.Errorf(finerr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.max_upload_bytes", int64(20<<20))

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.allow_header_tenant", false)

	v.SetDefault("storage.backend", StorageSQLite)
	v.SetDefault("storage.bigquery.project", "")
	v.SetDefault("storage.bigquery.dataset", "finance")
	v.SetDefault("storage.sqlite.path", "finance.db")

	v.SetDefault("vector.backend", VectorChromem)
	v.SetDefault("vector.pgvector.dsn", "")
	v.SetDefault("vector.pgvector.table", "transaction_vectors")
	v.SetDefault("vector.pgvector.dimensions", 768)
	v.SetDefault("vector.chromem.path", "")
	v.SetDefault("vector.chromem.collection", "transactions")

	v.SetDefault("gcs.bucket", "")
	v.SetDefault("gcs.prefix", "uploads")

	v.SetDefault("models.api_key", "")
	v.SetDefault("models.chat_model", "gemini-2.5-flash")
	v.SetDefault("models.structuring_model", "gemini-2.5-flash")
	v.SetDefault("models.embedding_provider", EmbeddingGemini)
	v.SetDefault("models.embedding_model", "text-embedding-004")
	v.SetDefault("models.ollama_url", "http://localhost:11434")
	v.SetDefault("models.requests_per_second", 2.0)
	v.SetDefault("models.request_timeout", 90*time.Second)
	v.SetDefault("models.embedding_timeout", 30*time.Second)
	v.SetDefault("models.extraction_max_bytes", int64(20<<20))

	v.SetDefault("ingestion.workers", 4)
	v.SetDefault("ingestion.queue_size", 100)
	v.SetDefault("ingestion.step_timeout", 2*time.Minute)
	v.SetDefault("ingestion.job_timeout", 10*time.Minute)

	v.SetDefault("agent.max_rounds", 6)
	v.SetDefault("agent.decide_timeout", 60*time.Second)
	v.SetDefault("agent.tool_timeout", 30*time.Second)
	v.SetDefault("agent.parallel_tools", 4)

	v.SetDefault("tools.search_k", 5)
	v.SetDefault("tools.recurring_min_amount", 5.0)
	v.SetDefault("tools.max_rows", 200)

	v.SetDefault("reconcile.interval", 15*time.Minute)
	v.SetDefault("reconcile.repair", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Validate checks the configuration for logical errors, collecting every
// problem rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateVector()...)
	errs = append(errs, c.validateModels()...)
	errs = append(errs, c.validateIngestion()...)
	errs = append(errs, c.validateAgent()...)

	return errs
}

func invalid(format string, args ...any) error {
	return finerr.Errorf(finerr.CodeConfigValidateInvalidValue, "config: "+format, args...)
}

func (c *Config) validateServer() []error {
	var errs []error

	if _, _, err := net.SplitHostPort(c.Server.Listen); err != nil {
		errs = append(errs, invalid("server.listen must be host:port, got %q: %w", c.Server.Listen, err))
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, invalid("server.max_upload_bytes must be positive, got %d", c.Server.MaxUploadBytes))
	}

	return errs
}

func (c *Config) validateStorage() []error {
	var errs []error

	switch c.Storage.Backend {
	case StorageBigQuery:
		if c.Storage.BigQuery.Project == "" {
			errs = append(errs, invalid("storage.bigquery.project is required for the bigquery backend"))
		}
		if c.Storage.BigQuery.Dataset == "" {
			errs = append(errs, invalid("storage.bigquery.dataset is required for the bigquery backend"))
		}
	case StorageSQLite:
		if c.Storage.SQLite.Path == "" {
			errs = append(errs, invalid("storage.sqlite.path must not be empty"))
		}
	default:
		errs = append(errs, invalid("storage.backend must be one of [bigquery, sqlite], got %q", c.Storage.Backend))
	}

	return errs
}

func (c *Config) validateVector() []error {
	var errs []error

	switch c.Vector.Backend {
	case VectorPgvector:
		if c.Vector.Pgvector.DSN == "" {
			errs = append(errs, invalid("vector.pgvector.dsn is required for the pgvector backend"))
		}
		if c.Vector.Pgvector.Dimensions <= 0 {
			errs = append(errs, invalid("vector.pgvector.dimensions must be positive, got %d", c.Vector.Pgvector.Dimensions))
		}
	case VectorChromem:
		if c.Vector.Chromem.Collection == "" {
			errs = append(errs, invalid("vector.chromem.collection must not be empty"))
		}
	default:
		errs = append(errs, invalid("vector.backend must be one of [pgvector, chromem], got %q", c.Vector.Backend))
	}

	return errs
}

func (c *Config) validateModels() []error {
	var errs []error

	switch c.Models.EmbeddingProvider {
	case EmbeddingGemini, EmbeddingOllama:
	default:
		errs = append(errs, invalid("models.embedding_provider must be one of [gemini, ollama], got %q", c.Models.EmbeddingProvider))
	}
	if c.Models.RequestsPerSecond <= 0 {
		errs = append(errs, invalid("models.requests_per_second must be positive, got %v", c.Models.RequestsPerSecond))
	}
	if c.Models.RequestTimeout <= 0 {
		errs = append(errs, invalid("models.request_timeout must be positive"))
	}

	return errs
}

func (c *Config) validateIngestion() []error {
	var errs []error

	if c.Ingestion.Workers < 1 {
		errs = append(errs, invalid("ingestion.workers must be at least 1, got %d", c.Ingestion.Workers))
	}
	if c.Ingestion.QueueSize < 1 {
		errs = append(errs, invalid("ingestion.queue_size must be at least 1, got %d", c.Ingestion.QueueSize))
	}
	if c.Ingestion.StepTimeout <= 0 || c.Ingestion.JobTimeout <= 0 {
		errs = append(errs, invalid("ingestion timeouts must be positive"))
	}

	return errs
}

func (c *Config) validateAgent() []error {
	var errs []error

	if c.Agent.MaxRounds < 1 {
		errs = append(errs, invalid("agent.max_rounds must be at least 1, got %d", c.Agent.MaxRounds))
	}
	if c.Agent.DecideTimeout <= 0 || c.Agent.ToolTimeout <= 0 {
		errs = append(errs, invalid("agent timeouts must be positive"))
	}
	if c.Agent.ParallelTools < 1 {
		errs = append(errs, invalid("agent.parallel_tools must be at least 1, got %d", c.Agent.ParallelTools))
	}
	if c.Tools.SearchK < 1 {
		errs = append(errs, invalid("tools.search_k must be at least 1, got %d", c.Tools.SearchK))
	}

	return errs
}
