package config

// Package config provides structures and utilities for managing application
// configuration.

// EmbeddedConfig holds the content of the configuration file, typically
// passed from main.go as an embedded resource.
type EmbeddedConfig []byte

// LogLevel defines the logging level for the application.
type LogLevel string

const (
	LogLevelDebug  LogLevel = "DEBUG"
	LogLevelInfo   LogLevel = "INFO"
	LogLevelWarn   LogLevel = "WARN"
	LogLevelError  LogLevel = "ERROR"
	LogLevelFatal  LogLevel = "FATAL"
	LogLevelSilent LogLevel = "SILENT"
)

// RetryConfig holds the retry behavior for vendor calls. The vendor does
// not publish its rate limits, so the policy is configurable rather than
// guessed: a fixed interval between attempts, bounded by max_attempts.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts per call (1 = no retry).
	MaxAttempts int `yaml:"max_attempts"`
	// InitialInterval is the backoff interval in milliseconds.
	InitialInterval int `yaml:"initial_interval"`
}

// InterpConfig holds the connection settings for the variant-interpretation
// service.
type InterpConfig struct {
	// BaseURL is the root URL of the interpretation service API.
	BaseURL string `yaml:"base_url"`
	// TokenURL is the OAuth token endpoint. Defaults to BaseURL + "/auth/token".
	TokenURL string `yaml:"token_url"`
	// ClientID is the OAuth client identifier.
	ClientID string `yaml:"client_id"`
	// ClientSecret is the OAuth client secret. Masked in logs.
	ClientSecret string `yaml:"client_secret"`
	// PaceMillis is the minimum spacing between calls issued under one
	// credential, in milliseconds.
	PaceMillis int `yaml:"pace_millis"`
	// TimeoutSeconds is the per-call deadline.
	TimeoutSeconds int `yaml:"timeout_seconds"`
	// MaxConcurrency bounds the number of in-flight calls per traversal stage.
	MaxConcurrency int `yaml:"max_concurrency"`
	// Retry is the per-call retry configuration.
	Retry RetryConfig `yaml:"retry"`
}

// RegistryConfig holds the connection settings for the registry store.
type RegistryConfig struct {
	// BaseURL is the root URL of the registry API.
	BaseURL string `yaml:"base_url"`
	// Token is the API token sent on every request. Masked in logs.
	Token string `yaml:"token"`
	// BatchSize is the page size for filtered reads.
	BatchSize int `yaml:"batch_size"`
	// TimeoutSeconds is the per-call deadline.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// ExportConfig holds the settings for the post-sync parquet export.
type ExportConfig struct {
	// Enabled toggles the export step.
	Enabled bool `yaml:"enabled"`
	// StorageRef is the name of the storage connection to write through.
	StorageRef string `yaml:"storage_ref"`
	// OutputBaseDir is the directory prefix for exported files.
	OutputBaseDir string `yaml:"output_base_dir"`
	// CompressionType is the parquet compression ("SNAPPY", "GZIP", "NONE").
	CompressionType string `yaml:"compression_type"`
}

// ArchiveConfig holds the settings for the raw payload archive.
type ArchiveConfig struct {
	// Enabled toggles archiving of raw leaf payloads.
	Enabled bool `yaml:"enabled"`
	// StorageRef is the name of the storage connection to write through.
	StorageRef string `yaml:"storage_ref"`
}

// PipelineConfig holds configuration specific to the sync pipeline.
type PipelineConfig struct {
	// RunName is the name recorded on the PipelineRun.
	RunName string `yaml:"run_name"`
	// ChunkSize is the number of rows per registry import chunk.
	ChunkSize int `yaml:"chunk_size"`
	// RunTimeoutSeconds is the deadline for the whole run (0 = none).
	RunTimeoutSeconds int `yaml:"run_timeout_seconds"`
	// Export configures the post-sync parquet export.
	Export ExportConfig `yaml:"export"`
	// PayloadArchive configures raw payload archiving.
	PayloadArchive ArchiveConfig `yaml:"payload_archive"`
}

// EntitiesConfig names the registry entities the pipeline reads and writes.
type EntitiesConfig struct {
	// Subjects is the source dataset of local subject keys.
	Subjects string `yaml:"subjects"`
	// Mappings is the entity holding local-key to vendor-id mappings.
	Mappings string `yaml:"mappings"`
	// Variants is the entity holding the flattened leaf records.
	Variants string `yaml:"variants"`
}

// TelemetryConfig holds the telemetry sink settings.
type TelemetryConfig struct {
	// RunEntity is the registry entity name for run records.
	RunEntity string `yaml:"run_entity"`
	// StepEntity is the registry entity name for step records.
	StepEntity string `yaml:"step_entity"`
	// ArchiveEnabled toggles the local relational run archive.
	ArchiveEnabled bool `yaml:"archive_enabled"`
	// ArchiveDBRef is the name of the database connection used by the archive.
	ArchiveDBRef string `yaml:"archive_db_ref"`
}

// TracingConfig holds the OpenTelemetry exporter settings.
type TracingConfig struct {
	// Enabled toggles span export. When false a noop tracer is used.
	Enabled bool `yaml:"enabled"`
	// Endpoint is the OTLP collector endpoint (host:port).
	Endpoint string `yaml:"endpoint"`
	// Protocol selects the exporter transport: "http" or "grpc".
	Protocol string `yaml:"protocol"`
	// ServiceName is the resource service.name attribute.
	ServiceName string `yaml:"service_name"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the logging level (e.g., "INFO", "DEBUG").
	Level string `yaml:"level"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	// Timezone is the application timezone (e.g., "UTC").
	Timezone string `yaml:"timezone"`
	// Logging is the logging configuration.
	Logging LoggingConfig `yaml:"logging"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// MaskedParameterKeys is a list of key substrings whose values are
	// masked in logs.
	MaskedParameterKeys []string `yaml:"masked_parameter_keys"`
}

// RegsyncConfig holds all configuration under the "regsync" top-level key.
type RegsyncConfig struct {
	// Pipeline contains sync pipeline configuration.
	Pipeline PipelineConfig `yaml:"pipeline"`
	// Interp contains interpretation service connection settings.
	Interp InterpConfig `yaml:"interp"`
	// Registry contains registry store connection settings.
	Registry RegistryConfig `yaml:"registry"`
	// Entities names the registry entities used by the pipeline.
	Entities EntitiesConfig `yaml:"entities"`
	// Telemetry contains telemetry sink settings.
	Telemetry TelemetryConfig `yaml:"telemetry"`
	// Tracing contains OpenTelemetry settings.
	Tracing TracingConfig `yaml:"tracing"`
	// System contains system-wide configuration.
	System SystemConfig `yaml:"system"`
	// Security contains security-related configuration.
	Security SecurityConfig `yaml:"security"`
	// DatabaseConfigs holds named database connection configurations,
	// keyed by connection name.
	DatabaseConfigs map[string]interface{} `yaml:"database"`
	// StorageConfigs holds named storage connection configurations,
	// keyed by connection name.
	StorageConfigs map[string]interface{} `yaml:"storage"`
	// Vocabularies is the path of the vocabulary dictionary file, or empty
	// to use the embedded dictionaries.
	Vocabularies string `yaml:"vocabularies"`
}

// Config is the root structure for the entire application configuration.
type Config struct {
	// Regsync contains the top-level application configuration.
	Regsync RegsyncConfig `yaml:"regsync"`
	// EmbeddedConfig holds configuration loaded from an embedded source.
	EmbeddedConfig EmbeddedConfig `yaml:"-"`
}

// NewConfig returns a new Config instance with default values.
func NewConfig() *Config {
	cfg := &Config{
		Regsync: RegsyncConfig{
			Pipeline: PipelineConfig{
				RunName:   "alissa-sync",
				ChunkSize: 1000,
				Export: ExportConfig{
					CompressionType: "SNAPPY",
				},
			},
			Interp: InterpConfig{
				PaceMillis:     500,
				TimeoutSeconds: 30,
				MaxConcurrency: 1,
				Retry: RetryConfig{
					MaxAttempts:     1,
					InitialInterval: 1000,
				},
			},
			Registry: RegistryConfig{
				BatchSize:      1000,
				TimeoutSeconds: 60,
			},
			Entities: EntitiesConfig{
				Subjects: "subjects",
				Mappings: "subject_mappings",
				Variants: "variant_records",
			},
			Telemetry: TelemetryConfig{
				RunEntity:    "regsync_runs",
				StepEntity:   "regsync_steps",
				ArchiveDBRef: "archive",
			},
			Tracing: TracingConfig{
				Protocol:    "http",
				ServiceName: "regsync",
			},
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: "INFO"},
			},
			Security: SecurityConfig{
				MaskedParameterKeys: []string{"password", "secret", "token", "api_key"},
			},
		},
	}

	cfg.Regsync.DatabaseConfigs = map[string]interface{}{}
	cfg.Regsync.StorageConfigs = map[string]interface{}{}
	return cfg
}
