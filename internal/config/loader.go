package config

import (
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/varilab/regsync/internal/support/exception"
	"github.com/varilab/regsync/internal/support/logger"
	"github.com/varilab/regsync/internal/support/serialization"
)

// Package config loads the application configuration from an embedded YAML
// resource, an optional .env file, and environment-variable overrides,
// in that order of increasing precedence.

const moduleName = "config"

// LoadConfig loads configuration from the embedded file and environment
// variables. This function is expected to be called only once during
// application startup.
//
// envFilePath: The path to the .env file ("" tries the default ".env").
// embeddedConfig: The embedded configuration bytes.
func LoadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	} else {
		if err := godotenv.Load(); err != nil {
			logger.Debugf(".env file not found or could not be loaded: %v", err)
		}
	}

	cfg := NewConfig()

	// ${VAR} placeholders in the embedded document are expanded from the
	// environment before parsing, so secrets never live in the resource file.
	expanded := os.ExpandEnv(string(embeddedConfig))

	var yamlConfig Config
	if err := yaml.Unmarshal([]byte(expanded), &yamlConfig); err != nil {
		return nil, exception.NewPipelineError(moduleName, "failed to unmarshal embedded config", err, false, false)
	}

	mergeConfig(cfg, &yamlConfig)

	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return nil, exception.NewPipelineError(moduleName, "failed to load config from environment variables", err, false, false)
	}

	cfg.EmbeddedConfig = embeddedConfig
	serialization.SetMaskedKeys(cfg.Regsync.Security.MaskedParameterKeys)
	return cfg, nil
}

// NewConfigProvider is an Fx provider that loads and provides *Config.
// It also sets the global logger level from the loaded configuration.
type ConfigParams struct {
	EmbeddedConfig EmbeddedConfig
	EnvFilePath    string
}

// NewConfigProvider loads the configuration and applies the configured log
// level.
func NewConfigProvider(params ConfigParams) (*Config, error) {
	cfg, err := LoadConfig(params.EnvFilePath, params.EmbeddedConfig)
	if err != nil {
		return nil, err
	}

	logger.SetLogLevel(cfg.Regsync.System.Logging.Level)
	logger.Infof("Log level set to: %s", cfg.Regsync.System.Logging.Level)

	return cfg, nil
}

// mergeConfig performs a deep merge from sourceConfig into destConfig.
// Values in sourceConfig overwrite corresponding values in destConfig if
// they are not zero values for their type.
func mergeConfig(dest, source *Config) {
	mergeRegsyncConfig(&dest.Regsync, &source.Regsync)
}

func mergeRegsyncConfig(dest, source *RegsyncConfig) {
	// Pipeline
	if source.Pipeline.RunName != "" {
		dest.Pipeline.RunName = source.Pipeline.RunName
	}
	if source.Pipeline.ChunkSize != 0 {
		dest.Pipeline.ChunkSize = source.Pipeline.ChunkSize
	}
	if source.Pipeline.RunTimeoutSeconds != 0 {
		dest.Pipeline.RunTimeoutSeconds = source.Pipeline.RunTimeoutSeconds
	}
	if source.Pipeline.Export.Enabled {
		dest.Pipeline.Export.Enabled = true
	}
	if source.Pipeline.Export.StorageRef != "" {
		dest.Pipeline.Export.StorageRef = source.Pipeline.Export.StorageRef
	}
	if source.Pipeline.Export.OutputBaseDir != "" {
		dest.Pipeline.Export.OutputBaseDir = source.Pipeline.Export.OutputBaseDir
	}
	if source.Pipeline.Export.CompressionType != "" {
		dest.Pipeline.Export.CompressionType = source.Pipeline.Export.CompressionType
	}
	if source.Pipeline.PayloadArchive.Enabled {
		dest.Pipeline.PayloadArchive.Enabled = true
	}
	if source.Pipeline.PayloadArchive.StorageRef != "" {
		dest.Pipeline.PayloadArchive.StorageRef = source.Pipeline.PayloadArchive.StorageRef
	}

	// Interp
	if source.Interp.BaseURL != "" {
		dest.Interp.BaseURL = source.Interp.BaseURL
	}
	if source.Interp.TokenURL != "" {
		dest.Interp.TokenURL = source.Interp.TokenURL
	}
	if source.Interp.ClientID != "" {
		dest.Interp.ClientID = source.Interp.ClientID
	}
	if source.Interp.ClientSecret != "" {
		dest.Interp.ClientSecret = source.Interp.ClientSecret
	}
	if source.Interp.PaceMillis != 0 {
		dest.Interp.PaceMillis = source.Interp.PaceMillis
	}
	if source.Interp.TimeoutSeconds != 0 {
		dest.Interp.TimeoutSeconds = source.Interp.TimeoutSeconds
	}
	if source.Interp.MaxConcurrency != 0 {
		dest.Interp.MaxConcurrency = source.Interp.MaxConcurrency
	}
	if source.Interp.Retry.MaxAttempts != 0 {
		dest.Interp.Retry.MaxAttempts = source.Interp.Retry.MaxAttempts
	}
	if source.Interp.Retry.InitialInterval != 0 {
		dest.Interp.Retry.InitialInterval = source.Interp.Retry.InitialInterval
	}

	// Registry
	if source.Registry.BaseURL != "" {
		dest.Registry.BaseURL = source.Registry.BaseURL
	}
	if source.Registry.Token != "" {
		dest.Registry.Token = source.Registry.Token
	}
	if source.Registry.BatchSize != 0 {
		dest.Registry.BatchSize = source.Registry.BatchSize
	}
	if source.Registry.TimeoutSeconds != 0 {
		dest.Registry.TimeoutSeconds = source.Registry.TimeoutSeconds
	}

	// Entities
	if source.Entities.Subjects != "" {
		dest.Entities.Subjects = source.Entities.Subjects
	}
	if source.Entities.Mappings != "" {
		dest.Entities.Mappings = source.Entities.Mappings
	}
	if source.Entities.Variants != "" {
		dest.Entities.Variants = source.Entities.Variants
	}

	// Telemetry
	if source.Telemetry.RunEntity != "" {
		dest.Telemetry.RunEntity = source.Telemetry.RunEntity
	}
	if source.Telemetry.StepEntity != "" {
		dest.Telemetry.StepEntity = source.Telemetry.StepEntity
	}
	if source.Telemetry.ArchiveEnabled {
		dest.Telemetry.ArchiveEnabled = true
	}
	if source.Telemetry.ArchiveDBRef != "" {
		dest.Telemetry.ArchiveDBRef = source.Telemetry.ArchiveDBRef
	}

	// Tracing
	if source.Tracing.Enabled {
		dest.Tracing.Enabled = true
	}
	if source.Tracing.Endpoint != "" {
		dest.Tracing.Endpoint = source.Tracing.Endpoint
	}
	if source.Tracing.Protocol != "" {
		dest.Tracing.Protocol = source.Tracing.Protocol
	}
	if source.Tracing.ServiceName != "" {
		dest.Tracing.ServiceName = source.Tracing.ServiceName
	}

	// System
	if source.System.Timezone != "" {
		dest.System.Timezone = source.System.Timezone
	}
	if source.System.Logging.Level != "" {
		dest.System.Logging.Level = source.System.Logging.Level
	}

	// Security
	if source.Security.MaskedParameterKeys != nil {
		dest.Security.MaskedParameterKeys = source.Security.MaskedParameterKeys
	}

	if source.Vocabularies != "" {
		dest.Vocabularies = source.Vocabularies
	}

	// Named connection configs are merged key-wise so partial overrides keep
	// the remaining connections intact.
	if source.DatabaseConfigs != nil {
		if dest.DatabaseConfigs == nil {
			dest.DatabaseConfigs = make(map[string]interface{})
		}
		for key, value := range source.DatabaseConfigs {
			dest.DatabaseConfigs[key] = value
		}
	}
	if source.StorageConfigs != nil {
		if dest.StorageConfigs == nil {
			dest.StorageConfigs = make(map[string]interface{})
		}
		for key, value := range source.StorageConfigs {
			dest.StorageConfigs[key] = value
		}
	}
}

// loadStructFromEnv recursively loads configuration values into a struct
// from environment variables. The "yaml" tag determines the environment
// variable name; nesting joins segments with underscores
// (e.g. REGSYNC_INTERP_BASE_URL).
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		yamlTag := fieldType.Tag.Get("yaml")
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		envVarName := strings.ToUpper(prefix + yamlTag)

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}

		envValue, exists := os.LookupEnv(envVarName)
		if !exists {
			continue
		}

		if err := setField(field, envValue); err != nil {
			return exception.NewPipelineError(moduleName,
				"failed to set field '"+fieldType.Name+"' from env var '"+envVarName+"'", err, false, false)
		}
	}
	return nil
}

// setField sets the value of a reflect.Value field based on its kind.
// It handles string, int, float, and bool types.
func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(intValue)
	case reflect.Float64, reflect.Float32:
		floatValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatValue)
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolValue)
	}
	return nil
}
