package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = ".objrt"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for objrt settings.
const envPrefix = "OBJRT"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// Defaults.
const (
	DefaultPoolInitialBuckets    = 16
	DefaultSerializerCapacity    = 100
	DefaultSerializerIncrement   = 0
	DefaultSerializerMaxCapacity = "16MiB"
	DefaultLoggingLevel          = "info"
	DefaultLoggingJSON           = false
	DefaultTelemetrySampleRatio  = 0.0
	DefaultStressWorkers         = 8
	DefaultStressIterations      = 10000
	DefaultStressVocabulary      = 512
)

// LoadConfig loads configuration from file, env vars, and defaults.
// If configPath is non-empty, it is used as the explicit config file path.
// Otherwise .objrt.yaml is searched in CWD and $HOME.
// Missing config file is not an error; defaults are used.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("pool.initial_buckets", DefaultPoolInitialBuckets)

	viperCfg.SetDefault("serializer.capacity", DefaultSerializerCapacity)
	viperCfg.SetDefault("serializer.increment", DefaultSerializerIncrement)
	viperCfg.SetDefault("serializer.max_capacity", DefaultSerializerMaxCapacity)

	viperCfg.SetDefault("logging.level", DefaultLoggingLevel)
	viperCfg.SetDefault("logging.json", DefaultLoggingJSON)

	viperCfg.SetDefault("telemetry.otlp_endpoint", "")
	viperCfg.SetDefault("telemetry.otlp_headers", "")
	viperCfg.SetDefault("telemetry.otlp_insecure", false)
	viperCfg.SetDefault("telemetry.sample_ratio", DefaultTelemetrySampleRatio)
	viperCfg.SetDefault("telemetry.environment", "")

	viperCfg.SetDefault("stress.workers", DefaultStressWorkers)
	viperCfg.SetDefault("stress.iterations", DefaultStressIterations)
	viperCfg.SetDefault("stress.vocabulary", DefaultStressVocabulary)
}
