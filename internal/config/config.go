package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/Sumatoshi-tech/objrt/pkg/safeconv"
)

// Config is the top-level configuration struct for objrt.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	Pool       PoolConfig       `mapstructure:"pool"`
	Serializer SerializerConfig `mapstructure:"serializer"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Stress     StressConfig     `mapstructure:"stress"`
}

// PoolConfig sizes the symbol pool.
type PoolConfig struct {
	InitialBuckets int `mapstructure:"initial_buckets"`
}

// SerializerConfig holds serializer buffer knobs. MaxCapacity uses humanize
// format (e.g. "16MiB"); empty or "0" means unbounded.
type SerializerConfig struct {
	Capacity    int    `mapstructure:"capacity"`
	Increment   int    `mapstructure:"increment"`
	MaxCapacity string `mapstructure:"max_capacity"`
}

// LoggingConfig selects log severity and format.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	OTLPHeaders  string  `mapstructure:"otlp_headers"`
	OTLPInsecure bool    `mapstructure:"otlp_insecure"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
	Environment  string  `mapstructure:"environment"`
}

// StressConfig drives the stress command.
type StressConfig struct {
	Workers    int `mapstructure:"workers"`
	Iterations int `mapstructure:"iterations"`
	Vocabulary int `mapstructure:"vocabulary"`
}

// Sentinel errors for configuration validation.
var (
	// ErrInvalidInitialBuckets indicates a non-positive bucket hint.
	ErrInvalidInitialBuckets = errors.New("pool.initial_buckets must be positive")
	// ErrInvalidCapacity indicates a non-positive serializer capacity.
	ErrInvalidCapacity = errors.New("serializer.capacity must be positive")
	// ErrInvalidIncrement indicates a negative serializer increment.
	ErrInvalidIncrement = errors.New("serializer.increment must be non-negative")
	// ErrInvalidMaxCapacity indicates an unparsable or too small max capacity.
	ErrInvalidMaxCapacity = errors.New("serializer.max_capacity must be a size of at least serializer.capacity")
	// ErrInvalidLogLevel indicates an unknown log level name.
	ErrInvalidLogLevel = errors.New("logging.level must be one of debug, info, warn, error")
	// ErrInvalidSampleRatio indicates a sample ratio outside [0, 1].
	ErrInvalidSampleRatio = errors.New("telemetry.sample_ratio must be between 0 and 1")
	// ErrInvalidStressWorkers indicates a non-positive worker count.
	ErrInvalidStressWorkers = errors.New("stress.workers must be positive")
	// ErrInvalidStressIterations indicates a non-positive iteration count.
	ErrInvalidStressIterations = errors.New("stress.iterations must be positive")
	// ErrInvalidStressVocabulary indicates a non-positive vocabulary size.
	ErrInvalidStressVocabulary = errors.New("stress.vocabulary must be positive")
)

// sampleRatioMax is the upper bound for telemetry.sample_ratio.
const sampleRatioMax = 1.0

// Validate checks that all configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Pool.InitialBuckets <= 0 {
		return ErrInvalidInitialBuckets
	}

	serializerErr := c.validateSerializer()
	if serializerErr != nil {
		return serializerErr
	}

	_, levelErr := c.LogLevel()
	if levelErr != nil {
		return levelErr
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > sampleRatioMax {
		return ErrInvalidSampleRatio
	}

	return c.validateStress()
}

func (c *Config) validateSerializer() error {
	if c.Serializer.Capacity <= 0 {
		return ErrInvalidCapacity
	}

	if c.Serializer.Increment < 0 {
		return ErrInvalidIncrement
	}

	maxCap, err := c.MaxCapacityBytes()
	if err != nil {
		return err
	}

	if maxCap > 0 && maxCap < c.Serializer.Capacity {
		return fmt.Errorf("%w: %s < %d", ErrInvalidMaxCapacity, c.Serializer.MaxCapacity, c.Serializer.Capacity)
	}

	return nil
}

func (c *Config) validateStress() error {
	if c.Stress.Workers <= 0 {
		return ErrInvalidStressWorkers
	}

	if c.Stress.Iterations <= 0 {
		return ErrInvalidStressIterations
	}

	if c.Stress.Vocabulary <= 0 {
		return ErrInvalidStressVocabulary
	}

	return nil
}

// MaxCapacityBytes parses serializer.max_capacity. Zero means unbounded.
func (c *Config) MaxCapacityBytes() (int, error) {
	raw := strings.TrimSpace(c.Serializer.MaxCapacity)
	if raw == "" {
		return 0, nil
	}

	size, err := humanize.ParseBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidMaxCapacity, err)
	}

	n, err := safeconv.Uint64ToInt(size)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidMaxCapacity, err)
	}

	return n, nil
}

// LogLevel maps logging.level to a slog level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level

	err := level.UnmarshalText([]byte(c.Logging.Level))
	if err != nil {
		return slog.LevelInfo, fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Logging.Level)
	}

	return level, nil
}
