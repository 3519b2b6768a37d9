package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/objrt/internal/config"
	"github.com/Sumatoshi-tech/objrt/internal/observability"
	"github.com/Sumatoshi-tech/objrt/pkg/serialize"
	"github.com/Sumatoshi-tech/objrt/pkg/symbol"
	"github.com/Sumatoshi-tech/objrt/pkg/version"
)

// env is the per-invocation runtime shared by every command: loaded config,
// telemetry providers and the logger built from them.
type env struct {
	cfg       *config.Config
	providers observability.Providers
	logger    *slog.Logger
}

func setupEnv(cmd *cobra.Command, mode observability.AppMode) (*env, error) {
	cfg, err := config.LoadConfig(stringFlag(cmd, flagConfig))
	if err != nil {
		return nil, err
	}

	level, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}

	if boolFlag(cmd, flagVerbose) {
		level = slog.LevelDebug
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.Mode = mode
	obsCfg.ServiceVersion = version.Version
	obsCfg.Environment = cfg.Telemetry.Environment
	obsCfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	obsCfg.OTLPHeaders = observability.ParseOTLPHeaders(cfg.Telemetry.OTLPHeaders)
	obsCfg.OTLPInsecure = cfg.Telemetry.OTLPInsecure
	obsCfg.SampleRatio = cfg.Telemetry.SampleRatio
	obsCfg.LogLevel = level
	obsCfg.LogJSON = cfg.Logging.JSON

	providers, err := observability.InitWithWriter(obsCfg, cmd.ErrOrStderr())
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	return &env{cfg: cfg, providers: providers, logger: providers.Logger}, nil
}

func (e *env) close(ctx context.Context) {
	err := e.providers.Shutdown(ctx)
	if err != nil {
		e.logger.WarnContext(ctx, "telemetry shutdown", "error", err)
	}
}

func (e *env) newPool(opts ...symbol.Option) *symbol.Pool {
	base := []symbol.Option{
		symbol.WithInitialBuckets(e.cfg.Pool.InitialBuckets),
		symbol.WithLogger(e.logger),
	}

	return symbol.New(append(base, opts...)...)
}

func (e *env) newSerializer() (*serialize.Serializer, error) {
	maxCap, err := e.cfg.MaxCapacityBytes()
	if err != nil {
		return nil, err
	}

	sr, err := serialize.New(
		serialize.WithCapacity(e.cfg.Serializer.Capacity),
		serialize.WithIncrement(e.cfg.Serializer.Increment),
		serialize.WithMaxCapacity(maxCap),
	)
	if err != nil {
		return nil, fmt.Errorf("create serializer: %w", err)
	}

	return sr, nil
}

func stringFlag(cmd *cobra.Command, name string) string {
	if f := cmd.Flags().Lookup(name); f != nil {
		return f.Value.String()
	}

	return ""
}

func boolFlag(cmd *cobra.Command, name string) bool {
	if f := cmd.Flags().Lookup(name); f != nil {
		return f.Value.String() == "true"
	}

	return false
}
