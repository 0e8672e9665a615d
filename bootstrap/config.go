package bootstrap

import (
	"fmt"
	"io"
	"os"

	"github.com/drake-forum/technoshield/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogger builds the colored console logger at level. Logs go to stderr
// so command output on stdout stays machine-readable.
func InitLogger(level string) (*zap.Logger, *zap.SugaredLogger, error) {
	return initLogger(level, os.Stderr)
}

func initLogger(level string, w io.Writer) (*zap.Logger, *zap.SugaredLogger, error) {
	var lvl zapcore.Level
	if level == "" {
		level = "info"
	}
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(w),
		lvl,
	)

	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, logger.Sugar(), nil
}

// LogConfigSummary logs which sources and sinks the configuration enables
func LogConfigSummary(cfg *config.Config, sugar *zap.SugaredLogger) {
	enabled := 0
	for _, ds := range cfg.DataSources {
		if !ds.Disabled {
			enabled++
		}
	}
	sugar.Infow("Config loaded",
		"data_sources", len(cfg.DataSources),
		"enabled_sources", enabled,
		"parallel_detectors", cfg.Pipeline.ParallelDetectors,
		"run_timeout", cfg.Pipeline.RunTimeout)
	sugar.Infow("Sinks configured",
		"sqlite", cfg.Storage.SQLite.Enabled,
		"clickhouse", cfg.Storage.ClickHouse.Enabled,
		"mongodb", cfg.Storage.MongoDB.Enabled,
		"kafka", cfg.Storage.Kafka.Enabled,
		"redis_suppression", cfg.Storage.Redis.Enabled)
	if cfg.Storage.SQLite.Enabled {
		sugar.Infow("Data paths configuration", "sqlite_path", cfg.Storage.SQLite.Path)
	}
}
