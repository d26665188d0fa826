package observability

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/workhistory/history-migrator/internal/config"
)

// NewLogger creates a structured zap.Logger configured via env settings.
// Unknown levels fall back to info, unknown encodings to json.
func NewLogger(cfg config.LoggerConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	encoding := strings.ToLower(cfg.Encoding)
	encodeLevel := zapcore.LowercaseLevelEncoder
	switch encoding {
	case "console":
		encodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		encoding = "json"
	}

	zapCfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(level),
		Development: false,
		Encoding:    encoding,
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:     "message",
			LevelKey:       "level",
			TimeKey:        "ts",
			NameKey:        "logger",
			CallerKey:      "caller",
			EncodeLevel:    encodeLevel,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.MillisDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return zapCfg.Build()
}

// ItemLogger scopes a logger to one work item.
func ItemLogger(logger *zap.Logger, itemID string) *zap.Logger {
	return logger.With(zap.String("item_id", itemID))
}

// RunLogger scopes a logger to one migration run of an item.
func RunLogger(logger *zap.Logger, itemID, runID string) *zap.Logger {
	return logger.With(zap.String("item_id", itemID), zap.String("run_id", runID))
}
