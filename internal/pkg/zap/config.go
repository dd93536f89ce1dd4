package zap

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Environment selects the logger profile: JSON to stderr in production,
// human-readable console output everywhere else.
type Environment string

const (
	EnvironmentProduction  Environment = "production"
	EnvironmentDevelopment Environment = "development"
	EnvironmentLocal       Environment = "local"
)

// Config holds the logger initialization inputs, typically sourced from
// ENV_NAME and LOG_LEVEL.
type Config struct {
	Environment Environment
	Level       string
}

func (c Config) validate() error {
	switch c.Environment {
	case EnvironmentProduction, EnvironmentDevelopment, EnvironmentLocal:
		return nil
	default:
		return fmt.Errorf("invalid environment %q", c.Environment)
	}
}

// New creates a structured logger for the configured environment. An empty
// Level keeps the profile default: info in production, debug otherwise.
func New(cfg Config) (*Logger, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid zap config: %w", err)
	}

	level, err := resolveLevel(cfg)
	if err != nil {
		return nil, err
	}

	profile := profileFor(cfg.Environment)
	profile.Level = level

	built, err := profile.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return &Logger{base: built, level: level}, nil
}

// profileFor builds the environment's zap configuration. Stacktraces are off
// in every profile: panics are already reported with their stack by the
// runtime recovery helpers, and errors carry wrapped causes instead.
func profileFor(env Environment) zap.Config {
	encoder := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	if env == EnvironmentProduction {
		return zap.Config{
			Level:             zap.NewAtomicLevelAt(zapcore.InfoLevel),
			Encoding:          "json",
			EncoderConfig:     encoder,
			OutputPaths:       []string{"stderr"},
			ErrorOutputPaths:  []string{"stderr"},
			DisableStacktrace: true,
			Sampling: &zap.SamplingConfig{
				Initial:    100,
				Thereafter: 100,
			},
		}
	}

	encoder.EncodeLevel = zapcore.CapitalColorLevelEncoder

	return zap.Config{
		Level:             zap.NewAtomicLevelAt(zapcore.DebugLevel),
		Development:       true,
		Encoding:          "console",
		EncoderConfig:     encoder,
		OutputPaths:       []string{"stderr"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
	}
}

func resolveLevel(cfg Config) (zap.AtomicLevel, error) {
	if strings.TrimSpace(cfg.Level) == "" {
		return profileFor(cfg.Environment).Level, nil
	}

	var parsed zapcore.Level
	if err := parsed.Set(cfg.Level); err != nil {
		return zap.AtomicLevel{}, fmt.Errorf("invalid level %q: %w", cfg.Level, err)
	}

	return zap.NewAtomicLevelAt(parsed), nil
}
