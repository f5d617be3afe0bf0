// Package util provides initialization utilities for logger and configuration.
package util

import (
	"os"
	"strings"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
)

// InitLogger initializes and returns a zerolog logger based on configuration.
// It supports both JSON (production) and pretty console (development) output.
func InitLogger() *zerolog.Logger {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var logger zerolog.Logger
	if isTerminal() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().
			Timestamp().
			Caller().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Str("service", "power-coordinator").
			Logger()
	}

	return &logger
}

// InitConfig builds a koanf tree seeded with CLI-flag defaults and then
// overlaid with the process environment: the two required variables map
// to endpoint.server.host and experiment.total.nodes, and every other
// variable maps to its lower-cased, dot-separated name. Environment
// variables always win over flag defaults, matching the teacher's
// env-overrides-file layering.
func InitConfig(logger *zerolog.Logger, defaults map[string]any) *koanf.Koanf {
	ko := koanf.New(".")

	if err := ko.Load(confmap.Provider(defaults, "."), nil); err != nil {
		logger.Fatal().Err(err).Msg("failed to load flag defaults")
	}

	if err := ko.Load(env.Provider("", ".", func(s string) string {
		switch s {
		case "GEOPM_ENDPOINT_SERVER_HOST":
			return "endpoint.server.host"
		case "EXPERIMENT_TOTAL_NODES":
			return "experiment.total.nodes"
		default:
			return strings.Replace(strings.ToLower(s), "_", ".", -1)
		}
	}), nil); err != nil {
		logger.Warn().Err(err).Msg("failed to load environment variables")
	}

	return ko
}

// isTerminal checks if stdout is a terminal (for pretty console output).
func isTerminal() bool {
	fileInfo, _ := os.Stdout.Stat()
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}
