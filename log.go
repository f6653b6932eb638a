package mux

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// defaultLogger returns the package default logger: zerolog's global
// logger, component-tagged the way relaydns-server.go tags its director and
// relay loggers.
func defaultLogger() zerolog.Logger {
	return log.Logger.With().Str("component", "mux").Logger()
}
