// Package sodlog wires zap into the CLI, matching the debug/production
// split the teacher's internal/logging package used for its server.
package sodlog

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap so callers can pass one value around the repository
// the way the teacher's Logger wraps *zap.Logger.
type Logger struct {
	*zap.Logger
}

// New builds a Logger. debug selects a development config (console
// encoder, debug level, stack traces on warn); otherwise a production
// config at info level is used. SOD_DEBUG=1 forces debug mode even
// when debug is false, mirroring the --debug / SOD_DEBUG equivalence
// in spec.md §6.
func New(debug bool) (*Logger, error) {
	if !debug {
		debug = os.Getenv("SOD_DEBUG") == "1"
	}

	var zl *zap.Logger
	var err error
	if debug {
		zl, err = zap.NewDevelopment()
	} else {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		cfg.DisableStacktrace = true
		zl, err = cfg.Build()
	}
	if err != nil {
		return nil, err
	}

	return &Logger{zl}, nil
}

// Nop returns a Logger that discards everything, useful for tests.
func Nop() *Logger {
	return &Logger{zap.NewNop()}
}
