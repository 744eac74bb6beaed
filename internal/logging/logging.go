// Package logging builds the process logger. Output goes to stderr so hook
// invocations never write anything but their own result to stdout.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DebugEnabled reports whether USAGESYNC_DEBUG asks for diagnostic output.
func DebugEnabled(getenv func(string) string) bool {
	if getenv == nil {
		getenv = os.Getenv
	}
	switch strings.ToLower(strings.TrimSpace(getenv("USAGESYNC_DEBUG"))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// New returns a JSON logger on stderr when verbose or USAGESYNC_DEBUG is set,
// and a no-op logger otherwise.
func New(verbose bool) (*zap.Logger, error) {
	debug := DebugEnabled(nil)
	if !verbose && !debug {
		return zap.NewNop(), nil
	}

	config := zap.NewProductionConfig()
	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}
	config.EncoderConfig.TimeKey = "ts"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.DisableStacktrace = true
	if debug {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return config.Build()
}

// Event tags a log entry with its event name.
func Event(name string) zap.Field {
	return zap.String("event", name)
}
