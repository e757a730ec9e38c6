// Package observability holds the process-wide logger and pass metrics.
package observability

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the logger used by commands. It is a no-op until
// InitCLILogger runs.
var CLILogger = zap.NewNop()

// Logging profiles.
const (
	ProfileConsole    = "console"
	ProfileStructured = "structured"
)

// InitCLILogger sets CLILogger to a console logger at info level, or debug
// when verbose.
func InitCLILogger(serviceName string, verbose bool) {
	level := "info"
	if verbose {
		level = "debug"
	}
	l, err := NewLogger(serviceName, level, ProfileConsole)
	if err != nil {
		l = zap.NewNop()
	}
	CLILogger = l
}

// NewLogger builds a logger writing to stderr. The structured profile emits
// JSON lines; console emits human-readable lines without caller or stack
// noise.
func NewLogger(serviceName, level, profile string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var (
		enc     zapcore.Encoder
		options []zap.Option
	)
	switch strings.ToLower(profile) {
	case ProfileStructured:
		ec := zap.NewProductionEncoderConfig()
		ec.TimeKey = "ts"
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(ec)
		options = append(options, zap.AddCaller())
	case ProfileConsole, "":
		ec := zap.NewDevelopmentEncoderConfig()
		ec.CallerKey = ""
		ec.NameKey = ""
		ec.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		enc = zapcore.NewConsoleEncoder(ec)
	default:
		return nil, fmt.Errorf("invalid logging profile %q", profile)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), lvl)
	l := zap.New(core, options...)
	if strings.ToLower(profile) == ProfileStructured && serviceName != "" {
		l = l.With(zap.String("service", serviceName))
	}
	return l, nil
}

// SetCLILogger replaces CLILogger, e.g. once the configured profile is known.
func SetCLILogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	CLILogger = l
}
