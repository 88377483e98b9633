package logger

import (
	"errors"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Supported output encodings.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

var (
	// global is the shared logger instance used throughout the application.
	//nolint:gochecknoglobals // Logger is used all over the project, so it's okay.
	global *zap.SugaredLogger
	// atomicLevel is shared by every core built by New so SetLevel affects all of them.
	//nolint:gochecknoglobals // Level must be adjustable after the logger was handed out.
	atomicLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
)

// errUnknownFormat is returned by NewWithFormat for encodings other than console and json.
var errUnknownFormat = errors.New("unknown log format")

func init() { //nolint:gochecknoinits // Packages log before main configures the logger.
	SetLogger(New(atomicLevel))
}

// New creates a console logger writing to stdout at the given level.
// A nil level falls back to the shared atomic level.
func New(level zapcore.LevelEnabler, options ...zap.Option) *zap.SugaredLogger {
	return newWithEncoder(zapcore.NewConsoleEncoder(encoderConfig(zapcore.CapitalColorLevelEncoder)), level, options...)
}

// NewWithFormat creates a logger with the requested encoding ("console" or "json").
func NewWithFormat(format string, level zapcore.LevelEnabler, options ...zap.Option) (*zap.SugaredLogger, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatConsole:
		return New(level, options...), nil
	case FormatJSON:
		encoder := zapcore.NewJSONEncoder(encoderConfig(zapcore.LowercaseLevelEncoder))

		return newWithEncoder(encoder, level, options...), nil
	default:
		return nil, errUnknownFormat
	}
}

func newWithEncoder(encoder zapcore.Encoder, level zapcore.LevelEnabler, options ...zap.Option) *zap.SugaredLogger {
	if level == nil {
		level = atomicLevel
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level)

	return zap.New(core, options...).Sugar()
}

//nolint:exhaustruct // Default values are fine for the remaining encoder fields.
func encoderConfig(levelEncoder zapcore.LevelEncoder) zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:          "ts",
		MessageKey:       "message",
		LevelKey:         "level",
		NameKey:          "logger",
		CallerKey:        "caller",
		StacktraceKey:    "stacktrace",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeLevel:      levelEncoder,
		EncodeTime:       zapcore.ISO8601TimeEncoder,
		EncodeDuration:   zapcore.StringDurationEncoder,
		EncodeCaller:     zapcore.ShortCallerEncoder,
		EncodeName:       zapcore.FullNameEncoder,
		ConsoleSeparator: ", ",
	}
}

// ParseLogLevel converts string input to zap log level.
func ParseLogLevel(s string) (zapcore.Level, bool) {
	level, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return zapcore.InfoLevel, false
	}

	return level, true
}

// AtomicLevel exposes the shared level so custom loggers can follow SetLevel.
func AtomicLevel() zap.AtomicLevel {
	return atomicLevel
}

// Level returns the current logging level of the global logger.
func Level() zapcore.Level {
	return atomicLevel.Level()
}

// Logger returns the global logger.
func Logger() *zap.SugaredLogger {
	return global
}

// SetLogger sets the global logger.
// This function is not thread-safe.
func SetLogger(l *zap.SugaredLogger) {
	global = l
}

// SetLevel sets the log level for every logger built on the shared level.
func SetLevel(level zapcore.Level) {
	atomicLevel.SetLevel(level)
}

// Sync flushes buffered entries of the global logger.
func Sync() {
	//nolint:errcheck // Syncing stdout returns EINVAL on some platforms.
	_ = global.Sync()
}
