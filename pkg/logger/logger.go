package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"igarchive/pkg/config"
)

// Logger defines the interface for logging operations
type Logger interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)
	Fatal(msg string)

	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger
	WithContext(ctx context.Context) Logger

	DebugWithFields(msg string, fields map[string]interface{})
	InfoWithFields(msg string, fields map[string]interface{})
	WarnWithFields(msg string, fields map[string]interface{})
	ErrorWithFields(msg string, fields map[string]interface{})
	FatalWithFields(msg string, fields map[string]interface{})

	// GetZerolog exposes the underlying zerolog instance for advanced usage
	GetZerolog() *zerolog.Logger
}

type zerologLogger struct {
	logger *zerolog.Logger
	fields map[string]interface{}
}

// New creates a Logger from the logging configuration. Console output is
// always pretty-printed; when a file is configured, JSON lines are
// appended to it as well.
func New(cfg *config.LoggingConfig) (Logger, error) {
	level, err := parseLogLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var output io.Writer = consoleWriter(os.Stderr)
	if cfg.File != "" {
		file, err := openLogFile(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("failed to setup file output: %w", err)
		}
		output = zerolog.MultiLevelWriter(output, file)
	}

	return NewWithWriter(output, level), nil
}

// NewDetached creates a Logger that never writes to the terminal, for
// while a full-screen dashboard owns it. Lines go to the configured file,
// or nowhere when no file is set.
func NewDetached(cfg *config.LoggingConfig) (Logger, error) {
	level, err := parseLogLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	output := io.Discard
	if cfg.File != "" {
		file, err := openLogFile(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("failed to setup file output: %w", err)
		}
		output = file
	}
	return NewWithWriter(output, level), nil
}

// NewWithWriter builds a Logger writing to w at the given level.
func NewWithWriter(w io.Writer, level zerolog.Level) Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	zlog := zerolog.New(w).Level(level).With().
		Timestamp().
		Str("app", "igarchive").
		Logger()
	return &zerologLogger{logger: &zlog, fields: map[string]interface{}{}}
}

func consoleWriter(out io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "15:04:05",
		FormatLevel: func(i interface{}) string {
			if i == nil {
				return ""
			}
			switch strings.ToUpper(fmt.Sprint(i)) {
			case "DEBUG":
				return "\033[37mDEBG\033[0m"
			case "INFO":
				return "\033[32mINFO\033[0m"
			case "WARN":
				return "\033[33mWARN\033[0m"
			case "ERROR":
				return "\033[31mERRO\033[0m"
			case "FATAL":
				return "\033[35mFATL\033[0m"
			default:
				return strings.ToUpper(fmt.Sprint(i))
			}
		},
		FormatMessage: func(i interface{}) string {
			if i == nil {
				return ""
			}
			return fmt.Sprintf("| %s", i)
		},
		FormatFieldName: func(i interface{}) string {
			return fmt.Sprintf("\033[36m%s\033[0m:", i)
		},
	}
}

func openLogFile(path string) (io.Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

// parseLogLevel converts string log level to zerolog.Level
func parseLogLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "fatal":
		return zerolog.FatalLevel, nil
	case "disabled":
		return zerolog.Disabled, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("unknown log level: %s", level)
	}
}

func (l *zerologLogger) Debug(msg string) { l.emit(l.logger.Debug(), msg, nil) }
func (l *zerologLogger) Info(msg string)  { l.emit(l.logger.Info(), msg, nil) }
func (l *zerologLogger) Warn(msg string)  { l.emit(l.logger.Warn(), msg, nil) }
func (l *zerologLogger) Error(msg string) { l.emit(l.logger.Error(), msg, nil) }
func (l *zerologLogger) Fatal(msg string) { l.emit(l.logger.Fatal(), msg, nil) }

func (l *zerologLogger) DebugWithFields(msg string, fields map[string]interface{}) {
	l.emit(l.logger.Debug(), msg, fields)
}

func (l *zerologLogger) InfoWithFields(msg string, fields map[string]interface{}) {
	l.emit(l.logger.Info(), msg, fields)
}

func (l *zerologLogger) WarnWithFields(msg string, fields map[string]interface{}) {
	l.emit(l.logger.Warn(), msg, fields)
}

func (l *zerologLogger) ErrorWithFields(msg string, fields map[string]interface{}) {
	l.emit(l.logger.Error(), msg, fields)
}

func (l *zerologLogger) FatalWithFields(msg string, fields map[string]interface{}) {
	l.emit(l.logger.Fatal(), msg, fields)
}

// WithField returns a child logger carrying key on every line
func (l *zerologLogger) WithField(key string, value interface{}) Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithFields returns a child logger carrying fields on every line
func (l *zerologLogger) WithFields(fields map[string]interface{}) Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &zerologLogger{logger: l.logger, fields: merged}
}

// WithError attaches err; a nil error returns the receiver unchanged
func (l *zerologLogger) WithError(err error) Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

func (l *zerologLogger) WithContext(ctx context.Context) Logger {
	ctxLogger := l.logger.With().Ctx(ctx).Logger()
	return &zerologLogger{logger: &ctxLogger, fields: l.fields}
}

func (l *zerologLogger) GetZerolog() *zerolog.Logger {
	return l.logger
}

func (l *zerologLogger) emit(event *zerolog.Event, msg string, fields map[string]interface{}) {
	for k, v := range l.fields {
		event = addField(event, k, v)
	}
	for k, v := range fields {
		event = addField(event, k, v)
	}
	event.Msg(msg)
}

func addField(event *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return event.Str(key, v)
	case int:
		return event.Int(key, v)
	case int64:
		return event.Int64(key, v)
	case float64:
		return event.Float64(key, v)
	case bool:
		return event.Bool(key, v)
	case time.Time:
		return event.Time(key, v)
	case time.Duration:
		return event.Dur(key, v)
	case error:
		return event.AnErr(key, v)
	case []string:
		return event.Strs(key, v)
	default:
		return event.Interface(key, v)
	}
}

var globalLogger Logger

// Initialize sets up the global logger
func Initialize(cfg *config.LoggingConfig) error {
	l, err := New(cfg)
	if err != nil {
		return err
	}
	globalLogger = l
	log.Logger = *l.GetZerolog()
	return nil
}

// GetLogger returns the global logger, creating an info-level console
// logger on first use.
func GetLogger() Logger {
	if globalLogger == nil {
		globalLogger, _ = New(&config.LoggingConfig{Level: "info"})
	}
	return globalLogger
}

// SetLogger replaces the global logger. Tests use it with a TestLogger.
func SetLogger(l Logger) {
	globalLogger = l
}

func Debug(msg string) { GetLogger().Debug(msg) }
func Info(msg string)  { GetLogger().Info(msg) }
func Warn(msg string)  { GetLogger().Warn(msg) }
func Error(msg string) { GetLogger().Error(msg) }

func WithField(key string, value interface{}) Logger {
	return GetLogger().WithField(key, value)
}

func WithFields(fields map[string]interface{}) Logger {
	return GetLogger().WithFields(fields)
}

func WithError(err error) Logger {
	return GetLogger().WithError(err)
}

// NewNopLogger creates a logger that discards everything
func NewNopLogger() Logger {
	return nopLogger{}
}

type nopLogger struct{}

func (n nopLogger) Debug(string)                                    {}
func (n nopLogger) Info(string)                                     {}
func (n nopLogger) Warn(string)                                     {}
func (n nopLogger) Error(string)                                    {}
func (n nopLogger) Fatal(string)                                    {}
func (n nopLogger) WithField(string, interface{}) Logger            { return n }
func (n nopLogger) WithFields(map[string]interface{}) Logger        { return n }
func (n nopLogger) WithError(error) Logger                          { return n }
func (n nopLogger) WithContext(context.Context) Logger              { return n }
func (n nopLogger) DebugWithFields(string, map[string]interface{}) {}
func (n nopLogger) InfoWithFields(string, map[string]interface{})  {}
func (n nopLogger) WarnWithFields(string, map[string]interface{})  {}
func (n nopLogger) ErrorWithFields(string, map[string]interface{}) {}
func (n nopLogger) FatalWithFields(string, map[string]interface{}) {}
func (n nopLogger) GetZerolog() *zerolog.Logger {
	z := zerolog.Nop()
	return &z
}
