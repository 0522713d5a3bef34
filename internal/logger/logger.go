package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log file names under the log directory, one per level.
const (
	InfoFile    = "info.log"
	WarningFile = "warning.log"
	ErrorFile   = "error.log"
)

// Options configures a Logger.
type Options struct {
	Directory   string
	Level       string // "debug", "info", "warn", "error"
	Development bool
}

// Logger provides leveled logging (info/warning/error) to files and stdout/stderr.
type Logger struct {
	sugar  *zap.SugaredLogger
	base   *zap.Logger
	logDir string
	files  []*os.File
	mu     sync.Mutex
}

// New creates a Logger and ensures the log directory exists.
func New(opts Options) (*Logger, error) {
	level, err := parseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(opts.Directory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	l := &Logger{logDir: opts.Directory}

	infoFile, err := l.openLogFile(InfoFile)
	if err != nil {
		return nil, err
	}
	warningFile, err := l.openLogFile(WarningFile)
	if err != nil {
		l.closeFiles()
		return nil, err
	}
	errorFile, err := l.openLogFile(ErrorFile)
	if err != nil {
		l.closeFiles()
		return nil, err
	}

	fileEncoder := zapcore.NewJSONEncoder(encoderConfig(false))
	consoleEncoder := zapcore.NewConsoleEncoder(encoderConfig(opts.Development))

	below := func(lvl zapcore.Level) zap.LevelEnablerFunc {
		return func(l zapcore.Level) bool { return l >= level && l < lvl }
	}
	exactly := func(lvl zapcore.Level) zap.LevelEnablerFunc {
		return func(l zapcore.Level) bool { return l >= level && l == lvl }
	}
	atLeast := func(lvl zapcore.Level) zap.LevelEnablerFunc {
		return func(l zapcore.Level) bool { return l >= level && l >= lvl }
	}

	core := zapcore.NewTee(
		zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stdout), below(zapcore.ErrorLevel)),
		zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), atLeast(zapcore.ErrorLevel)),
		zapcore.NewCore(fileEncoder, zapcore.AddSync(infoFile), below(zapcore.WarnLevel)),
		zapcore.NewCore(fileEncoder, zapcore.AddSync(warningFile), exactly(zapcore.WarnLevel)),
		zapcore.NewCore(fileEncoder, zapcore.AddSync(errorFile), atLeast(zapcore.ErrorLevel)),
	)

	zapOpts := []zap.Option{zap.AddCaller(), zap.AddCallerSkip(1)}
	if opts.Development {
		zapOpts = append(zapOpts, zap.Development())
	}
	l.base = zap.New(core, zapOpts...)
	l.sugar = l.base.Sugar()
	return l, nil
}

// NewNop returns a Logger that discards everything.
func NewNop() *Logger {
	base := zap.NewNop()
	return &Logger{base: base, sugar: base.Sugar()}
}

// openLogFile opens or creates a log file for appending.
func (l *Logger) openLogFile(name string) (*os.File, error) {
	file, err := os.OpenFile(filepath.Join(l.logDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", name, err)
	}
	l.files = append(l.files, file)
	return file, nil
}

func (l *Logger) closeFiles() {
	for _, f := range l.files {
		_ = f.Close()
	}
	l.files = nil
}

// Info writes a formatted info-level log entry.
func (l *Logger) Info(format string, v ...interface{}) {
	l.sugar.Infof(format, v...)
}

// Warning writes a formatted warning-level log entry.
func (l *Logger) Warning(format string, v ...interface{}) {
	l.sugar.Warnf(format, v...)
}

// Error writes a formatted error-level log entry.
func (l *Logger) Error(format string, v ...interface{}) {
	l.sugar.Errorf(format, v...)
}

// With returns a child logger carrying the given key/value pairs.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	sugar := l.sugar.With(keysAndValues...)
	return &Logger{sugar: sugar, base: sugar.Desugar(), logDir: l.logDir}
}

// Zap exposes the underlying structured logger.
func (l *Logger) Zap() *zap.Logger {
	return l.base
}

// Dir returns the directory log files are written to. Empty for NewNop.
func (l *Logger) Dir() string {
	return l.logDir
}

// Path returns the full path of one of the level files.
func (l *Logger) Path(fileName string) (string, error) {
	switch fileName {
	case InfoFile, WarningFile, ErrorFile:
	default:
		return "", fmt.Errorf("unknown log file %q", fileName)
	}
	if l.logDir == "" {
		return "", fmt.Errorf("logger has no log directory")
	}
	return filepath.Join(l.logDir, fileName), nil
}

// CleanLogs truncates the specified log file.
func (l *Logger) CleanLogs(fileName string) error {
	path, err := l.Path(fileName)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.Truncate(path, 0); err != nil {
		l.Error("Error truncating %s: %v", fileName, err)
		return err
	}

	l.Info("%s has been cleared", fileName)
	return nil
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.base.Sync()
}

// Close flushes and releases the log files.
func (l *Logger) Close() error {
	_ = l.base.Sync()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeFiles()
	return nil
}

func parseLevel(level string) (zapcore.Level, error) {
	if level == "" {
		return zapcore.InfoLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return l, nil
}

func encoderConfig(development bool) zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "time"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeDuration = zapcore.StringDurationEncoder
	if development {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	return cfg
}
