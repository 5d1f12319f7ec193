// Package logger is the process-wide structured log. Lines go to a rotating
// file under the log directory so they never tear the TUI.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/julianstephens/daybook/internal/constants"
)

var (
	// Logger is the global logger instance
	Logger *log.Logger

	fileWriter *lumberjack.Logger
)

// Config holds logger configuration
type Config struct {
	Debug  bool
	LogDir string
	// Level overrides the level implied by Debug.
	Level string
}

// Path is the active log file.
func (c Config) Path() string {
	return filepath.Join(c.LogDir, constants.AppName+".log")
}

// ParseLevel accepts debug, info, warn or error in any case.
func ParseLevel(s string) (log.Level, error) {
	level, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

func (c Config) level() (log.Level, error) {
	if c.Level != "" {
		return ParseLevel(c.Level)
	}
	if c.Debug {
		return log.DebugLevel, nil
	}
	return log.WarnLevel, nil
}

// Init replaces the global logger. Close must be called before exit so the
// file handle is released.
func Init(cfg Config) error {
	level, err := cfg.level()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.LogDir, 0700); err != nil {
		return err
	}

	_ = Close()
	fileWriter = &lumberjack.Logger{
		Filename:   cfg.Path(),
		MaxSize:    constants.LogMaxSizeMB,
		MaxBackups: constants.LogMaxBackups,
		MaxAge:     constants.LogMaxAgeDays,
		Compress:   true,
	}

	var out io.Writer = fileWriter
	if cfg.Debug {
		out = io.MultiWriter(os.Stderr, fileWriter)
	}

	Logger = log.NewWithOptions(out, log.Options{
		ReportCaller:    cfg.Debug,
		ReportTimestamp: true,
		Level:           level,
		Prefix:          constants.AppName,
	})
	return nil
}

// Close releases the rotating log file. Logging after Close is dropped.
func Close() error {
	if fileWriter == nil {
		return nil
	}
	err := fileWriter.Close()
	fileWriter = nil
	Logger = nil
	return err
}

func logAt(level log.Level, msg string, keyvals []interface{}) {
	if Logger == nil {
		return
	}
	Logger.Log(level, msg, keyvals...)
}

func Debug(msg string, keyvals ...interface{}) { logAt(log.DebugLevel, msg, keyvals) }

func Info(msg string, keyvals ...interface{}) { logAt(log.InfoLevel, msg, keyvals) }

func Warn(msg string, keyvals ...interface{}) { logAt(log.WarnLevel, msg, keyvals) }

func Error(msg string, keyvals ...interface{}) { logAt(log.ErrorLevel, msg, keyvals) }

// Fatal logs at error level, closes the log file and exits 1.
func Fatal(msg string, keyvals ...interface{}) {
	logAt(log.ErrorLevel, msg, keyvals)
	_ = Close()
	os.Exit(1)
}
