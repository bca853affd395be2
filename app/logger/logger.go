// Package logger provides structured logging for the segment engine
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps zerolog with segment-specific helpers
type Logger struct {
	zlog zerolog.Logger
}

// FileConfig configures the rotated log file
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	Pretty     bool   // console output for development
	Output     io.Writer
	File       *FileConfig // when set, logs are also written to a rotated file
	Stdout     bool        // with File, keep writing to Output as well
	WithCaller bool
}

// NewLogger creates a new structured logger
func NewLogger(cfg Config) *Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	if cfg.File != nil && cfg.File.Path != "" {
		rotated := &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSizeMB,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAgeDays,
			Compress:   cfg.File.Compress,
		}
		if cfg.Stdout {
			output = zerolog.MultiLevelWriter(output, rotated)
		} else {
			output = rotated
		}
	}

	zlog := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("service", "company-segments").
		Logger()

	if cfg.WithCaller {
		zlog = zlog.With().Caller().Logger()
	}

	return &Logger{zlog: zlog}
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// GetZerolog returns the underlying zerolog logger
func (l *Logger) GetZerolog() *zerolog.Logger {
	return &l.zlog
}

func (l *Logger) Debug() *zerolog.Event { return l.zlog.Debug() }
func (l *Logger) Info() *zerolog.Event  { return l.zlog.Info() }
func (l *Logger) Warn() *zerolog.Event  { return l.zlog.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.zlog.Error() }

// Component returns a sub-logger tagged with a component name
func (l *Logger) Component(name string) *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", name).Logger()}
}

// WithRun returns a sub-logger tagged with a rebuild run id
func (l *Logger) WithRun(runID string) *Logger {
	return &Logger{zlog: l.zlog.With().Str("run_id", runID).Logger()}
}

// WithSegment returns a sub-logger tagged with a segment id
func (l *Logger) WithSegment(segmentID uint) *Logger {
	return &Logger{zlog: l.zlog.With().Uint("segment_id", segmentID).Logger()}
}

// LogBatch logs one applied rebuild batch
func (l *Logger) LogBatch(segmentID uint, phase string, size int, changed int64, duration time.Duration) {
	l.zlog.Debug().
		Uint("segment_id", segmentID).
		Str("phase", phase).
		Int("batch_size", size).
		Int64("changed", changed).
		Dur("duration_ms", duration).
		Msg("Batch applied")
}

// LogSegmentRebuild logs the outcome of one segment rebuild
func (l *Logger) LogSegmentRebuild(segmentID uint, added, removed int64, duration time.Duration, err error) {
	if err != nil {
		l.zlog.Error().
			Uint("segment_id", segmentID).
			Dur("duration_ms", duration).
			Err(err).
			Msg("Segment rebuild failed")
		return
	}

	l.zlog.Info().
		Uint("segment_id", segmentID).
		Int64("added", added).
		Int64("removed", removed).
		Dur("duration_ms", duration).
		Msg("Segment rebuilt")
}

// Global logger instance
var globalLogger *Logger

// InitGlobalLogger initializes the global logger
func InitGlobalLogger(cfg Config) {
	globalLogger = NewLogger(cfg)
	log.Logger = *globalLogger.GetZerolog()
}

// GetGlobalLogger returns the global logger instance
func GetGlobalLogger() *Logger {
	if globalLogger == nil {
		InitGlobalLogger(Config{
			Level:  "info",
			Pretty: true,
		})
	}
	return globalLogger
}
