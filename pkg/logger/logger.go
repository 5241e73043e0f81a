// Package logger wires up the process-wide zap logger, optionally
// teeing formatted lines into a log ring buffer for the control
// plane's /api/logs endpoints.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JamesABrownlee/tts-bot/internal/logbuffer"
)

// Logger is the global logger instance, set by Init.
var Logger *zap.Logger

// bufferSink adapts a *logbuffer.Buffer to zapcore.WriteSyncer so it
// can be plugged into a zapcore.Core alongside the normal stdout core.
type bufferSink struct {
	buf *logbuffer.Buffer
}

func (s *bufferSink) Write(p []byte) (int, error) {
	line := string(p)
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	if line != "" {
		s.buf.Append(line)
	}
	return len(p), nil
}

func (s *bufferSink) Sync() error { return nil }

// Init builds the global logger for the given environment name
// ("production" selects a JSON encoder at info level; anything else
// selects a colorized console encoder at debug level). If buf is
// non-nil, every log line is also appended to it.
func Init(env string, buf *logbuffer.Buffer) error {
	var cfg zap.Config

	if env == "production" {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	encoder := zapcore.NewConsoleEncoder(cfg.EncoderConfig)
	if env == "production" {
		encoder = zapcore.NewJSONEncoder(cfg.EncoderConfig)
	}

	primary, _, err := zap.Open(cfg.OutputPaths...)
	if err != nil {
		return err
	}
	core := zapcore.NewCore(encoder, primary, cfg.Level)

	if buf != nil {
		tailEncoder := zapcore.NewConsoleEncoder(cfg.EncoderConfig)
		bufCore := zapcore.NewCore(tailEncoder, &bufferSink{buf: buf}, cfg.Level)
		core = zapcore.NewTee(core, bufCore)
	}

	Logger = zap.New(core)
	return nil
}

// Sync flushes any buffered log entries.
func Sync() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}

// Get returns the global logger instance, falling back to a basic
// development logger if Init has not run (e.g. in a test binary).
func Get() *zap.Logger {
	if Logger == nil {
		l, _ := zap.NewDevelopment()
		return l
	}
	return Logger
}
