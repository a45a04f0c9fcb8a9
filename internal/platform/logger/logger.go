// Package logger provides structured logging for the engine services.
package logger

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/miniflow-io/miniflow/internal/platform/config"
)

// Logger is the structured logging interface used across the engine.
// Fields are zap-style alternating key/value pairs.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithFields(fields map[string]interface{}) Logger
}

// ZapLogger wraps zap's sugared logger.
type ZapLogger struct {
	logger *zap.SugaredLogger
	fields map[string]interface{}
}

// New creates a logger from configuration. JSON output in prod-style
// deployments, human-readable console output otherwise.
func New(cfg config.LoggerConfig) Logger {
	var zapConfig zap.Config

	if cfg.Format == "json" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	switch cfg.Level {
	case "debug":
		zapConfig.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapConfig.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapConfig.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapConfig.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zapConfig.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	if cfg.OutputPath == "" || cfg.OutputPath == "stdout" {
		zapConfig.OutputPaths = []string{"stdout"}
	} else {
		zapConfig.OutputPaths = []string{cfg.OutputPath}
	}

	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zap.ErrorLevel),
	)
	if err != nil {
		panic(err)
	}

	return &ZapLogger{
		logger: logger.Sugar(),
		fields: make(map[string]interface{}),
	}
}

// NewNop returns a logger that discards everything. For tests.
func NewNop() Logger {
	return &ZapLogger{
		logger: zap.NewNop().Sugar(),
		fields: make(map[string]interface{}),
	}
}

// Debug logs a debug message.
func (l *ZapLogger) Debug(msg string, fields ...interface{}) {
	l.logger.With(l.flattenFields()...).Debugw(msg, fields...)
}

// Info logs an info message.
func (l *ZapLogger) Info(msg string, fields ...interface{}) {
	l.logger.With(l.flattenFields()...).Infow(msg, fields...)
}

// Warn logs a warning message.
func (l *ZapLogger) Warn(msg string, fields ...interface{}) {
	l.logger.With(l.flattenFields()...).Warnw(msg, fields...)
}

// Error logs an error message.
func (l *ZapLogger) Error(msg string, fields ...interface{}) {
	l.logger.With(l.flattenFields()...).Errorw(msg, fields...)
}

// Fatal logs a fatal message and exits.
func (l *ZapLogger) Fatal(msg string, fields ...interface{}) {
	l.logger.With(l.flattenFields()...).Fatalw(msg, fields...)
}

// WithFields returns a logger that adds the given fields to every entry.
func (l *ZapLogger) WithFields(fields map[string]interface{}) Logger {
	newFields := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		newFields[k] = v
	}
	for k, v := range fields {
		newFields[k] = v
	}

	return &ZapLogger{
		logger: l.logger,
		fields: newFields,
	}
}

// WithExecution returns a logger scoped to one execution's log entries.
func WithExecution(l Logger, executionID, workspaceID string) Logger {
	return l.WithFields(map[string]interface{}{
		"execution_id": executionID,
		"workspace_id": workspaceID,
	})
}

func (l *ZapLogger) flattenFields() []interface{} {
	fields := make([]interface{}, 0, len(l.fields)*2)
	for k, v := range l.fields {
		fields = append(fields, k, v)
	}
	return fields
}

// HTTPMiddleware logs one line per request with status and timing.
func HTTPMiddleware(logger Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(wrapped, r)

			logger.WithFields(map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      wrapped.statusCode,
				"duration_ms": time.Since(start).Milliseconds(),
				"bytes":       wrapped.bytesWritten,
			}).Info("HTTP request completed")
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// Hijack lets WebSocket upgrades pass through the logging wrapper.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}
