package logging

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.Logger

// LogLevelEnvVar is the environment variable that controls logging verbosity.
// When unset or empty, logging is silent (no zap output).
// Valid values: "debug", "info", "warn", "error"
const LogLevelEnvVar = "TUYALINK_LOG_LEVEL"

// LogFormatEnvVar selects the encoder: "console" (default) or "json".
const LogFormatEnvVar = "TUYALINK_LOG_FORMAT"

// Initialize creates a new logger with the specified level.
// If level is empty, it checks TUYALINK_LOG_LEVEL environment variable.
// If neither is set, logging is disabled (silent mode).
func Initialize(level string) error {
	if level == "" {
		level = os.Getenv(LogLevelEnvVar)
	}
	if level == "" {
		logger = zap.NewNop()
		return nil
	}

	l, err := newConfig(parseLevel(level), os.Getenv(LogFormatEnvVar)).Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger = l
	return nil
}

// parseLevel maps a level name to a zap level. Anything unrecognised is
// treated as info, since the caller asked for output.
func parseLevel(level string) zapcore.Level {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl < zapcore.DebugLevel || lvl > zapcore.ErrorLevel {
		return zapcore.InfoLevel
	}
	return lvl
}

// newConfig builds the zap config. Output goes to stderr so stdout stays
// free for command output.
func newConfig(level zapcore.Level, format string) zap.Config {
	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeCaller = zapcore.ShortCallerEncoder

	encoding := "console"
	if format == "json" {
		encoding = "json"
		enc = zap.NewProductionEncoderConfig()
		enc.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	return zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Encoding:         encoding,
		EncoderConfig:    enc,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
}

// InitializeFromEnv initializes the logger from the TUYALINK_LOG_LEVEL
// environment variable.
func InitializeFromEnv() error {
	return Initialize("")
}

// SetLogger replaces the global logger. Tests use it with zaptest/observer cores.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger = l
}

// GetLogger returns the global logger instance
func GetLogger() *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return logger
}

// Info logs an info message
func Info(msg string, fields ...zap.Field) {
	GetLogger().Info(msg, fields...)
}

// Debug logs a debug message
func Debug(msg string, fields ...zap.Field) {
	GetLogger().Debug(msg, fields...)
}

// Warn logs a warning message
func Warn(msg string, fields ...zap.Field) {
	GetLogger().Warn(msg, fields...)
}

// Error logs an error message
func Error(msg string, fields ...zap.Field) {
	GetLogger().Error(msg, fields...)
}

// Fatal logs a fatal message and exits
func Fatal(msg string, fields ...zap.Field) {
	GetLogger().Fatal(msg, fields...)
}

// LogFrame logs a protocol frame crossing the wire.
// direction is "tx" or "rx".
func LogFrame(deviceID, direction, kind string, sequence uint32, data []byte) {
	fields := []zap.Field{
		zap.String("device_id", deviceID),
		zap.String("direction", direction),
		zap.String("kind", kind),
		zap.Uint32("sequence", sequence),
		zap.Int("length", len(data)),
	}

	if GetLogger().Core().Enabled(zapcore.DebugLevel) {
		fields = append(fields, zap.String("hex_dump", hexDump(data)))
	}

	Debug("Protocol frame", fields...)
}

// LogSessionEvent logs a device session state change
func LogSessionEvent(deviceID, remoteAddr, event string, err error) {
	fields := []zap.Field{
		zap.String("device_id", deviceID),
		zap.String("remote_addr", remoteAddr),
		zap.String("event", event),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
		Warn("Session event", fields...)
		return
	}
	Info("Session event", fields...)
}

// LogRawBytes logs raw bytes (useful for debugging protocol issues)
func LogRawBytes(label string, data []byte) {
	Debug(label,
		zap.Int("length", len(data)),
		zap.String("hex", hexDump(data)),
		zap.String("ascii", asciiDump(data)),
	)
}

// maxDump caps how many bytes of a buffer end up in a log line.
const maxDump = 256

func hexDump(data []byte) string {
	if len(data) > maxDump {
		return hex.EncodeToString(data[:maxDump]) + "..."
	}
	return hex.EncodeToString(data)
}

func asciiDump(data []byte) string {
	var b strings.Builder
	for _, c := range data[:min(len(data), maxDump)] {
		if c < 32 || c > 126 {
			c = '.'
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Sync flushes any buffered log entries
func Sync() {
	if logger != nil {
		_ = logger.Sync()
	}
}
