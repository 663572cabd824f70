package log

import "os"

var defaultLogger *Logger = NewText(os.Stderr)

// Default returns the default logger.
func Default() *Logger {
	return defaultLogger
}

// Trace level message.
func Trace(msg string, v ...any) {
	defaultLogger.log(nil, msg, LevelTrace, v...)
}

// Debug level message.
func Debug(msg string, v ...any) {
	defaultLogger.log(nil, msg, LevelDebug, v...)
}

// Info level message.
func Info(msg string, v ...any) {
	defaultLogger.log(nil, msg, LevelInfo, v...)
}

// Warn level message.
func Warn(msg string, v ...any) {
	defaultLogger.log(nil, msg, LevelWarn, v...)
}

// Error level message.
func Error(msg string, v ...any) {
	defaultLogger.log(nil, msg, LevelError, v...)
}

// Fatal level message, followed by an exit.
func Fatal(msg string, v ...any) {
	defaultLogger.log(nil, msg, LevelFatal, v...)
}
