package utils

import (
	"errors"
	"io"
	"log/slog"
	"os"
)

var (
	ErrUnexpectedLogLevel  = errors.New("unexpected log level")
	ErrUnexpectedLogFormat = errors.New("unexpected log format")
)

// Configure the slog logger with a specific log level, format and potential output file.
//
// Valid log levels are "none", "error", "warn", "info", "debug". Any other value returns an error.
// Valid formats are "text", "json", or "" (text on stdout, JSON in a file).
// logFile may either specify a file path (an error is returned if the path cannot be opened) or none,
// in which case the logger points to stdout.
//
// Returns the os.File pointer that slog writes to, so it may be gracefully shut:
// ```
// logFilePointer, err := utils.ConfigureDefaultLogger(...)
//
//	if logFilePointer != nil{
//		defer logFilePointer.Close()
//	}
//
// ```
func ConfigureDefaultLogger(logLevel string, logFile string, logFormat string, loggerOptions slog.HandlerOptions) (*os.File, error) {
	switch logLevel {
	case "none":
		// No logging is required, disable the logger and return
		slog.SetDefault(slog.New(slog.DiscardHandler))
		return nil, nil
	case "error":
		loggerOptions.Level = slog.LevelError
	case "warn":
		loggerOptions.Level = slog.LevelWarn
	case "info":
		loggerOptions.Level = slog.LevelInfo
	case "debug":
		loggerOptions.Level = slog.LevelDebug
	default:
		return nil, ErrUnexpectedLogLevel
	}

	// --------------------------------------------------------------------------------

	var logFilePointer *os.File
	var out io.Writer = os.Stdout
	if logFile != "" {
		var err error
		logFilePointer, err = os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return nil, err
		}
		out = logFilePointer
	}

	if logFormat == "" {
		logFormat = "text"
		if logFilePointer != nil {
			logFormat = "json"
		}
	}

	var slogHandler slog.Handler
	switch logFormat {
	case "text":
		slogHandler = slog.NewTextHandler(out, &loggerOptions)
	case "json":
		slogHandler = slog.NewJSONHandler(out, &loggerOptions)
	default:
		if logFilePointer != nil {
			logFilePointer.Close()
		}
		return nil, ErrUnexpectedLogFormat
	}

	// --------------------------------------------------------------------------------

	slog.SetDefault(slog.New(slogHandler))
	return logFilePointer, nil
}
