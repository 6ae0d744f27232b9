package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/stagehand-sh/stagehand/internal/constants"
)

// New creates the base logger for the process. CLI runs get a console
// writer, everything else gets JSON lines on stderr.
func New(level zerolog.Level, isCLI bool) zerolog.Logger {
	return zerolog.New(consoleWriter(isCLI)).Level(level).With().Timestamp().Logger()
}

// NewAttemptLogger returns a logger that writes every entry both to the
// process output and to <stateDir>/logs/<attemptID>.log, plus a close
// function for the underlying file. The file is JSON lines regardless of
// the console format so attempt logs stay machine-readable.
func NewAttemptLogger(level zerolog.Level, isCLI bool, stateDir, attemptID string) (zerolog.Logger, func() error, error) {
	if attemptID == "" {
		return zerolog.Nop(), nil, fmt.Errorf("attempt ID cannot be empty")
	}
	logsDir := filepath.Join(stateDir, constants.LogsDirName)
	if err := os.MkdirAll(logsDir, constants.ModeDirDefault); err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("failed to create logs directory: %w", err)
	}
	logPath := filepath.Join(logsDir, attemptID+".log")
	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, constants.ModeFileDefault)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("failed to open attempt log file: %w", err)
	}

	w := zerolog.MultiLevelWriter(consoleWriter(isCLI), file)
	logger := zerolog.New(w).Level(level).With().Timestamp().Str("attempt", attemptID).Logger()
	return logger, file.Close, nil
}

func consoleWriter(isCLI bool) io.Writer {
	if isCLI {
		return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}
	return os.Stderr
}

// ParseLevel maps the config's log level string onto a zerolog level,
// defaulting to info for anything unrecognized.
func ParseLevel(s string) zerolog.Level {
	level, err := zerolog.ParseLevel(s)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// CleanOldLogs removes attempt log files older than maxAgeDays.
func CleanOldLogs(stateDir string, maxAgeDays int) error {
	logsDir := filepath.Join(stateDir, constants.LogsDirName)
	files, err := os.ReadDir(logsDir)
	if err != nil {
		return err
	}
	cutoff := time.Now().AddDate(0, 0, -maxAgeDays)
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		info, err := file.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(filepath.Join(logsDir, file.Name()))
		}
	}
	return nil
}
