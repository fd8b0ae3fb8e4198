package main

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/jrick/logrotate/rotator"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	logFileThresholdKB = 10 * 1024
	logFileMaxRolls    = 3
)

// initLog builds the session logger: a console writer on stderr plus a
// rotating log file under the data directory.
func initLog(dataDir string, verbose bool) (zerolog.Logger, io.Closer, error) {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return zerolog.Nop(), nil, errors.Wrap(err, "creating data directory")
	}
	fileRotator, err := rotator.New(filepath.Join(dataDir, defaultLogFilename), logFileThresholdKB, false, logFileMaxRolls)
	if err != nil {
		return zerolog.Nop(), nil, errors.Wrap(err, "creating log file rotator")
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(console, fileRotator)).
		Level(level).
		With().Timestamp().Logger()
	return logger, fileRotator, nil
}
