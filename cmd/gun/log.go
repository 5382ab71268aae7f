package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"

	"github.com/llfourn/gun-ng/betdb"
	"github.com/llfourn/gun-ng/engine"
	"github.com/llfourn/gun-ng/oracleclient"
	"github.com/llfourn/gun-ng/walletadapter"
)

// logMaxFileSizeKB and logMaxFiles bound gun.log's disk footprint: a
// long-running `gun daemon` rotates rather than growing without limit.
const (
	logMaxFileSizeKB = 10 * 1024
	logMaxFiles      = 3
)

// log is cmd/gun's own subsystem logger, used by daemon.go; disabled
// until setupLoggers runs, the same default every other package's
// log.go starts with.
var log = btclog.Disabled

// logWriter fans every backend write out to both stdout and the
// rotating file, the same dual-sink approach lnd's build.LogWriter
// takes so a foreground run still shows logs without needing to tail
// the file.
type logWriter struct {
	rotator *rotator.Rotator
}

func (w *logWriter) Write(p []byte) (int, error) {
	os.Stdout.Write(p)
	return w.rotator.Write(p)
}

// initLogRotator opens (creating if needed) the rotating log file at
// logFile.
func initLogRotator(logFile string) (*rotator.Rotator, error) {
	if err := os.MkdirAll(filepath.Dir(logFile), 0700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	r, err := rotator.New(logFile, logMaxFileSizeKB, false, logMaxFiles)
	if err != nil {
		return nil, fmt.Errorf("create log rotator: %w", err)
	}
	return r, nil
}

// setupLoggers wires a btclog backend writing to logFile (and stdout)
// into every package that exposes a subsystem logger, following the
// per-package UseLogger convention declared in each package's log.go.
func setupLoggers(logFile string, level btclog.Level) (io.Closer, error) {
	r, err := initLogRotator(logFile)
	if err != nil {
		return nil, err
	}

	backend := btclog.NewBackend(&logWriter{rotator: r})

	subsystems := map[string]func(btclog.Logger){
		"ENGN": engine.UseLogger,
		"BETD": betdb.UseLogger,
		"ORCL": oracleclient.UseLogger,
		"WALT": walletadapter.UseLogger,
		"GUND": func(l btclog.Logger) { log = l },
	}
	for tag, use := range subsystems {
		logger := backend.Logger(tag)
		logger.SetLevel(level)
		use(logger)
	}

	return r, nil
}

// parseLogLevel maps the -loglevel flag's value to a btclog.Level,
// defaulting to Info on an unrecognized string.
func parseLogLevel(s string) btclog.Level {
	level, ok := btclog.LevelFromString(s)
	if !ok {
		return btclog.LevelInfo
	}
	return level
}
