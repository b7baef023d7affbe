package sim

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// ConfigureLogging applies the logging settings group to the process-wide
// logger. With Preconfigured set the host application owns the logger and
// nothing is touched. Returns the log file, if one was opened, so the
// caller can close it at exit.
func ConfigureLogging(cfg LoggingSettings, dir string) (*os.File, error) {
	if cfg.Preconfigured {
		return nil, nil
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, NewConfigurationError("logging.level", "unknown level %q", cfg.Level)
	}
	logrus.SetLevel(level)

	var writers []io.Writer
	if cfg.ScreenDisplay {
		writers = append(writers, os.Stderr)
	}
	var logFile *os.File
	if cfg.ExternalFile {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
		if cfg.ClearOnStart {
			flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
		}
		logFile, err = os.OpenFile(filepath.Join(dir, "distsim.log"), flags, 0o644)
		if err != nil {
			return nil, err
		}
		writers = append(writers, logFile)
	}
	switch len(writers) {
	case 0:
		logrus.SetOutput(io.Discard)
	case 1:
		logrus.SetOutput(writers[0])
	default:
		logrus.SetOutput(io.MultiWriter(writers...))
	}
	return logFile, nil
}
