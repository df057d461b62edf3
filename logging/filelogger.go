package logging

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
)

// FileLogger is a file-backed logging handle owned by a single driver. It is
// opened during driver setup and must be closed on teardown; Close is safe
// to call more than once so error paths can release it unconditionally.
//
// File loggers are meant for drivers that produce large amounts of output
// that would drown the console log even at debug level.
type FileLogger struct {
	path   string
	file   *os.File
	logger log.Logger
}

// NewFileLogger opens (or creates) the log file at path and wraps it in a
// logfmt logger.
func NewFileLogger(path string) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening driver log file %s: %w", path, err)
	}
	return &FileLogger{
		path:   path,
		file:   f,
		logger: log.NewLogger(log.LogfmtHandlerWithLevel(f, log.LevelDebug)),
	}, nil
}

// Path returns the log file path.
func (l *FileLogger) Path() string { return l.path }

// Logger returns the underlying key-value logger. Using the logger after
// Close is a programming error.
func (l *FileLogger) Logger() log.Logger { return l.logger }

// Close flushes and releases the file handle.
func (l *FileLogger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
