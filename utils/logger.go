package utils

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogOptions controls where process logs are written
type LogOptions struct {
	Output     string // stdout, file, both
	FilePath   string
	MaxSize    int // MB
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

var (
	logMu     sync.RWMutex
	logWriter io.Writer = os.Stdout
)

// InitLogger routes the standard logger to stdout and/or a rotating file.
// It returns a close func for the file sink.
func InitLogger(opts LogOptions) (func() error, error) {
	var w io.Writer = os.Stdout
	closeFn := func() error { return nil }

	if opts.Output == "file" || opts.Output == "both" {
		if err := os.MkdirAll(filepath.Dir(opts.FilePath), 0o755); err != nil {
			return closeFn, err
		}
		rotator := &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    opts.MaxSize,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAge,
			Compress:   opts.Compress,
		}
		closeFn = rotator.Close
		if opts.Output == "both" {
			w = io.MultiWriter(os.Stdout, rotator)
		} else {
			w = rotator
		}
	}

	logMu.Lock()
	logWriter = w
	logMu.Unlock()

	log.SetOutput(w)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.LUTC)
	return closeFn, nil
}

// LogWriter returns the sink configured by InitLogger
func LogWriter() io.Writer {
	logMu.RLock()
	defer logMu.RUnlock()
	return logWriter
}

// NewComponentLogger returns a logger with a component prefix sharing the process sink
func NewComponentLogger(prefix string) *log.Logger {
	return log.New(LogWriter(), prefix+" ", log.LstdFlags|log.Lmicroseconds|log.LUTC)
}
