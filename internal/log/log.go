// Package log provides the leveled logging backend shared by the client and
// the relay, built on go-logging.
package log

import (
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/op/go-logging.v1"
)

const defaultFormat = "%{time:15:04:05.000} %{level:.4s} %{module}: %{message}"

// Backend is a log backend.
type Backend struct {
	w       io.Writer
	backend logging.LeveledBackend
}

// GetLogger returns a per-module logger that writes to the backend.
func (b *Backend) GetLogger(module string) *logging.Logger {
	l := logging.MustGetLogger(module)
	l.SetBackend(b.backend)
	return l
}

// Close releases the log file, if the backend opened one.
func (b *Backend) Close() error {
	if c, ok := b.w.(io.Closer); ok && b.w != os.Stdout && b.w != os.Stderr {
		return c.Close()
	}
	return nil
}

// New initializes a logging backend. An empty f logs to stderr, keeping
// stdout for command output.
func New(f string, level string, disable bool) (*Backend, error) {
	var w io.Writer
	switch {
	case disable:
		w = io.Discard
	case f == "":
		w = os.Stderr
	default:
		const fileMode = 0o600

		flags := os.O_CREATE | os.O_APPEND | os.O_WRONLY
		fh, err := os.OpenFile(f, flags, fileMode)
		if err != nil {
			return nil, errors.Wrap(err, "log: failed to create log file")
		}
		w = fh
	}
	return NewWithWriter(w, level)
}

// NewWithWriter builds a backend over an arbitrary writer.
func NewWithWriter(w io.Writer, level string) (*Backend, error) {
	lvl, err := levelFromString(level)
	if err != nil {
		return nil, err
	}
	b := &Backend{w: w}
	logFmt := logging.MustStringFormatter(defaultFormat)
	base := logging.NewLogBackend(w, "", 0)
	formatted := logging.NewBackendFormatter(base, logFmt)
	b.backend = logging.AddModuleLevel(formatted)
	b.backend.SetLevel(lvl, "")
	return b, nil
}

// Discard returns a backend that drops everything.
func Discard() *Backend {
	b, _ := NewWithWriter(io.Discard, "ERROR")
	return b
}

func levelFromString(l string) (logging.Level, error) {
	switch strings.ToUpper(l) {
	case "ERROR":
		return logging.ERROR, nil
	case "WARNING":
		return logging.WARNING, nil
	case "NOTICE":
		return logging.NOTICE, nil
	case "INFO", "":
		return logging.INFO, nil
	case "DEBUG":
		return logging.DEBUG, nil
	default:
		return logging.CRITICAL, errors.Errorf("log: invalid level: '%v'", l)
	}
}
