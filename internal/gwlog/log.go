// Package gwlog is the gateway's ambient logging facade. It wraps logrus
// with a level-gated Entry builder in the same shape the teacher library
// used, so every component logs through one path instead of reaching for
// log.Printf directly.
package gwlog

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

type Level uint8

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

func (l Level) toLogrus() logrus.Level {
	switch l {
	case DebugLevel:
		return logrus.DebugLevel
	case InfoLevel:
		return logrus.InfoLevel
	case WarnLevel:
		return logrus.WarnLevel
	case ErrorLevel:
		return logrus.ErrorLevel
	default:
		return logrus.FatalLevel
	}
}

var (
	mu  sync.RWMutex
	std = newDefault()
)

func newDefault() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetOutput replaces the default logger's output, mirroring the teacher's
// hookstderr/hooksyslog split: by default everything goes to stderr, and a
// caller may redirect the whole default logger elsewhere (e.g. a syslog
// writer) at startup.
func SetOutput(w interface{ Write([]byte) (int, error) }) {
	mu.Lock()
	defer mu.Unlock()
	std.SetOutput(w)
}

func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	std.SetLevel(l.toLogrus())
}

// Entry is a level-gated builder: Field/ErrorAdd accumulate context, Log
// emits (a no-op if the logger is gated above this entry's level).
type Entry struct {
	level Level
	msg   string
	entry *logrus.Entry
}

func NewEntry(level Level, msg string) *Entry {
	mu.RLock()
	e := std
	mu.RUnlock()
	return &Entry{level: level, msg: msg, entry: logrus.NewEntry(e)}
}

func (e *Entry) Field(key string, value interface{}) *Entry {
	e.entry = e.entry.WithField(key, value)
	return e
}

func (e *Entry) ErrorAdd(err error) *Entry {
	if err == nil {
		return e
	}
	e.entry = e.entry.WithError(err)
	return e
}

func (e *Entry) Log() {
	switch e.level {
	case DebugLevel:
		e.entry.Debug(e.msg)
	case InfoLevel:
		e.entry.Info(e.msg)
	case WarnLevel:
		e.entry.Warn(e.msg)
	case ErrorLevel:
		e.entry.Error(e.msg)
	default:
		e.entry.Fatal(e.msg)
	}
}

func Debugf(format string, args ...interface{}) { std.Debugf(format, args...) }
func Infof(format string, args ...interface{})  { std.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { std.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { std.Errorf(format, args...) }
