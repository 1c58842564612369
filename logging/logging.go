// Package logging provides leveled log lines on top of the standard library
// logger. The level is chosen from a repeatable -v flag: no flag logs
// warnings only, one adds informational lines and two or more add debug
// output.
package logging

import (
	"io"
	"log"
	"os"
	"sync"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	}
	return "WARN"
}

var (
	mu     sync.RWMutex
	level  = LevelWarn
	logger = log.New(os.Stderr, "", log.LstdFlags)
)

// LevelForVerbosity maps the number of -v flags to a level.
func LevelForVerbosity(verbosity int) Level {
	switch {
	case verbosity > 1:
		return LevelDebug
	case verbosity == 1:
		return LevelInfo
	}
	return LevelWarn
}

// Setup sets the level from a -v count.
func Setup(verbosity int) {
	SetLevel(LevelForVerbosity(verbosity))
}

func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

func CurrentLevel() Level {
	mu.RLock()
	defer mu.RUnlock()
	return level
}

// SetOutput redirects log lines. Defaults to os.Stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger.SetOutput(w)
}

// SetFlags sets the standard logger flags, e.g. 0 in tests to drop timestamps.
func SetFlags(flags int) {
	mu.Lock()
	defer mu.Unlock()
	logger.SetFlags(flags)
}

// Enabled reports whether lines at l are written.
func Enabled(l Level) bool {
	mu.RLock()
	defer mu.RUnlock()
	return l >= level
}

func logf(l Level, format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	if l < level {
		return
	}
	logger.Printf("["+l.String()+"] "+format, args...)
}

func Debugf(format string, args ...any) { logf(LevelDebug, format, args...) }

func Infof(format string, args ...any) { logf(LevelInfo, format, args...) }

func Warnf(format string, args ...any) { logf(LevelWarn, format, args...) }
