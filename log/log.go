// Copyright 2024 knxsuite. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package log provides a minimal structured logging abstraction. Callers of
// the parser can plug in their own Logger implementation; by default warnings
// below the error level are filtered out.
package log

import (
	"fmt"
	"io"
	"sync"
)

// Level is a logger level.
type Level int8

// Logger levels.
const (
	LevelDebug Level = iota - 1
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// LevelKey is the logger level key.
const LevelKey = "level"

// String returns the name of a logger level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return ""
	}
}

// Logger is a logger interface.
type Logger interface {
	Log(level Level, keyvals ...interface{}) error
}

type stdLogger struct {
	w    io.Writer
	pool *sync.Pool
	mu   sync.Mutex
}

// NewStdLogger returns a Logger writing plain key=value lines to w.
func NewStdLogger(w io.Writer) Logger {
	return &stdLogger{
		w: w,
		pool: &sync.Pool{
			New: func() interface{} {
				return new([]byte)
			},
		},
	}
}

// Log prints the keyvals to the underlying writer.
func (l *stdLogger) Log(level Level, keyvals ...interface{}) error {
	if len(keyvals) == 0 {
		return nil
	}
	if (len(keyvals) & 1) == 1 {
		keyvals = append(keyvals, "KEYVALS UNPAIRED")
	}
	buf := l.pool.Get().(*[]byte)
	*buf = append(*buf, level.String()...)
	for i := 0; i < len(keyvals); i += 2 {
		*buf = append(*buf, fmt.Sprintf(" %s=%v", keyvals[i], keyvals[i+1])...)
	}
	*buf = append(*buf, '\n')
	l.mu.Lock()
	_, err := l.w.Write(*buf)
	l.mu.Unlock()
	*buf = (*buf)[:0]
	l.pool.Put(buf)
	return err
}
