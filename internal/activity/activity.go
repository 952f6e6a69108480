// Package activity keeps the shared, human-readable scan log: a bounded
// in-memory ring for status polling backed by an append-only file.
package activity

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap/zapcore"
)

const (
	maxLines  = 1000
	keepLines = 500
)

// Log is safe for concurrent use and implements zapcore.WriteSyncer.
type Log struct {
	mu    sync.Mutex
	lines []string
	path  string
	f     *os.File
}

// Open creates a log appending to path. An empty path keeps lines in memory only.
func Open(path string) (*Log, error) {
	l := &Log{path: path}
	if path == "" {
		return l, nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open activity log: %w", err)
	}
	l.f = f
	return l, nil
}

// Write records one encoded entry. Multi-line entries are split so the ring
// always holds single lines.
func (l *Log) Write(p []byte) (int, error) {
	text := strings.TrimRight(string(p), "\n")

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, line := range strings.Split(text, "\n") {
		l.lines = append(l.lines, line)
	}
	if len(l.lines) > maxLines {
		l.lines = append([]string(nil), l.lines[len(l.lines)-keepLines:]...)
	}

	if l.f != nil {
		if _, err := l.f.WriteString(text + "\n"); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (l *Log) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	return l.f.Sync()
}

// Recent returns up to n of the newest lines, oldest first.
func (l *Log) Recent(n int) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > len(l.lines) {
		n = len(l.lines)
	}
	return append([]string(nil), l.lines[len(l.lines)-n:]...)
}

// Len returns the number of buffered lines.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lines)
}

// Reset empties the in-memory ring and leaves the file untouched.
func (l *Log) Reset() {
	l.mu.Lock()
	l.lines = nil
	l.mu.Unlock()
}

// Clear empties the ring and truncates the file.
func (l *Log) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = nil
	if l.f == nil {
		return nil
	}
	if err := l.f.Truncate(0); err != nil {
		return fmt.Errorf("truncate activity log: %w", err)
	}
	return nil
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// Core returns a zap core that renders entries as "[HH:MM:SS] message {fields}" into l.
func (l *Log) Core(enab zapcore.LevelEnabler) zapcore.Core {
	enc := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:          "ts",
		MessageKey:       "msg",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeTime:       zapcore.TimeEncoderOfLayout("[15:04:05]"),
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " ",
	})
	return zapcore.NewCore(enc, l, enab)
}
