// Package matchlog appends matches to a durable, never-truncated text record.
package matchlog

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
)

// Entry is one parsed line of the record.
type Entry struct {
	Prefix string
	Key    string
}

// Format renders a record line without the trailing newline.
func Format(prefix, hexKey string) string {
	return fmt.Sprintf("prefix: %s | key: %s", prefix, hexKey)
}

// Writer serializes appends from concurrent workers onto one file handle.
type Writer struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// Open opens path for appending, creating it if needed.
func Open(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open match record: %w", err)
	}
	return &Writer{path: path, f: f}, nil
}

// Path returns the record location.
func (w *Writer) Path() string { return w.path }

// Append writes one line and syncs it to disk.
func (w *Writer) Append(prefix, hexKey string) error {
	line := Format(prefix, hexKey) + "\n"

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		return errors.New("match record is closed")
	}
	if _, err := w.f.WriteString(line); err != nil {
		return fmt.Errorf("append match: %w", err)
	}
	return w.f.Sync()
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

// ReadAll parses every line of the record at path. A missing file yields no entries.
func ReadAll(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		e, ok := parseLine(line)
		if !ok {
			return nil, fmt.Errorf("malformed match record line %q", line)
		}
		entries = append(entries, e)
	}
	return entries, sc.Err()
}

func parseLine(line string) (Entry, bool) {
	left, right, ok := strings.Cut(line, " | ")
	if !ok {
		return Entry{}, false
	}
	prefix, ok := strings.CutPrefix(left, "prefix: ")
	if !ok {
		return Entry{}, false
	}
	key, ok := strings.CutPrefix(right, "key: ")
	if !ok {
		return Entry{}, false
	}
	return Entry{Prefix: prefix, Key: key}, true
}
