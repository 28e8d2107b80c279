// Package faillog records units that did not publish, one JSON object per
// line, so a run can be diagnosed and retried by hand.
package faillog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry is one failed unit.
type Entry struct {
	Time    time.Time `json:"time"`
	Unit    string    `json:"unit"`
	Name    string    `json:"name,omitempty"`
	Version string    `json:"version,omitempty"`
	Stage   string    `json:"stage"`
	Kind    string    `json:"kind"`
	Detail  string    `json:"detail,omitempty"`
}

// Log appends entries to a file. Earlier runs' entries are kept. A nil *Log
// discards everything.
type Log struct {
	path  string
	mu    sync.Mutex
	count int
}

// New creates a log that writes to path, creating its directory.
func New(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating failure log directory: %w", err)
	}
	return &Log{path: path}, nil
}

// Path returns the file backing this log.
func (l *Log) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Count returns how many entries this Log has appended.
func (l *Log) Count() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Append writes e as a single line. A zero Time is set to now.
func (l *Log) Append(e Entry) error {
	if l == nil {
		return nil
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	e.Time = e.Time.UTC()

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding failure entry: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening failure log: %w", err)
	}
	defer file.Close()
	if _, err := file.Write(line); err != nil {
		return fmt.Errorf("writing failure log: %w", err)
	}
	l.count++
	return nil
}

// Read returns every entry in the file at path. A missing file yields no
// entries.
func Read(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for n := 1; scanner.Scan(); n++ {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return entries, fmt.Errorf("%s:%d: %w", path, n, err)
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}
