package imap

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ngksmail/go-imapsync/internal/paths"
)

// Direction prefixes a transcript line.
type Direction string

const (
	DirClient Direction = "C "
	DirServer Direction = "S "
	DirInfo   Direction = "I "
	DirError  Direction = "! "
)

// Transcript appends protocol lines to a file. A nil *Transcript discards
// everything, so callers never need to check.
type Transcript struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// OpenTranscript opens path for appending, creating parent directories.
func OpenTranscript(path string) (*Transcript, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating transcript dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening transcript: %w", err)
	}
	return &Transcript{f: f, path: path}, nil
}

// TranscriptFile returns dir/<sanitized name>_<stamp>.txt.
func TranscriptFile(dir, name string, now time.Time) string {
	return filepath.Join(dir, paths.Sanitize(name)+"_"+paths.Stamp(now)+".txt")
}

// Write appends one line. Empty text is recorded as <EMPTY>.
func (t *Transcript) Write(dir Direction, text string) {
	if t == nil {
		return
	}
	if text == "" {
		text = "<EMPTY>"
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.f == nil {
		return
	}
	_, _ = t.f.WriteString(string(dir) + text + "\n")
}

// Path returns the file path, or "" for a nil transcript.
func (t *Transcript) Path() string {
	if t == nil {
		return ""
	}
	return t.path
}

// Close flushes and closes the file. It is safe to call more than once.
func (t *Transcript) Close() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.f == nil {
		return nil
	}
	err := t.f.Close()
	t.f = nil
	return err
}
