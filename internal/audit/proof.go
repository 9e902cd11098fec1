package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ngksmail/go-imapsync/internal/paths"
)

// Proof is a KEY=VALUE trail of one OAuth attempt. Values must never
// contain secrets. A nil *Proof discards lines.
type Proof struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// NewProof creates dir/<name>_<stamp>.txt, truncating any existing file.
func NewProof(dir, name string, now time.Time) (*Proof, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating proof dir: %w", err)
	}
	path := filepath.Join(dir, name+"_"+paths.Stamp(now.UTC())+".txt")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("creating proof: %w", err)
	}
	return &Proof{f: f, path: path}, nil
}

// Path returns the file path, or "" for a nil Proof.
func (p *Proof) Path() string {
	if p == nil {
		return ""
	}
	return p.path
}

// Line appends s.
func (p *Proof) Line(s string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.f != nil {
		_, _ = p.f.WriteString(s + "\n")
	}
}

// Set appends KEY=value.
func (p *Proof) Set(key, value string) { p.Line(key + "=" + value) }

// Close closes the file. It is safe to call more than once.
func (p *Proof) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.f == nil {
		return nil
	}
	err := p.f.Close()
	p.f = nil
	return err
}
