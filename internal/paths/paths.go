// Package paths owns the on-disk artifacts layout: proof trails, audit
// logs, the database, config, IMAP transcripts and loopback TLS material.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultRoot is the artifacts directory used when none is configured.
const DefaultRoot = "artifacts"

// Layout resolves artifact paths below Root.
type Layout struct {
	Root string
}

// New returns a Layout rooted at root, or DefaultRoot when root is empty.
func New(root string) Layout {
	if root == "" {
		root = DefaultRoot
	}
	return Layout{Root: root}
}

func (l Layout) Proof() string          { return filepath.Join(l.Root, "_proof") }
func (l Layout) Audit() string          { return filepath.Join(l.Root, "audit") }
func (l Layout) AuditProviders() string { return filepath.Join(l.Root, "audit", "providers") }
func (l Layout) DBDir() string          { return filepath.Join(l.Root, "db") }
func (l Layout) Config() string         { return filepath.Join(l.Root, "config") }
func (l Layout) IMAPLogs() string       { return filepath.Join(l.Root, "logs", "imap") }
func (l Layout) Certs() string          { return filepath.Join(l.Root, "certs") }

// DB returns the database file for name.
func (l Layout) DB(name string) string {
	if name == "" {
		name = "mailcore"
	}
	return filepath.Join(l.DBDir(), name+".db")
}

// ConfigFile returns the settings file.
func (l Layout) ConfigFile() string { return filepath.Join(l.Config(), "settings.yaml") }

// CertPair returns the default loopback certificate and key paths.
func (l Layout) CertPair() (certPath, keyPath string) {
	return filepath.Join(l.Certs(), "localhost.crt.pem"), filepath.Join(l.Certs(), "localhost.key.pem")
}

// EnsureDirs creates every directory of the layout.
func (l Layout) EnsureDirs() error {
	for _, dir := range []string{l.Proof(), l.AuditProviders(), l.DBDir(), l.Config(), l.IMAPLogs(), l.Certs()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

// Stamp formats t as yyyyMMdd_HHmmss_mmm for file names.
func Stamp(t time.Time) string {
	return fmt.Sprintf("%s_%03d", t.Format("20060102_150405"), t.Nanosecond()/int(time.Millisecond))
}

// Sanitize maps s to a file name fragment: '@' and '.' become '_' and so
// does anything outside [A-Za-z0-9_-].
func Sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
