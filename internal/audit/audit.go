// Package audit appends application events as JSON lines and writes the
// secret-free proof trails of OAuth attempts.
package audit

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Event names.
const (
	AppStart    = "APP_START"
	AppExit     = "APP_EXIT"
	ResolveOK   = "RESOLVE_OK"
	ResolveFail = "RESOLVE_FAIL"
	SyncOK      = "SYNC_OK"
	SyncFail    = "SYNC_FAIL"
	OAuthOK     = "OAUTH_OK"
	OAuthFail   = "OAUTH_FAIL"
)

// Entry is one line of the audit log.
type Entry struct {
	ID      string         `json:"id"`
	TS      string         `json:"ts"`
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload"`
}

// Log appends entries to dir/audit.jsonl. Entries whose payload names a
// provider are mirrored to dir/providers/<provider>.jsonl.
type Log struct {
	mu     sync.Mutex
	dir    string
	logger *slog.Logger
	now    func() time.Time
	exited atomic.Bool
}

// New returns a Log writing below dir. A nil logger discards write errors.
func New(dir string, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Log{dir: dir, logger: logger, now: time.Now}
}

// Path returns the main audit file.
func (l *Log) Path() string { return filepath.Join(l.dir, "audit.jsonl") }

// Event appends one entry. Failures are logged, never returned, so that
// auditing cannot break the operation being audited.
func (l *Log) Event(event string, payload map[string]any) {
	if l == nil {
		return
	}
	if payload == nil {
		payload = map[string]any{}
	}
	e := Entry{
		ID:      uuid.NewString(),
		TS:      l.now().UTC().Format(time.RFC3339),
		Event:   event,
		Payload: payload,
	}
	line, err := json.Marshal(e)
	if err != nil {
		l.logger.Warn("audit marshal failed", "event", event, "error", err)
		return
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := appendFile(l.Path(), line); err != nil {
		l.logger.Warn("audit write failed", "event", event, "error", err)
		return
	}
	if p, ok := payload["provider"].(string); ok && p != "" {
		if err := appendFile(filepath.Join(l.dir, "providers", p+".jsonl"), line); err != nil {
			l.logger.Warn("audit provider write failed", "provider", p, "error", err)
		}
	}
}

// Start records APP_START.
func (l *Log) Start(dbPath string) {
	l.Event(AppStart, map[string]any{"component": "app", "db": dbPath})
}

// Exit records APP_EXIT at most once per Log.
func (l *Log) Exit() {
	if l == nil || !l.exited.CompareAndSwap(false, true) {
		return
	}
	l.Event(AppExit, map[string]any{"component": "app"})
}

func appendFile(path string, b []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating audit dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
