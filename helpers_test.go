package imap

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ngksmail/go-imapsync/internal/imaptest"
)

// discardLogger drops everything.
type discardLogger struct{}

func (discardLogger) Debug(string, ...any) {}

func (discardLogger) Info(string, ...any) {}

func (discardLogger) Warn(string, ...any) {}

func (discardLogger) Error(string, ...any) {}

func (d discardLogger) WithAttrs(...any) Logger { return d }

func testOptions(t *testing.T, srv *imaptest.Server) Options {
	t.Helper()
	return Options{
		ConnectTimeout:  2 * time.Second,
		LineTimeout:     time.Second,
		ResponseTimeout: time.Second,
		TLSConfig:       srv.ClientTLSConfig(),
		TranscriptPath:  filepath.Join(t.TempDir(), "transcript.txt"),
		Logger:          discardLogger{},
	}
}

func connectTest(t *testing.T, srv *imaptest.Server, opts Options) *Dialer {
	t.Helper()
	d, err := Connect(context.Background(), srv.Host(), srv.Port(), true, opts)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}
