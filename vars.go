package imap

import (
	"crypto/tls"
	"strings"
	"time"
)

// String replacers for escaping/unescaping quoted strings
var (
	AddSlashes    = strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	RemoveSlashes = strings.NewReplacer(`\\`, `\`, `\"`, `"`)
)

// Redacted replaces secrets in transcripts and logs.
const Redacted = "<REDACTED>"

const (
	// DefaultConnectTimeout bounds the TCP connect, TLS handshake and greeting.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultLineTimeout bounds a single line read or write.
	DefaultLineTimeout = 5 * time.Second
	// DefaultResponseTimeout bounds each read while waiting for a tagged reply.
	DefaultResponseTimeout = 10 * time.Second
	// MaxAuthReads bounds the AUTHENTICATE completion loop.
	MaxAuthReads = 120
)

// Options configures a connection. The zero value is usable.
type Options struct {
	ConnectTimeout  time.Duration
	LineTimeout     time.Duration
	ResponseTimeout time.Duration

	// DialRetries is the number of extra connect attempts. Zero means a
	// single attempt.
	DialRetries int

	// TLSConfig is cloned for every connection. ServerName defaults to the host.
	TLSConfig *tls.Config

	// TranscriptPath names the transcript file. When empty and TranscriptDir
	// is set, ResolveAccount derives a name from the account email.
	TranscriptPath string
	TranscriptDir  string

	// NoopProbe accepts an XOAUTH2 exchange whose completion never arrived
	// when the server already sent an untagged CAPABILITY and answers NOOP.
	NoopProbe bool

	Logger Logger
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.LineTimeout <= 0 {
		o.LineTimeout = DefaultLineTimeout
	}
	if o.ResponseTimeout <= 0 {
		o.ResponseTimeout = DefaultResponseTimeout
	}
	if o.DialRetries < 0 {
		o.DialRetries = 0
	}
	if o.Logger == nil {
		o.Logger = DefaultLogger()
	}
	return o
}
