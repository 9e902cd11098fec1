package imap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// ErrorKind classifies transport failures.
type ErrorKind int

const (
	KindConnect ErrorKind = iota + 1
	KindTLS
	KindTimeout
	KindIO
	KindCanceled
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnect:
		return "connect"
	case KindTLS:
		return "tls"
	case KindTimeout:
		return "timeout"
	case KindIO:
		return "io"
	case KindCanceled:
		return "canceled"
	}
	return "unknown"
}

// TransportError is a socket level failure. Code is the OS error number or
// -1 when none is available; Encrypted reports whether TLS was established
// before the failure. Expired is set when a deadline ran out, in any phase.
type TransportError struct {
	Kind      ErrorKind
	Context   string
	Code      int
	Msg       string
	Encrypted bool
	Expired   bool
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s; socket_error=%d; socket_error_string=%s; encrypted=%t", e.Context, e.Code, e.Msg, e.Encrypted)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a read or write deadline on an
// established session. Connect and handshake deadlines keep their kind.
func (e *TransportError) Timeout() bool { return e.Kind == KindTimeout }

// newTransportError classifies err. A cancelled ctx always wins over the
// kind the caller guessed, since cancellation is delivered as a deadline.
// A deadline during connect or the TLS handshake stays KindConnect/KindTLS.
func newTransportError(ctx context.Context, kind ErrorKind, what string, err error, encrypted bool) *TransportError {
	te := &TransportError{Kind: kind, Context: what, Code: -1, Encrypted: encrypted, Err: err}
	if err != nil {
		te.Msg = err.Error()
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		te.Code = int(errno)
		te.Msg = errno.Error()
	}
	var ne net.Error
	switch {
	case ctx != nil && ctx.Err() != nil:
		te.Kind = KindCanceled
		te.Err = errors.Join(ctx.Err(), err)
	case errors.As(err, &ne) && ne.Timeout():
		te.Expired = true
		if kind != KindConnect && kind != KindTLS {
			te.Kind = KindTimeout
		}
	}
	return te
}

// isTimeout reports whether err is a transport deadline expiry.
func isTimeout(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Kind == KindTimeout
}

// ProtocolError is a tagged NO/BAD completion or a reply missing its
// expected shape.
type ProtocolError struct {
	Command string
	Tag     string
	Status  string
	Text    string
}

func (e *ProtocolError) Error() string {
	if e.Status == "" {
		return fmt.Sprintf("%s failed: %s", e.Command, e.Text)
	}
	return fmt.Sprintf("%s failed: %s %s", e.Command, e.Status, e.Text)
}

// Authentication failure reasons.
const (
	ReasonInvalidShape        = "xoauth2-invalid-shape"
	ReasonMissingContinuation = "xoauth2-missing-continuation"
	ReasonXOAuth2Rejected     = "imap-auth-xoauth2-rejected"
	ReasonXOAuth2Failed       = "imap-auth-xoauth2-failed"
	ReasonLoginFailed         = "imap-login-failed"
)

// AuthError is an authentication failure. Diagnostic is set for XOAUTH2.
type AuthError struct {
	Mechanism  string
	Reason     string
	Diagnostic *AuthDiagnostic
	Err        error
}

func (e *AuthError) Error() string {
	msg := e.Reason
	if e.Diagnostic != nil {
		msg += ": " + e.Diagnostic.String()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error { return e.Err }

var (
	// ErrNoFolders is returned when LIST succeeded but produced no mailboxes.
	ErrNoFolders = errors.New("no folders returned")
	// ErrNoLiteral means a FETCH reply carried no BODY[] literal.
	ErrNoLiteral = errors.New("fetch reply has no body literal")
	// ErrShortLiteral means fewer bytes arrived than the literal declared.
	ErrShortLiteral = errors.New("fetch body literal is short")
	// ErrClosed is returned by operations on a closed connection.
	ErrClosed = errors.New("connection closed")
)
