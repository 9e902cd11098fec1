package oauth

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCallbackTimeout is returned when no browser redirect arrives in time.
	ErrCallbackTimeout = errors.New("oauth-timeout")
	// ErrMissingAccessToken is returned when the token endpoint omits access_token.
	ErrMissingAccessToken = errors.New("missing-access-token")
	// ErrMissingRefreshToken is returned when a code exchange omits
	// refresh_token, or a refresh is attempted without one.
	ErrMissingRefreshToken = errors.New("missing-refresh-token")
)

// ConfigError is a validation failure detected before any network I/O.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return e.Reason }

// MissingTLSCertError reports absent or unreadable loopback TLS material.
type MissingTLSCertError struct {
	CertPath string
	KeyPath  string
	Err      error
}

func (e *MissingTLSCertError) Error() string {
	return strings.Join([]string{
		"missing_tls_cert",
		"CERT_PATH=" + e.CertPath,
		"KEY_PATH=" + e.KeyPath,
		"openssl req -x509 -newkey rsa:2048 -nodes \\",
		"  -keyout " + e.KeyPath + " \\",
		"  -out " + e.CertPath + " \\",
		"  -days 365 \\",
		`  -subj "/CN=localhost"`,
	}, "\n")
}

func (e *MissingTLSCertError) Unwrap() error { return e.Err }

// CallbackError is a failed or malformed browser redirect.
type CallbackError struct {
	Reason string
	Err    error
}

func (e *CallbackError) Error() string { return e.Reason }

func (e *CallbackError) Unwrap() error { return e.Err }

// TokenError is a failed token endpoint call.
type TokenError struct {
	HTTPStatus  int
	Code        string
	Description string
	// ParseErr is set when the body was not a JSON object.
	ParseErr error
	Raw      string
}

func (e *TokenError) Error() string {
	if e.ParseErr != nil {
		return fmt.Sprintf("token-json-parse-failed http=%d err=%v raw=%s", e.HTTPStatus, e.ParseErr, e.Raw)
	}
	s := fmt.Sprintf("token-http-failed http=%d", e.HTTPStatus)
	if e.Code != "" {
		s += " error=" + e.Code
	}
	if e.Description != "" {
		s += " desc=" + e.Description
	}
	return s
}

func (e *TokenError) Unwrap() error { return e.ParseErr }
