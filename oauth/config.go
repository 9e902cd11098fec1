package oauth

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultTimeout bounds the wait for the browser redirect.
const DefaultTimeout = 180 * time.Second

// Config describes one authorization-code flow.
type Config struct {
	Provider     string
	Email        string
	ClientID     string
	ClientSecret string
	Endpoint     oauth2.Endpoint
	Scopes       []string

	// ListenPort 0 lets the OS pick a port. HTTPS requires a fixed port
	// since the redirect URI must be registered with the provider.
	ListenPort     int
	ListenHTTPS    bool
	RedirectScheme string
	RedirectHost   string
	CertPath       string
	KeyPath        string
	Timeout        time.Duration

	// SendClientSecret adds client_secret to the code exchange.
	SendClientSecret bool
	// IncludeScope adds scope to the code exchange.
	IncludeScope bool

	// ProofDir receives the proof trail; empty disables it.
	ProofDir string
}

// Scope returns the space separated scope list.
func (c Config) Scope() string { return strings.Join(c.Scopes, " ") }

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

// ValidateLoopback checks that the redirect scheme, host and port agree
// with ListenHTTPS.
func (c Config) ValidateLoopback() error {
	scheme := strings.ToLower(strings.TrimSpace(c.RedirectScheme))
	host := strings.ToLower(strings.TrimSpace(c.RedirectHost))

	if c.ListenHTTPS {
		switch {
		case scheme != "https":
			return &ConfigError{Reason: "invalid-https-config redirectScheme must be https"}
		case host != "localhost":
			return &ConfigError{Reason: "invalid-https-config redirectHost must be localhost"}
		case c.ListenPort <= 0:
			return &ConfigError{Reason: "invalid-https-config listenPort must be fixed and > 0"}
		}
	}
	if !c.ListenHTTPS && scheme != "http" {
		return &ConfigError{Reason: "invalid-http-config redirectScheme must be http"}
	}
	if host == "" {
		return &ConfigError{Reason: "invalid-redirect-host"}
	}
	return nil
}

// validate runs every check that needs no I/O.
func (c Config) validate() error {
	if err := c.ValidateLoopback(); err != nil {
		return err
	}
	if strings.TrimSpace(c.ClientID) == "" {
		return &ConfigError{Reason: "missing-client-id"}
	}
	if c.SendClientSecret && strings.TrimSpace(c.ClientSecret) == "" {
		return &ConfigError{Reason: "missing-client-secret"}
	}
	if c.Endpoint.AuthURL == "" || c.Endpoint.TokenURL == "" {
		return &ConfigError{Reason: "missing-oauth-endpoint"}
	}
	return nil
}

// RedirectURI returns scheme://host:port/callback.
func (c Config) RedirectURI(port int) string {
	scheme := strings.TrimSpace(c.RedirectScheme)
	if scheme == "" {
		scheme = "http"
	}
	host := strings.TrimSpace(c.RedirectHost)
	if host == "" {
		host = "127.0.0.1"
	}
	u := url.URL{Scheme: scheme, Host: net.JoinHostPort(host, strconv.Itoa(port)), Path: "/callback"}
	return u.String()
}

func (c Config) oauth2Config(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint:     c.Endpoint,
		RedirectURL:  redirectURI,
		Scopes:       c.Scopes,
	}
}

// AuthURL builds the authorization URL with PKCE, offline access and
// forced consent.
func (c Config) AuthURL(redirectURI, state, verifier string) string {
	return c.oauth2Config(redirectURI).AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.S256ChallengeOption(verifier),
	)
}

func (c Config) String() string {
	return fmt.Sprintf("provider=%s email=%s redirect=%s://%s https=%t", c.Provider, c.Email, c.RedirectScheme, c.RedirectHost, c.ListenHTTPS)
}
