package provider

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ngksmail/go-imapsync/oauth"
)

// Loopback carries the redirect listener settings shared by every
// provider.
type Loopback struct {
	ListenPort     int
	ListenHTTPS    bool
	RedirectScheme string
	RedirectHost   string
	CertPath       string
	KeyPath        string
	Timeout        time.Duration
	ProofDir       string
}

// ClientCredentials are the registered OAuth client of a provider.
type ClientCredentials struct {
	ClientID     string
	ClientSecret string
}

// EnvClient reads <prefix>CLIENT_ID and <prefix>CLIENT_SECRET.
func (p Profile) EnvClient() ClientCredentials {
	return ClientCredentials{
		ClientID:     strings.TrimSpace(os.Getenv(p.Env("client_id"))),
		ClientSecret: strings.TrimSpace(os.Getenv(p.Env("client_secret"))),
	}
}

// Merge fills empty fields of c from other.
func (c ClientCredentials) Merge(other ClientCredentials) ClientCredentials {
	if c.ClientID == "" {
		c.ClientID = other.ClientID
	}
	if c.ClientSecret == "" {
		c.ClientSecret = other.ClientSecret
	}
	return c
}

// OAuthConfig builds the broker configuration for email on provider id.
func OAuthConfig(id ID, email string, client ClientCredentials, lb Loopback) (oauth.Config, error) {
	p, ok := table[id]
	if !ok || p.AuthType != OAuthPKCE {
		return oauth.Config{}, fmt.Errorf("provider %q does not use oauth", id)
	}
	scheme := lb.RedirectScheme
	if scheme == "" {
		scheme = "http"
		if lb.ListenHTTPS {
			scheme = "https"
		}
	}
	host := lb.RedirectHost
	if host == "" {
		host = "127.0.0.1"
		if lb.ListenHTTPS {
			host = "localhost"
		}
	}
	return oauth.Config{
		Provider:         string(id),
		Email:            strings.TrimSpace(email),
		ClientID:         client.ClientID,
		ClientSecret:     client.ClientSecret,
		Endpoint:         p.Endpoint,
		Scopes:           p.Scopes,
		ListenPort:       lb.ListenPort,
		ListenHTTPS:      lb.ListenHTTPS,
		RedirectScheme:   scheme,
		RedirectHost:     host,
		CertPath:         lb.CertPath,
		KeyPath:          lb.KeyPath,
		Timeout:          lb.Timeout,
		SendClientSecret: p.SendClientSecret,
		IncludeScope:     p.IncludeScopeInExchange,
		ProofDir:         lb.ProofDir,
	}, nil
}
