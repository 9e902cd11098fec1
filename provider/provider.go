// Package provider holds the static table of supported mail providers:
// their authentication style, OAuth endpoints, default IMAP servers and
// the rules used to guess a provider from an email address.
package provider

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/oauth2"
)

// ID names a provider.
type ID string

const (
	Gmail            ID = "gmail"
	MSGraph          ID = "ms_graph"
	Yahoo            ID = "yahoo"
	ICloud           ID = "icloud"
	YahooAppPassword ID = "yahoo_app_password"
	GenericIMAP      ID = "generic_imap"
	// IMAP marks an account mirrored from a plain resolve.
	IMAP ID = "imap"
)

// ErrUnknown is returned by Parse for an unrecognised id.
var ErrUnknown = errors.New("unknown provider")

// AuthType is how a provider authenticates.
type AuthType int

const (
	Basic AuthType = iota
	OAuthPKCE
)

func (a AuthType) String() string {
	if a == OAuthPKCE {
		return "oauth_pkce"
	}
	return "basic"
}

// Mechanism is the IMAP authentication command used.
type Mechanism string

const (
	XOAUTH2 Mechanism = "XOAUTH2"
	LOGIN   Mechanism = "LOGIN"
)

// Discovery lists the rules that map an email domain to a provider.
type Discovery struct {
	ExplicitDomains []string
	DomainSuffixes  []string
	MXHints         []string
}

// Profile is one row of the provider table.
type Profile struct {
	ID          ID
	DisplayName string
	AuthType    AuthType
	Mechanism   Mechanism
	Endpoint    oauth2.Endpoint
	Scopes      []string
	IMAPHost    string
	IMAPPort    int
	Discovery   Discovery

	// SendClientSecret adds client_secret to the code exchange.
	SendClientSecret bool
	// IncludeScopeInExchange adds scope to the code exchange.
	IncludeScopeInExchange bool
	// OAuthFallback allows a stored OAuth token to be used when no basic
	// credentials are found.
	OAuthFallback bool
	// EnvPrefix prefixes the environment variables read for this provider.
	EnvPrefix string
}

var yahooDomains = []string{"yahoo.com", "ymail.com", "rocketmail.com"}

var table = map[ID]Profile{
	Gmail: {
		ID:          Gmail,
		DisplayName: "Gmail",
		AuthType:    OAuthPKCE,
		Mechanism:   XOAUTH2,
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://accounts.google.com/o/oauth2/v2/auth",
			TokenURL: "https://oauth2.googleapis.com/token",
		},
		Scopes:           []string{"https://mail.google.com/"},
		IMAPHost:         "imap.gmail.com",
		IMAPPort:         993,
		Discovery:        Discovery{ExplicitDomains: []string{"gmail.com", "googlemail.com"}, MXHints: []string{"google"}},
		SendClientSecret: true,
		OAuthFallback:    true,
		EnvPrefix:        "MAILCORE_GMAIL_",
	},
	MSGraph: {
		ID:          MSGraph,
		DisplayName: "Microsoft",
		AuthType:    OAuthPKCE,
		Mechanism:   XOAUTH2,
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://login.microsoftonline.com/common/oauth2/v2.0/authorize",
			TokenURL: "https://login.microsoftonline.com/common/oauth2/v2.0/token",
		},
		Scopes:   []string{"offline_access", "openid", "email", "IMAP.AccessAsUser.All", "SMTP.Send"},
		IMAPHost: "outlook.office365.com",
		IMAPPort: 993,
		Discovery: Discovery{
			ExplicitDomains: []string{"outlook.com", "hotmail.com", "live.com", "office365.com", "microsoft.com"},
			MXHints:         []string{"outlook", "office365", "microsoft"},
		},
		IncludeScopeInExchange: true,
		OAuthFallback:          true,
		EnvPrefix:              "MAILCORE_MS_",
	},
	Yahoo: {
		ID:          Yahoo,
		DisplayName: "Yahoo",
		AuthType:    OAuthPKCE,
		Mechanism:   XOAUTH2,
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://api.login.yahoo.com/oauth2/request_auth",
			TokenURL: "https://api.login.yahoo.com/oauth2/get_token",
		},
		Scopes:           []string{"mail-r", "mail-w", "openid", "offline_access"},
		IMAPHost:         "imap.mail.yahoo.com",
		IMAPPort:         993,
		Discovery:        Discovery{ExplicitDomains: yahooDomains, MXHints: []string{"yahoodns", "yahoodns.net", "yahoo"}},
		SendClientSecret: true,
		OAuthFallback:    true,
		EnvPrefix:        "MAILCORE_YAHOO_",
	},
	ICloud: {
		ID:          ICloud,
		DisplayName: "iCloud",
		AuthType:    Basic,
		Mechanism:   LOGIN,
		IMAPHost:    "imap.mail.me.com",
		IMAPPort:    993,
		Discovery:   Discovery{ExplicitDomains: []string{"icloud.com", "me.com", "mac.com"}},
		EnvPrefix:   "MAILCORE_ICLOUD_",
	},
	YahooAppPassword: {
		ID:          YahooAppPassword,
		DisplayName: "Yahoo (app password)",
		AuthType:    Basic,
		Mechanism:   LOGIN,
		IMAPHost:    "imap.mail.yahoo.com",
		IMAPPort:    993,
		Discovery:   Discovery{ExplicitDomains: yahooDomains},
		EnvPrefix:   "MAILCORE_YAHOO_",
	},
	GenericIMAP: {
		ID:          GenericIMAP,
		DisplayName: "IMAP",
		AuthType:    Basic,
		Mechanism:   LOGIN,
		IMAPPort:    993,
		EnvPrefix:   "MAILCORE_GENERIC_IMAP_",
	},
	IMAP: {
		ID:            IMAP,
		DisplayName:   "IMAP",
		AuthType:      Basic,
		Mechanism:     LOGIN,
		IMAPPort:      993,
		OAuthFallback: true,
		EnvPrefix:     "MAILCORE_GENERIC_IMAP_",
	},
}

// discoveryOrder fixes the precedence when domains overlap: OAuth first.
var discoveryOrder = []ID{Gmail, MSGraph, Yahoo, ICloud, YahooAppPassword}

// All returns every known id in table order.
func All() []ID {
	return []ID{Gmail, MSGraph, Yahoo, ICloud, YahooAppPassword, GenericIMAP, IMAP}
}

// Parse maps s to an ID, ignoring case and surrounding space.
func Parse(s string) (ID, error) {
	id := ID(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := table[id]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknown, s)
	}
	return id, nil
}

// Lookup returns the profile for id. Unknown ids yield the zero Profile
// and false.
func Lookup(id ID) (Profile, bool) {
	p, ok := table[id]
	return p, ok
}

// IsOAuth reports whether id authenticates with XOAUTH2.
func IsOAuth(id ID) bool {
	p, ok := table[id]
	return ok && p.AuthType == OAuthPKCE
}

// Discover guesses the provider of email from its domain. Matching is
// exact on ExplicitDomains or by suffix on DomainSuffixes, after IDNA
// normalisation.
func Discover(email string) (ID, bool) {
	domain := Domain(email)
	if domain == "" {
		return "", false
	}
	for _, id := range discoveryOrder {
		d := table[id].Discovery
		for _, e := range d.ExplicitDomains {
			if domain == e {
				return id, true
			}
		}
		for _, s := range d.DomainSuffixes {
			if strings.HasSuffix(domain, s) {
				return id, true
			}
		}
	}
	return "", false
}

// Domain returns the lower-case ASCII domain of email, or "".
func Domain(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at < 0 || at == len(email)-1 {
		return ""
	}
	domain := strings.TrimSuffix(strings.TrimSpace(email[at+1:]), ".")
	if ascii, err := idna.Lookup.ToASCII(domain); err == nil {
		domain = ascii
	}
	return strings.ToLower(domain)
}

// MatchMX reports whether any MX host contains one of the provider's hints.
func (p Profile) MatchMX(hosts []string) bool {
	for _, h := range hosts {
		h = strings.ToLower(h)
		for _, hint := range p.Discovery.MXHints {
			if strings.Contains(h, hint) {
				return true
			}
		}
	}
	return false
}

// Env returns the environment variable name for key under the provider's
// prefix, e.g. MAILCORE_GENERIC_IMAP_PASSWORD.
func (p Profile) Env(key string) string { return p.EnvPrefix + strings.ToUpper(key) }
