package credential

import (
	"fmt"
	"strings"
)

// RefKind classifies a credential reference.
type RefKind int

const (
	RefUnknown RefKind = iota
	// RefOAuthTokens is oauth_tokens:<provider>:<email>.
	RefOAuthTokens
	// RefOAuthDBRefresh is OAUTH_DB_REFRESH: the account's own token row.
	RefOAuthDBRefresh
	// RefBasic is basic_credentials:<provider>:<email>.
	RefBasic
	// RefGenericEnv is GENERIC_IMAP_ENV: stored credentials, then the
	// environment.
	RefGenericEnv
	// RefKeyring is keyring:<key>.
	RefKeyring
)

// Ref is a parsed credential reference.
type Ref struct {
	Kind     RefKind
	Provider string
	Email    string
	Key      string
	Raw      string
}

// ParseRef parses s. Prefixes and the bare markers are matched without
// regard to case. A reference with missing parts keeps its kind with
// empty fields, so callers fall back to the account's provider and email.
func ParseRef(s string) Ref {
	s = strings.TrimSpace(s)
	r := Ref{Raw: s}
	lower := strings.ToLower(s)
	switch {
	case lower == "oauth_db_refresh":
		r.Kind = RefOAuthDBRefresh
	case lower == "generic_imap_env":
		r.Kind = RefGenericEnv
	case strings.HasPrefix(lower, "oauth_tokens:"):
		r.Kind = RefOAuthTokens
		r.Provider, r.Email = splitPair(s[len("oauth_tokens:"):])
	case strings.HasPrefix(lower, "basic_credentials:"):
		r.Kind = RefBasic
		r.Provider, r.Email = splitPair(s[len("basic_credentials:"):])
	case strings.HasPrefix(lower, "keyring:"):
		r.Kind = RefKeyring
		r.Key = strings.TrimSpace(s[len("keyring:"):])
	}
	return r
}

func splitPair(s string) (provider, email string) {
	p, e, ok := strings.Cut(s, ":")
	if !ok {
		return "", ""
	}
	return strings.TrimSpace(p), strings.TrimSpace(e)
}

// OAuthRef formats oauth_tokens:<provider>:<email>.
func OAuthRef(provider, email string) string {
	return fmt.Sprintf("oauth_tokens:%s:%s", provider, email)
}

// BasicRef formats basic_credentials:<provider>:<email>.
func BasicRef(provider, email string) string {
	return fmt.Sprintf("basic_credentials:%s:%s", provider, email)
}

// IsOAuth reports whether r names a stored OAuth token.
func (r Ref) IsOAuth() bool { return r.Kind == RefOAuthTokens || r.Kind == RefOAuthDBRefresh }
