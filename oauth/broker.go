// Package oauth runs the OAuth2 authorization-code flow with PKCE against
// a browser redirect captured on a loopback HTTP(S) listener, and
// refreshes access tokens.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ngksmail/go-imapsync/internal/audit"
	"github.com/pkg/browser"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
)

// Result is a token set. Secrets never reach the proof trail.
type Result struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Token converts r to an *oauth2.Token.
func (r *Result) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       r.ExpiresAt,
	}
}

// Broker runs authorization flows. The zero value is not usable; call
// NewBroker.
type Broker struct {
	// HTTPClient posts to token endpoints.
	HTTPClient *http.Client
	// OpenBrowser opens the authorization URL.
	OpenBrowser func(url string) error
	Logger      *slog.Logger
	Now         func() time.Time

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBroker returns a Broker that opens the system browser.
func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		HTTPClient:  &http.Client{Timeout: 30 * time.Second},
		OpenBrowser: browser.OpenURL,
		Logger:      logger.With("component", "oauth"),
		Now:         time.Now,
		breakers:    make(map[string]*gobreaker.CircuitBreaker),
	}
}

func randomURLSafe(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ConnectAndFetchTokens runs the interactive flow and returns the tokens
// and the proof trail path. No partial token set is ever returned.
func (b *Broker) ConnectAndFetchTokens(ctx context.Context, cfg Config) (*Result, string, error) {
	now := b.Now()
	var proof *audit.Proof
	if cfg.ProofDir != "" {
		p, err := audit.NewProof(cfg.ProofDir, "30_oauth_connect_"+cfg.Provider, now)
		if err != nil {
			b.Logger.Warn("proof trail disabled", "error", err)
		} else {
			proof = p
			defer proof.Close()
		}
	}
	fail := func(err error) (*Result, string, error) {
		proof.Set("ERROR", err.Error())
		b.Logger.Warn("oauth connect failed", "provider", cfg.Provider, "error", err)
		return nil, proof.Path(), err
	}

	proof.Line("=== 30 OAUTH CONNECT ===")
	proof.Set("TIMESTAMP_UTC", now.UTC().Format("2006-01-02T15:04:05.000Z"))
	proof.Set("PROVIDER", cfg.Provider)
	proof.Set("EMAIL", cfg.Email)
	proof.Set("SCOPE", cfg.Scope())

	if err := cfg.validate(); err != nil {
		return fail(err)
	}
	var tlsMaterial *tlsPair
	if cfg.ListenHTTPS {
		pair, err := loadTLS(cfg)
		if err != nil {
			return fail(err)
		}
		tlsMaterial = pair
	}

	ln, err := listen(cfg.ListenPort)
	if err != nil {
		return fail(err)
	}
	defer ln.Close()
	redirectURI := cfg.RedirectURI(ln.Port())
	proof.Set("REDIRECT_URI", redirectURI)

	verifier, err := randomURLSafe(48)
	if err != nil {
		return fail(err)
	}
	state, err := randomURLSafe(16)
	if err != nil {
		return fail(err)
	}

	proof.Set("AUTH_URL_OPENED", "yes")
	if err := b.OpenBrowser(cfg.AuthURL(redirectURI, state, verifier)); err != nil {
		// the user can still paste the URL from the log
		b.Logger.Warn("could not open browser", "error", err)
	}

	cb, err := ln.Wait(ctx, cfg.timeout(), tlsMaterial, state)
	if cb != nil {
		proof.Set("OAUTH_HTTP_FIRSTLINE", cb.FirstLine)
		if cb.Code == "" {
			proof.Set("OAUTH_CODE", "EMPTY")
		} else {
			proof.Set("OAUTH_CODE", "RECEIVED")
		}
	}
	if err != nil {
		if errors.Is(err, ErrCallbackTimeout) {
			proof.Set("OAUTH_WAIT", "timeout")
		}
		return fail(err)
	}

	opts := []oauth2.AuthCodeOption{oauth2.VerifierOption(verifier)}
	if cfg.IncludeScope && cfg.Scope() != "" {
		opts = append(opts, oauth2.SetAuthURLParam("scope", cfg.Scope()))
	}
	oc := tokenConfig(cfg, redirectURI, cfg.SendClientSecret)
	tok, err := b.retrieve(ctx, cfg.Endpoint.TokenURL, func(ctx context.Context) (*oauth2.Token, error) {
		return oc.Exchange(ctx, cb.Code, opts...)
	})
	if errors.Is(err, ErrMissingAccessToken) {
		return fail(err)
	}
	if err != nil {
		proof.Set("ERROR", "token-exchange-failed")
		proof.Set("DETAIL", err.Error())
		return nil, proof.Path(), err
	}
	if tok.RefreshToken == "" {
		proof.Set("ERROR", ErrMissingRefreshToken.Error())
		proof.Set("HINT", "Remove the app's access in the provider account and retry; prompt=consent should force a refresh token.")
		return nil, proof.Path(), ErrMissingRefreshToken
	}

	res := &Result{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    b.expiry(expiresIn(tok)),
	}
	proof.Set("TOKEN_OK", "yes")
	proof.Set("ACCESS_TOKEN_PRESENT", "yes")
	proof.Set("REFRESH_TOKEN_PRESENT", "yes")
	proof.Set("EXPIRES_AT_UTC", strconv.FormatInt(res.ExpiresAt.Unix(), 10))
	b.Logger.Info("oauth connect succeeded", "provider", cfg.Provider, "email", cfg.Email, "expires_at", res.ExpiresAt)
	return res, proof.Path(), nil
}

// RefreshAccessToken runs the refresh_token grant. The returned result
// keeps refreshToken.
func (b *Broker) RefreshAccessToken(ctx context.Context, cfg Config, refreshToken string) (*Result, error) {
	if cfg.ClientID == "" {
		return nil, &ConfigError{Reason: "missing-client-id"}
	}
	if refreshToken == "" {
		return nil, ErrMissingRefreshToken
	}
	oc := tokenConfig(cfg, "", true)
	tok, err := b.retrieve(ctx, cfg.Endpoint.TokenURL, func(ctx context.Context) (*oauth2.Token, error) {
		return oc.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	})
	if err != nil {
		return nil, err
	}
	b.Logger.Debug("access token refreshed", "provider", cfg.Provider, "email", cfg.Email)
	return &Result{
		AccessToken:  tok.AccessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    b.expiry(expiresIn(tok)),
	}, nil
}

// SelfTest validates cfg, loads TLS material when HTTPS is configured and
// binds the listener once, returning the redirect URI that would be used.
func (b *Broker) SelfTest(cfg Config) (string, error) {
	if err := cfg.ValidateLoopback(); err != nil {
		return "", err
	}
	if cfg.ListenHTTPS {
		if _, err := loadTLS(cfg); err != nil {
			return "", err
		}
	}
	ln, err := listen(cfg.ListenPort)
	if err != nil {
		return "", err
	}
	defer ln.Close()
	return cfg.RedirectURI(ln.Port()), nil
}

// expiresIn is the token lifetime in seconds. Form-encoded replies only
// carry it as an absolute expiry.
func expiresIn(tok *oauth2.Token) int64 {
	if tok.ExpiresIn == 0 && !tok.Expiry.IsZero() {
		return int64(time.Until(tok.Expiry).Round(time.Second) / time.Second)
	}
	return tok.ExpiresIn
}

func (b *Broker) expiry(secs int64) time.Time {
	return b.Now().UTC().Add(time.Duration(max(secs, 0)) * time.Second).Truncate(time.Second)
}
