package mailsync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	imap "github.com/ngksmail/go-imapsync"
	"github.com/ngksmail/go-imapsync/internal/credential"
	"github.com/ngksmail/go-imapsync/provider"
	"github.com/ngksmail/go-imapsync/store"
)

// refreshSkew is how close to expiry a stored access token is refreshed.
const refreshSkew = 60 // seconds

// resolveCredentials picks the IMAP credentials of an account: a stored
// OAuth token when the account prefers bearer auth, stored or keyring
// basic credentials otherwise, and OAuth again for providers that allow
// the fallback. When nothing works the basic error leads, joined with the
// OAuth one.
func (e *Engine) resolveCredentials(ctx context.Context, ac *store.AccountFolderContext) (imap.Credentials, error) {
	ref := credential.ParseRef(ac.CredentialRef)
	preferOAuth := strings.EqualFold(ac.AuthMethod, "XOAUTH2") || ref.IsOAuth()

	var oauthErr error
	if preferOAuth {
		creds, err := e.resolveOAuth(ctx, ac, ref)
		if err == nil {
			return creds, nil
		}
		e.logger().Debug("oauth credentials unavailable, trying basic", "email", ac.Email, "error", err)
		oauthErr = err
	}

	creds, basicErr := e.resolveBasic(ctx, ac, ref)
	if basicErr == nil {
		return creds, nil
	}
	if oauthErr == nil {
		id, _ := provider.Parse(ac.Provider)
		if p, ok := provider.Lookup(id); ok && p.OAuthFallback {
			creds, err := e.resolveOAuth(ctx, ac, ref)
			if err == nil {
				return creds, nil
			}
			e.logger().Debug("oauth fallback failed", "email", ac.Email, "error", err)
			oauthErr = err
		}
	}
	if oauthErr != nil {
		return imap.Credentials{}, fmt.Errorf("%w; oauth: %w", basicErr, oauthErr)
	}
	return imap.Credentials{}, basicErr
}

func (e *Engine) resolveOAuth(ctx context.Context, ac *store.AccountFolderContext, ref credential.Ref) (imap.Credentials, error) {
	queryProvider, queryEmail := ac.Provider, ac.Email
	if ref.Kind == credential.RefOAuthTokens && ref.Provider != "" && ref.Email != "" {
		queryProvider, queryEmail = ref.Provider, ref.Email
	}

	tok, err := e.DB.GetOAuthToken(ctx, queryProvider, queryEmail)
	if errors.Is(err, store.ErrNotFound) {
		tok, err = e.DB.LatestOAuthTokenByEmail(ctx, queryEmail)
	}
	if errors.Is(err, store.ErrNotFound) {
		return imap.Credentials{}, fmt.Errorf("%s: %w", queryEmail, ErrMissingOAuthTokens)
	}
	if err != nil {
		return imap.Credentials{}, err
	}

	access := strings.TrimSpace(tok.AccessToken)
	if access == "" || tok.ExpiresAtUTC-e.now().Unix() <= refreshSkew {
		refreshed, err := e.refresh(ctx, tok)
		switch {
		case err == nil:
			access = refreshed
		case access != "":
			e.logger().Warn("token refresh failed, using stored access token",
				"provider", tok.Provider, "email", tok.Email, "error", err)
		default:
			return imap.Credentials{}, err
		}
	}
	if access == "" {
		return imap.Credentials{}, ErrEmptyAccessToken
	}
	return imap.Credentials{UseBearer: true, Username: tok.Email, AccessToken: access}, nil
}

// refresh runs the refresh grant for tok and persists the new access
// token.
func (e *Engine) refresh(ctx context.Context, tok *store.OAuthToken) (string, error) {
	if strings.TrimSpace(tok.RefreshToken) == "" {
		return "", ErrMissingRefreshToken
	}
	id, err := provider.Parse(tok.Provider)
	if err != nil || !provider.IsOAuth(id) {
		return "", fmt.Errorf("%s: %w", tok.Provider, ErrUnsupportedOAuthProvider)
	}
	if e.Broker == nil {
		return "", fmt.Errorf("no oauth broker configured")
	}

	client, err := e.clientFor(ctx, id, tok)
	if err != nil {
		return "", err
	}
	cfg, err := provider.OAuthConfig(id, tok.Email, client, provider.Loopback{})
	if err != nil {
		return "", fmt.Errorf("%s: %w", tok.Provider, ErrUnsupportedOAuthProvider)
	}
	res, err := e.Broker.RefreshAccessToken(ctx, cfg, tok.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("refreshing %s token for %s: %w", tok.Provider, tok.Email, err)
	}
	if err := e.DB.UpdateAccessToken(ctx, tok.Provider, tok.Email, res.AccessToken, res.ExpiresAt); err != nil {
		e.logger().Warn("failed to persist refreshed token", "provider", tok.Provider, "email", tok.Email, "error", err)
	}
	return res.AccessToken, nil
}

// clientFor returns the OAuth client of a token: the one stored with it,
// then Engine.Clients, then the provider_clients table.
func (e *Engine) clientFor(ctx context.Context, id provider.ID, tok *store.OAuthToken) (provider.ClientCredentials, error) {
	c := provider.ClientCredentials{ClientID: tok.ClientID, ClientSecret: tok.ClientSecret}
	if e.Clients != nil {
		c = c.Merge(e.Clients(id))
	}
	if c.ClientID == "" {
		cid, secret, err := e.DB.ProviderClientCredentials(ctx, string(id))
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return c, err
		}
		c = c.Merge(provider.ClientCredentials{ClientID: cid, ClientSecret: secret})
	}
	return c, nil
}

func (e *Engine) resolveBasic(ctx context.Context, ac *store.AccountFolderContext, ref credential.Ref) (imap.Credentials, error) {
	switch ref.Kind {
	case credential.RefGenericEnv:
		if bc, err := e.DB.GetBasicCredentials(ctx, ac.Provider, ac.Email); err == nil && bc.Username != "" && bc.Secret != "" {
			return imap.Credentials{Username: bc.Username, Password: bc.Secret}, nil
		}
		p, _ := provider.Lookup(provider.GenericIMAP)
		user := strings.TrimSpace(e.getenv(p.Env("username")))
		pass := e.getenv(p.Env("password"))
		if user == "" {
			user = ac.Email
		}
		if pass == "" {
			return imap.Credentials{}, ErrMissingEnvCredentials
		}
		return imap.Credentials{Username: user, Password: pass}, nil

	case credential.RefKeyring:
		if e.Ring == nil || ref.Key == "" {
			return imap.Credentials{}, fmt.Errorf("%s: %w", ref.Raw, ErrMissingBasicCredentials)
		}
		user, pass, err := e.Ring.Login(ref.Key)
		if errors.Is(err, credential.ErrNotFound) {
			return imap.Credentials{}, fmt.Errorf("%s: %w", ref.Raw, ErrMissingBasicCredentials)
		}
		if err != nil {
			return imap.Credentials{}, err
		}
		if user == "" {
			user = ac.Email
		}
		if pass == "" {
			return imap.Credentials{}, ErrEmptyBasicCredentials
		}
		return imap.Credentials{Username: user, Password: pass}, nil
	}

	queryProvider, queryEmail := ac.Provider, ac.Email
	if ref.Kind == credential.RefBasic && ref.Provider != "" && ref.Email != "" {
		queryProvider, queryEmail = ref.Provider, ref.Email
	}
	bc, err := e.DB.GetBasicCredentials(ctx, queryProvider, queryEmail)
	if errors.Is(err, store.ErrNotFound) {
		return imap.Credentials{}, fmt.Errorf("%s: %w", queryEmail, ErrMissingBasicCredentials)
	}
	if err != nil {
		return imap.Credentials{}, err
	}
	if strings.TrimSpace(bc.Username) == "" || bc.Secret == "" {
		return imap.Credentials{}, ErrEmptyBasicCredentials
	}
	return imap.Credentials{Username: bc.Username, Password: bc.Secret}, nil
}
