package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// OAuthToken is a stored token set with the client that obtained it.
type OAuthToken struct {
	Provider     string `db:"provider"`
	Email        string `db:"email"`
	RefreshToken string `db:"refresh_token"`
	AccessToken  string `db:"access_token"`
	ExpiresAtUTC int64  `db:"expires_at_utc"`
	ClientID     string `db:"client_id"`
	ClientSecret string `db:"client_secret"`
}

// ExpiresAt returns the access token expiry.
func (t OAuthToken) ExpiresAt() time.Time { return time.Unix(t.ExpiresAtUTC, 0).UTC() }

// BasicCredential is a stored username and password.
type BasicCredential struct {
	Provider string `db:"provider"`
	Email    string `db:"email"`
	Username string `db:"username"`
	Secret   string `db:"secret"`
}

const tokenColumns = "provider, email, refresh_token, access_token, expires_at_utc, client_id, client_secret"

// GetOAuthToken returns the token of provider and email.
func (s *DB) GetOAuthToken(ctx context.Context, provider, email string) (*OAuthToken, error) {
	var t OAuthToken
	err := s.db.GetContext(ctx, &t, "SELECT "+tokenColumns+" FROM oauth_tokens WHERE provider = ? AND email = ?",
		strings.TrimSpace(provider), strings.TrimSpace(email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("oauth token %s/%s: %w", provider, email, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading oauth token: %w", err)
	}
	return &t, nil
}

// LatestOAuthTokenByEmail returns the most recently updated token of
// email under any provider.
func (s *DB) LatestOAuthTokenByEmail(ctx context.Context, email string) (*OAuthToken, error) {
	var t OAuthToken
	err := s.db.GetContext(ctx, &t, "SELECT "+tokenColumns+" FROM oauth_tokens WHERE email = ? ORDER BY updated_at_utc DESC, id DESC LIMIT 1",
		strings.TrimSpace(email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("oauth token for %s: %w", email, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading oauth token: %w", err)
	}
	return &t, nil
}

// PutOAuthToken inserts or replaces the token of t.Provider and t.Email.
func (s *DB) PutOAuthToken(ctx context.Context, t OAuthToken) error {
	now := s.now().UTC().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO oauth_tokens (`+tokenColumns+`, created_at_utc, updated_at_utc)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider, email) DO UPDATE SET
			refresh_token = excluded.refresh_token, access_token = excluded.access_token,
			expires_at_utc = excluded.expires_at_utc, client_id = excluded.client_id,
			client_secret = excluded.client_secret, updated_at_utc = excluded.updated_at_utc`,
		t.Provider, t.Email, t.RefreshToken, t.AccessToken, t.ExpiresAtUTC, t.ClientID, t.ClientSecret, now, now)
	if err != nil {
		return fmt.Errorf("storing oauth token %s/%s: %w", t.Provider, t.Email, err)
	}
	return nil
}

// UpdateAccessToken records a refreshed access token.
func (s *DB) UpdateAccessToken(ctx context.Context, provider, email, accessToken string, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE oauth_tokens SET access_token = ?, expires_at_utc = ?, updated_at_utc = ?
		WHERE provider = ? AND email = ?`,
		accessToken, expiresAt.UTC().Unix(), s.now().UTC().Unix(), provider, email)
	if err != nil {
		return fmt.Errorf("updating access token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("oauth token %s/%s: %w", provider, email, ErrNotFound)
	}
	return nil
}

// GetBasicCredentials returns the stored credentials of provider and email.
func (s *DB) GetBasicCredentials(ctx context.Context, provider, email string) (*BasicCredential, error) {
	var c BasicCredential
	err := s.db.GetContext(ctx, &c, "SELECT provider, email, username, secret FROM basic_credentials WHERE provider = ? AND email = ?",
		strings.TrimSpace(provider), strings.TrimSpace(email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("basic credentials %s/%s: %w", provider, email, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading basic credentials: %w", err)
	}
	return &c, nil
}

// PutBasicCredentials inserts or replaces credentials.
func (s *DB) PutBasicCredentials(ctx context.Context, c BasicCredential) error {
	now := s.now().UTC().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO basic_credentials (provider, email, username, secret, created_at_utc, updated_at_utc)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider, email) DO UPDATE SET
			username = excluded.username, secret = excluded.secret, updated_at_utc = excluded.updated_at_utc`,
		c.Provider, c.Email, c.Username, c.Secret, now, now)
	if err != nil {
		return fmt.Errorf("storing basic credentials %s/%s: %w", c.Provider, c.Email, err)
	}
	return nil
}

// ProviderClientCredentials returns the OAuth client registered for
// provider.
func (s *DB) ProviderClientCredentials(ctx context.Context, provider string) (clientID, clientSecret string, err error) {
	var row struct {
		ClientID     string `db:"client_id"`
		ClientSecret string `db:"client_secret"`
	}
	err = s.db.GetContext(ctx, &row, "SELECT client_id, client_secret FROM provider_clients WHERE provider = ?", provider)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", fmt.Errorf("provider client %s: %w", provider, ErrNotFound)
	}
	if err != nil {
		return "", "", fmt.Errorf("loading provider client: %w", err)
	}
	return row.ClientID, row.ClientSecret, nil
}

// PutProviderClient stores the OAuth client of provider.
func (s *DB) PutProviderClient(ctx context.Context, provider, clientID, clientSecret string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provider_clients (provider, client_id, client_secret, updated_at_utc) VALUES (?, ?, ?, ?)
		ON CONFLICT(provider) DO UPDATE SET
			client_id = excluded.client_id, client_secret = excluded.client_secret, updated_at_utc = excluded.updated_at_utc`,
		provider, clientID, clientSecret, s.now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("storing provider client %s: %w", provider, err)
	}
	return nil
}
