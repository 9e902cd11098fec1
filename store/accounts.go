package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Account is a mirrored mail account.
type Account struct {
	ID            int64  `db:"id"`
	Email         string `db:"email"`
	Provider      string `db:"provider"`
	IMAPHost      string `db:"imap_host"`
	IMAPPort      int    `db:"imap_port"`
	TLSMode       string `db:"tls_mode"`
	AuthMethod    string `db:"auth_method"`
	CredentialRef string `db:"credential_ref"`
	Status        string `db:"status"`
	SyncState     string `db:"sync_state"`
	CreatedAt     string `db:"created_at"`
}

// Folder is a mirrored mailbox.
type Folder struct {
	ID          int64  `db:"id"`
	AccountID   int64  `db:"account_id"`
	RemoteName  string `db:"remote_name"`
	DisplayName string `db:"display_name"`
	Delimiter   string `db:"delimiter"`
	AttrsJSON   string `db:"attrs_json"`
	SpecialUse  string `db:"special_use"`
	SyncState   string `db:"sync_state"`
	CreatedAt   string `db:"created_at"`
}

// AccountFolderContext is everything a sync needs about one folder.
type AccountFolderContext struct {
	Provider      string `db:"provider"`
	Email         string `db:"email"`
	IMAPHost      string `db:"imap_host"`
	IMAPPort      int    `db:"imap_port"`
	TLSMode       string `db:"tls_mode"`
	CredentialRef string `db:"credential_ref"`
	AuthMethod    string `db:"auth_method"`
	RemoteName    string `db:"remote_name"`
}

// TLS reports whether the account connects over implicit TLS.
func (c AccountFolderContext) TLS() bool { return strings.EqualFold(c.TLSMode, "TLS") }

// MirrorInput is a resolved account to persist.
type MirrorInput struct {
	Email         string
	Provider      string
	IMAPHost      string
	IMAPPort      int
	TLS           bool
	AuthMethod    string
	CredentialRef string
	Folders       []Folder
}

// TLSMode returns the stored form of tls.
func TLSMode(tls bool) string {
	if tls {
		return "TLS"
	}
	return "PLAIN"
}

// GetAccountFolderContext loads the connection details of accountID and
// the remote name of folderID.
func (s *DB) GetAccountFolderContext(ctx context.Context, accountID, folderID int64) (*AccountFolderContext, error) {
	var c AccountFolderContext
	err := s.db.GetContext(ctx, &c, `
		SELECT a.provider, a.email, a.imap_host, a.imap_port, a.tls_mode,
		       a.credential_ref, a.auth_method, f.remote_name
		FROM accounts a JOIN folders f ON f.account_id = a.id
		WHERE a.id = ? AND f.id = ?`, accountID, folderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %d folder %d: %w", accountID, folderID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading account folder context: %w", err)
	}
	return &c, nil
}

// MirrorAccount upserts the account by email and its folders by remote
// name in one transaction. Folders no longer present are removed along
// with their messages.
func (s *DB) MirrorAccount(ctx context.Context, in MirrorInput) (int64, error) {
	provider := strings.TrimSpace(in.Provider)
	if provider == "" {
		provider = "imap"
	}
	now := s.timestamp()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var accountID int64
	err = tx.GetContext(ctx, &accountID, `
		INSERT INTO accounts (email, provider, imap_host, imap_port, tls_mode, auth_method, credential_ref, status, sync_state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'RESOLVED', '', ?)
		ON CONFLICT(email) DO UPDATE SET
			provider = excluded.provider, imap_host = excluded.imap_host, imap_port = excluded.imap_port,
			tls_mode = excluded.tls_mode, auth_method = excluded.auth_method,
			credential_ref = excluded.credential_ref, status = 'RESOLVED'
		RETURNING id`,
		in.Email, provider, in.IMAPHost, in.IMAPPort, TLSMode(in.TLS), in.AuthMethod, in.CredentialRef, now)
	if err != nil {
		return 0, fmt.Errorf("upserting account %s: %w", in.Email, err)
	}

	keep := make([]any, 0, len(in.Folders)+1)
	keep = append(keep, accountID)
	for _, f := range in.Folders {
		delim := f.Delimiter
		if delim == "" {
			delim = "/"
		}
		attrs := f.AttrsJSON
		if attrs == "" {
			attrs = `{"attrs":[]}`
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO folders (account_id, remote_name, display_name, delimiter, attrs_json, special_use, sync_state, created_at)
			VALUES (?, ?, ?, ?, ?, ?, '', ?)
			ON CONFLICT(account_id, remote_name) DO UPDATE SET
				display_name = excluded.display_name, delimiter = excluded.delimiter,
				attrs_json = excluded.attrs_json, special_use = excluded.special_use`,
			accountID, f.RemoteName, f.DisplayName, delim, attrs, f.SpecialUse, now)
		if err != nil {
			return 0, fmt.Errorf("upserting folder %s: %w", f.RemoteName, err)
		}
		keep = append(keep, f.RemoteName)
	}

	query := "DELETE FROM folders WHERE account_id = ?"
	if len(in.Folders) > 0 {
		query += " AND remote_name NOT IN (?" + strings.Repeat(", ?", len(in.Folders)-1) + ")"
	}
	if _, err := tx.ExecContext(ctx, query, keep...); err != nil {
		return 0, fmt.Errorf("pruning folders: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing mirror: %w", err)
	}
	return accountID, nil
}

// ListAccounts returns every account ordered by email.
func (s *DB) ListAccounts(ctx context.Context) ([]Account, error) {
	var out []Account
	if err := s.db.SelectContext(ctx, &out, "SELECT * FROM accounts ORDER BY email"); err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	return out, nil
}

// ListFolders returns the folders of accountID ordered by remote name.
func (s *DB) ListFolders(ctx context.Context, accountID int64) ([]Folder, error) {
	var out []Folder
	err := s.db.SelectContext(ctx, &out, "SELECT * FROM folders WHERE account_id = ? ORDER BY remote_name", accountID)
	if err != nil {
		return nil, fmt.Errorf("listing folders of account %d: %w", accountID, err)
	}
	return out, nil
}
