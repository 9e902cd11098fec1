package mailsync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	imap "github.com/ngksmail/go-imapsync"
	"github.com/ngksmail/go-imapsync/store"
)

// Mailbox serves mirrored accounts and their stored messages.
type Mailbox struct {
	DB     *store.DB
	Engine *Engine
	// Limit is the sync window of ListMessages with refresh.
	Limit  int
	Logger *slog.Logger
}

// ListAccounts returns every mirrored account.
func (m *Mailbox) ListAccounts(ctx context.Context) ([]store.Account, error) {
	return m.DB.ListAccounts(ctx)
}

// ListFolders returns the folders of an account.
func (m *Mailbox) ListFolders(ctx context.Context, accountID int64) ([]store.Folder, error) {
	if accountID <= 0 {
		return nil, ErrInvalidInput
	}
	return m.DB.ListFolders(ctx, accountID)
}

// ListMessages returns the stored messages of a folder, newest first. With
// refresh the folder is synced first; a failed sync is logged and the
// cached rows are returned.
func (m *Mailbox) ListMessages(ctx context.Context, accountID, folderID int64, refresh bool) ([]store.Message, error) {
	if accountID <= 0 || folderID <= 0 {
		return nil, ErrInvalidInput
	}
	if refresh && m.Engine != nil {
		limit := m.Limit
		if limit <= 0 {
			limit = DefaultLimit
		}
		if _, err := m.Engine.SyncFolder(ctx, accountID, folderID, limit); err != nil {
			m.logger().Warn("sync failed, serving cached messages",
				"account_id", accountID, "folder_id", folderID, "error", err)
		}
	}
	return m.DB.ListMessages(ctx, accountID, folderID)
}

// MarkRead sets the local read flag of a message.
func (m *Mailbox) MarkRead(ctx context.Context, messageID int64, read bool) error {
	if messageID <= 0 {
		return ErrInvalidInput
	}
	return m.DB.MarkRead(ctx, messageID, read)
}

// DeleteMessage removes a message from the local store.
func (m *Mailbox) DeleteMessage(ctx context.Context, messageID int64) error {
	if messageID <= 0 {
		return ErrInvalidInput
	}
	return m.DB.DeleteMessage(ctx, messageID)
}

func (m *Mailbox) logger() *slog.Logger {
	if m.Logger == nil {
		return slog.Default()
	}
	return m.Logger
}

// Mirror persists a resolved account and its folders. Folders keep their
// ids across mirrors; folders no longer listed are removed with their
// messages.
func Mirror(ctx context.Context, db *store.DB, req imap.ConnectRequest, providerID, credentialRef string, folders []imap.Folder) (int64, error) {
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Host == "" || req.Port <= 0 {
		return 0, fmt.Errorf("mirror %q: %w", email, ErrInvalidInput)
	}
	method := "PASSWORD"
	if req.Credentials.UseBearer {
		method = "XOAUTH2"
	}
	in := store.MirrorInput{
		Email:         email,
		Provider:      providerID,
		IMAPHost:      req.Host,
		IMAPPort:      req.Port,
		TLS:           req.TLS,
		AuthMethod:    method,
		CredentialRef: credentialRef,
		Folders:       make([]store.Folder, 0, len(folders)),
	}
	for _, f := range folders {
		in.Folders = append(in.Folders, store.Folder{
			RemoteName:  f.RemoteName,
			DisplayName: f.DisplayName,
			Delimiter:   f.Delimiter,
			AttrsJSON:   f.AttributesJSON(),
			SpecialUse:  f.SpecialUse.String(),
		})
	}
	return db.MirrorAccount(ctx, in)
}
