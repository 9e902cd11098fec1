package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Message is a stored message.
type Message struct {
	ID              int64  `db:"id"`
	AccountID       int64  `db:"account_id"`
	FolderID        int64  `db:"folder_id"`
	Provider        string `db:"provider"`
	RemoteUID       int64  `db:"remote_uid"`
	MessageID       string `db:"message_id_hdr"`
	From            string `db:"from_display"`
	Subject         string `db:"subject"`
	DateUTC         string `db:"date_utc"`
	BodyText        string `db:"body_text"`
	BodyHTML        string `db:"body_html"`
	AttachmentsJSON string `db:"attachments_json"`
	IsRead          bool   `db:"is_read"`
	CreatedAt       string `db:"created_at"`
}

// ListMessages returns the messages of a folder, newest first.
func (s *DB) ListMessages(ctx context.Context, accountID, folderID int64) ([]Message, error) {
	var out []Message
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM messages WHERE account_id = ? AND folder_id = ?
		ORDER BY date_utc DESC, remote_uid DESC`, accountID, folderID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	return out, nil
}

// CountMessages returns the number of stored messages in a folder.
func (s *DB) CountMessages(ctx context.Context, accountID, folderID int64) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM messages WHERE account_id = ? AND folder_id = ?", accountID, folderID)
	if err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return n, nil
}

// MarkRead sets the local read flag of a message.
func (s *DB) MarkRead(ctx context.Context, messageID int64, read bool) error {
	res, err := s.db.ExecContext(ctx, "UPDATE messages SET is_read = ? WHERE id = ?", boolToInt(read), messageID)
	if err != nil {
		return fmt.Errorf("marking message %d: %w", messageID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("message %d: %w", messageID, ErrNotFound)
	}
	return nil
}

// DeleteMessage removes a message locally.
func (s *DB) DeleteMessage(ctx context.Context, messageID int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE id = ?", messageID)
	if err != nil {
		return fmt.Errorf("deleting message %d: %w", messageID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("message %d: %w", messageID, ErrNotFound)
	}
	return nil
}

// SyncTx is the single transaction of one folder sync.
type SyncTx struct {
	tx        *sqlx.Tx
	stmt      *sqlx.Stmt
	db        *DB
	accountID int64
	folderID  int64
	provider  string
}

// BeginSync opens the sync transaction of a folder.
func (s *DB) BeginSync(ctx context.Context, accountID, folderID int64, provider string) (*SyncTx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning sync transaction: %w", err)
	}
	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO messages (account_id, folder_id, provider, remote_uid, message_id_hdr, from_display, subject,
			date_utc, body_text, body_html, attachments_json, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, folder_id, remote_uid) DO UPDATE SET
			provider = excluded.provider, message_id_hdr = excluded.message_id_hdr,
			from_display = excluded.from_display, subject = excluded.subject, date_utc = excluded.date_utc,
			body_text = excluded.body_text, body_html = excluded.body_html,
			attachments_json = excluded.attachments_json, is_read = excluded.is_read`)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("preparing message upsert: %w", err)
	}
	return &SyncTx{tx: tx, stmt: stmt, db: s, accountID: accountID, folderID: folderID, provider: provider}, nil
}

// UpsertMessage inserts m or replaces the row with the same remote UID.
// The account, folder and provider come from the transaction.
func (t *SyncTx) UpsertMessage(ctx context.Context, m Message) error {
	attachments := m.AttachmentsJSON
	if attachments == "" {
		attachments = "[]"
	}
	_, err := t.stmt.ExecContext(ctx,
		t.accountID, t.folderID, t.provider, m.RemoteUID, m.MessageID, m.From, m.Subject,
		m.DateUTC, m.BodyText, m.BodyHTML, attachments, boolToInt(m.IsRead), t.db.timestamp())
	if err != nil {
		return fmt.Errorf("upserting uid %d: %w", m.RemoteUID, err)
	}
	return nil
}

// MarkFolderSynced stamps the folder's sync state with the current time.
func (t *SyncTx) MarkFolderSynced(ctx context.Context) error {
	if _, err := t.tx.ExecContext(ctx, "UPDATE folders SET sync_state = ? WHERE id = ?", t.db.timestamp(), t.folderID); err != nil {
		return fmt.Errorf("marking folder %d synced: %w", t.folderID, err)
	}
	return nil
}

// Commit commits the transaction.
func (t *SyncTx) Commit() error {
	t.stmt.Close()
	return t.tx.Commit()
}

// Rollback aborts the transaction. It is safe after Commit.
func (t *SyncTx) Rollback() error {
	t.stmt.Close()
	return t.tx.Rollback()
}
