// Package mailsync pulls the newest messages of a mirrored folder into the
// local store over IMAP, and serves the stored mailbox to front ends.
package mailsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/davecgh/go-spew/spew"
	humanize "github.com/dustin/go-humanize"
	imap "github.com/ngksmail/go-imapsync"
	"github.com/ngksmail/go-imapsync/internal/audit"
	"github.com/ngksmail/go-imapsync/internal/config"
	"github.com/ngksmail/go-imapsync/internal/credential"
	"github.com/ngksmail/go-imapsync/internal/paths"
	"github.com/ngksmail/go-imapsync/mimeparse"
	"github.com/ngksmail/go-imapsync/oauth"
	"github.com/ngksmail/go-imapsync/provider"
	"github.com/ngksmail/go-imapsync/store"
)

// DefaultLimit is the number of newest messages a sync fetches when the
// caller passes no limit.
const DefaultLimit = config.DefaultSyncLimit

// TokenRefresher runs the OAuth refresh grant. *oauth.Broker satisfies it.
type TokenRefresher interface {
	RefreshAccessToken(ctx context.Context, cfg oauth.Config, refreshToken string) (*oauth.Result, error)
}

// Engine synchronises folders. DB is required; the rest is optional.
type Engine struct {
	DB     *store.DB
	Broker TokenRefresher
	Ring   *credential.Ring
	// Clients supplies OAuth client credentials from the environment or
	// configuration. The provider_clients table is consulted after it.
	Clients func(provider.ID) provider.ClientCredentials
	Audit   *audit.Log
	Logger  *slog.Logger

	// Options configures every IMAP connection. TranscriptDir receives one
	// transcript per sync.
	Options imap.Options

	Now    func() time.Time
	Getenv func(string) string
}

// Report summarises one folder sync.
type Report struct {
	Selected       int
	Fetched        int
	Stored         int
	Skipped        int
	Bytes          uint64
	TranscriptPath string
}

func (r *Report) String() string {
	return fmt.Sprintf("selected %d, fetched %d, stored %d, skipped %d (%s)",
		r.Selected, r.Fetched, r.Stored, r.Skipped, humanize.Bytes(r.Bytes))
}

// skip describes a message left out of a sync.
type skip struct {
	UID    int
	Reason string
	Flags  []string
	Size   int
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) getenv(key string) string {
	if e.Getenv != nil {
		return e.Getenv(key)
	}
	return os.Getenv(key)
}

// SyncFolder fetches the newest limit messages of a folder and upserts
// them in a single transaction. Messages that cannot be fetched or decoded
// are skipped; a broken connection rolls the whole sync back.
func (e *Engine) SyncFolder(ctx context.Context, accountID, folderID int64, limit int) (*Report, error) {
	rep, ac, err := e.syncFolder(ctx, accountID, folderID, limit)
	payload := map[string]any{"account_id": accountID, "folder_id": folderID}
	if ac != nil {
		payload["provider"] = ac.Provider
		payload["email"] = ac.Email
		payload["folder"] = ac.RemoteName
	}
	if rep != nil {
		payload["transcript"] = rep.TranscriptPath
	}
	if err != nil {
		payload["error"] = err.Error()
		e.audit(audit.SyncFail, payload)
		return rep, err
	}
	payload["selected"] = rep.Selected
	payload["stored"] = rep.Stored
	payload["skipped"] = rep.Skipped
	e.audit(audit.SyncOK, payload)
	return rep, nil
}

func (e *Engine) audit(event string, payload map[string]any) {
	if e.Audit != nil {
		e.Audit.Event(event, payload)
	}
}

func (e *Engine) syncFolder(ctx context.Context, accountID, folderID int64, limit int) (*Report, *store.AccountFolderContext, error) {
	if e.DB == nil || accountID <= 0 || folderID <= 0 {
		return nil, nil, ErrInvalidInput
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	ac, err := e.DB.GetAccountFolderContext(ctx, accountID, folderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, fmt.Errorf("account %d folder %d: %w", accountID, folderID, ErrInvalidAccountContext)
	}
	if err != nil {
		return nil, nil, err
	}
	if ac.IMAPHost == "" || ac.IMAPPort <= 0 || ac.RemoteName == "" {
		return nil, ac, fmt.Errorf("account %d folder %d: %w", accountID, folderID, ErrInvalidAccountContext)
	}
	log := e.logger().With("account_id", accountID, "folder", ac.RemoteName)

	creds, err := e.resolveCredentials(ctx, ac)
	if err != nil {
		return nil, ac, err
	}

	opts := e.Options
	if opts.TranscriptDir != "" {
		name := fmt.Sprintf("sync_%d_%d_%s.txt", accountID, folderID, paths.Stamp(e.now()))
		opts.TranscriptPath = filepath.Join(opts.TranscriptDir, name)
	}
	if opts.Logger == nil {
		opts.Logger = imap.SlogLogger(log)
	}
	rep := &Report{TranscriptPath: opts.TranscriptPath}

	d, err := imap.Connect(ctx, ac.IMAPHost, ac.IMAPPort, ac.TLS(), opts)
	if err != nil {
		return rep, ac, err
	}
	defer d.Close()

	if _, err := d.Capability(); err != nil {
		return rep, ac, err
	}
	if err := d.Authenticate(creds); err != nil {
		return rep, ac, err
	}
	if err := d.Select(ac.RemoteName); err != nil {
		return rep, ac, err
	}
	uids, err := d.UIDSearchAll()
	if err != nil {
		return rep, ac, err
	}
	window := imap.WindowUIDs(uids, limit)
	rep.Selected = len(window)
	log.Debug("uid window selected", "found", len(uids), "selected", len(window), "limit", limit)

	tx, err := e.DB.BeginSync(ctx, accountID, folderID, ac.Provider)
	if err != nil {
		return rep, ac, err
	}
	defer tx.Rollback()

	now := e.now()
	for _, uid := range window {
		if err := ctx.Err(); err != nil {
			return rep, ac, err
		}
		raw, err := d.FetchMessage(uid)
		if err != nil {
			var pe *imap.ProtocolError
			if errors.Is(err, imap.ErrNoLiteral) || errors.Is(err, imap.ErrShortLiteral) || errors.As(err, &pe) {
				e.skipped(ctx, log, rep, skip{UID: uid, Reason: err.Error()})
				continue
			}
			return rep, ac, err
		}
		rep.Fetched++
		rep.Bytes += uint64(len(raw.Literal))

		parsed, err := mimeparse.Parse(raw.Literal)
		if err != nil {
			e.skipped(ctx, log, rep, skip{UID: uid, Reason: err.Error(), Flags: raw.Flags, Size: len(raw.Literal)})
			continue
		}
		if err := tx.UpsertMessage(ctx, buildRecord(raw, parsed, now)); err != nil {
			return rep, ac, err
		}
		rep.Stored++
	}

	if err := tx.MarkFolderSynced(ctx); err != nil {
		return rep, ac, err
	}
	if err := tx.Commit(); err != nil {
		return rep, ac, fmt.Errorf("%w: %v", ErrCommitFailed, err)
	}

	if err := d.Logout(); err != nil {
		log.Debug("logout failed", "error", err)
	}
	log.Info("folder synced", "report", rep.String())
	return rep, ac, nil
}

func (e *Engine) skipped(ctx context.Context, log *slog.Logger, rep *Report, s skip) {
	rep.Skipped++
	log.Debug("message skipped", "uid", s.UID, "reason", s.Reason)
	if log.Enabled(ctx, config.LevelTrace) {
		log.Log(ctx, config.LevelTrace, "skipped message", "dump", spew.Sdump(s))
	}
}

// ParseID parses a positive account, folder or message id.
func ParseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%q: %w", s, ErrInvalidInput)
	}
	return id, nil
}
