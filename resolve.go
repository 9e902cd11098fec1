package imap

import (
	"context"
	"time"
)

// ConnectRequest describes an account to validate. It is never persisted.
type ConnectRequest struct {
	Email       string
	Host        string
	Port        int
	TLS         bool
	Credentials Credentials
}

// DefaultDelimiter is assumed when the server reports none.
const DefaultDelimiter = "/"

// ResolveAccount validates req and enumerates its folders:
// CAPABILITY, authenticate, NAMESPACE when advertised, LIST, a special-use
// listing (SPECIAL-USE or XLIST) and LOGOUT. The transcript path is
// returned even on failure. Zero folders is reported as ErrNoFolders.
func ResolveAccount(ctx context.Context, req ConnectRequest, opts Options) ([]Folder, string, error) {
	opts = opts.withDefaults()
	if opts.TranscriptPath == "" && opts.TranscriptDir != "" {
		opts.TranscriptPath = TranscriptFile(opts.TranscriptDir, req.Email, time.Now())
	}
	creds := req.Credentials
	if creds.Username == "" {
		creds.Username = req.Email
	}

	d, err := Connect(ctx, req.Host, req.Port, req.TLS, opts)
	if err != nil {
		return nil, opts.TranscriptPath, err
	}
	defer d.Close()

	if _, err := d.Capability(); err != nil {
		return nil, opts.TranscriptPath, err
	}
	if err := d.Authenticate(creds); err != nil {
		return nil, opts.TranscriptPath, err
	}

	delim := DefaultDelimiter
	if d.HasCapability("NAMESPACE") {
		ns, err := d.Namespace()
		if err != nil {
			return nil, opts.TranscriptPath, err
		}
		if ns != "" {
			delim = ns
		}
	}

	folders, err := d.List()
	if err != nil {
		return nil, opts.TranscriptPath, err
	}

	var annotated []Folder
	if d.HasCapability("SPECIAL-USE") {
		annotated, err = d.ListSpecialUse()
	} else {
		annotated, err = d.XList()
	}
	if err != nil {
		d.logger.Debug("special-use listing unavailable", "error", err)
	} else {
		mergeSpecialUse(folders, annotated)
	}

	for i := range folders {
		if folders[i].Delimiter == "" {
			folders[i].Delimiter = delim
			folders[i].DisplayName = displayName(folders[i].RemoteName, delim)
		}
	}

	if err := d.Logout(); err != nil {
		d.logger.Debug("logout failed", "error", err)
	}
	if len(folders) == 0 {
		return nil, opts.TranscriptPath, ErrNoFolders
	}
	d.logger.Info("account resolved", "email", req.Email, "folders", len(folders))
	return folders, opts.TranscriptPath, nil
}
