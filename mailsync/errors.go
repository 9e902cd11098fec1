package mailsync

import "errors"

var (
	ErrInvalidInput          = errors.New("invalid-input")
	ErrInvalidAccountContext = errors.New("invalid-account-context")

	ErrMissingOAuthTokens       = errors.New("missing-oauth-tokens")
	ErrMissingRefreshToken      = errors.New("missing-refresh-token")
	ErrUnsupportedOAuthProvider = errors.New("unsupported-oauth-provider")
	ErrEmptyAccessToken         = errors.New("empty-access-token")

	ErrMissingBasicCredentials = errors.New("missing-basic-credentials")
	ErrEmptyBasicCredentials   = errors.New("empty-basic-credentials")
	ErrMissingEnvCredentials   = errors.New("missing-generic-imap-env-credentials")

	// ErrCommitFailed wraps a failure to commit the sync transaction.
	ErrCommitFailed = errors.New("commit-failed")
)
