// Package auth keeps OAuth-style source credentials usable: it exchanges
// refresh tokens and persists the rotated pair before any source work runs.
package auth

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"podconnect/internal/types"
)

// minRefreshTokenLength guards against persisting truncated or placeholder
// tokens returned by a misbehaving token endpoint.
const minRefreshTokenLength = 20

// persistTimeout bounds the credential write once new tokens exist. The write
// is detached from the caller's cancellation: the old refresh token is already
// consumed at that point.
const persistTimeout = 15 * time.Second

// tokenLogPrefix is how much of a consumed refresh token is logged on failure.
const tokenLogPrefix = 10

// TokenExchanger trades a refresh token for a new token pair.
type TokenExchanger interface {
	Exchange(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	HasClientCredentials() bool
}

// CredentialStore persists a task's re-encrypted credential blob and reports
// how many rows were written.
type CredentialStore interface {
	UpdateEncryptedKeys(ctx context.Context, accountID int64, source types.Source, blob string) (int64, error)
}

// Encryptor re-encrypts a credential set into its stored blob form.
type Encryptor interface {
	Encrypt(set types.CredentialSet, passphrase types.SecretString) (string, error)
}

// Outcome is the terminal state of one refresh attempt.
type Outcome int

const (
	// PassThrough: the task has no refresh token; credentials are used as-is.
	PassThrough Outcome = iota
	// Persisted: new tokens were obtained and written to exactly one row.
	Persisted
	// CredentialError: the OAuth client id or secret is not configured.
	CredentialError
	// RefreshFailed: the token endpoint did not yield a usable pair.
	RefreshFailed
	// PersistFailed: new tokens exist but could not be stored. The old refresh
	// token is likely consumed already.
	PersistFailed
)

func (o Outcome) String() string {
	switch o {
	case PassThrough:
		return "pass_through"
	case Persisted:
		return "persisted"
	case CredentialError:
		return "credential_error"
	case RefreshFailed:
		return "refresh_failed"
	case PersistFailed:
		return "persist_failed"
	default:
		return "unknown"
	}
}

// Proceed reports whether the task may continue with source work.
func (o Outcome) Proceed() bool {
	return o == PassThrough || o == Persisted
}

// Result is returned by Refresh.
type Result struct {
	Outcome Outcome
	// Token is set when the exchange succeeded, including PersistFailed.
	Token *oauth2.Token
	// Ambiguous is set when the token endpoint received the request but no
	// answer came back, so the stored token may already be consumed.
	Ambiguous bool
	Err       error
}

// RefreshCoordinator runs the refresh-then-persist flow for one task at a time.
type RefreshCoordinator struct {
	exchanger  TokenExchanger
	store      CredentialStore
	encryptor  Encryptor
	passphrase types.SecretString
	logger     *slog.Logger
}

// NewRefreshCoordinator creates a RefreshCoordinator. A nil logger uses slog.Default().
func NewRefreshCoordinator(
	exchanger TokenExchanger,
	store CredentialStore,
	encryptor Encryptor,
	passphrase types.SecretString,
	logger *slog.Logger,
) *RefreshCoordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &RefreshCoordinator{
		exchanger:  exchanger,
		store:      store,
		encryptor:  encryptor,
		passphrase: passphrase,
		logger:     logger,
	}
}

// Refresh exchanges the task's refresh token when it has one and writes the
// rotated pair back before returning. task.Credentials is updated in place
// only after a successful exchange.
func (rc *RefreshCoordinator) Refresh(ctx context.Context, task *types.PodcastTask) Result {
	logger := types.LoggerFromContext(ctx, rc.logger).With(task.LogAttrs()...)

	refreshKey := task.Source.RefreshTokenKey()
	if refreshKey == "" || !task.Credentials.Has(refreshKey) {
		return Result{Outcome: PassThrough}
	}

	if rc.exchanger == nil || !rc.exchanger.HasClientCredentials() {
		logger.ErrorContext(ctx, "cannot refresh token: oauth client id or secret not configured")
		return Result{
			Outcome: CredentialError,
			Err:     types.NewAppError(types.ErrCodeAuthCredentialsMissing, "oauth client credentials are not configured", nil),
		}
	}

	oldRefresh := task.Credentials[refreshKey]
	tok, err := rc.exchanger.Exchange(ctx, oldRefresh)
	if err != nil {
		ambiguous := types.HasCode(err, types.ErrCodeAuthReauthRequired)
		logger.ErrorContext(ctx, "token refresh failed",
			"refresh_token_prefix", types.Truncate(oldRefresh, tokenLogPrefix),
			"reauth_required", ambiguous,
			"error", err)
		return Result{Outcome: RefreshFailed, Ambiguous: ambiguous, Err: err}
	}

	if tok.RefreshToken == oldRefresh {
		logger.WarnContext(ctx, "token endpoint returned the same refresh token")
	}

	task.Credentials[task.Source.AccessTokenKey()] = tok.AccessToken
	task.Credentials[refreshKey] = tok.RefreshToken

	if len(tok.RefreshToken) < minRefreshTokenLength {
		err := types.NewAppErrorWithDetails(types.ErrCodeAuthPersistFailed,
			"refusing to persist implausibly short refresh token", nil,
			map[string]any{"length": len(tok.RefreshToken)})
		return rc.persistFailed(ctx, logger, tok, err)
	}

	blob, err := rc.encryptor.Encrypt(task.Credentials, rc.passphrase)
	if err != nil {
		return rc.persistFailed(ctx, logger, tok,
			types.NewAppError(types.ErrCodeAuthPersistFailed, "failed to encrypt refreshed credentials", err))
	}

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	rows, err := rc.store.UpdateEncryptedKeys(persistCtx, task.AccountID, task.Source, blob)
	if err != nil {
		return rc.persistFailed(ctx, logger, tok,
			types.NewAppError(types.ErrCodeAuthPersistFailed, "failed to store refreshed credentials", err))
	}
	if rows != 1 {
		return rc.persistFailed(ctx, logger, tok,
			types.NewAppErrorWithDetails(types.ErrCodeAuthPersistFailed,
				"refreshed credentials update did not match exactly one row", nil,
				map[string]any{"rows_affected": rows}))
	}

	logger.InfoContext(ctx, "refreshed and stored new tokens")
	return Result{Outcome: Persisted, Token: tok}
}

// persistFailed logs the new pair so an operator can store it by hand: the
// previous refresh token has most likely been invalidated by the exchange.
func (rc *RefreshCoordinator) persistFailed(ctx context.Context, logger *slog.Logger, tok *oauth2.Token, err error) Result {
	logger.ErrorContext(ctx, "failed to persist refreshed tokens, manual intervention required",
		"access_token", tok.AccessToken,
		"refresh_token", tok.RefreshToken,
		"error", err)
	return Result{Outcome: PersistFailed, Token: tok, Err: err}
}
