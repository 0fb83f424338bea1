package external

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"

	"podconnect/internal/types"
)

const (
	podigeeTokenURL    = "https://app.podigee.com/oauth/token"
	podigeeRedirectURI = "https://connect.openpodcast.app/auth/v1/podigee/callback"
)

// TokenEndpointConfig describes an OAuth application able to refresh tokens.
type TokenEndpointConfig struct {
	ClientID     string
	ClientSecret types.SecretString
	RedirectURI  string
	TokenURL     string
	Logger       *slog.Logger
}

// TokenClient exchanges refresh tokens at an OAuth token endpoint. The
// exchange is never retried: the remote side may have consumed the token.
type TokenClient struct {
	base         *BaseClient
	clientID     string
	clientSecret types.SecretString
	redirectURI  string
	tokenURL     string
	logger       *slog.Logger
}

// NewTokenClient creates a TokenClient with Podigee defaults for empty URLs.
func NewTokenClient(httpClient *http.Client, cfg TokenEndpointConfig, userAgent string) *TokenClient {
	return NewTokenClientWithBase(NewBaseClient(httpClient, "podigee-oauth", NoRetry(), userAgent, WithStatusPassthrough()), cfg)
}

// NewTokenClientWithBase creates a TokenClient around a pre-configured
// BaseClient. The base should use NoRetry and WithStatusPassthrough so that
// error statuses reach Exchange.
func NewTokenClientWithBase(base *BaseClient, cfg TokenEndpointConfig) *TokenClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = podigeeTokenURL
	}
	redirectURI := cfg.RedirectURI
	if redirectURI == "" {
		redirectURI = podigeeRedirectURI
	}
	return &TokenClient{
		base:         base,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		redirectURI:  redirectURI,
		tokenURL:     tokenURL,
		logger:       logger,
	}
}

// HasClientCredentials reports whether client id and secret are configured.
func (c *TokenClient) HasClientCredentials() bool {
	return c.clientID != "" && !c.clientSecret.IsEmpty()
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Exchange trades refreshToken for a new token pair.
//
// Errors are auth_refresh_failed AppErrors. When the request was fully written
// but no response was read (timeout, reset), the error additionally carries
// auth_reauth_required: the remote may have rotated the token and the stored
// one can no longer be trusted.
func (c *TokenClient) Exchange(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	form := url.Values{}
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret.Unmask())
	form.Set("refresh_token", refreshToken)
	form.Set("grant_type", "refresh_token")
	form.Set("redirect_uri", c.redirectURI)

	var wrote atomic.Bool
	trace := &httptrace.ClientTrace{
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			if info.Err == nil {
				wrote.Store(true)
			}
		},
	}
	ctx = httptrace.WithClientTrace(ctx, trace)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeAuthRefreshFailed, "failed to build token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		// Only reached when no response was read.
		if wrote.Load() {
			return nil, types.NewAppError(types.ErrCodeAuthRefreshFailed, "token endpoint did not answer after receiving the refresh token",
				types.NewAppError(types.ErrCodeAuthReauthRequired, "refresh token may have been consumed", err))
		}
		return nil, types.NewAppError(types.ErrCodeAuthRefreshFailed, "token endpoint unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeAuthRefreshFailed,
			fmt.Sprintf("token endpoint returned %d", resp.StatusCode), nil,
			map[string]any{"status": resp.StatusCode, "body": readSnippet(resp.Body)})
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, types.NewAppError(types.ErrCodeAuthRefreshFailed, "failed to decode token response",
			types.NewAppError(types.ErrCodeAuthReauthRequired, "token response unreadable", err))
	}
	if tr.AccessToken == "" || tr.RefreshToken == "" {
		return nil, types.NewAppError(types.ErrCodeAuthRefreshFailed, "token response is missing access_token or refresh_token", nil)
	}

	tok := &oauth2.Token{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		TokenType:    tr.TokenType,
	}
	if tr.ExpiresIn > 0 {
		tok.Expiry = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}

	c.logger.InfoContext(ctx, "refreshed access token", "expires_in", tr.ExpiresIn)
	return tok, nil
}
