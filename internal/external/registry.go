package external

import (
	"log/slog"
	"net/http"
	"slices"
	"time"

	"podconnect/internal/config"
	"podconnect/internal/types"
)

// ---------------------------------------------------------------------------
// Client Registry
//
// Central factory for the HTTP clients of the connector manager. The token
// client is shared; collector and source API clients are built per task so
// concurrently dispatched tasks never share connection state or a breaker.
// ---------------------------------------------------------------------------

const (
	tokenTimeout   = 15 * time.Second
	podigeeTimeout = 30 * time.Second
)

// ClientRegistry holds the process-wide clients and builds per-task ones.
type ClientRegistry struct {
	Token *TokenClient

	collector  config.CollectorConfig
	podigeeURL string
	userAgent  string
	logger     *slog.Logger
	opts       []BaseClientOption
}

// NewClientRegistry initializes the clients from configuration. opts are
// applied to every BaseClient the registry builds.
func NewClientRegistry(cfg *config.Config, logger *slog.Logger, opts ...BaseClientOption) *ClientRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	userAgent := UserAgent(cfg.Build.Version)

	token := NewTokenClientWithBase(
		NewBaseClient(&http.Client{Timeout: tokenTimeout}, "podigee-oauth", NoRetry(), userAgent,
			append(slices.Clip(opts), WithStatusPassthrough())...),
		TokenEndpointConfig{
			ClientID:     cfg.Podigee.ClientID,
			ClientSecret: cfg.Podigee.ClientSecret,
			RedirectURI:  cfg.Podigee.RedirectURI,
			TokenURL:     cfg.Podigee.TokenURL,
			Logger:       logger.With("client", "podigee-oauth"),
		})

	logger.Info("initialized external clients",
		"collector", cfg.Collector.Endpoint,
		"podigee_oauth_configured", token.HasClientCredentials(),
	)

	return &ClientRegistry{
		Token:      token,
		collector:  cfg.Collector,
		podigeeURL: cfg.Podigee.BaseURL,
		userAgent:  userAgent,
		logger:     logger,
		opts:       opts,
	}
}

// UserAgent is the User-Agent sent to every upstream.
func UserAgent(version string) string {
	if version == "" {
		version = "dev"
	}
	return "podconnect-connector-manager/" + version
}

// Collector builds a collector client for one task.
func (r *ClientRegistry) Collector(cc CollectorConfig) *CollectorClient {
	if cc.Endpoint == "" {
		cc.Endpoint = r.collector.Endpoint
	}
	return NewCollectorClient(&http.Client{Timeout: r.collector.Timeout}, cc, r.userAgent, r.opts...)
}

// Podigee builds a Podigee API client from a task's credentials. The task
// may point at another API host with PODIGEE_BASE_URL.
func (r *ClientRegistry) Podigee(creds types.CredentialSet) *PodigeeClient {
	base := NewBaseClient(&http.Client{Timeout: podigeeTimeout}, "podigee", DefaultRetryPolicy(), r.userAgent, r.opts...)
	return NewPodigeeClient(base, creds.Get(types.KeyPodigeeBaseURL, r.podigeeURL), PodigeeAuth{
		AccessToken: creds.Get(types.KeyPodigeeAccessToken, ""),
		Username:    creds.Get(types.KeyPodigeeUsername, ""),
		Password:    creds.Get(types.KeyPodigeePassword, ""),
	})
}
