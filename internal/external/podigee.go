package external

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/oauth2"

	"podconnect/internal/types"
)

const podigeeBaseURL = "https://app.podigee.com/api/v1"

// PodigeeAuth carries either an OAuth access token or a username/password pair.
type PodigeeAuth struct {
	AccessToken string
	Username    string
	Password    string
}

// PodigeePodcast is the subset of /podcasts used for planning.
type PodigeePodcast struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

// PodigeeEpisode is the subset of /episodes used for planning.
type PodigeeEpisode struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	PublishedAt string `json:"published_at"`
}

// PodigeeAnalytics is an analytics report: one object per day with metric
// maps keyed by sub-dimension.
type PodigeeAnalytics struct {
	Objects []map[string]any `json:"objects"`
}

// PodigeeClient reads podcast metadata and analytics from the Podigee API.
type PodigeeClient struct {
	base    *BaseClient
	baseURL string
	auth    PodigeeAuth
}

// NewPodigeeClient creates a client for baseURL (default app.podigee.com/api/v1).
func NewPodigeeClient(base *BaseClient, baseURL string, auth PodigeeAuth) *PodigeeClient {
	if baseURL == "" {
		baseURL = podigeeBaseURL
	}
	return &PodigeeClient{base: base, baseURL: strings.TrimRight(baseURL, "/"), auth: auth}
}

// Podcasts lists the podcasts visible to the credentials.
func (c *PodigeeClient) Podcasts(ctx context.Context) ([]PodigeePodcast, error) {
	var out []PodigeePodcast
	err := c.getJSON(ctx, "/podcasts", nil, &out)
	return out, err
}

// Episodes lists the episodes of a podcast.
func (c *PodigeeClient) Episodes(ctx context.Context, podcastID int64) ([]PodigeeEpisode, error) {
	q := url.Values{}
	q.Set("podcast_id", strconv.FormatInt(podcastID, 10))
	var out []PodigeeEpisode
	err := c.getJSON(ctx, "/episodes", q, &out)
	return out, err
}

// PodcastAnalytics returns the daily analytics of a podcast over r.
func (c *PodigeeClient) PodcastAnalytics(ctx context.Context, podcastID int64, r types.DateRange) (*PodigeeAnalytics, error) {
	var out PodigeeAnalytics
	err := c.getJSON(ctx, fmt.Sprintf("/podcasts/%d/analytics", podcastID), rangeQuery(r), &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// EpisodeAnalytics returns the daily analytics of one episode over r.
func (c *PodigeeClient) EpisodeAnalytics(ctx context.Context, episodeID int64, r types.DateRange) (*PodigeeAnalytics, error) {
	var out PodigeeAnalytics
	err := c.getJSON(ctx, fmt.Sprintf("/episodes/%d/analytics", episodeID), rangeQuery(r), &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func rangeQuery(r types.DateRange) url.Values {
	q := url.Values{}
	q.Set("from", r.StartString())
	q.Set("to", r.EndString())
	return q
}

func (c *PodigeeClient) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build podigee request", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.auth.AccessToken != "" {
		(&oauth2.Token{AccessToken: c.auth.AccessToken, TokenType: "Bearer"}).SetAuthHeader(req)
	} else {
		req.SetBasicAuth(c.auth.Username, c.auth.Password)
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return types.NewAppError(types.ErrCodeNotFoundResource, "podigee resource not found: "+path, nil)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return types.NewAppErrorWithDetails(types.ErrCodeAuthTokenInvalid,
			fmt.Sprintf("podigee rejected credentials with %d", resp.StatusCode), nil,
			map[string]any{"path": path})
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return types.NewAppErrorWithDetails(types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("podigee returned %d", resp.StatusCode), nil,
			map[string]any{"path": path, "body": readSnippet(resp.Body)})
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "failed to decode podigee response", err)
	}
	return nil
}
