package connectors

import (
	"context"
	"fmt"
	"time"

	"podconnect/internal/types"
	"podconnect/internal/workerpool"
)

const (
	spotifyDefaultBaseURL  = "https://generic.wg.spotify.com/podcasters/v0"
	spotifyDefaultClientID = "05a1371ee5194c27860b3ff3ff3979d2"
)

// spotifyFirstEpisodeDate bounds the episode listing; nothing predates it.
var spotifyFirstEpisodeDate = time.Date(2015, 5, 1, 0, 0, 0, 0, time.UTC)

// SpotifyCredentials are the session values a Spotify client is built from.
type SpotifyCredentials struct {
	BaseURL   string
	ClientID  string
	PodcastID string
	SpDC      types.SecretString
	SpKey     types.SecretString
}

// SpotifyEpisode is one entry of the episode listing.
type SpotifyEpisode struct {
	ID          string
	ReleaseDate time.Time
}

// SpotifyAPI is the Spotify for Podcasters surface the planner reads. An
// empty episode id addresses the show itself.
type SpotifyAPI interface {
	Metadata(ctx context.Context, episode string) (any, error)
	Listeners(ctx context.Context, r types.DateRange, episode string) (any, error)
	Streams(ctx context.Context, r types.DateRange, episode string) (any, error)
	Followers(ctx context.Context, r types.DateRange) (any, error)
	Aggregate(ctx context.Context, day time.Time, episode string) (any, error)
	Performance(ctx context.Context, episode string) (any, error)
	Episodes(ctx context.Context, r types.DateRange) ([]SpotifyEpisode, error)
}

// SpotifyFactory builds a client for one task.
type SpotifyFactory func(creds SpotifyCredentials) (SpotifyAPI, error)

// SpotifyPlanner plans show-level and episode-level Spotify endpoints,
// including one aggregate item per day.
type SpotifyPlanner struct {
	newClient SpotifyFactory
	now       func() time.Time
}

// NewSpotifyPlanner creates a SpotifyPlanner. A nil factory fails every task
// with a configuration error.
func NewSpotifyPlanner(factory SpotifyFactory) *SpotifyPlanner {
	return &SpotifyPlanner{newClient: factory, now: time.Now}
}

// Plan implements Planner.
func (p *SpotifyPlanner) Plan(ctx context.Context, task types.PodcastTask, r types.DateRange, pool workerpool.Pool) error {
	if p.newClient == nil {
		return unlinked(types.SourceSpotify).Plan(ctx, task, r, pool)
	}
	api, err := p.newClient(SpotifyCredentials{
		BaseURL:   task.Credentials.Get(types.KeySpotifyBaseURL, spotifyDefaultBaseURL),
		ClientID:  task.Credentials.Get(types.KeySpotifyClientID, spotifyDefaultClientID),
		PodcastID: task.SourcePodcastID,
		SpDC:      types.SecretString(task.Credentials[types.KeySpotifySpDC]),
		SpKey:     types.SecretString(task.Credentials[types.KeySpotifySpKey]),
	})
	if err != nil {
		return err
	}

	show := []struct {
		endpoint string
		fetch    workerpool.FetchFunc
	}{
		{"metadata", func(ctx context.Context) (any, error) { return api.Metadata(ctx, "") }},
		{"listeners", func(ctx context.Context) (any, error) { return api.Listeners(ctx, r, "") }},
		{"detailedStreams", func(ctx context.Context) (any, error) { return api.Streams(ctx, r, "") }},
		{"followers", func(ctx context.Context) (any, error) { return api.Followers(ctx, r) }},
	}
	for _, s := range show {
		pool.Submit(workerpool.FetchItem{Endpoint: s.endpoint, Range: r, Fetch: s.fetch})
	}
	submitAggregates(pool, api, r, "")

	today := p.now().UTC()
	listing, err := types.NewDateRange(spotifyFirstEpisodeDate, today)
	if err != nil {
		return err
	}
	episodes, err := api.Episodes(ctx, listing)
	if err != nil {
		return fmt.Errorf("listing spotify episodes: %w", err)
	}

	for _, ep := range episodes {
		id := ep.ID
		meta := map[string]string{"episode": id}
		items := []struct {
			endpoint string
			fetch    workerpool.FetchFunc
		}{
			{"episodeMetadata", func(ctx context.Context) (any, error) { return api.Metadata(ctx, id) }},
			{"detailedStreams", func(ctx context.Context) (any, error) { return api.Streams(ctx, r, id) }},
			{"listeners", func(ctx context.Context) (any, error) { return api.Listeners(ctx, r, id) }},
			{"performance", func(ctx context.Context) (any, error) { return api.Performance(ctx, id) }},
		}
		for _, it := range items {
			pool.Submit(workerpool.FetchItem{Endpoint: it.endpoint, Range: r, Meta: meta, Fetch: it.fetch})
		}

		if ep.ReleaseDate.IsZero() {
			continue
		}
		start := ep.ReleaseDate
		if start.Before(r.Start) {
			start = r.Start
		}
		epRange, err := types.NewDateRange(start, r.End)
		if err != nil {
			// Released after the window.
			continue
		}
		submitAggregates(pool, api, epRange, id)
	}
	return nil
}

// submitAggregates adds one single-day aggregate item per day of r.
func submitAggregates(pool workerpool.Pool, api SpotifyAPI, r types.DateRange, episode string) {
	var meta map[string]string
	if episode != "" {
		meta = map[string]string{"episode": episode}
	}
	for _, day := range r.EachDay() {
		pool.Submit(workerpool.FetchItem{
			Endpoint: "aggregate",
			Range:    types.DateRange{Start: day, End: day},
			Meta:     meta,
			Fetch: func(ctx context.Context) (any, error) {
				return api.Aggregate(ctx, day, episode)
			},
		})
	}
}
