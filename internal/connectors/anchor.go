package connectors

import (
	"context"
	"fmt"

	"podconnect/internal/types"
	"podconnect/internal/workerpool"
)

const anchorDefaultBaseURL = "https://podcasters.spotify.com/pod/api/proxy/v3"

// AnchorCredentials identify one Anchor web station.
type AnchorCredentials struct {
	BaseURL      string
	WebstationID string
	PwS          types.SecretString
}

// AnchorEpisode is one entry of the station's episode list. Raw is posted
// unchanged as part of episodesPage.
type AnchorEpisode struct {
	WebEpisodeID string
	EpisodeID    string
	Raw          map[string]any
}

// AnchorAPI is the Anchor surface the planner reads. Station and Episode
// address the named analytics endpoint.
type AnchorAPI interface {
	Station(ctx context.Context, endpoint string, r types.DateRange) (any, error)
	Countries(ctx context.Context) ([]string, error)
	PlaysByGeoCity(ctx context.Context, country string, r types.DateRange) (any, error)
	Episodes(ctx context.Context) ([]AnchorEpisode, error)
	Episode(ctx context.Context, endpoint, webEpisodeID string, r types.DateRange) (any, error)
	EpisodeMetadata(ctx context.Context, webEpisodeID string) (map[string]any, error)
}

// AnchorFactory builds a client for one task.
type AnchorFactory func(creds AnchorCredentials) (AnchorAPI, error)

// anchorStationEndpoints are fetched once per task over the whole window.
var anchorStationEndpoints = []string{
	"plays",
	"playsByAgeRange",
	"playsByApp",
	"playsByDevice",
	"playsByGender",
	"playsByGeo",
	"uniqueListeners",
	"audienceSize",
	"totalPlaysByEpisode",
	"totalPlays",
}

// anchorEpisodeEndpoints are fetched per episode.
var anchorEpisodeEndpoints = []string{
	"episodePlays",
	"episodePerformance",
	"aggregatedPerformance",
}

// AnchorPlanner plans station analytics, per-country city plays, the episode
// page and per-episode analytics.
type AnchorPlanner struct {
	newClient AnchorFactory
}

// NewAnchorPlanner creates an AnchorPlanner.
func NewAnchorPlanner(factory AnchorFactory) *AnchorPlanner {
	return &AnchorPlanner{newClient: factory}
}

// Plan implements Planner.
func (p *AnchorPlanner) Plan(ctx context.Context, task types.PodcastTask, r types.DateRange, pool workerpool.Pool) error {
	if p.newClient == nil {
		return unlinked(types.SourceAnchor).Plan(ctx, task, r, pool)
	}
	api, err := p.newClient(AnchorCredentials{
		BaseURL:      task.Credentials.Get(types.KeyAnchorBaseURL, anchorDefaultBaseURL),
		WebstationID: AnchorWebstationID(task),
		PwS:          types.SecretString(task.Credentials[types.KeyAnchorPwS]),
	})
	if err != nil {
		return err
	}

	for _, endpoint := range anchorStationEndpoints {
		pool.Submit(workerpool.FetchItem{
			Endpoint: endpoint,
			Range:    r,
			Fetch: func(ctx context.Context) (any, error) {
				return api.Station(ctx, endpoint, r)
			},
		})
	}

	countries, err := api.Countries(ctx)
	if err != nil {
		return fmt.Errorf("listing anchor countries: %w", err)
	}
	for _, country := range countries {
		pool.Submit(workerpool.FetchItem{
			Endpoint: "playsByGeoCity",
			Range:    r,
			Meta:     map[string]string{"country": country},
			Fetch: func(ctx context.Context) (any, error) {
				return api.PlaysByGeoCity(ctx, country, r)
			},
		})
	}

	episodes, err := api.Episodes(ctx)
	if err != nil {
		return fmt.Errorf("listing anchor episodes: %w", err)
	}
	page := make([]map[string]any, 0, len(episodes))
	for _, ep := range episodes {
		page = append(page, ep.Raw)
	}
	pool.Submit(workerpool.FetchItem{
		Endpoint: "episodesPage",
		Range:    r,
		Fetch: func(context.Context) (any, error) {
			return page, nil
		},
	})

	for _, ep := range episodes {
		meta := map[string]string{
			"episode":      ep.WebEpisodeID,
			"episodeIdNum": ep.EpisodeID,
			"webEpisodeId": ep.WebEpisodeID,
		}
		for _, endpoint := range anchorEpisodeEndpoints {
			pool.Submit(workerpool.FetchItem{
				Endpoint: endpoint,
				Range:    r,
				Meta:     meta,
				Fetch: func(ctx context.Context) (any, error) {
					return api.Episode(ctx, endpoint, ep.WebEpisodeID, r)
				},
			})
		}
		pool.Submit(workerpool.FetchItem{
			Endpoint: "podcastEpisode",
			Range:    r,
			Meta:     meta,
			Fetch: func(ctx context.Context) (any, error) {
				data, err := api.EpisodeMetadata(ctx, ep.WebEpisodeID)
				if err != nil {
					return nil, err
				}
				return WrapAnchorEpisode(data), nil
			},
		})
	}
	return nil
}

// WrapAnchorEpisode reshapes a single episode's metadata into the
// podcastEpisode page layout the collector expects.
func WrapAnchorEpisode(data map[string]any) map[string]any {
	if len(data) == 0 {
		return nil
	}
	var audioURL any
	if audios, ok := data["episodeAudios"].([]any); ok && len(audios) > 0 {
		if first, ok := audios[0].(map[string]any); ok {
			audioURL = first["url"]
		}
	}
	publishOn := 0.0
	if v, ok := data["publishOnUnixTimestamp"].(float64); ok {
		publishOn = v
	}
	isDeleted, _ := data["isDeleted"].(bool)
	isPublished, _ := data["isPublished"].(bool)

	episode := map[string]any{
		"adCount":                0,
		"created":                data["created"],
		"createdUnixTimestamp":   data["createdUnixTimestamp"],
		"description":            data["description"],
		"duration":               data["totalDuration"],
		"hourOffset":             data["hourOffset"],
		"isDeleted":              isDeleted,
		"isPublished":            isPublished,
		"podcastEpisodeId":       data["webEpisodeId"],
		"publishOn":              data["publishOn"],
		"publishOnUnixTimestamp": publishOn * 1000,
		"title":                  data["title"],
		"url":                    audioURL,
		"trackedUrl":             data["spotifyUrl"],
		"episodeImage":           data["episodeImage"],
		"shareLinkPath":          data["shareLinkPath"],
		"shareLinkEmbedPath":     data["shareLinkEmbedPath"],
	}
	return map[string]any{
		"allEpisodeWebIds":     []any{data["webEpisodeId"]},
		"podcastId":            data["webStationId"],
		"podcastEpisodes":      []any{episode},
		"totalPodcastEpisodes": 1,
		"vanitySlug":           "dummy",
		"stationCreatedDate":   "dummy",
	}
}
