package connectors

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"podconnect/internal/types"
	"podconnect/internal/workerpool"
)

// appleDefaultDaysPerChunk keeps every trends request within Apple's limit.
const appleDefaultDaysPerChunk = 120

// Apple trends metrics and dimensions.
const (
	AppleMetricFollowers    = "FOLLOWERS"
	AppleMetricListeners    = "LISTENERS"
	AppleMetricTimeListened = "TIME_LISTENED"

	AppleDimensionByEpisodes    = "BY_EPISODES"
	AppleDimensionByFollowState = "BY_FOLLOW_STATE"
)

// AppleCredentials locate the automation service that yields session cookies.
type AppleCredentials struct {
	PodcastID          string
	AutomationEndpoint string
	BearerToken        types.SecretString
}

// AppleAPI is the Apple Podcasts Connect surface the planner reads.
type AppleAPI interface {
	Trends(ctx context.Context, r types.DateRange, metric, dimension string) (any, error)
	Episodes(ctx context.Context) (map[string]any, error)
	Episode(ctx context.Context, id string) (any, error)
}

// AppleFactory builds a client for one task, typically after obtaining
// session cookies from the automation endpoint.
type AppleFactory func(ctx context.Context, creds AppleCredentials) (AppleAPI, error)

// ApplePlanner plans chunked trends, the episode list and per-episode details.
type ApplePlanner struct {
	newClient AppleFactory
}

// NewApplePlanner creates an ApplePlanner.
func NewApplePlanner(factory AppleFactory) *ApplePlanner {
	return &ApplePlanner{newClient: factory}
}

type appleTrend struct {
	endpoint  string
	metric    string
	dimension string
}

var appleTrends = []appleTrend{
	{"showTrends/Followers", AppleMetricFollowers, ""},
	{"showTrends/Listeners", AppleMetricListeners, AppleDimensionByEpisodes},
	{"showTrends/ListeningTimeFollowerState", AppleMetricTimeListened, AppleDimensionByFollowState},
}

// Plan implements Planner.
func (p *ApplePlanner) Plan(ctx context.Context, task types.PodcastTask, r types.DateRange, pool workerpool.Pool) error {
	daysPerChunk := appleDefaultDaysPerChunk
	if raw := task.Credentials.Get(types.KeyAppleDaysPerChunk, ""); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return types.NewAppError(types.ErrCodeConfigInvalidTask,
				fmt.Sprintf("%s must be a positive integer, got %q", types.KeyAppleDaysPerChunk, raw), err)
		}
		daysPerChunk = n
	}

	if p.newClient == nil {
		return unlinked(types.SourceApple).Plan(ctx, task, r, pool)
	}
	api, err := p.newClient(ctx, AppleCredentials{
		PodcastID:          task.SourcePodcastID,
		AutomationEndpoint: task.Credentials[types.KeyAppleEndpoint],
		BearerToken:        types.SecretString(task.Credentials[types.KeyAppleBearerToken]),
	})
	if err != nil {
		return err
	}

	for _, chunk := range r.Chunks(daysPerChunk) {
		for _, tr := range appleTrends {
			meta := map[string]string{"metric": tr.metric}
			if tr.dimension != "" {
				meta["dimension"] = tr.dimension
			}
			pool.Submit(workerpool.FetchItem{
				Endpoint: tr.endpoint,
				Range:    chunk,
				Meta:     meta,
				Fetch: func(ctx context.Context) (any, error) {
					return api.Trends(ctx, chunk, tr.metric, tr.dimension)
				},
			})
		}
	}

	episodes, err := api.Episodes(ctx)
	if err != nil {
		return fmt.Errorf("listing apple episodes: %w", err)
	}
	pool.Submit(workerpool.FetchItem{
		Endpoint: "episodes",
		Range:    r,
		Fetch: func(context.Context) (any, error) {
			return episodes, nil
		},
	})

	ids := AppleEpisodeIDs(episodes)
	if len(ids) == 0 {
		types.LoggerFromContext(ctx, nil).WarnContext(ctx, "no apple episodes found")
	}
	for _, id := range ids {
		pool.Submit(workerpool.FetchItem{
			Endpoint: "episodeDetails",
			Range:    r,
			Meta:     map[string]string{"episode": id},
			Fetch: func(ctx context.Context) (any, error) {
				return api.Episode(ctx, id)
			},
		})
	}
	return nil
}

// AppleEpisodeIDs extracts the keys of content.results from an episode
// listing, sorted. A new show without episodes yields none.
func AppleEpisodeIDs(listing map[string]any) []string {
	content, _ := listing["content"].(map[string]any)
	results, _ := content["results"].(map[string]any)
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
