package connectors

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"podconnect/internal/external"
	"podconnect/internal/types"
	"podconnect/internal/workerpool"
)

// PodigeeAPI is the subset of the Podigee API the planner reads.
type PodigeeAPI interface {
	Podcasts(ctx context.Context) ([]external.PodigeePodcast, error)
	Episodes(ctx context.Context, podcastID int64) ([]external.PodigeeEpisode, error)
	PodcastAnalytics(ctx context.Context, podcastID int64, r types.DateRange) (*external.PodigeeAnalytics, error)
	EpisodeAnalytics(ctx context.Context, episodeID int64, r types.DateRange) (*external.PodigeeAnalytics, error)
}

// PodigeeFactory builds an API client from a task's credentials.
type PodigeeFactory func(task types.PodcastTask) PodigeeAPI

// podigeeDimensions are the analytics maps turned into metrics, in output order.
var podigeeDimensions = []string{"downloads", "platforms", "clients", "sources"}

// Metric is one value of the collector's metrics payload.
type Metric struct {
	Start        string `json:"start"`
	End          string `json:"end"`
	Dimension    string `json:"dimension"`
	Subdimension string `json:"subdimension"`
	Value        any    `json:"value"`
}

// MetricsPayload is the body posted for "metrics" endpoints.
type MetricsPayload struct {
	Metrics []Metric `json:"metrics"`
}

// PodigeeMetrics flattens daily analytics objects into metrics. Days without
// a downloaded_on date are ignored; sub-dimensions are sorted for stable output.
func PodigeeMetrics(a *external.PodigeeAnalytics) MetricsPayload {
	out := MetricsPayload{Metrics: []Metric{}}
	if a == nil {
		return out
	}
	for _, day := range a.Objects {
		raw, _ := day["downloaded_on"].(string)
		date, _, _ := strings.Cut(raw, "T")
		if date == "" {
			continue
		}
		for _, dim := range podigeeDimensions {
			values, ok := day[dim].(map[string]any)
			if !ok {
				continue
			}
			keys := make([]string, 0, len(values))
			for k := range values {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				out.Metrics = append(out.Metrics, Metric{
					Start:        date,
					End:          date,
					Dimension:    dim,
					Subdimension: k,
					Value:        values[k],
				})
			}
		}
	}
	return out
}

// PodigeePlanner plans podcast metadata and metrics, then metadata and
// metrics per episode.
type PodigeePlanner struct {
	newClient PodigeeFactory
}

// NewPodigeePlanner creates a planner that builds one API client per task.
func NewPodigeePlanner(factory PodigeeFactory) *PodigeePlanner {
	return &PodigeePlanner{newClient: factory}
}

// Plan implements Planner.
func (p *PodigeePlanner) Plan(ctx context.Context, task types.PodcastTask, r types.DateRange, pool workerpool.Pool) error {
	podcastID, err := strconv.ParseInt(task.SourcePodcastID, 10, 64)
	if err != nil {
		return types.NewAppError(types.ErrCodeConfigInvalidTask,
			fmt.Sprintf("podigee podcast id must be an integer, got %q", task.SourcePodcastID), err)
	}
	if p.newClient == nil {
		return unlinked(types.SourcePodigee).Plan(ctx, task, r, pool)
	}
	api := p.newClient(task)

	podcasts, err := api.Podcasts(ctx)
	if err != nil {
		return fmt.Errorf("listing podigee podcasts: %w", err)
	}
	var title string
	var found bool
	available := make([]int64, 0, len(podcasts))
	for _, pc := range podcasts {
		available = append(available, pc.ID)
		if pc.ID == podcastID {
			found, title = true, pc.Title
		}
	}
	if !found {
		return types.NewAppErrorWithDetails(types.ErrCodeConfigInvalidTask,
			fmt.Sprintf("podigee podcast %d not found", podcastID), nil,
			map[string]any{"available": available})
	}
	if title == "" {
		return types.NewAppError(types.ErrCodeConfigInvalidTask,
			fmt.Sprintf("podigee podcast %d has no title", podcastID), nil)
	}

	pool.Submit(workerpool.FetchItem{
		Endpoint: "metadata",
		Range:    r,
		Fetch: func(context.Context) (any, error) {
			return map[string]string{"name": title}, nil
		},
	})
	pool.Submit(workerpool.FetchItem{
		Endpoint: "metrics",
		Range:    r,
		Fetch: func(ctx context.Context) (any, error) {
			a, err := api.PodcastAnalytics(ctx, podcastID, r)
			if err != nil {
				return nil, err
			}
			return PodigeeMetrics(a), nil
		},
	})

	episodes, err := api.Episodes(ctx, podcastID)
	if err != nil {
		return fmt.Errorf("listing podigee episodes: %w", err)
	}
	for _, ep := range episodes {
		meta := map[string]string{"episode": strconv.FormatInt(ep.ID, 10)}
		pool.Submit(workerpool.FetchItem{
			Endpoint: "metadata",
			Range:    r,
			Meta:     meta,
			Fetch: func(context.Context) (any, error) {
				return map[string]string{
					"ep_name":         ep.Title,
					"ep_url":          ep.URL,
					"ep_release_date": ep.PublishedAt,
				}, nil
			},
		})
		pool.Submit(workerpool.FetchItem{
			Endpoint: "metrics",
			Range:    r,
			Meta:     meta,
			Fetch: func(ctx context.Context) (any, error) {
				a, err := api.EpisodeAnalytics(ctx, ep.ID, r)
				if err != nil {
					return nil, err
				}
				return PodigeeMetrics(a), nil
			},
		})
	}
	return nil
}
