package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"strings"
	"time"

	"podconnect/internal/types"
)

const envelopeVersion = 1

// Envelope is the body posted to the collector's /connector endpoint.
type Envelope struct {
	Provider  string            `json:"provider"`
	Version   int               `json:"version"`
	Retrieved string            `json:"retrieved"`
	Meta      map[string]string `json:"meta"`
	Range     EnvelopeRange     `json:"range"`
	Data      any               `json:"data"`
}

// EnvelopeRange is the date window of the posted data.
type EnvelopeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// CollectorConfig identifies one task's view of the collector.
type CollectorConfig struct {
	Endpoint string
	Token    types.SecretString
	Provider types.Source
	ShowID   string
}

// CollectorClient talks to the Open Podcast API on behalf of one task.
// A new client is built per task so concurrently dispatched tasks never share
// connection state or a circuit breaker.
type CollectorClient struct {
	base     *BaseClient
	endpoint string
	token    types.SecretString
	provider types.Source
	showID   string
	now      func() time.Time
}

// NewCollectorClient creates a CollectorClient. Posts are retried on 5xx.
func NewCollectorClient(httpClient *http.Client, cfg CollectorConfig, userAgent string, opts ...BaseClientOption) *CollectorClient {
	return &CollectorClient{
		base:     NewBaseClient(httpClient, "collector", DefaultRetryPolicy(), userAgent, opts...),
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		token:    cfg.Token,
		provider: cfg.Provider,
		showID:   cfg.ShowID,
		now:      time.Now,
	}
}

// Health checks GET {endpoint}/health. Only a 200 is healthy.
func (c *CollectorClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/health", nil)
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamCollector, "failed to build health request", err)
	}
	resp, err := c.base.Do(req)
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamCollector, "collector health check failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return types.NewAppErrorWithDetails(types.ErrCodeUpstreamCollector,
			fmt.Sprintf("collector health check returned %d", resp.StatusCode), nil,
			map[string]any{"status": resp.StatusCode})
	}
	return nil
}

// Post stores one endpoint result. Extra meta is merged over the default
// {show, endpoint} meta. A non-2xx answer is returned as an error carrying the
// status; it is not retried beyond the client's 5xx policy.
func (c *CollectorClient) Post(ctx context.Context, endpoint string, meta map[string]string, data any, r types.DateRange) error {
	merged := map[string]string{"show": c.showID, "endpoint": endpoint}
	maps.Copy(merged, meta)

	env := Envelope{
		Provider:  string(c.provider),
		Version:   envelopeVersion,
		Retrieved: c.now().UTC().Format(time.RFC3339),
		Meta:      merged,
		Range:     EnvelopeRange{Start: r.StartString(), End: r.EndString()},
		Data:      data,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode collector envelope", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/connector", bytes.NewReader(body))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build collector request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token.Unmask())

	resp, err := c.base.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return types.NewAppErrorWithDetails(types.ErrCodeUpstreamCollector,
			fmt.Sprintf("collector rejected %s with %d", endpoint, resp.StatusCode), nil,
			map[string]any{"status": resp.StatusCode, "body": readSnippet(resp.Body)})
	}
	return nil
}
