package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"podconnect/internal/auth"
	"podconnect/internal/config"
	"podconnect/internal/connectors"
	"podconnect/internal/credentials"
	"podconnect/internal/db"
	"podconnect/internal/types"
	"podconnect/internal/workerpool"
)

type fakeStore struct {
	rows []db.SourceRow
	err  error
}

func (s *fakeStore) ListSources(context.Context) ([]db.SourceRow, error) {
	return s.rows, s.err
}

func (s *fakeStore) GetSource(_ context.Context, accountID int64, sourceName string) (db.SourceRow, error) {
	for _, r := range s.rows {
		if r.AccountID == accountID && r.SourceName == sourceName {
			return r, nil
		}
	}
	return db.SourceRow{}, types.NewAppError(types.ErrCodeConfigInvalidTask, "podcast source not found", nil)
}

// memLocker is an in-process job_locks table.
type memLocker struct {
	mu       sync.Mutex
	held     map[string]string
	attempts int
	released []string

	// secondAttempt is closed once Acquire has been called twice.
	secondAttempt chan struct{}
}

func newMemLocker() *memLocker {
	return &memLocker{held: map[string]string{}, secondAttempt: make(chan struct{})}
}

func (l *memLocker) Acquire(_ context.Context, lockID, workerID string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts++
	if l.attempts == 2 {
		close(l.secondAttempt)
	}
	if _, ok := l.held[lockID]; ok {
		return false, nil
	}
	l.held[lockID] = workerID
	return true, nil
}

func (l *memLocker) Release(_ context.Context, lockID, workerID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[lockID] == workerID {
		delete(l.held, lockID)
	}
	l.released = append(l.released, lockID)
	return nil
}

type historyEntry struct {
	subject string
	status  string
	items   int
	err     error
}

type fakeHistory struct {
	mu      sync.Mutex
	entries map[int64]*historyEntry
	next    int64
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{entries: map[int64]*historyEntry{}}
}

func (h *fakeHistory) Start(_ context.Context, _ string, subject string) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	h.entries[h.next] = &historyEntry{subject: subject, status: "running"}
	return h.next, nil
}

func (h *fakeHistory) Finish(_ context.Context, id int64, status string, items int, jobErr error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[id]
	if !ok {
		return fmt.Errorf("no entry %d", id)
	}
	e.status, e.items, e.err = status, items, jobErr
	return nil
}

func (h *fakeHistory) statuses() map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := map[string]string{}
	for _, e := range h.entries {
		out[e.subject] = e.status
	}
	return out
}

type refresherFunc func(ctx context.Context, task *types.PodcastTask) auth.Result

func (f refresherFunc) Refresh(ctx context.Context, task *types.PodcastTask) auth.Result {
	return f(ctx, task)
}

func passThrough(context.Context, *types.PodcastTask) auth.Result {
	return auth.Result{Outcome: auth.PassThrough}
}

type fakeCollector struct {
	mu          sync.Mutex
	healthErr   error
	healthCalls int
	posts       []string
}

func (c *fakeCollector) Health(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.healthCalls++
	return c.healthErr
}

func (c *fakeCollector) Post(_ context.Context, endpoint string, _ map[string]string, _ any, _ types.DateRange) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.posts = append(c.posts, endpoint)
	return nil
}

type recordingMetrics struct {
	mu        sync.Mutex
	tasks     map[types.TaskStatus]int
	refreshes []string
	cycles    int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{tasks: map[types.TaskStatus]int{}}
}

func (m *recordingMetrics) RecordTask(_ context.Context, _ types.Source, status types.TaskStatus, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[status]++
}

func (m *recordingMetrics) RecordItems(context.Context, types.Source, types.ItemStats) {}

func (m *recordingMetrics) RecordRefresh(_ context.Context, _ types.Source, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshes = append(m.refreshes, outcome)
}

func (m *recordingMetrics) RecordCycle(context.Context, types.CycleSummary, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles++
}

// podigeeRow returns a stored row whose plaintext blob passes validation.
func podigeeRow(accountID int64) db.SourceRow {
	return db.SourceRow{
		AccountID:       accountID,
		SourceName:      "podigee",
		SourcePodcastID: "1001",
		PodName:         fmt.Sprintf("pod-%d", accountID),
		EncryptedKeys:   `{"OPENPODCAST_API_TOKEN":"collector","PODIGEE_ACCESS_TOKEN":"access"}`,
	}
}

// submitOne is a planner that posts a single metadata item.
func submitOne(_ context.Context, _ types.PodcastTask, r types.DateRange, pool workerpool.Pool) error {
	pool.Submit(workerpool.FetchItem{
		Endpoint: "metadata",
		Range:    r,
		Fetch: func(context.Context) (any, error) {
			return map[string]any{"name": "Show"}, nil
		},
	})
	return nil
}

type harness struct {
	store     *fakeStore
	locker    *memLocker
	history   *fakeHistory
	collector *fakeCollector
	metrics   *recordingMetrics
	sleeps    []time.Duration
	sleepMu   sync.Mutex
	d         *Dispatcher
}

type harnessOptions struct {
	planner   connectors.PlannerFunc
	refresher refresherFunc
	dispatch  config.DispatchConfig
}

func newHarness(rows []db.SourceRow, opts harnessOptions) *harness {
	if opts.planner == nil {
		opts.planner = submitOne
	}
	if opts.refresher == nil {
		opts.refresher = passThrough
	}
	if opts.dispatch.TaskTimeout == 0 {
		opts.dispatch.TaskTimeout = time.Minute
	}
	if opts.dispatch.RetryDelay == 0 {
		opts.dispatch.RetryDelay = time.Minute
	}

	logger := slog.New(slog.DiscardHandler)
	registry := connectors.NewRegistry(config.WorkerConfig{
		NumWorkers:        1,
		Strategy:          config.StrategyQueue,
		SpotifyNumWorkers: 1,
		SpotifyStrategy:   config.StrategyQueue,
	}, logger)
	registry.Register(types.SourcePodigee, opts.planner)

	h := &harness{
		store:     &fakeStore{rows: rows},
		locker:    newMemLocker(),
		history:   newFakeHistory(),
		collector: &fakeCollector{},
		metrics:   newRecordingMetrics(),
	}
	h.d = NewDispatcher(Deps{
		Store:        h.store,
		Locker:       h.locker,
		History:      h.history,
		Codec:        credentials.NewCodec(credentials.WithLogger(logger)),
		Refresher:    opts.refresher,
		Processors:   registry,
		NewCollector: func(types.PodcastTask) Collector { return h.collector },
		Metrics:      h.metrics,
		Logger:       logger,
	}, opts.dispatch, config.CollectorConfig{HealthRetries: 3, HealthRetryDelay: 10 * time.Second}, "passphrase")
	h.d.sleep = func(ctx context.Context, d time.Duration) error {
		h.sleepMu.Lock()
		h.sleeps = append(h.sleeps, d)
		h.sleepMu.Unlock()
		return ctx.Err()
	}
	return h
}
