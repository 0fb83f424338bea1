package telemetry

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"podconnect/internal/types"
)

// Metric names and dimensions.
const (
	MetricTaskDispatched = "TaskDispatched"
	MetricTaskDuration   = "TaskDuration"
	MetricItemsPosted    = "ItemsPosted"
	MetricItemsSkipped   = "ItemsSkipped"
	MetricItemsFailed    = "ItemsFailed"
	MetricTokenRefresh   = "TokenRefresh"
	MetricCycleDuration  = "CycleDuration"
	MetricCycleFailed    = "CycleTasksFailed"

	DimSource  = "Source"
	DimStatus  = "Status"
	DimOutcome = "Outcome"
)

// DispatchMetrics records what the dispatcher does. Implementations must not
// fail the caller; recording errors are logged.
type DispatchMetrics interface {
	RecordTask(ctx context.Context, source types.Source, status types.TaskStatus, duration time.Duration)
	RecordItems(ctx context.Context, source types.Source, stats types.ItemStats)
	RecordRefresh(ctx context.Context, source types.Source, outcome string)
	RecordCycle(ctx context.Context, summary types.CycleSummary, duration time.Duration)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

var _ DispatchMetrics = NoopMetrics{}

func (NoopMetrics) RecordTask(context.Context, types.Source, types.TaskStatus, time.Duration) {}
func (NoopMetrics) RecordItems(context.Context, types.Source, types.ItemStats)                {}
func (NoopMetrics) RecordRefresh(context.Context, types.Source, string)                       {}
func (NoopMetrics) RecordCycle(context.Context, types.CycleSummary, time.Duration)            {}

// PrometheusMetrics exposes dispatch metrics for scraping.
type PrometheusMetrics struct {
	registry      *prometheus.Registry
	tasks         *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	items         *prometheus.CounterVec
	refreshes     *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	cycleTasks    *prometheus.GaugeVec
}

var _ DispatchMetrics = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics registers the collectors on a fresh registry.
func NewPrometheusMetrics() *PrometheusMetrics {
	m := &PrometheusMetrics{
		registry: prometheus.NewRegistry(),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "connector_tasks_total",
			Help: "Dispatched podcast tasks by source and terminal status.",
		}, []string{"source", "status"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "connector_task_duration_seconds",
			Help:    "Wall time of one dispatched task including retries.",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
		}, []string{"source"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "connector_items_total",
			Help: "Fetch items by source and result.",
		}, []string{"source", "result"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "connector_token_refresh_total",
			Help: "Token refresh attempts by source and outcome.",
		}, []string{"source", "outcome"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "connector_cycle_duration_seconds",
			Help:    "Wall time of a full dispatch cycle.",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		}),
		cycleTasks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "connector_last_cycle_tasks",
			Help: "Task counts of the most recent cycle by status.",
		}, []string{"status"}),
	}
	m.registry.MustRegister(m.tasks, m.taskDuration, m.items, m.refreshes, m.cycleDuration, m.cycleTasks)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PrometheusMetrics) RecordTask(_ context.Context, source types.Source, status types.TaskStatus, duration time.Duration) {
	m.tasks.WithLabelValues(string(source), string(status)).Inc()
	m.taskDuration.WithLabelValues(string(source)).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordItems(_ context.Context, source types.Source, stats types.ItemStats) {
	s := string(source)
	m.items.WithLabelValues(s, "posted").Add(float64(stats.Posted))
	m.items.WithLabelValues(s, "skipped").Add(float64(stats.Skipped))
	m.items.WithLabelValues(s, "failed").Add(float64(stats.Failed))
	m.items.WithLabelValues(s, "cancelled").Add(float64(stats.Cancelled))
}

func (m *PrometheusMetrics) RecordRefresh(_ context.Context, source types.Source, outcome string) {
	m.refreshes.WithLabelValues(string(source), outcome).Inc()
}

func (m *PrometheusMetrics) RecordCycle(_ context.Context, summary types.CycleSummary, duration time.Duration) {
	m.cycleDuration.Observe(duration.Seconds())
	m.cycleTasks.WithLabelValues(string(types.TaskStatusSuccess)).Set(float64(summary.Succeeded))
	m.cycleTasks.WithLabelValues(string(types.TaskStatusFailed)).Set(float64(summary.Failed))
	m.cycleTasks.WithLabelValues(string(types.TaskStatusSkipped)).Set(float64(summary.Skipped))
}

// CloudWatchClient abstracts PutMetricData for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchMetrics publishes dispatch metrics to CloudWatch.
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

var _ DispatchMetrics = (*CloudWatchMetrics)(nil)

// NewCloudWatchMetrics creates a publisher for namespace.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchMetrics{client: client, namespace: namespace, logger: logger}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

func datum(name string, value float64, unit cwtypes.StandardUnit, dims ...cwtypes.Dimension) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       unit,
		Dimensions: dims,
	}
}

func (m *CloudWatchMetrics) put(ctx context.Context, data ...cwtypes.MetricDatum) {
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	})
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to publish metrics", "error", err.Error(), "count", len(data))
	}
}

func (m *CloudWatchMetrics) RecordTask(ctx context.Context, source types.Source, status types.TaskStatus, duration time.Duration) {
	m.put(ctx,
		datum(MetricTaskDispatched, 1, cwtypes.StandardUnitCount, dim(DimSource, string(source)), dim(DimStatus, string(status))),
		datum(MetricTaskDuration, float64(duration.Milliseconds()), cwtypes.StandardUnitMilliseconds, dim(DimSource, string(source))),
	)
}

func (m *CloudWatchMetrics) RecordItems(ctx context.Context, source types.Source, stats types.ItemStats) {
	d := dim(DimSource, string(source))
	m.put(ctx,
		datum(MetricItemsPosted, float64(stats.Posted), cwtypes.StandardUnitCount, d),
		datum(MetricItemsSkipped, float64(stats.Skipped), cwtypes.StandardUnitCount, d),
		datum(MetricItemsFailed, float64(stats.Failed), cwtypes.StandardUnitCount, d),
	)
}

func (m *CloudWatchMetrics) RecordRefresh(ctx context.Context, source types.Source, outcome string) {
	m.put(ctx, datum(MetricTokenRefresh, 1, cwtypes.StandardUnitCount, dim(DimSource, string(source)), dim(DimOutcome, outcome)))
}

func (m *CloudWatchMetrics) RecordCycle(ctx context.Context, summary types.CycleSummary, duration time.Duration) {
	m.put(ctx,
		datum(MetricCycleDuration, float64(duration.Milliseconds()), cwtypes.StandardUnitMilliseconds),
		datum(MetricCycleFailed, float64(summary.Failed), cwtypes.StandardUnitCount),
	)
}
