// Package app wires configuration, the credential store and the external
// clients into a ready Dispatcher. Every binary builds its runtime here so
// the daemon, the CLI and the queue worker dispatch identically.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"podconnect/internal/auth"
	"podconnect/internal/config"
	"podconnect/internal/connectors"
	"podconnect/internal/core"
	"podconnect/internal/credentials"
	"podconnect/internal/db"
	"podconnect/internal/external"
	"podconnect/internal/queue"
	"podconnect/internal/scheduler"
	"podconnect/internal/telemetry"
	"podconnect/internal/types"
)

// LoadConfig loads configuration, resolving SSM pointers outside local runs,
// and installs the process logger.
func LoadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		return nil, nil, err
	}
	logger := telemetry.SetupLogger(cfg.LogLevel, cfg.LogFormat).With(
		"service", cfg.Service,
		"env", cfg.Environment,
		"version", cfg.Build.Version,
	)
	return cfg, logger, nil
}

// App is the wired runtime of one process.
type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	Pool       *pgxpool.Pool
	Tasks      *db.TaskRepository
	Locks      *db.JobLockRepository
	Clients    *external.ClientRegistry
	Dispatcher *scheduler.Dispatcher

	Metrics telemetry.DispatchMetrics
	// MetricsHandler is set when metrics are scraped rather than pushed.
	MetricsHandler http.Handler

	awsCfg *aws.Config
}

// New connects to the database and builds the Dispatcher.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	a := &App{
		Config:  cfg,
		Logger:  logger,
		Pool:    pool,
		Tasks:   db.NewTaskRepository(pool),
		Locks:   db.NewJobLockRepository(pool),
		Clients: external.NewClientRegistry(cfg, logger),
	}

	a.Metrics, a.MetricsHandler, err = a.newMetrics(ctx)
	if err != nil {
		pool.Close()
		return nil, err
	}

	codec := credentials.NewCodec(credentials.WithLogger(logger))
	refresher := auth.NewRefreshCoordinator(a.Clients.Token, a.Tasks, codec, cfg.Crypto.EncryptionKey, logger)

	registry := connectors.NewSourceRegistry(cfg.Workers, logger, connectors.Factories{
		Podigee: func(task types.PodcastTask) connectors.PodigeeAPI {
			return a.Clients.Podigee(task.Credentials)
		},
	})

	a.Dispatcher = scheduler.NewDispatcher(scheduler.Deps{
		Store:        a.Tasks,
		Locker:       a.Locks,
		History:      db.NewJobHistoryRepository(pool),
		Codec:        codec,
		Refresher:    refresher,
		Processors:   registry,
		NewCollector: scheduler.NewCollectorFactory(a.Clients),
		Metrics:      a.Metrics,
		Logger:       logger,
	}, cfg.Dispatch, cfg.Collector, cfg.Crypto.EncryptionKey)

	return a, nil
}

// Close releases the database pool.
func (a *App) Close() {
	a.Pool.Close()
}

// HealthProbes returns the probes served on /health.
func (a *App) HealthProbes() []core.HealthProbe {
	collector := a.Clients.Collector(external.CollectorConfig{})
	return []core.HealthProbe{
		core.ProbeFunc{ProbeName: "database", Fn: a.Pool.Ping},
		core.ProbeFunc{ProbeName: "collector", Fn: collector.Health},
	}
}

// Enqueuer builds the SQS producer for queue dispatch mode.
func (a *App) Enqueuer(ctx context.Context) (*queue.TaskEnqueuer, error) {
	awsCfg, err := a.awsConfig(ctx)
	if err != nil {
		return nil, err
	}
	return queue.NewTaskEnqueuer(sqs.NewFromConfig(awsCfg), a.Config.AWS, a.Logger), nil
}

func (a *App) newMetrics(ctx context.Context) (telemetry.DispatchMetrics, http.Handler, error) {
	switch a.Config.Observability.MetricsBackend {
	case config.MetricsPrometheus:
		m := telemetry.NewPrometheusMetrics()
		return m, m.Handler(), nil
	case config.MetricsCloudWatch:
		awsCfg, err := a.awsConfig(ctx)
		if err != nil {
			return nil, nil, err
		}
		return telemetry.NewCloudWatchMetrics(cloudwatch.NewFromConfig(awsCfg), a.Config.Observability.MetricNamespace, a.Logger), nil, nil
	default:
		return telemetry.NoopMetrics{}, nil, nil
	}
}

// awsConfig loads the SDK configuration once. AWS_ENDPOINT_URL points every client
// at LocalStack in development.
func (a *App) awsConfig(ctx context.Context) (aws.Config, error) {
	if a.awsCfg != nil {
		return *a.awsCfg, nil
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(a.Config.AWS.Region)}
	if a.Config.AWS.EndpointURL != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(a.Config.AWS.EndpointURL))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config: %w", err)
	}
	a.awsCfg = &cfg
	return cfg, nil
}
