package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	archivist "github.com/Juanbuhler/zmlp-sub000"
	"github.com/Juanbuhler/zmlp-sub000/analyst"
	"github.com/Juanbuhler/zmlp-sub000/backoff"
	"github.com/Juanbuhler/zmlp-sub000/clusterlock"
	"github.com/Juanbuhler/zmlp-sub000/credential"
	"github.com/Juanbuhler/zmlp-sub000/cron"
	"github.com/Juanbuhler/zmlp-sub000/dispatcher"
	"github.com/Juanbuhler/zmlp-sub000/ext"
	mw "github.com/Juanbuhler/zmlp-sub000/middleware"
	"github.com/Juanbuhler/zmlp-sub000/observability"
	"github.com/Juanbuhler/zmlp-sub000/queue"
	"github.com/Juanbuhler/zmlp-sub000/store"
	"github.com/Juanbuhler/zmlp-sub000/taskerror"
	"github.com/Juanbuhler/zmlp-sub000/worker"
)

const instrumentationName = "github.com/Juanbuhler/zmlp-sub000"

// Names of the maintenance entries every engine registers.
const (
	CronLockExpiration      = "cluster-lock-expiration"
	CronAnalystUnresponsive = "analyst-unresponsive"
	CronTaskOrphans         = "task-orphans"
)

// Engine owns every subsystem of one server replica.
type Engine struct {
	store  store.Store
	config archivist.Config
	logger *slog.Logger
	host   string

	extensions *ext.Registry
	pool       *worker.Pool
	locks      *clusterlock.Service
	executor   *clusterlock.Executor
	expiration *clusterlock.ExpirationManager
	analysts   *analyst.Service
	errors     *taskerror.Service
	dispatcher *dispatcher.Service
	queue      *dispatcher.QueueManager
	throttle   *queue.Manager
	signer     *credential.Signer
	scheduler  *cron.Scheduler

	now         func() time.Time
	killer      analyst.Killer
	exts        []ext.Extension
	mws         []mw.Middleware
	cronEntries []cron.Entry

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the configuration. Defaults to archivist.DefaultConfig().
func WithConfig(cfg archivist.Config) Option {
	return func(eng *Engine) { eng.config = cfg }
}

// WithLogger sets the logger shared by every subsystem.
func WithLogger(logger *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = logger }
}

// WithHost overrides the host name recorded on lock rows.
func WithHost(host string) Option {
	return func(eng *Engine) { eng.host = host }
}

// WithClock replaces the time source of every service. Stores keep
// their own clocks.
func WithClock(now func() time.Time) Option {
	return func(eng *Engine) { eng.now = now }
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.exts = append(eng.exts, e) }
}

// WithMiddleware adds middleware around every lock-held body, after the
// default recover, tracing, metrics and logging chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithKiller replaces the kill RPC client.
func WithKiller(k analyst.Killer) Option {
	return func(eng *Engine) { eng.killer = k }
}

// WithCronEntry registers additional maintenance entries, for example a
// combine-locked rebuild job.
func WithCronEntry(entries ...cron.Entry) Option {
	return func(eng *Engine) { eng.cronEntries = append(eng.cronEntries, entries...) }
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// Both the metrics middleware and the observability extension use it.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// New wires an Engine over s. The caller owns s and closes it after Stop.
func New(s store.Store, opts ...Option) (*Engine, error) {
	if s == nil {
		return nil, archivist.ErrNoStore
	}

	eng := &Engine{
		store:  s,
		config: archivist.DefaultConfig(),
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(eng)
	}

	cfg := eng.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := eng.logger

	if eng.host == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		eng.host = hostname
	}

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware and the observability extension.
	var metricsMw mw.Middleware
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
		obsExt = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter(instrumentationName + "/observability"))
	} else {
		metricsMw = mw.Metrics()
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions = ext.NewRegistry(logger)
	eng.extensions.Register(obsExt)
	for _, e := range eng.exts {
		eng.extensions.Register(e)
	}

	// Default middleware stack: recover → tracing → metrics → logging.
	allMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
	}
	allMws = append(allMws, eng.mws...)

	// Cluster locks.
	eng.locks = clusterlock.NewService(s,
		clusterlock.WithEmitter(eng.extensions),
		clusterlock.WithHost(eng.host),
		clusterlock.WithClock(eng.now),
		clusterlock.WithLogger(logger),
	)
	eng.pool = worker.NewPool(logger,
		worker.WithPoolSize(cfg.Lock.PoolSize),
		worker.WithQueueSize(cfg.Lock.QueueSize),
	)
	eng.executor = clusterlock.NewExecutor(eng.locks, eng.pool,
		clusterlock.WithBackoff(backoff.NewLinear(cfg.Lock.RetryInitial, cfg.Lock.RetryMax)),
		clusterlock.WithMiddleware(allMws...),
		clusterlock.WithExecutorLogger(logger),
	)
	eng.expiration = clusterlock.NewExpirationManager(eng.locks, logger)

	// Analyst fleet.
	if eng.killer == nil {
		eng.killer = analyst.NewHTTPClient(
			analyst.WithHTTPClient(&http.Client{Timeout: cfg.Analyst.KillTimeout}),
		)
	}
	eng.analysts = analyst.NewService(s, s,
		analyst.WithKiller(eng.killer),
		analyst.WithEmitter(eng.extensions),
		analyst.WithClock(eng.now),
		analyst.WithLogger(logger),
	)

	// Dispatch.
	eng.errors = taskerror.NewService(s, logger)
	eng.dispatcher = dispatcher.NewService(s, s, eng.analysts, eng.errors,
		dispatcher.WithEmitter(eng.extensions),
		dispatcher.WithDefaultMaxRetries(cfg.Dispatch.DefaultMaxRetries),
		dispatcher.WithClock(eng.now),
		dispatcher.WithLogger(logger),
	)

	signer, err := credential.NewSigner(cfg.Credential.SigningSeed,
		credential.WithTTL(cfg.Credential.TokenTTL),
		credential.WithClock(eng.now),
	)
	if err != nil {
		return nil, fmt.Errorf("engine: credential signer: %w", err)
	}
	if cfg.Credential.SigningSeed == "" {
		logger.Warn("no signing seed configured; task credentials only verify on this replica")
	}
	eng.signer = signer

	qopts := []dispatcher.QueueOption{
		dispatcher.WithBatchSize(cfg.Dispatch.BatchSize),
		dispatcher.WithDebug(cfg.Dispatch.Debug),
		dispatcher.WithLogURL(cfg.Credential.LogURLBase, cfg.Credential.LogURLTTL),
		dispatcher.WithQueueLogger(logger),
	}
	if cfg.Dispatch.OrgRateLimit > 0 {
		eng.throttle = queue.NewManager(queue.Limit{
			Rate:  cfg.Dispatch.OrgRateLimit,
			Burst: cfg.Dispatch.OrgRateBurst,
		})
		qopts = append(qopts, dispatcher.WithThrottle(eng.throttle))
	}
	eng.queue = dispatcher.NewQueueManager(eng.dispatcher, signer, qopts...)

	// Maintenance.
	eng.scheduler = cron.NewScheduler(eng.executor,
		cron.WithEmitter(eng.extensions),
		cron.WithLogger(logger),
	)
	for _, e := range append(eng.maintenanceEntries(), eng.cronEntries...) {
		if err := eng.scheduler.Register(e); err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
	}

	return eng, nil
}

func (eng *Engine) maintenanceEntries() []cron.Entry {
	cfg := eng.config
	timeout := cfg.Lock.DefaultTimeout
	return []cron.Entry{
		{
			Name:     CronLockExpiration,
			Schedule: cfg.Maintenance.LockExpirationSchedule,
			Lock:     clusterlock.SoftLock(CronLockExpiration).WithTimeout(timeout),
			Run: func(ctx context.Context) error {
				_, err := eng.expiration.Sweep(ctx)
				return err
			},
		},
		{
			Name:     CronAnalystUnresponsive,
			Schedule: cfg.Maintenance.UnresponsiveSchedule,
			Lock:     clusterlock.SoftLock(CronAnalystUnresponsive).WithTimeout(timeout),
			Run: func(ctx context.Context) error {
				_, err := eng.dispatcher.DownUnresponsiveAnalysts(ctx, cfg.Analyst.UnresponsiveAfter)
				return err
			},
		},
		{
			Name:     CronTaskOrphans,
			Schedule: cfg.Maintenance.OrphanSchedule,
			Lock:     clusterlock.SoftLock(CronTaskOrphans).WithTimeout(timeout),
			Run: func(ctx context.Context) error {
				_, err := eng.dispatcher.RetryOrphanedTasks(ctx, cfg.Analyst.OrphanAfter)
				return err
			},
		},
	}
}

// Start starts the worker pool and the maintenance scheduler.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.pool.Start(ctx); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}
	if err := eng.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start cron scheduler: %w", err)
	}
	eng.logger.Info("engine started",
		slog.String("host", eng.host),
		slog.Int("pool_size", eng.pool.Size()),
	)
	return nil
}

// Stop stops scheduling maintenance, drains the worker pool and notifies
// extensions of the shutdown.
func (eng *Engine) Stop(ctx context.Context) error {
	eng.extensions.EmitShutdown(ctx)

	var errs []error
	if err := eng.scheduler.Stop(ctx); err != nil {
		eng.logger.Error("cron scheduler stop error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	if err := eng.pool.Stop(ctx); err != nil {
		eng.logger.Error("worker pool stop error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// RunMaintenance runs one maintenance entry now under its lock. It
// returns false when another replica held the lock.
func (eng *Engine) RunMaintenance(ctx context.Context, name string) (bool, error) {
	return eng.scheduler.RunNow(ctx, name)
}

// SweepAll runs every registered maintenance entry once, in name order.
// The result maps entry names to whether the entry ran here.
func (eng *Engine) SweepAll(ctx context.Context) (map[string]bool, error) {
	out := make(map[string]bool)
	for _, st := range eng.scheduler.Entries() {
		ran, err := eng.scheduler.RunNow(ctx, st.Name)
		if err != nil {
			return out, fmt.Errorf("sweep %s: %w", st.Name, err)
		}
		out[st.Name] = ran
	}
	return out, nil
}

// Store returns the backing store.
func (eng *Engine) Store() store.Store { return eng.store }

// Config returns the configuration the engine was built with.
func (eng *Engine) Config() archivist.Config { return eng.config }

// Logger returns the engine logger.
func (eng *Engine) Logger() *slog.Logger { return eng.logger }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Locks returns the cluster lock service.
func (eng *Engine) Locks() *clusterlock.Service { return eng.locks }

// Executor returns the cluster lock executor.
func (eng *Engine) Executor() *clusterlock.Executor { return eng.executor }

// Analysts returns the analyst service.
func (eng *Engine) Analysts() *analyst.Service { return eng.analysts }

// TaskErrors returns the task error service.
func (eng *Engine) TaskErrors() *taskerror.Service { return eng.errors }

// Dispatcher returns the dispatcher service.
func (eng *Engine) Dispatcher() *dispatcher.Service { return eng.dispatcher }

// Queue returns the dispatch queue manager.
func (eng *Engine) Queue() *dispatcher.QueueManager { return eng.queue }

// Throttle returns the per-organization throttle, or nil when dispatch
// is not rate limited.
func (eng *Engine) Throttle() *queue.Manager { return eng.throttle }

// Signer returns the credential signer.
func (eng *Engine) Signer() *credential.Signer { return eng.signer }

// Scheduler returns the maintenance scheduler.
func (eng *Engine) Scheduler() *cron.Scheduler { return eng.scheduler }

// Host returns the host name recorded on lock rows.
func (eng *Engine) Host() string { return eng.host }
