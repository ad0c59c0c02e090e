package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Juanbuhler/zmlp-sub000/analyst"
	"github.com/Juanbuhler/zmlp-sub000/credential"
	"github.com/Juanbuhler/zmlp-sub000/queue"
	"github.com/Juanbuhler/zmlp-sub000/task"
)

// Environment variables set on every dispatched task.
const (
	EnvTaskID         = "TASK_ID"
	EnvJobID          = "JOB_ID"
	EnvOrganizationID = "ORGANIZATION_ID"
	EnvMaxRetries     = "MAX_RETRIES"
	EnvAuthToken      = "AUTH_TOKEN"
	EnvDebugMode      = "DEBUG_MODE"
)

// DefaultBatchSize is how many waiting tasks one request considers.
const DefaultBatchSize = 10

// QueueManager hands work to analysts that ask for it.
type QueueManager struct {
	dispatcher *Service
	signer     *credential.Signer
	throttle   *queue.Manager

	batchSize  int
	debug      bool
	logURLBase string
	logURLTTL  time.Duration
	logger     *slog.Logger
}

// QueueOption configures a QueueManager.
type QueueOption func(*QueueManager)

// WithBatchSize sets how many waiting tasks one request considers.
func WithBatchSize(n int) QueueOption {
	return func(q *QueueManager) {
		if n > 0 {
			q.batchSize = n
		}
	}
}

// WithThrottle limits dispatches per organization.
func WithThrottle(m *queue.Manager) QueueOption {
	return func(q *QueueManager) { q.throttle = m }
}

// WithDebug sets DEBUG_MODE on every dispatched task.
func WithDebug(debug bool) QueueOption {
	return func(q *QueueManager) { q.debug = debug }
}

// WithLogURL sets the base of signed log upload URLs and their lifetime.
// An empty base disables log URLs.
func WithLogURL(base string, ttl time.Duration) QueueOption {
	return func(q *QueueManager) {
		q.logURLBase = base
		q.logURLTTL = ttl
	}
}

// WithQueueLogger sets the logger.
func WithQueueLogger(l *slog.Logger) QueueOption {
	return func(q *QueueManager) { q.logger = l }
}

// NewQueueManager creates a QueueManager dispatching through d and
// minting task credentials with signer.
func NewQueueManager(d *Service, signer *credential.Signer, opts ...QueueOption) *QueueManager {
	q := &QueueManager{
		dispatcher: d,
		signer:     signer,
		batchSize:  DefaultBatchSize,
		logURLTTL:  time.Hour,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// GetNext claims the next task for the analyst at endpoint. It returns
// nil without error when there is nothing to do or the analyst is in
// maintenance mode, and ErrAnalystNotFound for an analyst that never
// sent a heartbeat.
func (q *QueueManager) GetNext(ctx context.Context, endpoint string) (*task.DispatchTask, error) {
	a, err := q.dispatcher.fleet.Get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if a.LockState == analyst.Locked {
		q.logger.Debug("analyst locked, not dispatching", slog.String("endpoint", endpoint))
		return nil, nil
	}

	batch, err := q.dispatcher.GetWaitingTasks(ctx, q.batchSize)
	if err != nil {
		return nil, err
	}

	for _, dt := range batch {
		if q.throttle != nil && !q.throttle.Ready(dt.OrganizationID) {
			continue
		}
		ok, err := q.dispatcher.QueueTask(ctx, &dt.Task, endpoint)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Another request claimed it first.
			continue
		}
		// The token is only spent once the claim is ours. A concurrent
		// request may have drained the bucket since Ready.
		if q.throttle != nil && !q.throttle.Allow(dt.OrganizationID) {
			q.dispatcher.unqueue(ctx, dt.ID, endpoint)
			continue
		}

		if err := q.enrich(ctx, dt); err != nil {
			q.dispatcher.unqueue(ctx, dt.ID, endpoint)
			return nil, fmt.Errorf("prepare task %s: %w", dt.ID, err)
		}

		q.logger.Info("task dispatched",
			slog.String("task_id", dt.ID.String()),
			slog.String("job_id", dt.JobID.String()),
			slog.String("endpoint", endpoint),
			slog.Int("priority", dt.Priority),
		)
		q.dispatcher.emitter.EmitTaskQueued(ctx, dt, endpoint)
		return dt, nil
	}
	return nil, nil
}

// enrich loads the task's script and attaches its environment,
// credentials and log URL.
func (q *QueueManager) enrich(ctx context.Context, dt *task.DispatchTask) error {
	script, err := q.dispatcher.tasks.GetScript(ctx, dt.ID)
	if err != nil {
		return err
	}
	dt.Script = script

	token, err := q.signer.Mint(credential.Claims{
		TaskID:         dt.ID.String(),
		JobID:          dt.JobID.String(),
		OrganizationID: dt.OrganizationID,
	})
	if err != nil {
		return err
	}

	dt.Env = map[string]string{
		EnvTaskID:         dt.ID.String(),
		EnvJobID:          dt.JobID.String(),
		EnvOrganizationID: dt.OrganizationID,
		EnvMaxRetries:     strconv.Itoa(dt.MaxRetries),
		EnvAuthToken:      token,
	}
	if q.debug {
		dt.Env[EnvDebugMode] = "true"
	}

	if q.logURLBase != "" {
		u, err := q.signer.SignLogURL(q.logURLBase, dt.ID.String(), q.logURLTTL)
		if err != nil {
			return err
		}
		dt.LogURL = u
	}
	return nil
}
