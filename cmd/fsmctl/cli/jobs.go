package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/onemanvan/fsm/internal/agreements"
	"github.com/onemanvan/fsm/jobs"
)

// QueueInspector reads queue state. *asynq.Inspector satisfies it.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	Close() error
}

// Enqueuer submits tasks. *asynq.Client satisfies it.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    Enqueuer
	inspector QueueInspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) (*JobsCLI, error) {
	if redisAddr == "" {
		return nil, errors.New("jobs cli: redis address required")
	}
	opts := asynq.RedisClientOpt{Addr: redisAddr}
	return NewJobsCLIWith(asynq.NewClient(opts), asynq.NewInspector(opts)), nil
}

// NewJobsCLIWith builds the helpers around existing queue handles.
func NewJobsCLIWith(client Enqueuer, inspector QueueInspector) *JobsCLI {
	return &JobsCLI{client: client, inspector: inspector}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var errs []error
	if c.inspector != nil {
		errs = append(errs, c.inspector.Close())
	}
	if c.client != nil {
		errs = append(errs, c.client.Close())
	}
	return errors.Join(errs...)
}

// TriggerPass enqueues an agreement pass. Manual triggers are forced by
// default so they run even when the cron already covered the current tick.
func (c *JobsCLI) TriggerPass(ctx context.Context, name string, force bool) (*asynq.TaskInfo, error) {
	pass, err := agreements.ParsePass(name)
	if err != nil {
		return nil, err
	}
	task, err := jobs.NewAgreementPassTask(pass, force)
	if err != nil {
		return nil, err
	}
	return c.enqueue(ctx, task)
}

// Transition enqueues a workflow status transition.
func (c *JobsCLI) Transition(ctx context.Context, entity string, id int64, status string) (*asynq.TaskInfo, error) {
	task, err := jobs.NewTransitionTask(entity, id, status)
	if err != nil {
		return nil, fmt.Errorf("jobs cli: %w", err)
	}
	return c.enqueue(ctx, task)
}

// RecalculateWarranty enqueues a warranty refresh for one asset.
func (c *JobsCLI) RecalculateWarranty(ctx context.Context, assetID int64) (*asynq.TaskInfo, error) {
	task, err := jobs.NewWarrantyTask(assetID)
	if err != nil {
		return nil, fmt.Errorf("jobs cli: %w", err)
	}
	return c.enqueue(ctx, task)
}

func (c *JobsCLI) enqueue(ctx context.Context, task *asynq.Task) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	return c.client.EnqueueContext(ctx, task, asynq.MaxRetry(3))
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
		stats.Archived = info.Archived
	}
	return stats, nil
}
