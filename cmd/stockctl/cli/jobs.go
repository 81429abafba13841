package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-stock/jobs"
)

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *jobs.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers for the given Redis connection.
func NewJobsCLI(redisOpts asynq.RedisClientOpt) (*JobsCLI, error) {
	client, err := jobs.NewClient(redisOpts)
	if err != nil {
		return nil, err
	}
	return &JobsCLI{client: client, inspector: asynq.NewInspector(redisOpts)}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// TriggerRefresh queues a snapshot refresh. A refresh already pending in the
// same mode is reported, not duplicated.
func (c *JobsCLI) TriggerRefresh(ctx context.Context, concurrent bool, out Output) int {
	out = out.withDefaults()
	if c == nil || c.client == nil {
		return out.fail("trigger-refresh", errors.New("client not configured"))
	}
	info, err := c.client.EnqueueRefresh(ctx, concurrent)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		_, _ = fmt.Fprintln(out.Stdout, "refresh already queued")
		return ExitOK
	}
	if err != nil {
		return out.fail("trigger-refresh", err)
	}
	_, _ = fmt.Fprintf(out.Stdout, "queued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	return ExitOK
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

// QueueCommand prints queue statistics.
func (c *JobsCLI) QueueCommand(ctx context.Context, out Output) int {
	out = out.withDefaults()
	stats, err := c.InspectQueue(ctx)
	if err != nil {
		return out.fail("queue", err)
	}
	if out.JSON {
		return out.encode("queue", stats)
	}
	_, _ = fmt.Fprintf(out.Stdout, "queue %s: pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
		stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
	return ExitOK
}
