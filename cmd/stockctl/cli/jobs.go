package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/stockroom/jobs"
)

// JobsCLI wraps read-only helpers over the Asynq queues.
type JobsCLI struct {
	inspector *asynq.Inspector
}

// NewJobsCLI connects an inspector to the queue's Redis.
func NewJobsCLI(redisOpts asynq.RedisClientOpt) *JobsCLI {
	return &JobsCLI{inspector: asynq.NewInspector(redisOpts)}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	if c == nil || c.inspector == nil {
		return nil
	}
	return c.inspector.Close()
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

// InspectQueues reports the import and default queues. Queues that never
// received a task report zeros.
func (c *JobsCLI) InspectQueues() ([]QueueStats, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	var out []QueueStats
	for _, q := range []string{jobs.QueueImports, jobs.QueueDefault} {
		stats := QueueStats{Queue: q}
		info, err := c.inspector.GetQueueInfo(q)
		switch {
		case errors.Is(err, asynq.ErrQueueNotFound):
		case err != nil:
			return nil, err
		default:
			stats.Pending = info.Pending
			stats.Active = info.Active
			stats.Scheduled = info.Scheduled
			stats.Retry = info.Retry
			stats.Archived = info.Archived
		}
		out = append(out, stats)
	}
	return out, nil
}

// ImportStatus looks up a catalog import task.
func (c *JobsCLI) ImportStatus(id string) (jobs.TaskStatus, error) {
	if c == nil || c.inspector == nil {
		return jobs.TaskStatus{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetTaskInfo(jobs.QueueImports, id)
	if err != nil {
		return jobs.TaskStatus{}, err
	}
	return jobs.StatusOf(info), nil
}

func newJobsCmd(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect background import jobs",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "queues",
		Short: "Show queue sizes",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openJobs(env)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			stats, err := c.InspectQueues()
			if err != nil {
				return withCode(exitQueue, err)
			}
			tw := tabwriter.NewWriter(env.Out, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "QUEUE\tPENDING\tACTIVE\tSCHEDULED\tRETRY\tARCHIVED")
			for _, s := range stats {
				_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
			}
			return tw.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status TASK_ID",
		Short: "Show the state and result of an enqueued import",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openJobs(env)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			status, err := c.ImportStatus(args[0])
			if err != nil {
				return withCode(exitQueue, err)
			}
			enc := json.NewEncoder(env.Out)
			enc.SetIndent("", "  ")
			return enc.Encode(status)
		},
	})
	return cmd
}

func openJobs(env *Env) (*JobsCLI, error) {
	s, err := env.open()
	if err != nil {
		return nil, err
	}
	c, err := env.NewJobs(s.cfg)
	if err != nil {
		return nil, withCode(exitUsage, err)
	}
	return c, nil
}
