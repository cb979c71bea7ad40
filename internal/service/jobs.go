package service

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/catalogsync/internal/domain"
	"github.com/timmy/catalogsync/internal/logger"
)

// Job names accepted by JobRunner.
const (
	JobDiscover = "discover"
	JobFetchNew = "fetch-new"
	JobRefresh  = "refresh"
	JobFetch    = "fetch"
	JobProcess  = "process"
	JobAll      = "all" // discover when configured, then fetch
)

// Jobs lists every runnable job.
var Jobs = []string{JobDiscover, JobFetchNew, JobRefresh, JobFetch, JobProcess, JobAll}

// JobOptions holds options for one job run
type JobOptions struct {
	Limit  int
	DryRun bool
}

// JobResult describes a finished or running job.
type JobResult struct {
	ID         string          `json:"id" yaml:"id"`
	Job        string          `json:"job" yaml:"job"`
	Running    bool            `json:"running" yaml:"running"`
	StartedAt  time.Time       `json:"started_at" yaml:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	Discovery  *DiscoveryStats `json:"discovery,omitempty" yaml:"discovery,omitempty"`
	Fetch      *FetchStats     `json:"fetch,omitempty" yaml:"fetch,omitempty"`
	Process    *ProcessStats   `json:"process,omitempty" yaml:"process,omitempty"`
	Error      string          `json:"error,omitempty" yaml:"error,omitempty"`
}

// JobRunner runs one job at a time and remembers the last result.
type JobRunner struct {
	discovery *DiscoveryService
	scheduler *RefreshScheduler
	pipeline  *ProcessingPipeline
	timeout   time.Duration

	mu      sync.Mutex
	current *JobResult
	last    *JobResult
}

// NewJobRunner creates a new job runner
// Parameters:
//   - discovery: may be nil when no discoverer is configured.
//   - scheduler: fetch stage.
//   - pipeline: processing stage.
//   - timeout: upper bound for one job; zero means none.
func NewJobRunner(discovery *DiscoveryService, scheduler *RefreshScheduler, pipeline *ProcessingPipeline, timeout time.Duration) *JobRunner {
	return &JobRunner{
		discovery: discovery,
		scheduler: scheduler,
		pipeline:  pipeline,
		timeout:   timeout,
	}
}

// Run executes job synchronously.
// Parameters:
//   - ctx: job context.
//   - job: one of Jobs.
//   - opts: limit and dry-run switch.
// Returns:
//   - *JobResult: stats of every stage the job ran.
//   - error: domain.ErrJobRunning if another job is in progress, or the first stage error.
func (r *JobRunner) Run(ctx context.Context, job string, opts JobOptions) (*JobResult, error) {
	res, err := r.begin(job)
	if err != nil {
		return nil, err
	}
	return r.execute(ctx, res, opts)
}

// Start launches job in the background and returns immediately.
// The job runs detached from ctx but keeps its logger fields.
func (r *JobRunner) Start(ctx context.Context, job string, opts JobOptions) (*JobResult, error) {
	res, err := r.begin(job)
	if err != nil {
		return nil, err
	}
	snapshot := *res
	go func() {
		if _, err := r.execute(context.WithoutCancel(ctx), res, opts); err != nil {
			logger.CtxError(ctx, "Background job failed: job=%s, error=%v", job, err)
		}
	}()
	return &snapshot, nil
}

// Status returns the running job, or the last finished one, or nil.
func (r *JobRunner) Status() *JobResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		cp := *r.current
		return &cp
	}
	if r.last != nil {
		cp := *r.last
		return &cp
	}
	return nil
}

func (r *JobRunner) begin(job string) (*JobResult, error) {
	if !validJob(job) {
		return nil, fmt.Errorf("unknown job %q", job)
	}
	if job == JobDiscover && r.discovery == nil {
		return nil, fmt.Errorf("job %q requires a configured discovery source", job)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobRunning, r.current.Job)
	}
	r.current = &JobResult{
		ID:        uuid.NewString(),
		Job:       job,
		Running:   true,
		StartedAt: time.Now(),
	}
	return r.current, nil
}

func (r *JobRunner) execute(ctx context.Context, res *JobResult, opts JobOptions) (*JobResult, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	ctx = logger.WithFields(ctx, logger.Fields{logger.FieldJob: res.Job})

	discovery, fetchStats, processStats, err := r.stages(ctx, res.Job, opts)

	r.mu.Lock()
	defer r.mu.Unlock()
	finished := time.Now()
	res.Running = false
	res.FinishedAt = &finished
	res.Discovery = discovery
	res.Fetch = fetchStats
	res.Process = processStats
	if err != nil {
		res.Error = err.Error()
	}
	r.current = nil
	r.last = res

	out := *res
	return &out, err
}

func (r *JobRunner) stages(ctx context.Context, job string, opts JobOptions) (*DiscoveryStats, *FetchStats, *ProcessStats, error) {
	var (
		discovery    *DiscoveryStats
		fetchStats   *FetchStats
		processStats *ProcessStats
		err          error
	)

	if job == JobDiscover || (job == JobAll && r.discovery != nil) {
		if discovery, err = r.discovery.Run(ctx, opts.DryRun); err != nil {
			return discovery, nil, nil, err
		}
	}

	var mode RunMode
	switch job {
	case JobFetchNew:
		mode = RunModeNew
	case JobRefresh:
		mode = RunModeRefresh
	case JobFetch, JobAll:
		mode = RunModeAll
	}
	if mode != "" {
		fetchStats, err = r.scheduler.Run(ctx, RunOptions{Mode: mode, Limit: opts.Limit, DryRun: opts.DryRun})
		if err != nil {
			return discovery, fetchStats, nil, err
		}
	}

	// processing reads fetch results from the shared log, so it always runs
	// as its own invocation after the visibility lag rather than chained here
	if job == JobProcess && !opts.DryRun {
		processStats, err = r.pipeline.Run(ctx, opts.Limit)
	}
	return discovery, fetchStats, processStats, err
}

func validJob(job string) bool {
	return slices.Contains(Jobs, job)
}
