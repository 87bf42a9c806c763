package cron

import "context"

// Job is one billing sweep run by the cron worker, such as finalizing due
// cancellations or refunding stale pending deductions.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry holds the sweeps the worker executes each tick, sequentially and
// in registration order.
type Registry struct {
	jobs []Job
}

// NewRegistry builds a registry preloaded with the provided jobs. Nil
// entries are skipped so callers can register conditionally built jobs
// without guarding.
func NewRegistry(jobs ...Job) *Registry {
	registry := &Registry{}
	for _, job := range jobs {
		registry.Register(job)
	}
	return registry
}

// Register appends a job to the end of the run order.
func (r *Registry) Register(job Job) {
	if job == nil {
		return
	}
	r.jobs = append(r.jobs, job)
}

// Jobs returns a copy of the run order so callers cannot reorder the
// registry underneath the worker loop.
func (r *Registry) Jobs() []Job {
	jobs := make([]Job, len(r.jobs))
	copy(jobs, r.jobs)
	return jobs
}
