package cron

import (
	"context"
	"errors"
	"testing"
)

type fakeLock struct {
	available bool
	acquired  int
	released  int
}

func (f *fakeLock) Acquire(ctx context.Context) (bool, error) {
	f.acquired++
	return f.available, nil
}

func (f *fakeLock) Release(ctx context.Context) error {
	f.released++
	return nil
}

type countingJob struct {
	name string
	runs int
	err  error
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) Run(ctx context.Context) error {
	j.runs++
	return j.err
}

func TestRunCycleExecutesAllJobs(t *testing.T) {
	first := &countingJob{name: "first"}
	second := &countingJob{name: "second", err: errors.New("boom")}
	third := &countingJob{name: "third"}
	lock := &fakeLock{available: true}

	svc, err := NewService(ServiceParams{
		Logger:   discardLogger(),
		Registry: NewRegistry(first, second, third),
		Lock:     lock,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	if err := svc.runCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if first.runs != 1 || second.runs != 1 || third.runs != 1 {
		t.Fatalf("expected every job to run once, got %d/%d/%d", first.runs, second.runs, third.runs)
	}
	if lock.released != 1 {
		t.Fatalf("expected lock released, got %d", lock.released)
	}
}

func TestRunCycleSkipsWhenLockHeldElsewhere(t *testing.T) {
	job := &countingJob{name: "only"}
	lock := &fakeLock{available: false}

	svc, err := NewService(ServiceParams{
		Logger:   discardLogger(),
		Registry: NewRegistry(job),
		Lock:     lock,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	if err := svc.runCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if job.runs != 0 {
		t.Fatalf("expected no runs without the lock, got %d", job.runs)
	}
	if lock.released != 0 {
		t.Fatalf("lock released without being held")
	}
}

func TestRegistryIgnoresNilJobs(t *testing.T) {
	registry := NewRegistry(nil, &countingJob{name: "real"})
	registry.Register(nil)
	if len(registry.Jobs()) != 1 {
		t.Fatalf("expected one job, got %d", len(registry.Jobs()))
	}
}
