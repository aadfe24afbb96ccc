// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Castellan Contributors

package migration

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/castellan/castellan/internal/hub"
	"github.com/castellan/castellan/internal/observability"
	"github.com/castellan/castellan/pkg/errutil"
)

// defaultStepTimeout bounds one step. A step that blocks past it fails
// structurally, terminating the job.
const defaultStepTimeout = 10 * time.Minute

// Orchestrator executes migration steps sequentially, never concurrently,
// publishing step-level and record-level progress to the hub's global
// room.
//
// There is no cancellation primitive: once started, a job runs to
// completion or terminal failure. The context is honored only between
// steps, so a host shutdown abandons a job at the next step boundary.
type Orchestrator struct {
	hub         *hub.Hub
	logger      *slog.Logger
	stepTimeout time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStepTimeout bounds each step's execution.
func WithStepTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.stepTimeout = d
		}
	}
}

// WithLogger sets the orchestrator's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// New creates an orchestrator publishing progress through h.
func New(h *hub.Hub, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		hub:         h,
		logger:      slog.Default(),
		stepTimeout: defaultStepTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes the steps in declared order and returns the terminal
// result. A record failing inside a step is counted and processing
// continues; a step failing structurally terminates the job immediately
// with no rollback of earlier effects. One final global event carries the
// full result either way.
func (o *Orchestrator) Run(ctx context.Context, mode Mode, steps []Step) Result {
	jobID := ulid.Make().String()
	job := &jobState{
		result: Result{
			JobID:      jobID,
			Mode:       mode,
			Details:    make(map[string]any),
			StepsTotal: len(steps),
		},
	}

	o.logger.Info("migration job started",
		"job_id", jobID,
		"mode", string(mode),
		"steps", len(steps))

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return o.fail(job, ErrStep(step.ID(), oops.Wrap(err)))
		}

		o.publishProgress(ProgressEvent{
			JobID:     jobID,
			Mode:      mode,
			StepID:    step.ID(),
			StepLabel: step.Label(),
			Completed: job.stepsCompleted(),
			Total:     len(steps),
		})

		report := &StepReport{
			orchestrator: o,
			job:          job,
			stepID:       step.ID(),
			stepLabel:    step.Label(),
		}

		if err := o.runStep(ctx, step, report); err != nil {
			return o.fail(job, ErrStep(step.ID(), err))
		}

		completed := job.completeStep()
		o.logger.Info("migration step completed",
			"job_id", jobID,
			"step", step.ID(),
			"completed", completed,
			"total", len(steps))
	}

	result := job.finish()
	o.hub.PublishGlobal(EventResult, result)
	o.logger.Info("migration job finished",
		"job_id", jobID,
		"imported", result.Imported,
		"skipped", result.Skipped)
	return result
}

// runStep executes one step under the step timeout, converting panics to
// structural errors.
func (o *Orchestrator) runStep(ctx context.Context, step Step, report *StepReport) error {
	stepCtx, cancel := context.WithTimeout(ctx, o.stepTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- oops.With("panic", fmt.Sprint(r)).Errorf("step panicked")
			}
		}()
		done <- step.Run(stepCtx, report)
	}()

	select {
	case err := <-done:
		return err
	case <-stepCtx.Done():
		return stepCtx.Err()
	}
}

func (o *Orchestrator) fail(job *jobState, err error) Result {
	result := job.abort(err)
	errutil.LogError(o.logger, "migration job failed", err)
	o.hub.PublishGlobal(EventResult, result)
	return result
}

func (o *Orchestrator) publishProgress(ev ProgressEvent) {
	o.hub.PublishGlobal(EventProgress, ev)
}

// jobState guards one job's running totals. A timed-out step's goroutine
// is abandoned, not killed, so it may still hold a StepReport after the
// job terminates; the terminal flag turns those late writes into no-ops
// and the counters stay frozen once the terminal result is snapshotted.
type jobState struct {
	mu       sync.Mutex
	result   Result
	terminal bool
}

func (j *jobState) stepsCompleted() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result.StepsCompleted
}

func (j *jobState) completeStep() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.result.StepsCompleted++
	return j.result.StepsCompleted
}

// finish marks the job successful and returns the terminal snapshot.
func (j *jobState) finish() Result {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.terminal = true
	j.result.Success = true
	return j.result
}

// abort marks the job failed and returns the terminal snapshot.
func (j *jobState) abort(err error) Result {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.terminal = true
	j.result.Success = false
	j.result.Errors = append(j.result.Errors, err.Error())
	return j.result
}

// StepReport is the accounting surface a running step writes through. The
// orchestrator owns the counters, keeping them monotonically
// non-decreasing until the job reaches a terminal state; writes after
// that are dropped.
type StepReport struct {
	orchestrator *Orchestrator
	job          *jobState
	stepID       string
	stepLabel    string
}

// Record republishes step progress with record-level counters attached.
// The outer step counters are preserved unchanged. index is 1-based.
func (r *StepReport) Record(index, total int) {
	r.job.mu.Lock()
	if r.job.terminal {
		r.job.mu.Unlock()
		return
	}
	ev := ProgressEvent{
		JobID:       r.job.result.JobID,
		Mode:        r.job.result.Mode,
		StepID:      r.stepID,
		StepLabel:   r.stepLabel,
		Completed:   r.job.result.StepsCompleted,
		Total:       r.job.result.StepsTotal,
		RecordIndex: index,
		RecordTotal: total,
	}
	r.job.mu.Unlock()
	r.orchestrator.publishProgress(ev)
}

// Imported counts one successfully migrated record.
func (r *StepReport) Imported() {
	r.job.mu.Lock()
	if r.job.terminal {
		r.job.mu.Unlock()
		return
	}
	r.job.result.Imported++
	r.job.mu.Unlock()
	observability.RecordMigrationRecord("imported")
}

// Skip counts one failed record and appends its description to the job's
// error list. The step keeps processing the remaining records.
func (r *StepReport) Skip(record string, cause error) {
	err := ErrRecord(r.stepID, record, cause)
	r.job.mu.Lock()
	if r.job.terminal {
		r.job.mu.Unlock()
		return
	}
	r.job.result.Skipped++
	r.job.result.Errors = append(r.job.result.Errors, err.Error())
	r.job.mu.Unlock()
	observability.RecordMigrationRecord("skipped")
	errutil.LogError(r.orchestrator.logger, "migration record skipped", err)
}

// Detail attaches a structured detail to the terminal result.
func (r *StepReport) Detail(key string, value any) {
	r.job.mu.Lock()
	defer r.job.mu.Unlock()
	if r.job.terminal {
		return
	}
	r.job.result.Details[key] = value
}
