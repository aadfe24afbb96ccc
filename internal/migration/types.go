// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Castellan Contributors

// Package migration runs ordered, plugin-contributed migration steps and
// streams progress to the broadcast hub.
package migration

import (
	"context"

	"github.com/samber/oops"
)

// Mode selects what a migration job does.
type Mode string

// Migration modes.
const (
	// ModeImport imports from a legacy-format snapshot file.
	ModeImport Mode = "import"
	// ModeClone copies live data from a peer instance.
	ModeClone Mode = "clone"
)

// Hub events published by the orchestrator. Dashboard clients subscribe
// globally to both.
const (
	EventProgress = "migration.progress"
	EventResult   = "migration.result"
)

// Error codes for migration failures.
const (
	// CodeRecordError tags a single record failing inside a step. Counted,
	// never fatal to the step.
	CodeRecordError = "MIGRATION_RECORD"
	// CodeStepError tags a structural step failure. Fatal to the job; no
	// rollback is performed.
	CodeStepError = "MIGRATION_STEP"
	// CodeBadSnapshot tags a legacy snapshot that failed validation.
	CodeBadSnapshot = "BAD_SNAPSHOT"
)

// ErrStep wraps a structural step failure.
func ErrStep(stepID string, cause error) error {
	return oops.Code(CodeStepError).
		With("step", stepID).
		Wrap(cause)
}

// ErrRecord describes one failed record. Step implementations pass these
// to StepReport.Skip.
func ErrRecord(stepID, record string, cause error) error {
	return oops.Code(CodeRecordError).
		With("step", stepID).
		With("record", record).
		Wrap(cause)
}

// Step is one plugin-contributed unit of migration work. Steps run
// strictly sequentially; a later step may depend on earlier ones having
// completed.
type Step interface {
	// ID identifies the step in progress events and logs.
	ID() string
	// Label is the human-readable step description shown on dashboards.
	Label() string
	// Run performs the step. Per-record failures go through
	// report.Skip and do not abort the step; a returned error is a
	// structural failure that terminates the whole job.
	Run(ctx context.Context, report *StepReport) error
}

// ProgressEvent is the step/record progress schema published to the hub.
// Completed never decreases and never exceeds Total until the terminal
// result event.
type ProgressEvent struct {
	JobID     string `json:"job_id"`
	Mode      Mode   `json:"mode"`
	StepID    string `json:"step_id"`
	StepLabel string `json:"step_label"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	// Record counters are present only when a step reports per-record
	// progress; the outer step counters are preserved unchanged.
	RecordIndex int `json:"record_index,omitempty"`
	RecordTotal int `json:"record_total,omitempty"`
}

// Result is the terminal outcome of a migration job. Jobs are created per
// invocation and discarded after; there is no persisted job table.
type Result struct {
	JobID          string         `json:"job_id"`
	Mode           Mode           `json:"mode"`
	Success        bool           `json:"success"`
	Imported       int            `json:"imported"`
	Skipped        int            `json:"skipped"`
	Errors         []string       `json:"errors,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
	StepsCompleted int            `json:"steps_completed"`
	StepsTotal     int            `json:"steps_total"`
}

// SourceSet carries the external sources steps pull from; which field is
// set depends on the mode.
type SourceSet struct {
	Snapshot *Snapshot
	Peer     Peer
}

// Peer is the narrow interface to a peer instance for clone jobs. The
// transport behind it is out of scope here.
type Peer interface {
	// Fetch returns the records a plugin should clone, as generic maps.
	Fetch(ctx context.Context, plugin string) ([]map[string]any, error)
}

// StepProvider is implemented by plugin capability objects that
// contribute migration steps.
type StepProvider interface {
	MigrationSteps(mode Mode, src SourceSet) ([]Step, error)
}
