package sweep

import (
	"time"
)

// Status is the terminal state of a sweep run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"   // keep-going run finished with failures
	StatusAborted   Status = "aborted"  // stopped at the first failure or a reset error
	StatusCanceled  Status = "canceled" // context canceled mid-sweep
)

// Outcome is what happened to one invocation.
type Outcome struct {
	Invocation Invocation    `json:"invocation"`
	Command    string        `json:"command"`
	ExitCode   int           `json:"exit_code"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	OutputTail string        `json:"output_tail,omitempty"`
	Err        error         `json:"-"`
}

// Succeeded reports whether the invocation exited cleanly.
func (o Outcome) Succeeded() bool { return o.Err == nil }

// RunInfo describes a sweep run as it starts.
type RunInfo struct {
	ID        string
	StartedAt time.Time
	Program   string
	BaseDir   string
	Planned   int
	FailFast  bool
}

// Report summarizes a sweep run.
type Report struct {
	RunInfo
	FinishedAt time.Time
	Status     Status
	Outcomes   []Outcome
}

// Completed counts invocations that exited cleanly.
func (r *Report) Completed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Succeeded() {
			n++
		}
	}
	return n
}

// Failures returns the outcomes that did not exit cleanly, in plan order.
func (r *Report) Failures() []Outcome {
	var failed []Outcome
	for _, o := range r.Outcomes {
		if !o.Succeeded() {
			failed = append(failed, o)
		}
	}
	return failed
}

// Skipped counts planned invocations that never ran.
func (r *Report) Skipped() int {
	return r.Planned - len(r.Outcomes)
}

// Duration is the wall time of the whole run.
func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
