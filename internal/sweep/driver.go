package sweep

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"fidsweep/internal/logging"
	"fidsweep/internal/tactile"

	"github.com/google/uuid"
)

// defaultTailBytes bounds how much program output an Outcome keeps.
const defaultTailBytes = 2048

// Restorer returns the process to a fixed working directory.
type Restorer interface {
	Restore() error
	Path() string
}

// Recorder persists run progress. Recorder errors are logged, never fatal.
type Recorder interface {
	BeginRun(ctx context.Context, run RunInfo) error
	RecordOutcome(ctx context.Context, runID string, out Outcome) error
	FinishRun(ctx context.Context, report *Report) error
}

// Observer is notified around every invocation (progress display).
type Observer interface {
	InvocationStarted(inv Invocation, planned int)
	InvocationFinished(out Outcome, planned int)
}

// Driver executes a plan sequentially through a tactile.Executor.
type Driver struct {
	exec tactile.Executor
	dir  Restorer

	program     string
	interpreter string
	workingDir  string
	failFast    bool
	tailBytes   int

	recorder Recorder
	observer Observer
	newID    func() string
	now      func() time.Time
}

// Option configures a Driver.
type Option func(*Driver)

// WithProgram sets the analysis program and, optionally, the interpreter that runs it.
func WithProgram(program, interpreter string) Option {
	return func(d *Driver) {
		d.program = program
		d.interpreter = interpreter
	}
}

// WithWorkingDir sets the directory the program starts in ("" inherits the process directory).
func WithWorkingDir(dir string) Option {
	return func(d *Driver) { d.workingDir = dir }
}

// WithFailFast controls whether the first failed invocation aborts the sweep.
func WithFailFast(failFast bool) Option {
	return func(d *Driver) { d.failFast = failFast }
}

func WithRecorder(r Recorder) Option {
	return func(d *Driver) { d.recorder = r }
}

func WithObserver(o Observer) Option {
	return func(d *Driver) { d.observer = o }
}

// WithIDGenerator replaces the UUID run-ID source.
func WithIDGenerator(fn func() string) Option {
	return func(d *Driver) { d.newID = fn }
}

func WithClock(fn func() time.Time) Option {
	return func(d *Driver) { d.now = fn }
}

// WithOutputTail sets how many trailing output bytes each Outcome keeps.
func WithOutputTail(n int) Option {
	return func(d *Driver) { d.tailBytes = n }
}

// NewDriver creates a fail-fast driver for output.py run by python.
func NewDriver(exec tactile.Executor, dir Restorer, opts ...Option) *Driver {
	d := &Driver{
		exec:        exec,
		dir:         dir,
		program:     "output.py",
		interpreter: "python",
		failFast:    true,
		tailBytes:   defaultTailBytes,
		newID:       uuid.NewString,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run executes plan in order. The returned Report is never nil; the error is
// non-nil whenever any invocation failed, a reset failed, or ctx was canceled.
func (d *Driver) Run(ctx context.Context, plan []Invocation) (*Report, error) {
	report := &Report{
		RunInfo: RunInfo{
			ID:        d.newID(),
			StartedAt: d.now(),
			Program:   d.commandPrefix(),
			BaseDir:   d.dir.Path(),
			Planned:   len(plan),
			FailFast:  d.failFast,
		},
		Status:   StatusRunning,
		Outcomes: make([]Outcome, 0, len(plan)),
	}

	log := logging.Get(logging.CategorySweep).With("run_id", report.ID)
	log.Info("Starting sweep: %d invocations, fail_fast=%v, base=%s", report.Planned, d.failFast, report.BaseDir)

	// Ledger writes must survive cancellation of the sweep itself.
	recordCtx := context.WithoutCancel(ctx)
	if d.recorder != nil {
		if err := d.recorder.BeginRun(recordCtx, report.RunInfo); err != nil {
			log.Warn("Recorder BeginRun failed: %v", err)
		}
	}

	var failures []error
	var runErr error

	for _, inv := range plan {
		if err := ctx.Err(); err != nil {
			runErr = d.canceled(report, err)
			break
		}

		out, resetErr := d.step(ctx, report, inv)
		report.Outcomes = append(report.Outcomes, out)

		if d.recorder != nil {
			if err := d.recorder.RecordOutcome(recordCtx, report.ID, out); err != nil {
				log.Warn("Recorder RecordOutcome failed for %s: %v", inv, err)
			}
		}

		if resetErr != nil {
			log.Error("Working directory reset failed after %s: %v", inv, resetErr)
			report.Status = StatusAborted
			runErr = fmt.Errorf("sweep aborted after %d of %d invocations: %w",
				len(report.Outcomes), report.Planned, errors.Join(out.Err, resetErr))
			break
		}

		if err := ctx.Err(); err != nil {
			runErr = d.canceled(report, err)
			break
		}

		if out.Err != nil {
			failures = append(failures, out.Err)
			if d.failFast {
				log.Error("Aborting sweep: %v", out.Err)
				report.Status = StatusAborted
				runErr = fmt.Errorf("sweep aborted after %d of %d invocations: %w",
					len(report.Outcomes), report.Planned, out.Err)
				break
			}
			log.Warn("Continuing past failure: %v", out.Err)
		}
	}

	if runErr == nil {
		if len(failures) > 0 {
			report.Status = StatusFailed
			runErr = &IncompleteError{Planned: report.Planned, Failures: failures}
		} else {
			report.Status = StatusSucceeded
		}
	}
	report.FinishedAt = d.now()

	if d.recorder != nil {
		if err := d.recorder.FinishRun(recordCtx, report); err != nil {
			log.Warn("Recorder FinishRun failed: %v", err)
		}
	}

	log.Info("Sweep %s: %d completed, %d failed, %d skipped in %s",
		report.Status, report.Completed(), len(report.Failures()), report.Skipped(), report.Duration())

	return report, runErr
}

func (d *Driver) canceled(report *Report, cause error) error {
	report.Status = StatusCanceled
	return fmt.Errorf("sweep canceled after %d of %d invocations: %w", len(report.Outcomes), report.Planned, cause)
}

// step runs one invocation and then restores the working directory. The
// restore is deferred so it happens however invoke returns.
func (d *Driver) step(ctx context.Context, report *Report, inv Invocation) (out Outcome, resetErr error) {
	defer func() {
		if err := d.dir.Restore(); err != nil {
			resetErr = &PathError{Path: d.dir.Path(), Err: err}
		}
	}()

	if d.observer != nil {
		d.observer.InvocationStarted(inv, report.Planned)
	}
	out = d.invoke(ctx, report.ID, inv)
	if d.observer != nil {
		d.observer.InvocationFinished(out, report.Planned)
	}
	return out, nil
}

func (d *Driver) invoke(ctx context.Context, runID string, inv Invocation) Outcome {
	cmd := d.command(runID, inv)
	out := Outcome{
		Invocation: inv,
		Command:    cmd.CommandString(),
		ExitCode:   -1,
		StartedAt:  d.now(),
	}

	logging.SweepDebug("Invoking %s", out.Command)
	res, err := d.exec.Execute(ctx, cmd)
	if err != nil {
		out.Err = &InvocationError{Invocation: inv, ExitCode: -1, Reason: "rejected: " + err.Error(), Err: err}
		return out
	}

	out.ExitCode = res.ExitCode
	out.Duration = res.Duration
	out.OutputTail = res.Tail(d.tailBytes)

	switch {
	case res.IsError():
		out.Err = &InvocationError{Invocation: inv, ExitCode: -1, Reason: "could not start: " + res.Error}
	case res.Killed:
		out.Err = &InvocationError{Invocation: inv, ExitCode: res.ExitCode, Reason: "killed: " + res.KillReason}
	case res.ExitCode != 0:
		out.Err = &InvocationError{Invocation: inv, ExitCode: res.ExitCode, Reason: "exit status " + strconv.Itoa(res.ExitCode)}
	}
	return out
}

// command builds the tactile command for inv.
func (d *Driver) command(runID string, inv Invocation) tactile.Command {
	binary, args := d.program, inv.Args
	if d.interpreter != "" {
		binary = d.interpreter
		args = append([]string{d.program}, inv.Args...)
	}
	return tactile.Command{
		Binary:           binary,
		Arguments:        args,
		WorkingDirectory: d.workingDir,
		SessionID:        runID,
		RequestID:        fmt.Sprintf("%s/%02d", runID, inv.Seq),
		Tags: map[string]string{
			"stage": string(inv.Stage),
			"face":  strconv.Itoa(inv.Face),
			"label": inv.Label(),
		},
	}
}

func (d *Driver) commandPrefix() string {
	if d.interpreter == "" {
		return d.program
	}
	return d.interpreter + " " + d.program
}
