package sweep

import (
	"errors"
	"fmt"
	"io/fs"
)

var (
	ErrInvocationFailed = errors.New("invocation failed")
	ErrPathNotFound     = errors.New("path not found")
	ErrResetFailed      = errors.New("working directory reset failed")
)

// InvocationError reports an invocation that did not exit cleanly: non-zero
// exit, killed, never started, or rejected by the executor.
type InvocationError struct {
	Invocation Invocation

	// ExitCode is -1 when the program never produced one.
	ExitCode int
	Reason   string
	Err      error
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s: %s", ErrInvocationFailed, e.Invocation, e.Reason)
}

func (e *InvocationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvocationFailed}
	}
	return []error{ErrInvocationFailed, e.Err}
}

// PathError reports a failed working-directory reset.
type PathError struct {
	Path string
	Err  error
}

func (e *PathError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s: %v", e.kind(), e.Path, e.Err)
}

func (e *PathError) kind() error {
	if errors.Is(e.Err, fs.ErrNotExist) || errors.Is(e.Err, ErrPathNotFound) {
		return ErrPathNotFound
	}
	return ErrResetFailed
}

func (e *PathError) Unwrap() []error { return []error{e.kind(), e.Err} }

// IncompleteError is returned by a keep-going sweep that finished with failures.
type IncompleteError struct {
	Planned  int
	Failures []error
}

func (e *IncompleteError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("sweep incomplete: %d of %d invocations failed", len(e.Failures), e.Planned)
}

func (e *IncompleteError) Unwrap() []error { return e.Failures }
