package store

import (
	"context"

	"fidsweep/internal/tactile"
)

type okExecutor struct{}

func (okExecutor) Execute(ctx context.Context, cmd tactile.Command) (*tactile.ExecutionResult, error) {
	return &tactile.ExecutionResult{Success: true, ExitCode: 0}, nil
}

func (okExecutor) Capabilities() tactile.ExecutorCapabilities {
	return tactile.ExecutorCapabilities{Name: "ok"}
}

func (okExecutor) Validate(cmd tactile.Command) error { return nil }

type staticDir string

func (d staticDir) Restore() error { return nil }
func (d staticDir) Path() string   { return string(d) }
