//go:build !unix

package tactile

import (
	"os/exec"
)

// getProcessResourceUsage is unavailable without rusage.
func getProcessResourceUsage(cmd *exec.Cmd) *ResourceUsage {
	return nil
}

// setupProcessGroup is a no-op; CommandContext kills the direct child.
func setupProcessGroup(cmd *exec.Cmd) {}
