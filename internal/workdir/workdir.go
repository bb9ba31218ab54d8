// Package workdir restores the process working directory to a fixed base
// path after each external invocation.
package workdir

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"fidsweep/internal/logging"
)

// Guard holds the base directory the process returns to.
type Guard struct {
	base string
}

// New resolves base to an absolute directory. A missing base is reported
// up front rather than after the first invocation.
func New(base string) (*Guard, error) {
	if base == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory %q: %w", base, err)
	}
	if err := checkDir(abs); err != nil {
		return nil, err
	}
	logging.WorkdirDebug("Guarding working directory %s", abs)
	return &Guard{base: abs}, nil
}

// Path returns the absolute base directory.
func (g *Guard) Path() string { return g.base }

// Run calls fn and then restores the base directory whatever fn returned.
// Both errors are reported.
func (g *Guard) Run(fn func() error) error {
	err := fn()
	if rerr := g.Restore(); rerr != nil {
		return errors.Join(err, rerr)
	}
	return err
}

// Restore changes the process working directory back to the base.
func (g *Guard) Restore() error {
	if err := checkDir(g.base); err != nil {
		logging.WorkdirError("Restore target unavailable: %v", err)
		return err
	}
	if err := os.Chdir(g.base); err != nil {
		logging.WorkdirError("chdir %s failed: %v", g.base, err)
		return fmt.Errorf("chdir: %w", err)
	}
	logging.WorkdirDebug("Restored working directory to %s", g.base)
	return nil
}

func checkDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}
	return nil
}
