package main

import (
	"fmt"
	"os"
	"path/filepath"

	"fidsweep/internal/config"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// runInit writes a default config, seeding base_dir from --base-dir or the current directory.
func runInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	}

	cfg := config.DefaultConfig()
	dir := baseDir
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		dir = cwd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve base directory: %w", err)
	}
	cfg.Sweep.BaseDir = abs

	if err := cfg.Save(configPath); err != nil {
		return err
	}
	logger.Info("Wrote config", zap.String("path", configPath), zap.String("base_dir", abs))
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (base_dir: %s)\n", configPath, abs)
	return nil
}
