package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvOverrides_Sweep(t *testing.T) {
	t.Run("FIDSWEEP_BASE_DIR sets base dir", func(t *testing.T) {
		t.Setenv("FIDSWEEP_BASE_DIR", "/scratch/turbulence")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "/scratch/turbulence", cfg.Sweep.BaseDir)
	})

	t.Run("empty FIDSWEEP_BASE_DIR keeps file value", func(t *testing.T) {
		t.Setenv("FIDSWEEP_BASE_DIR", "")

		cfg := DefaultConfig()
		cfg.Sweep.BaseDir = "/from/file"
		cfg.applyEnvOverrides()

		assert.Equal(t, "/from/file", cfg.Sweep.BaseDir)
	})

	t.Run("FIDSWEEP_PROGRAM and FIDSWEEP_DB", func(t *testing.T) {
		t.Setenv("FIDSWEEP_PROGRAM", "analysis/output.py")
		t.Setenv("FIDSWEEP_DB", "/tmp/ledger.db")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "analysis/output.py", cfg.Sweep.Program)
		assert.Equal(t, "/tmp/ledger.db", cfg.Store.DatabasePath)
	})

	t.Run("empty FIDSWEEP_INTERPRETER runs program directly", func(t *testing.T) {
		t.Setenv("FIDSWEEP_INTERPRETER", "")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Empty(t, cfg.Sweep.Interpreter)
	})
}
