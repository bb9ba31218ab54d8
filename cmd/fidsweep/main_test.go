package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"fidsweep/internal/config"
	"fidsweep/internal/store"
	"fidsweep/internal/sweep"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// setupWorkspace writes a config whose program is a shell script logging its
// arguments, and points the global flags at it.
func setupWorkspace(t *testing.T, script string) (ws, argLog string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}

	orig, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Chdir(orig) })

	logger = zap.NewNop()
	keepGoing, stream, force, baseDir = false, false, false, ""
	historyLimit = 20
	t.Cleanup(func() { keepGoing, stream, force, baseDir = false, false, false, "" })

	ws = t.TempDir()
	argLog = filepath.Join(ws, "args.log")
	program := filepath.Join(ws, "output.sh")
	body := "#!/bin/sh\necho \"$*\" >> " + argLog + "\n" + script
	require.NoError(t, os.WriteFile(program, []byte(body), 0755))
	require.NoError(t, os.Mkdir(filepath.Join(ws, "sims"), 0755))

	cfg := config.DefaultConfig()
	cfg.Sweep.Program = program
	cfg.Sweep.BaseDir = filepath.Join(ws, "sims")
	cfg.Store.DatabasePath = filepath.Join(ws, "runs.db")
	cfg.Logging.Dir = filepath.Join(ws, "logs")
	configPath = filepath.Join(ws, "config.yaml")
	require.NoError(t, cfg.Save(configPath))

	t.Setenv("FIDSWEEP_INTERPRETER", "/bin/sh")
	t.Setenv("FIDSWEEP_PROGRAM", program)
	t.Setenv("FIDSWEEP_BASE_DIR", "")
	t.Setenv("FIDSWEEP_DB", "")
	return ws, argLog
}

func newTestCmd() (*cobra.Command, *bytes.Buffer) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	return cmd, &buf
}

func TestRunSweep(t *testing.T) {
	ws, argLog := setupWorkspace(t, "")
	cmd, buf := newTestCmd()

	require.NoError(t, runSweep(cmd, nil))

	out := buf.String()
	assert.Contains(t, out, "[18/18] fiducial_comparisons_face2")
	assert.Contains(t, out, "succeeded")
	assert.Contains(t, out, "completed 18, failed 0, skipped 0 of 18")

	data, err := os.ReadFile(argLog)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 18)
	assert.Equal(t, "Fiducial0.0.0 0 fiducial0.0 F", lines[0])
	assert.Equal(t, "fid_comp 2 fiducial_comparisons_face2 F 10 F", lines[17])

	// The process ends up in the base directory.
	cwd, err := os.Getwd()
	require.NoError(t, err)
	want, err := filepath.EvalSymlinks(filepath.Join(ws, "sims"))
	require.NoError(t, err)
	got, err := filepath.EvalSymlinks(cwd)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	ledger, err := store.Open(filepath.Join(ws, "runs.db"))
	require.NoError(t, err)
	defer ledger.Close()
	runs, err := ledger.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, sweep.StatusSucceeded, runs[0].Status)
	assert.Equal(t, 18, runs[0].Completed)
}

func TestRunSweep_FailFast(t *testing.T) {
	_, argLog := setupWorkspace(t, "case \"$1\" in Fiducial1.1.0) echo 'cube missing' >&2; exit 3;; esac\n")
	cmd, buf := newTestCmd()

	err := runSweep(cmd, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, sweep.ErrInvocationFailed)

	out := buf.String()
	assert.Contains(t, out, "FAILED")
	assert.Contains(t, out, "aborted")
	assert.Contains(t, out, "cube missing")
	assert.Contains(t, out, "completed 4, failed 1, skipped 13 of 18")

	data, err := os.ReadFile(argLog)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 5)
}

func TestRunSweep_KeepGoing(t *testing.T) {
	_, argLog := setupWorkspace(t, "case \"$1\" in Fiducial1.1.0|fid_comp) exit 3;; esac\n")
	keepGoing = true
	cmd, buf := newTestCmd()

	err := runSweep(cmd, nil)
	require.Error(t, err)

	var incomplete *sweep.IncompleteError
	require.ErrorAs(t, err, &incomplete)
	assert.Len(t, incomplete.Failures, 4)
	assert.Contains(t, buf.String(), "completed 14, failed 4, skipped 0 of 18")

	data, err := os.ReadFile(argLog)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 18)
}

func TestRunSweep_MissingBaseDir(t *testing.T) {
	ws, _ := setupWorkspace(t, "")
	baseDir = filepath.Join(ws, "does-not-exist")
	cmd, _ := newTestCmd()

	err := runSweep(cmd, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, sweep.ErrPathNotFound)
}

func TestRunSweep_Stream(t *testing.T) {
	setupWorkspace(t, "echo \"analysing $3\"\n")
	stream = true
	cmd, buf := newTestCmd()

	require.NoError(t, runSweep(cmd, nil))
	assert.Contains(t, buf.String(), "analysing fiducial3.2")
	assert.Contains(t, buf.String(), "Fiducial3.2.0 2 fiducial3.2 F")
}

func TestShowPlan(t *testing.T) {
	setupWorkspace(t, "")
	cmd, buf := newTestCmd()

	require.NoError(t, showPlan(cmd, nil))

	out := buf.String()
	assert.Contains(t, out, "Sweep plan (18 invocations)")
	assert.Contains(t, out, "Fiducial2.1.0 1 fiducial2.1 F")
	assert.Contains(t, out, "fid_comp 0 fiducial_comparisons_face0 F 10 F")
	assert.Contains(t, out, "/bin/sh ")
	assert.Contains(t, out, "Returns to ")
}

func TestShowHistory(t *testing.T) {
	ws, _ := setupWorkspace(t, "case \"$1\" in Fiducial0.2.0) exit 1;; esac\n")
	keepGoing = true

	cmd, buf := newTestCmd()
	require.Error(t, runSweep(cmd, nil))

	buf.Reset()
	require.NoError(t, showHistory(cmd, nil))
	assert.Contains(t, buf.String(), "Recorded sweeps")
	assert.Contains(t, buf.String(), "failed")
	assert.Contains(t, buf.String(), "17/18")

	ledger, err := store.Open(filepath.Join(ws, "runs.db"))
	require.NoError(t, err)
	runs, err := ledger.ListRuns(context.Background(), 1)
	require.NoError(t, err)
	ledger.Close()
	require.Len(t, runs, 1)

	buf.Reset()
	require.NoError(t, showHistory(cmd, []string{runs[0].ID[:8]}))
	out := buf.String()
	assert.Contains(t, out, runs[0].ID)
	assert.Contains(t, out, "fiducial0.2")
	assert.Contains(t, out, "exit status 1")

	err = showHistory(cmd, []string{"no-such-run"})
	assert.True(t, errors.Is(err, store.ErrRunNotFound), "got %v", err)
}

func TestShowHistory_Empty(t *testing.T) {
	setupWorkspace(t, "")
	cmd, buf := newTestCmd()

	require.NoError(t, showHistory(cmd, nil))
	assert.Contains(t, buf.String(), "No sweeps recorded")
}

func TestInitCmd(t *testing.T) {
	logger = zap.NewNop()
	ws := t.TempDir()
	configPath = filepath.Join(ws, ".fidsweep", "config.yaml")
	baseDir = filepath.Join(ws, "sims")
	t.Cleanup(func() { baseDir, force = "", false })

	cmd, buf := newTestCmd()
	require.NoError(t, runInit(cmd, nil))
	assert.Contains(t, buf.String(), "base_dir: "+baseDir)

	cfg, err := config.Load(configPath)
	require.NoError(t, err)
	if _, set := os.LookupEnv("FIDSWEEP_BASE_DIR"); !set {
		assert.Equal(t, baseDir, cfg.Sweep.BaseDir)
	}
	assert.Equal(t, 5, cfg.Sweep.Fiducials)

	// Refuses to clobber without --force
	err = runInit(cmd, nil)
	assert.Error(t, err)

	force = true
	assert.NoError(t, runInit(cmd, nil))
}

func TestCounter(t *testing.T) {
	assert.Equal(t, "[ 1/18]", counter(0, 18))
	assert.Equal(t, "[18/18]", counter(17, 18))
	assert.Equal(t, "[3/5]", counter(2, 5))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KiB", formatBytes(1536))
	assert.Equal(t, "20.0 MiB", formatBytes(20*1024*1024))
}

func TestRunSweep_AuditLog(t *testing.T) {
	ws, _ := setupWorkspace(t, "")
	cfg, err := config.Load(configPath)
	require.NoError(t, err)
	cfg.Execution.AuditLog = filepath.Join(ws, "audit.jsonl")
	require.NoError(t, cfg.Save(configPath))

	cmd, buf := newTestCmd()
	require.NoError(t, runSweep(cmd, nil))
	assert.Contains(t, buf.String(), "18 processes")

	data, err := os.ReadFile(filepath.Join(ws, "audit.jsonl"))
	require.NoError(t, err)
	// start + complete per invocation
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 36)
}
