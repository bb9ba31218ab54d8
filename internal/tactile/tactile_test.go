package tactile

import (
	"bytes"
	"context"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

func TestDirectExecutor_Execute(t *testing.T) {
	skipOnWindows(t)
	executor := NewDirectExecutor()

	result, err := executor.Execute(context.Background(), Command{
		Binary:    "echo",
		Arguments: []string{"Fiducial2.1.0", "1", "fiducial2.1", "F"},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if !result.Success {
		t.Errorf("Expected success, got failure: %s", result.Error)
	}
	if result.ExitCode != 0 {
		t.Errorf("Expected exit code 0, got %d", result.ExitCode)
	}
	if result.Failed() {
		t.Errorf("Expected Failed=false for clean exit")
	}
	if !strings.Contains(result.Output(), "Fiducial2.1.0 1 fiducial2.1 F") {
		t.Errorf("Expected arguments echoed in order, got: %s", result.Output())
	}
}

func TestDirectExecutor_Timeout(t *testing.T) {
	skipOnWindows(t)
	executor := NewDirectExecutor()

	cmd := Command{
		Binary:    "sleep",
		Arguments: []string{"10"},
		Limits: &ResourceLimits{
			TimeoutMs: 500,
		},
	}

	start := time.Now()
	result, err := executor.Execute(context.Background(), cmd)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.Killed {
		t.Errorf("Expected command to be killed")
	}
	if !strings.Contains(result.KillReason, "timeout") {
		t.Errorf("Expected kill reason to mention timeout, got: %s", result.KillReason)
	}
	if !result.Failed() {
		t.Errorf("Expected killed command to count as failed")
	}
	if elapsed > 3*time.Second {
		t.Errorf("Timeout didn't work, elapsed: %v", elapsed)
	}
}

func TestDirectExecutor_MaxTimeoutCapsUnboundedCommand(t *testing.T) {
	skipOnWindows(t)
	config := DefaultExecutorConfig()
	config.MaxTimeout = 300 * time.Millisecond
	executor := NewDirectExecutorWithConfig(config)

	result, err := executor.Execute(context.Background(), Command{Binary: "sleep", Arguments: []string{"10"}})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.Killed {
		t.Errorf("Expected MaxTimeout to kill the command")
	}
}

func TestDirectExecutor_NonZeroExit(t *testing.T) {
	skipOnWindows(t)
	executor := NewDirectExecutor()

	result, err := executor.Execute(context.Background(), Command{
		Binary:    "sh",
		Arguments: []string{"-c", "exit 3"},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	// Success should be true (command ran)
	if !result.Success {
		t.Errorf("Expected success=true for non-zero exit, got: %s", result.Error)
	}
	if result.ExitCode != 3 {
		t.Errorf("Expected exit code 3, got %d", result.ExitCode)
	}
	if !result.IsNonZeroExit() || !result.Failed() {
		t.Errorf("Expected non-zero exit to be reported as failed")
	}
}

func TestDirectExecutor_InvalidCommand(t *testing.T) {
	executor := NewDirectExecutor()

	result, err := executor.Execute(context.Background(), Command{Binary: "nonexistent_command_12345"})
	if err != nil {
		t.Fatalf("Execute returned error instead of result: %v", err)
	}
	if result.Success {
		t.Errorf("Expected failure for invalid command")
	}
	if result.Error == "" {
		t.Errorf("Expected error message for invalid command")
	}
	if result.ExitCode != -1 {
		t.Errorf("Expected exit code -1 when process never started, got %d", result.ExitCode)
	}
}

func TestDirectExecutor_WorkingDirectory(t *testing.T) {
	skipOnWindows(t)
	executor := NewDirectExecutor()
	tempDir := t.TempDir()

	result, err := executor.Execute(context.Background(), Command{
		Binary:           "pwd",
		WorkingDirectory: tempDir,
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	want, _ := filepath.EvalSymlinks(tempDir)
	got, _ := filepath.EvalSymlinks(strings.TrimSpace(result.Stdout))
	if got != want {
		t.Errorf("Expected working directory %s, got: %s", want, got)
	}
}

func TestDirectExecutor_DefaultWorkingDirectory(t *testing.T) {
	skipOnWindows(t)
	config := DefaultExecutorConfig()
	config.DefaultWorkingDir = t.TempDir()
	executor := NewDirectExecutorWithConfig(config)

	result, err := executor.Execute(context.Background(), Command{Binary: "pwd"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	want, _ := filepath.EvalSymlinks(config.DefaultWorkingDir)
	got, _ := filepath.EvalSymlinks(strings.TrimSpace(result.Stdout))
	if got != want {
		t.Errorf("Expected default working directory %s, got: %s", want, got)
	}
}

func TestDirectExecutor_OutputCapture(t *testing.T) {
	skipOnWindows(t)
	executor := NewDirectExecutor()

	result, err := executor.Execute(context.Background(), Command{
		Binary:    "sh",
		Arguments: []string{"-c", "echo stdout; echo stderr >&2"},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if !strings.Contains(result.Stdout, "stdout") {
		t.Errorf("Expected stdout to contain 'stdout', got: %s", result.Stdout)
	}
	if !strings.Contains(result.Stderr, "stderr") {
		t.Errorf("Expected stderr to contain 'stderr', got: %s", result.Stderr)
	}
}

func TestDirectExecutor_LiveOutput(t *testing.T) {
	skipOnWindows(t)
	var live bytes.Buffer
	config := DefaultExecutorConfig()
	config.Stdout = &live
	executor := NewDirectExecutorWithConfig(config)

	result, err := executor.Execute(context.Background(), Command{Binary: "echo", Arguments: []string{"streamed"}})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !strings.Contains(live.String(), "streamed") {
		t.Errorf("Expected live writer to receive output, got: %q", live.String())
	}
	if !strings.Contains(result.Stdout, "streamed") {
		t.Errorf("Expected captured output alongside live output, got: %q", result.Stdout)
	}
}

func TestDirectExecutor_OutputTruncation(t *testing.T) {
	skipOnWindows(t)
	config := DefaultExecutorConfig()
	config.MaxOutputBytes = 50
	executor := NewDirectExecutorWithConfig(config)

	result, err := executor.Execute(context.Background(), Command{
		Binary:    "sh",
		Arguments: []string{"-c", "echo " + strings.Repeat("A", 100)},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if !result.Truncated {
		t.Errorf("Expected output to be truncated, got len=%d", len(result.Stdout))
	}
	if result.TruncatedBytes == 0 {
		t.Errorf("Expected truncated bytes > 0")
	}
	if len(result.Stdout) != 50 {
		t.Errorf("Expected 50 captured bytes, got %d", len(result.Stdout))
	}
}

func TestDirectExecutor_ContextCancellation(t *testing.T) {
	skipOnWindows(t)
	executor := NewDirectExecutor()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	result, err := executor.Execute(ctx, Command{Binary: "sleep", Arguments: []string{"10"}})
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.Killed {
		t.Errorf("Expected command to be killed")
	}
	if !strings.Contains(result.KillReason, "canceled") {
		t.Errorf("Expected kill reason to mention canceled, got: %s", result.KillReason)
	}
	if elapsed > 3*time.Second {
		t.Errorf("Cancellation didn't work quickly, elapsed: %v", elapsed)
	}
}

func TestDirectExecutor_Environment(t *testing.T) {
	skipOnWindows(t)
	t.Setenv("FIDSWEEP_TEST_PASSTHROUGH", "kept")
	t.Setenv("FIDSWEEP_TEST_HIDDEN", "hidden")

	config := DefaultExecutorConfig()
	config.AllowedEnvironment = []string{"PATH", "FIDSWEEP_TEST_PASSTHROUGH"}
	executor := NewDirectExecutorWithConfig(config)

	result, err := executor.Execute(context.Background(), Command{
		Binary:      "sh",
		Arguments:   []string{"-c", "echo $FIDSWEEP_TEST_PASSTHROUGH:$FIDSWEEP_TEST_HIDDEN:$EXTRA"},
		Environment: []string{"EXTRA=added"},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got := strings.TrimSpace(result.Stdout); got != "kept::added" {
		t.Errorf("Expected filtered environment, got: %q", got)
	}
}

func TestDirectExecutor_InheritsEnvironmentByDefault(t *testing.T) {
	skipOnWindows(t)
	t.Setenv("FIDSWEEP_TEST_INHERITED", "yes")
	executor := NewDirectExecutor()

	result, err := executor.Execute(context.Background(), Command{
		Binary:    "sh",
		Arguments: []string{"-c", "echo $FIDSWEEP_TEST_INHERITED"},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if strings.TrimSpace(result.Stdout) != "yes" {
		t.Errorf("Expected inherited variable, got: %q", result.Stdout)
	}
}

func TestDirectExecutor_AuditEvents(t *testing.T) {
	skipOnWindows(t)
	var mu sync.Mutex
	var events []AuditEventType

	executor := NewDirectExecutor()
	executor.SetAuditCallback(func(e AuditEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e.Type)
	})

	if _, err := executor.Execute(context.Background(), Command{Binary: "true", SessionID: "run-1"}); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if _, err := executor.Execute(context.Background(), Command{Binary: "nonexistent_command_12345"}); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []AuditEventType{AuditEventStart, AuditEventComplete, AuditEventStart, AuditEventError}
	if len(events) != len(want) {
		t.Fatalf("Expected %d events, got %v", len(want), events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], events[i])
		}
	}
}

func TestDirectExecutor_Validate(t *testing.T) {
	executor := NewDirectExecutor()

	if err := executor.Validate(Command{Binary: "echo"}); err != nil {
		t.Errorf("Expected valid command to pass validation: %v", err)
	}
	if err := executor.Validate(Command{Binary: ""}); err == nil {
		t.Errorf("Expected empty binary to fail validation")
	}
	if err := executor.Validate(Command{Binary: "echo", Limits: &ResourceLimits{TimeoutMs: -1}}); err == nil {
		t.Errorf("Expected negative timeout to fail validation")
	}

	if _, err := executor.Execute(context.Background(), Command{}); err == nil {
		t.Errorf("Expected Execute to return validation error")
	}
}

func TestDirectExecutor_Capabilities(t *testing.T) {
	executor := NewDirectExecutor()
	caps := executor.Capabilities()

	if caps.Name != "direct" {
		t.Errorf("Expected name 'direct', got: %s", caps.Name)
	}
	if caps.Platform != runtime.GOOS {
		t.Errorf("Expected platform %s, got: %s", runtime.GOOS, caps.Platform)
	}
}

func TestCommand_CommandString(t *testing.T) {
	cmd := Command{
		Binary:    "python",
		Arguments: []string{"output.py", "fid_comp", "0", "fiducial_comparisons_face0", "F", "10", "F"},
	}
	if got := cmd.CommandString(); got != "python output.py fid_comp 0 fiducial_comparisons_face0 F 10 F" {
		t.Errorf("Unexpected command string: %s", got)
	}

	cmd = Command{Binary: "ls"}
	if cmd.CommandString() != "ls" {
		t.Errorf("Unexpected command string for no args: %s", cmd.CommandString())
	}
}

func TestExecutorConfig_Merge(t *testing.T) {
	config := DefaultExecutorConfig()
	config.DefaultWorkingDir = "/data"
	config.DefaultTimeout = 2 * time.Second

	merged := config.Merge(Command{Binary: "python"})
	if merged.WorkingDirectory != "/data" {
		t.Errorf("Expected default working dir, got %q", merged.WorkingDirectory)
	}
	if merged.Limits.TimeoutMs != 2000 {
		t.Errorf("Expected 2000ms timeout, got %d", merged.Limits.TimeoutMs)
	}
	if merged.Limits.MaxOutputBytes != config.MaxOutputBytes {
		t.Errorf("Expected default output cap, got %d", merged.Limits.MaxOutputBytes)
	}

	own := &ResourceLimits{TimeoutMs: 5}
	merged = config.Merge(Command{Binary: "python", WorkingDirectory: "/elsewhere", Limits: own})
	if merged.WorkingDirectory != "/elsewhere" || merged.Limits.TimeoutMs != 5 {
		t.Errorf("Expected command settings to win, got %+v", merged)
	}
	if merged.Limits == own {
		t.Errorf("Expected Merge to copy limits, not alias them")
	}
}

func TestExecutionResult_Helpers(t *testing.T) {
	result := &ExecutionResult{Success: true}
	if result.IsError() {
		t.Errorf("Expected IsError=false for successful result")
	}

	result = &ExecutionResult{Success: false, Error: "something failed"}
	if !result.IsError() || !result.Failed() {
		t.Errorf("Expected IsError=true for failed result")
	}

	result = &ExecutionResult{Combined: "combined output"}
	if result.Output() != "combined output" {
		t.Errorf("Expected Output to return Combined")
	}

	result = &ExecutionResult{Stdout: "stdout", Stderr: "stderr"}
	output := result.Output()
	if !strings.Contains(output, "stdout") || !strings.Contains(output, "stderr") {
		t.Errorf("Expected Output to contain both stdout and stderr, got: %s", output)
	}

	result = &ExecutionResult{Combined: "0123456789"}
	if got := result.Tail(4); got != "6789" {
		t.Errorf("Expected tail 6789, got %q", got)
	}
	if got := result.Tail(0); got != "0123456789" {
		t.Errorf("Expected full output for n=0, got %q", got)
	}
}

func TestResourceUsage_TotalCPUTimeMs(t *testing.T) {
	usage := &ResourceUsage{UserTimeMs: 100, SystemTimeMs: 50}
	if usage.TotalCPUTimeMs() != 150 {
		t.Errorf("Expected 150, got %d", usage.TotalCPUTimeMs())
	}
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
