package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"fidsweep/cmd/fidsweep/ui"
	"fidsweep/internal/config"
	"fidsweep/internal/store"
	"fidsweep/internal/sweep"
	"fidsweep/internal/tactile"
	"fidsweep/internal/workdir"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// runSweep executes the configured sweep.
func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if keepGoing {
		cfg.Sweep.FailFast = false
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Info("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	guard, err := workdir.New(cfg.Sweep.BaseDir)
	if err != nil {
		return &sweep.PathError{Path: cfg.Sweep.BaseDir, Err: err}
	}

	out := cmd.OutOrStdout()
	styles := ui.DefaultStyles()

	audit := newAudit(cfg)
	defer audit.Close()
	executor := newExecutor(cmd, cfg, audit)
	opts := []sweep.Option{
		sweep.WithProgram(cfg.Sweep.Program, cfg.Sweep.Interpreter),
		sweep.WithWorkingDir(cfg.Execution.WorkingDirectory),
		sweep.WithFailFast(cfg.Sweep.FailFast),
		sweep.WithObserver(newProgress(out, styles, stream)),
	}

	if cfg.Store.Enabled {
		ledger, err := store.Open(cfg.Store.DatabasePath)
		if err != nil {
			logger.Warn("Run ledger unavailable; sweep will not be recorded", zap.Error(err))
		} else {
			defer ledger.Close()
			opts = append(opts, sweep.WithRecorder(ledger))
		}
	}

	plan := sweep.Plan(sweepParams(cfg))
	logger.Info("Starting sweep",
		zap.Int("invocations", len(plan)),
		zap.String("program", cfg.Sweep.Program),
		zap.String("base_dir", guard.Path()),
		zap.Bool("fail_fast", cfg.Sweep.FailFast))

	driver := sweep.NewDriver(executor, guard, opts...)
	report, runErr := driver.Run(ctx, plan)

	fmt.Fprint(out, renderSummary(report, styles))
	fmt.Fprintln(out, renderUsage(audit.Metrics(), styles))

	if runErr != nil {
		logger.Error("Sweep did not complete", zap.String("run_id", report.ID), zap.Error(runErr))
		if errors.Is(runErr, sweep.ErrPathNotFound) {
			return fmt.Errorf("base directory vanished during sweep: %w", runErr)
		}
		return runErr
	}
	logger.Info("Sweep complete", zap.String("run_id", report.ID), zap.Duration("duration", report.Duration()))
	return nil
}

// newAudit logs every execution event at debug level and, when configured, to a JSON Lines file.
func newAudit(cfg *config.Config) *tactile.AuditLogger {
	audit := tactile.NewAuditLogger()
	audit.AddCallback(func(ev tactile.AuditEvent) {
		fields := []zap.Field{
			zap.String("event", string(ev.Type)),
			zap.String("request_id", ev.Command.RequestID),
			zap.String("label", ev.Command.Tags["label"]),
		}
		if ev.Result != nil {
			fields = append(fields,
				zap.Int("exit_code", ev.Result.ExitCode),
				zap.Duration("duration", ev.Result.Duration))
		}
		logger.Debug("Invocation audit", fields...)
	})
	if path := cfg.Execution.AuditLog; path != "" {
		if err := audit.EnableFileLogging(path); err != nil {
			logger.Warn("Audit log disabled", zap.String("path", path), zap.Error(err))
		}
	}
	return audit
}

// newExecutor builds the direct executor from execution config.
func newExecutor(cmd *cobra.Command, cfg *config.Config, audit *tactile.AuditLogger) *tactile.DirectExecutor {
	execCfg := tactile.DefaultExecutorConfig()
	execCfg.DefaultTimeout = cfg.GetExecutionTimeout()
	execCfg.AllowedEnvironment = cfg.Execution.AllowedEnvVars
	if cfg.Execution.MaxOutputBytes > 0 {
		execCfg.MaxOutputBytes = cfg.Execution.MaxOutputBytes
	}
	if stream {
		execCfg.Stdout = cmd.OutOrStdout()
		execCfg.Stderr = cmd.ErrOrStderr()
	}
	executor := tactile.NewDirectExecutorWithConfig(execCfg)
	audit.Attach(executor)
	return executor
}
