package main

import (
	"fmt"
	"os"

	"fidsweep/internal/config"
	"fidsweep/internal/logging"
	"fidsweep/internal/sweep"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	configPath string
	baseDir    string
	verbose    bool

	// Run flags
	keepGoing bool
	stream    bool

	// History flags
	historyLimit int

	// Init flags
	force bool

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "fidsweep",
	Short: "fidsweep - fiducial analysis sweep driver",
	Long: `fidsweep invokes the analysis program once per (fiducial, face) pair and
once per face for the fiducial comparison pass, returning to the configured
base directory after every invocation.

Run without a subcommand to execute the sweep.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zc := zap.NewProductionConfig()
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
	RunE: runSweep,
}

// runCmd executes the sweep
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the fiducial and comparison sweep",
	Long: `Runs every planned invocation in order. By default the first failed
invocation aborts the sweep; --keep-going runs the rest and reports every
failure at the end. A missing base directory always aborts.`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

// planCmd prints the invocation plan
var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the invocations a sweep would run",
	Args:  cobra.NoArgs,
	RunE:  showPlan,
}

// historyCmd inspects the run ledger
var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "List recorded sweeps, or show one sweep's invocations",
	Long: `Without arguments, lists recent sweeps from the run ledger.
With a run ID (or a unique prefix of one), lists that sweep's invocations.`,
	Args: cobra.MaximumNArgs(1),
	RunE: showHistory,
}

// initCmd writes a default configuration
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Config file")
	rootCmd.PersistentFlags().StringVarP(&baseDir, "base-dir", "b", "", "Directory to return to after each invocation (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	// The root command runs the sweep too.
	for _, c := range []*cobra.Command{rootCmd, runCmd} {
		c.Flags().BoolVarP(&keepGoing, "keep-going", "k", false, "Run every invocation even after failures")
		c.Flags().BoolVar(&stream, "stream", false, "Stream program output to the terminal")
	}

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to list (0 = all)")
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing config file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(initCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads the config file and applies command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if baseDir != "" {
		cfg.Sweep.BaseDir = baseDir
	}

	if err := logging.Initialize(logging.Options{
		Dir:        cfg.Logging.Dir,
		DebugMode:  cfg.Logging.DebugMode,
		Categories: cfg.Logging.Categories,
		Level:      cfg.Logging.Level,
		JSONFormat: cfg.Logging.IsJSON(),
	}); err != nil {
		logger.Warn("Category logging disabled", zap.Error(err))
	}
	logging.Boot("Loaded config from %s", configPath)
	return cfg, nil
}

func sweepParams(cfg *config.Config) sweep.Params {
	return sweep.Params{
		Fiducials:       cfg.Sweep.Fiducials,
		Faces:           cfg.Sweep.Faces,
		ComparisonCount: cfg.Sweep.ComparisonCount,
		Comparisons:     cfg.Sweep.Comparisons,
	}
}
