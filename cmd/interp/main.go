// Package main provides the interp CLI entry point.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/shamrockmuffin/open-interpreter-gui/internal/config"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/logging"
)

var (
	// Global flags
	verbose      bool
	workspaceDir string
	configPath   string
	autoRun      bool
	loopMode     bool
	modelName    string

	// Logger
	logger *zap.Logger

	// Loaded in PersistentPreRunE
	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "interp",
	Short: "interp - a natural language interface for running code",
	Long: `interp lets a language model run code on your machine.

The model answers in markdown. Fenced code blocks are shown to you,
confirmed (unless --auto-run is set) and executed in the workspace,
and their output is fed back to the model until the task is done.

Run without arguments to start the interactive chat.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Missing .env files are fine.
		_ = godotenv.Load()

		zc := zap.NewProductionConfig()
		zc.Encoding = "console"
		zc.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err = loadConfig(cmd)
		if err != nil {
			return err
		}

		if err := logging.Initialize(cfg.Workspace, cfg.Logging.ToLogging()); err != nil {
			logger.Warn("category logging disabled", zap.Error(err))
		}
		logging.Boot("interp starting: command=%s workspace=%s", cmd.Name(), cfg.Workspace)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runInteractiveChat,
}

// runCmd executes a single instruction
var runCmd = &cobra.Command{
	Use:   "run [instruction]",
	Short: "Run a single instruction to completion and print the new messages",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runInstruction,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspaceDir, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: <workspace>/.interp/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&autoRun, "auto-run", "y", false, "Run code without asking for confirmation")
	rootCmd.PersistentFlags().BoolVar(&loopMode, "loop", false, "Keep going until the model reports the task is done")
	rootCmd.PersistentFlags().StringVarP(&modelName, "model", "m", "", "Model name override")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(languagesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig resolves the workspace, loads the config file and applies
// command-line overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	ws := workspaceDir
	if ws == "" {
		if env := os.Getenv("INTERP_WORKSPACE"); env != "" {
			ws = env
		} else {
			wd, err := os.Getwd()
			if err != nil {
				return nil, fmt.Errorf("failed to resolve workspace: %w", err)
			}
			ws = wd
		}
	}
	ws, err := filepath.Abs(ws)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace: %w", err)
	}

	path := configPath
	if path == "" {
		path = config.DefaultPath(ws)
	}
	c, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	c.Workspace = ws

	flags := cmd.Flags()
	if flags.Changed("auto-run") {
		c.Interpreter.AutoRun = autoRun
	}
	if flags.Changed("loop") {
		c.Interpreter.Loop = loopMode
	}
	if modelName != "" {
		c.LLM.Model = modelName
	}
	if verbose {
		c.Logging.DebugMode = true
		c.Logging.Level = "debug"
	}

	logger.Debug("config loaded",
		zap.String("path", path),
		zap.String("provider", c.LLM.Provider),
		zap.String("model", c.LLM.Model),
		zap.Bool("auto_run", c.Interpreter.AutoRun))
	return c, nil
}
