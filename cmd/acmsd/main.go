// Package main implements acmsd, the reference CLI embedding of the ACMS
// boundary adapter (spec.md §1/§6). It exercises the same typed operation
// set a host application calls in-process: ingest, query, get, list, edit,
// delete, pin, export, erase, outcome, rotate-keys, run-scheduler, status.
//
// # File Index
//
//   - main.go          - entry point, rootCmd, global flags, init()
//   - wiring.go         - buildApp(): loads config and constructs every core
//     component a command needs
//   - cmd_item.go       - ingestCmd, getCmd, listCmd, editCmd, deleteCmd, pinCmd
//   - cmd_query.go      - queryCmd, outcomeCmd
//   - cmd_export.go     - exportCmd, importCmd, eraseCmd
//   - cmd_admin.go      - rotateKeysCmd, runSchedulerCmd, statusCmd
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"acms/internal/logging"
)

var (
	// Global flags
	verbose    bool
	workspace  string
	userID     string
	configPath string
	timeout    time.Duration

	// Logger for CLI-facing structured output.
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "acmsd",
	Short: "acmsd - Adaptive Context Memory System reference CLI",
	Long: `acmsd is the reference command-line embedding of the ACMS core.

It exercises the same boundary operations (ingest_memory, query,
get_memory, list_memories, edit_memory, delete_memory, pin_memory,
export_memory, delete_all_memory, record_outcome) a host application calls
in-process, plus the administrative operations (key rotation, scheduler
runs) a deployment's operator drives out-of-band.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}

		ws := workspace
		if ws == "" {
			ws, _ = os.Getwd()
		}
		level := "info"
		if verbose {
			level = "debug"
		}
		if err := logging.Initialize(ws, verbose, level, false, nil); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to initialize file logging: %v\n", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "", "User id to operate on (required by most commands)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to acmsd.yaml (default: <workspace>/acmsd.yaml)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Operation timeout")

	rootCmd.AddCommand(
		ingestCmd,
		getCmd,
		listCmd,
		editCmd,
		deleteCmd,
		pinCmd,
		queryCmd,
		outcomeCmd,
		exportCmd,
		importCmd,
		eraseCmd,
		rotateKeysCmd,
		runSchedulerCmd,
		statusCmd,
	)
}

func resolvedConfigPath() string {
	if configPath != "" {
		return configPath
	}
	ws := workspace
	if ws == "" {
		ws, _ = os.Getwd()
	}
	return filepath.Join(ws, "acmsd.yaml")
}

func requireUser() error {
	if userID == "" {
		return fmt.Errorf("--user is required")
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
