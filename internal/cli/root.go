// Package cli is the thin cobra command surface over the orchestrator,
// ingest queue, and evidence log — help text and terminal formatting only;
// every command delegates straight into the core packages.
package cli

import (
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var verbosity int

var rootCmd = &cobra.Command{
	Use:           "orch",
	Short:         "A local, event-sourced pipeline orchestrator",
	Long:          "orch runs deterministic, resumable multi-step pipelines over external command-line tools.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	log.SetReportTimestamp(true)
	log.SetTimeFormat("15:04:05 01/02/2006")
	styles := log.DefaultStyles()
	styles.Levels[log.ErrorLevel] = styles.Levels[log.ErrorLevel].SetString("ERROR").MaxWidth(5)
	log.SetStyles(styles)

	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "increase output verbosity (-v verbose, -vv debug)")
	rootCmd.SetVersionTemplate("orch-{{.Version}}\n")

	cobra.EnableCommandSorting = false
	cobra.OnInitialize(initVerbosity)

	rootCmd.AddGroup(
		&cobra.Group{ID: "core", Title: "Core Commands:"},
		&cobra.Group{ID: "ingest", Title: "Ingest Commands:"},
		&cobra.Group{ID: "evidence", Title: "Evidence Commands:"},
	)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(statusCmd)

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(queueCmd)

	rootCmd.AddCommand(evidenceCmd)
}

func initVerbosity() {
	switch {
	case verbosity >= 2:
		log.SetLevel(log.DebugLevel)
		log.Debug("debug logging enabled")
	case verbosity == 1:
		// InfoLevel (default) — verbose mode.
	default:
		log.SetLevel(log.WarnLevel)
	}
}

// SetVersion sets the version string displayed by --version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the root command, exiting 1 on a terminal Failed or
// SafetyLimitReached outcome (or any other returned error).
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
