package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/getpipe-dev/orchestrator/internal/executor/subprocess"
	"github.com/getpipe-dev/orchestrator/internal/orchestrator"
	"github.com/getpipe-dev/orchestrator/internal/pipeline"
	"github.com/spf13/cobra"
)

var (
	runInput     string
	runInputFile string
)

var runCmd = &cobra.Command{
	Use:     "run <pipeline.yaml>",
	Short:   "Start a new run of a pipeline",
	GroupID: "core",
	Args:    exactArgs(1, "orch run <pipeline.yaml> [--input STR | --input-file PATH]"),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := pipeline.Load(args[0])
		if err != nil {
			return err
		}
		log.Debug("loaded pipeline", "name", p.Name, "steps", len(p.Steps))

		input, err := resolveInputFlag(runInput, runInputFile)
		if err != nil {
			return err
		}

		o := orchestrator.New(subprocess.New())
		runID, err := o.Run(context.Background(), p, input, runInputFile)
		if runID != "" {
			fmt.Printf("run id: %s\n", runID)
		}
		if err != nil {
			return fmt.Errorf("pipeline %q: %w", p.Name, err)
		}
		fmt.Printf("pipeline %q completed\n", p.Name)
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:     "resume <run-id> <pipeline.yaml>",
	Short:   "Resume a previously started run",
	GroupID: "core",
	Args:    exactArgs(2, "orch resume <run-id> <pipeline.yaml> [--input STR | --input-file PATH]"),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, path := args[0], args[1]
		p, err := pipeline.Load(path)
		if err != nil {
			return err
		}

		input, err := resolveInputFlag(runInput, runInputFile)
		if err != nil {
			return err
		}

		o := orchestrator.New(subprocess.New())
		if err := o.Resume(context.Background(), runID, p, input, runInputFile); err != nil {
			return fmt.Errorf("resuming run %s: %w", runID, err)
		}
		fmt.Printf("run %s resumed to completion\n", runID)
		return nil
	},
}

func resolveInputFlag(literal, path string) ([]byte, error) {
	switch {
	case path != "":
		return os.ReadFile(path)
	case literal != "":
		return []byte(literal), nil
	default:
		return nil, nil
	}
}

func init() {
	for _, c := range []*cobra.Command{runCmd, resumeCmd} {
		c.Flags().StringVar(&runInput, "input", "", "literal input bytes for the run")
		c.Flags().StringVar(&runInputFile, "input-file", "", "path to a file whose bytes are the run's input")
	}
}
