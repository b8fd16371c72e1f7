package cli

import (
	"fmt"

	"github.com/getpipe-dev/orchestrator/internal/orchestrator"
	"github.com/getpipe-dev/orchestrator/internal/pipeline"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:     "validate <pipeline.yaml>",
	Short:   "Validate a pipeline definition without running it",
	GroupID: "core",
	Args:    exactArgs(1, "orch validate <pipeline.yaml>"),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := pipeline.Load(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("pipeline %q is valid (%d step(s))\n", p.Name, len(p.Steps))
		for _, s := range p.Steps {
			fmt.Printf("  - %s (%s)\n", s.Name, s.AdapterType)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:     "status <run-id>",
	Short:   "Show a run's current derived state",
	GroupID: "core",
	Args:    rangeArgs(0, 1, "orch status [run-id]"),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			runs, err := orchestrator.ListRuns()
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("no runs found")
				return nil
			}
			for _, r := range runs {
				fmt.Println(r)
			}
			return nil
		}

		st, err := orchestrator.GetStatus(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Run:       %s\n", st.RunID)
		fmt.Printf("State:     %s\n", st.State)
		fmt.Printf("Started:   %s\n", st.StartedAt)
		if st.CompletedAt != "" {
			fmt.Printf("Completed: %s\n", st.CompletedAt)
		}
		fmt.Println("Steps:")
		for _, s := range st.Steps {
			errSuffix := ""
			if s.Error != "" {
				errSuffix = fmt.Sprintf(" (%s)", short(s.Error, 80))
			}
			fmt.Printf("  - %-20s %-10s attempts=%d%s\n", s.Name, s.Status, s.Attempts, errSuffix)
		}
		return nil
	},
}
