package cli

import (
	"fmt"

	"github.com/getpipe-dev/orchestrator/internal/queue"
	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:     "queue",
	Short:   "Inspect the ingest queue",
	GroupID: "ingest",
}

var queueStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show every queue item's current derived state",
	Args:  noArgs("orch queue status"),
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := queue.Open()
		if err != nil {
			return err
		}
		items, err := q.Status()
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("queue is empty")
			return nil
		}
		for _, item := range items {
			fmt.Printf("%-24s %-10s retries=%d  %s\n", item.ID, item.Status, item.RetryCount, item.Data.FileName)
		}
		return nil
	},
}

var queuePendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List pending items, oldest-detected-first",
	Args:  noArgs("orch queue pending"),
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := queue.Open()
		if err != nil {
			return err
		}
		items, err := q.GetPending()
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("no pending items")
			return nil
		}
		for _, item := range items {
			fmt.Printf("%-24s %s  (detected %s)\n", item.ID, item.Data.FileName, item.Data.DetectedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

func init() {
	queueCmd.AddCommand(queueStatusCmd)
	queueCmd.AddCommand(queuePendingCmd)
}
