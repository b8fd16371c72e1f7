package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/getpipe-dev/orchestrator/internal/queue"
	"github.com/getpipe-dev/orchestrator/internal/watcher"
	"github.com/spf13/cobra"
)

var watchExtensions string

var watchCmd = &cobra.Command{
	Use:     "watch <dir>",
	Short:   "Watch a directory for new recordings and feed the ingest queue",
	GroupID: "ingest",
	Args:    exactArgs(1, "orch watch <dir> [--extensions wav,m4a,mp3]"),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := args[0]
		cfg := watcher.DefaultConfig(dir)
		if watchExtensions != "" {
			cfg.Extensions = strings.Split(watchExtensions, ",")
		}

		q, err := queue.Open()
		if err != nil {
			return fmt.Errorf("opening ingest queue: %w", err)
		}

		w := watcher.New(cfg, q)
		w.OnNewFile(func(path, id string) {
			fmt.Printf("enqueued %s (id=%s)\n", path, id)
		})

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		log.Info("watching for new recordings", "dir", dir, "extensions", cfg.Extensions)
		if err := w.Watch(ctx); err != nil && err != context.Canceled {
			return fmt.Errorf("watch: %w", err)
		}
		return nil
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchExtensions, "extensions", "", "comma-separated file extensions to watch (default: wav,m4a,mp3)")
}
