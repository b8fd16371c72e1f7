package cli

import (
	"fmt"

	"github.com/getpipe-dev/orchestrator/internal/evidence"
	"github.com/getpipe-dev/orchestrator/internal/span"
	"github.com/spf13/cobra"
)

var evidenceCmd = &cobra.Command{
	Use:     "evidence",
	Short:   "Inspect and validate grounded evidence records",
	GroupID: "evidence",
}

var evidenceShowCmd = &cobra.Command{
	Use:   "show <content-dir> <evidence-id>",
	Short: "Show one evidence record with its source snippet",
	Args:  exactArgs(2, "orch evidence show <content-dir> <evidence-id>"),
	RunE: func(cmd *cobra.Command, args []string) error {
		contentDir, id := args[0], args[1]
		log := evidence.Open(contentDir)
		e, err := log.FindByIDPrefix(id)
		if err != nil {
			return err
		}
		if e == nil {
			return fmt.Errorf("evidence not found: %s", id)
		}
		return displayEvidence(contentDir, *e)
	},
}

var evidenceValidateCmd = &cobra.Command{
	Use:   "validate <content-dir>",
	Short: "Re-check every span's slice hash against the current artifacts",
	Args:  exactArgs(1, "orch evidence validate <content-dir>"),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := evidence.Open(args[0])
		summaries, err := log.Validate()
		if err != nil {
			return err
		}
		var totalValid, totalStale, totalUnresolved int
		for _, s := range summaries {
			digest := "CHANGED (checking individual spans)"
			if s.DigestOK {
				digest = "OK (fast-path — skipping per-span checks)"
			}
			fmt.Printf("Artifact: %s\n", s.Artifact)
			fmt.Printf("  Digest: %s\n", digest)
			fmt.Printf("  Valid: %d, Stale: %d\n", s.ValidCount, s.StaleCount)
			totalValid += s.ValidCount
			totalStale += s.StaleCount
			totalUnresolved += s.UnresolvedCount
		}
		fmt.Println()
		fmt.Println("Summary:")
		fmt.Printf("  Valid:      %d\n", totalValid)
		fmt.Printf("  Stale:      %d\n", totalStale)
		fmt.Printf("  Unresolved: %d\n", totalUnresolved)
		if totalStale > 0 {
			fmt.Println()
			fmt.Println("Some evidence needs re-extraction due to artifact changes.")
		}
		return nil
	},
}

func displayEvidence(contentDir string, e evidence.Evidence) error {
	fmt.Printf("Evidence ID: %s\n", e.ID)
	fmt.Printf("Content ID:  %s\n", e.ContentID)
	fmt.Printf("Status:      %s\n", e.Status)
	fmt.Printf("Confidence:  %.2f\n", e.Confidence)
	fmt.Printf("Extractor:   %s\n", e.Extractor)
	fmt.Printf("Timestamp:   %s\n", e.Timestamp)
	fmt.Println()
	fmt.Println("Claim:")
	fmt.Printf("  %s\n", e.Claim)
	fmt.Println()
	fmt.Println("Quote:")
	fmt.Printf("  %q\n", e.Quote)
	fmt.Printf("  (SHA256: %s)\n", e.QuoteSHA256)

	if e.Span == nil {
		fmt.Println()
		fmt.Println("(No span — evidence is unresolved)")
		if e.Resolution.Reason != "" {
			fmt.Printf("Reason: %s\n", e.Resolution.Reason)
		}
		return nil
	}

	fmt.Println()
	fmt.Println("Source Location:")
	fmt.Printf("  File: %s/%s\n", contentDir, e.Span.Artifact)
	fmt.Printf("  Bytes: %d - %d\n", e.Span.UTF8ByteOffset[0], e.Span.UTF8ByteOffset[1])
	if e.Span.AnchorText != "" {
		fmt.Println()
		fmt.Printf("Anchor text: %s\n", e.Span.AnchorText)
	}
	if e.Span.VideoTimestamp != "" {
		fmt.Printf("Video timestamp: %s\n", e.Span.VideoTimestamp)
	}
	_ = span.LineCol{} // no line/column position is printed; the span is shown by byte offsets only
	return nil
}

func init() {
	evidenceCmd.AddCommand(evidenceShowCmd)
	evidenceCmd.AddCommand(evidenceValidateCmd)
}
