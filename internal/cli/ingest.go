package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"algo-status-ingest/internal/app"
)

var (
	ingestSince string
	ingestFile  string
	ingestWatch bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Scan the batch bucket and load new status files",
	RunE: func(cmd *cobra.Command, args []string) error {
		if ingestFile != "" && ingestWatch {
			return fmt.Errorf("--file and --watch are mutually exclusive")
		}

		opts := app.IngestOptions{
			File:  ingestFile,
			Watch: ingestWatch,
		}

		if ingestSince != "" {
			since, err := time.Parse(time.RFC3339, ingestSince)
			if err != nil {
				return fmt.Errorf("invalid --since value: %w", err)
			}
			opts.Since = &since
		}

		return getApp().Ingest(cmd.Context(), opts)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestSince, "since", "", "Only consider objects modified at or after this timestamp (RFC3339)")
	ingestCmd.Flags().StringVar(&ingestFile, "file", "", "Ingest a local file instead of scanning the bucket")
	ingestCmd.Flags().BoolVar(&ingestWatch, "watch", false, "Keep running and rescan on the configured interval")
}
