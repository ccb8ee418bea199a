package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var reprocessKey string

var reprocessCmd = &cobra.Command{
	Use:   "reprocess",
	Short: "Force a single source file through the pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		if reprocessKey == "" {
			return fmt.Errorf("--key must be provided")
		}
		return getApp().Reprocess(cmd.Context(), reprocessKey)
	},
}

func init() {
	reprocessCmd.Flags().StringVar(&reprocessKey, "key", "", "Object key to reprocess, regardless of ledger state")
}
