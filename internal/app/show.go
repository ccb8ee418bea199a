package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// Show prints recent ledger entries.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	entries, err := store.ListRecentLedger(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(os.Stdout, "no ledger entries found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Source Key\tLast Modified (UTC)\tRows\tIngested At (UTC)\tStatus\tError")

	for _, entry := range entries {
		status := "ok"
		errMsg := ""
		if entry.ErrorText != nil {
			status = "failed"
			errMsg = sanitizeInline(*entry.ErrorText)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%d\t%s\t%s\t%s\n",
			entry.SourceKey,
			entry.LastModified.UTC().Format(time.RFC3339),
			entry.RowsIngested,
			entry.IngestedAt.UTC().Format(time.RFC3339),
			status,
			errMsg,
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
