package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/archive-check/internal/config"
	"github.com/sells-group/archive-check/internal/model"
	"github.com/sells-group/archive-check/internal/reconcile"
)

var lookupCmd = &cobra.Command{
	Use:   "lookup <archive-id>...",
	Short: "Check whether archive identifiers exist on archive.org",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		return runLookup(cmd.Context(), cfg.Archive, args, newArchiveClient(cfg.Archive), cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(lookupCmd)
}

func runLookup(ctx context.Context, ac config.ArchiveConfig, ids []string, lookup reconcile.Lookup, out io.Writer) error {
	records := make([]model.Record, len(ids))
	for i, id := range ids {
		records[i] = model.Record{ArchiveID: id, Link: id, Row: i + 1}
	}

	result, err := reconcile.New(lookup, reconcile.WithBatchSize(ac.BatchSize)).Run(ctx, records)
	if err != nil {
		return eris.Wrap(err, "lookup: reconcile")
	}

	missing := make(map[string]struct{}, len(result.Missing))
	for _, r := range result.Missing {
		missing[r.ArchiveID] = struct{}{}
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, id := range ids {
		status := "present"
		if _, ok := missing[id]; ok {
			status = "missing"
		}
		fmt.Fprintf(tw, "%s\t%s\n", id, status)
	}
	if err := tw.Flush(); err != nil {
		return eris.Wrap(err, "lookup: write output")
	}

	if n := result.FailedBatches(); n > 0 {
		return eris.Errorf("lookup: %d of %d batches failed; their ids are reported missing", n, len(result.Batches))
	}
	return nil
}
