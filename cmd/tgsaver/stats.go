package main

import (
	"github.com/spf13/cobra"

	"github.com/blockedby/tgsaver/internal/repository"
)

func newStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show what is in the downloads folder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openLocal(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			printStats(cmd.OutOrStdout(), a.stats.Snapshot())
			return nil
		},
	}
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var filter repository.HistoryFilter

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past downloads and exports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openLocal(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			records, err := a.history.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			counts, err := a.history.CountByKind(cmd.Context())
			if err != nil {
				return err
			}
			printHistory(cmd.OutOrStdout(), records, counts)
			return nil
		},
	}
	cmd.Flags().StringVar(&filter.Kind, "kind", "", "download or export")
	cmd.Flags().StringVar(&filter.Channel, "channel", "", "channel key, e.g. durov or c1234567")
	cmd.Flags().StringVar(&filter.RunID, "run", "", "run id")
	cmd.Flags().IntVarP(&filter.Limit, "limit", "n", 50, "maximum rows")
	return cmd
}
