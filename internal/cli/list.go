package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/liftgate/liftgate/internal/store"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all experiments",
	Long:  `List all experiments with their status and aggregate counters.`,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	return withStore(func(s *store.SQLiteStore) error {
		ctx := context.Background()

		experiments, err := s.ListExperiments(ctx)
		if err != nil {
			return fmt.Errorf("failed to list experiments: %w", err)
		}

		if len(experiments) == 0 {
			fmt.Println("No experiments yet. Create one with 'liftgate create'.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTYPE\tSTATUS\tVARIANTS\tIMPRESSIONS\tWINNER\tCREATED")

		for _, exp := range experiments {
			var impressions int64
			for _, v := range exp.Variants {
				impressions += v.Impressions
			}

			winner := "-"
			if exp.WinnerVariantID != nil {
				winner = *exp.WinnerVariantID
			}

			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
				exp.ID,
				exp.Name,
				exp.Type,
				exp.Status,
				len(exp.Variants),
				impressions,
				winner,
				exp.CreatedAt.Format("2006-01-02"),
			)
		}

		return w.Flush()
	})
}
