package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/liftgate/liftgate/internal/store"
)

func init() {
	rootCmd.AddCommand(newStartCmd())
}

func newStartCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "start <experiment-id>",
		Short: "Activate a draft experiment",
		Long: `Transition a draft experiment to running so it starts accepting
events and periodic evaluation.

Example:
  liftgate start exp_1a2b3c4d --days 14`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if days <= 0 {
				return fmt.Errorf("--days must be positive")
			}

			return withStore(func(s *store.SQLiteStore) error {
				ctx := context.Background()
				endDate := time.Now().AddDate(0, 0, days)

				if err := s.StartExperiment(ctx, id, endDate); err != nil {
					if errors.Is(err, store.ErrNotFound) {
						return fmt.Errorf("experiment '%s' not found", id)
					}
					if errors.Is(err, store.ErrConflict) {
						return fmt.Errorf("experiment '%s' is not a draft", id)
					}
					return fmt.Errorf("failed to start experiment: %w", err)
				}

				fmt.Printf("Experiment %s is running until %s.\n", id, endDate.Format("2006-01-02"))
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&days, "days", "d", 14, "experiment duration in days")

	return cmd
}
