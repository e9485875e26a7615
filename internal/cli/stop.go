package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/liftgate/liftgate/internal/store"
)

var stopCmd = &cobra.Command{
	Use:   "stop <experiment-id>",
	Short: "Stop a running experiment",
	Long: `Stop a running experiment early. Any winner already committed by the
evaluation engine is kept; stopping never assigns one.`,
	Args: cobra.ExactArgs(1),
	RunE: runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	id := args[0]

	return withStore(func(s *store.SQLiteStore) error {
		ctx := context.Background()

		if err := s.StopExperiment(ctx, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("experiment '%s' not found", id)
			}
			if errors.Is(err, store.ErrConflict) {
				return fmt.Errorf("experiment '%s' is not running", id)
			}
			return fmt.Errorf("failed to stop experiment: %w", err)
		}

		fmt.Printf("Experiment %s stopped.\n", id)
		return nil
	})
}
