package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/liftgate/liftgate/internal/store"
)

func init() {
	rootCmd.AddCommand(newTrackCmd())
}

func newTrackCmd() *cobra.Command {
	var (
		eventType string
		count     int
	)

	cmd := &cobra.Command{
		Use:   "track <variant-id>",
		Short: "Record engagement events for a variant",
		Long: `Record impression, click or conversion events against a variant.
Mainly useful for local testing; production traffic arrives through the
POST /events endpoint.

Examples:
  liftgate track var_1a2b3c4d --type impression --count 500
  liftgate track var_1a2b3c4d --type click --count 25
  liftgate track var_1a2b3c4d --type conversion`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			variantID := args[0]

			event := store.EventType(eventType)
			switch event {
			case store.EventImpression, store.EventClick, store.EventConversion:
			default:
				return fmt.Errorf("invalid event type %q: use impression, click or conversion", eventType)
			}
			if count <= 0 {
				return fmt.Errorf("--count must be positive")
			}

			return withStore(func(s *store.SQLiteStore) error {
				ctx := context.Background()

				for i := 0; i < count; i++ {
					if err := s.RecordEvent(ctx, variantID, event); err != nil {
						if errors.Is(err, store.ErrNotFound) {
							return fmt.Errorf("variant '%s' not found", variantID)
						}
						if errors.Is(err, store.ErrCounterOrder) {
							return fmt.Errorf("recorded %d of %d: %s events would exceed their upstream counter", i, count, eventType)
						}
						return fmt.Errorf("failed to record event: %w", err)
					}
				}

				fmt.Printf("Recorded %d %s event(s) for %s.\n", count, eventType, variantID)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&eventType, "type", "t", "impression", "event type: impression, click or conversion")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of events to record")

	return cmd
}
