package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/liftgate/liftgate/internal/gate"
	"github.com/liftgate/liftgate/internal/store"
)

var deployCmd = &cobra.Command{
	Use:   "deploy <experiment-id>",
	Short: "Deploy an experiment's winning variant",
	Long: `Promote the winning variant through the deployment gate. Deployment
requires a finished experiment with a winner and a fresh, passing safety
check on the winning variant's content.`,
	Args: cobra.ExactArgs(1),
	RunE: runDeploy,
}

func init() {
	rootCmd.AddCommand(deployCmd)
}

func runDeploy(cmd *cobra.Command, args []string) error {
	id := args[0]

	return withStore(func(s *store.SQLiteStore) error {
		ctx := context.Background()

		dep, err := gate.New(s, nil).Deploy(ctx, id)
		if err != nil {
			var denied *gate.DeniedError
			if errors.As(err, &denied) {
				return fmt.Errorf("cannot deploy: %s", denied.Reason)
			}
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("experiment '%s' not found", id)
			}
			return fmt.Errorf("failed to deploy: %w", err)
		}

		fmt.Printf("Deployed variant %s for experiment %s (deployment %s).\n",
			dep.VariantID, dep.ExperimentID, dep.ID)
		return nil
	})
}
