package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/liftgate/liftgate/internal/safety"
	"github.com/liftgate/liftgate/internal/store"
)

func init() {
	safetyCmd := &cobra.Command{
		Use:   "safety",
		Short: "Submit and inspect content safety checks",
	}
	safetyCmd.AddCommand(newSafetySubmitCmd())
	safetyCmd.AddCommand(newSafetyShowCmd())
	rootCmd.AddCommand(safetyCmd)
}

func newSafetySubmitCmd() *cobra.Command {
	scores := map[safety.Dimension]*float64{}
	var threshold float64

	cmd := &cobra.Command{
		Use:   "submit <content-id>",
		Short: "Submit classifier scores for a piece of content",
		Long: `Aggregate per-dimension risk scores into a safety verdict and record
it. A dimension passes when its score is below the threshold.

Example:
  liftgate safety submit var_1a2b3c4d --toxicity 0.08 --bias 0.15 --pii 0.95 --content-policy 0.05`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			contentID := args[0]

			input := make(map[safety.Dimension]safety.DimensionScore, len(scores))
			for dim, score := range scores {
				input[dim] = safety.DimensionScore{
					Score:  *score,
					Passed: *score < threshold,
				}
			}

			result, err := safety.Aggregate(input)
			if err != nil {
				return fmt.Errorf("invalid scores: %w", err)
			}

			return withStore(func(s *store.SQLiteStore) error {
				check := &store.SafetyCheck{
					ContentID:    contentID,
					OverallScore: result.OverallScore,
					IsSafe:       result.IsSafe,
					Checks:       input,
					Issues:       result.Issues,
				}
				if err := s.SaveSafetyCheck(context.Background(), check); err != nil {
					return fmt.Errorf("failed to save safety check: %w", err)
				}

				printCheck(check)
				return nil
			})
		},
	}

	for _, dim := range safety.Dimensions {
		score := new(float64)
		scores[dim] = score
		cmd.Flags().Float64Var(score, flagName(dim), 0, fmt.Sprintf("%s risk score in [0,1]", dim))
	}
	cmd.Flags().Float64Var(&threshold, "threshold", 0.5, "per-dimension pass threshold")

	return cmd
}

func newSafetyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <content-id>",
		Short: "Show the latest safety check for a piece of content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			contentID := args[0]

			return withStore(func(s *store.SQLiteStore) error {
				check, err := s.LatestSafetyCheck(context.Background(), contentID)
				if err != nil {
					if errors.Is(err, store.ErrNotFound) {
						return fmt.Errorf("no safety check recorded for '%s'", contentID)
					}
					return fmt.Errorf("failed to load safety check: %w", err)
				}

				printCheck(check)
				return nil
			})
		},
	}
}

func printCheck(check *store.SafetyCheck) {
	verdict := "SAFE"
	if !check.IsSafe {
		verdict = "UNSAFE"
	}

	fmt.Printf("CONTENT: %s\n", check.ContentID)
	fmt.Printf("CHECK: %s (%s)\n", check.ID, check.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("VERDICT: %s (overall score %.2f)\n", verdict, check.OverallScore)
	fmt.Println()

	for _, dim := range safety.Dimensions {
		ds := check.Checks[dim]
		status := "pass"
		if !ds.Passed {
			status = "FAIL"
		}
		fmt.Printf("  %-14s %s (%.2f)\n", dim, status, ds.Score)
	}

	if len(check.Issues) > 0 {
		fmt.Println()
		for _, issue := range check.Issues {
			fmt.Printf("  [%s] %s: %s\n", issue.Severity, issue.Type, issue.Description)
			fmt.Printf("      %s\n", issue.Suggestion)
		}
	}
}

func flagName(dim safety.Dimension) string {
	if dim == safety.DimensionContentPolicy {
		return "content-policy"
	}
	return string(dim)
}
