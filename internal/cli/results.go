package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/liftgate/liftgate/internal/metrics"
	"github.com/liftgate/liftgate/internal/stats"
	"github.com/liftgate/liftgate/internal/store"
)

var resultsCmd = &cobra.Command{
	Use:   "results <experiment-id>",
	Short: "Show detailed results for an experiment",
	Long:  `Show per-variant rates, confidence intervals and the engine's current decision.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runResults,
}

func init() {
	rootCmd.AddCommand(resultsCmd)
}

func runResults(cmd *cobra.Command, args []string) error {
	id := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	return withStore(func(s *store.SQLiteStore) error {
		ctx := context.Background()

		exp, err := s.GetExperiment(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("experiment '%s' not found", id)
			}
			return fmt.Errorf("failed to get experiment: %w", err)
		}

		fmt.Printf("EXPERIMENT: %s (%s)\n", exp.Name, exp.ID)
		fmt.Printf("TYPE: %s\n", strings.ToUpper(string(exp.Type)))
		fmt.Printf("STATUS: %s\n", exp.Status)
		fmt.Printf("CREATED: %s\n", exp.CreatedAt.Format("2006-01-02"))
		fmt.Println()

		if exp.Status != store.StatusRunning {
			return printClosedResults(exp)
		}

		engine := stats.NewEngine(s, engineConfig(cfg), nil)
		decision, err := engine.Evaluate(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to evaluate: %w", err)
		}

		fmt.Println("VARIANT           IMPRESSIONS  CLICKS   CTR      CONV RATE  95% CI")
		fmt.Println(strings.Repeat("─", 72))

		for _, v := range decision.Variants {
			indicator := ""
			if decision.WinnerVariantID != nil && v.ID == *decision.WinnerVariantID {
				indicator = " ← WINNER"
			}

			ciStr := fmt.Sprintf("[%.1f%%, %.1f%%]", v.CILower*100, v.CIUpper*100)
			if v.Clicks == 0 {
				ciStr = "N/A"
			}

			fmt.Printf("%-16s  %-11d  %-7d  %-7s  %-9s  %s%s\n",
				truncate(v.Name, 16),
				v.Impressions,
				v.Clicks,
				formatPercent(v.CTR),
				formatPercent(v.ConversionRate),
				ciStr,
				indicator,
			)
		}
		fmt.Println()

		switch {
		case decision.Confidence == nil:
			fmt.Println("Not enough data yet: every variant needs more impressions before a decision.")
		case decision.WinnerVariantID != nil:
			fmt.Printf("Significant at %.1f%% confidence.\n", *decision.Confidence*100)
		default:
			fmt.Printf("No winner yet (confidence %.1f%%). Keep collecting events.\n", *decision.Confidence*100)
		}

		return nil
	})
}

func printClosedResults(exp *store.Experiment) error {
	fmt.Println("VARIANT           IMPRESSIONS  CLICKS   CTR      CONV RATE")
	fmt.Println(strings.Repeat("─", 60))

	for _, v := range exp.Variants {
		m, err := metrics.Compute(v)
		if err != nil {
			return fmt.Errorf("failed to compute metrics: %w", err)
		}

		indicator := ""
		if exp.WinnerVariantID != nil && v.ID == *exp.WinnerVariantID {
			indicator = " ← WINNER"
		}

		fmt.Printf("%-16s  %-11d  %-7d  %-7s  %-9s%s\n",
			truncate(v.Name, 16),
			v.Impressions,
			v.Clicks,
			formatPercent(m.CTR),
			formatPercent(m.ConversionRate),
			indicator,
		)
	}
	fmt.Println()

	if exp.WinnerVariantID != nil && exp.Confidence != nil {
		fmt.Printf("Winner committed at %.1f%% confidence.\n", *exp.Confidence*100)
	} else {
		fmt.Println("Closed without a significant winner.")
	}

	return nil
}

func truncate(name string, max int) string {
	if len(name) > max {
		return name[:max-3] + "..."
	}
	return name
}

func formatPercent(rate float64) string {
	if rate == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.2f%%", rate*100)
}
