package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/liftgate/liftgate/internal/store"
)

func init() {
	rootCmd.AddCommand(newCreateCmd())
}

func newCreateCmd() *cobra.Command {
	var (
		variants string
		expType  string
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new draft experiment",
		Long: `Create a new experiment in draft state. It starts collecting events
only after 'liftgate start'.

Run without --variants for an interactive setup.

Examples:
  liftgate create "Subject Line Test" --variants "Control,Variant B"
  liftgate create "Personalization Test" --type abn --variants "Low,Medium,High"
  liftgate create "CTA Test"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			var variantList []string
			var typ store.ExperimentType

			if variants == "" {
				var err error
				typ, variantList, err = promptExperiment()
				if err != nil {
					return err
				}
			} else {
				variantList = strings.Split(variants, ",")
				for i := range variantList {
					variantList[i] = strings.TrimSpace(variantList[i])
				}
				switch strings.ToLower(expType) {
				case "ab":
					typ = store.TypeAB
				case "abn":
					typ = store.TypeABn
				default:
					return fmt.Errorf("invalid type %q: use ab or abn", expType)
				}
			}

			if len(variantList) < 2 {
				return fmt.Errorf("need at least 2 variants. Example: --variants \"Control,Variant B\"")
			}

			return withStore(func(s *store.SQLiteStore) error {
				exp, err := s.CreateExperiment(context.Background(), name, typ, variantList)
				if err != nil {
					return fmt.Errorf("failed to create experiment: %w", err)
				}

				fmt.Printf("Created %s experiment %s (%q) with %d variants:\n",
					strings.ToUpper(string(exp.Type)), exp.ID, exp.Name, len(exp.Variants))
				for _, v := range exp.Variants {
					label := ""
					if v.Position == 0 {
						label = " (control)"
					}
					fmt.Printf("  %s: %s%s\n", v.ID, v.Name, label)
				}
				fmt.Printf("\nStart it with: liftgate start %s\n", exp.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&variants, "variants", "v", "", "comma-separated variant names, control first")
	cmd.Flags().StringVarP(&expType, "type", "t", "ab", "experiment type: ab (exactly 2 variants) or abn")

	return cmd
}

func promptExperiment() (store.ExperimentType, []string, error) {
	typePrompt := promptui.Select{
		Label: "Experiment type",
		Items: []string{"A/B (two variants)", "A/B/n (two or more variants)"},
	}

	idx, _, err := typePrompt.Run()
	if err != nil {
		if err == promptui.ErrInterrupt {
			os.Exit(0)
		}
		return "", nil, err
	}

	typ := store.TypeAB
	if idx == 1 {
		typ = store.TypeABn
	}

	var names []string
	for {
		label := fmt.Sprintf("Variant %d name", len(names)+1)
		if len(names) == 0 {
			label += " (control)"
		} else if typ == store.TypeABn && len(names) >= 2 {
			label += " (empty to finish)"
		}

		prompt := promptui.Prompt{Label: label}
		name, err := prompt.Run()
		if err != nil {
			if err == promptui.ErrInterrupt {
				os.Exit(0)
			}
			return "", nil, err
		}
		name = strings.TrimSpace(name)
		if name == "" && len(names) >= 2 {
			break
		}
		if name != "" {
			names = append(names, name)
		}

		if typ == store.TypeAB && len(names) == 2 {
			break
		}
	}

	return typ, names, nil
}
