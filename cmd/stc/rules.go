package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rikkisnah/stc/internal/csvdiff"
)

func newRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Work with rule engine CSV files",
	}
	cmd.AddCommand(newRulesDiffCmd())
	return cmd
}

func newRulesDiffCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "diff <source> <target>",
		Short: "Compare two rule CSVs by rule id",
		Long: `Compare a source rule CSV against a target row by row, keyed on the RuleID column (or the
second column when no RuleID header exists). Added rows exist only in the
source and removed rows only in the target. Paths are resolved on the
pipeline host relative to its repository root.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			res, err := a.backend(false).RulesDiff(cmd.Context(), args[0], args[1])
			if err != nil {
				return fmt.Errorf("failed to diff rules: %w", err)
			}

			fmt.Printf("%d added, %d changed, %d removed, %d unchanged\n\n",
				res.Count(csvdiff.StatusAdded), res.Count(csvdiff.StatusChanged),
				res.Count(csvdiff.StatusRemoved), res.Count(csvdiff.StatusUnchanged))

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			for _, row := range res.Rows {
				if row.Status == csvdiff.StatusUnchanged && !all {
					continue
				}
				switch row.Status {
				case csvdiff.StatusChanged:
					fmt.Fprintf(w, "~\t%s\t%s\n", row.RuleID, strings.Join(row.SourceRow, ","))
					fmt.Fprintf(w, "\t\t%s\n", strings.Join(row.TargetRow, ","))
				case csvdiff.StatusRemoved:
					fmt.Fprintf(w, "-\t%s\t%s\n", row.RuleID, strings.Join(row.TargetRow, ","))
				case csvdiff.StatusAdded:
					fmt.Fprintf(w, "+\t%s\t%s\n", row.RuleID, strings.Join(row.SourceRow, ","))
				default:
					fmt.Fprintf(w, " \t%s\t%s\n", row.RuleID, strings.Join(row.SourceRow, ","))
				}
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Also print unchanged rows")
	return cmd
}
