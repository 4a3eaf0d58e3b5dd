package main

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/abtest-cli/internal/seedfinder"
)

var (
	assignDataPath string
	assignPlanPath string
	assignSeed     string
	assignOutput   string
	assignFormat   string
)

var assignCmd = &cobra.Command{
	Use:   "assign",
	Short: "Replay a seed: assign every unit and report the resulting balance",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := checkFormat(assignFormat); err != nil {
			return err
		}
		if err := cfg.Validate("analyze"); err != nil {
			return err
		}

		exp, err := loadExperiment(cmd.Context(), assignDataPath, assignPlanPath)
		if err != nil {
			return err
		}
		a, err := replay(exp, assignSeed)
		if err != nil {
			return eris.Wrapf(err, "assign %s", assignSeed)
		}

		if assignOutput != "" {
			if err := writeLabels(assignOutput, exp.Plan.UnitID, exp.Plan.GroupColumn, exp.Dataset.IDs, a.Labels); err != nil {
				return err
			}
			zap.L().Info("labels written",
				zap.String("command", "assign"),
				zap.String("path", assignOutput),
				zap.Int("units", exp.Dataset.Len()),
			)
		}
		return renderAssignment(cmd.OutOrStdout(), assignFormat, exp, a)
	},
}

func replay(exp *experiment, seed string) (*seedfinder.Assignment, error) {
	f := seedfinder.New(seedfinder.Config{
		Alpha:     exp.Plan.Alpha,
		Sidedness: exp.Plan.Sidedness,
		BH:        exp.bh(),
	}, nil)
	return f.Apply(exp.input(), seed)
}

func renderAssignment(out io.Writer, format string, exp *experiment, a *seedfinder.Assignment) error {
	if format != formatTable {
		return writeStructured(out, format, seedSummary{Report: a.Report})
	}
	formatGroupCounts(out, exp.Plan.Proportions.Labels(), a.Labels)
	_, _ = io.WriteString(out, "\n")
	formatReport(out, a.Report)
	return nil
}

func init() {
	assignCmd.Flags().StringVar(&assignDataPath, "data", "", "dataset file (required)")
	assignCmd.Flags().StringVar(&assignPlanPath, "plan", "", "experiment plan YAML (required)")
	assignCmd.Flags().StringVar(&assignSeed, "seed", "", "seed to replay, e.g. rr123456 (required)")
	assignCmd.Flags().StringVar(&assignOutput, "output", "", "write unit labels to this CSV file")
	assignCmd.Flags().StringVar(&assignFormat, "format", formatTable, "output format: table, json or yaml")
	_ = assignCmd.MarkFlagRequired("data")
	_ = assignCmd.MarkFlagRequired("plan")
	_ = assignCmd.MarkFlagRequired("seed")
	rootCmd.AddCommand(assignCmd)
}
