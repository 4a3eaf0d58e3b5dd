package main

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/abtest-cli/internal/batch"
	"github.com/sells-group/abtest-cli/internal/experr"
)

var (
	analyzeDataPath    string
	analyzePlanPath    string
	analyzeGroupColumn string
	analyzeFormat      string
)

// analysisSummary is the structured output of analyze.
type analysisSummary struct {
	GroupColumn string      `json:"group_column" yaml:"group_column"`
	Control     string      `json:"control" yaml:"control"`
	Treatments  []string    `json:"treatments" yaml:"treatments"`
	Report      []batch.Row `json:"report" yaml:"report"`
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Test every metric between groups already recorded in the data",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := checkFormat(analyzeFormat); err != nil {
			return err
		}
		if err := cfg.Validate("analyze"); err != nil {
			return err
		}
		ctx := cmd.Context()

		exp, err := loadExperiment(ctx, analyzeDataPath, analyzePlanPath)
		if err != nil {
			return err
		}
		summary, err := analyze(exp, analyzeGroupColumn)
		if err != nil {
			return eris.Wrap(err, "analyze")
		}

		zap.L().Info("analysis complete",
			zap.String("command", "analyze"),
			zap.String("control", summary.Control),
			zap.Int("rows", len(summary.Report)),
		)
		return renderAnalysis(cmd.OutOrStdout(), analyzeFormat, summary)
	},
}

func analyze(exp *experiment, groupColumn string) (*analysisSummary, error) {
	if groupColumn == "" {
		groupColumn = exp.Plan.GroupColumn
	}
	labels, ok := exp.Dataset.Labels(groupColumn)
	if !ok {
		return nil, experr.Configf("group column %q not found", groupColumn)
	}

	groups := exp.groupTable(labels)
	control, err := groups.ControlLabel(exp.Plan.Control)
	if err != nil {
		return nil, err
	}
	treatments := groups.TreatmentLabels(control)

	r := batch.Runner{Alpha: exp.Plan.Alpha, Sidedness: exp.Plan.Sidedness, BH: exp.bh()}
	rows, err := r.Report(exp.Dataset, labels, exp.Plan.Metrics, control, treatments)
	if err != nil {
		return nil, err
	}
	return &analysisSummary{GroupColumn: groupColumn, Control: control, Treatments: treatments, Report: rows}, nil
}

func renderAnalysis(out io.Writer, format string, s *analysisSummary) error {
	if format != formatTable {
		return writeStructured(out, format, s)
	}
	formatReport(out, s.Report)
	return nil
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeDataPath, "data", "", "dataset file with a group column (required)")
	analyzeCmd.Flags().StringVar(&analyzePlanPath, "plan", "", "experiment plan YAML (required)")
	analyzeCmd.Flags().StringVar(&analyzeGroupColumn, "group-column", "", "column holding each unit's group (default from plan)")
	analyzeCmd.Flags().StringVar(&analyzeFormat, "format", formatTable, "output format: table, json or yaml")
	_ = analyzeCmd.MarkFlagRequired("data")
	_ = analyzeCmd.MarkFlagRequired("plan")
	rootCmd.AddCommand(analyzeCmd)
}
