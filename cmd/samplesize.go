package main

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/sells-group/abtest-cli/internal/samplesize"
	"github.com/sells-group/abtest-cli/internal/stattest"
)

var ssFlags struct {
	name         string
	kind         string
	baseline     float64
	variance     float64
	varianceX    float64
	varianceY    float64
	covariance   float64
	mde          float64
	mdeEnd       float64
	mdeStep      float64
	dailyTraffic float64
	sampleRatio  float64
	k            float64
	groups       int
	alpha        float64
	power        float64
	oneSided     bool
	format       string
}

var samplesizeCmd = &cobra.Command{
	Use:   "samplesize",
	Short: "Plan the units and days needed to detect a relative effect",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := checkFormat(ssFlags.format); err != nil {
			return err
		}
		if ssFlags.alpha > 0 {
			cfg.Stats.Alpha = ssFlags.alpha
		}
		if ssFlags.power > 0 {
			cfg.SampleSize.Power = ssFlags.power
		}
		if err := cfg.Validate("samplesize"); err != nil {
			return err
		}

		rows, err := planSampleSize()
		if err != nil {
			return err
		}
		return renderRequirements(cmd.OutOrStdout(), ssFlags.format, rows)
	},
}

func planSampleSize() ([]samplesize.Requirement, error) {
	kind, err := stattest.ParseKind(ssFlags.kind)
	if err != nil {
		return nil, err
	}
	planner, err := samplesize.NewPlanner(cfg.Stats.Alpha, cfg.SampleSize.Power, !ssFlags.oneSided)
	if err != nil {
		return nil, err
	}
	params := samplesize.MetricParams{
		Name:       ssFlags.name,
		Kind:       kind,
		Baseline:   ssFlags.baseline,
		Variance:   ssFlags.variance,
		VarianceX:  ssFlags.varianceX,
		VarianceY:  ssFlags.varianceY,
		Covariance: ssFlags.covariance,
	}
	return planner.Requirements(
		[]samplesize.MetricParams{params},
		samplesize.Grid{Start: ssFlags.mde, End: ssFlags.mdeEnd, Step: ssFlags.mdeStep},
		samplesize.Traffic{
			Daily:       ssFlags.dailyTraffic,
			SampleRatio: ssFlags.sampleRatio,
			K:           ssFlags.k,
			Groups:      ssFlags.groups,
		},
	)
}

func renderRequirements(out io.Writer, format string, rows []samplesize.Requirement) error {
	if format != formatTable {
		return writeStructured(out, format, rows)
	}
	formatRequirements(out, rows)
	return nil
}

func init() {
	f := samplesizeCmd.Flags()
	f.StringVar(&ssFlags.name, "name", "metric", "metric name for the report")
	f.StringVar(&ssFlags.kind, "type", "mean", "metric type: mean, proportion or ratio")
	f.Float64Var(&ssFlags.baseline, "baseline", 0, "baseline mean, rate, or ratio (required)")
	f.Float64Var(&ssFlags.variance, "variance", 1, "metric variance (mean)")
	f.Float64Var(&ssFlags.varianceX, "variance-x", 0, "numerator variance (ratio)")
	f.Float64Var(&ssFlags.varianceY, "variance-y", 0, "denominator variance (ratio)")
	f.Float64Var(&ssFlags.covariance, "covariance", 0, "numerator and denominator covariance (ratio)")
	f.Float64Var(&ssFlags.mde, "mde", 0.1, "relative minimum detectable effect, or the grid start")
	f.Float64Var(&ssFlags.mdeEnd, "mde-end", 0, "grid end (inclusive)")
	f.Float64Var(&ssFlags.mdeStep, "mde-step", 0, "grid step")
	f.Float64Var(&ssFlags.dailyTraffic, "daily-traffic", 1000, "units arriving per day")
	f.Float64Var(&ssFlags.sampleRatio, "sample-ratio", 0.1, "share of traffic entering the experiment")
	f.Float64Var(&ssFlags.k, "k", 1, "treatment size over control size")
	f.IntVar(&ssFlags.groups, "groups", 2, "number of groups including control")
	f.Float64Var(&ssFlags.alpha, "alpha", 0, "significance level (default from config)")
	f.Float64Var(&ssFlags.power, "power", 0, "statistical power (default from config)")
	f.BoolVar(&ssFlags.oneSided, "one-sided", false, "plan for a one-sided test")
	f.StringVar(&ssFlags.format, "format", formatTable, "output format: table, json or yaml")
	_ = samplesizeCmd.MarkFlagRequired("baseline")
	rootCmd.AddCommand(samplesizeCmd)
}
