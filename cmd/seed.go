package main

import (
	"io"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/abtest-cli/internal/batch"
	"github.com/sells-group/abtest-cli/internal/seedfinder"
)

var (
	seedDataPath   string
	seedPlanPath   string
	seedIterations int
	seedWorkers    int
	seedRNGSeed    uint64
	seedTimeout    time.Duration
	seedTopN       int
	seedOutput     string
	seedFormat     string
)

// seedSummary is the structured output of a search.
type seedSummary struct {
	Search *seedfinder.Outcome `json:"search,omitempty" yaml:"search,omitempty"`
	Report []batch.Row         `json:"report" yaml:"report"`
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Search for the assignment seed with the best baseline balance",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := checkFormat(seedFormat); err != nil {
			return err
		}
		applySearchFlags()
		if err := cfg.Validate("search"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		log := zap.L().With(zap.String("command", "seed"))

		exp, err := loadExperiment(ctx, seedDataPath, seedPlanPath)
		if err != nil {
			return err
		}

		timeout := time.Duration(cfg.Search.TimeoutSecs) * time.Second
		if seedTimeout > 0 {
			timeout = seedTimeout
		}
		var rng *rand.Rand
		if cmd.Flags().Changed("rng-seed") {
			rng = rand.New(rand.NewPCG(seedRNGSeed, seedRNGSeed))
		}
		finder := seedfinder.New(seedfinder.Config{
			Iterations: cfg.Search.Iterations,
			Workers:    cfg.Search.Workers,
			Timeout:    timeout,
			TopN:       cfg.Search.TopN,
			Alpha:      exp.Plan.Alpha,
			Sidedness:  exp.Plan.Sidedness,
			BH:         exp.bh(),
		}, rng)

		final, err := finder.Run(ctx, exp.input())
		if err != nil {
			return eris.Wrap(err, "seed search")
		}

		if seedOutput != "" {
			if err := writeLabels(seedOutput, exp.Plan.UnitID, exp.Plan.GroupColumn, exp.Dataset.IDs, final.Assignment.Labels); err != nil {
				return err
			}
			log.Info("labels written", zap.String("path", seedOutput), zap.Int("units", exp.Dataset.Len()))
		}

		return renderSeed(cmd.OutOrStdout(), seedFormat, exp, final)
	},
}

// applySearchFlags lets explicit flags override the search config.
func applySearchFlags() {
	if seedIterations > 0 {
		cfg.Search.Iterations = seedIterations
	}
	if seedWorkers > 0 {
		cfg.Search.Workers = seedWorkers
	}
	if seedTopN > 0 {
		cfg.Search.TopN = seedTopN
	}
}

func renderSeed(out io.Writer, format string, exp *experiment, final *seedfinder.Final) error {
	if format != formatTable {
		return writeStructured(out, format, seedSummary{Search: final.Outcome, Report: final.Assignment.Report})
	}
	formatOutcome(out, final.Outcome)
	_, _ = io.WriteString(out, "\n")
	formatGroupCounts(out, exp.Plan.Proportions.Labels(), final.Assignment.Labels)
	_, _ = io.WriteString(out, "\n")
	formatReport(out, final.Assignment.Report)
	return nil
}

func init() {
	seedCmd.Flags().StringVar(&seedDataPath, "data", "", "dataset file: .csv, .tsv, .xlsx or .json (required)")
	seedCmd.Flags().StringVar(&seedPlanPath, "plan", "", "experiment plan YAML (required)")
	seedCmd.Flags().IntVar(&seedIterations, "iterations", 0, "candidate seeds to score (default from config)")
	seedCmd.Flags().IntVar(&seedWorkers, "workers", 0, "parallel workers (default from config, 0 = GOMAXPROCS)")
	seedCmd.Flags().Uint64Var(&seedRNGSeed, "rng-seed", 0, "fix the candidate generator for a reproducible search")
	seedCmd.Flags().DurationVar(&seedTimeout, "timeout", 0, "stop the search after this long and keep the best so far")
	seedCmd.Flags().IntVar(&seedTopN, "top", 0, "candidates to list (default from config)")
	seedCmd.Flags().StringVar(&seedOutput, "output", "", "write unit labels to this CSV file")
	seedCmd.Flags().StringVar(&seedFormat, "format", formatTable, "output format: table, json or yaml")
	_ = seedCmd.MarkFlagRequired("data")
	_ = seedCmd.MarkFlagRequired("plan")
	rootCmd.AddCommand(seedCmd)
}
