package main

import (
	"context"

	"github.com/sells-group/abtest-cli/internal/bucket"
	"github.com/sells-group/abtest-cli/internal/dataset"
	"github.com/sells-group/abtest-cli/internal/plan"
	"github.com/sells-group/abtest-cli/internal/seedfinder"
)

// experiment is a plan together with the dataset it reads.
type experiment struct {
	Plan    *plan.Plan
	Dataset *dataset.Dataset
}

func loadExperiment(ctx context.Context, dataPath, planPath string) (*experiment, error) {
	p, err := plan.Load(planPath)
	if err != nil {
		return nil, err
	}
	d, err := dataset.Load(ctx, dataset.Source{
		Path:     dataPath,
		IDColumn: p.UnitID,
		Required: p.RequiredColumns(),
		Charset:  p.Charset,
	})
	if err != nil {
		return nil, err
	}
	return &experiment{Plan: p, Dataset: d}, nil
}

func (e *experiment) input() seedfinder.Input {
	return seedfinder.Input{
		Dataset:     e.Dataset,
		Metrics:     e.Plan.Metrics,
		Proportions: e.Plan.Proportions,
		Control:     e.Plan.Control,
	}
}

func (e *experiment) bh() bool {
	return e.Plan.BHCorrection || cfg.Stats.BHCorrection
}

// groupTable returns the plan's proportions, or, when the plan has none,
// the distinct labels in order of first appearance.
func (e *experiment) groupTable(labels []string) bucket.Proportions {
	if len(e.Plan.Proportions) > 0 {
		return e.Plan.Proportions
	}
	var out bucket.Proportions
	for _, l := range labels {
		if l != "" && !out.Has(l) {
			out = append(out, bucket.Share{Label: l})
		}
	}
	return out
}
