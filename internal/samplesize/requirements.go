package samplesize

import (
	"math"

	"go.uber.org/zap"

	"github.com/sells-group/abtest-cli/internal/experr"
	"github.com/sells-group/abtest-cli/internal/stattest"
)

// MetricParams describes one metric's baseline. Ratio metrics need the
// numerator and denominator moments.
type MetricParams struct {
	Name       string        `json:"metric_name" yaml:"metric_name"`
	Kind       stattest.Kind `json:"-" yaml:"-"`
	Baseline   float64       `json:"baseline" yaml:"baseline"`
	Variance   float64       `json:"variance,omitempty" yaml:"variance,omitempty"`
	VarianceX  float64       `json:"variance_x,omitempty" yaml:"variance_x,omitempty"`
	VarianceY  float64       `json:"variance_y,omitempty" yaml:"variance_y,omitempty"`
	Covariance float64       `json:"covariance,omitempty" yaml:"covariance,omitempty"`
}

// Grid is an inclusive range of relative effects.
type Grid struct {
	Start, End, Step float64
}

// Values expands the grid. A non-positive step yields just Start.
func (g Grid) Values() []float64 {
	if !(g.Step > 0) || g.End < g.Start {
		return []float64{g.Start}
	}
	n := int(math.Floor((g.End-g.Start)/g.Step+1e-9)) + 1
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Round((g.Start+float64(i)*g.Step)*1e10) / 1e10
	}
	return out
}

// Traffic describes how units arrive and split.
type Traffic struct {
	Daily       float64 // units per day
	SampleRatio float64 // share of traffic in the experiment
	K           float64 // treatment size over control size
	Groups      int     // control plus treatments
}

// Requirement is one (metric, effect) row. Error is set and the sizes are
// zero when the calculation failed.
type Requirement struct {
	Metric    string  `json:"metric_name" yaml:"metric_name"`
	MDE       float64 `json:"mde" yaml:"mde"`
	Control   int     `json:"control_sample_size" yaml:"control_sample_size"`
	Treatment int     `json:"treatment_sample_size" yaml:"treatment_sample_size"`
	Total     int     `json:"total_sample_size" yaml:"total_sample_size"`
	Days      int     `json:"experiment_days" yaml:"experiment_days"`
	Error     string  `json:"error,omitempty" yaml:"error,omitempty"`
}

// Size dispatches one metric to its formula.
func (p *Planner) Size(m MetricParams, mde, k float64) (int, error) {
	switch m.Kind {
	case stattest.KindMean:
		return p.Mean(m.Baseline, m.Variance, mde, k)
	case stattest.KindProportion:
		return p.Proportion(m.Baseline, mde, k)
	case stattest.KindRatio:
		return p.Ratio(m.Baseline, m.VarianceX, m.VarianceY, m.Covariance, mde, k)
	default:
		return 0, experr.Configf("unknown metric kind %d", int(m.Kind))
	}
}

// Requirements sizes every metric at every effect in the grid. Per-row
// failures are recorded on the row; only invalid traffic aborts.
func (p *Planner) Requirements(metrics []MetricParams, grid Grid, tr Traffic) ([]Requirement, error) {
	if !(tr.Daily > 0) || !(tr.SampleRatio > 0) {
		return nil, experr.Configf("daily traffic and sample ratio must be positive")
	}
	if !(tr.K > 0) || tr.Groups < 2 {
		return nil, experr.Configf("k must be positive and groups at least 2")
	}

	var out []Requirement
	for _, m := range metrics {
		for _, mde := range grid.Values() {
			row := Requirement{Metric: m.Name, MDE: mde}
			control, err := p.Size(m, mde, tr.K)
			if err != nil {
				zap.L().Debug("samplesize: row failed",
					zap.String("metric", m.Name),
					zap.Float64("mde", mde),
					zap.Error(err),
				)
				row.Error = err.Error()
				out = append(out, row)
				continue
			}
			row.Control = control
			row.Treatment = int(math.Ceil(float64(control) * tr.K))
			row.Total = control + row.Treatment*(tr.Groups-1)
			row.Days = int(math.Ceil(float64(row.Total) / (tr.Daily * tr.SampleRatio)))
			out = append(out, row)
		}
	}
	return out, nil
}
