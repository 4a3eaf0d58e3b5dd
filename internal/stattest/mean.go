package stattest

import (
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/sells-group/abtest-cli/internal/experr"
)

// MeanTest runs Welch's unequal-variance t-test on a continuous metric.
func MeanTest(metric string, values []float64, g Groups, opts Options) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	treated, control, err := g.split(metric, values)
	if err != nil {
		return nil, err
	}
	if err := checkSize(metric, g.Treated, treated); err != nil {
		return nil, err
	}
	if err := checkSize(metric, g.Control, control); err != nil {
		return nil, err
	}
	if err := checkFinite(metric, g.Treated, treated); err != nil {
		return nil, err
	}
	if err := checkFinite(metric, g.Control, control); err != nil {
		return nil, err
	}

	nT, nC := len(treated), len(control)
	meanT, meanC := stat.Mean(treated, nil), stat.Mean(control, nil)
	a := stat.Variance(treated, nil) / float64(nT)
	b := stat.Variance(control, nil) / float64(nC)
	if !(a+b > 0) {
		return nil, experr.Dataf(metric, g.pairName(), "zero variance in both groups")
	}

	diff := meanT - meanC

	df := welchDF(a, b, nT, nC)
	r := &Result{
		Test:         "welch-t",
		TreatedValue: meanT,
		ControlValue: meanC,
		RelativeDiff: relative(diff, meanC),
		TreatedN:     nT,
		ControlN:     nC,
	}
	infer(r, diff, math.Sqrt(a+b), distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}, opts)
	return r, nil
}
