package stattest

import (
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/sells-group/abtest-cli/internal/experr"
)

// ProportionTest runs an unpooled two-proportion z-test on a 0/1 metric.
func ProportionTest(metric string, values []float64, g Groups, opts Options) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	treated, control, err := g.split(metric, values)
	if err != nil {
		return nil, err
	}
	for _, s := range []struct {
		group string
		xs    []float64
	}{{g.Treated, treated}, {g.Control, control}} {
		if err := checkSize(metric, s.group, s.xs); err != nil {
			return nil, err
		}
		for _, x := range s.xs {
			if math.IsNaN(x) || x < 0 || x > 1 {
				return nil, experr.Dataf(metric, s.group, "proportion value %v outside [0,1]", x)
			}
		}
	}

	nT, nC := len(treated), len(control)
	pT, pC := stat.Mean(treated, nil), stat.Mean(control, nil)
	v := pT*(1-pT)/float64(nT) + pC*(1-pC)/float64(nC)
	if !(v > 0) {
		return nil, experr.Dataf(metric, g.pairName(), "zero variance: rates %v and %v", pT, pC)
	}

	diff := pT - pC

	r := &Result{
		Test:         "two-proportion-z",
		TreatedValue: pT,
		ControlValue: pC,
		RelativeDiff: relative(diff, pC),
		TreatedN:     nT,
		ControlN:     nC,
	}
	infer(r, diff, math.Sqrt(v), distuv.UnitNormal, opts)
	return r, nil
}
