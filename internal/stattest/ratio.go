package stattest

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/sells-group/abtest-cli/internal/experr"
)

// RatioTest compares ratio-of-sums metrics sum(num)/sum(den) with a
// first-order delta-method variance and Welch-Satterthwaite degrees of
// freedom.
func RatioTest(metric string, num, den []float64, g Groups, opts Options) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	xT, xC, err := g.split(metric, num)
	if err != nil {
		return nil, err
	}
	yT, yC, err := g.split(metric, den)
	if err != nil {
		return nil, err
	}

	ratioT, varT, err := ratioStats(metric, g.Treated, xT, yT)
	if err != nil {
		return nil, err
	}
	ratioC, varC, err := ratioStats(metric, g.Control, xC, yC)
	if err != nil {
		return nil, err
	}
	if !(varT+varC > 0) {
		return nil, experr.Dataf(metric, g.pairName(), "zero ratio variance in both groups")
	}

	diff := ratioT - ratioC

	nT, nC := len(xT), len(xC)
	df := welchDF(varT, varC, nT, nC)
	r := &Result{
		Test:         "delta-ratio-t",
		TreatedValue: ratioT,
		ControlValue: ratioC,
		RelativeDiff: relative(diff, ratioC),
		TreatedN:     nT,
		ControlN:     nC,
	}
	infer(r, diff, math.Sqrt(varT+varC), distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}, opts)
	return r, nil
}

// ratioStats returns one group's ratio of sums and its delta-method
// variance.
func ratioStats(metric, group string, x, y []float64) (ratio, variance float64, err error) {
	if err := checkSize(metric, group, x); err != nil {
		return 0, 0, err
	}
	if err := checkFinite(metric, group, x); err != nil {
		return 0, 0, err
	}
	if err := checkFinite(metric, group, y); err != nil {
		return 0, 0, err
	}
	if stat.Mean(y, nil) <= 0 {
		return 0, 0, experr.Dataf(metric, group, "denominator mean is not positive")
	}

	ratio = floats.Sum(x) / floats.Sum(y)
	variance = DeltaVariance(x, y)
	if variance < 0 {
		return 0, 0, experr.Dataf(metric, group, "negative delta-method variance %v", variance)
	}
	return ratio, variance, nil
}

// DeltaVariance approximates Var(mean(x)/mean(y)) to first order:
//
//	Var(X)/(n*muY^2) + muX^2*Var(Y)/(n*muY^4) - 2*muX*Cov(X,Y)/(n*muY^3)
//
// using unbiased sample moments.
func DeltaVariance(x, y []float64) float64 {
	n := float64(len(x))
	mx, my := stat.Mean(x, nil), stat.Mean(y, nil)
	vx := stat.Variance(x, nil) / n
	vy := stat.Variance(y, nil) / n
	cov := stat.Covariance(x, y, nil) / n

	return vx/(my*my) +
		mx*mx/math.Pow(my, 4)*vy -
		2*mx/math.Pow(my, 3)*cov
}
