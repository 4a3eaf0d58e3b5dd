// Package samplesize plans how many units an experiment needs to detect a
// relative effect at a given significance level and power.
package samplesize

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/sells-group/abtest-cli/internal/experr"
)

// Planner holds the test parameters shared by every calculation.
type Planner struct {
	Alpha    float64
	Power    float64
	TwoSided bool
}

// NewPlanner validates alpha and power.
func NewPlanner(alpha, power float64, twoSided bool) (*Planner, error) {
	if !(alpha > 0 && alpha < 1) || !(power > 0 && power < 1) {
		return nil, experr.Configf("alpha and power must be in (0,1), got %v and %v", alpha, power)
	}
	return &Planner{Alpha: alpha, Power: power, TwoSided: twoSided}, nil
}

// zSum returns (z_alpha + z_beta)^2.
func (p *Planner) zSum() float64 {
	q := 1 - p.Alpha
	if p.TwoSided {
		q = 1 - p.Alpha/2
	}
	z := distuv.UnitNormal.Quantile(q) + distuv.UnitNormal.Quantile(p.Power)
	return z * z
}

func checkCommon(mde, k float64) error {
	if !(mde > 0) {
		return experr.Configf("mde must be positive, got %v", mde)
	}
	if !(k > 0) {
		return experr.Configf("group ratio k must be positive, got %v", k)
	}
	return nil
}

// Mean returns the control-group size for a continuous metric. mde is
// relative to baseline; k is treatment size over control size.
func (p *Planner) Mean(baseline, variance, mde, k float64) (int, error) {
	if !(baseline > 0) {
		return 0, experr.Configf("baseline must be positive, got %v", baseline)
	}
	if !(variance > 0) {
		return 0, experr.Configf("variance must be positive, got %v", variance)
	}
	if err := checkCommon(mde, k); err != nil {
		return 0, err
	}
	effect := mde * baseline
	n := (1 + 1/k) * p.zSum() * variance / (effect * effect)
	return int(math.Ceil(n)), nil
}

// Proportion returns the control-group size for a conversion rate.
func (p *Planner) Proportion(rate, mde, k float64) (int, error) {
	if !(rate > 0 && rate < 1) {
		return 0, experr.Configf("baseline rate must be in (0,1), got %v", rate)
	}
	if err := checkCommon(mde, k); err != nil {
		return 0, err
	}
	delta := rate * mde
	treated := rate + delta
	n := (treated*(1-treated)/k + rate*(1-rate)) * p.zSum() / (delta * delta)
	if !(n > 0) {
		return 0, experr.Configf("effect %v moves the rate outside (0,1)", mde)
	}
	return int(math.Ceil(n)), nil
}

// Ratio returns the control-group size for a ratio metric from the
// per-unit numerator and denominator moments.
func (p *Planner) Ratio(baselineRatio, varX, varY, covXY, mde, k float64) (int, error) {
	if !(baselineRatio > 0) {
		return 0, experr.Configf("baseline ratio must be positive, got %v", baselineRatio)
	}
	if !(varX > 0) || !(varY > 0) {
		return 0, experr.Configf("numerator and denominator variances must be positive")
	}
	if err := checkCommon(mde, k); err != nil {
		return 0, err
	}
	v := varX + baselineRatio*baselineRatio*varY - 2*baselineRatio*covXY
	if !(v > 0) {
		return 0, experr.Configf("ratio variance %v is not positive", v)
	}
	effect := mde * baselineRatio
	n := (1 + 1/k) * p.zSum() * v / (effect * effect)
	return int(math.Ceil(n)), nil
}
