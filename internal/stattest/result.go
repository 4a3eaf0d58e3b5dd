// Package stattest implements the two-group hypothesis tests used to audit
// experiments: Welch's t-test for means, a two-proportion z-test for rates,
// and a delta-method t-test for ratio-of-sums metrics.
package stattest

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/sells-group/abtest-cli/internal/experr"
)

// DefaultAlpha is the conventional significance threshold.
const DefaultAlpha = 0.05

// Sidedness is the alternative hypothesis.
type Sidedness string

const (
	TwoSided Sidedness = "two-sided"
	Less     Sidedness = "less"
	Greater  Sidedness = "greater"
)

// ParseSidedness resolves an alternative name. Empty means two-sided.
func ParseSidedness(s string) (Sidedness, error) {
	switch Sidedness(strings.ToLower(strings.TrimSpace(s))) {
	case "", TwoSided:
		return TwoSided, nil
	case Less:
		return Less, nil
	case Greater:
		return Greater, nil
	default:
		return "", experr.Configf("unknown alternative %q (want two-sided, less or greater)", s)
	}
}

// Options carries the per-call test parameters.
type Options struct {
	Alpha     float64
	Sidedness Sidedness
}

// DefaultOptions returns a two-sided test at DefaultAlpha.
func DefaultOptions() Options {
	return Options{Alpha: DefaultAlpha, Sidedness: TwoSided}
}

func (o Options) validate() error {
	if !(o.Alpha > 0 && o.Alpha < 1) {
		return experr.Configf("alpha %v outside (0,1)", o.Alpha)
	}
	if _, err := ParseSidedness(string(o.Sidedness)); err != nil {
		return err
	}
	return nil
}

// Interval is a confidence interval. One-sided intervals have one
// infinite bound.
type Interval struct {
	Lo float64 `yaml:"lo"`
	Hi float64 `yaml:"hi"`
}

// MarshalJSON renders [lo, hi] with null for infinite bounds.
func (iv Interval) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]*float64{finite(iv.Lo), finite(iv.Hi)})
}

// UnmarshalJSON reads [lo, hi]; a null lower bound is -Inf and a null upper
// bound is +Inf.
func (iv *Interval) UnmarshalJSON(b []byte) error {
	var raw [2]*float64
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	iv.Lo, iv.Hi = math.Inf(-1), math.Inf(1)
	if raw[0] != nil {
		iv.Lo = *raw[0]
	}
	if raw[1] != nil {
		iv.Hi = *raw[1]
	}
	return nil
}

func finite(f float64) *float64 {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return nil
	}
	return &f
}

// Result is the shared output contract of every test.
type Result struct {
	Test         string   `json:"test" yaml:"test"`
	TreatedValue float64  `json:"treated_value" yaml:"treated_value"`
	ControlValue float64  `json:"control_value" yaml:"control_value"`
	AbsoluteDiff float64  `json:"absolute_diff" yaml:"absolute_diff"`
	RelativeDiff *float64 `json:"relative_diff" yaml:"relative_diff"` // nil when the control value is zero
	TStatistic   float64  `json:"t_statistic" yaml:"t_statistic"`
	PValue       float64  `json:"p_value" yaml:"p_value"`
	Significant  bool     `json:"significant" yaml:"significant"`
	CI           Interval `json:"confidence_interval" yaml:"confidence_interval"`
	TreatedN     int      `json:"treated_n" yaml:"treated_n"`
	ControlN     int      `json:"control_n" yaml:"control_n"`
}

// Groups selects the two groups a test compares from a per-unit label
// vector.
type Groups struct {
	Labels  []string
	Treated string
	Control string
}

func (g Groups) pairName() string {
	return g.Treated + " vs " + g.Control
}

// split partitions values by label into treated and control samples.
func (g Groups) split(metric string, values []float64) (treated, control []float64, err error) {
	if len(values) != len(g.Labels) {
		return nil, nil, experr.Configf("metric %q has %d values for %d labels", metric, len(values), len(g.Labels))
	}
	for i, l := range g.Labels {
		switch l {
		case g.Treated:
			treated = append(treated, values[i])
		case g.Control:
			control = append(control, values[i])
		}
	}
	return treated, control, nil
}

// distribution is the reference distribution of a test statistic.
type distribution interface {
	CDF(x float64) float64
	Survival(x float64) float64
	Quantile(p float64) float64
}

// infer fills the statistic, p-value, interval and significance for a
// difference diff with standard error se under dist.
func infer(r *Result, diff, se float64, dist distribution, opts Options) {
	stat := diff / se
	r.AbsoluteDiff = diff
	r.TStatistic = stat

	switch opts.Sidedness {
	case Greater:
		r.PValue = dist.Survival(stat)
		q := dist.Quantile(1 - opts.Alpha)
		r.CI = Interval{Lo: diff - q*se, Hi: math.Inf(1)}
	case Less:
		r.PValue = dist.CDF(stat)
		q := dist.Quantile(1 - opts.Alpha)
		r.CI = Interval{Lo: math.Inf(-1), Hi: diff + q*se}
	default:
		r.PValue = 2 * dist.Survival(math.Abs(stat))
		q := dist.Quantile(1 - opts.Alpha/2)
		r.CI = Interval{Lo: diff - q*se, Hi: diff + q*se}
	}
	r.Significant = r.PValue < opts.Alpha
}

// checkFinite rejects NaN and infinite inputs.
func checkFinite(metric, group string, xs []float64) error {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return experr.Dataf(metric, group, "non-finite value %v", x)
		}
	}
	return nil
}

// checkSize rejects groups with fewer than two units.
func checkSize(metric, group string, xs []float64) error {
	if len(xs) < 2 {
		return experr.Dataf(metric, group, "group size %d < 2", len(xs))
	}
	return nil
}

// relative returns diff/control, or nil when control is zero.
func relative(diff, control float64) *float64 {
	if control == 0 {
		return nil
	}
	rel := diff / control
	return &rel
}

// welchDF is the Welch-Satterthwaite degrees of freedom for two variance
// terms a = var1/n1 and b = var2/n2.
func welchDF(a, b float64, n1, n2 int) float64 {
	return (a + b) * (a + b) / (a*a/float64(n1-1) + b*b/float64(n2-1))
}
