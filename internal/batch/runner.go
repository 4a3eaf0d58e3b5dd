// Package batch runs the per-metric hypothesis tests across every
// treatment-versus-control pair and applies multiple-comparison correction.
package batch

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/abtest-cli/internal/experr"
	"github.com/sells-group/abtest-cli/internal/stattest"
)

// Columns is read-only access to metric columns by name.
type Columns interface {
	Column(name string) ([]float64, bool)
}

// Runner composes stattest over many metrics and treatment groups.
type Runner struct {
	Alpha     float64
	Sidedness stattest.Sidedness
	BH        bool // apply Benjamini-Hochberg correction
}

// NewRunner returns a two-sided runner at alpha without correction.
func NewRunner(alpha float64) Runner {
	return Runner{Alpha: alpha, Sidedness: stattest.TwoSided}
}

func (r Runner) options() stattest.Options {
	return stattest.Options{Alpha: r.Alpha, Sidedness: r.Sidedness}
}

// Row is one (treatment, metric) comparison against control. Result is nil
// when the comparison failed; Error then holds the reason.
type Row struct {
	Treatment     string           `json:"treatment" yaml:"treatment"`
	Control       string           `json:"control" yaml:"control"`
	Metric        string           `json:"metric" yaml:"metric"`
	Kind          string           `json:"metric_type" yaml:"metric_type"`
	Result        *stattest.Result `json:"result" yaml:"result"`
	AdjustedP     *float64         `json:"p_value_bh,omitempty" yaml:"p_value_bh,omitempty"`
	SignificantBH *bool            `json:"significant_bh,omitempty" yaml:"significant_bh,omitempty"`
	Error         string           `json:"error,omitempty" yaml:"error,omitempty"`
}

// Run tests every metric for every treatment label against control.
// Treatments form the outer loop and metrics the inner loop. The first
// error aborts the run.
func (r Runner) Run(cols Columns, labels []string, metrics []stattest.Metric, control string, treatments []string) ([]Row, error) {
	rows, err := r.collect(cols, labels, metrics, control, treatments, false)
	if err != nil {
		return nil, err
	}
	if r.BH {
		r.adjust(rows)
	}
	return rows, nil
}

// Report is Run that records data errors on their rows instead of failing,
// so one degenerate metric never hides the rest of the table.
// Configuration errors still abort. Failed rows are left out of the BH
// family.
func (r Runner) Report(cols Columns, labels []string, metrics []stattest.Metric, control string, treatments []string) ([]Row, error) {
	rows, err := r.collect(cols, labels, metrics, control, treatments, true)
	if err != nil {
		return nil, err
	}
	if r.BH {
		r.adjust(rows)
	}
	return rows, nil
}

func (r Runner) collect(cols Columns, labels []string, metrics []stattest.Metric, control string, treatments []string, tolerant bool) ([]Row, error) {
	if len(metrics) == 0 {
		return nil, experr.Configf("no metrics to test")
	}
	if len(treatments) == 0 {
		return nil, experr.Configf("no treatment groups to test")
	}

	rows := make([]Row, 0, len(treatments)*len(metrics))
	for _, treated := range treatments {
		for _, m := range metrics {
			row := Row{Treatment: treated, Control: control, Metric: m.Name(), Kind: m.Kind.String()}
			res, err := Test(cols, labels, m, treated, control, r.options())
			switch {
			case err == nil:
				row.Result = round(res)
			case tolerant && experr.IsData(err):
				row.Error = err.Error()
			default:
				return nil, eris.Wrapf(err, "batch: %s vs %s on %s", treated, control, m.Name())
			}
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// Test dispatches one metric to its hypothesis test.
func Test(cols Columns, labels []string, m stattest.Metric, treated, control string, opts stattest.Options) (*stattest.Result, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	g := stattest.Groups{Labels: labels, Treated: treated, Control: control}

	switch m.Kind {
	case stattest.KindMean:
		values, err := column(cols, m.Column)
		if err != nil {
			return nil, err
		}
		return stattest.MeanTest(m.Name(), values, g, opts)
	case stattest.KindProportion:
		values, err := column(cols, m.Column)
		if err != nil {
			return nil, err
		}
		return stattest.ProportionTest(m.Name(), values, g, opts)
	case stattest.KindRatio:
		num, err := column(cols, m.Numerator)
		if err != nil {
			return nil, err
		}
		den, err := column(cols, m.Denominator)
		if err != nil {
			return nil, err
		}
		return stattest.RatioTest(m.Name(), num, den, g, opts)
	default:
		return nil, experr.Configf("unknown metric kind %d", int(m.Kind))
	}
}

func column(cols Columns, name string) ([]float64, error) {
	values, ok := cols.Column(name)
	if !ok {
		return nil, experr.Configf("column %q not found", name)
	}
	return values, nil
}

// MaxAbsT returns the largest |t| across successful rows.
func MaxAbsT(rows []Row) float64 {
	best := 0.0
	for _, row := range rows {
		if row.Result == nil {
			continue
		}
		best = math.Max(best, math.Abs(row.Result.TStatistic))
	}
	return best
}

// Round6 rounds x to six decimal places. Infinities pass through.
func Round6(x float64) float64 {
	if math.IsInf(x, 0) || math.IsNaN(x) {
		return x
	}
	return math.Round(x*1e6) / 1e6
}

func round(res *stattest.Result) *stattest.Result {
	out := *res
	out.TreatedValue = Round6(res.TreatedValue)
	out.ControlValue = Round6(res.ControlValue)
	out.AbsoluteDiff = Round6(res.AbsoluteDiff)
	if res.RelativeDiff != nil {
		rel := Round6(*res.RelativeDiff)
		out.RelativeDiff = &rel
	}
	out.TStatistic = Round6(res.TStatistic)
	out.PValue = Round6(res.PValue)
	out.CI = stattest.Interval{Lo: Round6(res.CI.Lo), Hi: Round6(res.CI.Hi)}
	return &out
}

func (r Runner) adjust(rows []Row) {
	var idx []int
	var ps []float64
	for i, row := range rows {
		if row.Result == nil {
			continue
		}
		idx = append(idx, i)
		ps = append(ps, row.Result.PValue)
	}
	for k, adj := range AdjustBH(ps) {
		p := Round6(adj)
		sig := p < r.Alpha
		rows[idx[k]].AdjustedP = &p
		rows[idx[k]].SignificantBH = &sig
	}
}
