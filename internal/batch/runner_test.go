package batch

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/sells-group/abtest-cli/internal/experr"
	"github.com/sells-group/abtest-cli/internal/stattest"
)

type mapColumns map[string][]float64

func (m mapColumns) Column(name string) ([]float64, bool) {
	c, ok := m[name]
	return c, ok
}

// fixture has 3 groups of 6 units each: control, t1, t2.
func fixture() (mapColumns, []string) {
	labels := []string{
		"control", "control", "control", "control", "control", "control",
		"t1", "t1", "t1", "t1", "t1", "t1",
		"t2", "t2", "t2", "t2", "t2", "t2",
	}
	cols := mapColumns{
		"revenue":   {10, 9, 13, 11, 12, 8, 12, 15, 11, 18, 14, 16, 10, 11, 9, 12, 10, 11},
		"converted": {1, 0, 0, 1, 0, 0, 1, 1, 0, 1, 0, 1, 0, 1, 0, 0, 1, 0},
		"clicks":    {2, 4, 1, 5, 3, 2, 3, 5, 2, 8, 4, 6, 2, 3, 2, 4, 3, 3},
		"views":     {9, 14, 7, 18, 12, 10, 10, 12, 8, 20, 11, 15, 9, 12, 8, 15, 11, 12},
	}
	return cols, labels
}

var fixtureMetrics = []stattest.Metric{
	stattest.Mean("revenue"),
	stattest.Proportion("converted"),
	stattest.Ratio("clicks", "views"),
}

func TestRun_OrderTreatmentsOuterMetricsInner(t *testing.T) {
	t.Parallel()
	cols, labels := fixture()

	rows, err := NewRunner(0.05).Run(cols, labels, fixtureMetrics, "control", []string{"t1", "t2"})
	require.NoError(t, err)
	require.Len(t, rows, 6)

	want := [][2]string{
		{"t1", "revenue"}, {"t1", "converted"}, {"t1", "clicks/views"},
		{"t2", "revenue"}, {"t2", "converted"}, {"t2", "clicks/views"},
	}
	for i, w := range want {
		assert.Equal(t, w[0], rows[i].Treatment)
		assert.Equal(t, w[1], rows[i].Metric)
		assert.Equal(t, "control", rows[i].Control)
		require.NotNil(t, rows[i].Result)
		assert.Nil(t, rows[i].AdjustedP)
	}
	assert.Equal(t, "mean", rows[0].Kind)
	assert.Equal(t, "proportion", rows[1].Kind)
	assert.Equal(t, "ratio", rows[2].Kind)
}

func TestRun_RoundsToSixDecimals(t *testing.T) {
	t.Parallel()
	cols, labels := fixture()

	rows, err := NewRunner(0.05).Run(cols, labels, fixtureMetrics[:1], "control", []string{"t1"})
	require.NoError(t, err)
	r := rows[0].Result
	assert.Equal(t, 14.333333, r.TreatedValue)
	assert.Equal(t, 3.833333, r.AbsoluteDiff)
	assert.Equal(t, 2.944848, r.TStatistic)
	assert.Equal(t, 0.016139, r.PValue)
	require.NotNil(t, r.RelativeDiff)
	for _, v := range []float64{*r.RelativeDiff, r.CI.Lo, r.CI.Hi} {
		assert.Equal(t, v, Round6(v))
	}
}

func TestRun_FailsFastOnDataError(t *testing.T) {
	t.Parallel()
	cols, labels := fixture()
	cols["flat"] = make([]float64, len(labels))

	_, err := NewRunner(0.05).Run(cols, labels, []stattest.Metric{stattest.Mean("revenue"), stattest.Mean("flat")}, "control", []string{"t1"})
	require.Error(t, err)
	assert.True(t, experr.IsData(err))
}

func TestReport_CapturesDataErrorsPerRow(t *testing.T) {
	t.Parallel()
	cols, labels := fixture()
	cols["flat"] = make([]float64, len(labels))

	r := Runner{Alpha: 0.05, Sidedness: stattest.TwoSided, BH: true}
	rows, err := r.Report(cols, labels, []stattest.Metric{stattest.Mean("revenue"), stattest.Mean("flat")}, "control", []string{"t1", "t2"})
	require.NoError(t, err)
	require.Len(t, rows, 4)

	assert.NotNil(t, rows[0].Result)
	assert.NotNil(t, rows[0].AdjustedP)
	assert.Nil(t, rows[1].Result)
	assert.Nil(t, rows[1].AdjustedP)
	assert.Contains(t, rows[1].Error, "zero variance")
	assert.NotNil(t, rows[2].Result)
	assert.Nil(t, rows[3].Result)
}

func TestReport_ConfigErrorAborts(t *testing.T) {
	t.Parallel()
	cols, labels := fixture()

	_, err := NewRunner(0.05).Report(cols, labels, []stattest.Metric{stattest.Mean("missing")}, "control", []string{"t1"})
	assert.True(t, experr.IsConfig(err))

	_, err = NewRunner(0.05).Report(cols, labels, nil, "control", []string{"t1"})
	assert.True(t, experr.IsConfig(err))

	_, err = NewRunner(0.05).Report(cols, labels, fixtureMetrics, "control", nil)
	assert.True(t, experr.IsConfig(err))
}

func TestRun_BHAdjustsAndRederivesSignificance(t *testing.T) {
	t.Parallel()
	cols, labels := fixture()

	r := Runner{Alpha: 0.05, Sidedness: stattest.TwoSided, BH: true}
	rows, err := r.Run(cols, labels, fixtureMetrics, "control", []string{"t1", "t2"})
	require.NoError(t, err)

	for _, row := range rows {
		require.NotNil(t, row.AdjustedP)
		require.NotNil(t, row.SignificantBH)
		assert.GreaterOrEqual(t, *row.AdjustedP, row.Result.PValue)
		assert.Equal(t, *row.AdjustedP < 0.05, *row.SignificantBH)
	}
}

func TestMaxAbsT(t *testing.T) {
	t.Parallel()

	rows := []Row{
		{Result: &stattest.Result{TStatistic: 1.2}},
		{Result: &stattest.Result{TStatistic: -3.4}},
		{Error: "failed"},
		{Result: &stattest.Result{TStatistic: 2.2}},
	}
	assert.Equal(t, 3.4, MaxAbsT(rows))
	assert.Equal(t, 0.0, MaxAbsT(nil))
}

func TestAdjustBH_KnownValues(t *testing.T) {
	t.Parallel()

	got := AdjustBH([]float64{0.01, 0.04, 0.03, 0.005})
	want := []float64{0.02, 0.04, 0.04, 0.02}
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-12)
	}
	assert.Nil(t, AdjustBH(nil))
}

func TestAdjustBH_LargestRankKeepsRaw(t *testing.T) {
	t.Parallel()

	raw := []float64{0.9054073159817448, 0.046875, 0.783531665802002}
	adj := AdjustBH(raw)
	for i := range raw {
		assert.GreaterOrEqual(t, adj[i], raw[i], "row %d", i)
	}
	assert.Equal(t, raw[0], adj[0])
}

func TestAdjustBH_NeverBelowRaw(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ps := rapid.SliceOfN(rapid.Float64Range(0, 1), 1, 50).Draw(rt, "p")
		adj := AdjustBH(ps)
		require.Len(rt, adj, len(ps))
		for i := range ps {
			assert.GreaterOrEqual(rt, adj[i], ps[i])
			assert.LessOrEqual(rt, adj[i], 1.0)
		}
	})
}

func TestRound6(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1.234568, Round6(1.2345678))
	assert.Equal(t, -0.000001, Round6(-0.0000012))
	assert.True(t, math.IsInf(Round6(math.Inf(-1)), -1))
}
