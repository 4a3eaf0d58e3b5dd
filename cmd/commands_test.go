package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/abtest-cli/internal/batch"
	"github.com/sells-group/abtest-cli/internal/bucket"
	"github.com/sells-group/abtest-cli/internal/experr"
	"github.com/sells-group/abtest-cli/internal/seedfinder"
	"github.com/sells-group/abtest-cli/internal/stattest"
)

// writeExperiment writes a dataset with a recorded group column and a plan
// over it, returning their paths.
func writeExperiment(t *testing.T, planYAML string) (dataPath, planPath string) {
	t.Helper()
	dir := t.TempDir()

	var b strings.Builder
	b.WriteString("user_id,group,revenue,converted\n")
	for i := range 60 {
		group := "control"
		lift := 0.0
		if i%2 == 1 {
			group = "treatment"
			lift = 1.5
		}
		converted := 0
		if i%3 == 0 {
			converted = 1
		}
		fmt.Fprintf(&b, "%d,%s,%.2f,%d\n", 1000+i, group, float64(i%7)+lift, converted)
	}

	dataPath = filepath.Join(dir, "units.csv")
	planPath = filepath.Join(dir, "plan.yaml")
	require.NoError(t, os.WriteFile(dataPath, []byte(b.String()), 0o644))
	require.NoError(t, os.WriteFile(planPath, []byte(planYAML), 0o644))
	return dataPath, planPath
}

const analyzePlan = `
unit_id: user_id
bh_correction: true
metrics:
  - revenue
  - {column: converted, type: proportion}
`

func TestAnalyze_RecordedGroups(t *testing.T) {
	useConfig(t)
	dataPath, planPath := writeExperiment(t, analyzePlan)

	exp, err := loadExperiment(context.Background(), dataPath, planPath)
	require.NoError(t, err)

	summary, err := analyze(exp, "")
	require.NoError(t, err)
	assert.Equal(t, "group", summary.GroupColumn)
	assert.Equal(t, "control", summary.Control)
	assert.Equal(t, []string{"treatment"}, summary.Treatments)
	require.Len(t, summary.Report, 2)

	revenue := summary.Report[0]
	assert.Equal(t, "revenue", revenue.Metric)
	require.NotNil(t, revenue.Result)
	assert.Greater(t, revenue.Result.TreatedValue, revenue.Result.ControlValue)
	assert.NotNil(t, revenue.AdjustedP)

	var out bytes.Buffer
	require.NoError(t, renderAnalysis(&out, formatTable, summary))
	assert.Contains(t, out.String(), "TREATMENT")
	assert.Contains(t, out.String(), "P_BH")
	assert.Contains(t, out.String(), "converted")
}

func TestAnalyze_MissingGroupColumn(t *testing.T) {
	useConfig(t)
	dataPath, planPath := writeExperiment(t, analyzePlan)

	exp, err := loadExperiment(context.Background(), dataPath, planPath)
	require.NoError(t, err)

	_, err = analyze(exp, "arm")
	assert.True(t, experr.IsConfig(err))
}

func TestReplay_MatchesBucketAssignment(t *testing.T) {
	useConfig(t)
	dataPath, planPath := writeExperiment(t, `
proportions:
  control: 50
  treatment: 50
metrics: [revenue]
`)
	exp, err := loadExperiment(context.Background(), dataPath, planPath)
	require.NoError(t, err)

	a, err := replay(exp, "rr42")
	require.NoError(t, err)
	require.Len(t, a.Labels, 60)
	for i, id := range exp.Dataset.IDs {
		want, err := bucket.Assign("rr42", id, exp.Plan.Proportions)
		require.NoError(t, err)
		assert.Equal(t, want, a.Labels[i], id)
	}

	labelsPath := filepath.Join(t.TempDir(), "labels.csv")
	require.NoError(t, writeLabels(labelsPath, "user_id", "group", exp.Dataset.IDs, a.Labels))
	data, err := os.ReadFile(labelsPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 61)
	assert.Equal(t, "user_id,group", lines[0])
	assert.Equal(t, "1000,"+a.Labels[0], lines[1])
}

func TestPrintBuckets(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printBuckets(&out, "rr7", []string{"u1", "u2"}, nil))
	assert.Contains(t, out.String(), fmt.Sprintf("u1  %d", bucket.Bucket("rr7", "u1")))
	assert.NotContains(t, out.String(), "GROUP")

	out.Reset()
	props := bucket.Proportions{{Label: "control", Percent: 100}}
	require.NoError(t, printBuckets(&out, "rr7", []string{"u1"}, props))
	assert.Contains(t, out.String(), "GROUP")
	assert.Contains(t, out.String(), "control")

	err := printBuckets(&out, "rr7", []string{"u1"}, bucket.Proportions{{Label: "a", Percent: 40}})
	assert.True(t, experr.IsConfig(err))
}

func TestPlanSampleSize(t *testing.T) {
	useConfig(t)
	prev := ssFlags
	t.Cleanup(func() { ssFlags = prev })

	ssFlags.name = "revenue"
	ssFlags.kind = "mean"
	ssFlags.baseline = 100
	ssFlags.variance = 25
	ssFlags.mde, ssFlags.mdeEnd, ssFlags.mdeStep = 0.05, 0.1, 0.05
	ssFlags.dailyTraffic = 10
	ssFlags.sampleRatio = 0.5
	ssFlags.k = 1
	ssFlags.groups = 3

	rows, err := planSampleSize()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 16, rows[0].Control)
	assert.Equal(t, 48, rows[0].Total)
	assert.Equal(t, 10, rows[0].Days)

	var out bytes.Buffer
	require.NoError(t, renderRequirements(&out, formatTable, rows))
	assert.Contains(t, out.String(), "5.00%")
	assert.Contains(t, out.String(), "revenue")

	ssFlags.kind = "median"
	_, err = planSampleSize()
	assert.True(t, experr.IsConfig(err))
}

func TestFormatReport_ErrorRow(t *testing.T) {
	rows := []batch.Row{
		{Treatment: "b", Metric: "revenue", Kind: "mean", Result: &stattest.Result{TStatistic: 1.25, PValue: 0.2, RelativeDiff: ptr(0.05)}},
		{Treatment: "b", Metric: "ctr", Kind: "proportion", Error: "zero variance"},
	}
	var out bytes.Buffer
	formatReport(&out, rows)
	assert.Contains(t, out.String(), "1.2500")
	assert.Contains(t, out.String(), "5.00%")
	assert.Contains(t, out.String(), "error: zero variance")
	assert.NotContains(t, out.String(), "P_BH")
}

func TestFormatReport_ZeroControl(t *testing.T) {
	rows := []batch.Row{
		{Treatment: "b", Metric: "ctr", Kind: "proportion", Result: &stattest.Result{TStatistic: 2.1, PValue: 0.04}},
	}
	var out bytes.Buffer
	formatReport(&out, rows)
	assert.Contains(t, out.String(), "2.1000")
	assert.NotContains(t, out.String(), "%")
}

func ptr(f float64) *float64 { return &f }

func TestWriteStructured(t *testing.T) {
	o := &seedfinder.Outcome{
		RunID: "run-1",
		Best:  seedfinder.Candidate{Seed: "rr5", Score: 0.3},
		Top:   []seedfinder.Candidate{{Seed: "rr5", Score: 0.3}},
	}

	var js bytes.Buffer
	require.NoError(t, writeStructured(&js, formatJSON, seedSummary{Search: o}))
	assert.Contains(t, js.String(), `"run_id": "run-1"`)
	assert.NotContains(t, js.String(), `"report": [`)

	var ym bytes.Buffer
	require.NoError(t, writeStructured(&ym, formatYAML, seedSummary{Search: o}))
	assert.Contains(t, ym.String(), "seed: rr5")

	var tbl bytes.Buffer
	formatOutcome(&tbl, o)
	assert.Contains(t, tbl.String(), "Best seed:")
	assert.Contains(t, tbl.String(), "RANK")

	assert.Error(t, writeStructured(&js, "xml", o))
	assert.Error(t, checkFormat("xml"))
}
