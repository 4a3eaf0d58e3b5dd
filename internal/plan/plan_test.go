package plan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/abtest-cli/internal/bucket"
	"github.com/sells-group/abtest-cli/internal/experr"
	"github.com/sells-group/abtest-cli/internal/stattest"
)

const fullPlan = `
unit_id: uid
alpha: 0.1
sidedness: greater
bh_correction: true
charset: windows-1252
proportions:
  treatment_b: "30%"
  my_control: 0.4
  treatment_a: 30
metrics:
  - revenue
  - {column: converted, type: proportion}
  - "clicks/views"
  - [orders, sessions]
  - {numerator: spend, denominator: orders}
`

func TestParse_Full(t *testing.T) {
	t.Parallel()

	p, err := Parse([]byte(fullPlan))
	require.NoError(t, err)

	assert.Equal(t, "uid", p.UnitID)
	assert.Equal(t, "group", p.GroupColumn)
	assert.InDelta(t, 0.1, p.Alpha, 1e-12)
	assert.Equal(t, stattest.Greater, p.Sidedness)
	assert.True(t, p.BHCorrection)
	assert.Equal(t, "windows-1252", p.Charset)

	assert.Equal(t, bucket.Proportions{
		{Label: "treatment_b", Percent: 30},
		{Label: "my_control", Percent: 40},
		{Label: "treatment_a", Percent: 30},
	}, p.Proportions)

	assert.Equal(t, []stattest.Metric{
		stattest.Mean("revenue"),
		stattest.Proportion("converted"),
		stattest.Ratio("clicks", "views"),
		stattest.Ratio("orders", "sessions"),
		stattest.Ratio("spend", "orders"),
	}, p.Metrics)

	assert.Equal(t, []string{"revenue", "converted", "clicks", "views", "orders", "sessions", "spend"}, p.RequiredColumns())
}

func TestParse_ListProportionsAndDefaults(t *testing.T) {
	t.Parallel()

	p, err := Parse([]byte(`
proportions:
  - control: 50
  - treatment: 50
metrics: [revenue]
`))
	require.NoError(t, err)
	assert.Equal(t, "user_id", p.UnitID)
	assert.Equal(t, stattest.DefaultAlpha, p.Alpha)
	assert.Equal(t, stattest.TwoSided, p.Sidedness)
	assert.Equal(t, []string{"control", "treatment"}, p.Proportions.Labels())
}

func TestParse_ConfigErrors(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"sum 99":          "proportions: {a: 50, b: 49}\nmetrics: [m]",
		"sum 101":         "proportions: {a: 50, b: 51}\nmetrics: [m]",
		"unknown type":    "metrics: [{column: m, type: median}]",
		"no metrics":      "proportions: {a: 100}",
		"bad alpha":       "alpha: 1.5\nmetrics: [m]",
		"bad sidedness":   "sidedness: up\nmetrics: [m]",
		"bad pair":        "metrics: [[a, b, c]]",
		"missing column":  "metrics: [{type: mean}]",
		"bad control":     "control: nope\nproportions: {a: 50, b: 50}\nmetrics: [m]",
		"ratio type mix":  "metrics: [{numerator: a, denominator: b, type: mean}]",
		"missing denom":   "metrics: [{numerator: a}]",
		"scalar percents": "proportions: 100\nmetrics: [m]",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
			assert.True(t, experr.IsConfig(err), "got %v", err)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fullPlan), 0o600))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, p.Metrics, 5)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
