// Package plan loads experiment plans: which metrics to audit, how units
// split across groups, and the test parameters.
package plan

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/abtest-cli/internal/bucket"
	"github.com/sells-group/abtest-cli/internal/experr"
	"github.com/sells-group/abtest-cli/internal/stattest"
)

// Plan is a resolved experiment plan.
type Plan struct {
	UnitID       string
	GroupColumn  string
	Control      string
	Alpha        float64
	Sidedness    stattest.Sidedness
	BHCorrection bool
	Proportions  bucket.Proportions
	Metrics      []stattest.Metric
	Charset      string
}

// file mirrors the YAML layout.
type file struct {
	UnitID       string      `yaml:"unit_id"`
	GroupColumn  string      `yaml:"group_column"`
	Control      string      `yaml:"control"`
	Alpha        float64     `yaml:"alpha"`
	Sidedness    string      `yaml:"sidedness"`
	BHCorrection bool        `yaml:"bh_correction"`
	Proportions  yaml.Node   `yaml:"proportions"`
	Metrics      []yaml.Node `yaml:"metrics"`
	Charset      string      `yaml:"charset"`
}

// Load reads and resolves a plan file.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "plan: read %s", path)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, eris.Wrapf(err, "plan: parse %s", path)
	}
	return p, nil
}

// Parse resolves a plan from YAML bytes. Missing alpha, sidedness, unit id
// and group column take their defaults.
func Parse(data []byte) (*Plan, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, experr.Configf("invalid plan yaml: %v", err)
	}

	p := &Plan{
		UnitID:       f.UnitID,
		GroupColumn:  f.GroupColumn,
		Control:      f.Control,
		Alpha:        f.Alpha,
		BHCorrection: f.BHCorrection,
		Charset:      f.Charset,
	}
	if p.UnitID == "" {
		p.UnitID = "user_id"
	}
	if p.GroupColumn == "" {
		p.GroupColumn = "group"
	}
	if p.Alpha == 0 {
		p.Alpha = stattest.DefaultAlpha
	}
	if !(p.Alpha > 0 && p.Alpha < 1) {
		return nil, experr.Configf("alpha %v outside (0,1)", p.Alpha)
	}

	side, err := stattest.ParseSidedness(f.Sidedness)
	if err != nil {
		return nil, err
	}
	p.Sidedness = side

	if f.Proportions.Kind != 0 {
		props, err := ParseProportions(&f.Proportions)
		if err != nil {
			return nil, err
		}
		p.Proportions = props
		if _, err := props.ControlLabel(p.Control); err != nil {
			return nil, err
		}
	}

	for i := range f.Metrics {
		m, err := parseMetric(&f.Metrics[i])
		if err != nil {
			return nil, err
		}
		p.Metrics = append(p.Metrics, m)
	}
	if len(p.Metrics) == 0 {
		return nil, experr.Configf("plan has no metrics")
	}
	return p, nil
}

// RequiredColumns lists every column the plan's metrics read, without
// duplicates, in metric order.
func (p *Plan) RequiredColumns() []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range p.Metrics {
		for _, c := range m.Columns() {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	return out
}

// ParseProportions reads an ordered group table from either a mapping
// ({control: 50, treatment: "50%"}) or a list of single-key mappings.
// Document order is preserved.
func ParseProportions(n *yaml.Node) (bucket.Proportions, error) {
	var pairs [][2]*yaml.Node
	switch n.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			pairs = append(pairs, [2]*yaml.Node{n.Content[i], n.Content[i+1]})
		}
	case yaml.SequenceNode:
		for _, item := range n.Content {
			if item.Kind != yaml.MappingNode || len(item.Content) != 2 {
				return nil, experr.Configf("line %d: each proportion entry must be a single label: value pair", item.Line)
			}
			pairs = append(pairs, [2]*yaml.Node{item.Content[0], item.Content[1]})
		}
	default:
		return nil, experr.Configf("line %d: proportions must be a mapping or a list", n.Line)
	}

	out := make(bucket.Proportions, 0, len(pairs))
	for _, kv := range pairs {
		pct, err := bucket.ParsePercent(scalarValue(kv[1]))
		if err != nil {
			return nil, err
		}
		out = append(out, bucket.Share{Label: kv[0].Value, Percent: pct})
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// scalarValue returns numbers as float64 and everything else as text.
func scalarValue(n *yaml.Node) any {
	if n.Kind == yaml.ScalarNode && (n.Tag == "!!int" || n.Tag == "!!float") {
		var f float64
		if err := n.Decode(&f); err == nil {
			return f
		}
	}
	return n.Value
}

// metricEntry is the mapping form of a metric.
type metricEntry struct {
	Column      string `yaml:"column"`
	Type        string `yaml:"type"`
	Numerator   string `yaml:"numerator"`
	Denominator string `yaml:"denominator"`
}

// parseMetric accepts a bare column name (mean), a legacy "x/y" ratio
// string, a [numerator, denominator] pair, or a mapping.
func parseMetric(n *yaml.Node) (stattest.Metric, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		if strings.Contains(n.Value, "/") {
			return stattest.ParseMetric(n.Value, "ratio")
		}
		return stattest.ParseMetric(n.Value, "mean")
	case yaml.SequenceNode:
		var pair []string
		if err := n.Decode(&pair); err != nil {
			return stattest.Metric{}, experr.Configf("line %d: ratio pair must be two column names", n.Line)
		}
		return stattest.RatioPair(pair)
	case yaml.MappingNode:
		var e metricEntry
		if err := n.Decode(&e); err != nil {
			return stattest.Metric{}, experr.Configf("line %d: invalid metric: %v", n.Line, err)
		}
		if e.Numerator != "" || e.Denominator != "" {
			if e.Type != "" && !strings.EqualFold(e.Type, "ratio") {
				return stattest.Metric{}, experr.Configf("line %d: numerator/denominator need type ratio, got %q", n.Line, e.Type)
			}
			m := stattest.Ratio(e.Numerator, e.Denominator)
			return m, m.Validate()
		}
		return stattest.ParseMetric(e.Column, e.Type)
	default:
		return stattest.Metric{}, experr.Configf("line %d: unsupported metric entry", n.Line)
	}
}
