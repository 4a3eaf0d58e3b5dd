package stattest

import (
	"strings"

	"github.com/sells-group/abtest-cli/internal/experr"
)

// Kind tags which hypothesis test a metric uses.
type Kind int

const (
	KindMean Kind = iota
	KindProportion
	KindRatio
)

func (k Kind) String() string {
	switch k {
	case KindMean:
		return "mean"
	case KindProportion:
		return "proportion"
	case KindRatio:
		return "ratio"
	default:
		return "unknown"
	}
}

// ParseKind resolves a metric type tag. An empty tag means mean.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "mean":
		return KindMean, nil
	case "proportion":
		return KindProportion, nil
	case "ratio":
		return KindRatio, nil
	default:
		return 0, experr.Configf("unknown metric type %q (want mean, proportion or ratio)", s)
	}
}

// Metric is a resolved metric definition. Mean and Proportion read
// Column; Ratio reads Numerator and Denominator.
type Metric struct {
	Kind        Kind
	Column      string
	Numerator   string
	Denominator string
}

// Mean returns a mean metric over column.
func Mean(column string) Metric { return Metric{Kind: KindMean, Column: column} }

// Proportion returns a rate metric over a 0/1 column.
func Proportion(column string) Metric { return Metric{Kind: KindProportion, Column: column} }

// Ratio returns a ratio-of-sums metric.
func Ratio(numerator, denominator string) Metric {
	return Metric{Kind: KindRatio, Numerator: numerator, Denominator: denominator}
}

// Name is the display name; ratios render as "numerator/denominator".
func (m Metric) Name() string {
	if m.Kind == KindRatio {
		return m.Numerator + "/" + m.Denominator
	}
	return m.Column
}

// Columns lists the dataset columns the metric reads.
func (m Metric) Columns() []string {
	if m.Kind == KindRatio {
		return []string{m.Numerator, m.Denominator}
	}
	return []string{m.Column}
}

// Validate checks required fields for the metric's kind.
func (m Metric) Validate() error {
	switch m.Kind {
	case KindMean, KindProportion:
		if m.Column == "" {
			return experr.Configf("%s metric requires a column", m.Kind)
		}
	case KindRatio:
		if m.Numerator == "" || m.Denominator == "" {
			return experr.Configf("ratio metric requires numerator and denominator columns")
		}
	default:
		return experr.Configf("unknown metric kind %d", int(m.Kind))
	}
	return nil
}

// ParseMetric resolves a metric name and type tag. Ratio names use the
// legacy "numerator/denominator" form.
func ParseMetric(name, kind string) (Metric, error) {
	k, err := ParseKind(kind)
	if err != nil {
		return Metric{}, err
	}
	name = strings.TrimSpace(name)
	if k == KindRatio {
		parts := strings.Split(name, "/")
		if len(parts) != 2 {
			return Metric{}, experr.Configf("ratio metric %q must have the form numerator/denominator", name)
		}
		return RatioPair(parts)
	}
	m := Metric{Kind: k, Column: name}
	return m, m.Validate()
}

// RatioPair resolves the legacy two-element [numerator, denominator] form.
func RatioPair(pair []string) (Metric, error) {
	if len(pair) != 2 {
		return Metric{}, experr.Configf("ratio metric pair must have 2 elements, got %d", len(pair))
	}
	m := Ratio(strings.TrimSpace(pair[0]), strings.TrimSpace(pair[1]))
	return m, m.Validate()
}
