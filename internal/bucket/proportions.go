package bucket

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sells-group/abtest-cli/internal/experr"
)

// Share is one group's slice of the bucket space.
type Share struct {
	Label   string `json:"label" yaml:"label"`
	Percent int    `json:"percent" yaml:"percent"`
}

// Proportions is an ordered group table. Order decides which contiguous
// bucket range each group receives.
type Proportions []Share

// ParsePercent normalizes a raw proportion value to an integer percentage.
// "30%" reads the numeric prefix; values in [0,1] are scaled by 100 and
// truncated; larger values are truncated as-is.
func ParsePercent(raw any) (int, error) {
	switch v := raw.(type) {
	case string:
		s := strings.TrimSpace(v)
		if strings.HasSuffix(s, "%") {
			n, err := strconv.Atoi(strings.TrimSpace(strings.TrimSuffix(s, "%")))
			if err != nil {
				return 0, experr.Configf("invalid percentage %q", v)
			}
			return n, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, experr.Configf("invalid proportion %q", v)
		}
		return scalePercent(f), nil
	case int:
		return scalePercent(float64(v)), nil
	case int64:
		return scalePercent(float64(v)), nil
	case float32:
		return scalePercent(float64(v)), nil
	case float64:
		return scalePercent(v), nil
	case fmt.Stringer:
		return ParsePercent(v.String())
	default:
		return 0, experr.Configf("proportion must be a string or number, got %T", raw)
	}
}

func scalePercent(f float64) int {
	if f >= 0 && f <= 1 {
		return int(f * 100)
	}
	return int(f)
}

// Validate checks that labels are non-empty and unique, every share lies in
// (0,100], and the shares sum to exactly 100.
func (p Proportions) Validate() error {
	if len(p) == 0 {
		return experr.Configf("group proportions are empty")
	}
	seen := make(map[string]bool, len(p))
	total := 0
	for _, s := range p {
		if s.Label == "" {
			return experr.Configf("group label is empty")
		}
		if seen[s.Label] {
			return experr.Configf("duplicate group label %q", s.Label)
		}
		seen[s.Label] = true
		if s.Percent <= 0 || s.Percent > Count {
			return experr.Configf("group %q percentage %d outside (0,100]", s.Label, s.Percent)
		}
		total += s.Percent
	}
	if total != Count {
		return experr.Configf("group proportions must sum to 100, got %d", total)
	}
	return nil
}

// Labels returns group labels in table order.
func (p Proportions) Labels() []string {
	out := make([]string, len(p))
	for i, s := range p {
		out[i] = s.Label
	}
	return out
}

// Has reports whether label is in the table.
func (p Proportions) Has(label string) bool {
	for _, s := range p {
		if s.Label == label {
			return true
		}
	}
	return false
}

// ControlLabel picks the control group. An explicit label must exist in
// the table. Otherwise the first label containing "control"
// (case-insensitive) wins, falling back to the first label.
func (p Proportions) ControlLabel(explicit string) (string, error) {
	if len(p) == 0 {
		return "", experr.Configf("group proportions are empty")
	}
	if explicit != "" {
		if !p.Has(explicit) {
			return "", experr.Configf("control label %q is not a group", explicit)
		}
		return explicit, nil
	}
	for _, s := range p {
		if strings.Contains(strings.ToLower(s.Label), "control") {
			return s.Label, nil
		}
	}
	return p[0].Label, nil
}

// TreatmentLabels returns every label except control, in table order.
func (p Proportions) TreatmentLabels(control string) []string {
	var out []string
	for _, s := range p {
		if s.Label != control {
			out = append(out, s.Label)
		}
	}
	return out
}
