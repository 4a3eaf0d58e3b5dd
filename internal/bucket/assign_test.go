package bucket

import (
	"encoding/json"
	"fmt"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/sells-group/abtest-cli/internal/experr"
)

func TestParsePercent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   any
		want int
	}{
		{"percent string", "30%", 30},
		{"percent string spaced", " 25 % ", 25},
		{"fraction string", "0.5", 50},
		{"whole string", "40", 40},
		{"fraction float", 0.25, 25},
		{"one means all", 1, 100},
		{"int", 50, 50},
		{"truncated float", 33.9, 33},
		{"json number", json.Number("0.2"), 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePercent(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePercent_Errors(t *testing.T) {
	t.Parallel()

	for _, in := range []any{"abc", "12.5%", true, nil} {
		_, err := ParsePercent(in)
		assert.True(t, experr.IsConfig(err), "input %v", in)
	}
}

func TestProportionsValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		p       Proportions
		wantErr bool
	}{
		{"50/50", Proportions{{"control", 50}, {"treatment", 50}}, false},
		{"three way", Proportions{{"a", 34}, {"b", 33}, {"c", 33}}, false},
		{"sum 99", Proportions{{"control", 50}, {"treatment", 49}}, true},
		{"sum 101", Proportions{{"control", 50}, {"treatment", 51}}, true},
		{"empty", nil, true},
		{"zero share", Proportions{{"a", 100}, {"b", 0}}, true},
		{"duplicate", Proportions{{"a", 50}, {"a", 50}}, true},
		{"blank label", Proportions{{"", 100}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if tt.wantErr {
				assert.True(t, experr.IsConfig(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAssign_RejectsBadSumBeforeHashing(t *testing.T) {
	t.Parallel()

	for _, p := range []Proportions{
		{{"control", 50}, {"treatment", 49}},
		{{"control", 50}, {"treatment", 51}},
	} {
		// An unsupported id would fail hashing; the sum check must fire first.
		_, err := Assign("rr1", struct{}{}, p)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sum to 100")
	}
}

func TestAssigner_EveryBucketOwnedExactly(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 6).Draw(rt, "groups")
		// Random composition of 100 into n positive parts.
		cuts := rapid.SliceOfNDistinct(rapid.IntRange(1, 99), n-1, n-1, rapid.ID[int]).Draw(rt, "cuts")
		slices.Sort(cuts)
		bounds := append([]int{0}, cuts...)
		bounds = append(bounds, 100)

		p := make(Proportions, n)
		for i := range n {
			p[i] = Share{Label: fmt.Sprintf("g%d", i), Percent: bounds[i+1] - bounds[i]}
		}

		a, err := NewAssigner(p)
		require.NoError(rt, err)

		counts := map[string]int{}
		for b := range Count {
			counts[a.Label(b)]++
		}
		for _, s := range p {
			assert.Equal(rt, s.Percent, counts[s.Label])
		}
	})
}

func TestAssigner_ContiguousRanges(t *testing.T) {
	t.Parallel()

	a, err := NewAssigner(Proportions{{"control", 20}, {"t1", 30}, {"t2", 50}})
	require.NoError(t, err)

	assert.Equal(t, "control", a.Label(0))
	assert.Equal(t, "control", a.Label(19))
	assert.Equal(t, "t1", a.Label(20))
	assert.Equal(t, "t1", a.Label(49))
	assert.Equal(t, "t2", a.Label(50))
	assert.Equal(t, "t2", a.Label(99))
	// Out-of-range buckets fall back to the last group.
	assert.Equal(t, "t2", a.Label(100))
	assert.Equal(t, "t2", a.Label(-1))
}

func TestAssigner_AssignAllMatchesAssign(t *testing.T) {
	t.Parallel()

	p := Proportions{{"control", 50}, {"treatment", 50}}
	a, err := NewAssigner(p)
	require.NoError(t, err)

	ids := []string{"1", "2", "user_42", "x"}
	labels := a.AssignAll("rr123", ids)
	require.Len(t, labels, len(ids))
	for i, id := range ids {
		want, err := Assign("rr123", id, p)
		require.NoError(t, err)
		assert.Equal(t, want, labels[i])
	}
	// bucket("rr123","1") == 44 lands in control.
	assert.Equal(t, "control", labels[0])
}

func TestControlLabel(t *testing.T) {
	t.Parallel()

	p := Proportions{{"variant_a", 40}, {"My_Control", 30}, {"variant_b", 30}}

	got, err := p.ControlLabel("")
	require.NoError(t, err)
	assert.Equal(t, "My_Control", got)
	assert.Equal(t, []string{"variant_a", "variant_b"}, p.TreatmentLabels(got))

	got, err = p.ControlLabel("variant_b")
	require.NoError(t, err)
	assert.Equal(t, "variant_b", got)

	_, err = p.ControlLabel("missing")
	assert.True(t, experr.IsConfig(err))

	got, err = Proportions{{"a", 50}, {"b", 50}}.ControlLabel("")
	require.NoError(t, err)
	assert.Equal(t, "a", got)
}
