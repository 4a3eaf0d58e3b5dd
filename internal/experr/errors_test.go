package experr

import (
	"errors"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestIsConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"direct", Configf("sum is %d", 99), true},
		{"eris wrapped", eris.Wrap(Configf("bad"), "outer"), true},
		{"data error", Dataf("m", "g", "x"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsConfig(tt.err))
		})
	}
}

func TestIsData(t *testing.T) {
	t.Parallel()

	err := eris.Wrapf(Dataf("revenue", "treatment", "group size %d < 2", 1), "seed %s", "rr1")
	assert.True(t, IsData(err))
	assert.False(t, IsConfig(err))
	assert.False(t, IsData(errors.New("other")))

	var de *DataError
	assert.True(t, errors.As(err, &de))
	assert.Equal(t, "revenue", de.Metric)
	assert.Equal(t, "treatment", de.Group)
}

func TestErrorMessages(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "configuration: proportions sum to 99", Configf("proportions sum to %d", 99).Error())
	assert.Equal(t, `data: metric "ctr" group "control": zero variance`, Dataf("ctr", "control", "zero variance").Error())
}
