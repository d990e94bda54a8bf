package mathx

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClamp(t *testing.T) {
	tests := []struct {
		name      string
		v, lo, hi int
		want      int
	}{
		{name: "inside", v: 5, lo: 0, hi: 10, want: 5},
		{name: "below", v: -3, lo: 0, hi: 10, want: 0},
		{name: "above", v: 12, lo: 0, hi: 10, want: 10},
		{name: "swapped_bounds", v: 12, lo: 10, hi: 0, want: 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Clamp(tt.v, tt.lo, tt.hi))
		})
	}
}

func TestBetween(t *testing.T) {
	assert.True(t, Between(1.5, 1.0, 2.0))
	assert.True(t, Between(1.5, 2.0, 1.0))
	assert.False(t, Between(2.5, 1.0, 2.0))
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 0.0, Percent(math.NaN()))
	assert.Equal(t, 100.0, Percent(140))
	assert.Equal(t, 0.0, Percent(-1))
	assert.Equal(t, 42.0, Percent(42))
	assert.Equal(t, 3, Abs(-3))
}
