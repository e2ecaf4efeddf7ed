package controller

import (
	"math"
	"testing"
	"time"

	"github.com/calvinmclean/autostroke/motor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPositionMapper(t *testing.T) {
	_, err := NewPositionMapper(100, 100)
	assert.Error(t, err)

	for _, m := range []PositionMapper{{Min: -3000, Max: 52000}, {Min: 52000, Max: -3000}} {
		mapper, err := NewPositionMapper(m.Min, m.Max)
		require.NoError(t, err)

		assert.Equal(t, m.Min, mapper.ToNative(0))
		assert.Equal(t, m.Max, mapper.ToNative(1))
		assert.Equal(t, m.Max, mapper.ToNative(1.2))

		prev := mapper.ToNative(0)
		for i := 1; i <= 100; i++ {
			shaped := float64(i) / 100
			native := mapper.ToNative(shaped)
			if m.Max > m.Min {
				assert.GreaterOrEqual(t, native, prev)
			} else {
				assert.LessOrEqual(t, native, prev)
			}
			prev = native

			assert.InDelta(t, shaped, mapper.FromNative(native), 0.5/math.Abs(mapper.Span())+1e-12)
		}
	}
}

func TestPositionMapperSpeed(t *testing.T) {
	mapper := PositionMapper{Min: 0, Max: 10000}
	now := time.Now()

	speed := mapper.Speed(
		motor.Feedback{Position: 1000, At: now},
		motor.Feedback{Position: 1500, At: now.Add(100 * time.Millisecond)},
	)
	assert.InDelta(t, 5000, speed, 1e-6)

	assert.Equal(t, 0.0, mapper.Speed(motor.Feedback{At: now}, motor.Feedback{At: now}))
}
