package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeTimeAligned(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	at := func(offset time.Duration, values map[string]float64) Sample {
		return Sample{Time: base.Add(offset), Values: values}
	}

	t.Run("pairs samples within tolerance", func(t *testing.T) {
		merge := MergeTimeAligned("temp", "pressure", 2*time.Second)
		upstream := map[string]any{
			"temp": []Sample{
				at(0, map[string]float64{"temp": 21.5}),
				at(time.Minute, map[string]float64{"temp": 22.0}),
			},
			"pressure": []Sample{
				at(time.Second, map[string]float64{"bar": 1.01}),
				at(time.Minute+time.Second, map[string]float64{"bar": 1.02}),
			},
		}

		out, err := merge(nil, upstream)
		require.NoError(t, err)

		merged := out.([]Sample)
		require.Len(t, merged, 2)
		assert.Equal(t, map[string]float64{"temp": 21.5, "bar": 1.01}, merged[0].Values)
		assert.Equal(t, map[string]float64{"temp": 22.0, "bar": 1.02}, merged[1].Values)
	})

	t.Run("unmatched first-series samples pass through", func(t *testing.T) {
		merge := MergeTimeAligned("a", "b", time.Second)
		upstream := map[string]any{
			"a": []Sample{at(0, map[string]float64{"x": 1})},
			"b": []Sample{at(time.Hour, map[string]float64{"y": 2})},
		}

		out, err := merge(nil, upstream)
		require.NoError(t, err)

		merged := out.([]Sample)
		require.Len(t, merged, 1)
		assert.Equal(t, map[string]float64{"x": 1}, merged[0].Values)
	})

	t.Run("second series wins key collisions", func(t *testing.T) {
		merge := MergeTimeAligned("a", "b", time.Second)
		upstream := map[string]any{
			"a": []Sample{at(0, map[string]float64{"v": 1})},
			"b": []Sample{at(0, map[string]float64{"v": 2})},
		}

		out, err := merge(nil, upstream)
		require.NoError(t, err)
		assert.Equal(t, 2.0, out.([]Sample)[0].Values["v"])
	})

	t.Run("handles unsorted input", func(t *testing.T) {
		merge := MergeTimeAligned("a", "b", time.Second)
		upstream := map[string]any{
			"a": []Sample{
				at(time.Minute, map[string]float64{"x": 2}),
				at(0, map[string]float64{"x": 1}),
			},
			"b": []Sample{
				at(time.Minute, map[string]float64{"y": 20}),
				at(0, map[string]float64{"y": 10}),
			},
		}

		out, err := merge(nil, upstream)
		require.NoError(t, err)

		merged := out.([]Sample)
		require.Len(t, merged, 2)
		assert.True(t, merged[0].Time.Before(merged[1].Time))
		assert.Equal(t, map[string]float64{"x": 1, "y": 10}, merged[0].Values)
		assert.Equal(t, map[string]float64{"x": 2, "y": 20}, merged[1].Values)
	})

	t.Run("missing upstream is an error", func(t *testing.T) {
		merge := MergeTimeAligned("a", "b", time.Second)
		_, err := merge(nil, map[string]any{"a": []Sample{}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `"b"`)
	})

	t.Run("wrong upstream type is an error", func(t *testing.T) {
		merge := MergeTimeAligned("a", "b", time.Second)
		_, err := merge(nil, map[string]any{"a": "not samples", "b": []Sample{}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "want []Sample")
	})
}
