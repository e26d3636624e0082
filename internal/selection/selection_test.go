package selection

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	id     int
	name   string
	weight float64
}

func itemWeight(it item) float64 { return it.weight }
func itemID(it item) int { return it.id }

func fixed(v float64) Float64 { return func() float64 { return v } }

func TestPickWeightedEmpty(t *testing.T) {
	_, ok := PickWeighted[item](nil, itemWeight, nil)
	assert.False(t, ok)
}

func TestPickWeightedSingleIgnoresWeight(t *testing.T) {
	for _, w := range []float64{0, -3, 7} {
		got, ok := PickWeighted([]item{{id: 1, weight: w}}, itemWeight, fixed(0.99))
		require.True(t, ok)
		assert.Equal(t, 1, got.id)
	}
}

func TestPickWeightedDegenerateReturnsFirst(t *testing.T) {
	items := []item{{id: 1, weight: 0}, {id: 2, weight: -1}, {id: 3, weight: 0}}
	got, ok := PickWeighted(items, itemWeight, fixed(0.5))
	require.True(t, ok)
	assert.Equal(t, 1, got.id)
}

func TestPickWeightedBands(t *testing.T) {
	items := []item{{id: 1, weight: 1}, {id: 2, weight: -5}, {id: 3, weight: 3}}
	tests := []struct {
		r    float64
		want int
	}{
		{0, 1},
		{0.24, 1},
		{0.25, 3},
		{0.999999, 3},
	}
	for _, tt := range tests {
		got, _ := PickWeighted(items, itemWeight, fixed(tt.r))
		assert.Equal(t, tt.want, got.id, "r=%v", tt.r)
	}
}

func TestPickWeightedNeverPicksZeroWeight(t *testing.T) {
	items := []item{{id: 1, weight: 2}, {id: 2, weight: 0}}
	for i := 0; i < 1000; i++ {
		got, _ := PickWeighted(items, itemWeight, nil)
		require.Equal(t, 1, got.id)
	}
}

func TestPickWeightedHighBeatsLow(t *testing.T) {
	items := []item{{name: "low", weight: 1}, {name: "high", weight: 5}}
	high := 0
	for i := 0; i < 200; i++ {
		got, _ := PickWeighted(items, itemWeight, nil)
		if got.name == "high" {
			high++
		}
	}
	assert.Greater(t, high, 100)
}

func TestPickWeightedIsProportional(t *testing.T) {
	items := []item{{id: 0, weight: 1}, {id: 1, weight: 2}, {id: 2, weight: 3}, {id: 3, weight: 4}}
	const trials = 100000
	counts := make([]int, len(items))
	for i := 0; i < trials; i++ {
		got, _ := PickWeighted(items, itemWeight, nil)
		counts[got.id]++
	}
	for i, it := range items {
		want := it.weight / 10
		got := float64(counts[i]) / trials
		assert.InDelta(t, want, got, 0.015, "item %d", i)
	}
}

func TestPickWeightedNaNCountsAsZero(t *testing.T) {
	items := []item{{id: 1, weight: math.NaN()}, {id: 2, weight: 1}}
	got, _ := PickWeighted(items, itemWeight, fixed(0))
	assert.Equal(t, 2, got.id)
}

func TestSelectExcludesRecent(t *testing.T) {
	pool := []item{{id: 1, weight: 1}, {id: 2, weight: 1}, {id: 3, weight: 1}}
	keep := Exclude([]int{1, 2}, itemID)
	for i := 0; i < 50; i++ {
		got, fellBack, err := Select(pool, keep, itemWeight, nil)
		require.NoError(t, err)
		assert.False(t, fellBack)
		assert.Equal(t, 3, got.id)
	}
}

func TestSelectFallsBackWhenAllExcluded(t *testing.T) {
	pool := []item{{id: 7, weight: 1}}
	got, fellBack, err := Select(pool, Exclude([]int{7}, itemID), itemWeight, nil)
	require.NoError(t, err)
	assert.True(t, fellBack)
	assert.Equal(t, 7, got.id)
}

func TestSelectEmptyPool(t *testing.T) {
	_, _, err := Select[item](nil, nil, itemWeight, nil)
	assert.True(t, errors.Is(err, ErrNoCandidates))
}

func TestExcludeEmptyKeepsAll(t *testing.T) {
	assert.Nil(t, Exclude[item, int](nil, itemID))
	pool := []item{{id: 1}, {id: 2}}
	assert.Len(t, Filter(pool, nil), 2)
}
