// Package selection implements weighted random choice and the
// filter, fallback, pick pattern used for answers and astro hints.
package selection

import (
	"errors"
	"math"
	"math/rand/v2"
)

// ErrNoCandidates is returned when the pool is empty before any filtering.
var ErrNoCandidates = errors.New("no candidates available")

// Float64 draws from [0, 1). Tests substitute a deterministic source.
type Float64 func() float64

// Default is the process-wide random source.
var Default Float64 = rand.Float64

// PickWeighted selects one item with probability proportional to its weight.
// Negative weights count as zero. A single item is always returned. When
// the total weight is not positive the first item is returned. The second
// return is false only for an empty slice.
func PickWeighted[T any](items []T, weight func(T) float64, rnd Float64) (T, bool) {
	var zero T
	switch len(items) {
	case 0:
		return zero, false
	case 1:
		return items[0], true
	}
	if rnd == nil {
		rnd = Default
	}

	total := 0.0
	for _, it := range items {
		total += clamp(weight(it))
	}
	if total <= 0 {
		return items[0], true
	}

	r := rnd() * total
	for _, it := range items {
		w := clamp(weight(it))
		if w == 0 {
			continue
		}
		if r < w {
			return it, true
		}
		r -= w
	}
	// Float rounding can leave r just above the last band.
	for i := len(items) - 1; i >= 0; i-- {
		if clamp(weight(items[i])) > 0 {
			return items[i], true
		}
	}
	return items[len(items)-1], true
}

func clamp(w float64) float64 {
	if w < 0 || math.IsNaN(w) {
		return 0
	}
	return w
}

// Filter returns the items for which keep returns true.
func Filter[T any](pool []T, keep func(T) bool) []T {
	if keep == nil {
		return pool
	}
	out := make([]T, 0, len(pool))
	for _, it := range pool {
		if keep(it) {
			out = append(out, it)
		}
	}
	return out
}

// Select filters pool with keep, falls back to the whole pool when the
// filter leaves nothing, and picks by weight. The bool result reports
// whether the fallback was taken.
func Select[T any](pool []T, keep func(T) bool, weight func(T) float64, rnd Float64) (T, bool, error) {
	var zero T
	if len(pool) == 0 {
		return zero, false, ErrNoCandidates
	}

	candidates := Filter(pool, keep)
	fellBack := false
	if len(candidates) == 0 {
		candidates = pool
		fellBack = true
	}

	picked, ok := PickWeighted(candidates, weight, rnd)
	if !ok {
		return zero, fellBack, ErrNoCandidates
	}
	return picked, fellBack, nil
}

// Exclude builds a keep func that rejects items whose key is in ids.
func Exclude[T any, K comparable](ids []K, key func(T) K) func(T) bool {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[K]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	return func(it T) bool {
		_, used := seen[key(it)]
		return !used
	}
}
