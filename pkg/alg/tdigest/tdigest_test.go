package tdigest_test

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ContinuousC/JaegerAnomalyDetection/pkg/alg/tdigest"
)

func exactQuantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}

	idx := q * float64(len(sorted)-1)
	lower := int(idx)

	if lower >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}

	frac := idx - float64(lower)

	return sorted[lower]*(1-frac) + sorted[lower+1]*frac
}

func TestTDigest_Empty(t *testing.T) {
	t.Parallel()

	digest := tdigest.New(tdigest.DefaultCompression)

	_, ok := digest.Quantile(0.5)
	assert.False(t, ok)

	assert.Zero(t, digest.TotalWeight())
}

func TestTDigest_SingleValue(t *testing.T) {
	t.Parallel()

	digest := tdigest.New(tdigest.DefaultCompression)
	digest.Add(42)

	for _, q := range []float64{0, 0.5, 0.99, 1} {
		value, ok := digest.Quantile(q)
		require.True(t, ok)
		assert.InDelta(t, 42, value, 0)
	}
}

func TestTDigest_WeightPreserved(t *testing.T) {
	t.Parallel()

	digest := tdigest.New(tdigest.DefaultCompression)

	rng := rand.New(rand.NewSource(1))
	for range 10000 {
		digest.Add(rng.Float64())
	}

	assert.InDelta(t, 10000, digest.TotalWeight(), 0)

	var centroidWeight float64
	for _, c := range digest.Centroids() {
		centroidWeight += c.Weight
	}

	assert.InDelta(t, 10000, centroidWeight, 1e-9)
}

func TestTDigest_Accuracy(t *testing.T) {
	t.Parallel()

	digest := tdigest.New(tdigest.DefaultCompression)

	rng := rand.New(rand.NewSource(99))

	values := make([]float64, 50000)
	for i := range values {
		values[i] = rng.NormFloat64()*10 + 100
		digest.Add(values[i])
	}

	sort.Float64s(values)

	for _, q := range []float64{0.01, 0.1, 0.5, 0.9, 0.95, 0.99} {
		got, ok := digest.Quantile(q)
		require.True(t, ok)

		want := exactQuantile(values, q)
		assert.InDelta(t, want, got, 1.0, "q=%v", q)
	}
}

func TestTDigest_QuantileMonotone(t *testing.T) {
	t.Parallel()

	digest := tdigest.New(tdigest.DefaultCompression)

	rng := rand.New(rand.NewSource(3))
	for range 5000 {
		digest.Add(rng.ExpFloat64())
	}

	prev := 0.0

	for q := 0.0; q <= 1.0; q += 0.001 {
		value, ok := digest.Quantile(q)
		require.True(t, ok)
		assert.GreaterOrEqual(t, value, prev)

		prev = value
	}
}

func TestTDigest_MergeEmptyIdentity(t *testing.T) {
	t.Parallel()

	digest := tdigest.New(tdigest.DefaultCompression)
	for _, v := range []float64{1, 2, 3, 4, 5} {
		digest.Add(v)
	}

	before, ok := digest.Quantile(0.5)
	require.True(t, ok)

	digest.Merge(tdigest.New(tdigest.DefaultCompression))
	digest.Merge(nil)

	after, ok := digest.Quantile(0.5)
	require.True(t, ok)

	assert.InDelta(t, before, after, 0)
	assert.InDelta(t, 5, digest.TotalWeight(), 0)

	// Merging into an empty digest adopts the other's distribution.
	empty := tdigest.New(tdigest.DefaultCompression)
	empty.Merge(digest)
	assert.InDelta(t, 5, empty.TotalWeight(), 0)
}

func TestTDigest_MergeOrderInsensitive(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(17))

	parts := make([][]float64, 4)
	for i := range parts {
		parts[i] = make([]float64, 2500)
		for j := range parts[i] {
			parts[i][j] = rng.NormFloat64() * 50
		}
	}

	build := func(order []int) *tdigest.TDigest {
		merged := tdigest.New(tdigest.DefaultCompression)

		for _, i := range order {
			part := tdigest.New(tdigest.DefaultCompression)
			for _, v := range parts[i] {
				part.Add(v)
			}

			merged.Merge(part)
		}

		return merged
	}

	forward := build([]int{0, 1, 2, 3})
	backward := build([]int{3, 2, 1, 0})

	assert.InDelta(t, forward.TotalWeight(), backward.TotalWeight(), 0)

	for _, q := range []float64{0.1, 0.5, 0.9, 0.99} {
		a, ok := forward.Quantile(q)
		require.True(t, ok)

		b, ok := backward.Quantile(q)
		require.True(t, ok)

		assert.InDelta(t, a, b, 2.0, "q=%v", q)
	}
}

func TestTDigest_WeightedInsert(t *testing.T) {
	t.Parallel()

	digest := tdigest.New(tdigest.DefaultCompression)
	digest.AddWeighted(10, 3)
	digest.AddWeighted(20, 1)

	assert.InDelta(t, 4, digest.TotalWeight(), 0)

	median, ok := digest.Quantile(0.5)
	require.True(t, ok)
	assert.Less(t, median, 15.0)
}

func TestTDigest_IgnoresInvalidInput(t *testing.T) {
	t.Parallel()

	digest := tdigest.New(tdigest.DefaultCompression)
	digest.AddWeighted(1, 0)
	digest.AddWeighted(1, -5)

	assert.Zero(t, digest.TotalWeight())
}

func TestTDigest_BoundedSize(t *testing.T) {
	t.Parallel()

	digest := tdigest.New(tdigest.DefaultCompression)

	rng := rand.New(rand.NewSource(5))
	for range 200000 {
		digest.Add(rng.Float64() * 1e6)
	}

	// The centroid list must stay bounded regardless of input volume.
	assert.Less(t, len(digest.Centroids()), 2*int(tdigest.DefaultCompression))
}

func TestRestore_RoundTrip(t *testing.T) {
	t.Parallel()

	digest := tdigest.New(tdigest.DefaultCompression)

	rng := rand.New(rand.NewSource(11))
	for range 10000 {
		digest.Add(rng.NormFloat64())
	}

	centroids := digest.Centroids()

	lo, hi, ok := digest.Bounds()
	require.True(t, ok)

	restored := tdigest.Restore(digest.Compression(), centroids, lo, hi)

	assert.InDelta(t, digest.TotalWeight(), restored.TotalWeight(), 0)

	for _, q := range []float64{0.05, 0.5, 0.95} {
		want, ok := digest.Quantile(q)
		require.True(t, ok)

		got, ok := restored.Quantile(q)
		require.True(t, ok)

		assert.InDelta(t, want, got, 1e-12, "q=%v", q)
	}
}
