package welford_test

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ContinuousC/JaegerAnomalyDetection/pkg/alg/welford"
)

// directStats computes mean and population variance with the two-pass
// formula, for comparison against the streaming recurrence.
func directStats(values []float64) (mean, variance float64) {
	for _, v := range values {
		mean += v
	}

	mean /= float64(len(values))

	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}

	return mean, variance / float64(len(values))
}

func accumulate(values []float64) welford.Accumulator {
	var acc welford.Accumulator

	for _, v := range values {
		acc.Update(v)
	}

	return acc
}

func TestAccumulator_MatchesTwoPass(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))

	values := make([]float64, 1000)
	for i := range values {
		values[i] = rng.NormFloat64()*25 + 1000
	}

	acc := accumulate(values)

	wantMean, wantVariance := directStats(values)

	mean, ok := acc.MeanValue()
	require.True(t, ok)
	assert.InDelta(t, wantMean, mean, 1e-9)

	variance, ok := acc.Variance()
	require.True(t, ok)
	assert.InDelta(t, wantVariance, variance, 1e-6)
}

func TestAccumulator_Empty(t *testing.T) {
	t.Parallel()

	var acc welford.Accumulator

	_, ok := acc.MeanValue()
	assert.False(t, ok)

	_, ok = acc.Variance()
	assert.False(t, ok)

	_, ok = acc.StdDev()
	assert.False(t, ok)
}

func TestAccumulator_SingleValue(t *testing.T) {
	t.Parallel()

	var acc welford.Accumulator

	acc.Update(7.5)

	mean, ok := acc.MeanValue()
	require.True(t, ok)
	assert.InDelta(t, 7.5, mean, 0)

	variance, ok := acc.Variance()
	require.True(t, ok)
	assert.InDelta(t, 0, variance, 0)
}

func TestMerge_EqualsSequential(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(7))

	values := make([]float64, 500)
	for i := range values {
		values[i] = rng.ExpFloat64() * 100
	}

	sequential := accumulate(values)

	// Partition the sequence at arbitrary cut points and merge the parts.
	cuts := []int{0, 13, 13, 100, 257, 499, 500}
	for i := range len(cuts) - 1 {
		parts := []welford.Accumulator{
			accumulate(values[:cuts[i]]),
			accumulate(values[cuts[i]:cuts[i+1]]),
			accumulate(values[cuts[i+1]:]),
		}

		merged := welford.Merge(welford.Merge(parts[0], parts[1]), parts[2])

		require.Equal(t, sequential.Count, merged.Count)
		assert.InDelta(t, sequential.Mean, merged.Mean, 1e-9)
		assert.InDelta(t, sequential.SumSqDiff, merged.SumSqDiff, 1e-4)
	}
}

func TestMerge_Commutative(t *testing.T) {
	t.Parallel()

	a := accumulate([]float64{1, 2, 3, 4})
	b := accumulate([]float64{100, 200, 300})

	ab := welford.Merge(a, b)
	ba := welford.Merge(b, a)

	assert.Equal(t, ab.Count, ba.Count)
	assert.InDelta(t, ab.Mean, ba.Mean, 1e-12)
	assert.InDelta(t, ab.SumSqDiff, ba.SumSqDiff, 1e-9)
}

func TestMerge_EmptyIdentity(t *testing.T) {
	t.Parallel()

	acc := accumulate([]float64{5, 9, 13})

	var empty welford.Accumulator

	assert.Equal(t, acc, welford.Merge(acc, empty))
	assert.Equal(t, acc, welford.Merge(empty, acc))
}

func TestStdDev(t *testing.T) {
	t.Parallel()

	acc := accumulate([]float64{2, 4, 4, 4, 5, 5, 7, 9})

	stddev, ok := acc.StdDev()
	require.True(t, ok)
	assert.InDelta(t, 2, stddev, 1e-12)
}

func TestAccumulator_Reset(t *testing.T) {
	t.Parallel()

	acc := accumulate([]float64{1, 2, 3})
	acc.Reset()

	assert.Equal(t, uint64(0), acc.Count)

	_, ok := acc.MeanValue()
	assert.False(t, ok)
}

func TestVariance_NeverNegative(t *testing.T) {
	t.Parallel()

	// Near-constant values at large magnitude stress the residue guard.
	var acc welford.Accumulator
	for range 1000 {
		acc.Update(1e15)
	}

	variance, ok := acc.Variance()
	require.True(t, ok)
	assert.GreaterOrEqual(t, variance, 0.0)
	assert.False(t, math.IsNaN(variance))
}
