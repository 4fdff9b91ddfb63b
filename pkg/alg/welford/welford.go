// Package welford implements an online mean/variance accumulator using
// Welford's algorithm, plus the parallel combination formula for merging
// independently accumulated partial results.
//
// All variance calculations use population variance (÷n, not ÷(n−1)).
package welford

import "math"

// Accumulator holds the running state of Welford's algorithm for a single
// series: observation count, running mean, and the sum of squared
// differences from the mean (M2). The zero value is an empty accumulator
// ready for use.
//
// Mean and SumSqDiff are undefined while Count is zero; accessors report
// this through their ok result instead of returning a sentinel value.
type Accumulator struct {
	Count     uint64
	Mean      float64
	SumSqDiff float64
}

// Update folds one observation into the accumulator using the two-delta
// Welford recurrence. The two-delta form (delta against the old mean times
// delta against the new mean) is numerically stable under long-running
// accumulation, unlike the naive sum-of-squares formula.
func (a *Accumulator) Update(value float64) {
	a.Count++

	delta := value - a.Mean
	a.Mean += delta / float64(a.Count)
	delta2 := value - a.Mean
	a.SumSqDiff += delta * delta2
}

// Merge combines two independently accumulated states using the parallel
// variance combination formula (Chan et al.). It is commutative and
// associative up to floating-point rounding. Merging with an empty
// accumulator is the identity.
func Merge(a, b Accumulator) Accumulator {
	if a.Count == 0 {
		return b
	}

	if b.Count == 0 {
		return a
	}

	countA := float64(a.Count)
	countB := float64(b.Count)
	total := countA + countB

	delta := b.Mean - a.Mean

	return Accumulator{
		Count:     a.Count + b.Count,
		Mean:      a.Mean + delta*countB/total,
		SumSqDiff: a.SumSqDiff + b.SumSqDiff + delta*delta*countA*countB/total,
	}
}

// MeanValue returns the running mean. ok is false while no observations
// have been recorded.
func (a Accumulator) MeanValue() (mean float64, ok bool) {
	if a.Count == 0 {
		return 0, false
	}

	return a.Mean, true
}

// Variance returns the population variance (SumSqDiff ÷ Count). ok is
// false while no observations have been recorded.
func (a Accumulator) Variance() (variance float64, ok bool) {
	if a.Count == 0 {
		return 0, false
	}

	// Guard against tiny negative residue from rounding.
	return max(a.SumSqDiff/float64(a.Count), 0), true
}

// StdDev returns the population standard deviation. ok is false while no
// observations have been recorded.
func (a Accumulator) StdDev() (stddev float64, ok bool) {
	variance, ok := a.Variance()
	if !ok {
		return 0, false
	}

	return math.Sqrt(variance), true
}

// Reset returns the accumulator to its empty state.
func (a *Accumulator) Reset() {
	*a = Accumulator{}
}
