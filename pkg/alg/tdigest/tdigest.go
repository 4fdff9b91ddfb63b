// Package tdigest implements a bounded-size mergeable quantile sketch based
// on the merging t-digest of Dunning and Ertl. Centroid sizes follow the
// k1 scale function, which keeps the digest small near the median and
// accurate in the tails while the centroid count stays O(δ).
package tdigest

import (
	"math"
	"sort"
)

// DefaultCompression is the compression parameter δ used when none is given.
// Larger values trade memory for accuracy.
const DefaultCompression = 100.0

// unprocessedFactor sizes the insert buffer relative to the compression.
const unprocessedFactor = 8

// Centroid is a weighted point in the digest.
type Centroid struct {
	Mean   float64
	Weight float64
}

// TDigest is a mergeable approximate quantile sketch. The zero value is not
// usable; construct with [New]. TDigest is not safe for concurrent use.
type TDigest struct {
	compression float64

	processed   []Centroid
	unprocessed []Centroid

	processedWeight   float64
	unprocessedWeight float64

	min float64
	max float64
}

// New creates an empty digest with the given compression parameter.
// Non-positive compression falls back to [DefaultCompression].
func New(compression float64) *TDigest {
	if compression <= 0 {
		compression = DefaultCompression
	}

	return &TDigest{
		compression: compression,
		min:         math.Inf(1),
		max:         math.Inf(-1),
	}
}

// Compression returns the compression parameter δ.
func (t *TDigest) Compression() float64 {
	return t.compression
}

// Add inserts a single observation with weight 1.
func (t *TDigest) Add(value float64) {
	t.AddWeighted(value, 1)
}

// AddWeighted inserts a weighted observation. NaN values and non-positive
// weights are ignored.
func (t *TDigest) AddWeighted(value, weight float64) {
	if math.IsNaN(value) || weight <= 0 {
		return
	}

	t.unprocessed = append(t.unprocessed, Centroid{Mean: value, Weight: weight})
	t.unprocessedWeight += weight

	t.min = min(t.min, value)
	t.max = max(t.max, value)

	if len(t.unprocessed) > t.bufferSize() {
		t.process()
	}
}

// Merge folds all centroids of other into t and recompresses. Merging an
// empty digest is the identity; other is left unmodified.
func (t *TDigest) Merge(other *TDigest) {
	if other == nil || other.TotalWeight() == 0 {
		return
	}

	for _, c := range other.processed {
		t.unprocessed = append(t.unprocessed, c)
		t.unprocessedWeight += c.Weight
	}

	for _, c := range other.unprocessed {
		t.unprocessed = append(t.unprocessed, c)
		t.unprocessedWeight += c.Weight
	}

	t.min = min(t.min, other.min)
	t.max = max(t.max, other.max)

	t.process()
}

// TotalWeight returns the total weight ingested so far.
func (t *TDigest) TotalWeight() float64 {
	return t.processedWeight + t.unprocessedWeight
}

// Quantile returns the estimated value at quantile q in [0, 1],
// interpolating between the centroids whose cumulative weight brackets
// q times the total weight. ok is false while the digest is empty.
// Estimates are monotone non-decreasing in q.
func (t *TDigest) Quantile(q float64) (value float64, ok bool) {
	if q < 0 || q > 1 || t.TotalWeight() == 0 {
		return 0, false
	}

	t.process()

	if len(t.processed) == 1 {
		return t.processed[0].Mean, true
	}

	total := t.processedWeight

	target := q * total
	if target <= t.processed[0].Weight/2 {
		// Below the first centroid midpoint: interpolate from the minimum.
		first := t.processed[0]

		return t.min + (first.Mean-t.min)*target/(first.Weight/2), true
	}

	cum := 0.0

	for i := 0; i < len(t.processed)-1; i++ {
		cur := t.processed[i]
		next := t.processed[i+1]

		lower := cum + cur.Weight/2
		upper := cum + cur.Weight + next.Weight/2

		if target <= upper {
			frac := (target - lower) / (upper - lower)

			return cur.Mean + (next.Mean-cur.Mean)*frac, true
		}

		cum += cur.Weight
	}

	// Above the last centroid midpoint: interpolate toward the maximum.
	last := t.processed[len(t.processed)-1]
	lower := total - last.Weight/2

	frac := (target - lower) / (last.Weight / 2)

	return last.Mean + (t.max-last.Mean)*min(frac, 1), true
}

// Centroids returns the compressed centroid list in ascending mean order.
// The returned slice is owned by the digest and must not be modified.
func (t *TDigest) Centroids() []Centroid {
	t.process()

	return t.processed
}

// Bounds returns the minimum and maximum ingested values. ok is false
// while the digest is empty.
func (t *TDigest) Bounds() (lo, hi float64, ok bool) {
	if t.TotalWeight() == 0 {
		return 0, 0, false
	}

	return t.min, t.max, true
}

// Restore rebuilds a digest from a previously captured centroid list and
// bounds, as produced by [TDigest.Centroids] and [TDigest.Bounds].
func Restore(compression float64, centroids []Centroid, lo, hi float64) *TDigest {
	t := New(compression)

	for _, c := range centroids {
		t.processed = append(t.processed, c)
		t.processedWeight += c.Weight
	}

	if t.processedWeight > 0 {
		t.min = lo
		t.max = hi
	}

	return t
}

func (t *TDigest) bufferSize() int {
	return int(unprocessedFactor * t.compression)
}

// process merges buffered points into the compressed centroid list,
// combining adjacent centroids while the merged centroid spans at most
// one unit of the k1 scale. The cumulative criterion keeps the centroid
// count O(δ) across repeated buffer flushes.
func (t *TDigest) process() {
	if len(t.unprocessed) == 0 {
		return
	}

	all := append(t.processed, t.unprocessed...)
	sort.Slice(all, func(i, j int) bool { return all[i].Mean < all[j].Mean })

	total := t.processedWeight + t.unprocessedWeight

	out := all[:0]
	cur := all[0]
	weightSoFar := 0.0
	limit := total * t.scaleInv(t.scale(0)+1)

	for _, next := range all[1:] {
		if weightSoFar+cur.Weight+next.Weight <= limit {
			cur.Mean += (next.Mean - cur.Mean) * next.Weight / (cur.Weight + next.Weight)
			cur.Weight += next.Weight
		} else {
			weightSoFar += cur.Weight
			out = append(out, cur)

			limit = total * t.scaleInv(t.scale(weightSoFar/total)+1)
			cur = next
		}
	}

	out = append(out, cur)

	t.processed = out
	t.processedWeight = total
	t.unprocessed = nil
	t.unprocessedWeight = 0
}

// scale is the k1 scale function of the merging digest, δ·asin(2q−1)/2π.
func (t *TDigest) scale(q float64) float64 {
	return t.compression * math.Asin(2*q-1) / (2 * math.Pi)
}

// scaleInv inverts scale, clamped at the top of the k range so a span
// past the last whole unit covers all remaining weight.
func (t *TDigest) scaleInv(k float64) float64 {
	if k >= t.compression/4 {
		return 1
	}

	return (math.Sin(2*math.Pi*k/t.compression) + 1) / 2
}
