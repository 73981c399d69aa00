package sensor

import "sort"

// trimmedMean sorts the samples, drops the trim lowest and trim highest,
// and averages the rest. With too few samples the trim shrinks so at least
// one sample survives. ok is false only for an empty input.
func trimmedMean(samples []float64, trim int) (float64, bool) {
	if len(samples) == 0 {
		return 0, false
	}
	if trim < 0 {
		trim = 0
	}

	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)

	t := trim
	if len(sorted) <= 2*t {
		t = (len(sorted) - 1) / 2
	}
	kept := sorted[t : len(sorted)-t]

	var sum float64
	for _, v := range kept {
		sum += v
	}
	return sum / float64(len(kept)), true
}
