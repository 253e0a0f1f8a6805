package estimator

import (
	"math"
	"sort"
)

// detectRPeaks finds candidate R-peak indices in the bandpassed signal.
// A fast envelope rising above a slow envelope gates active segments;
// each sufficiently long segment contributes the index of its largest
// bandpassed sample, subject to a refractory interval.
func detectRPeaks(bp []float64, fs float64, shortWinSec, longWinSec, minSegSec, minRRSec float64) []int {
	n := len(bp)
	if n == 0 {
		return nil
	}

	short := movingAbsMean(bp, int(math.Round(shortWinSec*fs)))
	long := movingAbsMean(bp, int(math.Round(longWinSec*fs)))

	gate := make([]bool, n)
	for i := range gate {
		gate[i] = short[i] > long[i]
	}

	minSeg := int(math.Round(minSegSec * fs))
	refractory := int(math.Round(minRRSec * fs))

	var peaks []int
	last := -refractory - 1
	i := 0
	for i < n {
		if !gate[i] {
			i++
			continue
		}
		on := i
		for i < n && gate[i] {
			i++
		}
		off := i - 1
		if off-on <= minSeg {
			continue
		}
		pk := on
		for j := on + 1; j <= off; j++ {
			if bp[j] > bp[pk] {
				pk = j
			}
		}
		if pk-last > refractory {
			peaks = append(peaks, pk)
			last = pk
		}
	}
	return peaks
}

// refinePeaks hill-climbs each detected peak on the baseline-corrected
// raw signal: step left while the left neighbor is larger, then right
// while the right neighbor is larger. Duplicates collapsing onto the
// same sample are removed.
func refinePeaks(raw []float64, peaks []int) []int {
	n := len(raw)
	refined := make([]int, 0, len(peaks))
	seen := make(map[int]bool, len(peaks))
	for _, p := range peaks {
		i := clampIndex(p, n)
		for i > 0 && raw[i] < raw[i-1] {
			i--
		}
		for i < n-1 && raw[i] < raw[i+1] {
			i++
		}
		if !seen[i] {
			seen[i] = true
			refined = append(refined, i)
		}
	}
	sort.Ints(refined)
	return refined
}

// findPeaks returns indices of local maxima of x separated by at least
// minDist samples and with prominence of at least minProm. Plateaus
// count once, at their midpoint. Matches the usual peak-picking
// semantics: when two peaks are closer than minDist the higher one
// wins.
func findPeaks(x []float64, minDist int, minProm float64) []int {
	n := len(x)
	if n < 3 {
		return nil
	}

	var maxima []int
	i := 1
	for i < n-1 {
		if x[i] <= x[i-1] {
			i++
			continue
		}
		j := i
		for j < n-1 && x[j+1] == x[j] {
			j++
		}
		if j < n-1 && x[j+1] < x[j] {
			maxima = append(maxima, (i+j)/2)
		}
		i = j + 1
	}

	if minProm > 0 {
		kept := maxima[:0]
		for _, p := range maxima {
			if prominence(x, p) >= minProm {
				kept = append(kept, p)
			}
		}
		maxima = kept
	}

	if minDist > 1 && len(maxima) > 1 {
		order := make([]int, len(maxima))
		for i := range order {
			order[i] = i
		}
		sort.Slice(order, func(a, b int) bool {
			return x[maxima[order[a]]] > x[maxima[order[b]]]
		})
		removed := make([]bool, len(maxima))
		for _, oi := range order {
			if removed[oi] {
				continue
			}
			for j := oi - 1; j >= 0 && maxima[oi]-maxima[j] < minDist; j-- {
				removed[j] = true
			}
			for j := oi + 1; j < len(maxima) && maxima[j]-maxima[oi] < minDist; j++ {
				removed[j] = true
			}
		}
		kept := maxima[:0]
		for i, p := range maxima {
			if !removed[i] {
				kept = append(kept, p)
			}
		}
		maxima = kept
	}
	return maxima
}

// prominence measures how far a peak rises above the higher of the two
// minima separating it from taller terrain (or the signal edge).
func prominence(x []float64, p int) float64 {
	leftMin := x[p]
	for i := p - 1; i >= 0; i-- {
		if x[i] > x[p] {
			break
		}
		if x[i] < leftMin {
			leftMin = x[i]
		}
	}
	rightMin := x[p]
	for i := p + 1; i < len(x); i++ {
		if x[i] > x[p] {
			break
		}
		if x[i] < rightMin {
			rightMin = x[i]
		}
	}
	base := leftMin
	if rightMin > base {
		base = rightMin
	}
	return x[p] - base
}
