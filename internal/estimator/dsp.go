package estimator

import (
	"fmt"
	"math"

	algofft "github.com/MeKo-Christian/algo-fft"
	"github.com/cwbudde/algo-dsp/dsp/filter/biquad"
	"github.com/cwbudde/algo-dsp/dsp/filter/design"
	"github.com/cwbudde/algo-dsp/dsp/window"
)

// butterworthQ is the quality factor of a single 2nd-order Butterworth
// stage.
const butterworthQ = 0.70710678118654752

// bandpassZeroPhase applies a 2nd-order Butterworth bandpass (highpass
// at lowHz cascaded with lowpass at highHz) forward and backward, so
// the output has zero phase shift relative to the input. The signal is
// extended at both ends with odd reflection to suppress edge
// transients.
func bandpassZeroPhase(x []float64, fs, lowHz, highHz float64) []float64 {
	n := len(x)
	if n == 0 {
		return nil
	}

	padlen := int(3 * fs / lowHz)
	if padlen > n-1 {
		padlen = n - 1
	}
	if padlen < 0 {
		padlen = 0
	}

	ext := make([]float64, padlen+n+padlen)
	for i := 0; i < padlen; i++ {
		ext[i] = 2*x[0] - x[padlen-i]
	}
	copy(ext[padlen:], x)
	for i := 0; i < padlen; i++ {
		ext[padlen+n+i] = 2*x[n-1] - x[n-2-i]
	}

	runPass := func(sig []float64) {
		hp := biquad.NewSection(design.Highpass(lowHz, butterworthQ, fs))
		lp := biquad.NewSection(design.Lowpass(highHz, butterworthQ, fs))
		for i, v := range sig {
			sig[i] = lp.ProcessSample(hp.ProcessSample(v))
		}
	}

	runPass(ext)
	reverse(ext)
	runPass(ext)
	reverse(ext)

	out := make([]float64, n)
	copy(out, ext[padlen:padlen+n])
	return out
}

func reverse(xs []float64) {
	for i, j := 0, len(xs)-1; i < j; i, j = i+1, j-1 {
		xs[i], xs[j] = xs[j], xs[i]
	}
}

// movingAbsMean returns the trailing mean of |x| over win samples. The
// first win-1 outputs average over the i+1 samples seen so far, so the
// envelope has no startup gap.
func movingAbsMean(x []float64, win int) []float64 {
	if win < 1 {
		win = 1
	}
	out := make([]float64, len(x))
	sum := 0.0
	for i, v := range x {
		sum += math.Abs(v)
		if i >= win {
			sum -= math.Abs(x[i-win])
			out[i] = sum / float64(win)
		} else {
			out[i] = sum / float64(i+1)
		}
	}
	return out
}

// hannNormalized returns a Hann window of length n scaled to unit sum,
// for use as a smoothing kernel.
func hannNormalized(n int) []float64 {
	w := window.Generate(window.TypeHann, n)
	sum := 0.0
	for _, v := range w {
		sum += v
	}
	if sum == 0 {
		// degenerate tiny windows; fall back to a boxcar
		for i := range w {
			w[i] = 1.0 / float64(n)
		}
		return w
	}
	for i := range w {
		w[i] /= sum
	}
	return w
}

// convolveSame convolves x with kernel k and returns the centered
// segment with the same length as x.
func convolveSame(x, k []float64) []float64 {
	n, m := len(x), len(k)
	if n == 0 || m == 0 {
		return nil
	}
	full := make([]float64, n+m-1)
	for i, xv := range x {
		for j, kv := range k {
			full[i+j] += xv * kv
		}
	}
	start := (m - 1) / 2
	out := make([]float64, n)
	copy(out, full[start:start+n])
	return out
}

// powerSpectrum returns the one-sided power spectrum of section after
// mean removal and Hann windowing, computed over nfft points. The
// returned frequency axis is in cycles per sample (here: cycles per
// beat), bin k at k/nfft.
func powerSpectrum(section []float64, nfft int) (ps, freqs []float64, err error) {
	plan, err := algofft.NewPlan64(nfft)
	if err != nil {
		return nil, nil, fmt.Errorf("fft plan (n=%d): %w", nfft, err)
	}

	m := mean(section)
	in := make([]complex128, nfft)
	for i, v := range section {
		in[i] = complex(v-m, 0)
	}
	win := window.Generate(window.TypeHann, len(section))
	for i := range section {
		in[i] *= complex(win[i], 0)
	}

	out := make([]complex128, nfft)
	if err := plan.Forward(out, in); err != nil {
		return nil, nil, fmt.Errorf("fft forward: %w", err)
	}

	half := nfft/2 + 1
	ps = make([]float64, half)
	freqs = make([]float64, half)
	for k := 0; k < half; k++ {
		re, im := real(out[k]), imag(out[k])
		ps[k] = re*re + im*im
		freqs[k] = float64(k) / float64(nfft)
	}
	return ps, freqs, nil
}

// parabolicPeak refines the peak location around index k of ps by
// fitting a parabola through the three surrounding points. The result
// is clamped to [lo, hi] (fractional bin indices).
func parabolicPeak(ps []float64, k int, lo, hi float64) float64 {
	x := float64(k)
	if k > 0 && k < len(ps)-1 {
		y0, y1, y2 := ps[k-1], ps[k], ps[k+1]
		denom := y0 - 2*y1 + y2
		if denom != 0 {
			x += 0.5 * (y0 - y2) / denom
		}
	}
	if x < lo {
		x = lo
	}
	if x > hi {
		x = hi
	}
	return x
}

// psAt samples the power spectrum at a fractional frequency via nearest
// bin lookup, returning 0 outside the axis.
func psAt(ps, freqs []float64, f float64) float64 {
	if len(ps) == 0 || f < freqs[0] || f > freqs[len(freqs)-1] {
		return 0
	}
	df := freqs[1] - freqs[0]
	k := clampIndex(int(math.Round(f/df)), len(ps))
	return ps[k]
}
