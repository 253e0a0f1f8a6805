// Package estimator derives per-beat respiratory rate from raw ECG.
//
// The pipeline follows the classic EDR (ECG-derived respiration)
// approach: locate R peaks in a bandpassed signal, measure QRS
// amplitude modulation per beat, and read the dominant modulation
// frequency off a per-beat power spectrum, scaled by the instantaneous
// heart rate into breaths per minute.
package estimator

import (
	"errors"
	"fmt"
	"math"

	"github.com/serenalabs/breath-engine/internal/model"
)

// ErrInsufficientPeaks is returned when the signal contains fewer than
// four usable R peaks, the minimum for a respiration estimate.
var ErrInsufficientPeaks = errors.New("insufficient R peaks in ECG segment")

// Result is the per-beat output of one estimation run. All per-beat
// slices share the length of RPeaks; RRms is one element shorter.
type Result struct {
	FS     float64
	RPeaks []int     // refined R-peak sample indices
	RRms   []float64 // inter-beat intervals, milliseconds
	EDR    []float64 // per-beat QRS RMS amplitude
	EstRR  []float64 // smoothed respiratory rate per beat, breaths/min (NaN where unknown)
	RawRR  []float64 // unsmoothed spectral estimate per beat

	TSPerBeat []float64 // epoch ms per beat, NaN where no estimate or no timestamps
	Tijd      []string  // relative clock per beat, "HH:MM:SS.mmm UTC", "" where unknown
	Inhale    []string  // "I" at inhale onsets, "" elsewhere
	Exhale    []string  // "E" at exhale onsets, "" elsewhere
}

// Estimate runs the full pipeline over a contiguous ECG buffer.
// blockTS and blockSizes describe the ingest blocks the buffer was
// assembled from and anchor each sample to an epoch-ms timestamp; pass
// them empty to skip timestamping.
func Estimate(samples []int16, fs float64, blockSizes []int, blockTS []int64, p model.ParameterSet) (*Result, error) {
	if fs <= 0 {
		return nil, fmt.Errorf("invalid sample rate %v", fs)
	}
	n := len(samples)
	if n == 0 {
		return nil, ErrInsufficientPeaks
	}

	raw := make([]float64, n)
	for i, s := range samples {
		raw[i] = float64(s)
	}
	baseline := median(raw)
	for i := range raw {
		raw[i] -= baseline
	}

	bp := bandpassZeroPhase(raw, fs, p.BPLowHz, p.BPHighHz)

	peaks := detectRPeaks(bp, fs, p.MWAQRSSec, p.MWABeatSec, p.MinSegSec, p.MinRRSec)
	rpeaks := refinePeaks(raw, peaks)
	if len(rpeaks) < 4 {
		return nil, ErrInsufficientPeaks
	}

	edr := qrsAmplitudes(bp, rpeaks, int(math.Round(p.QRSHalfSec*fs)))

	rrMS := make([]float64, len(rpeaks)-1)
	for i := range rrMS {
		rrMS[i] = 1000 * float64(rpeaks[i+1]-rpeaks[i]) / fs
	}

	rawRR := spectralEstimates(edr, rrMS, p)
	est := smoothEstimates(rawRR, p.SmoothWin)

	tsPerBeat, tijd := beatTimestamps(rpeaks, est, blockSizes, blockTS, fs)
	inhale, exhale := breathPhases(edr, rrMS, est)

	return &Result{
		FS:        fs,
		RPeaks:    rpeaks,
		RRms:      rrMS,
		EDR:       edr,
		EstRR:     est,
		RawRR:     rawRR,
		TSPerBeat: tsPerBeat,
		Tijd:      tijd,
		Inhale:    inhale,
		Exhale:    exhale,
	}, nil
}

// qrsAmplitudes computes the RMS of the bandpassed signal in a window
// of ±half samples around each R peak, with indices clamped to the
// signal.
func qrsAmplitudes(bp []float64, rpeaks []int, half int) []float64 {
	n := len(bp)
	out := make([]float64, len(rpeaks))
	for i, r := range rpeaks {
		sum := 0.0
		count := 0
		for j := -half; j <= half; j++ {
			v := bp[clampIndex(r+j, n)]
			sum += v * v
			count++
		}
		out[i] = math.Sqrt(sum / float64(count))
	}
	return out
}

// spectralEstimates produces one respiratory-rate estimate per beat
// from a sliding window of EDR amplitudes and the median RR interval
// over (roughly) the same window.
func spectralEstimates(edr, rrMS []float64, p model.ParameterSet) []float64 {
	h := p.HeartbeatWindow
	out := make([]float64, len(edr))
	for i := range edr {
		var section []float64
		var rrMed float64
		if i < h {
			section = edr[:i]
			if rr := clampSlice(rrMS, 0, i); len(rr) > 0 {
				rrMed = median(rr)
			} else {
				rrMed = math.NaN()
			}
		} else {
			section = edr[i-h : i]
			if rr := clampSlice(rrMS, i-h-1, i-1); len(rr) > 0 {
				rrMed = median(rr)
			} else {
				rrMed = math.NaN()
			}
		}
		out[i] = estimateBPM(section, rrMed, p)
	}
	return out
}

// estimateBPM reads the dominant EDR modulation frequency (cycles per
// beat) off a Hann-windowed power spectrum, converts it to breaths per
// minute via the median heart rate, and corrects octave errors against
// the harmonic at twice / half the peak frequency.
func estimateBPM(section []float64, rrMedMS float64, p model.ParameterSet) float64 {
	if len(section) < 4 || !isFinite(rrMedMS) || rrMedMS <= 0 {
		return math.NaN()
	}

	nfft := p.FFTLength
	if nfft < len(section) {
		nfft = nextPow2(len(section))
	}
	ps, freqs, err := powerSpectrum(section, nfft)
	if err != nil {
		return math.NaN()
	}

	beatsPerMin := 60000 / rrMedMS
	fmin := math.Max(p.FreqRangeCB[0], p.BPMMin/beatsPerMin)
	fmax := math.Min(p.FreqRangeCB[1], p.BPMMax/beatsPerMin)
	if fmin >= fmax {
		return math.NaN()
	}

	first, last := -1, -1
	peak := -1
	for k, f := range freqs {
		if f < fmin || f > fmax {
			continue
		}
		if first < 0 {
			first = k
		}
		last = k
		if peak < 0 || ps[k] > ps[peak] {
			peak = k
		}
	}
	if peak < 0 {
		return math.NaN()
	}

	xk := parabolicPeak(ps, peak, float64(first), float64(last))
	f0 := xk / float64(nfft)
	psPeak := ps[peak]
	floor := p.HarmonicRatio * math.Max(psPeak, 1e-12)

	if f2 := math.Min(0.5, 2*f0); psAt(ps, freqs, f2) > floor && f2 >= fmin && f2 <= fmax {
		f0 = f2
	} else if fh := math.Max(p.FreqRangeCB[0], 0.5*f0); psAt(ps, freqs, fh) > floor && fh >= fmin && fh <= fmax {
		f0 = fh
	}

	return f0 * beatsPerMin
}

// smoothEstimates applies a trailing NaN-tolerant median of win beats.
// The first win beats pass through unchanged.
func smoothEstimates(est []float64, win int) []float64 {
	out := make([]float64, len(est))
	for i := range est {
		if i >= win {
			out[i] = nanMedian(est[i-win : i])
		} else {
			out[i] = est[i]
		}
	}
	return out
}

// beatTimestamps maps each beat with a finite estimate onto the epoch
// timestamp of its R-peak sample, plus a relative wall-clock string
// anchored at the first valid beat. Hours accumulate past 24.
func beatTimestamps(rpeaks []int, est []float64, blockSizes []int, blockTS []int64, fs float64) ([]float64, []string) {
	tsPerBeat := make([]float64, len(rpeaks))
	tijd := make([]string, len(rpeaks))
	for i := range tsPerBeat {
		tsPerBeat[i] = math.NaN()
	}

	sampleTS := sampleTimestamps(blockSizes, blockTS, fs)
	if sampleTS == nil {
		return tsPerBeat, tijd
	}

	for i, r := range rpeaks {
		if r >= 0 && r < len(sampleTS) && isFinite(est[i]) {
			tsPerBeat[i] = sampleTS[r]
		}
	}

	base := math.NaN()
	for _, ts := range tsPerBeat {
		if isFinite(ts) {
			base = ts
			break
		}
	}
	if !isFinite(base) {
		return tsPerBeat, tijd
	}
	for i, ts := range tsPerBeat {
		if !isFinite(ts) {
			continue
		}
		rel := int64(ts - base)
		if rel < 0 {
			rel = 0
		}
		ms := rel % 1000
		sec := rel / 1000 % 60
		min := rel / 60000 % 60
		hr := rel / 3600000
		tijd[i] = fmt.Sprintf("%02d:%02d:%02d.%03d UTC", hr, min, sec, ms)
	}
	return tsPerBeat, tijd
}

// sampleTimestamps expands per-block timestamps into a per-sample epoch
// ms axis. Samples within a block are spaced 1/fs apart from the block
// timestamp. Returns nil when no block info is available.
func sampleTimestamps(blockSizes []int, blockTS []int64, fs float64) []float64 {
	if len(blockSizes) == 0 || len(blockSizes) != len(blockTS) {
		return nil
	}
	total := 0
	for _, s := range blockSizes {
		total += s
	}
	out := make([]float64, 0, total)
	step := 1000 / fs
	for b, size := range blockSizes {
		t0 := float64(blockTS[b])
		for j := 0; j < size; j++ {
			out = append(out, t0+float64(j)*step)
		}
	}
	return out
}

// breathPhases marks inhale and exhale onsets on the smoothed EDR
// series. The smoothing kernel, detrend window, peak distance and peak
// prominence all adapt to the currently estimated breathing cycle and
// average beat length.
func breathPhases(edr, rrMS, est []float64) (inhale, exhale []string) {
	inhale = make([]string, len(edr))
	exhale = make([]string, len(edr))
	if len(edr) < 10 {
		return inhale, exhale
	}

	tail := est
	if len(est) > 20 {
		tail = est[len(est)-20:]
	}
	respBPM := nanMedian(tail)
	if !isFinite(respBPM) || respBPM <= 3 {
		respBPM = 10.0
	}

	avgRRSec := nanMedian(rrMS) / 1000
	if !isFinite(avgRRSec) || avgRRSec <= 0.3 {
		avgRRSec = 0.8
	}

	cycleSec := 60 / respBPM
	targetSmoothSec := math.Min(2.0, math.Max(0.6, 0.25*cycleSec))
	smoothBeats := int(targetSmoothSec / avgRRSec)
	if smoothBeats < 3 {
		smoothBeats = 3
	}
	if smoothBeats%2 == 0 {
		smoothBeats++
	}

	smoothed := convolveSame(edr, hannNormalized(smoothBeats))

	trendWin := int(2 * cycleSec / avgRRSec)
	if trendWin < 30 {
		trendWin = 30
	}
	trend := movingAbsMean(smoothed, trendWin)
	detrended := make([]float64, len(smoothed))
	for i := range smoothed {
		detrended[i] = smoothed[i] - trend[i]
	}

	minDist := int(0.4 * cycleSec / avgRRSec)
	if minDist < 1 {
		minDist = 1
	}
	spread := percentile(detrended, 95) - percentile(detrended, 5)
	prom := math.Max(0.001, 0.15*spread)

	for _, pk := range findPeaks(detrended, minDist, prom) {
		exhale[pk] = "E"
	}
	neg := make([]float64, len(detrended))
	for i, v := range detrended {
		neg[i] = -v
	}
	for _, pk := range findPeaks(neg, minDist, prom) {
		inhale[pk] = "I"
	}
	return inhale, exhale
}
