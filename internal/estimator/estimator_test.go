package estimator

import (
	"errors"
	"math"
	"testing"

	"github.com/serenalabs/breath-engine/internal/model"
)

// syntheticECG builds an ECG-like pulse train: one gaussian QRS complex
// per beat at the given heart rate, with the QRS amplitude modulated by
// a slow breathing sinusoid.
func syntheticECG(fs float64, seconds, heartBPM, respBPM float64) []int16 {
	n := int(fs * seconds)
	beatPeriod := 60 / heartBPM * fs
	sigma := 0.015 * fs
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		t := float64(i) / fs
		phase := math.Mod(float64(i), beatPeriod)
		if phase > beatPeriod/2 {
			phase -= beatPeriod
		}
		amp := 800 + 150*math.Sin(2*math.Pi*respBPM/60*t)
		v := amp * math.Exp(-phase*phase/(2*sigma*sigma))
		out[i] = int16(v)
	}
	return out
}

func blocksFor(n, blockSize int, startTS int64, fs float64) ([]int, []int64) {
	var sizes []int
	var ts []int64
	stepMS := int64(float64(blockSize) / fs * 1000)
	cur := startTS
	for n > 0 {
		size := blockSize
		if n < size {
			size = n
		}
		sizes = append(sizes, size)
		ts = append(ts, cur)
		cur += stepMS
		n -= size
	}
	return sizes, ts
}

func TestEstimateSteadyRhythm(t *testing.T) {
	fs := 130.0
	params := model.DefaultParameters()
	samples := syntheticECG(fs, 60, 60, 12)
	sizes, ts := blocksFor(len(samples), 65, 1_700_000_000_000, fs)

	res, err := Estimate(samples, fs, sizes, ts, params)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}

	t.Run("detects_one_peak_per_beat", func(t *testing.T) {
		if len(res.RPeaks) < 50 || len(res.RPeaks) > 65 {
			t.Errorf("got %d R peaks, want roughly 60", len(res.RPeaks))
		}
		for i := 1; i < len(res.RPeaks); i++ {
			if res.RPeaks[i] <= res.RPeaks[i-1] {
				t.Fatalf("R peaks not strictly increasing at %d", i)
			}
		}
	})

	t.Run("rr_intervals_near_one_second", func(t *testing.T) {
		if len(res.RRms) != len(res.RPeaks)-1 {
			t.Fatalf("len(RRms) = %d, want %d", len(res.RRms), len(res.RPeaks)-1)
		}
		med := median(res.RRms)
		if med < 950 || med > 1050 {
			t.Errorf("median RR = %.1f ms, want ~1000", med)
		}
	})

	t.Run("per_beat_slices_aligned", func(t *testing.T) {
		n := len(res.RPeaks)
		for name, l := range map[string]int{
			"EDR":       len(res.EDR),
			"EstRR":     len(res.EstRR),
			"RawRR":     len(res.RawRR),
			"TSPerBeat": len(res.TSPerBeat),
			"Tijd":      len(res.Tijd),
			"Inhale":    len(res.Inhale),
			"Exhale":    len(res.Exhale),
		} {
			if l != n {
				t.Errorf("len(%s) = %d, want %d", name, l, n)
			}
		}
	})

	t.Run("estimates_recover_breathing_rate", func(t *testing.T) {
		last := res.EstRR[len(res.EstRR)-1]
		if !isFinite(last) {
			t.Fatal("last smoothed estimate is not finite")
		}
		if last < 6 || last > 20 {
			t.Errorf("last estimate = %.2f breaths/min, want near 12", last)
		}
	})

	t.Run("timestamps_follow_estimates", func(t *testing.T) {
		sawValid := false
		for i := range res.EstRR {
			estOK := isFinite(res.EstRR[i])
			tsOK := isFinite(res.TSPerBeat[i])
			if tsOK && !estOK {
				t.Errorf("beat %d has a timestamp without an estimate", i)
			}
			if tsOK {
				sawValid = true
				if res.Tijd[i] == "" {
					t.Errorf("beat %d has a timestamp but no clock string", i)
				}
			} else if res.Tijd[i] != "" {
				t.Errorf("beat %d has a clock string without a timestamp", i)
			}
		}
		if !sawValid {
			t.Error("no beat received a timestamp")
		}
	})

	t.Run("clock_strings_shaped", func(t *testing.T) {
		for _, s := range res.Tijd {
			if s == "" {
				continue
			}
			// HH:MM:SS.mmm UTC
			if len(s) != 16 || s[2] != ':' || s[5] != ':' || s[8] != '.' {
				t.Fatalf("malformed clock string %q", s)
			}
			return
		}
	})

	t.Run("marks_breath_phases", func(t *testing.T) {
		in, ex := 0, 0
		for i := range res.Inhale {
			if res.Inhale[i] == "I" {
				in++
			}
			if res.Exhale[i] == "E" {
				ex++
			}
		}
		// 12 breaths/min over a minute
		if in < 3 || ex < 3 {
			t.Errorf("got %d inhales, %d exhales, want several of each", in, ex)
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		again, err := Estimate(samples, fs, sizes, ts, params)
		if err != nil {
			t.Fatalf("second run: %v", err)
		}
		if len(again.RPeaks) != len(res.RPeaks) {
			t.Fatalf("peak count changed between runs")
		}
		for i := range res.RPeaks {
			if again.RPeaks[i] != res.RPeaks[i] {
				t.Fatalf("peak %d moved between runs", i)
			}
		}
		for i := range res.EstRR {
			a, b := res.EstRR[i], again.EstRR[i]
			if a != b && !(math.IsNaN(a) && math.IsNaN(b)) {
				t.Fatalf("estimate %d changed between runs: %v vs %v", i, a, b)
			}
		}
	})
}

func TestEstimateRejectsUnusableInput(t *testing.T) {
	params := model.DefaultParameters()

	t.Run("flat_signal", func(t *testing.T) {
		flat := make([]int16, 1300)
		_, err := Estimate(flat, 130, nil, nil, params)
		if !errors.Is(err, ErrInsufficientPeaks) {
			t.Errorf("err = %v, want ErrInsufficientPeaks", err)
		}
	})

	t.Run("empty_signal", func(t *testing.T) {
		_, err := Estimate(nil, 130, nil, nil, params)
		if !errors.Is(err, ErrInsufficientPeaks) {
			t.Errorf("err = %v, want ErrInsufficientPeaks", err)
		}
	})

	t.Run("bad_sample_rate", func(t *testing.T) {
		_, err := Estimate([]int16{1, 2, 3}, 0, nil, nil, params)
		if err == nil {
			t.Error("want error for zero sample rate")
		}
	})
}

func TestEstimateWithoutBlockInfo(t *testing.T) {
	fs := 130.0
	samples := syntheticECG(fs, 30, 60, 12)
	res, err := Estimate(samples, fs, nil, nil, model.DefaultParameters())
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	for i := range res.TSPerBeat {
		if !math.IsNaN(res.TSPerBeat[i]) {
			t.Fatalf("beat %d got a timestamp without block info", i)
		}
		if res.Tijd[i] != "" {
			t.Fatalf("beat %d got a clock string without block info", i)
		}
	}
}

func TestFindPeaks(t *testing.T) {
	x := []float64{0, 1, 0, 2, 0, 3, 0}

	t.Run("all_local_maxima", func(t *testing.T) {
		got := findPeaks(x, 1, 0)
		want := []int{1, 3, 5}
		if len(got) != len(want) {
			t.Fatalf("got %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("got %v, want %v", got, want)
			}
		}
	})

	t.Run("distance_keeps_highest", func(t *testing.T) {
		got := findPeaks(x, 3, 0)
		for _, p := range got {
			if p == 3 {
				t.Fatalf("peak 3 should have been suppressed by its taller neighbor: %v", got)
			}
		}
		found := false
		for _, p := range got {
			if p == 5 {
				found = true
			}
		}
		if !found {
			t.Fatalf("tallest peak missing from %v", got)
		}
	})

	t.Run("prominence_filters_shallow_peaks", func(t *testing.T) {
		got := findPeaks(x, 1, 1.5)
		for _, p := range got {
			if p == 1 {
				t.Fatalf("low-prominence peak kept: %v", got)
			}
		}
	})

	t.Run("plateau_counts_once", func(t *testing.T) {
		got := findPeaks([]float64{0, 1, 1, 1, 0}, 1, 0)
		if len(got) != 1 || got[0] != 2 {
			t.Fatalf("got %v, want midpoint [2]", got)
		}
	})
}

func TestMovingAbsMean(t *testing.T) {
	t.Run("warmup_divides_by_samples_seen", func(t *testing.T) {
		got := movingAbsMean([]float64{-4, 0}, 4)
		if got[0] != 4 || got[1] != 2 {
			t.Errorf("got %v, want [4 2]", got)
		}
	})
	t.Run("steady_state", func(t *testing.T) {
		got := movingAbsMean([]float64{2, 2, 2, 2}, 2)
		for i, v := range got {
			if v != 2 {
				t.Errorf("index %d = %v, want 2", i, v)
			}
		}
	})
}

func TestNanMedian(t *testing.T) {
	if got := nanMedian([]float64{math.NaN(), 1, 3}); got != 2 {
		t.Errorf("nanMedian = %v, want 2", got)
	}
	if got := nanMedian([]float64{math.NaN()}); !math.IsNaN(got) {
		t.Errorf("nanMedian of all-NaN = %v, want NaN", got)
	}
}

func TestBandpassZeroPhase(t *testing.T) {
	// A pulse filtered forward and backward must keep its peak aligned.
	fs := 130.0
	n := 650
	x := make([]float64, n)
	center := n / 2
	for i := range x {
		d := float64(i - center)
		x[i] = math.Exp(-d * d / (2 * 4))
	}
	y := bandpassZeroPhase(x, fs, 4, 20)
	if len(y) != n {
		t.Fatalf("len = %d, want %d", len(y), n)
	}
	peak := 0
	for i := range y {
		if y[i] > y[peak] {
			peak = i
		}
	}
	if peak < center-3 || peak > center+3 {
		t.Errorf("peak moved to %d, want within 3 samples of %d", peak, center)
	}
}
