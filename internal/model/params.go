package model

import "time"

// DefaultParamVersion is the parameter set every session starts from.
const DefaultParamVersion = "v1_default"

// ParameterSet is an immutable snapshot of the estimator configuration,
// keyed by version. Field names follow the wearable protocol documents.
type ParameterSet struct {
	Version string `json:"version"`

	BPLowHz         float64    `json:"BP_LOW_HZ"`
	BPHighHz        float64    `json:"BP_HIGH_HZ"`
	MWAQRSSec       float64    `json:"MWA_QRS_SEC"`
	MWABeatSec      float64    `json:"MWA_BEAT_SEC"`
	MinSegSec       float64    `json:"MIN_SEG_SEC"`
	MinRRSec        float64    `json:"MIN_RR_SEC"`
	QRSHalfSec      float64    `json:"QRS_HALF_SEC"`
	HeartbeatWindow int        `json:"HEARTBEAT_WINDOW"`
	FFTLength       int        `json:"FFT_LENGTH"`
	FreqRangeCB     [2]float64 `json:"FREQ_RANGE_CB"`
	SmoothWin       int        `json:"SMOOTH_WIN"`
	BPMMin          float64    `json:"BPM_MIN"`
	BPMMax          float64    `json:"BPM_MAX"`
	HarmonicRatio   float64    `json:"HARMONIC_RATIO"`
	BufferSize      int        `json:"BUFFER_SIZE"`

	IsDefault bool      `json:"is_default"`
	CreatedAt time.Time `json:"created_at"`
}

// DefaultParameters returns the built-in v1_default snapshot, used when
// the store has no parameter sets at all.
func DefaultParameters() ParameterSet {
	return ParameterSet{
		Version:         DefaultParamVersion,
		BPLowHz:         4.0,
		BPHighHz:        20.0,
		MWAQRSSec:       0.12,
		MWABeatSec:      0.6,
		MinSegSec:       0.08,
		MinRRSec:        0.3,
		QRSHalfSec:      0.04,
		HeartbeatWindow: 32,
		FFTLength:       512,
		FreqRangeCB:     [2]float64{0.03, 0.5},
		SmoothWin:       32,
		BPMMin:          4.0,
		BPMMax:          40.0,
		HarmonicRatio:   1.4,
		BufferSize:      200,
		IsDefault:       true,
	}
}
