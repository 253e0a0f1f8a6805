package model

import (
	"fmt"
	"time"
)

// Signal type names as they appear on the wire and in storage.
const (
	SignalECG          = "ecg"
	SignalHRDerived    = "hr_derived"
	SignalRespRR       = "resp_rr"
	SignalGuidance     = "guidance"
	SignalBreathTarget = "BreathTarget"
	SignalResp         = "resp"
	SignalMarker       = "marker"
)

// UnknownDevice is the device id used when a record carries none. The
// stream hub also keeps a subscriber bucket under this id that receives
// every broadcast record.
const UnknownDevice = "UNKNOWN"

// BreathCycle holds the per-phase durations of a breathing protocol row,
// in whole seconds.
type BreathCycle struct {
	In    int `json:"in"`
	Hold1 int `json:"hold1"`
	Out   int `json:"out"`
	Hold2 int `json:"hold2"`
}

// SignalRecord is the canonical form of every record flowing through the
// pipeline: typed common fields plus the optional, signal-specific fields
// of the open payload union. Optional numerics are pointers so that zero
// values survive round trips (TargetRR == 0 ends a session and must not
// be confused with "absent").
type SignalRecord struct {
	DeviceID  string `json:"device_id"`
	SessionID string `json:"session_id,omitempty"`
	Signal    string `json:"signal"`
	TS        int64  `json:"ts"`
	DT        string `json:"dt"`

	// ecg
	Samples []int16 `json:"samples,omitempty"`

	// hr_derived
	BPM *float64 `json:"bpm,omitempty"`

	// resp_rr
	EstRR  *float64 `json:"estRR,omitempty"`
	Tijd   string   `json:"tijd,omitempty"`
	Inhale string   `json:"inhale,omitempty"`
	Exhale string   `json:"exhale,omitempty"`

	// guidance
	Text      string   `json:"text,omitempty"`
	AudioText string   `json:"audio_text,omitempty"`
	Color     string   `json:"color,omitempty"`
	Target    *float64 `json:"target,omitempty"`
	Actual    *float64 `json:"actual,omitempty"`

	// BreathTarget
	TargetRR           *float64     `json:"TargetRR,omitempty"`
	BreathCycle        *BreathCycle `json:"breath_cycle,omitempty"`
	Technique          string       `json:"technique,omitempty"`
	ActiveParamVersion string       `json:"active_param_version,omitempty"`
}

// Validate checks the invariants every persisted record must satisfy.
func (r *SignalRecord) Validate() error {
	if r.Signal == "" {
		return fmt.Errorf("record missing signal type")
	}
	if r.Signal == SignalECG && len(r.Samples) == 0 {
		return fmt.Errorf("ecg record with no samples")
	}
	if r.Signal == SignalHRDerived && r.BPM != nil && (*r.BPM < 30 || *r.BPM > 240) {
		return fmt.Errorf("hr_derived bpm %.1f outside [30, 240]", *r.BPM)
	}
	return nil
}

// RawRecord is the loosest inbound shape accepted by the ingest surface.
// Only signal is required; everything else is carried through.
type RawRecord struct {
	Signal   string   `json:"signal"`
	DeviceID string   `json:"device_id"`
	TS       *float64 `json:"ts"`

	Samples   []int16  `json:"samples"`
	BPM       *float64 `json:"bpm"`
	EstRR     *float64 `json:"estRR"`
	Tijd      string   `json:"tijd"`
	Inhale    string   `json:"inhale"`
	Exhale    string   `json:"exhale"`
	Text      string   `json:"text"`
	AudioText string   `json:"audio_text"`
	Color     string   `json:"color"`
	Target    *float64 `json:"target"`
	Actual    *float64 `json:"actual"`

	TargetRR           *float64     `json:"TargetRR"`
	BreathCycle        *BreathCycle `json:"breath_cycle"`
	Technique          string       `json:"technique"`
	ActiveParamVersion string       `json:"active_param_version"`
}

// Canonical normalizes a raw inbound record: timestamp to epoch ms,
// derived dt string, device id defaulted to UNKNOWN.
func (in *RawRecord) Canonical(now time.Time) SignalRecord {
	deviceID := in.DeviceID
	if deviceID == "" {
		deviceID = UnknownDevice
	}

	var ts int64
	if in.TS != nil {
		ts = NormalizeTimestamp(int64(*in.TS), now)
	} else {
		ts = now.UnixMilli()
	}

	return SignalRecord{
		DeviceID:           deviceID,
		Signal:             in.Signal,
		TS:                 ts,
		DT:                 FormatDT(ts),
		Samples:            in.Samples,
		BPM:                in.BPM,
		EstRR:              in.EstRR,
		Tijd:               in.Tijd,
		Inhale:             in.Inhale,
		Exhale:             in.Exhale,
		Text:               in.Text,
		AudioText:          in.AudioText,
		Color:              in.Color,
		Target:             in.Target,
		Actual:             in.Actual,
		TargetRR:           in.TargetRR,
		BreathCycle:        in.BreathCycle,
		Technique:          in.Technique,
		ActiveParamVersion: in.ActiveParamVersion,
	}
}

// NormalizeTimestamp maps an inbound timestamp of unknown unit to epoch
// milliseconds. Interpretation is by magnitude: above 1e13 the value is
// taken as nanoseconds (microseconds land in the seconds band after the
// first division and are corrected on the second pass), (1e9, 1e10) as
// seconds, [1e12, 1e13] as milliseconds. Anything else is replaced with
// the current wall clock. Already-millisecond inputs pass through
// unchanged, which makes the function idempotent.
func NormalizeTimestamp(ts int64, now time.Time) int64 {
	switch {
	case ts > 10_000_000_000_000:
		return NormalizeTimestamp(ts/1_000_000, now)
	case ts > 1_000_000_000 && ts < 10_000_000_000:
		return ts * 1000
	case ts >= 1_000_000_000_000 && ts <= 10_000_000_000_000:
		return ts
	default:
		return now.UnixMilli()
	}
}

// FormatDT renders an epoch-ms timestamp as "DD-MM-YYYY HH:MM:SS:mmm"
// in server local time.
func FormatDT(ts int64) string {
	t := time.UnixMilli(ts)
	return fmt.Sprintf("%s:%03d", t.Format("02-01-2006 15:04:05"), ts%1000)
}
