package model

import "time"

// Session statuses.
const (
	SessionActive    = "active"
	SessionCompleted = "completed"
	SessionCancelled = "cancelled"
)

// Session is one guided breathing exercise for a single device. At most
// one session per device is active at any time.
type Session struct {
	SessionID     string     `json:"session_id"`
	DeviceID      string     `json:"device_id"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at"`
	TechniqueName string     `json:"technique_name,omitempty"`
	ParamVersion  string     `json:"param_version"`
	TargetRR      float64    `json:"target_rr,omitempty"`
	Status        string     `json:"status"`

	// LastEmittedTS is the monotonic watermark (epoch ms) below which
	// derived records have already been emitted for this session.
	LastEmittedTS int64 `json:"last_emitted_ts"`
}

// Duration returns the session length in seconds, or 0 while active.
func (s *Session) Duration() float64 {
	if s.EndedAt == nil {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt).Seconds()
}

// Device is a wearable chest strap, created on first observation.
type Device struct {
	DeviceID   string    `json:"device_id"`
	Name       string    `json:"name,omitempty"`
	DeviceType string    `json:"device_type"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeen   time.Time `json:"last_seen"`
}

// DefaultDeviceType is assigned to auto-created devices.
const DefaultDeviceType = "polar_h10"
