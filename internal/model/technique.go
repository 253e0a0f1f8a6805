package model

import (
	"fmt"
	"time"
)

// ProtocolRow is one phase row of a breathing protocol:
// [in, hold1, out, hold2, repeats], all whole seconds / counts.
type ProtocolRow [5]int

// Cycle returns the breath-cycle phase durations of the row.
func (p ProtocolRow) Cycle() BreathCycle {
	return BreathCycle{In: p[0], Hold1: p[1], Out: p[2], Hold2: p[3]}
}

// Technique is a named breathing protocol bound to a parameter-set version.
type Technique struct {
	Name         string        `json:"name"`
	Description  string        `json:"description"`
	ParamVersion string        `json:"param_version"`
	ShowInApp    bool          `json:"show_in_app"`
	Protocol     []ProtocolRow `json:"protocol"`
	IsActive     bool          `json:"is_active"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Validate rejects techniques without a usable protocol.
func (t *Technique) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("technique missing name")
	}
	if len(t.Protocol) == 0 {
		return fmt.Errorf("technique %q has no protocol rows", t.Name)
	}
	for _, row := range t.Protocol {
		for _, v := range row {
			if v < 0 {
				return fmt.Errorf("technique %q has a negative protocol value", t.Name)
			}
		}
		if row[0]+row[1]+row[2]+row[3] > 0 {
			return nil
		}
	}
	return fmt.Errorf("technique %q has no row with a positive phase sum", t.Name)
}

// TargetRR returns the respiratory rate implied by the first usable
// protocol row, in breaths per minute.
func (t *Technique) TargetRR() float64 {
	for _, row := range t.Protocol {
		if sum := row[0] + row[1] + row[2] + row[3]; sum > 0 {
			return 60.0 / float64(sum)
		}
	}
	return 0
}
