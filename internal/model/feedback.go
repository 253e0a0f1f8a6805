package model

import "time"

// FeedbackMessage is one coaching message with a selection weight.
type FeedbackMessage struct {
	Weight    int    `json:"weight"`
	Text      string `json:"text"`
	AudioText string `json:"audio_text"`
}

// FeedbackCategory holds the weighted messages of one guidance category
// plus its activation threshold (seconds for blue, percent for green and
// orange; zero means "use the built-in default").
type FeedbackCategory struct {
	Messages     []FeedbackMessage `json:"messages"`
	ThresholdSec float64           `json:"threshold_sec,omitempty"`
	ThresholdPct float64           `json:"threshold_pct,omitempty"`
}

// FeedbackSettings tunes the debounce and rate limits, in seconds.
type FeedbackSettings struct {
	StabilityDuration float64 `json:"stability_duration"`
	RepeatInterval    float64 `json:"repeat_interval"`
	VisualInterval    float64 `json:"visual_interval"`
}

// Guidance category names.
const (
	CategoryBlue    = "blue"
	CategoryGreen   = "green"
	CategoryOrange  = "orange"
	CategoryRedFast = "red_fast"
	CategoryRedSlow = "red_slow"
)

// FeedbackRules is the singleton rules document driving the guidance
// state machine.
type FeedbackRules struct {
	Blue     FeedbackCategory `json:"blue"`
	Green    FeedbackCategory `json:"green"`
	Orange   FeedbackCategory `json:"orange"`
	RedFast  FeedbackCategory `json:"red_fast"`
	RedSlow  FeedbackCategory `json:"red_slow"`
	Settings FeedbackSettings `json:"settings"`

	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Category returns the named category, or nil for an unknown name.
func (r *FeedbackRules) Category(name string) *FeedbackCategory {
	switch name {
	case CategoryBlue:
		return &r.Blue
	case CategoryGreen:
		return &r.Green
	case CategoryOrange:
		return &r.Orange
	case CategoryRedFast:
		return &r.RedFast
	case CategoryRedSlow:
		return &r.RedSlow
	}
	return nil
}

// DefaultFeedbackRules returns the built-in rules used until an operator
// stores their own.
func DefaultFeedbackRules() FeedbackRules {
	return FeedbackRules{
		Blue: FeedbackCategory{
			Messages: []FeedbackMessage{
				{Weight: 10, Text: "We gaan de volgende ademhaling samen doen...", AudioText: "We gaan de volgende ademhaling samen doen"},
			},
			ThresholdSec: 30.0,
		},
		Green: FeedbackCategory{
			Messages: []FeedbackMessage{
				{Weight: 4, Text: "Perfect ritme!", AudioText: "Perfect ritme"},
			},
			ThresholdPct: 5.0,
		},
		Orange: FeedbackCategory{
			Messages: []FeedbackMessage{
				{Weight: 5, Text: "Probeer het ritme weer op te pakken.", AudioText: "Probeer het ritme weer op te pakken"},
			},
			ThresholdPct: 15.0,
		},
		RedFast: FeedbackCategory{
			Messages: []FeedbackMessage{
				{Weight: 10, Text: "Je ademt niet correct.", AudioText: "Je ademhaling is niet onder controlle. probeer dit weer op te pakken."},
			},
		},
		RedSlow: FeedbackCategory{
			Messages: []FeedbackMessage{
				{Weight: 10, Text: "Je ademt niet correct.", AudioText: "Je ademhaling is niet onder controlle. probeer dit weer op te pakken."},
			},
		},
		Settings: FeedbackSettings{
			StabilityDuration: 3.0,
			RepeatInterval:    7.0,
			VisualInterval:    7.0,
		},
		Version: 1,
	}
}
