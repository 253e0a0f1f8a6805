// Package feedback turns the gap between target and actual respiratory
// rate into coaching messages, with per-session debouncing so spoken
// audio is not fired on every beat.
package feedback

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/serenalabs/breath-engine/internal/model"
)

// waitingText is shown until a session has both a target and a usable
// estimate.
const waitingText = "Wachten..."

// Default thresholds, used when the stored rules leave them zero.
const (
	defaultBlueSec   = 30.0
	defaultGreenPct  = 5.0
	defaultOrangePct = 15.0
)

// rulesTTL bounds how long a loaded rules document is reused before the
// store is consulted again.
const rulesTTL = 60 * time.Second

// RulesSource loads the current feedback rules document.
type RulesSource interface {
	FeedbackRules(ctx context.Context) (model.FeedbackRules, error)
}

// Guidance is one evaluated coaching step. AudioText is empty unless
// this step should be spoken aloud.
type Guidance struct {
	Text      string
	Color     string
	AudioText string
}

// sessionState carries the debounce bookkeeping for one session.
type sessionState struct {
	lastTargetRR      float64
	targetChangedAt   time.Time
	lastSpokenCat     string
	pendingCat        string
	pendingSince      time.Time
	lastVisualAt      time.Time
	lastSpokenAt      time.Time
	cachedText        string
	cachedColor       string
}

// Generator evaluates guidance per session. Safe for concurrent use.
type Generator struct {
	source RulesSource
	log    zerolog.Logger

	now  func() time.Time
	rand *rand.Rand

	mu       sync.Mutex
	sessions map[string]*sessionState

	rules     model.FeedbackRules
	rulesAt   time.Time
	rulesOnce bool
}

// NewGenerator returns a Generator backed by the given rules source.
func NewGenerator(source RulesSource, log zerolog.Logger) *Generator {
	return &Generator{
		source:   source,
		log:      log.With().Str("component", "feedback").Logger(),
		now:      time.Now,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
		sessions: make(map[string]*sessionState),
	}
}

// Evaluate produces the guidance for one beat of a session. targetRR is
// the session's configured breaths per minute, actualRR the current
// smoothed estimate.
func (g *Generator) Evaluate(ctx context.Context, sessionID string, targetRR, actualRR float64) Guidance {
	if targetRR <= 0 || actualRR <= 0 {
		return Guidance{Text: waitingText}
	}

	rules := g.currentRules(ctx)

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	st := g.sessions[sessionID]
	if st == nil {
		st = &sessionState{cachedText: waitingText}
		g.sessions[sessionID] = st
	}
	if st.lastTargetRR != targetRR {
		st.lastTargetRR = targetRR
		st.targetChangedAt = now
		st.pendingCat = ""
		st.lastSpokenCat = ""
	}

	category, color := categorize(rules, targetRR, actualRR, now.Sub(st.targetChangedAt).Seconds())

	if category != st.pendingCat {
		st.pendingCat = category
		st.pendingSince = now
	}
	stable := now.Sub(st.pendingSince).Seconds() >= settingOr(rules.Settings.StabilityDuration, 3)

	repeatEvery := settingOr(rules.Settings.RepeatInterval, 7)
	visualEvery := settingOr(rules.Settings.VisualInterval, 7)

	switch {
	case stable && (st.pendingCat != st.lastSpokenCat || now.Sub(st.lastSpokenAt).Seconds() > repeatEvery):
		msg := g.pickMessage(rules, st.pendingCat)
		audio := msg.AudioText
		if audio == "" {
			audio = msg.Text
		}
		st.lastSpokenAt = now
		st.lastSpokenCat = st.pendingCat
		st.lastVisualAt = now
		st.cachedText = msg.Text
		st.cachedColor = color
		return Guidance{Text: msg.Text, Color: color, AudioText: audio}

	case now.Sub(st.lastVisualAt).Seconds() > visualEvery:
		msg := g.pickMessage(rules, category)
		st.lastVisualAt = now
		st.cachedText = msg.Text
		st.cachedColor = color
		return Guidance{Text: msg.Text, Color: color}

	default:
		return Guidance{Text: st.cachedText, Color: st.cachedColor}
	}
}

// Reset drops the debounce state of a session, typically on session
// end.
func (g *Generator) Reset(sessionID string) {
	g.mu.Lock()
	delete(g.sessions, sessionID)
	g.mu.Unlock()
}

// categorize maps the target/actual gap onto a guidance category and
// its display color. The first seconds after a target change are
// always blue so the user can settle into the new rhythm.
func categorize(rules model.FeedbackRules, targetRR, actualRR, elapsedSec float64) (string, string) {
	blueSec := rules.Blue.ThresholdSec
	if blueSec <= 0 {
		blueSec = defaultBlueSec
	}
	if elapsedSec < blueSec {
		return model.CategoryBlue, "accent"
	}

	greenPct := rules.Green.ThresholdPct
	if greenPct <= 0 {
		greenPct = defaultGreenPct
	}
	orangePct := rules.Orange.ThresholdPct
	if orangePct <= 0 {
		orangePct = defaultOrangePct
	}

	diff := actualRR - targetRR
	pct := 100 * abs(diff) / targetRR
	switch {
	case pct <= greenPct:
		return model.CategoryGreen, "ok"
	case pct <= orangePct:
		return model.CategoryOrange, "warn"
	case diff > 0:
		return model.CategoryRedFast, "bad"
	default:
		return model.CategoryRedSlow, "bad"
	}
}

// pickMessage draws a weighted-random message from the named category,
// falling back to the waiting text when the category is empty.
func (g *Generator) pickMessage(rules model.FeedbackRules, category string) model.FeedbackMessage {
	cat := rules.Category(category)
	if cat == nil || len(cat.Messages) == 0 {
		return model.FeedbackMessage{Text: waitingText}
	}
	total := 0
	for _, m := range cat.Messages {
		total += weightOf(m)
	}
	pick := g.rand.Intn(total)
	for _, m := range cat.Messages {
		pick -= weightOf(m)
		if pick < 0 {
			return m
		}
	}
	return cat.Messages[len(cat.Messages)-1]
}

func weightOf(m model.FeedbackMessage) int {
	if m.Weight < 1 {
		return 1
	}
	return m.Weight
}

// currentRules returns the cached rules document, refreshing it from
// the source once the TTL has passed. Load failures keep the previous
// document (or the built-in defaults).
func (g *Generator) currentRules(ctx context.Context) model.FeedbackRules {
	g.mu.Lock()
	now := g.now()
	if g.rulesOnce && now.Sub(g.rulesAt) < rulesTTL {
		rules := g.rules
		g.mu.Unlock()
		return rules
	}
	g.mu.Unlock()

	rules, err := g.source.FeedbackRules(ctx)
	g.mu.Lock()
	defer g.mu.Unlock()
	if err != nil {
		g.log.Warn().Err(err).Msg("feedback rules load failed, using previous rules")
		if !g.rulesOnce {
			g.rules = model.DefaultFeedbackRules()
			g.rulesOnce = true
		}
		g.rulesAt = now
		return g.rules
	}
	g.rules = rules
	g.rulesAt = now
	g.rulesOnce = true
	return g.rules
}

func settingOr(v, fallback float64) float64 {
	if v <= 0 {
		return fallback
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
