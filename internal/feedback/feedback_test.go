package feedback

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/serenalabs/breath-engine/internal/model"
)

type fakeRules struct {
	rules model.FeedbackRules
	err   error
	calls int
}

func (f *fakeRules) FeedbackRules(_ context.Context) (model.FeedbackRules, error) {
	f.calls++
	if f.err != nil {
		return model.FeedbackRules{}, f.err
	}
	return f.rules, nil
}

type clock struct {
	t time.Time
}

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestGenerator(src RulesSource) (*Generator, *clock) {
	g := NewGenerator(src, zerolog.Nop())
	c := &clock{t: time.UnixMilli(1_700_000_000_000)}
	g.now = func() time.Time { return c.t }
	g.rand = rand.New(rand.NewSource(1))
	return g, c
}

func TestEvaluateWaitsWithoutTargetOrEstimate(t *testing.T) {
	g, _ := newTestGenerator(&fakeRules{rules: model.DefaultFeedbackRules()})

	for _, tc := range []struct {
		name           string
		target, actual float64
	}{
		{"no_target", 0, 10},
		{"no_estimate", 10, 0},
		{"negative_estimate", 10, -1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got := g.Evaluate(context.Background(), "s1", tc.target, tc.actual)
			if got.Text != "Wachten..." || got.Color != "" || got.AudioText != "" {
				t.Errorf("got %+v, want waiting guidance", got)
			}
		})
	}
}

func TestEvaluateBluePhaseAfterTargetChange(t *testing.T) {
	g, c := newTestGenerator(&fakeRules{rules: model.DefaultFeedbackRules()})
	ctx := context.Background()

	// establish the target, then move inside the blue window
	g.Evaluate(ctx, "s1", 6, 6)
	c.advance(10 * time.Second)
	got := g.Evaluate(ctx, "s1", 6, 20)
	if got.Color != "accent" {
		t.Errorf("color = %q, want accent during the settle-in window", got.Color)
	}

	// past the window, a big gap is no longer blue
	c.advance(25 * time.Second)
	got = g.Evaluate(ctx, "s1", 6, 20)
	if got.Color == "accent" {
		t.Error("still accent after the settle-in window passed")
	}
}

func TestEvaluateCategorizesByDeviation(t *testing.T) {
	g, c := newTestGenerator(&fakeRules{rules: model.DefaultFeedbackRules()})
	ctx := context.Background()

	g.Evaluate(ctx, "s1", 10, 10)
	c.advance(31 * time.Second)

	cases := []struct {
		name      string
		actual    float64
		wantColor string
	}{
		{"within_5_pct", 10.4, "ok"},
		{"within_15_pct", 11.2, "warn"},
		{"too_fast", 13, "bad"},
		{"too_slow", 7, "bad"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// keep the debounce clock moving so each category stabilizes
			g.Evaluate(ctx, "s1", 10, tc.actual)
			c.advance(4 * time.Second)
			got := g.Evaluate(ctx, "s1", 10, tc.actual)
			if got.Color != tc.wantColor {
				t.Errorf("actual %.1f: color = %q, want %q", tc.actual, got.Color, tc.wantColor)
			}
			c.advance(10 * time.Second)
		})
	}
}

func TestEvaluateSpeaksOnlyAfterStability(t *testing.T) {
	g, c := newTestGenerator(&fakeRules{rules: model.DefaultFeedbackRules()})
	ctx := context.Background()

	g.Evaluate(ctx, "s1", 10, 10)
	c.advance(31 * time.Second)

	// first sighting of green arms the debounce but must not speak
	got := g.Evaluate(ctx, "s1", 10, 10)
	if got.AudioText != "" {
		t.Errorf("spoke immediately on category change: %+v", got)
	}

	c.advance(4 * time.Second)
	got = g.Evaluate(ctx, "s1", 10, 10)
	if got.AudioText == "" {
		t.Error("did not speak after the category held for the stability window")
	}

	// same category shortly after: visual only
	c.advance(2 * time.Second)
	got = g.Evaluate(ctx, "s1", 10, 10)
	if got.AudioText != "" {
		t.Errorf("spoke again within the repeat interval: %+v", got)
	}

	// after the repeat interval the same category may speak again
	c.advance(8 * time.Second)
	got = g.Evaluate(ctx, "s1", 10, 10)
	if got.AudioText == "" {
		t.Error("did not speak after the repeat interval elapsed")
	}
}

func TestEvaluateCategoryFlipRearmsDebounce(t *testing.T) {
	g, c := newTestGenerator(&fakeRules{rules: model.DefaultFeedbackRules()})
	ctx := context.Background()

	g.Evaluate(ctx, "s1", 10, 10)
	c.advance(31 * time.Second)

	g.Evaluate(ctx, "s1", 10, 10) // green pending
	c.advance(2 * time.Second)
	g.Evaluate(ctx, "s1", 10, 13) // flips to red before green stabilized
	c.advance(2 * time.Second)
	got := g.Evaluate(ctx, "s1", 10, 13)
	if got.AudioText != "" {
		t.Errorf("spoke before the flipped category stabilized: %+v", got)
	}
}

func TestEvaluateVisualRefreshWithoutAudio(t *testing.T) {
	g, c := newTestGenerator(&fakeRules{rules: model.DefaultFeedbackRules()})
	ctx := context.Background()

	g.Evaluate(ctx, "s1", 10, 10)
	c.advance(31 * time.Second)
	c.advance(4 * time.Second)
	g.Evaluate(ctx, "s1", 10, 10) // refreshes the visual timestamp

	c.advance(8 * time.Second)
	got := g.Evaluate(ctx, "s1", 10, 10)
	if got.Text == "" || got.Color == "" {
		t.Errorf("visual refresh missing: %+v", got)
	}
}

func TestEvaluateRulesCaching(t *testing.T) {
	src := &fakeRules{rules: model.DefaultFeedbackRules()}
	g, c := newTestGenerator(src)
	ctx := context.Background()

	g.Evaluate(ctx, "s1", 10, 10)
	g.Evaluate(ctx, "s1", 10, 10)
	g.Evaluate(ctx, "s1", 10, 10)
	if src.calls != 1 {
		t.Errorf("source consulted %d times within the TTL, want 1", src.calls)
	}

	c.advance(61 * time.Second)
	g.Evaluate(ctx, "s1", 10, 10)
	if src.calls != 2 {
		t.Errorf("source consulted %d times after the TTL, want 2", src.calls)
	}
}

func TestEvaluateSurvivesRulesLoadFailure(t *testing.T) {
	src := &fakeRules{err: errors.New("store down")}
	g, c := newTestGenerator(src)
	ctx := context.Background()

	g.Evaluate(ctx, "s1", 10, 10)
	c.advance(31 * time.Second)
	c.advance(4 * time.Second)
	got := g.Evaluate(ctx, "s1", 10, 10)
	if got.Text == "" {
		t.Errorf("no guidance despite built-in default rules: %+v", got)
	}
}

func TestReset(t *testing.T) {
	g, c := newTestGenerator(&fakeRules{rules: model.DefaultFeedbackRules()})
	ctx := context.Background()

	g.Evaluate(ctx, "s1", 10, 10)
	c.advance(40 * time.Second)
	g.Evaluate(ctx, "s1", 10, 10)

	g.Reset("s1")

	// after a reset the session starts over in the settle-in window
	got := g.Evaluate(ctx, "s1", 10, 20)
	if got.Color != "accent" {
		t.Errorf("color = %q after reset, want accent", got.Color)
	}
}

func TestPickMessageConvergesToWeights(t *testing.T) {
	g, _ := newTestGenerator(&fakeRules{rules: model.DefaultFeedbackRules()})

	rules := model.FeedbackRules{
		Green: model.FeedbackCategory{Messages: []model.FeedbackMessage{
			{Weight: 1, Text: "Rustig zo."},
			{Weight: 3, Text: "Goed bezig."},
			{Weight: 6, Text: "Perfect ritme!"},
		}},
	}

	const draws = 10000
	counts := make(map[string]int)
	for i := 0; i < draws; i++ {
		counts[g.pickMessage(rules, model.CategoryGreen).Text]++
	}

	want := map[string]float64{
		"Rustig zo.":     0.1,
		"Goed bezig.":    0.3,
		"Perfect ritme!": 0.6,
	}
	for text, share := range want {
		got := float64(counts[text]) / draws
		if abs(got-share) > 0.03 {
			t.Errorf("%q drawn %.3f of the time, want about %.1f", text, got, share)
		}
	}
}

func TestPickMessageEmptyCategoryFallsBack(t *testing.T) {
	g, _ := newTestGenerator(&fakeRules{rules: model.DefaultFeedbackRules()})

	msg := g.pickMessage(model.FeedbackRules{}, model.CategoryGreen)
	if msg.Text != "Wachten..." {
		t.Errorf("text = %q, want the waiting fallback", msg.Text)
	}
}
