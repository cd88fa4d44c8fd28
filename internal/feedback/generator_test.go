package feedback_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/voxmetra/voxmetra/internal/config"
	"github.com/voxmetra/voxmetra/internal/feedback"
	"github.com/voxmetra/voxmetra/pkg/types"
)

type stubPhraser struct {
	out    []string
	err    error
	called bool
}

func (s *stubPhraser) Phrase(_ context.Context, _ types.SpeechMetrics, _ []feedback.Tip) ([]string, error) {
	s.called = true
	return s.out, s.err
}

func badMetrics() types.SpeechMetrics {
	return types.SpeechMetrics{
		WordCount:      100,
		WordsPerMinute: ptr(210.0),
		FillerWords:    types.FillerWordStats{Count: 20, Percentage: 20},
		ClarityScore:   40,
	}
}

func TestGenerate_WithoutPhraserReturnsRuleTips(t *testing.T) {
	t.Parallel()

	g := feedback.NewGenerator(config.Default(), nil)
	got := g.Generate(context.Background(), badMetrics(), feedback.QualitySummary{})

	if len(got) == 0 {
		t.Fatal("no feedback for a session with obvious problems")
	}
	if !strings.Contains(got[0], "%") && !strings.Contains(got[0], "minute") {
		t.Errorf("first message lost its concrete numbers: %q", got[0])
	}
}

func TestGenerate_PhraserReplacesTips(t *testing.T) {
	t.Parallel()

	phraser := &stubPhraser{out: []string{"Nice work today.", "Watch the fillers."}}
	g := feedback.NewGenerator(config.Default(), phraser)

	got := g.Generate(context.Background(), badMetrics(), feedback.QualitySummary{})
	if !phraser.called {
		t.Fatal("phraser never called")
	}
	if len(got) != 2 || got[0] != "Nice work today." {
		t.Errorf("feedback = %v, want the phrased sentences", got)
	}
}

func TestGenerate_PhraserFailureFallsBack(t *testing.T) {
	t.Parallel()

	phraser := &stubPhraser{err: errors.New("model unavailable")}
	g := feedback.NewGenerator(config.Default(), phraser)

	got := g.Generate(context.Background(), badMetrics(), feedback.QualitySummary{})
	if len(got) == 0 {
		t.Fatal("phrasing failure must degrade to rule tips, not drop feedback")
	}
}

func TestGenerate_CleanSessionSkipsPhraser(t *testing.T) {
	t.Parallel()

	phraser := &stubPhraser{out: []string{"should not appear"}}
	g := feedback.NewGenerator(config.Default(), phraser)

	got := g.Generate(context.Background(), cleanMetrics(), feedback.QualitySummary{})
	if len(got) != 0 {
		t.Errorf("feedback = %v, want none", got)
	}
	if phraser.called {
		t.Error("phraser called with no tips to phrase")
	}
}
